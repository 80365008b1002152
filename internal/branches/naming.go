package branches

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"
)

var disallowedBranchChars = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)

// NamingOptions controls how scratch branches and backup tags are named.
type NamingOptions struct {
	Prefix            string
	MaxLength         int
	HashLength        int
	SanitizeEmptyWith string
}

var defaultNaming = NamingOptions{
	Prefix:            "auto-rebase",
	MaxLength:         100,
	HashLength:        8,
	SanitizeEmptyWith: "branch",
}

func namingConfig(opts []NamingOptions) NamingOptions {
	config := defaultNaming
	if len(opts) > 0 {
		o := opts[0]
		if o.Prefix != "" {
			config.Prefix = o.Prefix
		}
		if o.MaxLength > 0 {
			config.MaxLength = o.MaxLength
		}
		if o.HashLength > 0 {
			config.HashLength = o.HashLength
		}
		if o.SanitizeEmptyWith != "" {
			config.SanitizeEmptyWith = o.SanitizeEmptyWith
		}
	}
	return config
}

// ScratchBranchName returns the name of the temporary integration branch for a
// session, e.g. temp-rebase-4242-1a2b3c4d. The suffix keeps two sessions started
// by the same pid apart.
func ScratchBranchName(pid int, suffix string) string {
	name := fmt.Sprintf("temp-rebase-%d", pid)
	suffix = strings.ToLower(disallowedBranchChars.ReplaceAllString(strings.TrimSpace(suffix), ""))
	suffix = strings.Trim(strings.ReplaceAll(suffix, "/", ""), "-.")
	if suffix == "" {
		return name
	}
	return name + "-" + suffix
}

// BackupRefName computes the tag name used to back up branch before it is reset:
// <prefix>-backup-<branch with / replaced by ->-<unix millis>. Very long branch
// names are shortened with a hash so the result stays within MaxLength.
func BackupRefName(branch string, at time.Time, opts ...NamingOptions) string {
	config := namingConfig(opts)
	head := config.Prefix + "-backup-"
	stamp := fmt.Sprintf("-%d", at.UnixMilli())
	segment := sanitizeBranchSegment(branch, config)

	limit := max(config.MaxLength-len(head)-len(stamp), 1)
	return head + shortenSegment(segment, limit, config) + stamp
}

// sanitizeBranchSegment flattens branch into one dash-separated path segment.
func sanitizeBranchSegment(branch string, config NamingOptions) string {
	words := strings.FieldsFunc(branch, func(r rune) bool {
		return !(r == '.' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	segment := strings.Join(words, "-")
	for strings.Contains(segment, "..") {
		segment = strings.ReplaceAll(segment, "..", ".")
	}
	if segment = strings.Trim(segment, "-."); segment == "" {
		return config.SanitizeEmptyWith
	}
	return segment
}

// shortenSegment keeps segment within limit, replacing its tail with an fnv
// digest of the whole segment when it does not fit.
func shortenSegment(segment string, limit int, config NamingOptions) string {
	if len(segment) <= limit {
		return segment
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(segment))
	digest := fmt.Sprintf("%0*x", config.HashLength, h.Sum32())
	if len(digest)+1 >= limit {
		return digest[:min(len(digest), limit)]
	}

	keep := strings.TrimRight(segment[:limit-len(digest)-1], "-.")
	if keep == "" {
		return digest
	}
	return keep + "-" + digest
}
