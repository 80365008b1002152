package branches

import (
	"fmt"
	"strings"
)

// DefaultRemote is the remote assumed when none is configured.
const DefaultRemote = "origin"

// ValidationError reports a branch name that is unsafe to hand to git.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid branch name %q: %s", e.Input, e.Reason)
}

// ValidateName checks name against the rules a branch must satisfy before it is
// interpolated into a git invocation. A remote prefix is checked like any other
// path component.
func ValidateName(name string) error {
	if reason := invalidReason(name); reason != "" {
		return &ValidationError{Input: name, Reason: reason}
	}
	return nil
}

// IsValidName reports whether ValidateName accepts name.
func IsValidName(name string) bool {
	return ValidateName(name) == nil
}

func invalidReason(branch string) string {
	if branch == "" {
		return "branch cannot be empty"
	}

	for i := 0; i < len(branch); i++ {
		if !allowedByte(branch[i]) {
			return fmt.Sprintf("character %q is not allowed", branch[i])
		}
	}

	switch {
	case strings.Contains(branch, ".."):
		return "branch cannot contain '..'"
	case strings.HasPrefix(branch, "/"), strings.HasSuffix(branch, "/"):
		return "branch cannot start or end with '/'"
	case strings.Contains(branch, "//"):
		return "branch cannot contain '//'"
	case strings.HasSuffix(branch, "."):
		return "branch cannot end with '.'"
	}

	for _, component := range strings.Split(branch, "/") {
		if strings.HasPrefix(component, ".") {
			return fmt.Sprintf("component %q cannot start with '.'", component)
		}
		if strings.HasSuffix(component, ".lock") {
			return fmt.Sprintf("component %q cannot end with '.lock'", component)
		}
	}

	return ""
}

func allowedByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '-', b == '.', b == '_', b == '/':
		return true
	default:
		return false
	}
}

// StripRemotePrefix removes a leading "<remote>/" from name. An empty remote
// means DefaultRemote.
func StripRemotePrefix(name, remote string) string {
	return strings.TrimPrefix(name, remoteOrDefault(remote)+"/")
}

func remoteOrDefault(remote string) string {
	if remote = strings.TrimSpace(remote); remote == "" {
		return DefaultRemote
	}
	return remote
}

// NormalizeBranch trims whitespace, removes leading/trailing slashes, and strips
// refs/heads prefixes from a branch name. It returns an empty string when the
// normalized branch would otherwise be empty.
func NormalizeBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	if len(branch) >= len("refs/heads/") && strings.EqualFold(branch[:len("refs/heads/")], "refs/heads/") {
		branch = branch[len("refs/heads/"):]
	}

	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	return strings.TrimSpace(branch)
}

// Filter returns the branches matching every whitespace-separated term of query,
// case-insensitively, preserving input order. An empty query matches everything.
func Filter(names []string, query string) []string {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return names
	}

	matched := make([]string, 0, len(names))
	for _, name := range names {
		if MatchesAll(name, terms) {
			matched = append(matched, name)
		}
	}
	return matched
}

// MatchesAll reports whether name contains every one of the lower-cased terms.
func MatchesAll(name string, terms []string) bool {
	lower := strings.ToLower(name)
	for _, term := range terms {
		if !strings.Contains(lower, term) {
			return false
		}
	}
	return true
}

// Without returns names with every occurrence of exclude removed.
func Without(names []string, exclude string) []string {
	result := make([]string, 0, len(names))
	for _, name := range names {
		if name == exclude {
			continue
		}
		result = append(result, name)
	}
	return result
}
