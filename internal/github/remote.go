package gh

import (
	"fmt"
	"net/url"
	"strings"
)

// Repo identifies a repository on a GitHub host.
type Repo struct {
	Host  string
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoFromRemote extracts host, owner and repository name from a git remote
// URL. Both scp-like ssh (git@host:owner/repo.git) and URL forms (https://,
// ssh://, git://) are accepted.
func ParseRepoFromRemote(remote string) (Repo, error) {
	raw := strings.TrimSpace(remote)
	if raw == "" {
		return Repo{}, fmt.Errorf("remote url is empty")
	}

	var host, path string
	if !strings.Contains(raw, "://") {
		at := strings.Index(raw, "@")
		colon := strings.Index(raw, ":")
		if colon < 0 || colon < at {
			return Repo{}, fmt.Errorf("unsupported remote url %q", remote)
		}
		host = raw[at+1 : colon]
		path = raw[colon+1:]
	} else {
		parsed, err := url.Parse(raw)
		if err != nil {
			return Repo{}, fmt.Errorf("parse remote url %q: %w", remote, err)
		}
		host = parsed.Hostname()
		path = parsed.Path
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if host == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("remote url %q does not name an owner/repo", remote)
	}

	return Repo{Host: host, Owner: parts[0], Name: parts[1]}, nil
}
