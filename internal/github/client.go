package gh

import (
	"context"
	"errors"
	"time"
)

// PullRequest is the subset of pull request metadata needed to retarget it.
type PullRequest struct {
	Number int
	URL    string
	Title  string
	Head   string
	Base   string
}

// Client exposes the GitHub operations used after a successful rebase.
type Client interface {
	FindOpenPullRequest(ctx context.Context, owner, repo, head string) (PullRequest, error)
	UpdatePullRequestBase(ctx context.Context, owner, repo string, number int, base string) error
	CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error
	EnsureBranchExists(ctx context.Context, owner, repo, branch string) error
}

// Factory builds a Client for a token.
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

// ErrBranchNotFound indicates the requested branch does not exist on GitHub.
var ErrBranchNotFound = errors.New("github: branch not found")

// ErrPullRequestNotFound indicates no open pull request has the requested head.
var ErrPullRequestNotFound = errors.New("github: no open pull request for branch")

// retryableError wraps a failure that may clear up on its own. wait is the
// delay GitHub asked for, zero when it named none.
type retryableError struct {
	err  error
	wait time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// IsRetryable reports whether err came from a rate limit, a server error or a
// network timeout.
func IsRetryable(err error) bool {
	var target *retryableError
	return errors.As(err, &target)
}
