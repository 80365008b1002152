package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const userAgent = "rancher-auto-rebase"

// retryPolicy bounds how often a transient API failure is retried.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
	// maxWait caps a server-requested Retry-After.
	maxWait time.Duration
}

var defaultRetry = retryPolicy{attempts: 3, backoff: 500 * time.Millisecond, maxWait: 10 * time.Second}

// NewRESTFactory returns a Factory backed by the go-github REST client. Setting
// baseURL targets GitHub Enterprise, which then also requires uploadURL.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return newRESTFactory(baseURL, uploadURL, defaultRetry)
}

func newRESTFactory(baseURL, uploadURL string, retry retryPolicy) *restFactory {
	return &restFactory{
		baseURL:   strings.TrimSpace(baseURL),
		uploadURL: strings.TrimSpace(uploadURL),
		retry:     retry,
	}
}

type restFactory struct {
	baseURL   string
	uploadURL string
	retry     retryPolicy
}

func (f *restFactory) New(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	base, upload, err := f.enterpriseURLs()
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client := github.NewClient(httpClient)
	if base != "" {
		if client, err = client.WithEnterpriseURLs(base, upload); err != nil {
			return nil, fmt.Errorf("construct enterprise github client: %w", err)
		}
	}
	client.UserAgent = userAgent

	return &restClient{api: client, retry: f.retry}, nil
}

// enterpriseURLs validates the configured pair. Both are empty for github.com.
func (f *restFactory) enterpriseURLs() (string, string, error) {
	switch {
	case f.baseURL == "" && f.uploadURL == "":
		return "", "", nil
	case f.baseURL == "":
		return "", "", fmt.Errorf("github upload url cannot be set without base url")
	case f.uploadURL == "":
		return "", "", fmt.Errorf("github upload url must be provided when base url is set")
	}

	base, err := apiRoot(f.baseURL)
	if err != nil {
		return "", "", fmt.Errorf("parse github base url: %w", err)
	}
	upload, err := apiRoot(f.uploadURL)
	if err != nil {
		return "", "", fmt.Errorf("parse github upload url: %w", err)
	}
	return base, upload, nil
}

// apiRoot returns raw as an absolute URL with a trailing slash and no query.
func apiRoot(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute url", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery, u.Fragment = "", ""
	return u.String(), nil
}

type restClient struct {
	api   *github.Client
	retry retryPolicy
}

// call runs fn until it succeeds, fails permanently or runs out of attempts.
// The returned error is classified.
func (c *restClient) call(ctx context.Context, fn func() (*github.Response, error)) (*github.Response, error) {
	attempts := max(c.retry.attempts, 1)
	wait := c.retry.backoff

	for attempt := 1; ; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		err = classifyGitHubError(err)
		if !IsRetryable(err) || attempt == attempts {
			return resp, err
		}

		delay := wait
		if after := retryAfter(err); after > 0 {
			delay = min(after, c.retry.maxWait)
		}
		select {
		case <-ctx.Done():
			return resp, errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		wait *= 2
	}
}

// FindOpenPullRequest returns the first open pull request whose head is
// owner:head.
func (c *restClient) FindOpenPullRequest(ctx context.Context, owner, repo, head string) (PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		Head:        owner + ":" + head,
		ListOptions: github.ListOptions{PerPage: 50},
	}

	var prs []*github.PullRequest
	_, err := c.call(ctx, func() (resp *github.Response, err error) {
		prs, resp, err = c.api.PullRequests.List(ctx, owner, repo, opts)
		return resp, err
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("list pull requests: %w", err)
	}

	for _, pr := range prs {
		if pr != nil {
			return pullRequestFrom(pr), nil
		}
	}
	return PullRequest{}, ErrPullRequestNotFound
}

func pullRequestFrom(pr *github.PullRequest) PullRequest {
	return PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Title:  pr.GetTitle(),
		Head:   pr.GetHead().GetRef(),
		Base:   pr.GetBase().GetRef(),
	}
}

func (c *restClient) UpdatePullRequestBase(ctx context.Context, owner, repo string, number int, base string) error {
	update := &github.PullRequest{Base: &github.PullRequestBranch{Ref: github.String(base)}}
	_, err := c.call(ctx, func() (*github.Response, error) {
		_, resp, err := c.api.PullRequests.Edit(ctx, owner, repo, number, update)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("update base of pull request #%d: %w", number, err)
	}
	return nil
}

func (c *restClient) EnsureBranchExists(ctx context.Context, owner, repo, branch string) error {
	resp, err := c.call(ctx, func() (*github.Response, error) {
		_, resp, err := c.api.Repositories.GetBranch(ctx, owner, repo, branch, false)
		return resp, err
	})
	if err != nil {
		if isNotFound(resp, err) {
			return ErrBranchNotFound
		}
		return fmt.Errorf("get branch %s: %w", branch, err)
	}
	return nil
}

func (c *restClient) CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error {
	comment := &github.IssueComment{Body: github.String(body)}
	_, err := c.call(ctx, func() (*github.Response, error) {
		_, resp, err := c.api.Issues.CreateComment(ctx, owner, repo, number, comment)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("comment on pull request #%d: %w", number, err)
	}
	return nil
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var respErr *github.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound
}

func classifyGitHubError(err error) error {
	if err == nil || IsRetryable(err) || !transient(err) {
		return err
	}
	wrapped := &retryableError{err: err}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.RetryAfter != nil {
		wrapped.wait = *abuse.RetryAfter
	}
	return wrapped
}

// transient reports whether err is worth retrying: rate limits, 5xx and 429
// responses, accepted-but-pending jobs and network timeouts.
func transient(err error) bool {
	var (
		rateLimit *github.RateLimitError
		abuse     *github.AbuseRateLimitError
		accepted  *github.AcceptedError
		respErr   *github.ErrorResponse
		netErr    net.Error
	)
	switch {
	case errors.As(err, &rateLimit), errors.As(err, &abuse), errors.As(err, &accepted):
		return true
	case errors.As(err, &respErr) && respErr.Response != nil:
		code := respErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500 && code <= 599
	case errors.As(err, &netErr):
		return netErr.Timeout()
	}
	return false
}

// retryAfter returns the wait recorded on a classified error.
func retryAfter(err error) time.Duration {
	var target *retryableError
	if errors.As(err, &target) {
		return target.wait
	}
	return 0
}
