package branches

import (
	"context"
	"errors"
	"fmt"

	"github.com/rancher/auto-rebase/internal/git"
)

// NotFoundError reports a branch that exists neither locally nor on the remote.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("target branch '%s' does not exist", e.Name)
}

// Ref is a validated branch name together with where it resolved. Remote is
// set only for remote-tracking branches.
type Ref struct {
	Name   string
	Kind   git.RefKind
	Remote string
}

// Rev returns the revision string to hand to git.
func (r Ref) Rev() string {
	if r.Kind == git.RefRemote {
		return remoteOrDefault(r.Remote) + "/" + r.Name
	}
	return r.Name
}

func (r Ref) String() string {
	return r.Rev()
}

// RefProber answers whether a ref exists.
type RefProber interface {
	RefExists(ctx context.Context, kind git.RefKind, name string) (bool, error)
}

// Resolver decides whether a branch name refers to the remote-tracking branch or
// the local one, preferring the remote. Answers are memoized, so a session sees a
// single consistent resolution per name.
type Resolver struct {
	prober RefProber
	remote string
	cache  map[string]Ref
}

// NewResolver returns a Resolver backed by prober. Remote-tracking branches are
// looked up under remote, which defaults to DefaultRemote. It must be the
// remote the prober checks.
func NewResolver(prober RefProber, remote string) *Resolver {
	return &Resolver{prober: prober, remote: remoteOrDefault(remote), cache: make(map[string]Ref)}
}

// Resolve validates name and returns the ref it resolves to.
func (r *Resolver) Resolve(ctx context.Context, name string) (Ref, error) {
	if err := ValidateName(name); err != nil {
		return Ref{}, err
	}

	branch := StripRemotePrefix(name, r.remote)
	if ref, ok := r.cache[branch]; ok {
		return ref, nil
	}

	for _, kind := range []git.RefKind{git.RefRemote, git.RefLocal} {
		exists, err := r.prober.RefExists(ctx, kind, branch)
		if err != nil {
			return Ref{}, fmt.Errorf("probe %s branch %s: %w", kind, branch, err)
		}
		if exists {
			ref := Ref{Name: branch, Kind: kind}
			if kind == git.RefRemote {
				ref.Remote = r.remote
			}
			r.cache[branch] = ref
			return ref, nil
		}
	}

	return Ref{}, &NotFoundError{Name: name}
}

// Exists reports whether name resolves to any branch.
func (r *Resolver) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.Resolve(ctx, name)
	if err == nil {
		return true, nil
	}
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}
