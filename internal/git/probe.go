package git

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrDetachedHead is returned when HEAD does not point at a branch.
var ErrDetachedHead = errors.New("HEAD is not on a branch")

func (r *ShellRepository) open() (*gogit.Repository, error) {
	if r.store != nil {
		return r.store, nil
	}
	store, err := gogit.PlainOpenWithOptions(r.Dir, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", r.Dir, err)
	}
	r.store = store
	return store, nil
}

func (r *ShellRepository) CurrentBranch(ctx context.Context) (string, error) {
	store, err := r.open()
	if err != nil {
		return "", err
	}

	head, err := store.Head()
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Name().Short(), nil
}

func (r *ShellRepository) RefExists(ctx context.Context, kind RefKind, name string) (bool, error) {
	store, err := r.open()
	if err != nil {
		return false, err
	}

	var refName plumbing.ReferenceName
	switch kind {
	case RefRemote:
		refName = plumbing.NewRemoteReferenceName(r.remoteName(), name)
	case RefTag:
		refName = plumbing.NewTagReferenceName(name)
	default:
		refName = plumbing.NewBranchReferenceName(name)
	}

	_, err = store.Reference(refName, false)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", refName, err)
	}
	return true, nil
}

// MergeBase returns the best common ancestor of a and b. Histories go-git cannot
// walk (shallow clones, grafts) fall back to git merge-base.
func (r *ShellRepository) MergeBase(ctx context.Context, a, b string) (string, error) {
	if base, err := r.mergeBaseNative(a, b); err == nil {
		return base, nil
	}

	out, err := r.output(ctx, "merge-base", a, b)
	if err != nil {
		return "", fmt.Errorf("git merge-base %s %s: %w", a, b, err)
	}
	return strings.TrimSpace(out), nil
}

func (r *ShellRepository) mergeBaseNative(a, b string) (string, error) {
	store, err := r.open()
	if err != nil {
		return "", err
	}

	first, err := resolveCommit(store, a)
	if err != nil {
		return "", err
	}
	second, err := resolveCommit(store, b)
	if err != nil {
		return "", err
	}

	bases, err := first.MergeBase(second)
	if err != nil {
		return "", err
	}
	if len(bases) == 0 {
		return "", fmt.Errorf("no merge base between %s and %s", a, b)
	}
	return bases[0].Hash.String(), nil
}

func resolveCommit(store *gogit.Repository, rev string) (*object.Commit, error) {
	hash, err := store.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rev, err)
	}
	return store.CommitObject(*hash)
}

// ListBranches returns short branch names sorted alphabetically. Remote names
// keep their remote prefix (origin/main); symbolic refs such as origin/HEAD are
// left out.
func (r *ShellRepository) ListBranches(ctx context.Context, kind RefKind) ([]string, error) {
	store, err := r.open()
	if err != nil {
		return nil, err
	}

	refs, err := store.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer refs.Close()

	var names []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		switch {
		case kind == RefLocal && ref.Name().IsBranch():
			names = append(names, ref.Name().Short())
		case kind == RefRemote && ref.Name().IsRemote():
			if strings.HasSuffix(ref.Name().String(), "/HEAD") {
				return nil
			}
			names = append(names, ref.Name().Short())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}

	slices.Sort(names)
	return slices.Compact(names), nil
}

func (r *ShellRepository) RemoteURL(ctx context.Context) (string, error) {
	store, err := r.open()
	if err != nil {
		return "", err
	}

	remote, err := store.Remote(r.remoteName())
	if err != nil {
		return "", fmt.Errorf("remote %s: %w", r.remoteName(), err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %s has no url", r.remoteName())
	}
	return urls[0], nil
}
