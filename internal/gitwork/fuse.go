package gitwork

import (
	"context"
	"fmt"
)

// Merge merges targetBranch into sourceBranch and returns the new HEAD.
// If sourceRepoURL is set, sourceBranch is taken from that fork instead of
// this repo's origin.
func (r *Repo) Merge(ctx context.Context, sourceBranch, targetBranch string, local bool, sourceRepoURL string, mergeArgs ...string) (string, error) {
	return r.fuseBranch(ctx, "merge", sourceBranch, targetBranch, local, sourceRepoURL, mergeArgs...)
}

// FastForward is Merge with --ff --ff-only.
func (r *Repo) FastForward(ctx context.Context, source, target string, local bool, sourceRepoURL string) (string, error) {
	return r.Merge(ctx, source, target, local, sourceRepoURL, "--ff", "--ff-only")
}

// Rebase rebases newBase into branch and returns the new HEAD.
func (r *Repo) Rebase(ctx context.Context, branch, newBase string, local bool, sourceRepoURL string) (string, error) {
	return r.fuseBranch(ctx, "rebase", branch, newBase, local, sourceRepoURL)
}

// fuseBranch is the shared discipline behind Merge/Rebase: when not local,
// fetch origin (and the cross-fork source remote, if any), check branch out
// against its freshly-fetched remote tip, then run strategy against the
// freshly-fetched target tip. On failure it runs "{strategy} --abort"
// before propagating the error.
func (r *Repo) fuseBranch(ctx context.Context, strategy, branch, targetBranch string, local bool, sourceRepoURL string, extraArgs ...string) (string, error) {
	if sourceRepoURL == "" && branch == targetBranch {
		return "", fmt.Errorf("fuseBranch: branch and target must differ without a cross-fork source")
	}

	target := targetBranch
	if !local {
		if err := r.Fetch(ctx, "origin", ""); err != nil {
			return "", err
		}
		target = "origin/" + targetBranch
		if sourceRepoURL != "" {
			if err := r.Fetch(ctx, "source", sourceRepoURL); err != nil {
				return "", err
			}
			if err := r.CheckoutBranch(ctx, branch, "source/"+branch); err != nil {
				return "", err
			}
		} else {
			if err := r.CheckoutBranch(ctx, branch, "origin/"+branch); err != nil {
				return "", err
			}
		}
	} else {
		if err := r.CheckoutBranch(ctx, branch, ""); err != nil {
			return "", err
		}
	}

	args := append([]string{strategy, target}, extraArgs...)
	if _, err := r.git(ctx, args...); err != nil {
		_, _ = r.git(ctx, strategy, "--abort")
		return "", err
	}
	return r.GetCommitHash(ctx, "")
}
