// Package gitwork implements the semantic Git operations the merge job
// drives: clone, fetch, checkout, the rebase/merge/fast-forward fuse
// strategies, trailer rewriting, and push-safety checks — each as a
// subprocess invocation under a configurable timeout with SSH-identity
// discipline.
package gitwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Repo is a local clone of a remote_url at local_path.
type Repo struct {
	RemoteURL   string
	LocalPath   string
	SSHKeyFile  string        // empty disables SSH-identity discipline
	Timeout     time.Duration // per-invocation wall-clock budget; 0 means none
	Reference   string        // optional --reference repo for object sharing
}

// GitError wraps a failed git invocation.
type GitError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %v: %v\nstdout: %s\nstderr: %s", e.Args, e.Err, e.Stdout, e.Stderr)
}

func (e *GitError) Unwrap() error { return e.Err }

// Clone clones RemoteURL into LocalPath.
func (r *Repo) Clone(ctx context.Context) error {
	args := []string{"clone", "--origin=origin"}
	if r.Reference != "" {
		args = append(args, "--reference="+r.Reference)
	}
	args = append(args, r.RemoteURL, r.LocalPath)
	_, err := r.gitFrom(ctx, false, args...)
	return err
}

// ConfigUserInfo sets the commit identity used for any local commits.
func (r *Repo) ConfigUserInfo(ctx context.Context, name, email string) error {
	if _, err := r.git(ctx, "config", "user.email", email); err != nil {
		return err
	}
	_, err := r.git(ctx, "config", "user.name", name)
	return err
}

// Fetch fetches remoteName, upserting it first (remove+add) when it isn't
// "origin" and remoteURL is given.
func (r *Repo) Fetch(ctx context.Context, remoteName, remoteURL string) error {
	if remoteName != "origin" {
		if remoteURL == "" {
			return errors.New("remoteURL required when upserting a non-origin remote")
		}
		_, _ = r.git(ctx, "remote", "rm", remoteName) // best-effort; absent is fine
		if _, err := r.git(ctx, "remote", "add", remoteName, remoteURL); err != nil {
			return err
		}
	}
	_, err := r.git(ctx, "fetch", "--prune", remoteName)
	return err
}

// CheckoutBranch checks out branch, optionally resetting it to startPoint
// (-B semantics).
func (r *Repo) CheckoutBranch(ctx context.Context, branch, startPoint string) error {
	args := []string{"checkout"}
	if startPoint != "" {
		args = append(args, "-B", branch, startPoint, "--")
	} else {
		args = append(args, branch, "--")
	}
	_, err := r.git(ctx, args...)
	return err
}

// RemoveBranch force-deletes branch. Caller must not be on branch.
func (r *Repo) RemoveBranch(ctx context.Context, branch string) error {
	_, err := r.git(ctx, "branch", "-D", branch)
	return err
}

// GetCommitHash returns the commit hash for rev ("HEAD" if empty).
func (r *Repo) GetCommitHash(ctx context.Context, rev string) (string, error) {
	if rev == "" {
		rev = "HEAD"
	}
	out, err := r.git(ctx, "rev-parse", rev)
	if err != nil {
		return "", err
	}
	return trimmed(out), nil
}

// CommitAuthorEmails returns the distinct author emails of every commit in
// fromRef..toRef.
func (r *Repo) CommitAuthorEmails(ctx context.Context, fromRef, toRef string) ([]string, error) {
	out, err := r.git(ctx, "log", "--format=%ae", fromRef+".."+toRef)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var emails []string
	for _, line := range splitLines(out) {
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		emails = append(emails, line)
	}
	return emails, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, trimmed(s[start:i]))
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, trimmed(s[start:]))
	}
	return lines
}

// GetRemoteURL returns the configured URL of remote name.
func (r *Repo) GetRemoteURL(ctx context.Context, name string) (string, error) {
	out, err := r.git(ctx, "config", "--get", fmt.Sprintf("remote.%s.url", name))
	if err != nil {
		return "", err
	}
	return trimmed(out), nil
}

// Push checks out branch, verifies the working copy is clean, and pushes
// it to source (origin, or "source" when sourceRepoURL is set) as
// branch:branch. force and skipCI are opt-in.
func (r *Repo) Push(ctx context.Context, branch string, force, skipCI bool, sourceRepoURL string) error {
	if _, err := r.git(ctx, "checkout", branch, "--"); err != nil {
		return err
	}
	if _, err := r.git(ctx, "diff-index", "--quiet", "HEAD"); err != nil {
		return fmt.Errorf("working copy is dirty: %w", err)
	}
	untracked, err := r.git(ctx, "ls-files", "--others")
	if err != nil {
		return err
	}
	if trimmed(untracked) != "" {
		return &GitError{Args: []string{"push"}, Err: errors.New("there are untracked files"), Stdout: untracked}
	}

	remote := "origin"
	if sourceRepoURL != "" {
		got, err := r.GetRemoteURL(ctx, "source")
		if err != nil {
			return err
		}
		if got != sourceRepoURL {
			return fmt.Errorf("source remote URL mismatch: got %q want %q", got, sourceRepoURL)
		}
		remote = "source"
	}

	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	if skipCI {
		args = append(args, "-o", "ci.skip")
	}
	args = append(args, remote, fmt.Sprintf("%s:%s", branch, branch))
	_, err = r.git(ctx, args...)
	return err
}

func trimmed(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

// git runs a git subcommand from within LocalPath.
func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	return r.gitFrom(ctx, true, args...)
}

func (r *Repo) gitFrom(ctx context.Context, fromRepo bool, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	full := []string{"git"}
	if fromRepo {
		full = append(full, "-C", r.LocalPath)
	}
	for _, a := range args {
		if a != "" {
			full = append(full, a)
		}
	}

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	cmd.Env = r.env()
	startNewProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return stdout.String(), &GitError{Args: full, Stdout: stdout.String(), Stderr: stderr.String(), Err: context.DeadlineExceeded}
	}
	if err != nil {
		return stdout.String(), &GitError{Args: full, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// gitSSHCommandBase is the nasty-but-standard hack of accepting a hostkey
// sight-unseen; the real fix (pinning known_hosts) is left to deployment.
const gitSSHCommandBase = "ssh -o StrictHostKeyChecking=no"

func (r *Repo) env() []string {
	if r.SSHKeyFile == "" {
		return nil
	}
	env := os.Environ()
	// IdentitiesOnly=yes + -F /dev/null so ssh doesn't fall back to
	// ssh-agent or ~/.ssh/config identities ahead of the one we pass in.
	sshCmd := fmt.Sprintf("%s -F /dev/null -o IdentitiesOnly=yes -i %s", gitSSHCommandBase, r.SSHKeyFile)
	return append(env, "GIT_SSH_COMMAND="+sshCmd)
}
