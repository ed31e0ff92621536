// Package gitops wraps the git porcelain commands the scheduler needs to
// isolate each node in its own worktree, commit its work, and integrate it
// both forward (merge-fi, from upstream dependencies) and in reverse
// (merge-ri, into the target branch). Every operation shells out to the
// git binary the way _examples/tim-coutinho-agentops's rpi package and the
// teacher's git_checkpointer do; this package owns no retry/backoff policy
// of its own beyond what those two sources already do.
package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/orcworks/orc/internal/orcerr"
)

// Repo is a handle on one git repository (the root checkout; worktrees are
// addressed by path through the same Repo).
type Repo struct {
	root    string
	timeout time.Duration

	// integrationMu serializes merge-ri and default-branch creation per
	// repo (spec.md §5: "must be serialized per repo via an internal
	// mutex"), since both touch refs the main checkout's working directory
	// never sees but that concurrent node attempts could otherwise race on.
	integrationMu sync.Mutex
}

// Open resolves path to its repository root via `git rev-parse
// --show-toplevel` (grounded on rpi.GetRepoRoot) and returns a Repo.
func Open(ctx context.Context, path string, timeout time.Duration) (*Repo, error) {
	out, err := run(ctx, path, timeout, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, orcerr.Git(orcerr.GitNotRepo, "not a git repository: "+path, out)
	}
	root := strings.TrimSpace(out)
	ensureStateIgnored(root)
	return &Repo{root: root, timeout: timeout}, nil
}

// ensureStateIgnored writes <root>/.orc/.gitignore containing "*" so the
// orchestrator's state directory (plan snapshots, attempt logs, worktrees,
// the capacity ledger) never shows up as untracked in the repository it
// manages. Self-ignoring directories avoid touching the project's own
// .gitignore.
func ensureStateIgnored(root string) {
	dir := filepath.Join(root, ".orc")
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return
	}
	_ = os.WriteFile(path, []byte("*\n"), 0o644)
}

// Root returns the repository's absolute root path.
func (r *Repo) Root() string { return r.root }

func run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil && cctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("git %s timed out after %s", args[0], timeout)
	}
	return string(out), err
}

func (r *Repo) run(ctx context.Context, dir string, args ...string) (string, error) {
	return run(ctx, dir, r.timeout, args...)
}

// CurrentBranch returns the branch checked out at dir, or orcerr.GitInvalidRef
// (Kind GitInvalidRef) if HEAD is detached.
func (r *Repo) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := r.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", orcerr.Git(orcerr.GitInvalidRef, "resolve current branch", out)
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", orcerr.Git(orcerr.GitInvalidRef, "HEAD is detached at "+dir, "")
	}
	return branch, nil
}

// BranchExists reports whether a local branch by this name exists.
func (r *Repo) BranchExists(ctx context.Context, name string) bool {
	_, err := r.run(ctx, r.root, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// CreateBranch creates name at startPoint (defaults to HEAD when empty)
// without checking it out anywhere, so it is safe to call against the main
// checkout while worktrees are active elsewhere.
func (r *Repo) CreateBranch(ctx context.Context, name, startPoint string) error {
	r.integrationMu.Lock()
	defer r.integrationMu.Unlock()

	if startPoint == "" {
		startPoint = "HEAD"
	}
	if out, err := r.run(ctx, r.root, "branch", name, startPoint); err != nil {
		return orcerr.Git(orcerr.GitInvalidRef, "create branch "+name, out)
	}
	return nil
}

// ResolveTargetRoot resolves the default branch the plan should integrate
// into when the caller did not specify one explicitly: origin/HEAD's
// target, falling back to main, then master (spec.md §4.1).
func (r *Repo) ResolveTargetRoot(ctx context.Context) (string, error) {
	if out, err := r.run(ctx, r.root, "symbolic-ref", "--short", "refs/remotes/origin/HEAD"); err == nil {
		ref := strings.TrimSpace(out)
		if idx := strings.IndexByte(ref, '/'); idx >= 0 {
			return ref[idx+1:], nil
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if r.BranchExists(ctx, candidate) {
			return candidate, nil
		}
	}
	return "", orcerr.Git(orcerr.GitInvalidRef, "could not resolve a default branch (no origin/HEAD, main, or master)", "")
}

// HeadSHA returns the full commit hash HEAD points to at dir.
func (r *Repo) HeadSHA(ctx context.Context, dir string) (string, error) {
	out, err := r.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", orcerr.Git(orcerr.GitInvalidRef, "resolve HEAD", out)
	}
	return strings.TrimSpace(out), nil
}

// DetachHead checks dir out at ref in detached-HEAD state, used to seed a
// worktree precisely at a dependency's completed commit.
func (r *Repo) DetachHead(ctx context.Context, dir, ref string) error {
	if out, err := r.run(ctx, dir, "checkout", "--detach", ref); err != nil {
		return orcerr.Git(orcerr.GitInvalidRef, "detach HEAD at "+ref, out)
	}
	return nil
}

// IsDirty reports whether dir has uncommitted changes (staged or unstaged).
func (r *Repo) IsDirty(ctx context.Context, dir string) (bool, error) {
	_, err := r.run(ctx, dir, "diff-index", "--quiet", "HEAD")
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if asExitError(err, &exitErr) {
		return true, nil
	}
	return false, orcerr.Git(orcerr.GitInvalidRef, "check dirty state", err.Error())
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// CommitAll stages every change under dir (including untracked files) and
// commits with message. Returns (false, nil) with no commit created when
// there is nothing to commit, so ExpectsNoChanges nodes and no-op postcheck
// phases can be distinguished from real failures (spec.md §4.4 step 5).
func (r *Repo) CommitAll(ctx context.Context, dir, message string) (committed bool, err error) {
	if out, err := r.run(ctx, dir, "add", "-A"); err != nil {
		return false, orcerr.Git(orcerr.GitConflict, "stage changes", out)
	}
	_, statusErr := r.run(ctx, dir, "diff", "--cached", "--quiet")
	if statusErr == nil {
		return false, nil // nothing staged
	}
	if out, err := r.run(ctx, dir, "commit", "-m", message); err != nil {
		return false, orcerr.Git(orcerr.GitConflict, "commit", out)
	}
	return true, nil
}

// DiffStats summarizes the change between baseRef and HEAD at dir, for
// WorkSummary (spec.md §3). Grounded on alkk-ralphex's DiffStats shape.
type DiffStats struct {
	Added, Modified, Deleted int
	Files                    []string
}

// Diff computes file-level add/modify/delete counts between baseRef and
// HEAD using `git diff --name-status`.
func (r *Repo) Diff(ctx context.Context, dir, baseRef string) (DiffStats, error) {
	out, err := r.run(ctx, dir, "diff", "--name-status", baseRef, "HEAD")
	if err != nil {
		return DiffStats{}, orcerr.Git(orcerr.GitInvalidRef, "diff against "+baseRef, out)
	}
	var stats DiffStats
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		status, path := fields[0], fields[1]
		stats.Files = append(stats.Files, path)
		switch status[0] {
		case 'A':
			stats.Added++
		case 'M':
			stats.Modified++
		case 'D':
			stats.Deleted++
		default:
			stats.Modified++
		}
	}
	return stats, nil
}

// CommitSubjects returns the one-line subjects of every commit on dir's
// HEAD since baseRef, oldest first, for AttemptRecord.WorkSummary.
func (r *Repo) CommitSubjects(ctx context.Context, dir, baseRef string) ([]string, error) {
	out, err := r.run(ctx, dir, "log", "--reverse", "--format=%s", baseRef+"..HEAD")
	if err != nil {
		return nil, orcerr.Git(orcerr.GitInvalidRef, "log against "+baseRef, out)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}
