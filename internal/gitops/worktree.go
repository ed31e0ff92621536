package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/orcworks/orc/internal/orcerr"
)

// WorktreeDir is the directory under which node worktrees are created,
// sibling to the main checkout the way rpi.CreateWorktree lays its
// "<repo>-rpi-<runID>" directories out, except scoped under the repo
// itself so a single orc state directory can account for every worktree it
// owns.
const WorktreeDir = ".orc/worktrees"

// WorktreePath returns the deterministic path a node's worktree lives (or
// would live) at, without touching the filesystem or git. Callers use it to
// probe for a worktree retained from a prior attempt before deciding whether
// to provision a fresh one or reset the existing one in place (spec.md §4.4
// step 1).
func (r *Repo) WorktreePath(nodeID string) string {
	return filepath.Join(r.root, WorktreeDir, nodeID)
}

// HasWorktree reports whether a worktree directory already exists at the
// path WorktreePath(nodeID) computes, the signal pipeline.RunAttempt uses to
// choose between AddWorktree and ResetWorktree.
func (r *Repo) HasWorktree(nodeID string) bool {
	_, err := os.Stat(r.WorktreePath(nodeID))
	return err == nil
}

// AddWorktree creates a worktree at <root>/.orc/worktrees/<nodeID> checked
// out detached at startRef (a dependency's completed commit, or the plan's
// base branch for root nodes). Retries on path collision up to 3 times the
// way rpi.tryCreateWorktree does, though collisions should not occur since
// nodeID is already unique.
func (r *Repo) AddWorktree(ctx context.Context, nodeID, startRef string) (path string, err error) {
	base := filepath.Join(r.root, WorktreeDir)
	if err := os.MkdirAll(base, 0o750); err != nil {
		return "", orcerr.Wrap(orcerr.KindGit, "create worktree parent directory", err)
	}

	path = r.WorktreePath(nodeID)
	for attempt := 0; attempt < 3; attempt++ {
		out, cmdErr := r.run(ctx, r.root, "worktree", "add", "--detach", path, startRef)
		if cmdErr == nil {
			return path, nil
		}
		if !strings.Contains(out, "already exists") {
			return "", orcerr.Git(orcerr.GitInvalidRef, "add worktree for "+nodeID, out)
		}
		// a stale worktree directory from a crashed prior run; prune and retry once more
		_, _ = r.run(ctx, r.root, "worktree", "prune")
	}
	return "", orcerr.Git(orcerr.GitWorktreeBsy, "worktree path collision persisted for "+nodeID, "")
}

// ResetWorktree discards whatever a worktree retained from a prior attempt
// left behind — commits, staged changes, untracked files the work phase
// produced — and re-detaches it at ref, the in-place counterpart to
// AddWorktree for a retry whose NodeState.ClearWorktreeOnRetry is true
// (spec.md §4.4 step 1). Grounded on the teacher's
// DefaultGitCheckpointer.RestoreCheckpoint, which restores a checkpoint with
// a single `git reset --hard`; a node's worktree additionally needs the
// detach (it may have drifted onto a branch tip mid-attempt) and a clean to
// drop untracked build output reset alone leaves behind.
func (r *Repo) ResetWorktree(ctx context.Context, path, ref string) error {
	if out, err := r.run(ctx, path, "checkout", "--detach", "--force", ref); err != nil {
		return orcerr.Git(orcerr.GitInvalidRef, "detach worktree at "+ref, out)
	}
	if out, err := r.run(ctx, path, "reset", "--hard", ref); err != nil {
		return orcerr.Git(orcerr.GitInvalidRef, "reset worktree to "+ref, out)
	}
	if out, err := r.run(ctx, path, "clean", "-fd"); err != nil {
		return orcerr.Wrap(orcerr.KindGit, "clean worktree: "+strings.TrimSpace(out), err)
	}
	return nil
}

// RemoveWorktree removes the worktree at path. No-op if the directory is
// already gone. Falls back to a forced filesystem removal plus `worktree
// prune` when git itself refuses (grounded on rpi.RemoveWorktree).
func (r *Repo) RemoveWorktree(ctx context.Context, path string) error {
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return nil
	}
	if out, err := r.run(ctx, r.root, "worktree", "remove", "--force", path); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return orcerr.Wrap(orcerr.KindGit, fmt.Sprintf("remove worktree %s (git: %s)", path, strings.TrimSpace(out)), rmErr)
		}
		_, _ = r.run(ctx, r.root, "worktree", "prune")
	}
	return nil
}

// ListWorktrees returns the paths of every worktree git currently tracks
// under WorktreeDir, for crash-recovery sweeps that need to find orphaned
// worktrees from a prior process (spec.md §4.8).
func (r *Repo) ListWorktrees(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, r.root, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, orcerr.Git(orcerr.GitInvalidRef, "list worktrees", out)
	}
	prefix := filepath.Join(r.root, WorktreeDir)
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "worktree ") {
			continue
		}
		p := strings.TrimPrefix(line, "worktree ")
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
