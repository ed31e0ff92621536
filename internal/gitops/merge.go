package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/orcworks/orc/internal/orcerr"
)

// IntegrationWorktreeDir is the directory under which one persistent
// worktree per target branch is kept checked out, so merge-ri always has a
// real working tree to merge into regardless of what the main checkout
// currently has checked out (spec.md §4.4 step 7, §5).
const IntegrationWorktreeDir = ".orc/worktrees/__integration__"

// ensureIntegrationWorktree returns the path to targetBranch's dedicated
// worktree, creating it (checked out on targetBranch) the first time a leaf
// reverse-integrates into it. Callers must already hold integrationMu.
func (r *Repo) ensureIntegrationWorktree(ctx context.Context, targetBranch string) (string, error) {
	path := filepath.Join(r.root, IntegrationWorktreeDir, sanitizeBranchForPath(targetBranch))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", orcerr.Wrap(orcerr.KindGit, "create integration worktree parent", err)
	}
	// --force: targetBranch is very often also checked out in the main
	// repo root (e.g. "main"), which git refuses to check out a second
	// time without this flag. Both worktrees share the same underlying
	// ref; this only relaxes git's same-branch-twice safeguard, it does
	// not change how merges are recorded.
	if out, err := r.run(ctx, r.root, "worktree", "add", "--force", path, targetBranch); err != nil {
		return "", orcerr.Git(orcerr.GitInvalidRef, "add integration worktree for "+targetBranch, out)
	}
	return path, nil
}

func sanitizeBranchForPath(branch string) string {
	return strings.ReplaceAll(branch, "/", "__")
}

// MergeConflict is returned (wrapped in an *orcerr.Error with GitKind
// GitConflict) when a merge stops on conflicting paths. Conflicted files
// are attached so the pipeline can surface them to the node's AttemptRecord
// without a second git invocation.
type MergeConflict struct {
	ConflictedFiles []string
}

func (m *MergeConflict) Error() string {
	return fmt.Sprintf("merge conflict in %d file(s): %s", len(m.ConflictedFiles), strings.Join(m.ConflictedFiles, ", "))
}

// MergeFromRefs merges every ref in refs into dir's checked-out worktree,
// one at a time, in order (merge-fi: forward integration from a node's
// upstream dependencies, spec.md §4.4 step 2). On conflict the merge is
// aborted before returning so the worktree is left clean for a retry.
func (r *Repo) MergeFromRefs(ctx context.Context, dir string, refs []string, message string) error {
	for _, ref := range refs {
		if err := r.mergeOne(ctx, dir, ref, message); err != nil {
			return err
		}
	}
	return nil
}

// MergeBack merges srcRef (a leaf node's completed commit) into
// targetBranch (merge-ri, spec.md §4.4 step 7). It serializes against every
// other MergeBack/CreateBranch call on this Repo (spec.md §5: merge-ri must
// be serialized per repo) and merges inside a dedicated, persistent
// worktree for targetBranch rather than the main checkout, since the main
// checkout's working directory may have an unrelated branch checked out.
// Grounded on rpi.performMerge/handleMergeFailure's
// merge-then-abort-on-conflict shape.
func (r *Repo) MergeBack(ctx context.Context, targetBranch, srcRef, message string) error {
	r.integrationMu.Lock()
	defer r.integrationMu.Unlock()

	dir, err := r.ensureIntegrationWorktree(ctx, targetBranch)
	if err != nil {
		return err
	}
	if out, err := r.run(ctx, dir, "checkout", targetBranch); err != nil {
		return orcerr.Git(orcerr.GitInvalidRef, "checkout "+targetBranch+" in integration worktree", out)
	}
	return r.mergeOne(ctx, dir, srcRef, message)
}

func (r *Repo) mergeOne(ctx context.Context, dir, ref, message string) error {
	out, err := r.run(ctx, dir, "merge", "--no-ff", "-m", message, ref)
	if err == nil {
		return nil
	}

	conflicted, listErr := r.run(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	_, _ = r.run(ctx, dir, "merge", "--abort")

	if listErr == nil {
		if files := strings.Fields(strings.TrimSpace(conflicted)); len(files) > 0 {
			return &orcerr.Error{
				Kind:       orcerr.KindGit,
				Message:    fmt.Sprintf("merge %s into %s", ref, dir),
				GitKind:    orcerr.GitConflict,
				StderrTail: (&MergeConflict{ConflictedFiles: files}).Error(),
				Err:        &MergeConflict{ConflictedFiles: files},
			}
		}
	}
	return orcerr.Git(orcerr.GitConflict, fmt.Sprintf("merge %s into %s", ref, dir), out)
}

// FastForwardable reports whether dir's HEAD can reach ref without a merge
// commit, used by Reshape/retry paths that prefer a fast-forward over an
// unnecessary merge commit when a dependency hasn't diverged.
func (r *Repo) FastForwardable(ctx context.Context, dir, ref string) bool {
	_, err := r.run(ctx, dir, "merge-base", "--is-ancestor", "HEAD", ref)
	return err == nil
}
