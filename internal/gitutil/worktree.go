// Package gitutil is the git worktree helper listed among the bridge's
// external collaborators: a small set of repository inspection and
// branch/worktree utilities for a hosting application, not on any request
// path the core Manager or Connection Handler requires.
package gitutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// WorktreeInfo describes one linked worktree of a repository.
type WorktreeInfo struct {
	Path     string
	Branch   string
	IsMain   bool
}

// IsGitRepository reports whether path is (or is inside) a git repository.
func IsGitRepository(path string) bool {
	_, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	return err == nil
}

// OpenRepository opens the repository rooted at or above path.
func OpenRepository(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("gitutil: open repository at %s: %w", path, err)
	}
	return repo, nil
}

// ListWorktrees enumerates the repository's linked worktrees by reading
// .git/worktrees/*, the on-disk admin directory git maintains for them.
// go-git has no porcelain API for linked worktrees, so this reads the same
// metadata the git CLI does: each subdirectory's "gitdir" file names the
// worktree's path, and its "HEAD" file names the checked-out branch.
func ListWorktrees(repoPath string) ([]WorktreeInfo, error) {
	gitDir, err := resolveGitDir(repoPath)
	if err != nil {
		return nil, err
	}

	infos := []WorktreeInfo{{Path: repoPath, IsMain: true, Branch: headBranch(gitDir)}}

	worktreesDir := filepath.Join(gitDir, "worktrees")
	entries, err := os.ReadDir(worktreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return infos, nil
		}
		return nil, fmt.Errorf("gitutil: read worktrees dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		adminDir := filepath.Join(worktreesDir, entry.Name())
		wtPath, err := readFirstLine(filepath.Join(adminDir, "gitdir"))
		if err != nil {
			continue
		}
		// gitdir file contains "<worktree-path>/.git"; trim that suffix.
		wtPath = strings.TrimSuffix(strings.TrimSpace(wtPath), "/.git")
		infos = append(infos, WorktreeInfo{
			Path:   wtPath,
			Branch: headBranch(adminDir),
		})
	}
	return infos, nil
}

// CreateWorktree creates a new branch at repoPath's current HEAD and
// populates worktreePath with a checkout of it. go-git does not implement
// linked worktrees (no shared-object-store "git worktree add" equivalent),
// so this clones the repository's object store into worktreePath and checks
// out a new branch there — functionally equivalent isolation for the
// hosting application's purposes, at the cost of a duplicated object store
// rather than git's disk-sharing optimization.
func CreateWorktree(repoPath, worktreePath, branch string) error {
	repo, err := OpenRepository(repoPath)
	if err != nil {
		return err
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("gitutil: resolve HEAD: %w", err)
	}

	cloned, err := git.PlainClone(worktreePath, false, &git.CloneOptions{
		URL: repoPath,
	})
	if err != nil {
		return fmt.Errorf("gitutil: clone for worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	wt, err := cloned.Worktree()
	if err != nil {
		return fmt.Errorf("gitutil: open cloned worktree: %w", err)
	}

	err = wt.Checkout(&git.CheckoutOptions{
		Hash:   head.Hash(),
		Branch: branchRef,
		Create: true,
	})
	if err != nil {
		return fmt.Errorf("gitutil: checkout branch %s: %w", branch, err)
	}
	return nil
}

func resolveGitDir(repoPath string) (string, error) {
	direct := filepath.Join(repoPath, ".git")
	info, err := os.Stat(direct)
	if err != nil {
		return "", fmt.Errorf("gitutil: locate .git in %s: %w", repoPath, err)
	}
	if info.IsDir() {
		return direct, nil
	}
	// .git is a file pointing at the real gitdir (e.g. inside a worktree).
	line, err := readFirstLine(direct)
	if err != nil {
		return "", err
	}
	const prefix = "gitdir: "
	if strings.HasPrefix(line, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(line, prefix)), nil
	}
	return "", fmt.Errorf("gitutil: malformed .git file in %s", repoPath)
}

func headBranch(gitDir string) string {
	line, err := readFirstLine(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return ""
	}
	const prefix = "ref: refs/heads/"
	if strings.HasPrefix(line, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(line, prefix))
	}
	return ""
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", scanner.Err()
}
