package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const gitTimeout = 30 * time.Second

// errStopIteration unwinds commitIter.ForEach once the base commit is
// reached; it is not a real error.
var errStopIteration = errors.New("worktree: stop commit iteration")

// gitResult mirrors subprocess.CompletedProcess enough for the manager's
// tolerant error handling (many call sites deliberately ignore non-zero
// exit codes, matching the original's check=False usage).
type gitResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// runGit executes `git <args...>` in cwd with a bounded timeout, always
// capturing stdout/stderr instead of returning early on non-zero exit —
// callers decide whether a given command's failure is fatal.
func runGit(cwd string, args ...string) (gitResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := gitResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if err == nil {
		result.ExitCode = 0
		return result, nil
	}
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return result, err
}

// gitOutput runs git and returns its trimmed stdout, failing if the command
// exited non-zero.
func gitOutput(cwd string, args ...string) (string, error) {
	r, err := runGit(cwd, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(r.Stdout), nil
}

// findRepoRoot resolves the git repository root containing path, or ""
// if path is not inside a git working tree.
func findRepoRoot(path string) string {
	out, err := gitOutput(path, "rev-parse", "--show-toplevel")
	if err != nil {
		return ""
	}
	return out
}

// countCommitsAhead counts commits reachable from branch but not from
// baseCommit, via go-git's commit log rather than shelling out — the read-
// only plumbing half of the split documented in DESIGN.md.
func countCommitsAhead(repoPath, baseCommit, branch string) int {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return countCommitsAheadCLI(repoPath, baseCommit, branch)
	}
	branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return countCommitsAheadCLI(repoPath, baseCommit, branch)
	}
	commitIter, err := repo.Log(&git.LogOptions{From: branchRef.Hash()})
	if err != nil {
		return countCommitsAheadCLI(repoPath, baseCommit, branch)
	}
	defer commitIter.Close()

	count := 0
	err = commitIter.ForEach(func(c *object.Commit) error {
		if c.Hash.String() == baseCommit {
			return errStopIteration
		}
		count++
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return countCommitsAheadCLI(repoPath, baseCommit, branch)
	}
	return count
}

// countCommitsAheadCLI is the fallback/ground-truth implementation via the
// git CLI, used when the go-git plumbing path cannot resolve the ref (e.g.
// a branch created moments ago by a concurrent `git worktree add`).
func countCommitsAheadCLI(repoPath, baseCommit, branch string) int {
	out, err := gitOutput(repoPath, "rev-list", "--count", baseCommit+".."+branch)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0
	}
	return n
}

// hasUncommittedChanges opens worktreePath with go-git and inspects its
// status — the read-only equivalent of `git status --porcelain`, used by
// Finalize/GetStatus so the common-path status check need not exec git.
func hasUncommittedChanges(worktreePath string) (bool, error) {
	repo, err := git.PlainOpen(worktreePath)
	if err != nil {
		return uncommittedChangesCLI(worktreePath)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return uncommittedChangesCLI(worktreePath)
	}
	status, err := wt.Status()
	if err != nil {
		return uncommittedChangesCLI(worktreePath)
	}
	return !status.IsClean(), nil
}

func uncommittedChangesCLI(worktreePath string) (bool, error) {
	out, err := gitOutput(worktreePath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}
