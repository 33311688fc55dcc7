package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"conductor/src/handler/constants"
)

var (
	// ErrNotGitRepo is returned by Create when repoPath is not inside a git
	// working tree.
	ErrNotGitRepo = errors.New("worktree: not a git repository")
	// ErrTooManyBranches/ErrTooManyWorktrees are returned when the -2..-99
	// numbered-suffix collision space is exhausted.
	ErrTooManyBranches   = errors.New("worktree: too many branches with this prefix")
	ErrTooManyWorktrees  = errors.New("worktree: too many worktrees with this name")
	// ErrSessionActive is returned by Remove when the session is still
	// live and the caller did not force the operation.
	ErrSessionActive = errors.New("worktree: session is still active")
	// ErrNotFound is returned when (repo, name) has no record.
	ErrNotFound = errors.New("worktree: record not found")
	// ErrNothingToMerge names the zero-commits-ahead case. Merge and
	// PreviewMerge report that case in their result message and do not
	// return this error.
	ErrNothingToMerge = errors.New("worktree: nothing to merge")
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SafeName sanitizes a session name into a branch/directory-safe token:
// non [A-Za-z0-9_.-] characters (including the interior spaces NameRegexp
// permits) become '-', then leading/trailing '-' are stripped.
func SafeName(name string) string {
	safe := unsafeNameChars.ReplaceAllString(name, "-")
	return strings.Trim(safe, "-")
}

// Manager implements the Worktree Manager (component F) over a Store
// (component E). ActiveSessionIDs must be refreshed by the caller
// (Admin.SyncActiveSessions maps live names to ids) before any operation that needs to know whether a
// session is still running.
type Manager struct {
	store *Store

	mu              sync.RWMutex
	activeSessionID map[string]bool

	watcher   *fsnotify.Watcher
	watchedMu sync.Mutex
	watched   map[string]bool
}

// NewManager wires a Manager to its Store.
func NewManager(store *Store) *Manager {
	return &Manager{store: store, activeSessionID: make(map[string]bool)}
}

// StartWatching opens an fsnotify watch over every repo's
// .conductor-worktrees directory already on record, then follows new repos
// as Create adds them. It marks a worktree orphaned the moment its
// directory disappears out-of-band, rather than waiting for the next
// poll-driven Reconcile/GC pass to notice. Stops when ctx is canceled.
func (m *Manager) StartWatching(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("worktree: start watcher: %w", err)
	}

	m.watchedMu.Lock()
	m.watcher = w
	m.watched = make(map[string]bool)
	m.watchedMu.Unlock()

	for repoPath := range m.store.GetAll() {
		m.ensureWatch(repoPath)
	}

	go m.watchLoop(ctx)
	return nil
}

// ensureWatch adds a watch on repoPath's .conductor-worktrees directory if
// one isn't already registered. A no-op until StartWatching has run.
func (m *Manager) ensureWatch(repoPath string) {
	m.watchedMu.Lock()
	defer m.watchedMu.Unlock()
	if m.watcher == nil {
		return
	}
	root := findRepoRoot(repoPath)
	if root == "" {
		return
	}
	dir := filepath.Join(root, WorktreeDirName)
	if m.watched[dir] {
		return
	}
	if err := m.watcher.Add(dir); err != nil {
		logrus.Warnf("worktree: watch %s: %v", dir, err)
		return
	}
	m.watched[dir] = true
}

// watchLoop drains fsnotify events until ctx is canceled or the watcher is
// closed. Only removal events matter here: creation/rename of worktree
// directories is already driven by Create/Merge/Remove.
func (m *Manager) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = m.watcher.Close()
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Remove != 0 {
				m.markOrphanedByPath(event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logrus.Warnf("worktree: watch error: %v", err)
		}
	}
}

// markOrphanedByPath flags the record whose worktree path was just removed,
// the same transition Reconcile applies via os.Stat polling, but fired
// immediately off the filesystem event instead of waiting for the next
// Reconcile/GC pass.
func (m *Manager) markOrphanedByPath(path string) {
	for _, sessions := range m.store.GetAll() {
		for name, rec := range sessions {
			if rec.WorktreePath != path || rec.Status == constants.WorktreeOrphaned {
				continue
			}
			rec.Status = constants.WorktreeOrphaned
			if err := m.store.Update(rec); err != nil {
				logrus.Warnf("worktree: mark %s orphaned: %v", name, err)
				continue
			}
			logrus.Warnf("worktree: %s marked orphaned (removed out-of-band: %s)", name, path)
		}
	}
}

// SetActiveSessions replaces the set of session ids considered "active" for
// the purposes of Remove/Merge/GC/Warnings guards.
func (m *Manager) SetActiveSessions(ids map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSessionID = ids
}

func (m *Manager) isActive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeSessionID[sessionID]
}

// RepoInfo is the dashboard-facing summary of whether a path is inside a
// git repo and how many worktrees this daemon already manages there.
type RepoInfo struct {
	IsGit              bool   `json:"is_git"`
	RepoRoot           string `json:"repo_root,omitempty"`
	CurrentBranch      string `json:"current_branch,omitempty"`
	HasRemote          bool   `json:"has_remote"`
	ExistingWorktrees  int    `json:"existing_worktrees"`
	StaleWorktrees     int    `json:"stale_worktrees"`
}

// CheckRepo resolves repo status for path, used to validate a worktree
// create request before attempting `git worktree add`.
func (m *Manager) CheckRepo(path string) RepoInfo {
	root := findRepoRoot(path)
	if root == "" {
		return RepoInfo{IsGit: false}
	}
	info := RepoInfo{IsGit: true, RepoRoot: root}
	if branch, err := gitOutput(root, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.CurrentBranch = branch
	}
	if remotes, err := gitOutput(root, "remote"); err == nil {
		info.HasRemote = strings.TrimSpace(remotes) != ""
	}
	records := m.store.GetAllForRepo(root)
	info.ExistingWorktrees = len(records)
	for _, r := range records {
		if r.Status == constants.WorktreeStale {
			info.StaleWorktrees++
		}
	}
	return info
}

// Create resolves repoPath's git root, allocates a collision-free
// conductor/<safe-name> branch and .conductor-worktrees/<safe-name>
// directory, runs `git worktree add`, ensures the local-only gitignore
// entry, and persists the record.
func (m *Manager) Create(sessionName, sessionID, repoPath string) (Record, error) {
	root := findRepoRoot(repoPath)
	if root == "" {
		return Record{}, ErrNotGitRepo
	}

	baseBranch, err := gitOutput(root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Record{}, fmt.Errorf("worktree: resolve HEAD branch: %w", err)
	}
	baseCommit, err := gitOutput(root, "rev-parse", "HEAD")
	if err != nil {
		return Record{}, fmt.Errorf("worktree: resolve HEAD commit: %w", err)
	}

	safeName := SafeName(sessionName)
	branch, err := m.allocateBranch(root, safeName)
	if err != nil {
		return Record{}, err
	}

	worktreeDir := filepath.Join(root, WorktreeDirName)
	if err := os.MkdirAll(worktreeDir, 0755); err != nil {
		return Record{}, fmt.Errorf("worktree: create worktree dir: %w", err)
	}
	worktreePath, err := m.allocatePath(worktreeDir, safeName)
	if err != nil {
		return Record{}, err
	}

	if _, err := runGit(root, "worktree", "add", "-b", branch, worktreePath, "HEAD"); err != nil {
		return Record{}, fmt.Errorf("worktree: git worktree add: %w", err)
	}

	ensureGitignore(root)
	m.ensureWatch(root)

	now := time.Now().UTC()
	rec := Record{
		Name:         sessionName,
		RepoPath:     root,
		WorktreePath: worktreePath,
		Branch:       branch,
		BaseBranch:   baseBranch,
		BaseCommit:   baseCommit,
		SessionID:    sessionID,
		CreatedAt:    now,
		Status:       constants.WorktreeActive,
		LastActivity: now,
	}
	if err := m.store.Update(rec); err != nil {
		return Record{}, err
	}
	logrus.Infof("worktree: created %s at %s (branch %s)", sessionName, worktreePath, branch)
	return rec, nil
}

// allocateBranch finds a free `conductor/<safeName>[-N]` branch name.
func (m *Manager) allocateBranch(root, safeName string) (string, error) {
	branch := BranchPrefix + safeName
	if !branchExists(root, branch) {
		return branch, nil
	}
	for i := 2; i <= 99; i++ {
		candidate := fmt.Sprintf("%s-%d", branch, i)
		if !branchExists(root, candidate) {
			return candidate, nil
		}
	}
	return "", ErrTooManyBranches
}

func branchExists(root, branch string) bool {
	_, err := runGit(root, "rev-parse", "--verify", branch)
	return err == nil
}

// allocatePath finds a free `<worktreeDir>/<safeName>[-N]` directory.
func (m *Manager) allocatePath(worktreeDir, safeName string) (string, error) {
	path := filepath.Join(worktreeDir, safeName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}
	for i := 2; i <= 99; i++ {
		candidate := filepath.Join(worktreeDir, fmt.Sprintf("%s-%d", safeName, i))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", ErrTooManyWorktrees
}

// ensureGitignore augments .git/info/exclude with /.conductor-worktrees/,
// never touching the tracked .gitignore.
func ensureGitignore(repoRoot string) {
	excludePath := filepath.Join(repoRoot, ".git", "info", "exclude")
	entry := "/" + WorktreeDirName + "/"

	existing, err := os.ReadFile(excludePath)
	if err == nil {
		content := string(existing)
		if strings.Contains(content, entry) || strings.Contains(content, WorktreeDirName) {
			return
		}
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += "\n# Conductor worktrees\n" + entry + "\n"
		_ = os.WriteFile(excludePath, []byte(content), 0644)
		return
	}

	_ = os.MkdirAll(filepath.Dir(excludePath), 0755)
	_ = os.WriteFile(excludePath, []byte("# Conductor worktrees\n"+entry+"\n"), 0644)
}

// AttachSession stamps an existing record with a session id, used when a
// worktree is created before the session it backs (the session needs the
// worktree path as its cwd before it can be started).
func (m *Manager) AttachSession(rec Record, sessionID string) (Record, error) {
	rec.SessionID = sessionID
	if err := m.store.Update(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Finalize auto-commits any outstanding changes and marks the record
// finalized. Reconcile calls it for active records whose session is no
// longer live; a session's exit does not call it.
func (m *Manager) Finalize(rec Record) (Record, error) {
	if _, err := os.Stat(rec.WorktreePath); os.IsNotExist(err) {
		rec.Status = constants.WorktreeOrphaned
		return rec, m.store.Update(rec)
	}

	dirty, err := hasUncommittedChanges(rec.WorktreePath)
	if err == nil && dirty {
		logrus.Infof("worktree: auto-committing in %s", rec.Name)
		_, _ = runGit(rec.WorktreePath, "add", "-A")
		_, _ = runGit(rec.WorktreePath, "commit", "-m",
			fmt.Sprintf("conductor: auto-commit on session exit (%s)", rec.Name),
			"--allow-empty-message")
		rec.HasChanges = false
	}

	rec.CommitsAhead = countCommitsAhead(rec.RepoPath, rec.BaseCommit, rec.Branch)
	rec.Status = constants.WorktreeFinalized
	rec.LastActivity = time.Now().UTC()
	if err := m.store.Update(rec); err != nil {
		return rec, err
	}
	logrus.Infof("worktree: finalized %s (%d commits ahead)", rec.Name, rec.CommitsAhead)
	return rec, nil
}

// GetStatus refreshes has_changes/commits_ahead for a record, marking it
// orphaned if the directory has disappeared.
func (m *Manager) GetStatus(rec Record) (Record, error) {
	if _, err := os.Stat(rec.WorktreePath); os.IsNotExist(err) {
		rec.Status = constants.WorktreeOrphaned
		return rec, m.store.Update(rec)
	}
	if dirty, err := hasUncommittedChanges(rec.WorktreePath); err == nil {
		rec.HasChanges = dirty
	}
	rec.CommitsAhead = countCommitsAhead(rec.RepoPath, rec.BaseCommit, rec.Branch)
	return rec, m.store.Update(rec)
}

// UpdateActivity bumps last_activity for the record (repoPath, name).
func (m *Manager) UpdateActivity(repoPath, name string) error {
	rec, ok := m.store.Get(repoPath, name)
	if !ok {
		return ErrNotFound
	}
	rec.LastActivity = time.Now().UTC()
	return m.store.Update(rec)
}

// List returns every managed worktree, optionally filtered to one
// repository.
func (m *Manager) List(repoPath string) []Record {
	var out []Record
	if repoPath != "" {
		root := findRepoRoot(repoPath)
		if root == "" {
			return nil
		}
		for _, rec := range m.store.GetAllForRepo(root) {
			out = append(out, rec)
		}
	} else {
		for _, sessions := range m.store.GetAll() {
			for _, rec := range sessions {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Remove deletes the git worktree and, when safe, its branch, then drops
// the state record. Refuses if the session is active unless force is set.
func (m *Manager) Remove(rec Record, force bool) error {
	if m.isActive(rec.SessionID) && !force {
		return ErrSessionActive
	}

	if _, err := os.Stat(rec.WorktreePath); err == nil {
		if _, err := runGit(rec.RepoPath, "worktree", "remove", rec.WorktreePath, "--force"); err != nil {
			_ = os.RemoveAll(rec.WorktreePath)
			_, _ = runGit(rec.RepoPath, "worktree", "prune")
		}
	}

	if _, err := runGit(rec.RepoPath, "branch", "-d", rec.Branch); err != nil {
		if force {
			_, _ = runGit(rec.RepoPath, "branch", "-D", rec.Branch)
		} else {
			logrus.Infof("worktree: keeping branch %s (unmerged commits still recoverable)", rec.Branch)
		}
	}

	if err := m.store.Remove(rec.RepoPath, rec.Name); err != nil {
		return err
	}
	logrus.Infof("worktree: removed %s", rec.Name)
	return nil
}

var conflictLineRe = regexp.MustCompile(`CONFLICT.*?:\s+(.+)`)

// PreviewMerge reports ahead/behind counts, changed files, and conflict
// detection via `git merge-tree`, without mutating anything.
func (m *Manager) PreviewMerge(rec Record) MergePreview {
	_, _ = runGit(rec.RepoPath, "fetch", "origin", rec.BaseBranch)

	ahead := countCommitsAhead(rec.RepoPath, rec.BaseCommit, rec.Branch)
	behind := 0
	if out, err := gitOutput(rec.RepoPath, "rev-list", "--count", rec.Branch+".."+rec.BaseBranch); err == nil {
		if n, perr := strconv.Atoi(out); perr == nil {
			behind = n
		}
	}

	var changed []ChangedFile
	if out, err := gitOutput(rec.RepoPath, "diff", "--stat", "--name-status",
		rec.BaseCommit+"..."+rec.Branch); err == nil {
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			if line == "" {
				continue
			}
			parts := strings.SplitN(line, "\t", 2)
			if len(parts) == 2 {
				changed = append(changed, ChangedFile{
					Status: strings.TrimSpace(parts[0]),
					Path:   strings.TrimSpace(parts[1]),
				})
			}
		}
	}

	canMerge := true
	var conflicts []string
	result, _ := runGit(rec.RepoPath, "merge-tree", "--write-tree", "--no-messages", rec.BaseBranch, rec.Branch)
	if result.ExitCode != 0 {
		canMerge = false
		for _, line := range strings.Split(result.Stderr, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.Contains(line, "CONFLICT") {
				if match := conflictLineRe.FindStringSubmatch(line); match != nil {
					conflicts = append(conflicts, match[1])
				}
			} else {
				conflicts = append(conflicts, line)
			}
		}
	}

	message := ""
	if !canMerge {
		message = fmt.Sprintf("%d conflict(s) detected", len(conflicts))
	} else if ahead == 0 {
		message = "Nothing to merge"
		canMerge = false
	}

	return MergePreview{
		CanMerge:      canMerge,
		CommitsAhead:  ahead,
		CommitsBehind: behind,
		ConflictFiles: conflicts,
		ChangedFiles:  changed,
		Message:       message,
	}
}

// Merge folds rec.Branch into rec.BaseBranch using strategy, performed
// entirely inside a disposable temporary worktree so the user's main
// checkout is never touched directly.
func (m *Manager) Merge(rec Record, strategy constants.MergeStrategy, message string) MergeResult {
	result := MergeResult{Strategy: strategy, MergedBranch: rec.Branch, TargetBranch: rec.BaseBranch}

	if m.isActive(rec.SessionID) {
		result.Message = fmt.Sprintf("Cannot merge: session '%s' is still active", rec.Name)
		return result
	}

	ahead := countCommitsAhead(rec.RepoPath, rec.BaseCommit, rec.Branch)
	if ahead == 0 {
		result.Message = "Nothing to merge (0 commits ahead)"
		return result
	}
	if message == "" {
		message = fmt.Sprintf("Merge conductor session '%s' (%d commits)", rec.Name, ahead)
	}

	tmpDir := filepath.Join(rec.RepoPath, WorktreeDirName, ".merge-tmp-"+rec.Name)
	tmpBranch := fmt.Sprintf("conductor/merge-tmp-%d", time.Now().UnixNano())

	defer func() {
		_, _ = runGit(rec.RepoPath, "worktree", "remove", tmpDir, "--force")
		_, _ = runGit(rec.RepoPath, "branch", "-D", tmpBranch)
	}()

	if _, err := runGit(rec.RepoPath, "worktree", "add", "-b", tmpBranch, tmpDir, rec.BaseBranch); err != nil {
		result.Message = fmt.Sprintf("Git error: %v", err)
		return result
	}

	switch strategy {
	case constants.MergeSquash:
		if r, _ := runGit(tmpDir, "merge", "--squash", rec.Branch); r.ExitCode != 0 {
			result.ConflictFiles = parseConflictFiles(tmpDir)
			result.Message = "Merge conflicts detected"
			return result
		}
		if _, err := runGit(tmpDir, "commit", "-m", message); err != nil {
			result.Message = fmt.Sprintf("Git error: %v", err)
			return result
		}
	case constants.MergeNoFF:
		if r, _ := runGit(tmpDir, "merge", "--no-ff", "-m", message, rec.Branch); r.ExitCode != 0 {
			result.ConflictFiles = parseConflictFiles(tmpDir)
			result.Message = "Merge conflicts detected"
			return result
		}
	case constants.MergeRebase:
		if r, _ := runGit(tmpDir, "rebase", rec.BaseBranch, rec.Branch); r.ExitCode != 0 {
			_, _ = runGit(tmpDir, "rebase", "--abort")
			result.Message = "Rebase conflicts detected"
			return result
		}
		if _, err := runGit(tmpDir, "checkout", rec.BaseBranch); err != nil {
			result.Message = fmt.Sprintf("Git error: %v", err)
			return result
		}
		if _, err := runGit(tmpDir, "merge", "--ff-only", rec.Branch); err != nil {
			result.Message = fmt.Sprintf("Git error: %v", err)
			return result
		}
	default:
		result.Message = fmt.Sprintf("Unknown strategy: %s", strategy)
		return result
	}

	syncWorktree := false
	if current, err := gitOutput(rec.RepoPath, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		syncWorktree = current == rec.BaseBranch
	}

	stashed := false
	if syncWorktree {
		r, _ := runGit(rec.RepoPath, "stash", "push", "-m", "conductor-merge-autostash")
		stashed = !strings.Contains(r.Stdout, "No local changes")
	}

	mergeCommit, err := gitOutput(tmpDir, "rev-parse", "HEAD")
	if err != nil {
		result.Message = fmt.Sprintf("Git error: %v", err)
		return result
	}
	if _, err := runGit(rec.RepoPath, "update-ref", "refs/heads/"+rec.BaseBranch, mergeCommit); err != nil {
		result.Message = fmt.Sprintf("Git error: %v", err)
		return result
	}

	if syncWorktree {
		_, _ = runGit(rec.RepoPath, "reset", "--hard", "HEAD")
		if stashed {
			_, _ = runGit(rec.RepoPath, "stash", "pop")
		}
	}

	if err := m.Remove(rec, true); err != nil {
		logrus.Warnf("worktree: merge succeeded but cleanup of %s failed: %v", rec.Name, err)
	}

	logrus.Infof("worktree: merged %s into %s (strategy %s, %d commits)", rec.Name, rec.BaseBranch, strategy, ahead)
	result.Success = true
	result.CommitsMerged = ahead
	result.Message = fmt.Sprintf("Successfully merged %d commit(s) into %s", ahead, rec.BaseBranch)
	return result
}

func parseConflictFiles(worktreePath string) []string {
	out, err := gitOutput(worktreePath, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var files []string
	for _, f := range strings.Split(strings.TrimSpace(out), "\n") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

// Diff returns the full unified diff (or, with filesOnly, just the changed-
// file list) for a worktree against its base commit. Active worktrees
// include uncommitted and untracked changes; finalized ones compare only
// committed state.
func (m *Manager) Diff(rec Record, filesOnly bool) (string, []DiffFile) {
	active := rec.Status == constants.WorktreeActive
	if active {
		if _, err := os.Stat(rec.WorktreePath); err != nil {
			active = false
		}
	}

	if filesOnly {
		var out string
		var err error
		if active {
			out, err = gitOutput(rec.WorktreePath, "diff", "--numstat", rec.BaseCommit)
		} else {
			out, err = gitOutput(rec.RepoPath, "diff", "--numstat", rec.BaseCommit+"..."+rec.Branch)
		}
		if err != nil {
			return "", nil
		}
		files := parseNumstat(out)
		if active {
			files = append(files, untrackedAsDiffFiles(rec.WorktreePath)...)
		}
		return "", files
	}

	if active {
		diff, err := gitOutput(rec.WorktreePath, "diff", rec.BaseCommit)
		if err != nil {
			return "", nil
		}
		diff += untrackedAsDiffText(rec.WorktreePath)
		return diff, nil
	}

	diff, err := gitOutput(rec.RepoPath, "diff", rec.BaseCommit+"..."+rec.Branch)
	if err != nil {
		return "", nil
	}
	return diff, nil
}

func parseNumstat(output string) []DiffFile {
	var files []DiffFile
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			continue
		}
		adds, _ := strconv.Atoi(parts[0])
		dels, _ := strconv.Atoi(parts[1])
		files = append(files, DiffFile{Path: parts[2], Additions: adds, Deletions: dels})
	}
	return files
}

func untrackedFiles(worktreePath string) []string {
	out, err := gitOutput(worktreePath, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil
	}
	var files []string
	for _, f := range strings.Split(out, "\n") {
		f = strings.TrimSpace(f)
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

func untrackedAsDiffFiles(worktreePath string) []DiffFile {
	var out []DiffFile
	for _, f := range untrackedFiles(worktreePath) {
		data, err := os.ReadFile(filepath.Join(worktreePath, f))
		if err != nil {
			continue
		}
		lines := strings.Count(string(data), "\n")
		out = append(out, DiffFile{Path: f, Additions: lines})
	}
	return out
}

func untrackedAsDiffText(worktreePath string) string {
	var sb strings.Builder
	for _, f := range untrackedFiles(worktreePath) {
		data, err := os.ReadFile(filepath.Join(worktreePath, f))
		if err != nil {
			continue
		}
		content := string(data)
		lines := strings.Split(content, "\n")
		sb.WriteString(fmt.Sprintf("\ndiff --git a/%s b/%s\nnew file mode 100644\n--- /dev/null\n+++ b/%s\n@@ -0,0 +1,%d @@\n", f, f, f, len(lines)))
		for _, l := range lines {
			sb.WriteString("+" + l + "\n")
		}
	}
	return sb.String()
}

// ReconcileResult reports what Reconcile found on daemon startup.
type ReconcileResult struct {
	Orphaned  []string `json:"orphaned"`
	Recovered []string `json:"recovered"`
}

// Reconcile cross-references state against actual directories and the
// Registry's live sessions, called once on daemon start.
func (m *Manager) Reconcile() ReconcileResult {
	result := ReconcileResult{}
	for repoPath, sessions := range m.store.GetAll() {
		for name, rec := range sessions {
			if _, err := os.Stat(rec.WorktreePath); os.IsNotExist(err) {
				rec.Status = constants.WorktreeOrphaned
				_ = m.store.Update(rec)
				result.Orphaned = append(result.Orphaned, name)
				logrus.Warnf("worktree: %s marked orphaned (path missing: %s)", name, rec.WorktreePath)
				continue
			}
			if rec.Status == constants.WorktreeActive && !m.isActive(rec.SessionID) {
				if _, err := m.Finalize(rec); err == nil {
					result.Recovered = append(result.Recovered, name)
					logrus.Infof("worktree: recovered orphaned worktree %s (session gone)", name)
				}
			}
			_ = repoPath
		}
	}
	return result
}

// GC removes records whose status is orphaned, or finalized/stale and idle
// longer than maxAgeDays, never touching records whose session is active.
// dryRun reports the actions without mutating anything.
func (m *Manager) GC(maxAgeDays float64, dryRun bool) []GCAction {
	cutoff := time.Now().Add(-time.Duration(maxAgeDays * float64(24*time.Hour)))
	var actions []GCAction

	for _, sessions := range m.store.GetAll() {
		for _, rec := range sessions {
			if m.isActive(rec.SessionID) {
				continue
			}
			reason := ""
			switch {
			case rec.Status == constants.WorktreeOrphaned:
				reason = "orphaned (path missing)"
			case (rec.Status == constants.WorktreeFinalized || rec.Status == constants.WorktreeStale) &&
				rec.LastActivity.Before(cutoff):
				reason = fmt.Sprintf("stale (%s, inactive > %.0fd)", rec.Status, maxAgeDays)
			default:
				continue
			}

			action := GCAction{Name: rec.Name, Repo: rec.RepoPath, Status: rec.Status, Reason: reason}
			if dryRun {
				action.Action = "would remove"
			} else {
				if err := m.Remove(rec, true); err != nil {
					action.Action = fmt.Sprintf("failed: %v", err)
					logrus.Warnf("worktree: gc failed for %s: %v", rec.Name, err)
				} else {
					action.Action = "removed"
				}
			}
			actions = append(actions, action)
		}
	}
	return actions
}

// staleThreshold is the idle duration after which finalized/active-but-
// dead worktrees are surfaced as warnings.
const staleThreshold = 3 * 24 * time.Hour

// Warnings reports a health summary: orphaned worktrees are errors;
// long-idle finalized or active-with-dead-session worktrees are warnings.
func (m *Manager) Warnings() []Warning {
	var warnings []Warning
	cutoff := time.Now().Add(-staleThreshold)

	for _, rec := range m.List("") {
		switch {
		case rec.Status == constants.WorktreeOrphaned:
			warnings = append(warnings, Warning{
				Name: rec.Name, Repo: rec.RepoPath, Level: "error",
				Message: fmt.Sprintf("Worktree '%s' is orphaned (directory missing)", rec.Name),
			})
		case rec.Status == constants.WorktreeFinalized && rec.LastActivity.Before(cutoff):
			ageDays := time.Since(rec.LastActivity).Hours() / 24
			warnings = append(warnings, Warning{
				Name: rec.Name, Repo: rec.RepoPath, Level: "warning",
				Message: fmt.Sprintf("Worktree '%s' has been idle for %.0f days. Consider merging or discarding.", rec.Name, ageDays),
			})
		case rec.Status == constants.WorktreeActive && !m.isActive(rec.SessionID) && rec.LastActivity.Before(cutoff):
			warnings = append(warnings, Warning{
				Name: rec.Name, Repo: rec.RepoPath, Level: "warning",
				Message: fmt.Sprintf("Worktree '%s' has no active session and is idle.", rec.Name),
			})
		}
	}
	return warnings
}
