// Package admin provides transport-agnostic adapters over the session
// registry, command policy, and worktree manager. Both the HTTP/WebSocket
// API and the MCP server are thin wrappers around this package — neither
// transport touches registry/session/worktree internals directly.
package admin

import (
	"context"
	"fmt"

	"conductor/src/handler/constants"
	"conductor/src/handler/registry"
	"conductor/src/handler/session"
	"conductor/src/handler/worktree"
	"conductor/src/lib"
)

// Admin bundles every domain component the transports need. Worktree may
// be nil when the daemon is run without worktree support configured.
type Admin struct {
	Registry *registry.Registry
	Worktree *worktree.Manager
}

// New wires an Admin over an already-constructed registry and worktree
// manager.
func New(reg *registry.Registry, wt *worktree.Manager) *Admin {
	return &Admin{Registry: reg, Worktree: wt}
}

// CreateSessionRequest is the transport-agnostic input to CreateSession.
type CreateSessionRequest struct {
	Name     string
	Command  string
	Cwd      string
	Env      map[string]string
	Rows     uint16
	Cols     uint16
	Source   constants.CreateSource
	Worktree bool
	RepoPath string
}

// CreateSessionResult pairs the session projection with its worktree
// record, when one was requested.
type CreateSessionResult struct {
	Session  session.Projection `json:"session"`
	Worktree *worktree.Record   `json:"worktree,omitempty"`
}

// CreateSession validates and starts a new session, optionally creating a
// git worktree for it first so the session's cwd is the worktree path.
func (a *Admin) CreateSession(req CreateSessionRequest) (CreateSessionResult, error) {
	rows, cols := req.Rows, req.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}

	cwd, err := lib.FormatPath(req.Cwd)
	if err != nil {
		return CreateSessionResult{}, fmt.Errorf("admin: %w", err)
	}

	var wtRecord *worktree.Record

	if req.Worktree {
		if a.Worktree == nil {
			return CreateSessionResult{}, fmt.Errorf("admin: worktree manager not configured")
		}
		repoSource := req.RepoPath
		if repoSource == "" {
			repoSource = req.Cwd
		}
		repoPath, err := lib.FormatPath(repoSource)
		if err != nil {
			return CreateSessionResult{}, fmt.Errorf("admin: %w", err)
		}
		rec, err := a.Worktree.Create(req.Name, "", repoPath)
		if err != nil {
			return CreateSessionResult{}, fmt.Errorf("admin: create worktree: %w", err)
		}
		wtRecord = &rec
		cwd = rec.WorktreePath
	}

	sess, err := a.Registry.Create(registry.CreateOptions{
		Name:    req.Name,
		Command: req.Command,
		Cwd:     cwd,
		Env:     req.Env,
		Rows:    rows,
		Cols:    cols,
		Source:  req.Source,
	})
	if err != nil {
		if wtRecord != nil {
			_ = a.Worktree.Remove(*wtRecord, true)
		}
		return CreateSessionResult{}, err
	}

	proj, _ := a.Registry.GetProjection(req.Name)

	if wtRecord != nil {
		if attached, aerr := a.Worktree.AttachSession(*wtRecord, proj.ID); aerr == nil {
			wtRecord = &attached
		}
	}
	_ = sess

	return CreateSessionResult{Session: proj, Worktree: wtRecord}, nil
}

// ListSessions returns the union of live and resumable session projections.
func (a *Admin) ListSessions() []session.Projection {
	return a.Registry.ListAll()
}

// GetSession returns a single session's projection, live or resumable.
func (a *Admin) GetSession(name string) (session.Projection, bool) {
	return a.Registry.GetProjection(name)
}

// SendInput writes text to a live session's PTY.
func (a *Admin) SendInput(name, text string) error {
	sess, ok := a.Registry.Get(name)
	if !ok {
		return registry.ErrNotFound
	}
	return sess.SendInput([]byte(text))
}

// ResizeSession updates a live session's terminal dimensions.
func (a *Admin) ResizeSession(name string, rows, cols uint16, source constants.ResizeSource) error {
	sess, ok := a.Registry.Get(name)
	if !ok {
		return registry.ErrNotFound
	}
	return sess.Resize(rows, cols, source)
}

// GracefulStop requests an orderly shutdown of a live session.
func (a *Admin) GracefulStop(name string) error {
	return a.Registry.GracefulStop(name)
}

// KillSession hard-kills a live session and deletes its metadata.
func (a *Admin) KillSession(name string) error {
	return a.Registry.Remove(name)
}

// ResumeSession recreates a session from a resumable or stale-exited entry
// and returns its fresh projection.
func (a *Admin) ResumeSession(name string) (session.Projection, error) {
	if _, err := a.Registry.Resume(name); err != nil {
		return session.Projection{}, err
	}
	proj, _ := a.Registry.GetProjection(name)
	return proj, nil
}

// DismissResumable drops a resumable entry without resuming it.
func (a *Admin) DismissResumable(name string) error {
	return a.Registry.DismissResumable(name)
}

// Subscribe returns the replay buffer and a live fan-out subscription for
// streaming transports (the WebSocket handler and any future stream
// adapter share this single entry point).
func (a *Admin) Subscribe(name string) (buffer []byte, sub *session.Subscriber, unsubscribe func(), err error) {
	sess, ok := a.Registry.Get(name)
	if !ok {
		return nil, nil, nil, registry.ErrNotFound
	}
	sub = sess.Subscribe()
	buffer = sess.GetBuffer()
	unsubscribe = func() { sess.Unsubscribe(sub) }
	return buffer, sub, unsubscribe, nil
}

// ListWorktrees lists managed worktrees, optionally filtered to repoPath.
func (a *Admin) ListWorktrees(repoPath string) []worktree.Record {
	if a.Worktree == nil {
		return nil
	}
	return a.Worktree.List(repoPath)
}

// PreviewMergeWorktree reports ahead/behind/conflict status without
// mutating anything.
func (a *Admin) PreviewMergeWorktree(repoPath, name string) (worktree.MergePreview, error) {
	rec, ok := a.lookupWorktree(repoPath, name)
	if !ok {
		return worktree.MergePreview{}, worktree.ErrNotFound
	}
	return a.Worktree.PreviewMerge(rec), nil
}

// MergeWorktree folds a worktree's branch into its base branch.
func (a *Admin) MergeWorktree(repoPath, name string, strategy constants.MergeStrategy, message string) (worktree.MergeResult, error) {
	rec, ok := a.lookupWorktree(repoPath, name)
	if !ok {
		return worktree.MergeResult{}, worktree.ErrNotFound
	}
	return a.Worktree.Merge(rec, strategy, message), nil
}

// RemoveWorktree deletes a worktree's git state and its state record.
func (a *Admin) RemoveWorktree(repoPath, name string, force bool) error {
	rec, ok := a.lookupWorktree(repoPath, name)
	if !ok {
		return worktree.ErrNotFound
	}
	a.SyncActiveSessions()
	return a.Worktree.Remove(rec, force)
}

// DiffWorktree returns the diff (or file list, with filesOnly) for a
// worktree against its base commit.
func (a *Admin) DiffWorktree(repoPath, name string, filesOnly bool) (string, []worktree.DiffFile, error) {
	rec, ok := a.lookupWorktree(repoPath, name)
	if !ok {
		return "", nil, worktree.ErrNotFound
	}
	text, files := a.Worktree.Diff(rec, filesOnly)
	return text, files, nil
}

// GCWorktrees removes orphaned worktrees, and finalized/stale ones idle
// longer than maxAgeDays.
func (a *Admin) GCWorktrees(maxAgeDays float64, dryRun bool) []worktree.GCAction {
	if a.Worktree == nil {
		return nil
	}
	a.SyncActiveSessions()
	return a.Worktree.GC(maxAgeDays, dryRun)
}

// WorktreeWarnings reports a health summary across all managed worktrees.
func (a *Admin) WorktreeWarnings() []worktree.Warning {
	if a.Worktree == nil {
		return nil
	}
	a.SyncActiveSessions()
	return a.Worktree.Warnings()
}

func (a *Admin) lookupWorktree(repoPath, name string) (worktree.Record, bool) {
	if a.Worktree == nil {
		return worktree.Record{}, false
	}
	for _, rec := range a.Worktree.List(repoPath) {
		if rec.Name == name {
			return rec, true
		}
	}
	return worktree.Record{}, false
}

// SyncActiveSessions refreshes the worktree manager's view of which
// sessions are live, called periodically and before GC/Warnings/Remove
// decisions that must not touch an active session's worktree.
func (a *Admin) SyncActiveSessions() {
	if a.Worktree == nil {
		return
	}
	ids := make(map[string]bool)
	for name := range a.Registry.LiveNames() {
		if proj, ok := a.Registry.GetProjection(name); ok {
			ids[proj.ID] = true
		}
	}
	a.Worktree.SetActiveSessions(ids)
}

// Reconcile cross-references worktree state against live sessions and
// actual directories, called once on daemon start.
func (a *Admin) Reconcile() worktree.ReconcileResult {
	if a.Worktree == nil {
		return worktree.ReconcileResult{}
	}
	a.SyncActiveSessions()
	return a.Worktree.Reconcile()
}

// CheckRepo reports whether path is inside a git repository, for the
// dashboard's worktree-creation prompt.
func (a *Admin) CheckRepo(path string) worktree.RepoInfo {
	if a.Worktree == nil {
		return worktree.RepoInfo{IsGit: false}
	}
	formatted, err := lib.FormatPath(path)
	if err != nil {
		return worktree.RepoInfo{IsGit: false}
	}
	return a.Worktree.CheckRepo(formatted)
}

// WatchWorktrees starts the filesystem watch that marks a worktree
// orphaned as soon as its directory is removed out-of-band. Called once on
// daemon start; it runs until ctx is canceled.
func (a *Admin) WatchWorktrees(ctx context.Context) error {
	if a.Worktree == nil {
		return nil
	}
	return a.Worktree.StartWatching(ctx)
}
