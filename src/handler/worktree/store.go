// Package worktree implements the Worktree State Store and the Worktree
// Manager: atomic JSON persistence of managed git worktrees keyed by
// repository root, plus their full lifecycle (create, finalize,
// preview-merge, merge, remove, reconcile, gc, warnings).
package worktree

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"conductor/src/handler/constants"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WorktreeDirName is the repo-relative directory managed worktrees live
// under.
const WorktreeDirName = ".conductor-worktrees"

// BranchPrefix is prepended to every branch this package creates.
const BranchPrefix = "conductor/"

// Record is the persisted metadata for one managed worktree, identity
// (RepoPath, Name).
type Record struct {
	Name         string                   `json:"name"`
	RepoPath     string                   `json:"repo_path"`
	WorktreePath string                   `json:"worktree_path"`
	Branch       string                   `json:"branch"`
	BaseBranch   string                   `json:"base_branch"`
	BaseCommit   string                   `json:"base_commit"`
	SessionID    string                   `json:"session_id"`
	CreatedAt    time.Time                `json:"created_at"`
	Status       constants.WorktreeStatus `json:"status"`
	LastActivity time.Time                `json:"last_activity"`
	CommitsAhead int                      `json:"commits_ahead"`
	HasChanges   bool                     `json:"has_changes"`
}

// MergeResult is the outcome of Manager.Merge.
type MergeResult struct {
	Success       bool     `json:"success"`
	Strategy      constants.MergeStrategy `json:"strategy"`
	MergedBranch  string   `json:"merged_branch"`
	TargetBranch  string   `json:"target_branch"`
	CommitsMerged int      `json:"commits_merged"`
	ConflictFiles []string `json:"conflict_files,omitempty"`
	Message       string   `json:"message"`
}

// MergePreview is the outcome of Manager.PreviewMerge.
type MergePreview struct {
	CanMerge       bool             `json:"can_merge"`
	CommitsAhead   int              `json:"commits_ahead"`
	CommitsBehind  int              `json:"commits_behind"`
	ConflictFiles  []string         `json:"conflict_files,omitempty"`
	ChangedFiles   []ChangedFile    `json:"changed_files,omitempty"`
	Message        string           `json:"message"`
}

// ChangedFile is one entry of a name-status diff summary.
type ChangedFile struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// DiffFile is one entry of a numstat diff summary.
type DiffFile struct {
	Path        string `json:"path"`
	Additions   int    `json:"additions"`
	Deletions   int    `json:"deletions"`
}

// Warning is one health-report entry from Manager.Warnings.
type Warning struct {
	Name    string `json:"name"`
	Repo    string `json:"repo"`
	Level   string `json:"level"` // "error" | "warning"
	Message string `json:"message"`
}

// GCAction is one report entry from Manager.GC.
type GCAction struct {
	Name   string `json:"name"`
	Repo   string `json:"repo"`
	Status constants.WorktreeStatus `json:"status"`
	Reason string `json:"reason"`
	Action string `json:"action"`
}

// document is the on-disk shape: { repo_path: { session_name: Record } }.
type document map[string]map[string]Record

// Store is the atomic JSON index of managed worktrees.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore roots a Store at path (typically <state-root>/worktrees.json).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// load reads the full document; a missing or malformed file returns an
// empty document rather than an error, matching the original's tolerant
// load().
func (s *Store) load() document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return document{}
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}
	}
	if doc == nil {
		doc = document{}
	}
	return doc
}

// save atomically writes the full document: tempfile in the same directory,
// then rename-over.
func (s *Store) save(doc document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Get returns a single record by (repoPath, name).
func (s *Store) Get(repoPath, name string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	repo, ok := doc[repoPath]
	if !ok {
		return Record{}, false
	}
	rec, ok := repo[name]
	return rec, ok
}

// Update creates or overwrites a single record.
func (s *Store) Update(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	if doc[rec.RepoPath] == nil {
		doc[rec.RepoPath] = make(map[string]Record)
	}
	doc[rec.RepoPath][rec.Name] = rec
	return s.save(doc)
}

// Remove drops a single record, pruning the repo entry if it becomes empty.
func (s *Store) Remove(repoPath, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	repo, ok := doc[repoPath]
	if !ok {
		return nil
	}
	delete(repo, name)
	if len(repo) == 0 {
		delete(doc, repoPath)
	} else {
		doc[repoPath] = repo
	}
	return s.save(doc)
}

// GetAllForRepo returns every record for one repository.
func (s *Store) GetAllForRepo(repoPath string) map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	out := make(map[string]Record, len(doc[repoPath]))
	for k, v := range doc[repoPath] {
		out[k] = v
	}
	return out
}

// GetAll returns the full document, repo path -> session name -> record.
func (s *Store) GetAll() map[string]map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	out := make(map[string]map[string]Record, len(doc))
	for repo, sessions := range doc {
		cp := make(map[string]Record, len(sessions))
		for k, v := range sessions {
			cp[k] = v
		}
		out[repo] = cp
	}
	return out
}
