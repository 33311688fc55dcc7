// Package registry implements the Session Registry: a name-unique map of
// live sessions plus a map of resumable metadata persisted across daemon
// restarts, backed by one atomically-written JSON file per session.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"conductor/src/handler/constants"
	"conductor/src/handler/policy"
	"conductor/src/handler/pty"
	"conductor/src/handler/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrInvalidName is returned when a session name fails NameRegexp.
	ErrInvalidName = errors.New("registry: invalid session name")
	// ErrDuplicateName is returned by Create when a *running* live session
	// already holds the name (a non-running live entry or a resumable
	// entry with the same name is evicted instead, per spec 4.C).
	ErrDuplicateName = errors.New("registry: name already in use by a running session")
	// ErrNotFound is returned when name refers to neither a live nor a
	// resumable session.
	ErrNotFound = errors.New("registry: session not found")
	// ErrForbiddenCommand is returned when a dashboard-originated create
	// names a command the Command Policy does not whitelist.
	ErrForbiddenCommand = errors.New("registry: command not permitted for this source")
)

// CreateOptions captures the parameters of a Create call.
type CreateOptions struct {
	Name   string
	Command string
	Cwd    string
	Env    map[string]string
	Rows   uint16
	Cols   uint16
	Source constants.CreateSource
}

// Registry holds the live and resumable session maps and persists
// resumable metadata under sessionsDir.
type Registry struct {
	sessionsDir string
	policy      policy.Provider

	mu        sync.Mutex
	live      map[string]*session.Session
	liveIDs   map[string]string // name -> session id, mirrors live
	resumable map[string]session.Projection
}

// New constructs a Registry rooted at sessionsDir and immediately loads
// every persisted resumable session whose status is exited and whose
// resume_id is set, matching the original's startup scan.
func New(sessionsDir string, provider policy.Provider) (*Registry, error) {
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("registry: create sessions dir: %w", err)
	}
	r := &Registry{
		sessionsDir: sessionsDir,
		policy:      provider,
		live:        make(map[string]*session.Session),
		liveIDs:     make(map[string]string),
		resumable:   make(map[string]session.Projection),
	}
	if err := r.loadResumable(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadResumable() error {
	entries, err := os.ReadDir(r.sessionsDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.sessionsDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logrus.Warnf("registry: skipping unreadable metadata %s: %v", path, err)
			continue
		}
		var proj session.Projection
		if err := json.Unmarshal(data, &proj); err != nil {
			logrus.Warnf("registry: skipping corrupt metadata %s: %v", path, err)
			continue
		}
		if proj.Status == constants.SessionExited && proj.ResumeID != "" {
			r.resumable[proj.Name] = proj
		}
	}
	return nil
}

// Create validates name uniqueness, resolves the Command Policy record for
// the command's base token, constructs and starts a Session, persists its
// initial metadata, and returns it.
func (r *Registry) Create(opts CreateOptions) (*session.Session, error) {
	if !session.NameRegexp.MatchString(opts.Name) {
		return nil, ErrInvalidName
	}

	baseCmd, err := policy.BaseCommand(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	record, _ := r.policy.Get(baseCmd)
	if opts.Source == constants.CreateSourceDashboard && !record.Whitelisted {
		return nil, ErrForbiddenCommand
	}

	r.mu.Lock()
	if existing, ok := r.live[opts.Name]; ok {
		if existing.Status() == constants.SessionRunning || existing.Status() == constants.SessionStarting {
			r.mu.Unlock()
			return nil, ErrDuplicateName
		}
		delete(r.live, opts.Name)
		delete(r.liveIDs, opts.Name)
	}
	delete(r.resumable, opts.Name)
	r.mu.Unlock()
	_ = r.deleteMetadataFile(opts.Name)

	id := uuid.NewString()
	sess := session.New(opts.Name, opts.Command, opts.Cwd, opts.Source, r.makeExitCallback(id))
	sess.ResumeFlag = record.ResumeFlag
	sess.ResumeCommand = record.ResumeCommand
	sess.StopSequence = record.StopSequence
	sess.ResumePattern = record.CompiledPattern()
	if opts.Source == constants.CreateSourceCLI {
		sess.ResizeSource = constants.ResizeSourceCLI
	}

	if err := sess.Start(opts.Env, opts.Rows, opts.Cols); err != nil {
		return nil, fmt.Errorf("registry: spawn failed: %w", err)
	}

	r.mu.Lock()
	r.live[opts.Name] = sess
	r.liveIDs[opts.Name] = id
	r.mu.Unlock()

	if err := r.persist(id, sess); err != nil {
		logrus.Warnf("registry: failed to persist metadata for %s: %v", opts.Name, err)
	}

	return sess, nil
}

// Resume reconstructs a command line from a resumable (or just-exited-but-
// not-yet-migrated) entry and delegates to Create.
func (r *Registry) Resume(name string) (*session.Session, error) {
	r.mu.Lock()
	proj, ok := r.resumable[name]
	if !ok {
		if live, liveOK := r.live[name]; liveOK && live.Status() == constants.SessionExited && live.ResumeID() != "" {
			proj = live.ToProjection(r.liveIDs[name])
			ok = true
		}
	}
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	baseCmd, err := policy.BaseCommand(proj.Command)
	if err != nil {
		return nil, err
	}
	record, _ := r.policy.Get(baseCmd)

	var newCommand string
	if record.ResumeCommand != "" {
		newCommand = record.ResumeCommand
	} else {
		flag := proj.ResumeFlag
		if flag == "" {
			flag = "--resume"
		}
		newCommand = stripResumeFlag(proj.Command, flag) + " " + flag + " " + proj.ResumeID
		newCommand = strings.TrimSpace(newCommand)
	}

	return r.Create(CreateOptions{
		Name:    name,
		Command: newCommand,
		Cwd:     proj.Cwd,
		Rows:    proj.Rows,
		Cols:    proj.Cols,
		Source:  constants.CreateSourceCLI,
	})
}

// stripResumeFlag removes an existing "<flag> <token>" occurrence from
// command so repeated resumes do not accumulate "--resume X --resume Y".
func stripResumeFlag(command, flag string) string {
	args, err := pty.SplitCommand(command)
	if err != nil {
		return command
	}
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == flag && i+1 < len(args) {
			i++
			continue
		}
		out = append(out, args[i])
	}
	return strings.Join(out, " ")
}

// Remove hard-kills the live session (if any) and deletes its metadata.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	sess, ok := r.live[name]
	_, resumableOK := r.resumable[name]
	delete(r.resumable, name)
	r.mu.Unlock()

	if !ok && !resumableOK {
		return ErrNotFound
	}
	if ok {
		sess.Kill()
	}
	return r.deleteMetadataFile(name)
}

// GracefulStop begins the interrupt sequence on a live session; the exit
// callback will migrate it to resumable iff a resume token is captured.
func (r *Registry) GracefulStop(name string) error {
	r.mu.Lock()
	sess, ok := r.live[name]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	sess.Interrupt(session.DefaultGracefulStopTimeout)
	return nil
}

// DismissResumable drops a resumable entry and its metadata file without
// attempting to resume it.
func (r *Registry) DismissResumable(name string) error {
	r.mu.Lock()
	_, ok := r.resumable[name]
	delete(r.resumable, name)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return r.deleteMetadataFile(name)
}

// Get returns the live session for name, if any.
func (r *Registry) Get(name string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[name]
	return s, ok
}

// GetResumable returns the resumable projection for name, if any.
func (r *Registry) GetResumable(name string) (session.Projection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.resumable[name]
	return p, ok
}

// ListAll returns the union of live and resumable projections.
func (r *Registry) ListAll() []session.Projection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Projection, 0, len(r.live)+len(r.resumable))
	for name, sess := range r.live {
		out = append(out, sess.ToProjection(r.liveIDs[name]))
	}
	for _, proj := range r.resumable {
		out = append(out, proj)
	}
	return out
}

// GetProjection returns a session's projection from whichever map
// currently holds it, live or resumable — the single read path transport
// adapters use so they never need to know which map a session lives in.
func (r *Registry) GetProjection(name string) (session.Projection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.live[name]; ok {
		return s.ToProjection(r.liveIDs[name]), true
	}
	if p, ok := r.resumable[name]; ok {
		return p, true
	}
	return session.Projection{}, false
}

// LiveNames returns the set of currently-live session names, used by the
// Worktree Manager's Reconcile to detect crashed sessions.
func (r *Registry) LiveNames() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.live))
	for name := range r.live {
		out[name] = true
	}
	return out
}

// CleanupAll hard-removes every live session; called on daemon shutdown.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.live))
	for _, s := range r.live {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Kill()
	}
}

// makeExitCallback returns the one-way callback handle passed to
// session.New: the Session holds it, not the Registry (see SPEC_FULL.md
// section 9's note on cyclic ownership).
func (r *Registry) makeExitCallback(id string) session.ExitCallback {
	return func(s *session.Session) {
		r.mu.Lock()
		delete(r.live, s.Name)
		delete(r.liveIDs, s.Name)
		resumeID := s.ResumeID()
		if resumeID != "" {
			r.resumable[s.Name] = s.ToProjection(id)
		}
		r.mu.Unlock()

		if resumeID != "" {
			if err := r.persist(id, s); err != nil {
				logrus.Warnf("registry: failed to persist resumable metadata for %s: %v", s.Name, err)
			}
		} else {
			if err := r.deleteMetadataFile(s.Name); err != nil {
				logrus.Warnf("registry: failed to delete metadata for %s: %v", s.Name, err)
			}
		}
	}
}

// persist atomically writes a session's projection, matching the
// write-tempfile-then-rename idiom used for process manager state.
func (r *Registry) persist(id string, s *session.Session) error {
	proj := s.ToProjection(id)
	data, err := json.MarshalIndent(proj, "", "  ")
	if err != nil {
		return err
	}
	return r.atomicWrite(r.metadataPath(s.Name), data)
}

func (r *Registry) atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (r *Registry) deleteMetadataFile(name string) error {
	err := os.Remove(r.metadataPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (r *Registry) metadataPath(name string) string {
	return filepath.Join(r.sessionsDir, sanitizeFilename(name)+".json")
}

// sanitizeFilename keeps the metadata file name filesystem-safe even
// though session names may contain spaces (see NameRegexp).
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "_")
	return replacer.Replace(name)
}
