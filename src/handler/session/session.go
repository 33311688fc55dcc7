// Package session implements the PTY Session engine: one pseudo-terminal
// plus a rolling output buffer, a fan-out subscriber set, an exit monitor
// that extracts resume tokens, and a graceful-vs-hard stop state machine.
package session

import (
	"context"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"conductor/src/handler/constants"
	"conductor/src/handler/pty"
)

const (
	// BufferMaxBytes is the default rolling-buffer cap.
	BufferMaxBytes = 1_000_000

	// subscriberChanCap is the capacity of each subscriber's channel. A full
	// channel means that subscriber is slow; its chunk is dropped rather
	// than blocking the session.
	subscriberChanCap = 1000

	// readChunkSize is the maximum number of bytes read from the PTY per
	// readLoop iteration.
	readChunkSize = 64 * 1024

	// resumeWindowBytes is how much of the tail of the buffer is scanned
	// for a resume token at exit.
	resumeWindowBytes = 4096

	// exitSentinelText is broadcast to every subscriber immediately before
	// the channel-close sentinel.
	exitSentinelText = "\r\n[Process exited]\r\n"

	// pollInterval bounds how often the exit monitor calls Wait's
	// non-blocking equivalent; Go's blocking Wait makes this moot (see
	// monitorExit), but the constant documents the spec's polling contract
	// for anyone porting the monitor to a non-blocking Wait.
	pollInterval = 500 * time.Millisecond

	// drainYield lets any in-flight readLoop iteration observe EOF before
	// the monitor performs its own final drain.
	drainYield = 100 * time.Millisecond

	// Graceful-stop stop-sequence timing.
	stopSequenceFirstDelay = 2 * time.Second
	stopSequenceStepDelay  = 200 * time.Millisecond

	// DefaultGracefulStopTimeout is used when the caller does not specify
	// one to Interrupt.
	DefaultGracefulStopTimeout = 30 * time.Second
)

// NameRegexp validates a session name. Interior spaces are permitted here;
// the Worktree Manager's branch-name sanitizer is what collapses them,
// producing the documented asymmetry between session names and branch
// names.
var NameRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.~-]{0,63}$`)

// defaultResumePattern matches the first whitespace-delimited token after
// "--resume" when no Command Policy resume_pattern is configured.
var defaultResumePattern = regexp.MustCompile(`--resume\s+(\S+)`)

// ansiStripPattern strips CSI, OSC, two-char and other common escape forms
// from a byte slice so the resume-token regex runs over plain text.
var ansiStripPattern = regexp.MustCompile(
	"\x1b(?:" +
		`\[[0-?]*[ -/]*[@-~]` + // CSI ... final byte
		`|\][^\x07\x1b]*(?:\x07|\x1b\\)` + // OSC ... BEL or ST
		`|[()][A-Za-z0-9]` + // charset designation
		`|[=>]` + // keypad application/numeric
		`|[0-9;]*[a-zA-Z]` + // bare line-attribute/two-char forms
		`|[@-Z\\-_]` + // remaining two-char escapes
		")",
)

// Subscriber is a bounded fan-out channel for one consumer of a session's
// output stream. The channel is closed (not sent a nil) once the session's
// exit protocol reaches its sentinel step — matching Go idiom for an
// end-of-stream signal while preserving the "null sentinel is the last
// item" contract.
type Subscriber struct {
	Ch chan []byte
}

// ExitCallback is invoked once the exit protocol has fully settled a
// session (status, resume_id, buffer, and subscriber teardown all final).
type ExitCallback func(s *Session)

// Session is one PTY-backed interactive process.
type Session struct {
	Name           string
	Command        string
	Cwd            string
	Source         constants.CreateSource
	PID            int
	StartTime      time.Time
	CreatedAt      time.Time
	ResizeSource   constants.ResizeSource
	ResumeFlag     string
	ResumeCommand  string
	StopSequence   []string
	ResumePattern  *regexp.Regexp

	mu            sync.Mutex
	status        constants.SessionStatus
	rows, cols    uint16
	exitCode      int
	resumeID      string
	killRequested bool

	adapter pty.Adapter

	bufMu     sync.Mutex
	bufChunks [][]byte
	bufLen    int

	subMu       sync.Mutex
	subscribers map[*Subscriber]struct{}

	exitOnce sync.Once
	doneCh   chan struct{}

	ctx        context.Context
	cancel     context.CancelFunc
	onExit     ExitCallback
	stopWriter context.CancelFunc
}

// New constructs a Session that has not yet been started.
func New(name, command, cwd string, source constants.CreateSource, onExit ExitCallback) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		Name:        name,
		Command:     command,
		Cwd:         cwd,
		Source:      source,
		CreatedAt:   time.Now().UTC(),
		status:      constants.SessionStarting,
		subscribers: make(map[*Subscriber]struct{}),
		doneCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		onExit:      onExit,
	}
}

// Start spawns the PTY and begins the reader and exit-monitor goroutines.
func (s *Session) Start(env map[string]string, rows, cols uint16) error {
	adapter, err := pty.Spawn(s.Command, s.Cwd, env, pty.Size{Rows: rows, Cols: cols})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.adapter = adapter
	s.PID = adapter.Pid()
	s.StartTime = time.Now().UTC()
	s.rows, s.cols = rows, cols
	s.status = constants.SessionRunning
	s.mu.Unlock()

	go s.readLoop()
	go s.monitorExit()
	return nil
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() constants.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ExitCode returns the child's exit code; meaningful only once Status is
// exited or killed.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// ResumeID returns the captured resume token, if any.
func (s *Session) ResumeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeID
}

// Dimensions returns the last-known terminal size.
func (s *Session) Dimensions() (rows, cols uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// Done is closed once the exit protocol has finished (after the exit
// callback has run).
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// readLoop is the single goroutine that reads the PTY and is therefore the
// sole writer of rolling_buffer, preserving in-order delivery to every
// subscriber.
func (s *Session) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.adapter.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.appendBuffer(chunk)
			s.broadcast(chunk)
		}
		if err != nil {
			return
		}
	}
}

// appendBuffer records a PTY read as one more chunk in the rolling buffer,
// then drops whole chunks from the front until the total is back under cap.
// Because whole chunks are dropped, the buffer can hold up to one chunk's
// worth of bytes less than the cap; only a single chunk that is itself
// larger than the cap is ever kept above it. In exchange replay never needs
// to scan the buffer for a safe cut point, and a chunk is never split midway
// through an escape sequence.
func (s *Session) appendBuffer(data []byte) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	s.bufChunks = append(s.bufChunks, data)
	s.bufLen += len(data)

	for s.bufLen > BufferMaxBytes && len(s.bufChunks) > 1 {
		dropped := s.bufChunks[0]
		s.bufChunks = s.bufChunks[1:]
		s.bufLen -= len(dropped)
	}
}

// GetBuffer returns a copy of the current rolling buffer, flattened from its
// backing chunks.
func (s *Session) GetBuffer() []byte {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if s.bufLen == 0 {
		return nil
	}
	out := make([]byte, 0, s.bufLen)
	for _, chunk := range s.bufChunks {
		out = append(out, chunk...)
	}
	return out
}

// broadcast fans a chunk out to every subscriber, dropping it for any
// subscriber whose channel is full (slow-consumer isolation). It runs over
// a snapshot of the subscriber set so concurrent subscribe/unsubscribe
// never races a send.
func (s *Session) broadcast(data []byte) {
	s.subMu.Lock()
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		select {
		case sub.Ch <- data:
		default:
		}
	}
}

// Subscribe registers a fresh subscriber. The caller should call GetBuffer
// immediately afterward to replay prior output.
func (s *Session) Subscribe() *Subscriber {
	sub := &Subscriber{Ch: make(chan []byte, subscriberChanCap)}
	s.subMu.Lock()
	s.subscribers[sub] = struct{}{}
	s.subMu.Unlock()
	return sub
}

// Unsubscribe idempotently removes a subscriber.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.subMu.Lock()
	delete(s.subscribers, sub)
	s.subMu.Unlock()
}

// SendInput writes bytes to the PTY. No-op once the session has exited.
func (s *Session) SendInput(p []byte) error {
	s.mu.Lock()
	adapter := s.adapter
	status := s.status
	s.mu.Unlock()
	if adapter == nil || status == constants.SessionExited || status == constants.SessionKilled {
		return nil
	}
	_, err := adapter.Write(p)
	return err
}

// Resize updates the stored dimensions and propagates to the PTY.
func (s *Session) Resize(rows, cols uint16, source constants.ResizeSource) error {
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	s.ResizeSource = source
	adapter := s.adapter
	s.mu.Unlock()
	if adapter == nil {
		return nil
	}
	return adapter.Resize(pty.Size{Rows: rows, Cols: cols})
}

// Interrupt begins a graceful stop: if a stop sequence is configured it is
// written with the documented timing, otherwise SIGINT is sent to the
// process group. Either way an escalation timer hard-kills the session
// after timeout if it has not exited.
func (s *Session) Interrupt(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultGracefulStopTimeout
	}

	s.mu.Lock()
	if s.status != constants.SessionRunning {
		s.mu.Unlock()
		return
	}
	s.status = constants.SessionStopping
	adapter := s.adapter
	seq := append([]string(nil), s.StopSequence...)
	s.mu.Unlock()

	if len(seq) > 0 {
		go s.runStopSequence(seq)
	} else if adapter != nil {
		if err := adapter.Kill(syscall.SIGINT); err != nil {
			logrus.Warnf("session %s: SIGINT failed: %v", s.Name, err)
		}
	}

	go s.escalate(timeout)
}

// runStopSequence writes each item with 2.0s after the first and 0.2s
// between subsequent items, stopping early if the session exits or is
// closed.
func (s *Session) runStopSequence(seq []string) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.stopWriter = cancel
	s.mu.Unlock()
	defer cancel()

	for i, item := range seq {
		delay := stopSequenceStepDelay
		if i == 0 {
			delay = stopSequenceFirstDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-s.doneCh:
			return
		}
		if err := s.SendInput([]byte(item)); err != nil {
			return
		}
	}
}

// escalate hard-kills the session if it is still stopping once timeout
// elapses.
func (s *Session) escalate(timeout time.Duration) {
	select {
	case <-time.After(timeout):
	case <-s.doneCh:
		return
	}
	s.mu.Lock()
	stillStopping := s.status == constants.SessionStopping
	s.mu.Unlock()
	if stillStopping {
		s.Kill()
	}
}

// Kill hard-stops the session: SIGTERM to the process group, letting the
// exit monitor observe the exit and run the normal exit protocol with
// status forced to killed.
func (s *Session) Kill() {
	s.mu.Lock()
	if s.status == constants.SessionExited || s.status == constants.SessionKilled {
		s.mu.Unlock()
		return
	}
	s.status = constants.SessionStopping
	s.killRequested = true
	adapter := s.adapter
	s.mu.Unlock()

	if adapter != nil {
		if err := adapter.Kill(syscall.SIGTERM); err != nil {
			logrus.Warnf("session %s: SIGTERM failed: %v", s.Name, err)
		}
	}
}

// monitorExit waits for the child to exit, then runs the exit protocol in
// the exact documented order: drain, extract resume token, publish status,
// broadcast sentinel, close subscriber channels, close PTY, invoke
// callback.
func (s *Session) monitorExit() {
	exitCode, _ := s.adapter.Wait()

	// Step 2: yield briefly so any in-flight readLoop iteration has a
	// chance to observe EOF and deliver its last chunk first.
	time.Sleep(drainYield)

	// Step 3: final drain until the adapter reports a non-retryable error.
	s.finalDrain()

	// Step 4: resume-token extraction over the ANSI-stripped tail.
	resumeID := s.extractResumeToken()

	// Step 5: publish status. A session that went through Kill ends as
	// killed; otherwise this is a normal exit.
	s.mu.Lock()
	wasKilled := s.killRequested
	if wasKilled {
		s.status = constants.SessionKilled
	} else {
		s.status = constants.SessionExited
	}
	s.exitCode = exitCode
	s.resumeID = resumeID
	finalStatus := s.status
	s.mu.Unlock()

	logrus.Infof("session %s exited: status=%s code=%d resume_id=%q", s.Name, finalStatus, exitCode, resumeID)

	// Step 6a: broadcast the textual sentinel.
	s.appendBuffer([]byte(exitSentinelText))
	s.broadcast([]byte(exitSentinelText))

	// Step 6b: close every subscriber channel — the Go equivalent of a null
	// sentinel being the last item any subscriber receives.
	s.subMu.Lock()
	for sub := range s.subscribers {
		close(sub.Ch)
	}
	s.subscribers = make(map[*Subscriber]struct{})
	s.subMu.Unlock()

	// Step 6c: close the PTY.
	_ = s.adapter.Close()

	// Cancel the monitor context and signal Done before invoking the exit
	// callback so the Registry observes a fully-settled session.
	s.cancel()
	s.exitOnce.Do(func() { close(s.doneCh) })

	// Step 6d: invoke the exit callback.
	if s.onExit != nil {
		s.onExit(s)
	}
}

// killedBySignal reports whether exitCode looks like the 128+signal
// convention this package's pty.Adapter.Wait uses for signal-terminated
// children.
func killedBySignal(exitCode int) bool {
	return exitCode >= 128
}

// finalDrain performs additional non-blocking-equivalent reads until the
// adapter returns a non-retryable error, ensuring no trailing output is
// lost between the child's exit and the reader goroutine's own EOF.
func (s *Session) finalDrain() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.adapter.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.appendBuffer(chunk)
			s.broadcast(chunk)
		}
		if err != nil && !pty.IsRetryableRead(err) {
			return
		}
		if n == 0 && err == nil {
			return
		}
	}
}

// extractResumeToken strips ANSI escapes from the last resumeWindowBytes of
// the buffer and searches for ResumePattern (or the default pattern).
func (s *Session) extractResumeToken() string {
	full := s.GetBuffer()
	n := len(full)
	start := 0
	if n > resumeWindowBytes {
		start = n - resumeWindowBytes
	}
	tail := full[start:]

	stripped := ansiStripPattern.ReplaceAll(tail, nil)

	pattern := s.ResumePattern
	if pattern == nil {
		pattern = defaultResumePattern
	}
	m := pattern.FindSubmatch(stripped)
	if len(m) < 2 {
		return ""
	}
	return string(m[1])
}

// Projection is the JSON-serializable view of a session persisted to disk
// when it becomes resumable, and returned by list/get admin calls.
type Projection struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Command       string                  `json:"command"`
	Status        constants.SessionStatus `json:"status"`
	PID           int                     `json:"pid"`
	StartTime     time.Time               `json:"start_time"`
	CreatedAt     time.Time               `json:"created_at"`
	ExitCode      int                     `json:"exit_code"`
	Cwd           string                  `json:"cwd"`
	Rows          uint16                  `json:"rows"`
	Cols          uint16                  `json:"cols"`
	ResizeSource  constants.ResizeSource  `json:"resize_source,omitempty"`
	ResumeID      string                  `json:"resume_id,omitempty"`
	ResumeFlag    string                  `json:"resume_flag,omitempty"`
	ResumeCommand string                  `json:"resume_command,omitempty"`
}

// ToProjection returns the to_dict() equivalent used for persistence and
// admin responses. stop_sequence is deliberately omitted: it is operational
// detail used internally by Interrupt, not user-facing configuration (see
// the Open Questions decision in SPEC_FULL.md section 9).
func (s *Session) ToProjection(id string) Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Projection{
		ID:            id,
		Name:          s.Name,
		Command:       s.Command,
		Status:        s.status,
		PID:           s.PID,
		StartTime:     s.StartTime,
		CreatedAt:     s.CreatedAt,
		ExitCode:      s.exitCode,
		Cwd:           s.Cwd,
		Rows:          s.rows,
		Cols:          s.cols,
		ResizeSource:  s.ResizeSource,
		ResumeID:      s.resumeID,
		ResumeFlag:    s.ResumeFlag,
		ResumeCommand: s.ResumeCommand,
	}
}
