// Package agent implements the Session state machine: a lifecycle-owning
// wrapper around a ptyproc.Handle with identity, output/exit broadcast
// channels, and the Stopped -> Starting -> Running -> Stopping -> Stopped
// transitions.
package agent

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ianremillard/ptybridge/internal/broadcast"
	"github.com/ianremillard/ptybridge/internal/ptyproc"
)

// State is a Session's position in its lifecycle.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Sentinel errors surfaced by Session operations.
var (
	ErrInvalidPath    = errors.New("agent: invalid project path")
	ErrAlreadyRunning = errors.New("agent: session already running")
	ErrSpawnFailed    = errors.New("agent: spawn failed")
	ErrNotRunning     = errors.New("agent: session has no running pty")
)

const (
	// DefaultCommand is run, with the SpawnConfig's Args, when a SpawnConfig
	// omits Command.
	DefaultCommand = "claude"

	outputBroadcastCapacity = 1024
	exitBroadcastCapacity   = 1
	forwarderPollInterval   = 10 * time.Millisecond
)

// SpawnConfig describes how to start a Session's child process.
type SpawnConfig struct {
	ProjectPath string
	Cols        uint16
	Rows        uint16
	Preset      string
	Command     string
	Args        []string
	Env         []string
}

// normalized returns a copy with zero-value fields replaced by defaults.
func (c SpawnConfig) normalized() SpawnConfig {
	if c.Cols == 0 {
		c.Cols = 80
	}
	if c.Rows == 0 {
		c.Rows = 24
	}
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	return c
}

// OutputChunk is one published chunk of child output, in arrival order.
type OutputChunk struct {
	Data []byte
}

// ExitEvent is published exactly once per Session, when it transitions to Stopped.
type ExitEvent struct {
	SessionID uuid.UUID
	ExitCode  *int
	Reason    string
}

// Session wraps one ptyproc.Handle with identity, state, and broadcast
// channels. The zero value is not usable; construct with New.
type Session struct {
	id          uuid.UUID
	projectPath string
	preset      string

	mu    sync.RWMutex
	state State
	cols  uint16
	rows  uint16
	proc  *ptyproc.Handle

	outputHub *broadcast.Hub[OutputChunk]
	exitHub   *broadcast.Hub[ExitEvent]

	spawnConfig SpawnConfig

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New constructs a Session in state Stopped from config; it does not spawn
// anything. Spawn() later uses this same config, matching a Session's
// identity being fixed at construction time.
func New(config SpawnConfig) *Session {
	config = config.normalized()
	return &Session{
		id:          uuid.New(),
		projectPath: config.ProjectPath,
		preset:      config.Preset,
		state:       Stopped,
		cols:        config.Cols,
		rows:        config.Rows,
		spawnConfig: config,
		outputHub:   broadcast.New[OutputChunk](outputBroadcastCapacity),
		exitHub:     broadcast.New[ExitEvent](exitBroadcastCapacity),
		shutdown:    make(chan struct{}),
	}
}

// ID returns the Session's stable UUID v4.
func (s *Session) ID() uuid.UUID { return s.id }

// ProjectPath returns the absolute project directory this Session is bound to.
func (s *Session) ProjectPath() string { return s.projectPath }

// Preset returns the preset name supplied at construction, if any.
func (s *Session) Preset() string { return s.preset }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Cols and Rows return the current terminal size.
func (s *Session) Cols() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cols
}

func (s *Session) Rows() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows
}

// Spawn validates the project path, starts the child under a PTY, and
// launches the forwarder task. It fails without side effects if the Session
// is not Stopped, or if the path is invalid.
func (s *Session) Spawn() error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	config := s.spawnConfig

	info, err := os.Stat(config.ProjectPath)
	if err != nil || !info.IsDir() {
		s.mu.Unlock()
		return ErrInvalidPath
	}

	s.state = Starting
	s.cols = config.Cols
	s.rows = config.Rows
	s.mu.Unlock()

	proc, err := ptyproc.Spawn(config.Command, config.Args, config.ProjectPath, config.Env,
		ptyproc.Size{Cols: config.Cols, Rows: config.Rows}, outputBroadcastCapacity)
	if err != nil {
		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	s.mu.Lock()
	s.proc = proc
	s.state = Running
	s.mu.Unlock()

	go s.forward()
	return nil
}

// forward drains the underlying PTY's output into the Session's output
// broadcast and watches for exit, publishing exactly one ExitEvent.
func (s *Session) forward() {
	ticker := time.NewTicker(forwarderPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.drainOutput()
			if s.procExited() {
				s.finish()
				return
			}
		}
	}
}

func (s *Session) drainOutput() {
	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()
	if proc == nil {
		return
	}
	for {
		chunk, ok := proc.TryRecvOutput()
		if !ok {
			return
		}
		s.outputHub.Publish(OutputChunk{Data: chunk})
	}
}

func (s *Session) procExited() bool {
	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()
	return proc != nil && proc.HasExited()
}

func (s *Session) finish() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.state = Stopped
	s.mu.Unlock()

	var info ptyproc.ExitInfo
	if proc != nil {
		info = proc.ExitInfo()
	}
	s.exitHub.Publish(ExitEvent{
		SessionID: s.id,
		ExitCode:  info.ExitCode,
		Reason:    info.Reason.String(),
	})
}

// WriteInput writes bytes to the child's stdin. Fails with ErrNotRunning if
// no PTY is present.
func (s *Session) WriteInput(data []byte) error {
	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()
	if proc == nil {
		return ErrNotRunning
	}
	return proc.Write(data)
}

// Resize updates the child's terminal window size.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	proc := s.proc
	if proc == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.mu.Unlock()

	if err := proc.Resize(cols, rows); err != nil {
		return err
	}

	s.mu.Lock()
	s.cols = cols
	s.rows = rows
	s.mu.Unlock()
	return nil
}

// Kill transitions a Running Session to Stopping and kills the underlying
// PTY. It is idempotent; calling it on a non-Running Session is a no-op.
func (s *Session) Kill() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		proc.Kill()
	}
}

// Close signals the forwarder to stop without publishing an exit event,
// mirroring the handle-drop case: the Session is abandoned, not killed.
func (s *Session) Close() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

// SubscribeOutput returns a subscription to this Session's output broadcast.
func (s *Session) SubscribeOutput() *broadcast.Subscription[OutputChunk] {
	return s.outputHub.Subscribe()
}

// SubscribeExit returns a subscription to this Session's exit broadcast.
func (s *Session) SubscribeExit() *broadcast.Subscription[ExitEvent] {
	return s.exitHub.Subscribe()
}
