// Package manager implements the Registry & Event Bus: the central directory
// of live agent Sessions keyed by UUID, plus the single process-wide
// broadcast of AgentEvent values consumed by every Connection Handler.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ianremillard/ptybridge/internal/agent"
	"github.com/ianremillard/ptybridge/internal/broadcast"
)

// ErrAgentNotFound is returned by any operation addressing an id not
// currently in the registry.
var ErrAgentNotFound = errors.New("manager: agent not found")

const eventBusCapacity = 1024

// AgentEventKind discriminates the AgentEvent union.
type AgentEventKind int

const (
	EventSpawned AgentEventKind = iota
	EventOutput
	EventExited
	EventResized
)

// AgentEvent is published on the Manager's process-wide event bus.
type AgentEvent struct {
	Kind        AgentEventKind
	AgentID     uuid.UUID
	ProjectPath string
	Cols        uint16
	Rows        uint16
	Data        []byte
	ExitCode    *int
	Reason      string
}

// AgentInfo is a read-only snapshot of a Session's public state.
type AgentInfo struct {
	AgentID     uuid.UUID
	ProjectPath string
	State       agent.State
	Cols        uint16
	Rows        uint16
}

// Manager indexes live sessions and fans their output/exit traffic into one
// event bus.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*agent.Session

	eventHub *broadcast.Hub[AgentEvent]
	log      *slog.Logger
}

// New constructs an empty Manager.
func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sessions: make(map[uuid.UUID]*agent.Session),
		eventHub: broadcast.New[AgentEvent](eventBusCapacity),
		log:      log,
	}
}

// Subscribe returns a subscription to the process-wide event bus.
func (m *Manager) Subscribe() *broadcast.Subscription[AgentEvent] {
	return m.eventHub.Subscribe()
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SpawnAgent constructs a Session, spawns it, wires per-session forwarding,
// inserts it into the registry, and publishes Spawned. On spawn failure the
// registry is left untouched.
func (m *Manager) SpawnAgent(config agent.SpawnConfig) (uuid.UUID, error) {
	session := agent.New(config)
	agentID := session.ID()

	if err := session.Spawn(); err != nil {
		return uuid.Nil, err
	}

	m.setupForwarding(session)

	m.mu.Lock()
	m.sessions[agentID] = session
	m.mu.Unlock()

	m.eventHub.Publish(AgentEvent{
		Kind:        EventSpawned,
		AgentID:     agentID,
		ProjectPath: config.ProjectPath,
		Cols:        session.Cols(),
		Rows:        session.Rows(),
	})

	m.log.Info("agent spawned", "agent_id", agentID, "project_path", config.ProjectPath)
	return agentID, nil
}

// setupForwarding subscribes to a freshly spawned Session's output and exit
// channels and forwards them onto the Manager's event bus. The exit forwarder
// is the single path by which a session is removed from the registry.
func (m *Manager) setupForwarding(session *agent.Session) {
	agentID := session.ID()
	outputSub := session.SubscribeOutput()
	exitSub := session.SubscribeExit()

	go func() {
		for {
			select {
			case chunk, ok := <-outputSub.C():
				if !ok {
					return
				}
				m.eventHub.Publish(AgentEvent{Kind: EventOutput, AgentID: agentID, Data: chunk.Data})
				if n := outputSub.Lag(); n > 0 {
					m.log.Warn("agent output receiver lagged", "agent_id", agentID, "dropped", n)
				}
			case ev, ok := <-exitSub.C():
				if !ok {
					return
				}
				m.eventHub.Publish(AgentEvent{
					Kind:     EventExited,
					AgentID:  agentID,
					ExitCode: ev.ExitCode,
					Reason:   ev.Reason,
				})

				m.mu.Lock()
				delete(m.sessions, agentID)
				m.mu.Unlock()

				m.log.Info("agent removed from registry after exit", "agent_id", agentID)
				outputSub.Unsubscribe()
				return
			}
		}
	}()
}

// KillAgent terminates the agent. Removal from the registry happens only in
// the exit forwarder (see setupForwarding), never here.
func (m *Manager) KillAgent(agentID uuid.UUID) error {
	session, err := m.get(agentID)
	if err != nil {
		return err
	}
	session.Kill()
	return nil
}

// SendInput routes input to the given agent's stdin.
func (m *Manager) SendInput(agentID uuid.UUID, input []byte) error {
	session, err := m.get(agentID)
	if err != nil {
		return err
	}
	return session.WriteInput(input)
}

// ResizeAgent resizes the given agent's terminal and publishes Resized.
func (m *Manager) ResizeAgent(agentID uuid.UUID, cols, rows uint16) error {
	session, err := m.get(agentID)
	if err != nil {
		return err
	}
	if err := session.Resize(cols, rows); err != nil {
		return err
	}
	m.eventHub.Publish(AgentEvent{Kind: EventResized, AgentID: agentID, Cols: cols, Rows: rows})
	return nil
}

// GetAgentStatus returns a snapshot of the given agent's state.
func (m *Manager) GetAgentStatus(agentID uuid.UUID) (AgentInfo, error) {
	session, err := m.get(agentID)
	if err != nil {
		return AgentInfo{}, err
	}
	return infoFor(session), nil
}

// ListAgents returns a snapshot of every live session.
func (m *Manager) ListAgents() []AgentInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AgentInfo, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, infoFor(session))
	}
	return out
}

// AgentExists reports whether agentID is currently registered.
func (m *Manager) AgentExists(agentID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[agentID]
	return ok
}

// AgentState returns the lifecycle state of the given agent.
func (m *Manager) AgentState(agentID uuid.UUID) (agent.State, error) {
	session, err := m.get(agentID)
	if err != nil {
		return 0, err
	}
	return session.State(), nil
}

// ShutdownAll kills every registered agent. Errors are logged, not raised.
func (m *Manager) ShutdownAll() {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.KillAgent(id); err != nil {
			m.log.Warn("error killing agent during shutdown", "agent_id", id, "error", err)
		}
	}
}

func (m *Manager) get(agentID uuid.UUID) (*agent.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return session, nil
}

func infoFor(session *agent.Session) AgentInfo {
	return AgentInfo{
		AgentID:     session.ID(),
		ProjectPath: session.ProjectPath(),
		State:       session.State(),
		Cols:        session.Cols(),
		Rows:        session.Rows(),
	}
}
