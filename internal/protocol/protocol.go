// Package protocol defines the wire envelope and message schema exchanged
// over the bridge's WebSocket connection: a JSON envelope carrying a
// protocol version and a "type" discriminator, with bounds-checked fields
// inlined per variant.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol version bounds.
const (
	ProtocolVersion    = 1
	MinProtocolVersion = 1
)

// Field bounds, ported from the protocol constants of the bridge this
// schema replaces.
const (
	MaxTerminalCols     = 500
	MaxTerminalRows     = 200
	DefaultTerminalCols = 80
	DefaultTerminalRows = 24
	MaxInputLength      = 1 << 20 // 1 MiB
	MaxPathLength       = 4096
	MaxPresetNameLength = 256
	MinSignal           = 1
	MaxSignal           = 31
)

// Client message type discriminators.
const (
	TypePing            = "ping"
	TypeAuthenticate    = "authenticate"
	TypeSpawnAgent      = "spawn_agent"
	TypeAgentInput      = "agent_input"
	TypeKillAgent       = "kill_agent"
	TypeResizeTerminal  = "resize_terminal"
	TypeListAgents      = "list_agents"
	TypeGetAgentStatus  = "get_agent_status"
)

// Server message type discriminators.
const (
	TypeWelcome      = "welcome"
	TypePong         = "pong"
	TypeAgentSpawned = "agent_spawned"
	TypeAgentOutput  = "agent_output"
	TypeAgentExited  = "agent_exited"
	TypeAgentResized = "agent_resized"
	TypeAgentList    = "agent_list"
	TypeAgentStatus  = "agent_status"
	TypeError        = "error"
	TypeAuthSuccess  = "auth_success"
)

// Error codes carried in error.code.
const (
	CodeInvalidMessage     = "invalid_message"
	CodeAgentNotFound      = "agent_not_found"
	CodeSpawnFailed        = "spawn_failed"
	CodeAuthRequired       = "auth_required"
	CodeAuthFailed         = "auth_failed"
	CodeRateLimited        = "rate_limited"
	CodeInternalError      = "internal_error"
	CodeInvalidPath        = "invalid_path"
	CodeUnsupportedVersion = "unsupported_version"
)

// ErrUnsupportedVersion is returned by Decode when version < MinProtocolVersion.
var ErrUnsupportedVersion = errors.New("protocol: unsupported version")

// ErrInvalidMessage is returned by Decode/Validate for malformed or
// out-of-bounds messages.
var ErrInvalidMessage = errors.New("protocol: invalid message")

// ClientMessage is the flattened union of every client-to-server variant.
// Only the fields relevant to Type are populated; the rest are zero values.
type ClientMessage struct {
	Version int    `json:"version"`
	Type    string `json:"type"`

	Seq uint64 `json:"seq,omitempty"`

	Token string `json:"token,omitempty"`

	ProjectPath string `json:"project_path,omitempty"`
	Preset      string `json:"preset,omitempty"`
	Cols        *int   `json:"cols,omitempty"`
	Rows        *int   `json:"rows,omitempty"`

	AgentID string `json:"agent_id,omitempty"`
	Input   string `json:"input,omitempty"`
	Signal  *int   `json:"signal,omitempty"`
}

// Decode parses a raw WebSocket text frame into a ClientMessage, enforcing
// the envelope version and the per-variant validation rules.
func Decode(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Version < MinProtocolVersion {
		return nil, fmt.Errorf("%w: version %d < %d", ErrUnsupportedVersion, msg.Version, MinProtocolVersion)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate enforces the per-variant field bounds from the schema. It does
// not check the envelope version.
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case TypePing:
		return nil
	case TypeAuthenticate:
		if m.Token == "" {
			return fmt.Errorf("%w: authenticate requires token", ErrInvalidMessage)
		}
		return nil
	case TypeSpawnAgent:
		if m.ProjectPath == "" || len(m.ProjectPath) > MaxPathLength {
			return fmt.Errorf("%w: spawn_agent.project_path out of bounds", ErrInvalidMessage)
		}
		if m.Preset != "" && (len(m.Preset) < 1 || len(m.Preset) > MaxPresetNameLength) {
			return fmt.Errorf("%w: spawn_agent.preset out of bounds", ErrInvalidMessage)
		}
		if err := validateDims(m.Cols, m.Rows); err != nil {
			return err
		}
		return nil
	case TypeAgentInput:
		if m.AgentID == "" {
			return fmt.Errorf("%w: agent_input requires agent_id", ErrInvalidMessage)
		}
		if len(m.Input) > MaxInputLength {
			return fmt.Errorf("%w: agent_input.input exceeds max length", ErrInvalidMessage)
		}
		return nil
	case TypeKillAgent:
		if m.AgentID == "" {
			return fmt.Errorf("%w: kill_agent requires agent_id", ErrInvalidMessage)
		}
		if m.Signal != nil && (*m.Signal < MinSignal || *m.Signal > MaxSignal) {
			return fmt.Errorf("%w: kill_agent.signal out of bounds", ErrInvalidMessage)
		}
		return nil
	case TypeResizeTerminal:
		if m.AgentID == "" {
			return fmt.Errorf("%w: resize_terminal requires agent_id", ErrInvalidMessage)
		}
		return validateDims(m.Cols, m.Rows)
	case TypeListAgents:
		return nil
	case TypeGetAgentStatus:
		if m.AgentID == "" {
			return fmt.Errorf("%w: get_agent_status requires agent_id", ErrInvalidMessage)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
}

func validateDims(cols, rows *int) error {
	if cols != nil && (*cols < 1 || *cols > MaxTerminalCols) {
		return fmt.Errorf("%w: cols out of bounds", ErrInvalidMessage)
	}
	if rows != nil && (*rows < 1 || *rows > MaxTerminalRows) {
		return fmt.Errorf("%w: rows out of bounds", ErrInvalidMessage)
	}
	return nil
}

// ColsOrDefault and RowsOrDefault apply the schema's documented defaults.
func (m *ClientMessage) ColsOrDefault() int {
	if m.Cols != nil {
		return *m.Cols
	}
	return DefaultTerminalCols
}

func (m *ClientMessage) RowsOrDefault() int {
	if m.Rows != nil {
		return *m.Rows
	}
	return DefaultTerminalRows
}

// AgentSummary is one entry of an agent_list response.
type AgentSummary struct {
	AgentID     string `json:"agent_id"`
	ProjectPath string `json:"project_path"`
	State       string `json:"state"`
	Cols        int    `json:"cols"`
	Rows        int    `json:"rows"`
}

// ServerMessage is the flattened union of every server-to-client variant.
type ServerMessage struct {
	Version int    `json:"version"`
	Type    string `json:"type"`

	ServerID string `json:"server_id,omitempty"`
	Seq      uint64 `json:"seq,omitempty"`

	AgentID     string `json:"agent_id,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
	Cols        int    `json:"cols,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	Data        string `json:"data,omitempty"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	Reason      string `json:"reason,omitempty"`

	Agents []AgentSummary `json:"agents,omitempty"`
	State  string         `json:"state,omitempty"`

	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Encode marshals a ServerMessage, stamping the current ProtocolVersion.
func Encode(msg ServerMessage) ([]byte, error) {
	msg.Version = ProtocolVersion
	return json.Marshal(msg)
}

func Welcome(serverID string) ServerMessage {
	return ServerMessage{Type: TypeWelcome, ServerID: serverID}
}

func Pong(seq uint64) ServerMessage {
	return ServerMessage{Type: TypePong, Seq: seq}
}

func AuthSuccess() ServerMessage {
	return ServerMessage{Type: TypeAuthSuccess}
}

func AgentSpawned(agentID, projectPath string, cols, rows int) ServerMessage {
	return ServerMessage{Type: TypeAgentSpawned, AgentID: agentID, ProjectPath: projectPath, Cols: cols, Rows: rows}
}

func AgentOutput(agentID string, data []byte) ServerMessage {
	return ServerMessage{Type: TypeAgentOutput, AgentID: agentID, Data: string(data)}
}

func AgentExited(agentID string, exitCode *int, reason string) ServerMessage {
	return ServerMessage{Type: TypeAgentExited, AgentID: agentID, ExitCode: exitCode, Reason: reason}
}

func AgentResized(agentID string, cols, rows int) ServerMessage {
	return ServerMessage{Type: TypeAgentResized, AgentID: agentID, Cols: cols, Rows: rows}
}

func AgentList(agents []AgentSummary) ServerMessage {
	return ServerMessage{Type: TypeAgentList, Agents: agents}
}

func AgentStatus(agentID, projectPath, state string, cols, rows int) ServerMessage {
	return ServerMessage{Type: TypeAgentStatus, AgentID: agentID, ProjectPath: projectPath, State: state, Cols: cols, Rows: rows}
}

func Error(message, code string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: message, Code: code}
}

func AgentError(agentID, message, code string) ServerMessage {
	return ServerMessage{Type: TypeError, AgentID: agentID, Message: message, Code: code}
}
