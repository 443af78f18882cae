package wsserver

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/coder/websocket"

	"github.com/ianremillard/ptybridge/internal/agent"
	"github.com/ianremillard/ptybridge/internal/config"
	"github.com/ianremillard/ptybridge/internal/manager"
	"github.com/ianremillard/ptybridge/internal/protocol"
)

// inboundFrame is one decoded read from the client, or the error that ended
// the read loop.
type inboundFrame struct {
	data []byte
	err  error
}

// connHandler owns one client connection for its entire lifetime: the
// handshake, the main loop, and dispatch of decoded client messages.
type connHandler struct {
	server *Server
	conn   *websocket.Conn
	log    *slog.Logger

	authenticated bool
}

func (h *connHandler) run(ctx context.Context) {
	defer h.conn.CloseNow()

	if err := h.sendServer(ctx, protocol.Welcome(h.server.serverID)); err != nil {
		return
	}

	if h.server.config.Token != "" {
		if !h.handshake(ctx) {
			return
		}
	} else {
		h.authenticated = true
	}

	inbound := make(chan inboundFrame)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go h.readLoop(readCtx, inbound)

	sub := h.server.mgr.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case frame := <-inbound:
			if frame.err != nil {
				h.log.Debug("connection closed", "error", frame.err)
				return
			}
			h.handleFrame(ctx, frame.data)

		case ev := <-sub.C():
			h.forwardEvent(ctx, ev)

		case <-h.server.shutdown:
			_ = h.conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case <-ctx.Done():
			return
		}
	}
}

// readLoop blocks on successive conn.Read calls and republishes them onto
// inbound; coder/websocket answers control-frame pings transparently, so the
// only frames seen here are Text/Binary/Close-as-error.
func (h *connHandler) readLoop(ctx context.Context, inbound chan<- inboundFrame) {
	for {
		typ, data, err := h.conn.Read(ctx)
		if err != nil {
			select {
			case inbound <- inboundFrame{err: err}:
			case <-ctx.Done():
			}
			return
		}
		if typ == websocket.MessageBinary {
			h.log.Warn("ignoring binary frame")
			continue
		}
		select {
		case inbound <- inboundFrame{data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// handshake waits up to authDeadline for a single valid authenticate
// message. On success it acknowledges and returns true; otherwise it sends
// error{auth_failed} and returns false so the caller closes the connection.
func (h *connHandler) handshake(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, authDeadline)
	defer cancel()

	_, data, err := h.conn.Read(hctx)
	if err != nil {
		h.failAuth(ctx)
		return false
	}

	msg, err := protocol.Decode(data)
	if err != nil || msg.Type != protocol.TypeAuthenticate {
		h.failAuth(ctx)
		return false
	}
	if msg.Token != h.server.config.Token {
		h.failAuth(ctx)
		return false
	}

	h.authenticated = true
	_ = h.sendServer(ctx, protocol.AuthSuccess())
	return true
}

func (h *connHandler) failAuth(ctx context.Context) {
	_ = h.sendServer(ctx, protocol.Error("authentication failed", protocol.CodeAuthFailed))
	_ = h.conn.Close(websocket.StatusPolicyViolation, "auth failed")
}

func (h *connHandler) handleFrame(ctx context.Context, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		code := protocol.CodeInvalidMessage
		if errors.Is(err, protocol.ErrUnsupportedVersion) {
			code = protocol.CodeUnsupportedVersion
		}
		_ = h.sendServer(ctx, protocol.Error(err.Error(), code))
		return
	}

	if h.server.config.Token != "" && msg.Type == protocol.TypeAuthenticate {
		// Auth already happened during the handshake gate; a second
		// authenticate is rejected per the stricter of the two historical
		// behaviors this schema considered.
		_ = h.sendServer(ctx, protocol.Error("already authenticated", protocol.CodeInvalidMessage))
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		_ = h.sendServer(ctx, protocol.Pong(msg.Seq))

	case protocol.TypeSpawnAgent:
		h.dispatchSpawnAgent(ctx, msg)

	case protocol.TypeAgentInput:
		if err := h.server.mgr.SendInput(parseUUID(msg.AgentID), []byte(msg.Input)); err != nil {
			_ = h.sendServer(ctx, protocol.AgentError(msg.AgentID, err.Error(), protocol.CodeInternalError))
		}

	case protocol.TypeKillAgent:
		// msg.Signal is accepted by validation but deliberately not forwarded
		// to the OS layer; the PTY layer has no portable way to deliver an
		// arbitrary signal, so kill is always best-effort.
		if err := h.server.mgr.KillAgent(parseUUID(msg.AgentID)); err != nil {
			_ = h.sendServer(ctx, protocol.AgentError(msg.AgentID, err.Error(), protocol.CodeAgentNotFound))
			return
		}
		_ = h.sendServer(ctx, protocol.AgentExited(msg.AgentID, nil, ""))

	case protocol.TypeResizeTerminal:
		cols, rows := msg.ColsOrDefault(), msg.RowsOrDefault()
		if err := h.server.mgr.ResizeAgent(parseUUID(msg.AgentID), uint16(cols), uint16(rows)); err != nil {
			_ = h.sendServer(ctx, protocol.AgentError(msg.AgentID, err.Error(), protocol.CodeAgentNotFound))
			return
		}
		_ = h.sendServer(ctx, protocol.AgentResized(msg.AgentID, cols, rows))

	case protocol.TypeListAgents:
		h.dispatchListAgents(ctx)

	case protocol.TypeGetAgentStatus:
		h.dispatchGetAgentStatus(ctx, msg)
	}
}

func (h *connHandler) dispatchSpawnAgent(ctx context.Context, msg *protocol.ClientMessage) {
	info, err := os.Stat(msg.ProjectPath)
	if err != nil || !info.IsDir() {
		_ = h.sendServer(ctx, protocol.Error("project path does not exist or is not a directory", protocol.CodeInvalidPath))
		return
	}

	spawnConfig := agent.SpawnConfig{
		ProjectPath: msg.ProjectPath,
		Cols:        uint16(msg.ColsOrDefault()),
		Rows:        uint16(msg.RowsOrDefault()),
		Preset:      msg.Preset,
	}

	var initialPrompt string
	projectCfg, err := config.LoadProjectConfig(msg.ProjectPath)
	if err == nil {
		preset, ok := projectCfg.GetPreset(msg.Preset)
		if !ok {
			preset, ok = projectCfg.DefaultPresetValue()
		}
		if ok {
			spawnConfig.Args = preset.Args
			initialPrompt = preset.InitialPrompt
		}
	}

	agentID, err := h.server.mgr.SpawnAgent(spawnConfig)
	if err != nil {
		_ = h.sendServer(ctx, protocol.Error(err.Error(), protocol.CodeSpawnFailed))
		return
	}

	_ = h.sendServer(ctx, protocol.AgentSpawned(agentID.String(), msg.ProjectPath, int(spawnConfig.Cols), int(spawnConfig.Rows)))

	if initialPrompt != "" {
		_ = h.server.mgr.SendInput(agentID, []byte(initialPrompt))
	}
}

func (h *connHandler) dispatchListAgents(ctx context.Context) {
	agents := h.server.mgr.ListAgents()
	summaries := make([]protocol.AgentSummary, 0, len(agents))
	for _, a := range agents {
		summaries = append(summaries, protocol.AgentSummary{
			AgentID:     a.AgentID.String(),
			ProjectPath: a.ProjectPath,
			State:       a.State.String(),
			Cols:        int(a.Cols),
			Rows:        int(a.Rows),
		})
	}
	_ = h.sendServer(ctx, protocol.AgentList(summaries))
}

func (h *connHandler) dispatchGetAgentStatus(ctx context.Context, msg *protocol.ClientMessage) {
	info, err := h.server.mgr.GetAgentStatus(parseUUID(msg.AgentID))
	if err != nil {
		_ = h.sendServer(ctx, protocol.AgentError(msg.AgentID, err.Error(), protocol.CodeAgentNotFound))
		return
	}
	_ = h.sendServer(ctx, protocol.AgentStatus(info.AgentID.String(), info.ProjectPath, info.State.String(), int(info.Cols), int(info.Rows)))
}

// forwardEvent translates a manager.AgentEvent into the corresponding
// server message. Spawned is not forwarded here: the spawning connection
// already received agent_spawned inline, and forwarding it again to every
// other subscriber is outside this schema's contract.
func (h *connHandler) forwardEvent(ctx context.Context, ev manager.AgentEvent) {
	switch ev.Kind {
	case manager.EventOutput:
		_ = h.sendServer(ctx, protocol.AgentOutput(ev.AgentID.String(), ev.Data))
	case manager.EventExited:
		_ = h.sendServer(ctx, protocol.AgentExited(ev.AgentID.String(), ev.ExitCode, ev.Reason))
	case manager.EventResized:
		_ = h.sendServer(ctx, protocol.AgentResized(ev.AgentID.String(), int(ev.Cols), int(ev.Rows)))
	}
}

func (h *connHandler) sendServer(ctx context.Context, msg protocol.ServerMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return h.conn.Write(ctx, websocket.MessageText, data)
}
