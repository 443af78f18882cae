// Command bridgectl is a manual debug client for the bridge server: it
// spawns one agent in the given project directory and attaches the local
// terminal to it in raw mode.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/coder/websocket"
	"golang.org/x/term"

	"github.com/ianremillard/ptybridge/internal/protocol"
)

func main() {
	var (
		addr    = flag.String("addr", "ws://127.0.0.1:9000", "bridge server address")
		project = flag.String("project", ".", "project directory to spawn the agent in")
		token   = flag.String("token", "", "bearer token, if the server requires one")
		preset  = flag.String("preset", "", "optional agent preset name")
	)
	flag.Parse()

	if err := run(*addr, *project, *token, *preset); err != nil {
		fmt.Fprintln(os.Stderr, "bridgectl:", err)
		os.Exit(1)
	}
}

func run(addr, project, token, preset string) error {
	absProject, err := absPath(project)
	if err != nil {
		return err
	}

	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	if _, err := readServerMessage(ctx, conn); err != nil { // welcome
		return err
	}

	if token != "" {
		if err := writeClientMessage(ctx, conn, protocol.ClientMessage{
			Version: protocol.ProtocolVersion,
			Type:    protocol.TypeAuthenticate,
			Token:   token,
		}); err != nil {
			return err
		}
		if _, err := readServerMessage(ctx, conn); err != nil { // auth_success
			return err
		}
	}

	if err := writeClientMessage(ctx, conn, protocol.ClientMessage{
		Version:     protocol.ProtocolVersion,
		Type:        protocol.TypeSpawnAgent,
		ProjectPath: absProject,
		Preset:      preset,
	}); err != nil {
		return err
	}

	spawned, err := readServerMessage(ctx, conn)
	if err != nil {
		return err
	}
	if spawned.Type != protocol.TypeAgentSpawned {
		return fmt.Errorf("spawn failed: %s", spawned.Message)
	}
	agentID := spawned.AgentID

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	done := make(chan struct{})
	go pumpStdin(ctx, conn, agentID, done)

	for {
		msg, err := readServerMessage(ctx, conn)
		if err != nil {
			close(done)
			return err
		}
		switch msg.Type {
		case protocol.TypeAgentOutput:
			if msg.AgentID == agentID {
				os.Stdout.WriteString(msg.Data)
			}
		case protocol.TypeAgentExited:
			if msg.AgentID == agentID {
				close(done)
				return nil
			}
		case protocol.TypeError:
			fmt.Fprintf(os.Stderr, "\r\nerror: %s (%s)\r\n", msg.Message, msg.Code)
		}
	}
}

func pumpStdin(ctx context.Context, conn *websocket.Conn, agentID string, done <-chan struct{}) {
	reader := bufio.NewReaderSize(os.Stdin, 4096)
	buf := make([]byte, 4096)
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := reader.Read(buf)
		if n > 0 {
			_ = writeClientMessage(ctx, conn, protocol.ClientMessage{
				Version: protocol.ProtocolVersion,
				Type:    protocol.TypeAgentInput,
				AgentID: agentID,
				Input:   string(buf[:n]),
			})
		}
		if err != nil {
			return
		}
	}
}

func writeClientMessage(ctx context.Context, conn *websocket.Conn, msg protocol.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func readServerMessage(ctx context.Context, conn *websocket.Conn) (protocol.ServerMessage, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return protocol.ServerMessage{}, err
	}
	var msg protocol.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return protocol.ServerMessage{}, err
	}
	return msg, nil
}

func absPath(p string) (string, error) {
	if p == "" {
		p = "."
	}
	return filepath.Abs(p)
}
