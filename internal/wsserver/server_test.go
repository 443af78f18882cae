package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/ptybridge/internal/manager"
	"github.com/ianremillard/ptybridge/internal/protocol"
)

func newTestServer(t *testing.T, token string) (*httptest.Server, *Server) {
	t.Helper()
	mgr := manager.New(nil)
	srv := New(Config{Token: token}, mgr, nil)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleHTTP))
	t.Cleanup(ts.Close)
	return ts, srv
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg protocol.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func sendMessage(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestPingPong(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dial(t, ts)

	welcome := readMessage(t, conn)
	assert.Equal(t, protocol.TypeWelcome, welcome.Type)

	sendMessage(t, conn, protocol.ClientMessage{Version: 1, Type: protocol.TypePing, Seq: 7})

	pong := readMessage(t, conn)
	assert.Equal(t, protocol.TypePong, pong.Type)
	assert.EqualValues(t, 7, pong.Seq)
}

func TestSpawnAgentRepliesAgentSpawned(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dial(t, ts)
	readMessage(t, conn) // welcome

	dir := t.TempDir()
	sendMessage(t, conn, protocol.ClientMessage{
		Version:     1,
		Type:        protocol.TypeSpawnAgent,
		ProjectPath: dir,
	})

	spawned := readMessage(t, conn)
	require.Equal(t, protocol.TypeAgentSpawned, spawned.Type)
	agentID := spawned.AgentID
	require.NotEmpty(t, agentID)

	// The child is the default command ("claude"), so this test needs it on
	// PATH; without it the reply is error{spawn_failed} and the test fails.
	// Output and kill are not exercised here.
}

func TestSpawnInvalidPath(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dial(t, ts)
	readMessage(t, conn) // welcome

	sendMessage(t, conn, protocol.ClientMessage{
		Version:     1,
		Type:        protocol.TypeSpawnAgent,
		ProjectPath: "/nonexistent/xyz",
	})

	errMsg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeError, errMsg.Type)
	assert.Equal(t, protocol.CodeInvalidPath, errMsg.Code)

	sendMessage(t, conn, protocol.ClientMessage{Version: 1, Type: protocol.TypePing, Seq: 1})
	pong := readMessage(t, conn)
	assert.Equal(t, protocol.TypePong, pong.Type)
}

func TestAuthFailureClosesConnection(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	conn := dial(t, ts)
	readMessage(t, conn) // welcome

	sendMessage(t, conn, protocol.ClientMessage{Version: 1, Type: protocol.TypePing, Seq: 1})

	errMsg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeError, errMsg.Type)
	assert.Equal(t, protocol.CodeAuthFailed, errMsg.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)
}

func TestAuthSuccessThenPing(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	conn := dial(t, ts)
	readMessage(t, conn) // welcome

	sendMessage(t, conn, protocol.ClientMessage{Version: 1, Type: protocol.TypeAuthenticate, Token: "secret"})
	ack := readMessage(t, conn)
	assert.Equal(t, protocol.TypeAuthSuccess, ack.Type)

	sendMessage(t, conn, protocol.ClientMessage{Version: 1, Type: protocol.TypePing, Seq: 9})
	pong := readMessage(t, conn)
	assert.Equal(t, protocol.TypePong, pong.Type)
	assert.EqualValues(t, 9, pong.Seq)
}
