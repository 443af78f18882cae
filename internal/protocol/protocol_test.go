package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	raw := `{"version":0,"type":"ping","seq":1}`
	_, err := Decode([]byte(raw))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeAcceptsCurrentVersion(t *testing.T) {
	raw := `{"version":1,"type":"ping","seq":7}`
	msg, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Type)
	assert.EqualValues(t, 7, msg.Seq)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	raw := `{"version":1,"type":"not_a_real_type"}`
	_, err := Decode([]byte(raw))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSpawnAgentValidation(t *testing.T) {
	tooLongPath := make([]byte, MaxPathLength+1)
	for i := range tooLongPath {
		tooLongPath[i] = 'a'
	}
	raw, err := json.Marshal(map[string]any{
		"version":      1,
		"type":         TypeSpawnAgent,
		"project_path": string(tooLongPath),
	})
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestResizeTerminalRejectsOutOfBoundsDims(t *testing.T) {
	cols := MaxTerminalCols + 1
	rows := 24
	raw, err := json.Marshal(ClientMessage{
		Version: 1,
		Type:    TypeResizeTerminal,
		AgentID: "abc",
		Cols:    &cols,
		Rows:    &rows,
	})
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestAgentInputRejectsOversizedInput(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"version":  1,
		"type":     TypeAgentInput,
		"agent_id": "abc",
		"input":    string(make([]byte, MaxInputLength+1)),
	})
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestKillAgentRejectsOutOfBoundsSignal(t *testing.T) {
	signal := 99
	raw, err := json.Marshal(ClientMessage{
		Version: 1,
		Type:    TypeKillAgent,
		AgentID: "abc",
		Signal:  &signal,
	})
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestClientMessageRoundTrip(t *testing.T) {
	cols := 120
	rows := 40
	original := ClientMessage{
		Version:     1,
		Type:        TypeResizeTerminal,
		AgentID:     "11111111-1111-1111-1111-111111111111",
		Cols:        &cols,
		Rows:        &rows,
	}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.AgentID, decoded.AgentID)
	assert.Equal(t, *original.Cols, *decoded.Cols)
	assert.Equal(t, *original.Rows, *decoded.Rows)
}

func TestColsRowsDefaults(t *testing.T) {
	msg := ClientMessage{Type: TypeSpawnAgent, ProjectPath: "/tmp"}
	assert.Equal(t, DefaultTerminalCols, msg.ColsOrDefault())
	assert.Equal(t, DefaultTerminalRows, msg.RowsOrDefault())
}

func TestEncodeStampsProtocolVersion(t *testing.T) {
	data, err := Encode(Pong(3))
	require.NoError(t, err)

	var decoded ServerMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ProtocolVersion, decoded.Version)
	assert.Equal(t, TypePong, decoded.Type)
	assert.EqualValues(t, 3, decoded.Seq)
}
