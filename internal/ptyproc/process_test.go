package ptyproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectOutput(t *testing.T, h *Handle, timeout time.Duration) []byte {
	t.Helper()
	var got []byte
	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-h.Output():
			if !ok {
				return got
			}
			got = append(got, chunk...)
		case <-deadline:
			return got
		}
		if h.HasExited() {
			// Drain whatever is already buffered before returning.
			for {
				chunk, ok := h.TryRecvOutput()
				if !ok {
					return got
				}
				got = append(got, chunk...)
			}
		}
	}
}

func TestSpawnEchoProducesOutputAndExitsNormally(t *testing.T) {
	h, err := Spawn("echo", []string{"hello"}, ".", nil, Size{Cols: 80, Rows: 24}, 64)
	require.NoError(t, err)
	defer h.Kill()

	out := collectOutput(t, h, 2*time.Second)
	assert.Contains(t, string(out), "hello")

	deadline := time.Now().Add(2 * time.Second)
	for !h.HasExited() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, h.HasExited())
	assert.Equal(t, ExitNormal, h.ExitInfo().Reason)
}

func TestWriteAfterExitFails(t *testing.T) {
	h, err := Spawn("true", nil, ".", nil, Size{Cols: 80, Rows: 24}, 16)
	require.NoError(t, err)
	defer h.Kill()

	deadline := time.Now().Add(2 * time.Second)
	for !h.HasExited() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, h.HasExited())

	err = h.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrProcessExited)
}

func TestKillIsIdempotentAndMarksExitReasonKilled(t *testing.T) {
	h, err := Spawn("sleep", []string{"5"}, ".", nil, Size{Cols: 80, Rows: 24}, 16)
	require.NoError(t, err)

	h.Kill()
	h.Kill() // must not panic or block

	assert.True(t, h.HasExited())
	assert.Equal(t, ExitKilled, h.ExitInfo().Reason)
}

func TestResizeUpdatesSize(t *testing.T) {
	h, err := Spawn("sleep", []string{"2"}, ".", nil, Size{Cols: 80, Rows: 24}, 16)
	require.NoError(t, err)
	defer h.Kill()

	err = h.Resize(120, 40)
	require.NoError(t, err)
	assert.Equal(t, Size{Cols: 120, Rows: 40}, h.Size())
}
