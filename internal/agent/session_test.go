package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnRejectsInvalidPath(t *testing.T) {
	s := New(SpawnConfig{ProjectPath: "/nonexistent/xyz/abc"})
	err := s.Spawn()
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.Equal(t, Stopped, s.State())
}

func TestSpawnRejectsWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	s := New(SpawnConfig{ProjectPath: dir, Command: "sleep", Args: []string{"2"}})
	require.NoError(t, s.Spawn())
	defer s.Kill()

	err := s.Spawn()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestSpawnSuccessPublishesOutputAndExit(t *testing.T) {
	dir := t.TempDir()
	s := New(SpawnConfig{ProjectPath: dir, Command: "echo", Args: []string{"hello"}})
	exitSub := s.SubscribeExit()
	defer exitSub.Unsubscribe()
	outSub := s.SubscribeOutput()
	defer outSub.Unsubscribe()

	require.NoError(t, s.Spawn())
	assert.Equal(t, Running, s.State())

	select {
	case chunk := <-outSub.C():
		assert.Contains(t, string(chunk.Data), "hello")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output")
	}

	select {
	case ev := <-exitSub.C():
		assert.Equal(t, s.ID(), ev.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit event")
	}

	deadline := time.Now().Add(time.Second)
	for s.State() != Stopped && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, Stopped, s.State())
}

func TestWriteInputFailsWhenNotRunning(t *testing.T) {
	s := New(SpawnConfig{ProjectPath: "."})
	err := s.WriteInput([]byte("x"))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestKillIsNoOpWhenNotRunning(t *testing.T) {
	s := New(SpawnConfig{ProjectPath: "."})
	s.Kill() // must not panic
	assert.Equal(t, Stopped, s.State())
}
