package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkspaceMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	ws, err := LoadWorkspace(dir)
	require.NoError(t, err)
	assert.Empty(t, ws.Panels)
}

func TestSaveThenLoadWorkspaceRoundTrips(t *testing.T) {
	dir := t.TempDir()
	ws := Workspace{
		Name: "default",
		Panels: []PanelLayout{
			{ID: "agent-1", Position: Position{X: 1, Y: 2, Z: 0}, Size: DefaultSize, Visible: true, Cols: 80, Rows: 24},
		},
	}

	require.NoError(t, SaveWorkspace(dir, ws))

	loaded, err := LoadWorkspace(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Panels, 1)
	assert.Equal(t, "agent-1", loaded.Panels[0].ID)
	assert.Equal(t, DefaultSize, loaded.Panels[0].Size)
}
