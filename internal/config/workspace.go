package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// workspaceLayoutPath is relative to a project directory.
const workspaceLayoutPath = ".hoc/workspace.json"

// Position is a panel's location in the client's layout space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Size is a panel's extent. A width or height omitted from the JSON decodes
// as 0; LoadWorkspace does not substitute DefaultSize.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DefaultSize is the size of a full-scale panel.
var DefaultSize = Size{Width: 1.0, Height: 1.0}

// PanelLayout is one terminal panel's placement, named by the agent id it
// displays.
type PanelLayout struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
	Size     Size     `json:"size"`
	Visible  bool     `json:"visible"`
	Cols     int      `json:"cols"`
	Rows     int      `json:"rows"`
}

// Workspace is a named collection of panel layouts, persisted as a single
// JSON document. It is not consumed by the Manager or Connection Handler;
// it exists for a hosting application to save/restore client arrangements.
type Workspace struct {
	Name   string        `json:"name"`
	Panels []PanelLayout `json:"panels"`
}

// LoadWorkspace reads <projectPath>/.hoc/workspace.json. A missing file
// yields an empty Workspace.
func LoadWorkspace(projectPath string) (Workspace, error) {
	path := filepath.Join(projectPath, workspaceLayoutPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Workspace{}, nil
		}
		return Workspace{}, err
	}

	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

// SaveWorkspace writes ws to <projectPath>/.hoc/workspace.json, creating the
// .hoc directory if needed.
func SaveWorkspace(projectPath string, ws Workspace) error {
	dir := filepath.Join(projectPath, ".hoc")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "workspace.json"), data, 0o644)
}
