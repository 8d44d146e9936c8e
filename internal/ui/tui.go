// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for player UI and forwards key actions
package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// ActionKind names a user request from the TUI
type ActionKind int

const (
	ActionQuit ActionKind = iota
	ActionToggleHost
	ActionPlay
	ActionPause
	ActionStop
	ActionSeek
	ActionVolume
	ActionResync
)

// Action is one key press translated for the player
type Action struct {
	Kind   ActionKind
	Delta  time.Duration // ActionSeek
	Volume float64       // ActionVolume
}

// Controls carries actions from the TUI to the player
type Controls struct {
	Actions chan Action
}

// NewControls creates a control channel
func NewControls() *Controls {
	return &Controls{Actions: make(chan Action, 10)}
}

// send never blocks the UI; a nil Controls drops everything
func (c *Controls) send(a Action) {
	if c == nil {
		return
	}
	select {
	case c.Actions <- a:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		volume:   1,
		mode:     "idle",
		controls: controls,
	}
}

// Run creates the TUI program; the caller runs it
func Run(controls *Controls) *tea.Program {
	return tea.NewProgram(NewModel(controls), tea.WithAltScreen())
}
