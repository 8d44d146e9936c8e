// ABOUTME: Bubbletea model for player TUI
// ABOUTME: Defines display state, key bindings and status updates
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/Vimlesh-Kumar/zync/internal/sync"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	volumeStep = 0.05
	seekStep   = 10 * time.Second
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	hostStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	selfStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string
	selfName   string

	// Sync
	syncOffset  float64
	syncRTT     int64
	syncQuality sync.Quality

	// Track and playback
	track      string
	status     protocol.Status
	mode       string
	positionMs int64
	countdown  time.Duration
	isHost     bool
	volume     float64

	roster protocol.Roster

	controls *Controls

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderPlayback())
	b.WriteString(m.renderRoster())
	b.WriteString(m.renderHelp())
	return b.String()
}

// renderHeader renders connection and sync status
func (m Model) renderHeader() string {
	connStatus := "Disconnected"
	if m.connected {
		connStatus = fmt.Sprintf("Connected to %s", m.serverName)
	}

	syncIcon := "✗"
	syncText := "Lost"
	switch m.syncQuality {
	case sync.QualityGood:
		syncIcon = "✓"
		syncText = fmt.Sprintf("Synced (offset: %+.1fms, rtt: %dms)", m.syncOffset, m.syncRTT)
	case sync.QualityDegraded:
		syncIcon = "⚠"
		syncText = fmt.Sprintf("Degraded (rtt: %dms)", m.syncRTT)
	}

	role := "member"
	if m.isHost {
		role = hostStyle.Render("host")
	}

	return fmt.Sprintf("%s\n Device: %s (%s)\n Status: %s\n Sync:   %s %s\n\n",
		titleStyle.Render("Zync Player"), m.selfName, role, connStatus, syncIcon, syncText)
}

// renderPlayback renders the track, timeline and volume
func (m Model) renderPlayback() string {
	track := m.track
	if track == "" {
		track = dimStyle.Render("(no track)")
	}

	state := m.mode
	if state == "" {
		state = "idle"
	}
	if m.countdown > 0 {
		state = fmt.Sprintf("starting in %.1fs", m.countdown.Seconds())
	}

	return fmt.Sprintf(" Track:  %s [%s]\n Play:   %s at %s\n Volume: [%s] %d%%\n\n",
		truncate(track, 40), m.status, state, formatPosition(m.positionMs),
		renderBar(m.volume, 10), int(m.volume*100+0.5))
}

// renderRoster renders the connected devices
func (m Model) renderRoster() string {
	if len(m.roster) == 0 {
		return dimStyle.Render(" No devices") + "\n\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(" Devices (%d):\n", len(m.roster)))
	for _, c := range m.roster {
		name := truncate(c.Name, 24)
		if c.Name == m.selfName {
			name = selfStyle.Render(name)
		}
		host := ""
		if c.IsHost {
			host = hostStyle.Render(" [host]")
		}
		b.WriteString(fmt.Sprintf("   %-24s %-11s vol %3d%%  %4dms%s\n",
			name, c.Status, int(c.Volume*100+0.5), c.LatencyMs, host))
	}
	b.WriteString("\n")
	return b.String()
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return dimStyle.Render(" h:Host  space:Play/Pause  s:Stop  ←/→:Seek  ↑/↓:Volume  r:Resync  q:Quit") + "\n"
}

// handleKey maps keys onto control actions
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.send(Action{Kind: ActionQuit})
		return m, tea.Quit
	case "h":
		m.controls.send(Action{Kind: ActionToggleHost})
	case " ", "p":
		if m.mode == "playing" {
			m.controls.send(Action{Kind: ActionPause})
		} else {
			m.controls.send(Action{Kind: ActionPlay})
		}
	case "s":
		m.controls.send(Action{Kind: ActionStop})
	case "left":
		m.controls.send(Action{Kind: ActionSeek, Delta: -seekStep})
	case "right":
		m.controls.send(Action{Kind: ActionSeek, Delta: seekStep})
	case "up":
		m.volume = clampVolume(m.volume + volumeStep)
		m.controls.send(Action{Kind: ActionVolume, Volume: m.volume})
	case "down":
		m.volume = clampVolume(m.volume - volumeStep)
		m.controls.send(Action{Kind: ActionVolume, Volume: m.volume})
	case "r":
		m.controls.send(Action{Kind: ActionResync})
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.Name != "" {
		m.selfName = msg.Name
	}
	if msg.Sync != nil {
		m.syncOffset = msg.Sync.OffsetMs
		m.syncRTT = msg.Sync.BestRTTMs
		m.syncQuality = msg.Sync.Quality
	}
	if msg.Track != "" {
		m.track = msg.Track
	}
	if msg.Status != "" {
		m.status = msg.Status
	}
	if msg.Mode != "" {
		m.mode = msg.Mode
	}
	m.positionMs = msg.PositionMs
	m.countdown = msg.Countdown
	if msg.IsHost != nil {
		m.isHost = *msg.IsHost
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.Roster != nil {
		m.roster = msg.Roster
	}
}

// StatusMsg updates TUI state. PositionMs and Countdown are always applied;
// other zero or nil fields leave the display unchanged.
type StatusMsg struct {
	Connected  *bool
	ServerName string
	Name       string
	Sync       *sync.Stats
	Track      string
	Status     protocol.Status
	Mode       string
	PositionMs int64
	Countdown  time.Duration
	IsHost     *bool
	Volume     *float64
	Roster     protocol.Roster
}

// Utility functions
func renderBar(value float64, width int) string {
	filled := int(value*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatPosition(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
