// ABOUTME: Relay TUI showing the roster, host and playback timeline
// ABOUTME: Real-time relay status display using bubbletea
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the relay TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	quitChan chan struct{} // Signal to stop the relay

	mu      sync.Mutex
	stopped bool
}

// ServerStatus holds relay state for the TUI
type ServerStatus struct {
	Name       string
	Port       int
	Uptime     time.Duration
	Clients    protocol.Roster
	HostID     string
	Mode       string
	PositionMs int64
	Track      string
}

// tuiModel is the bubbletea model for the relay TUI
type tuiModel struct {
	status    ServerStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type statusMsg ServerStatus

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	clientHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("220"))

	hostStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))
)

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down relay...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Zync Relay"))
	b.WriteString("\n\n")

	field := func(label, value string) {
		b.WriteString(headerStyle.Render(label + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	field("Relay", m.status.Name)
	field("Port", fmt.Sprintf("%d", m.status.Port))
	field("Uptime", time.Since(m.startTime).Round(time.Second).String())

	track := m.status.Track
	if track == "" {
		track = "none (waiting for upload)"
	}
	field("Track", track)
	field("Playback", fmt.Sprintf("%s at %s", m.status.Mode, formatPosition(m.status.PositionMs)))
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Connected Devices (%d)", len(m.status.Clients))))
	b.WriteString("\n\n")

	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No devices connected"))
		b.WriteString("\n")
	} else {
		for _, client := range m.status.Clients {
			name := client.Name
			if client.IsHost {
				name = hostStyle.Render(name + " [host]")
			}
			b.WriteString(fmt.Sprintf("  • %s", name))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, vol %.0f%%, %dms)",
				client.Status, client.Volume*100, client.LatencyMs)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func formatPosition(ms int64) string {
	if ms < 0 {
		return "-" + formatPosition(-ms)
	}
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// NewServerTUI creates a new relay TUI
func NewServerTUI() *ServerTUI {
	return &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		quitChan: make(chan struct{}, 1),
	}
}

// Start runs the TUI until it quits
func (t *ServerTUI) Start(serverName string, port int) error {
	m := tuiModel{
		status: ServerStatus{
			Name: serverName,
			Port: port,
			Mode: "idle",
		},
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}

	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for status := range t.updates {
			t.program.Send(statusMsg(status))
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	select {
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true

	if t.program != nil {
		t.program.Quit()
	}
	close(t.updates)
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
