// ABOUTME: Bubbletea model for player TUI
// ABOUTME: Shows the master clock, transport state and per-stream renderer stats
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Sendspin/sendspin-avsync/pkg/avsync"
	"github.com/Sendspin/sendspin-avsync/pkg/renderer"
)

const volumeStep = 5

// Model represents the TUI state
type Model struct {
	// Source
	source string
	format string

	// Clock
	master   string
	position int64
	rate     float64
	paused   bool
	ended    bool
	loop     int

	// Streams
	streams []renderer.Stats

	// Audio
	volume int
	muted  bool

	// Debug
	lastEvent  string
	goroutines int
	memAlloc   uint64
	showDebug  bool

	// Dimensions
	width  int
	height int

	controls *Controls
}

// NewModel creates a new TUI model. controls may be nil.
func NewModel(controls *Controls, volume int) Model {
	return Model{
		rate:     1.0,
		volume:   volume,
		master:   "none",
		controls: controls,
	}
}

// StatusMsg updates TUI state. Zero fields are left unchanged.
type StatusMsg struct {
	Source     string
	Format     string
	Stats      *avsync.Stats
	Goroutines int
	MemAlloc   uint64
}

// EventMsg forwards a session event
type EventMsg avsync.Event

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
	case EventMsg:
		m.applyEvent(avsync.Event(msg))
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
	b.WriteString(m.renderTransport())
	b.WriteString(m.renderStreams())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	source := m.source
	if source == "" {
		source = "(none)"
	}
	return fmt.Sprintf(`┌─ AV Sync Player ─────────────────────────────────────┐
│ Source: %-44s │
│ Format: %-44s │
├──────────────────────────────────────────────────────┤
`, truncate(source, 44), truncate(m.format, 44))
}

func (m Model) renderTransport() string {
	state := "Playing"
	switch {
	case m.ended:
		state = "Ended"
	case m.paused:
		state = "Paused"
	}

	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}

	return fmt.Sprintf("│ State:    %-42s │\n"+
		"│ Position: %-42s │\n"+
		"│ Clock:    %-42s │\n"+
		"│ Volume:   [%s] %-29s │\n",
		state,
		fmt.Sprintf("%s  loop %d", formatPosition(m.position), m.loop),
		fmt.Sprintf("%s master, rate %.2fx", m.master, m.rate),
		renderBar(m.volume, 100, 10), fmt.Sprintf("%d%%%s", m.volume, muteIcon))
}

func (m Model) renderStreams() string {
	s := "├──────────────────────────────────────────────────────┤\n"
	if len(m.streams) == 0 {
		return s + "│ No streams                                           │\n"
	}
	for _, st := range m.streams {
		line := fmt.Sprintf("%-5s queue %d  shown %d  dropped %d  flushed %d",
			st.Stream, st.QueueDepth, st.Presented, st.Dropped, st.Flushed)
		s += fmt.Sprintf("│ %-52s │\n", truncate(line, 52))
	}
	return s
}

func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Goroutines: %-38d │
│   Memory:     %-38s │
│   Event:      %-38s │
`, m.goroutines, fmt.Sprintf("%.1f MB", float64(m.memAlloc)/(1024*1024)), truncate(m.lastEvent, 38))
}

func (m Model) renderHelp() string {
	return `│ space:Pause +/-:Rate ←/→:Seek s:Step ↑/↓:Vol q:Quit │
└──────────────────────────────────────────────────────┘
`
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.controls != nil {
			select {
			case m.controls.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case " ":
		m.paused = !m.paused
		m.command(CommandTogglePause)
	case "+", "=":
		m.command(CommandFaster)
	case "-":
		m.command(CommandSlower)
	case "left":
		m.command(CommandSeekBack)
	case "right":
		m.command(CommandSeekForward)
	case "s":
		m.command(CommandStep)
	case "up":
		m.volume = min(m.volume+volumeStep, 100)
		m.volumeChanged()
	case "down":
		m.volume = max(m.volume-volumeStep, 0)
		m.volumeChanged()
	case "m":
		m.muted = !m.muted
		m.volumeChanged()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// command forwards c without blocking the UI
func (m Model) command(c Command) {
	if m.controls == nil {
		return
	}
	select {
	case m.controls.Commands <- c:
	default:
	}
}

func (m Model) volumeChanged() {
	if m.controls == nil {
		return
	}
	select {
	case m.controls.Volume <- VolumeChangeMsg{Volume: m.volume, Muted: m.muted}:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Source != "" {
		m.source = msg.Source
	}
	if msg.Format != "" {
		m.format = msg.Format
	}
	if msg.Stats != nil {
		st := msg.Stats
		m.position = st.Position
		m.rate = st.Clock.PlaybackRate
		m.paused = st.Clock.Paused
		m.ended = st.Ended
		m.master = "none"
		if st.Clock.HasMaster {
			m.master = st.Clock.MasterType.String()
		}
		m.streams = st.Streams
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
	}
}

// applyEvent records the latest session event
func (m *Model) applyEvent(e avsync.Event) {
	m.lastEvent = fmt.Sprintf("%s @ %s", e.Name, formatPosition(e.Position))
	switch e.Type {
	case avsync.EventLoopChanged:
		m.loop = e.LoopIndex
	case avsync.EventStateChanged:
		m.paused = e.Paused
		if e.Rate > 0 {
			m.rate = e.Rate
		}
	case avsync.EventSeeked:
		m.position = e.Position
		m.ended = false
	case avsync.EventEnded:
		m.ended = true
	}
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

// formatPosition renders µs as m:ss.mmm
func formatPosition(usecs int64) string {
	if usecs < 0 {
		return "-" + formatPosition(-usecs)
	}
	ms := usecs / 1000
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}
