// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the channels carrying key actions
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Command is a transport action requested from the keyboard
type Command int

const (
	CommandTogglePause Command = iota
	CommandFaster
	CommandSlower
	CommandSeekBack
	CommandSeekForward
	CommandStep
)

func (c Command) String() string {
	switch c {
	case CommandTogglePause:
		return "toggle_pause"
	case CommandFaster:
		return "faster"
	case CommandSlower:
		return "slower"
	case CommandSeekBack:
		return "seek_back"
	case CommandSeekForward:
		return "seek_forward"
	case CommandStep:
		return "step"
	default:
		return "unknown"
	}
}

// VolumeChangeMsg carries a volume or mute change
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg signals the user asked to quit
type QuitMsg struct{}

// Controls holds channels for key actions
type Controls struct {
	Commands chan Command
	Volume   chan VolumeChangeMsg
	Quit     chan QuitMsg
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Commands: make(chan Command, 10),
		Volume:   make(chan VolumeChangeMsg, 10),
		Quit:     make(chan QuitMsg, 1),
	}
}

// Run creates the TUI program. The caller starts it with Run on the program.
func Run(controls *Controls, volume int) *tea.Program {
	return tea.NewProgram(NewModel(controls, volume), tea.WithAltScreen())
}
