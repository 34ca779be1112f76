package models

import (
	"context"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Mode represents the output mode for CLI commands
type Mode string

const (
	// ModeTUI represents interactive TUI mode
	ModeTUI Mode = "tui"
	// ModeJSON represents non-interactive JSON output mode
	ModeJSON Mode = "json"
)

type keyMap struct {
	Copy key.Binding
	Quit key.Binding
}

var keys = keyMap{
	Copy: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy the latest result")),
	Quit: key.NewBinding(key.WithKeys("ctrl+c", "q", "esc"), key.WithHelp("q", "cancel")),
}

// BaseModel owns the context shared by every pending wait. Quitting cancels it
// so in-flight poll loops stop with the view.
type BaseModel struct {
	ctx      context.Context
	cancel   context.CancelFunc
	width    int
	quitting bool
}

func NewBaseModel(ctx context.Context, cancel context.CancelFunc) BaseModel {
	return BaseModel{ctx: ctx, cancel: cancel}
}

func (m BaseModel) Context() context.Context {
	return m.ctx
}

// Width is the terminal width, or 0 before the first resize message.
func (m BaseModel) Width() int {
	return m.width
}

func (m BaseModel) IsQuitting() bool {
	return m.quitting
}

func (m *BaseModel) Quit() {
	m.quitting = true
	if m.cancel != nil {
		m.cancel()
	}
}

// Update handles resize and quit keys.
func (m *BaseModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.Quit()
			return tea.Quit
		}
	}
	return nil
}
