package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/tracker"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	resultStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("69")).
			Padding(0, 1)
)

// Waiter is the part of a tracker handle the progress view needs.
type Waiter interface {
	Action() action.Name
	TaskID() string
	Wait(ctx context.Context) (tracker.Outcome, error)
}

type handleWaiter struct {
	h *tracker.Handle
}

func (w handleWaiter) Action() action.Name { return w.h.Action() }
func (w handleWaiter) TaskID() string      { return w.h.TaskID().String() }
func (w handleWaiter) Wait(ctx context.Context) (tracker.Outcome, error) {
	return w.h.Wait(ctx)
}

// FromHandles adapts tracker handles for the progress view.
func FromHandles(handles ...*tracker.Handle) []Waiter {
	out := make([]Waiter, 0, len(handles))
	for _, h := range handles {
		out = append(out, handleWaiter{h: h})
	}
	return out
}

type progressItem struct {
	waiter  Waiter
	outcome tracker.Outcome
	err     error
	done    bool
}

// ProgressModel shows a spinner per running task and the results as they
// settle. It quits once every task has settled.
type ProgressModel struct {
	BaseModel
	spinner   spinner.Model
	items     []progressItem
	started   time.Time
	copied    bool
	copyErr   error
	autoCopy  bool
	writeClip func(string) error
}

// NewProgressModel builds the view for waiters. With autoCopy the newest
// completed result is copied to the clipboard when everything settles.
func NewProgressModel(ctx context.Context, cancel context.CancelFunc, waiters []Waiter, autoCopy bool) *ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	items := make([]progressItem, len(waiters))
	for i, w := range waiters {
		items[i] = progressItem{waiter: w}
	}
	return &ProgressModel{
		BaseModel: NewBaseModel(ctx, cancel),
		spinner:   s,
		items:     items,
		started:   time.Now(),
		autoCopy:  autoCopy,
		writeClip: clipboard.WriteAll,
	}
}

type settledMsg struct {
	index   int
	outcome tracker.Outcome
	err     error
}

type clipboardMsg struct {
	err error
}

func (m *ProgressModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	for i := range m.items {
		cmds = append(cmds, m.wait(i))
	}
	return tea.Batch(cmds...)
}

func (m *ProgressModel) wait(i int) tea.Cmd {
	w := m.items[i].waiter
	ctx := m.Context()
	return func() tea.Msg {
		o, err := w.Wait(ctx)
		return settledMsg{index: i, outcome: o, err: err}
	}
}

func (m *ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Copy) {
			if content, ok := m.latestContent(); ok {
				return m, m.copy(content)
			}
			return m, nil
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case settledMsg:
		item := &m.items[msg.index]
		item.outcome, item.err, item.done = msg.outcome, msg.err, true
		if !m.Finished() {
			return m, nil
		}
		if content, ok := m.latestContent(); ok && m.autoCopy {
			return m, tea.Sequence(m.copy(content), tea.Quit)
		}
		return m, tea.Quit
	case clipboardMsg:
		m.copied, m.copyErr = msg.err == nil, msg.err
		return m, nil
	}
	return m, m.BaseModel.Update(msg)
}

func (m *ProgressModel) copy(content string) tea.Cmd {
	write := m.writeClip
	return func() tea.Msg {
		if err := write(content); err != nil {
			return clipboardMsg{err: fmt.Errorf("failed to copy to clipboard: %w", err)}
		}
		return clipboardMsg{}
	}
}

func (m *ProgressModel) latestContent() (string, bool) {
	for i := len(m.items) - 1; i >= 0; i-- {
		it := m.items[i]
		if it.done && it.err == nil && it.outcome.Status == tracker.OutcomeCompleted {
			return it.outcome.Content, true
		}
	}
	return "", false
}

// Finished reports whether every task has settled.
func (m *ProgressModel) Finished() bool {
	for _, it := range m.items {
		if !it.done {
			return false
		}
	}
	return true
}

// Err returns the first failure among settled tasks.
func (m *ProgressModel) Err() error {
	for _, it := range m.items {
		if it.err != nil {
			return it.err
		}
	}
	if !m.Finished() {
		return context.Canceled
	}
	return nil
}

// Outcomes returns the settled outcomes in submission order.
func (m *ProgressModel) Outcomes() []tracker.Outcome {
	out := make([]tracker.Outcome, 0, len(m.items))
	for _, it := range m.items {
		if it.done {
			out = append(out, it.outcome)
		}
	}
	return out
}

func (m *ProgressModel) View() string {
	var b strings.Builder
	for _, it := range m.items {
		b.WriteString(m.itemView(it))
		b.WriteString("\n")
	}
	switch {
	case m.copyErr != nil:
		b.WriteString(failStyle.Render(m.copyErr.Error()) + "\n")
	case m.copied:
		b.WriteString(successStyle.Render("✅ Result copied to clipboard") + "\n")
	}
	if !m.Finished() {
		hint := fmt.Sprintf("elapsed %s · %s %s · %s %s",
			time.Since(m.started).Truncate(100*time.Millisecond),
			keys.Copy.Help().Key, keys.Copy.Help().Desc,
			keys.Quit.Help().Key, keys.Quit.Help().Desc)
		b.WriteString(mutedStyle.Render(hint) + "\n")
	}
	return b.String()
}

func (m *ProgressModel) itemView(it progressItem) string {
	name := it.waiter.Action()
	title := string(name)
	if desc, err := action.Lookup(string(name)); err == nil {
		title = desc.Title
	}
	header := fmt.Sprintf("%s %s", titleStyle.Render(title), mutedStyle.Render("task "+it.waiter.TaskID()))
	if !it.done {
		return fmt.Sprintf("%s %s", m.spinner.View(), header)
	}
	switch {
	case it.err == nil && it.outcome.Status == tracker.OutcomeCompleted:
		return fmt.Sprintf("✅ %s (%d checks)\n%s", header, it.outcome.Attempts, m.resultBox().Render(it.outcome.Content))
	case errors.Is(it.err, tracker.ErrSuperseded):
		return fmt.Sprintf("⏭  %s %s", header, mutedStyle.Render("superseded by a newer submission"))
	case errors.Is(it.err, context.Canceled):
		return fmt.Sprintf("⏹  %s %s", header, mutedStyle.Render("cancelled"))
	default:
		msg := it.outcome.Message
		if msg == "" && it.err != nil {
			msg = it.err.Error()
		}
		return fmt.Sprintf("❌ %s %s", header, failStyle.Render(msg))
	}
}

func (m *ProgressModel) resultBox() lipgloss.Style {
	if w := m.Width(); w > 4 {
		return resultStyle.MaxWidth(w - 2)
	}
	return resultStyle
}
