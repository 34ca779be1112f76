package output

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/compozy/codeassist/engine/action"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	metaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	codeStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			Padding(0, 1)
	alertStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
)

// TerminalSink prints results for humans. Results go to out, alerts to errOut.
type TerminalSink struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	plain  bool
}

// NewTerminalSink builds a sink; plain disables borders and color.
func NewTerminalSink(out, errOut io.Writer, plain bool) *TerminalSink {
	return &TerminalSink{out: out, errOut: errOut, plain: plain}
}

func (t *TerminalSink) Render(_ context.Context, d Delivery) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	title := d.Slot
	if desc, err := action.Lookup(string(d.Action)); err == nil {
		title = desc.Title
	}
	meta := fmt.Sprintf("task %s", d.TaskID)
	if t.plain {
		_, err := fmt.Fprintf(t.out, "%s (%s)\n%s\n", title, meta, strings.TrimRight(d.Content, "\n"))
		return err
	}
	_, err := fmt.Fprintf(
		t.out,
		"%s %s\n%s\n",
		titleStyle.Render(title),
		metaStyle.Render(meta),
		codeStyle.Render(strings.TrimRight(d.Content, "\n")),
	)
	return err
}

func (t *TerminalSink) Alert(_ context.Context, a Alert) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.plain {
		_, err := fmt.Fprintf(t.errOut, "[%s] %s\n", a.Level, a.Message)
		return err
	}
	style := alertStyle
	icon := "✗"
	if a.Level == AlertInfo {
		style = infoStyle
		icon = "•"
	}
	_, err := fmt.Fprintf(t.errOut, "%s %s\n", icon, style.Render(a.Message))
	return err
}
