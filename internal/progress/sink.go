package progress

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Noop discards every event.
type Noop struct{}

func (Noop) Render(Event) {}

var (
	nameStyle = lipgloss.NewStyle().Bold(true)
	barStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

const barWidth = 20

// Terminal redraws a single status line on W using carriage returns.
type Terminal struct {
	W io.Writer
}

func (t Terminal) Render(e Event) {
	switch e.Kind {
	case EventStart, EventUpdate:
		_, _ = fmt.Fprintf(t.W, "\r%s %s", nameStyle.Render(e.Name+":"), formatLine(e))
	case EventFinish:
		_, _ = fmt.Fprintf(t.W, "\r%s %s %s\n", nameStyle.Render(e.Name+":"), formatLine(e), okStyle.Render(e.Message))
	case EventFail:
		_, _ = fmt.Fprintf(t.W, "\r%s %s %s\n", nameStyle.Render(e.Name+":"), formatLine(e), failStyle.Render(e.Message))
	case EventMessage:
		_, _ = fmt.Fprintf(t.W, "\n  %s\n", e.Message)
	}
}

func formatLine(e Event) string {
	pct := e.Percent()
	if pct < 0 {
		return fmt.Sprintf("%s %d %s", e.Action, e.Progress, e.Unit)
	}
	filled := int(pct / 100 * barWidth)
	filled = max(0, min(barWidth, filled))
	bar := barStyle.Render(strings.Repeat("#", filled)) + strings.Repeat(".", barWidth-filled)
	return fmt.Sprintf("%s [%s] %d/%d %s (%.0f%%)", e.Action, bar, e.Progress, e.Max, e.Unit, pct)
}

// Logger writes events as structured log records. Updates are logged at
// debug level.
type Logger struct {
	L *slog.Logger
}

func (l Logger) Render(e Event) {
	lg := l.L
	if lg == nil {
		lg = slog.Default()
	}
	attrs := []any{"name", e.Name, "action", e.Action, "progress", e.Progress, "unit", e.Unit}
	if e.Max > 0 {
		attrs = append(attrs, "max", e.Max)
	}
	switch e.Kind {
	case EventStart:
		lg.Info("progress started", attrs...)
	case EventUpdate:
		lg.Debug("progress", attrs...)
	case EventFinish:
		lg.Info("progress finished", append(attrs, "message", e.Message)...)
	case EventFail:
		lg.Warn("progress failed", append(attrs, "message", e.Message)...)
	case EventMessage:
		lg.Info(e.Message, "name", e.Name)
	}
}
