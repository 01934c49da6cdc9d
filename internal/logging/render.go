package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

type eventStyles struct {
	time    lipgloss.Style
	message lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	box     lipgloss.Style
	debug   lipgloss.Style
	info    lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
}

// newEventStyles returns nil when w cannot show colour, either because it is
// not a terminal or because NO_COLOR is set.
func newEventStyles(w io.Writer) *eventStyles {
	if termenv.EnvNoColor() {
		return nil
	}
	r := lipgloss.NewRenderer(w)
	if r.ColorProfile() == termenv.Ascii {
		return nil
	}
	badge := r.NewStyle().Bold(true).Padding(0, 1)
	return &eventStyles{
		time:    r.NewStyle().Foreground(lipgloss.Color("244")),
		message: r.NewStyle().Bold(true),
		key:     r.NewStyle().Foreground(lipgloss.Color("110")),
		value:   r.NewStyle().Foreground(lipgloss.Color("252")),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("241")).Padding(0, 1),
		debug:   badge.Foreground(lipgloss.Color("252")).Background(lipgloss.Color("239")),
		info:    badge.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("25")),
		warn:    badge.Foreground(lipgloss.Color("232")).Background(lipgloss.Color("178")),
		err:     badge.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("124")),
	}
}

func (s *eventStyles) badge(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return s.debug.Render("DEBUG")
	case level < slog.LevelWarn:
		return s.info.Render("INFO")
	case level < slog.LevelError:
		return s.warn.Render("WARN")
	default:
		return s.err.Render("ERROR")
	}
}

func (s *eventStyles) render(event Event) string {
	var b strings.Builder
	b.WriteString(s.time.Render(event.Time.Format("15:04:05.000")))
	b.WriteString(" ")
	b.WriteString(s.badge(event.Level))
	b.WriteString(" ")
	b.WriteString(s.message.Render(event.Message))

	var blocks []string
	for _, field := range renderFields(event.Fields) {
		if field.block {
			blocks = append(blocks, s.key.Render(field.key)+"\n"+s.box.Render(field.value))
			continue
		}
		b.WriteString("  ")
		b.WriteString(s.key.Render(field.key))
		b.WriteString("=")
		b.WriteString(s.value.Render(field.value))
	}
	for _, block := range blocks {
		b.WriteString("\n")
		b.WriteString(indent(block, "  "))
	}
	b.WriteString("\n")
	return b.String()
}
