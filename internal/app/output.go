package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"vaultchat/internal/api"
)

// printer renders command output. Colours are only emitted when out is a
// terminal that supports them.
type printer struct {
	out    io.Writer
	time   lipgloss.Style
	sender lipgloss.Style
	self   lipgloss.Style
	muted  lipgloss.Style
	status lipgloss.Style
}

func newPrinter(out io.Writer) *printer {
	r := lipgloss.NewRenderer(out)
	return &printer{
		out:    out,
		time:   r.NewStyle().Foreground(lipgloss.Color("240")),
		sender: r.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
		self:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("245")),
		status: r.NewStyle().Italic(true).Foreground(lipgloss.Color("214")),
	}
}

func (p *printer) message(msg api.ChatMessage, me string) {
	style := p.sender
	if me != "" && strings.EqualFold(msg.SenderUsername, me) {
		style = p.self
	}
	sender := sanitize(msg.SenderUsername)
	if sender == "" {
		sender = "?"
	}
	stamp := p.time.Render(formatTimestamp(msg.Timestamp))
	if msg.GroupID != nil {
		stamp += " " + p.muted.Render(fmt.Sprintf("[group %d]", *msg.GroupID))
	}
	fmt.Fprintf(p.out, "%s %s %s\n",
		stamp,
		style.Render(sender+":"),
		sanitize(msg.Content),
	)
}

func (p *printer) chat(chat api.PrivateChat, me string) {
	fmt.Fprintf(p.out, "%s %s\n",
		p.muted.Render(fmt.Sprintf("#%d", chat.ID)),
		p.sender.Render(sanitize(chat.Peer(me))),
	)
}

func (p *printer) statusLine(status string) {
	fmt.Fprintln(p.out, p.status.Render("-- "+status+" --"))
}

func (p *printer) line(text string) {
	fmt.Fprintln(p.out, text)
}

// sanitize strips terminal escape sequences from server supplied text.
func sanitize(text string) string {
	return strings.TrimSpace(ansi.Strip(text))
}

// formatTimestamp shortens a backend timestamp to local clock time. The
// backend sends ISO local date-times, with or without a zone.
func formatTimestamp(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "--:--"
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.Local().Format("15:04")
	}
	if ts, err := time.ParseInLocation("2006-01-02T15:04:05", raw, time.Local); err == nil {
		return ts.Format("15:04")
	}
	return raw
}
