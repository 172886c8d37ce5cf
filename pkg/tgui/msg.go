package tgui

import (
	"context"
	"strings"

	kit "contentbot/internal/transport"
)

// Message is a rendered reply: text plus the send options it needs.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send delivers the message through any transport sender.
func (m Message) Send(ctx context.Context, s kit.Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	opt := m.Opt
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	return s.SendText(ctx, to, m.Text, opt)
}

// Builder assembles a message line by line.
type Builder struct {
	html           bool
	disablePreview bool
	lines          []string
}

// New creates an HTML builder with link previews disabled.
func New() *Builder {
	return &Builder{html: true, disablePreview: true}
}

// Plain switches the builder to plain text; markup helpers degrade to text.
func (b *Builder) Plain() *Builder {
	b.html = false
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := t
	if b.html {
		line = B(t).String()
	}
	if e := strings.TrimSpace(emoji); e != "" {
		line = e + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Section adds a blank line and a bold header.
func (b *Builder) Section(title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	b.Blank()
	if b.html {
		return b.H(B(t))
	}
	return b.Line(t)
}

// Line adds text, escaped in HTML mode.
func (b *Builder) Line(s string) *Builder {
	if b.html {
		s = Esc(s).String()
	}
	b.lines = append(b.lines, s)
	return b
}

// H adds a pre-built HTML line. In plain mode the markup is kept verbatim, so
// only use it on HTML builders.
func (b *Builder) H(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// Item adds a bullet line built from HTML parts.
func (b *Builder) Item(parts ...H) *Builder {
	return b.H("• " + JoinH(" ", parts...))
}

// KV adds a "• key: value" row.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	if !b.html {
		return b.Line("• " + key + ": " + value)
	}
	return b.H("• " + B(key) + ": " + Esc(value))
}

// Len is the number of lines added so far.
func (b *Builder) Len() int { return len(b.lines) }

// Build produces the message. Leading and trailing blank lines are dropped.
func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	opt := &kit.SendOptions{DisablePreview: b.disablePreview}
	if b.html {
		opt.ParseMode = "HTML"
	}
	return Message{Text: text, Opt: opt}
}
