package router

import (
	"strings"

	"contentbot/internal/scheduler"
	"contentbot/pkg/tgui"
)

// helpMessage renders the command list, or one command's details when args
// names one. Owner-only commands are listed for owners only.
func (m *CommandManager) helpMessage(args []string, owner bool) tgui.Message {
	b := tgui.New()
	if len(args) > 0 {
		word := strings.TrimPrefix(args[0], "/")
		c, ok := m.lookup(word)
		if !ok || (c.Access == AccessOwnerOnly && !owner) {
			return b.Title("❓", "Unknown command").
				H("Type " + tgui.Command("help") + " to see the command list.").
				Build()
		}
		return commandHelp(b, *c).Build()
	}

	b.Title("📚", "Commands").H("Type " + tgui.Code("/help <cmd>") + " for details.").Blank()
	var locked []Command
	for _, c := range m.commands() {
		if c.Access == AccessOwnerOnly {
			if owner {
				locked = append(locked, c)
			}
			continue
		}
		b.Item(tgui.Command(c.Name), describe(c.Description))
	}
	for _, c := range locked {
		b.Item("🔒", tgui.Command(c.Name), describe(c.Description))
	}

	b.Section("Times").
		H(tgui.JoinH(", ", tgui.Code("10m"), tgui.Code("18:30"), tgui.Code("daily 18:30"), tgui.Code("every 2h")) + " or a template:")
	for _, t := range scheduler.Templates() {
		b.Item(tgui.Code(t.Name), describe(t.Description))
	}
	return b.Build()
}

func describe(s string) tgui.H {
	if s == "" {
		return ""
	}
	return "- " + tgui.Esc(s)
}

func commandHelp(b *tgui.Builder, c Command) *tgui.Builder {
	b.H(tgui.B("/" + c.Name))
	if c.Description != "" {
		b.Line(c.Description)
	}
	if c.Usage != "" {
		b.Blank().H("Usage: " + tgui.Code(c.Usage))
	}
	if len(c.Aliases) > 0 {
		b.H("Aliases: " + tgui.Code("/"+strings.Join(c.Aliases, " /")))
	}
	if c.Access == AccessOwnerOnly {
		b.Line("🔒 owners only")
	}
	return b
}
