package delivery

import (
	"context"
	"fmt"
	"strings"

	"contentbot/internal/content"
)

// Fallback renders a plain message from the schedule payload. It keeps the bot
// useful when no content generator is wired.
type Fallback struct{}

func (Fallback) Generate(_ context.Context, p Prompt) (string, error) {
	var b strings.Builder
	switch p.Kind {
	case content.KindNews, content.KindDailyDigest, content.KindWeeklySummary:
		b.WriteString("📰 " + p.Text)
		if cats := p.Data.Strings("categories"); len(cats) > 0 {
			fmt.Fprintf(&b, "\nTopics: %s", strings.Join(cats, ", "))
		}
	case content.KindQuiz:
		b.WriteString("🧠 " + p.Text)
		fmt.Fprintf(&b, "\nDifficulty: %s", p.Data.StringOr("difficulty", "medium"))
		if n := p.Data.IntOr("max_questions", 0); n > 0 {
			fmt.Fprintf(&b, ", %d questions", n)
		}
	case content.KindDebate:
		b.WriteString("🎙 " + p.Text)
		if topic := p.Data.StringOr("topic", ""); topic != "" {
			fmt.Fprintf(&b, "\nTopic: %s", topic)
		} else {
			fmt.Fprintf(&b, "\nCategory: %s", p.Data.StringOr("topic_category", "general"))
		}
	case content.KindFun:
		b.WriteString("🎉 " + p.Text)
		if kinds := p.Data.Strings("content_types"); len(kinds) > 0 {
			fmt.Fprintf(&b, "\nToday: %s", strings.Join(kinds, ", "))
		}
	default:
		b.WriteString(p.Text)
	}
	if note := p.Data.StringOr("message", ""); note != "" {
		b.WriteString("\n\n" + note)
	}
	return b.String(), nil
}
