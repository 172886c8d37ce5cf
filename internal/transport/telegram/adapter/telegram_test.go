package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "contentbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text: %q", got)
	}

	// Newline near the end of the window wins over a hard cut.
	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(text, 10, "")
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("newline split: %q", got)
	}

	// No newline: hard cut on rune boundaries.
	got = splitTelegramText(strings.Repeat("é", 25), 10, "")
	if len(got) != 3 || got[0] != strings.Repeat("é", 10) || got[2] != strings.Repeat("é", 5) {
		t.Fatalf("rune split: %q", got)
	}

	// HTML mode never leaves a tag open at the cut.
	got = splitTelegramText("abcdef<b>bold</b>", 8, "HTML")
	if got[0] != "abcdef" || !strings.HasPrefix(got[1], "<b>") {
		t.Fatalf("html split: %q", got)
	}
	if strings.Join(got, "") != "abcdef<b>bold</b>" {
		t.Fatalf("html split lost text: %q", got)
	}
}

func TestMessageUpdate(t *testing.T) {
	t.Parallel()

	up, ok := messageUpdate(&tele.Message{
		ID:       5,
		Text:     "/remind 10m hi",
		ThreadID: 3,
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 7, Username: "ann"},
	})
	if !ok || up.Kind != kit.UpdateMessage {
		t.Fatalf("update: %+v ok=%v", up, ok)
	}
	m := up.Message
	if m.ChatID != -100 || m.ThreadID != 3 || m.FromID != 7 || m.FromUsername != "ann" || !m.IsGroup || m.Text != "/remind 10m hi" {
		t.Fatalf("message: %+v", m)
	}

	if _, ok := messageUpdate(&tele.Message{Chat: &tele.Chat{ID: 1}}); ok {
		t.Fatalf("channel post without sender should be ignored")
	}
	if _, ok := messageUpdate(nil); ok {
		t.Fatalf("nil message should be ignored")
	}
}

func TestSendOptions(t *testing.T) {
	t.Parallel()

	so := sendOptions(kit.ChatTarget{ChatID: 1, ThreadID: 9}, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Silent: true})
	if so.ThreadID != 9 || so.ParseMode != tele.ModeHTML || !so.DisableWebPagePreview || !so.DisableNotification {
		t.Fatalf("options: %+v", so)
	}
	if so := sendOptions(kit.ChatTarget{ChatID: 1}, nil); so.ParseMode != "" || so.DisableNotification {
		t.Fatalf("nil options: %+v", so)
	}
}

func TestMenuHashChangesWithContent(t *testing.T) {
	t.Parallel()

	a := []kit.BotCommand{{Command: "help", Description: "show help"}}
	b := []kit.BotCommand{{Command: "help", Description: "show commands"}}
	if menuHash(a) == menuHash(b) {
		t.Fatalf("different menus hash equal")
	}
	if menuHash(a) != menuHash([]kit.BotCommand{{Command: "help", Description: "show help"}}) {
		t.Fatalf("equal menus hash differently")
	}
}
