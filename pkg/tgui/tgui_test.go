package tgui

import (
	"context"
	"testing"

	kit "contentbot/internal/transport"
)

type captureSender struct {
	text string
	opt  *kit.SendOptions
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.text, c.opt = text, opt
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func TestBuilderEscapesHTML(t *testing.T) {
	t.Parallel()

	msg := New().
		Title("📅", "A & B").
		Line("<script>").
		KV("next", "1 < 2").
		Item(Code("/remind"), "- "+Esc("x>y")).
		Section("Times").
		Build()

	want := "📅 <b>A &amp; B</b>\n&lt;script&gt;\n• <b>next</b>: 1 &lt; 2\n• <code>/remind</code> - x&gt;y\n\n<b>Times</b>"
	if msg.Text != want {
		t.Fatalf("text:\n%s\nwant:\n%s", msg.Text, want)
	}
	if msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview {
		t.Fatalf("options: %+v", msg.Opt)
	}
}

func TestPlainBuilder(t *testing.T) {
	t.Parallel()

	msg := New().Plain().Title("", "Limits").KV("You", "2/1m0s").Line("<raw>").Build()
	if msg.Text != "Limits\n• You: 2/1m0s\n<raw>" || msg.Opt.ParseMode != "" {
		t.Fatalf("plain: %q %+v", msg.Text, msg.Opt)
	}
}

func TestSendUsesOptions(t *testing.T) {
	t.Parallel()

	var cs captureSender
	ref, err := New().Line("hi").Build().Send(context.Background(), &cs, kit.ChatTarget{ChatID: 5})
	if err != nil || ref.ChatID != 5 {
		t.Fatalf("send: %+v %v", ref, err)
	}
	if cs.text != "hi" || cs.opt.ParseMode != "HTML" {
		t.Fatalf("sent %q %+v", cs.text, cs.opt)
	}
	if _, err := (Message{Text: "x"}).Send(context.Background(), &cs, kit.ChatTarget{}); err != nil || cs.opt == nil {
		t.Fatalf("nil options should default: %v", err)
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	if got := TruncRunes("héllo wörld", 5); got != "héllo…" {
		t.Fatalf("trunc: %q", got)
	}
	if got := TruncRunes("abc", 3); got != "abc" {
		t.Fatalf("trunc exact: %q", got)
	}
	if got := JoinH(", ", Code("a"), "", B("b")); got != "<code>a</code>, <b>b</b>" {
		t.Fatalf("join: %q", got)
	}
	if got := Mention("Ann <3", 7); got != `<a href="tg://user?id=7">Ann &lt;3</a>` {
		t.Fatalf("mention: %q", got)
	}
	if got := Command("help"); got != "<code>/help</code>" {
		t.Fatalf("command: %q", got)
	}
}
