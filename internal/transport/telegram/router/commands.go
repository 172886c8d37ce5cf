package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"contentbot/internal/content"
	"contentbot/internal/scheduler"
	"contentbot/pkg/tgui"
)

var errNoScheduler = errors.New("scheduler unavailable")

// DefaultCommands is the content command set: scheduling, listing and
// cancelling content for the current chat, plus limiter inspection.
func (m *CommandManager) DefaultCommands() []Command {
	return []Command{
		{
			Name:        "remind",
			Aliases:     []string{"r"},
			Description: "schedule a reminder in this chat",
			Usage:       "/remind <10m|18:30|daily 18:30|every 2h|template> <message> [--max=N]",
			Audit:       true,
			Handle:      m.handleRemind,
		},
		{
			Name:        "news",
			Description: "schedule a news digest",
			Usage:       "/news [template] [category...]",
			Audit:       true,
			Handle:      m.handleNews,
		},
		{
			Name:        "quiz",
			Description: "schedule a daily quiz",
			Usage:       "/quiz [template] [easy|medium|hard]",
			Audit:       true,
			Handle:      m.handleQuiz,
		},
		{
			Name:        "debate",
			Description: "schedule a debate topic",
			Usage:       "/debate [template] [category]",
			Audit:       true,
			Handle:      m.handleDebate,
		},
		{
			Name:        "fun",
			Description: "schedule fun content",
			Usage:       "/fun [template] [joke|fact|riddle...]",
			Audit:       true,
			Handle:      m.handleFun,
		},
		{
			Name:        "announce",
			Description: "schedule an announcement",
			Usage:       "/announce <when> <title> | <message> [--max=N]",
			Access:      AccessOwnerOnly,
			Audit:       true,
			Handle:      m.handleAnnounce,
		},
		{
			Name:        "schedules",
			Aliases:     []string{"ls"},
			Description: "list active schedules in this chat",
			Usage:       "/schedules [--all]",
			Handle:      m.handleSchedules,
		},
		{
			Name:        "cancel",
			Description: "cancel a schedule by id (prefix)",
			Usage:       "/cancel <id>",
			Audit:       true,
			Handle:      m.handleCancel,
		},
		{
			Name:        "limits",
			Description: "show your rate limit status",
			Usage:       "/limits",
			Unlimited:   true,
			Handle:      m.handleLimits,
		},
	}
}

func (m *CommandManager) location() *time.Location {
	if loc := m.config().Location; loc != nil {
		return loc
	}
	return time.Local
}

func (m *CommandManager) handleRemind(ctx context.Context, req *Request) error {
	sch := m.serv.Scheduler
	if sch == nil {
		return errNoScheduler
	}
	w, err := parseWhen(req.Args, m.now(), m.location(), isTemplate)
	if err != nil {
		return req.Reply(ctx, "⚠️ "+err.Error()+"\nUsage: /remind <when> <message>")
	}
	msg := strings.TrimSpace(strings.Join(req.Args[w.Used:], " "))
	if msg == "" {
		return req.Reply(ctx, "⚠️ missing message\nUsage: /remind <when> <message>")
	}
	maxRuns, err := maxRunsFlag(req)
	if err != nil {
		return req.Reply(ctx, "⚠️ "+err.Error())
	}
	return m.schedule(ctx, req, w, content.KindReminder, content.Params{"message": msg}, maxRuns)
}

func (m *CommandManager) handleAnnounce(ctx context.Context, req *Request) error {
	sch := m.serv.Scheduler
	if sch == nil {
		return errNoScheduler
	}
	w, err := parseWhen(req.Args, m.now(), m.location(), isTemplate)
	if err != nil {
		return req.Reply(ctx, "⚠️ "+err.Error()+"\nUsage: /announce <when> <title> | <message>")
	}
	text := strings.TrimSpace(strings.Join(req.Args[w.Used:], " "))
	if text == "" {
		return req.Reply(ctx, "⚠️ missing announcement text")
	}
	data := content.Params{}
	if title, body, ok := strings.Cut(text, "|"); ok {
		if t := strings.TrimSpace(title); t != "" {
			data["title"] = t
		}
		data["message"] = strings.TrimSpace(body)
	} else {
		data["message"] = text
	}
	maxRuns, err := maxRunsFlag(req)
	if err != nil {
		return req.Reply(ctx, "⚠️ "+err.Error())
	}
	return m.schedule(ctx, req, w, content.KindAnnouncement, data, maxRuns)
}

// schedule creates kind for the request's chat from a parsed expression.
func (m *CommandManager) schedule(ctx context.Context, req *Request, w when, kind content.Kind, data content.Params, maxRuns int) error {
	sch := m.serv.Scheduler
	var (
		id  string
		err error
	)
	if w.Template != "" {
		id, err = sch.ScheduleFromTemplate(ctx, w.Template, kind, req.Chat.ChatID, data, maxRuns)
	} else {
		id, err = sch.Schedule(ctx, scheduler.Request{
			Kind:          kind,
			DestinationID: req.Chat.ChatID,
			Data:          data,
			Discipline:    w.Discipline,
			Config:        w.Config,
			MaxRuns:       maxRuns,
			Metadata:      content.Params{"created_by": req.FromID, "source": "command"},
		})
	}
	return m.replyScheduled(ctx, req, kind, id, err)
}

func (m *CommandManager) handleNews(ctx context.Context, req *Request) error {
	if m.serv.Scheduler == nil {
		return errNoScheduler
	}
	tpl, rest := splitTemplate(req.Args)
	id, err := m.serv.Scheduler.ScheduleNewsDigest(ctx, req.Chat.ChatID, tpl, rest)
	return m.replyScheduled(ctx, req, content.KindNews, id, err)
}

func (m *CommandManager) handleQuiz(ctx context.Context, req *Request) error {
	if m.serv.Scheduler == nil {
		return errNoScheduler
	}
	tpl, rest := splitTemplate(req.Args)
	difficulty := ""
	if len(rest) > 0 {
		difficulty = strings.ToLower(rest[0])
		switch difficulty {
		case "easy", "medium", "hard":
		default:
			return req.Reply(ctx, "⚠️ difficulty must be easy, medium or hard")
		}
	}
	id, err := m.serv.Scheduler.ScheduleDailyQuiz(ctx, req.Chat.ChatID, tpl, difficulty)
	return m.replyScheduled(ctx, req, content.KindQuiz, id, err)
}

func (m *CommandManager) handleDebate(ctx context.Context, req *Request) error {
	if m.serv.Scheduler == nil {
		return errNoScheduler
	}
	tpl, rest := splitTemplate(req.Args)
	id, err := m.serv.Scheduler.ScheduleDebateTopic(ctx, req.Chat.ChatID, tpl, strings.Join(rest, " "))
	return m.replyScheduled(ctx, req, content.KindDebate, id, err)
}

func (m *CommandManager) handleFun(ctx context.Context, req *Request) error {
	if m.serv.Scheduler == nil {
		return errNoScheduler
	}
	tpl, rest := splitTemplate(req.Args)
	id, err := m.serv.Scheduler.ScheduleFunContent(ctx, req.Chat.ChatID, tpl, rest)
	return m.replyScheduled(ctx, req, content.KindFun, id, err)
}

func (m *CommandManager) replyScheduled(ctx context.Context, req *Request, kind content.Kind, id string, err error) error {
	req.Action = "schedule." + string(kind)
	if err != nil {
		var ce *content.ConfigError
		if errors.As(err, &ce) {
			_ = req.Reply(ctx, "⚠️ invalid schedule: "+ce.Error())
		} else {
			_ = req.Reply(ctx, "❌ could not schedule "+string(kind)+": "+err.Error())
		}
		return err
	}
	req.Target = id

	line := fmt.Sprintf("✅ %s scheduled (id %s)", kind, shortID(id))
	if sc, ok := m.serv.Scheduler.Get(id); ok && !sc.NextRun.IsZero() {
		line += "\nNext run: " + sc.NextRun.In(m.location()).Format("Mon 02 Jan 15:04 MST")
	}
	return req.Reply(ctx, line)
}

func (m *CommandManager) handleSchedules(ctx context.Context, req *Request) error {
	if m.serv.Scheduler == nil {
		return errNoScheduler
	}
	f := scheduler.Filter{DestinationID: req.Chat.ChatID, ActiveOnly: true}
	if req.BoolFlags["all"] && req.IsOwner {
		f.DestinationID = 0
	}
	list := m.serv.Scheduler.List(f)
	if len(list) == 0 {
		return req.Reply(ctx, "No active schedules.")
	}

	loc := m.location()
	b := tgui.New().Title("📅", "Active schedules ("+strconv.Itoa(len(list))+")").Blank()
	for _, sc := range list {
		parts := []tgui.H{tgui.Code(shortID(sc.ID)), tgui.Esc(string(sc.Kind)), tgui.I(string(sc.Discipline))}
		if f.DestinationID == 0 {
			parts = append(parts, tgui.Esc("chat "+strconv.FormatInt(sc.DestinationID, 10)))
		}
		if !sc.NextRun.IsZero() {
			parts = append(parts, tgui.Esc("next "+sc.NextRun.In(loc).Format("02 Jan 15:04")))
		}
		if limit := sc.EffectiveMaxRuns(); limit > 0 {
			parts = append(parts, tgui.Esc(fmt.Sprintf("runs %d/%d", sc.RunCount, limit)))
		} else if sc.RunCount > 0 {
			parts = append(parts, tgui.Esc(fmt.Sprintf("runs %d", sc.RunCount)))
		}
		if msg := sc.Data.StringOr("message", ""); msg != "" {
			parts = append(parts, tgui.Esc("“"+tgui.TruncRunes(msg, 32)+"”"))
		}
		b.Item(parts...)
	}
	return req.ReplyMessage(ctx, b.Build())
}

func (m *CommandManager) handleCancel(ctx context.Context, req *Request) error {
	if m.serv.Scheduler == nil {
		return errNoScheduler
	}
	req.Action = "schedule.cancel"
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Usage: /cancel <id>")
	}
	prefix := strings.ToLower(strings.TrimSpace(req.Args[0]))
	req.Target = prefix

	f := scheduler.Filter{DestinationID: req.Chat.ChatID}
	if req.IsOwner {
		f.DestinationID = 0
	}
	var matches []content.Schedule
	for _, sc := range m.serv.Scheduler.List(f) {
		if strings.HasPrefix(sc.ID, prefix) {
			matches = append(matches, sc)
		}
	}
	switch len(matches) {
	case 0:
		return req.Reply(ctx, "No schedule matches "+prefix+" in this chat.")
	case 1:
	default:
		return req.Reply(ctx, "Ambiguous id "+prefix+": "+strconv.Itoa(len(matches))+" schedules match. Use more characters.")
	}

	sc := matches[0]
	req.Target = sc.ID
	if !m.serv.Scheduler.Cancel(ctx, sc.ID) {
		return req.Reply(ctx, "Schedule "+shortID(sc.ID)+" no longer exists.")
	}
	return req.Reply(ctx, "🛑 Cancelled "+string(sc.Kind)+" schedule "+shortID(sc.ID)+".")
}

func (m *CommandManager) handleLimits(ctx context.Context, req *Request) error {
	l := m.serv.Limiter
	if l == nil {
		return req.Reply(ctx, "Rate limiting is disabled.")
	}
	st := l.Stats()
	wt := l.WaitTime(req.FromID, req.Chat.ChatID)

	lines := []string{
		"🚦 Rate limits",
		"You: " + st.ActorLimit + waitSuffix(wt.Actor),
		"This chat: " + st.DestinationLimit + waitSuffix(wt.Destination),
		"Global: " + st.GlobalLimit + waitSuffix(wt.Global),
	}
	if req.IsOwner {
		lines = append(lines, fmt.Sprintf("\nBuckets: %d users, %d chats. Global tokens left: %.1f",
			st.ActorBuckets, st.DestinationBuckets, st.GlobalTokensRemaining))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func waitSuffix(d time.Duration) string {
	if d <= 0 {
		return " (available)"
	}
	return " (next in " + humanDuration(d) + ")"
}

// humanDuration rounds to whole seconds; a pending wait never shows as "0s".
func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return max(d.Round(time.Second), time.Second).String()
}

func isTemplate(name string) bool {
	_, ok := scheduler.LookupTemplate(name)
	return ok
}

// splitTemplate treats a leading template name as the schedule preset.
func splitTemplate(args []string) (string, []string) {
	if len(args) > 0 && isTemplate(strings.ToLower(args[0])) {
		return strings.ToLower(args[0]), args[1:]
	}
	return "", args
}

func maxRunsFlag(req *Request) (int, error) {
	raw, ok := req.Flags["max"]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("--max must be a non-negative integer")
	}
	return n, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
