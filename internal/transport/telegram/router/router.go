// Package router dispatches inbound chat commands to handlers through a
// middleware chain (panic recover, request log, audit, rate-limit gate and
// timeout) on a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"contentbot/internal/ratelimit"
	"contentbot/internal/runtime/supervisor"
	"contentbot/internal/scheduler"
	kit "contentbot/internal/transport"
	logx "contentbot/pkg/logx"
	"contentbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	// Unlimited skips the rate-limit gate (help and limit inspection).
	Unlimited bool
	// Audit appends the request to the audit log.
	Audit   bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	// Action and Target are filled by handlers for the audit log.
	Action string
	Target string

	Sender  kit.Sender
	Logger  logx.Logger
	IsOwner bool
}

// Reply sends text back to the chat (and thread) the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.Sender == nil {
		return nil
	}
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyMessage sends a rendered tgui message.
func (r *Request) ReplyMessage(ctx context.Context, msg tgui.Message) error {
	if r.Sender == nil {
		return nil
	}
	_, err := msg.Send(ctx, r.Sender, r.Chat)
	return err
}

// Services are the collaborators command handlers act on. Any field may be nil
// in minimal/test environments.
type Services struct {
	Scheduler *scheduler.Service
	Limiter   *ratelimit.Limiter
	Audit     AuditLog
}

// Config holds the live-tunable router settings.
type Config struct {
	CommandTimeout time.Duration
	Location       *time.Location
	Owners         []int64
}

type Option func(*CommandManager)

// WithClock overrides time.Now for schedule expressions.
func WithClock(now func() time.Time) Option { return func(m *CommandManager) { m.now = now } }

// WithWorkers overrides the worker pool size (default: NumCPU, at least 2).
func WithWorkers(n int) Option { return func(m *CommandManager) { m.workers = n } }

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command
	cfg   Config

	log     logx.Logger
	adapter kit.Adapter
	serv    Services
	now     func() time.Time
	workers int

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, serv Services, cfg Config, opts ...Option) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.Owners = append([]int64(nil), cfg.Owners...)
	m := &CommandManager{
		cmds:    map[string]*Command{},
		alias:   map[string]*Command{},
		cfg:     cfg,
		log:     log,
		adapter: adapter,
		serv:    serv,
		now:     time.Now,
		jobs:    make(chan func(), 256),
	}
	for _, o := range opts {
		o(m)
	}
	if m.workers <= 0 {
		m.workers = max(runtime.NumCPU(), 2)
	}
	return m
}

// Apply swaps the live settings. Safe to call during hot-reload.
func (m *CommandManager) Apply(cfg Config) {
	cfg.Owners = append([]int64(nil), cfg.Owners...)
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *CommandManager) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Supervisor returns the dispatcher's worker supervisor (nil if not running).
func (m *CommandManager) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry installs the command set. /help is always injected. The
// adapter's command menu is refreshed in the background.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h", "start"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Unlimited:   true,
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyMessage(ctx, m.helpMessage(req.Args, req.IsOwner))
		},
	}
	cmds = append(cmds, helper)

	reg := map[string]*Command{}
	alias := map[string]*Command{}
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		reg[name] = &cc
	}
	for _, c := range reg {
		for _, a := range c.Aliases {
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, taken := reg[sa]; !taken {
					alias[sa] = c
				}
			}
		}
	}

	m.mu.Lock()
	m.cmds = reg
	m.alias = alias
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(m.commands())
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				m.log.Warn("command menu update failed", logx.Err(err))
			}
		}()
	}
}

// commands returns the registered commands sorted by name.
func (m *CommandManager) commands() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, *c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	word = strings.ToLower(word)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// Mark as not running before closing so enqueue can degrade gracefully.
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// A job should never panic (middleware already catches),
					// but keep workers alive if it happens.
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		// Wait briefly for workers to drain.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	c, ok := m.lookup(word)
	if !ok {
		_, _ = m.adapter.SendText(root, chat, "Unknown command. Try /help", nil)
		return
	}
	cmd := *c
	raw := parts[1:]
	pos, flags, bools := parseFlags(raw)
	cfg := m.config()
	owner := isOwner(msg.FromID, cfg.Owners)

	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = m.adapter.SendText(root, chat, "This command is restricted to bot owners.", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         pos,
		RawArgs:      raw,
		Flags:        flags,
		BoolFlags:    bools,
		ReqID:        rid,
		Sender:       m.adapter,
		IsOwner:      owner,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = cfg.CommandTimeout
	}
	mws := []Middleware{MWPanicRecover(m.log), MWRequestLog(m.log)}
	if cmd.Audit {
		mws = append(mws, MWAudit(m.serv.Audit, m.log))
	}
	if !cmd.Unlimited {
		mws = append(mws, MWRateLimit(m.serv.Limiter))
	}
	mws = append(mws, MWTimeout(timeout))
	final := Chain(cmd.Handle, mws...)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, "Busy, try again in a moment.", nil)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
