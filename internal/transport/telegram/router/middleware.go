package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"contentbot/internal/ratelimit"
	"contentbot/internal/storage"
	logx "contentbot/pkg/logx"
)

// ErrRateLimited is returned by the rate-limit gate after it replied to the user.
var ErrRateLimited = errors.New("rate limited")

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int("thread_id", req.Chat.ThreadID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			switch {
			case errors.Is(err, ErrRateLimited):
				logger.Info("request rate limited", fields...)
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				// Keep INFO useful: short successful requests go to DEBUG.
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWRateLimit admits the request through the limiter (actor = sender,
// destination = chat). Rejected requests get a reply with the wait time.
func MWRateLimit(l *ratelimit.Limiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if l == nil {
				return next(ctx, req)
			}
			dec := l.Decide(req.FromID, req.Chat.ChatID)
			if dec.Allowed {
				return next(ctx, req)
			}
			wait := scopeWait(l.WaitTime(req.FromID, req.Chat.ChatID), dec.Scope)
			_ = req.Reply(ctx, fmt.Sprintf("Slow down: %s limit reached. Try again in %s.", scopeLabel(dec.Scope), humanDuration(wait)))
			return fmt.Errorf("%w (%s)", ErrRateLimited, dec.Scope)
		}
	}
}

func scopeWait(w ratelimit.WaitTimes, scope string) time.Duration {
	switch scope {
	case ratelimit.ScopeGlobal:
		return w.Global
	case ratelimit.ScopeActor:
		return w.Actor
	case ratelimit.ScopeDestination:
		return w.Destination
	}
	return w.Max()
}

func scopeLabel(scope string) string {
	switch scope {
	case ratelimit.ScopeActor:
		return "user"
	case ratelimit.ScopeDestination:
		return "chat"
	}
	return scope
}

// AuditLog is the append-only operator action log.
type AuditLog interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// MWAudit appends one entry per handled request. Audit failures are logged
// and never fail the request.
func MWAudit(audit AuditLog, log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if audit == nil {
				return next(ctx, req)
			}
			start := time.Now()
			err := next(ctx, req)

			e := storage.AuditEntry{
				At:            start.UTC(),
				ActorID:       req.FromID,
				ActorUsername: req.FromUsername,
				ChatID:        req.Chat.ChatID,
				ThreadID:      req.Chat.ThreadID,
				Command:       req.Command,
				Action:        req.Action,
				Target:        req.Target,
				OK:            err == nil,
				TookMS:        time.Since(start).Milliseconds(),
			}
			if e.Action == "" {
				e.Action = req.Command
			}
			if err != nil {
				e.Error = err.Error()
			}
			if len(req.RawArgs) > 0 {
				if b, jerr := json.Marshal(map[string]any{"args": req.RawArgs, "rid": req.ReqID}); jerr == nil {
					e.MetaJSON = string(b)
				}
			}

			// The request ctx may already be done (timeout); audit gets its own budget.
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if aerr := audit.AppendAudit(actx, e); aerr != nil && !errors.Is(aerr, storage.ErrDisabled) {
				log.Warn("audit append failed", logx.String("cmd", req.Command), logx.Err(aerr))
			}
			cancel()
			return err
		}
	}
}
