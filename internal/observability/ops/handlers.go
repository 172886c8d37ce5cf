package ops

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"contentbot/internal/content"
	"contentbot/internal/ratelimit"
	"contentbot/internal/scheduler"
	logx "contentbot/pkg/logx"
)

// Sources are the components the endpoints read from. Nil fields answer 503.
type Sources struct {
	// Health returns the app-level health document for /health.
	Health    func() any
	Scheduler *scheduler.Service
	Limiter   *ratelimit.Limiter
}

type HandlerOptions struct {
	Token string
	Pprof bool
	Log   logx.Logger
}

// Handler builds the ops router. /healthz is always unauthenticated so
// liveness probes work without the token.
func Handler(src Sources, opt HandlerOptions) http.Handler {
	h := &handlers{src: src, log: opt.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(requireToken(opt.Token))

		r.Get("/health", h.health)
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.listSchedules)
			r.Get("/history", h.history)
			r.Get("/{id}", h.getSchedule)
			r.Delete("/{id}", h.cancelSchedule)
		})
		r.Route("/ratelimit", func(r chi.Router) {
			r.Get("/", h.limiterStats)
			r.Get("/wait", h.limiterWait)
			r.Post("/reset", h.limiterReset)
		})
		if opt.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

type handlers struct {
	src Sources
	log logx.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	if h.src.Health == nil {
		unavailable(w, "health")
		return
	}
	writeJSON(w, http.StatusOK, h.src.Health())
}

// scheduleView flattens a schedule for JSON output.
type scheduleView struct {
	content.Schedule
	Exhausted bool `json:"exhausted"`
}

func (h *handlers) listSchedules(w http.ResponseWriter, r *http.Request) {
	if h.src.Scheduler == nil {
		unavailable(w, "scheduler")
		return
	}
	q := r.URL.Query()
	f := scheduler.Filter{ActiveOnly: q.Get("active") == "true"}
	if v := q.Get("destination_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid destination_id", http.StatusBadRequest)
			return
		}
		f.DestinationID = id
	}
	if v := q.Get("kind"); v != "" {
		k, ok := content.ParseKind(v)
		if !ok {
			http.Error(w, "unknown kind", http.StatusBadRequest)
			return
		}
		f.Kind = k
	}

	list := h.src.Scheduler.List(f)
	out := make([]scheduleView, 0, len(list))
	for _, sc := range list {
		out = append(out, scheduleView{Schedule: sc, Exhausted: sc.Exhausted()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "schedules": out})
}

func (h *handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	if h.src.Scheduler == nil {
		unavailable(w, "scheduler")
		return
	}
	sc, ok := h.src.Scheduler.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, scheduleView{Schedule: sc, Exhausted: sc.Exhausted()})
}

func (h *handlers) cancelSchedule(w http.ResponseWriter, r *http.Request) {
	if h.src.Scheduler == nil {
		unavailable(w, "scheduler")
		return
	}
	id := chi.URLParam(r, "id")
	if !h.src.Scheduler.Cancel(r.Context(), id) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.log.Info("schedule cancelled via ops", logx.String("schedule_id", id), logx.String("remote", r.RemoteAddr))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) history(w http.ResponseWriter, _ *http.Request) {
	if h.src.Scheduler == nil {
		unavailable(w, "scheduler")
		return
	}
	writeJSON(w, http.StatusOK, h.src.Scheduler.History())
}

func (h *handlers) limiterStats(w http.ResponseWriter, _ *http.Request) {
	if h.src.Limiter == nil {
		unavailable(w, "rate limiter")
		return
	}
	writeJSON(w, http.StatusOK, h.src.Limiter.Stats())
}

// limiterWait reports seconds until each scope has a token.
func (h *handlers) limiterWait(w http.ResponseWriter, r *http.Request) {
	if h.src.Limiter == nil {
		unavailable(w, "rate limiter")
		return
	}
	actor, dest, ok := idParams(w, r)
	if !ok {
		return
	}
	wt := h.src.Limiter.WaitTime(actor, dest)
	writeJSON(w, http.StatusOK, map[string]float64{
		ratelimit.ScopeGlobal:      seconds(wt.Global),
		ratelimit.ScopeActor:       seconds(wt.Actor),
		ratelimit.ScopeDestination: seconds(wt.Destination),
	})
}

// limiterReset resets the given scopes; with neither id it resets everything.
func (h *handlers) limiterReset(w http.ResponseWriter, r *http.Request) {
	if h.src.Limiter == nil {
		unavailable(w, "rate limiter")
		return
	}
	actor, dest, ok := idParams(w, r)
	if !ok {
		return
	}
	h.src.Limiter.Reset(actor, dest)
	w.WriteHeader(http.StatusNoContent)
}

func idParams(w http.ResponseWriter, r *http.Request) (actor, dest int64, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		key string
		dst *int64
	}{{"actor_id", &actor}, {"destination_id", &dest}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid "+p.key, http.StatusBadRequest)
			return 0, 0, false
		}
		*p.dst = n
	}
	return actor, dest, true
}

func seconds(d time.Duration) float64 { return d.Seconds() }

func unavailable(w http.ResponseWriter, what string) {
	http.Error(w, what+" unavailable", http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
