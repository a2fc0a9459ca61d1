package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"tickerd/internal/ics"
	"tickerd/internal/recurrence"
	"tickerd/internal/regen"
	"tickerd/internal/storage"
	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

type handler struct {
	deps Deps
	log  logx.Logger
}

// newRouter wires the chi stack: request ids, panic recovery, optional CORS.
func newRouter(h *handler, origins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/tickers", func(r chi.Router) {
			r.Get("/", h.listTickers)
			r.Post("/", h.createTicker)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getTicker)
				r.Put("/", h.updateTicker)
				r.Delete("/", h.deleteTicker)
				r.Post("/toggle", h.toggleTicker)
				r.Post("/regenerate", h.regenerateTicker)
			})
		})
		r.Post("/regenerate", h.regenerateAll)
		r.Post("/import/ics", h.importICS)
		r.Get("/status", h.status)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (h *handler) listTickers(w http.ResponseWriter, r *http.Request) {
	all, err := h.deps.Store.LoadAll(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	now := h.deps.Calendar.Now()
	views := make([]tickerView, 0, len(all))
	for _, tk := range all {
		views = append(views, h.view(tk, now))
	}
	h.writeJSON(w, http.StatusOK, listResponse{
		Tickers: views,
		Counts:  ticker.CountHealth(all, now),
	})
}

func (h *handler) createTicker(w http.ResponseWriter, r *http.Request) {
	req, countdown, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	now := h.deps.Calendar.Now()
	tk := ticker.New(uuid.NewString(), strings.TrimSpace(req.Label), req.Schedule, now)
	tk.Countdown = countdown
	if req.Enabled != nil {
		tk.Enabled = *req.Enabled
	}

	if err := h.deps.Store.Save(r.Context(), tk); err != nil {
		h.fail(w, err)
		return
	}
	h.kick(r, tk.ID)
	h.writeJSON(w, http.StatusCreated, h.view(tk, now))
}

func (h *handler) getTicker(w http.ResponseWriter, r *http.Request) {
	tk, err := h.deps.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(tk, h.deps.Calendar.Now()))
}

// updateTicker replaces label/schedule/countdown and forces regeneration so
// stale registrations for the old schedule come down promptly.
func (h *handler) updateTicker(w http.ResponseWriter, r *http.Request) {
	tk, err := h.deps.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	req, countdown, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	tk.Label = strings.TrimSpace(req.Label)
	tk.Schedule = req.Schedule
	tk.Countdown = countdown
	if req.Enabled != nil {
		tk.Enabled = *req.Enabled
	}
	tk.UpdatedAt = h.deps.Calendar.Now()
	tk.Generation.MarkDirty()

	if err := h.deps.Store.Save(r.Context(), tk); err != nil {
		h.fail(w, err)
		return
	}
	h.kick(r, tk.ID)
	h.writeJSON(w, http.StatusOK, h.view(tk, h.deps.Calendar.Now()))
}

// deleteTicker disables first and lets the coordinator tear the held alarms
// down, then removes the record.
func (h *handler) deleteTicker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tk, err := h.deps.Store.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if tk.Enabled || len(tk.Generation.Registrations) > 0 {
		tk.Enabled = false
		if err := h.deps.Store.Save(r.Context(), tk); err != nil {
			h.fail(w, err)
			return
		}
		h.kick(r, id)
	}
	if err := h.deps.Store.Delete(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// toggleTicker flips Enabled. Re-enabling resets the generation record so the
// coordinator treats the ticker as never regenerated.
func (h *handler) toggleTicker(w http.ResponseWriter, r *http.Request) {
	tk, err := h.deps.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	tk.Enabled = !tk.Enabled
	tk.UpdatedAt = h.deps.Calendar.Now()
	if tk.Enabled {
		tk.Generation.MarkDirty()
	}
	if err := h.deps.Store.Save(r.Context(), tk); err != nil {
		h.fail(w, err)
		return
	}
	h.kick(r, tk.ID)
	h.writeJSON(w, http.StatusOK, h.view(tk, h.deps.Calendar.Now()))
}

func (h *handler) regenerateTicker(w http.ResponseWriter, r *http.Request) {
	if h.deps.Coord == nil {
		h.writeErr(w, http.StatusServiceUnavailable, "coordinator not running")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deps.Coord.Kick(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	tk, err := h.deps.Store.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(tk, h.deps.Calendar.Now()))
}

func (h *handler) regenerateAll(w http.ResponseWriter, r *http.Request) {
	if h.deps.Coord == nil {
		h.writeErr(w, http.StatusServiceUnavailable, "coordinator not running")
		return
	}
	stats, err := h.deps.Coord.RunPass(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *handler) importICS(w http.ResponseWriter, r *http.Request) {
	tks, rep, err := ics.Import(r.Body, ics.Options{
		Calendar: h.deps.Calendar,
		Log:      h.log,
	})
	if err != nil {
		h.writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := make([]string, 0, len(tks))
	for _, tk := range tks {
		if err := h.deps.Store.Save(r.Context(), tk); err != nil {
			h.fail(w, err)
			return
		}
		ids = append(ids, tk.ID)
	}
	if h.deps.Coord != nil && len(tks) > 0 {
		if _, err := h.deps.Coord.RunPass(r.Context()); err != nil && !errors.Is(err, regen.ErrDisabled) {
			h.log.Warn("post-import pass failed", logx.Err(err))
		}
	}
	h.writeJSON(w, http.StatusOK, struct {
		Report  ics.Report `json:"report"`
		Created []string   `json:"created"`
	}{rep, ids})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	now := h.deps.Calendar.Now()
	resp := statusResponse{Now: now}
	if h.deps.Coord != nil {
		resp.Regen = h.deps.Coord.Snapshot()
	}
	if h.deps.Budget != nil {
		snap := h.deps.Budget.Snapshot()
		resp.Alarms = &snap
	}
	if all, err := h.deps.Store.LoadAll(r.Context()); err == nil {
		resp.Counts = ticker.CountHealth(all, now)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// decodeRequest parses and validates the shared create/update payload.
func (h *handler) decodeRequest(w http.ResponseWriter, r *http.Request) (tickerRequest, *ticker.Countdown, bool) {
	var req tickerRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeErr(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return req, nil, false
	}
	if err := req.Schedule.Validate(); err != nil {
		h.fail(w, err)
		return req, nil, false
	}

	var countdown *ticker.Countdown
	if req.Countdown != nil {
		lead, err := time.ParseDuration(strings.TrimSpace(req.Countdown.Lead))
		if err != nil || lead < 0 {
			h.writeErr(w, http.StatusUnprocessableEntity, "countdown.lead: want a non-negative duration")
			return req, nil, false
		}
		countdown = &ticker.Countdown{Lead: lead, AutoRestart: req.Countdown.AutoRestart}
	}
	return req, countdown, true
}

// kick nudges the coordinator after a mutation; failures only log since the
// periodic pass will catch up.
func (h *handler) kick(r *http.Request, id string) {
	if h.deps.Coord == nil {
		return
	}
	if err := h.deps.Coord.Kick(r.Context(), id); err != nil &&
		!errors.Is(err, regen.ErrDisabled) && !errors.Is(err, storage.ErrNotFound) {
		h.log.Warn("kick after mutation failed", logx.String("ticker", id), logx.Err(err))
	}
}

func (h *handler) view(tk ticker.Ticker, now time.Time) tickerView {
	v := tickerView{
		ID:          tk.ID,
		Label:       tk.Label,
		DisplayName: tk.DisplayName(),
		Enabled:     tk.Enabled,
		Schedule:    tk.Schedule,
		Summary:     tk.Schedule.String(),
		Health:      tk.HealthOf(now),
		CreatedAt:   tk.CreatedAt,
		UpdatedAt:   tk.UpdatedAt,
		Generation: generationView{
			State:        tk.Generation.State(now),
			ActiveAlarms: len(tk.Generation.Registrations),
			LastSuccess:  tk.Generation.LastSuccess,
			LastError:    tk.Generation.LastError,
			Degraded:     tk.Generation.Degraded,
		},
	}
	if tk.Countdown != nil {
		v.Countdown = &countdownPayload{
			Lead:        tk.Countdown.Lead.String(),
			AutoRestart: tk.Countdown.AutoRestart,
		}
	}
	if at := tk.Generation.LastRegeneratedAt; !at.IsZero() {
		v.Generation.LastRegeneratedAt = &at
	}
	if at := tk.Generation.NextRegenerationAt; !at.IsZero() {
		v.Generation.NextRegenerationAt = &at
	}
	if next, ok := recurrence.Next(tk.Schedule, now, h.deps.Calendar); ok {
		v.NextOccurrence = &next
	}
	return v
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("response encode failed", logx.Err(err))
	}
}

func (h *handler) writeErr(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps domain errors onto HTTP statuses.
func (h *handler) fail(w http.ResponseWriter, err error) {
	var verr *recurrence.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeErr(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		h.writeErr(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, regen.ErrBusy):
		h.writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, regen.ErrDisabled):
		h.writeErr(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error("request failed", logx.Err(err))
		h.writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
