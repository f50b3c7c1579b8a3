// Package api is the HTTP surface: interview sessions, ad hoc speech
// synthesis, probes and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yuzu/interviewer/internal/auth"
	"yuzu/interviewer/internal/health"
	"yuzu/interviewer/internal/store"
	"yuzu/interviewer/internal/transport"
	"yuzu/interviewer/internal/turn"
	"yuzu/interviewer/internal/types"
)

// Interviewer supplies the per-session opening line and turn limit.
type Interviewer interface {
	Opening(c types.CompanyContext) string
	MaxTurns() int
}

type Options struct {
	TokenSecret string
	TokenTTL    time.Duration
	// Ready reports readiness; deep asks for live provider calls.
	Ready func(ctx context.Context, deep bool) health.HealthStatus
}

type Handlers struct {
	opts      Options
	store     *store.Store
	reg       *transport.Registry
	interview Interviewer
	tts       turn.Synthesizer
	log       *zap.Logger
}

func NewHandlers(opts Options, st *store.Store, reg *transport.Registry, iv Interviewer, synth turn.Synthesizer, log *zap.Logger) *Handlers {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 2 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{opts: opts, store: st, reg: reg, interview: iv, tts: synth, log: log.With(zap.String("component", "api"))}
}

type createSessionRequest struct {
	Company  types.CompanyContext `json:"company"`
	MaxTurns int                  `json:"max_turns,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MaxTurns < 0 {
		http.Error(w, "max_turns must be positive", http.StatusBadRequest)
		return
	}
	if req.MaxTurns == 0 {
		req.MaxTurns = h.interview.MaxTurns()
	}

	id := uuid.New().String()
	sess := &types.Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Status:    types.StatusCreated,
		Company:   req.Company,
		MaxTurns:  req.MaxTurns,
	}
	if err := h.store.CreateSession(sess); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	opening := h.interview.Opening(req.Company)
	_ = h.store.AppendOpening(id, opening)
	h.store.AppendEvent(id, "session_created", map[string]any{"company": req.Company.Name, "max_turns": req.MaxTurns})

	resp := map[string]any{
		"session_id":   id,
		"opening_line": opening,
		"max_turns":    req.MaxTurns,
	}
	if h.opts.TokenSecret != "" {
		exp := time.Now().Add(h.opts.TokenTTL)
		tok, err := auth.SessionToken(h.opts.TokenSecret, id, exp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp["token"] = tok
		resp["token_expires_at"] = exp.UTC()
	}
	h.log.Info("session created", zap.String("session", id), zap.String("company", req.Company.Name))
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess := h.store.GetSession(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":         sess.ID,
		"status":             sess.Status,
		"turn":               sess.Turns,
		"max_turns":          sess.MaxTurns,
		"interview_complete": sess.Complete,
		"voice_active":       h.reg.Active(id),
		"created_at":         sess.CreatedAt,
		"last_interaction":   sess.LastInteraction,
	})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if h.store.GetSession(id) == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.store.ListEvents(id),
	})
}

func (h *Handlers) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess := h.store.GetSession(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turn":       sess.Turns,
		"transcript": sess.Transcript,
	})
}

func (h *Handlers) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if h.store.GetSession(id) == nil {
		http.NotFound(w, r)
		return
	}
	live := h.reg.End(id)
	if !live {
		h.store.AppendEvent(id, "end_requested", map[string]any{"noop": true})
	} else {
		h.store.AppendEvent(id, "end_requested", nil)
	}
	_ = h.store.SetStatus(id, types.StatusEnded)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "voice_was_active": live})
}

// HandleTTS synthesizes ?text= directly, e.g. for the opening line.
func (h *Handlers) HandleTTS(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	a, err := h.tts.Synthesize(r.Context(), text)
	if err != nil {
		h.log.Warn("tts", zap.Error(err))
		http.Error(w, "synthesis failed", http.StatusBadGateway)
		return
	}
	mime := a.MimeType
	if mime == "" {
		mime = "audio/mpeg"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready == nil {
		w.Write([]byte("ok"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st := h.opts.Ready(ctx, r.URL.Query().Get("deep") == "1")
	status := http.StatusOK
	if !st.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}
