// Package interview is the dialogue engine: it turns a committed utterance
// into the interviewer's next line using the session's company context.
package interview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"yuzu/interviewer/internal/llm"
	"yuzu/interviewer/internal/store"
	"yuzu/interviewer/internal/turn"
	"yuzu/interviewer/internal/types"
)

const completeMarker = "[INTERVIEW_COMPLETE]"

type Config struct {
	MaxTurns       int
	HistoryChars   int
	OpeningLine    string
	ClosingLine    string
	EmptyReplyText string
	Persona        string
	MaxTokens      int
	Temperature    float64
}

type Engine struct {
	cfg   Config
	llm   llm.Client
	store *store.Store
	log   *zap.Logger
}

func New(cfg Config, client llm.Client, st *store.Store, log *zap.Logger) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 15
	}
	if cfg.HistoryChars <= 0 {
		cfg.HistoryChars = 2000
	}
	if cfg.ClosingLine == "" {
		cfg.ClosingLine = "The interview is now complete. Thank you for your time."
	}
	if cfg.EmptyReplyText == "" {
		cfg.EmptyReplyText = "I see. Tell me more."
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, llm: client, store: st, log: log.With(zap.String("component", "interview"))}
}

func (e *Engine) MaxTurns() int { return e.cfg.MaxTurns }

// Opening returns the interviewer's first line for a company.
func (e *Engine) Opening(c types.CompanyContext) string {
	if e.cfg.OpeningLine != "" {
		return e.cfg.OpeningLine
	}
	name := orDefault(c.Name, "the company")
	return fmt.Sprintf("Hello, my name is John and I'm a senior engineer at %s. Thanks for joining me today. Can you start by telling me a little about your background and experience?", name)
}

// Reply implements turn.DialogueEngine. A cancelled request records nothing,
// so an interrupted turn leaves no trace in the transcript.
func (e *Engine) Reply(ctx context.Context, req turn.Request) (string, error) {
	sess := e.store.GetSession(req.SessionID)
	if sess == nil {
		return "", fmt.Errorf("interview %s: %w", req.SessionID, store.ErrNotFound)
	}
	if sess.Complete {
		return "", nil
	}
	n := sess.Turns + 1
	limit := sess.MaxTurns
	if limit <= 0 {
		limit = e.cfg.MaxTurns
	}
	if n > limit {
		if _, err := e.store.AppendExchange(sess.ID, req.Transcript, e.cfg.ClosingLine); err != nil {
			return "", err
		}
		if err := e.store.MarkComplete(sess.ID); err != nil {
			return "", err
		}
		metricCompleted.Inc()
		e.log.Info("interview complete", zap.String("session", sess.ID), zap.Int("turns", sess.Turns))
		return e.cfg.ClosingLine, nil
	}

	start := time.Now()
	reply, err := e.llm.Complete(ctx, llm.Request{
		System: SystemContext(sess.Company, e.cfg.Persona),
		Messages: []llm.Message{{
			Role:    "user",
			Content: TurnMessage(recent(sess.Transcript, e.cfg.HistoryChars), n, req.Transcript, PhaseInstruction(n, sess.Company)),
		}},
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	if cerr := ctx.Err(); cerr != nil {
		return "", cerr
	}
	if err != nil {
		metricReplies.WithLabelValues("error").Inc()
		return "", fmt.Errorf("interview reply: %w", err)
	}
	reply = Clean(reply)
	if reply == "" {
		reply = e.cfg.EmptyReplyText
		metricReplies.WithLabelValues("empty").Inc()
	} else {
		metricReplies.WithLabelValues("ok").Inc()
	}
	if _, err := e.store.AppendExchange(sess.ID, req.Transcript, reply); err != nil {
		return "", err
	}
	e.log.Debug("reply", zap.String("session", sess.ID), zap.Int("turn", n), zap.Duration("took", time.Since(start)))
	return reply, nil
}

// Clean strips control markers the model may emit.
func Clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, completeMarker, ""))
}
