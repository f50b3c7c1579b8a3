package turn

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"yuzu/interviewer/internal/observe"
	"yuzu/interviewer/internal/tts"
)

// task is the single in-flight AI job of a turn: dialogue, then synthesis,
// then the speaking window. Results carry the task id so the loop can
// discard anything from a task it already cancelled.
type task struct {
	id        uint64
	turn      int64
	ctx       context.Context
	cancel    context.CancelFunc
	timer     *time.Timer
	audioSent bool
}

type generationResult struct {
	taskID uint64
	turn   int64
	reply  string
	err    error
}

type synthesisResult struct {
	taskID uint64
	turn   int64
	text   string
	audio  tts.Audio
	err    error
}

type speakingTimeout struct{ taskID uint64 }

func (c *Controller) current(id uint64) bool {
	return c.sess.task != nil && c.sess.task.id == id
}

// cancelTask aborts the in-flight task, if any.
func (c *Controller) cancelTask() {
	t := c.sess.task
	if t == nil {
		return
	}
	t.cancel()
	if t.timer != nil {
		t.timer.Stop()
	}
	c.sess.task = nil
}

// finishTask releases a task that ran to completion and returns to Idle.
func (c *Controller) finishTask() {
	c.clearEcho()
	c.cancelTask()
	c.floor.OnAIStopped()
	c.setState(Idle)
}

func (c *Controller) startGeneration(turn int64, text string) {
	c.cancelTask()
	c.nextTask++
	ctx, cancel := context.WithCancel(c.runCtx)
	t := &task{id: c.nextTask, turn: turn, ctx: ctx, cancel: cancel}
	c.sess.task = t
	c.floor.OnAIStarted(turn, c.deps.Now())

	req := Request{SessionID: c.sess.ID, TurnID: turn, Transcript: text}
	id := t.id
	go func() {
		gctx, gcancel := withTimeout(ctx, c.cfg.GenerationTimeout)
		defer gcancel()
		gctx, span := observe.StartSpan(gctx, "dialogue.reply",
			attribute.String("session.id", req.SessionID),
			attribute.Int64("turn", turn),
		)
		start := time.Now()
		reply, err := c.deps.Dialogue.Reply(gctx, req)
		observe.EndSpan(span, err)
		if err == nil {
			metricGenerationMS.Observe(float64(time.Since(start).Milliseconds()))
		}
		c.post(generationResult{taskID: id, turn: turn, reply: reply, err: err})
	}()
}

func (c *Controller) startSynthesis(t *task, text string) {
	ctx, id, turn := t.ctx, t.id, t.turn
	go func() {
		sctx, scancel := withTimeout(ctx, c.cfg.SynthesisTimeout)
		defer scancel()
		sctx, span := observe.StartSpan(sctx, "tts.synthesize",
			attribute.Int64("turn", turn),
			attribute.Int("text.length", len(text)),
		)
		start := time.Now()
		a, err := c.deps.TTS.Synthesize(sctx, text)
		observe.EndSpan(span, err)
		if err != nil && ctx.Err() == nil {
			observe.Logger(sctx, c.log).Debug("synthesize", zap.Error(err))
		}
		if err == nil {
			metricSynthesisMS.Observe(float64(time.Since(start).Milliseconds()))
		}
		c.post(synthesisResult{taskID: id, turn: turn, text: text, audio: a, err: err})
	}()
}

// armSpeaking keeps the task alive while the client plays the audio, with a
// timer so a client that never reports playback_ended cannot hold the turn.
func (c *Controller) armSpeaking(t *task) {
	t.audioSent = true
	if c.cfg.SpeakingTimeout <= 0 {
		return
	}
	id := t.id
	t.timer = time.AfterFunc(c.cfg.SpeakingTimeout, func() {
		c.post(speakingTimeout{taskID: id})
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
