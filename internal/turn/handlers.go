package turn

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"yuzu/interviewer/internal/audio"
	"yuzu/interviewer/internal/protocol"
)

// handleFrame forwards audio to the transcriber and lets it take the floor
// back from the AI when the barge-in gate fires.
func (c *Controller) handleFrame(f protocol.Frame) {
	if len(f.PCM) == 0 {
		return
	}
	if err := c.deps.STT.SendAudio(f.PCM); err != nil {
		metricSTTSendErrors.Inc()
		c.log.Debug("stt send", zap.Uint64("seq", f.Seq), zap.Error(err))
	}

	switch c.sess.State {
	case Idle:
		c.setState(UserSpeaking)
	case AIGenerating, AISpeaking:
		d := c.floor.OnFrame(audio.RMS(f.PCM), c.deps.Now())
		if d.ShouldInterrupt {
			c.log.Info("barge-in", zap.Int64("turn", d.TurnID), zap.Uint64("seq", f.Seq))
			c.interrupt(d.Reason)
		}
	}
}

func (c *Controller) handlePartial(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.sess.Partial = text
	c.emit(protocol.Partial(c.sess.Turn+1, text))
}

func (c *Controller) handleFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.suppress {
		c.suppress = false
		if c.deps.Now().Before(c.echoUntil) && strings.HasPrefix(text, c.echoPrefix) {
			metricDroppedFinals.WithLabelValues("flush_echo").Inc()
			c.log.Debug("dropped flush echo", zap.String("text", text))
			return
		}
	}
	if text == c.sess.LastCommitted {
		metricDroppedFinals.WithLabelValues("duplicate").Inc()
		c.log.Info("dropped duplicate final", zap.String("text", text), zap.Int64("turn", c.sess.Turn))
		c.record("duplicate_final", map[string]any{"text": text, "turn": c.sess.Turn})
		return
	}
	if c.sess.task != nil || c.sess.State == AISpeaking {
		c.interrupt("superseded")
	}
	c.commit(text)
}

func (c *Controller) commit(text string) {
	c.setState(Committing)
	c.sess.Turn++
	c.sess.LastCommitted = text
	c.sess.Partial = ""
	c.emit(protocol.Transcript(c.sess.Turn, text))
	c.record("turn_committed", map[string]any{"turn": c.sess.Turn, "text": text})
	c.startGeneration(c.sess.Turn, text)
	c.setState(AIGenerating)
}

func (c *Controller) handleCommit() {
	if c.sess.State != Idle && c.sess.State != UserSpeaking {
		c.log.Debug("commit ignored", zap.Stringer("state", c.sess.State))
		return
	}
	if err := c.deps.STT.Commit(); err != nil {
		c.log.Warn("stt commit", zap.Error(err))
	}
	p := c.sess.Partial
	if p == "" {
		return
	}
	c.handleFinal(p)
	if c.sess.LastCommitted == p {
		c.suppress = true
		c.echoPrefix = p
		c.echoUntil = c.deps.Now().Add(c.cfg.EchoWindow)
	}
}

// interrupt cancels AI work and hands the turn to the user. The client is
// told to flush only when there was something to flush.
func (c *Controller) interrupt(reason string) {
	wasAI := c.sess.State.aiOwned()
	c.clearEcho()
	c.cancelTask()
	c.floor.OnAIStopped()
	if wasAI {
		metricInterrupts.WithLabelValues(reason).Inc()
		c.emit(protocol.Interrupt(c.sess.Turn))
		c.record("interrupt", map[string]any{"turn": c.sess.Turn, "reason": reason})
	}
	c.setState(UserSpeaking)
}

// clearEcho forgets a pending recognizer flush. The echo belongs to the turn
// that was committed, so it cannot outlive that turn.
func (c *Controller) clearEcho() {
	c.suppress = false
	c.echoPrefix = ""
}

func (c *Controller) handleGeneration(r generationResult) {
	if !c.current(r.taskID) {
		metricStaleResults.WithLabelValues("generation").Inc()
		return
	}
	if r.err != nil {
		metricFallbacks.WithLabelValues("dialogue").Inc()
		c.log.Warn("dialogue failed", zap.Int64("turn", r.turn), zap.Error(r.err))
		c.emit(protocol.Text(r.turn, c.cfg.FallbackText))
		c.completeTurn(r.turn, "dialogue_fallback")
		c.finishTask()
		return
	}
	reply := strings.TrimSpace(r.reply)
	if reply == "" {
		c.log.Debug("empty reply", zap.Int64("turn", r.turn))
		c.finishTask()
		return
	}
	c.setState(AISpeaking)
	c.startSynthesis(c.sess.task, reply)
}

func (c *Controller) handleSynthesis(r synthesisResult) {
	if !c.current(r.taskID) {
		metricStaleResults.WithLabelValues("synthesis").Inc()
		return
	}
	if r.err != nil {
		metricFallbacks.WithLabelValues("synthesis").Inc()
		c.log.Warn("synthesis failed", zap.Int64("turn", r.turn), zap.Error(r.err))
		c.emit(protocol.Text(r.turn, r.text))
		c.completeTurn(r.turn, "synthesis_fallback")
		c.finishTask()
		return
	}
	c.emit(protocol.Audio(protocol.AudioChunk{
		Payload:  r.audio.Data,
		MimeType: r.audio.MimeType,
		Text:     r.text,
		TurnID:   r.turn,
	}))
	c.completeTurn(r.turn, "audio")
	c.armSpeaking(c.sess.task)
}

func (c *Controller) handlePlaybackEnded(reason string) {
	t := c.sess.task
	if c.sess.State != AISpeaking || t == nil || !t.audioSent {
		return
	}
	c.record("ai_turn_finished", map[string]any{"turn": t.turn, "reason": reason})
	c.finishTask()
}

// completeTurn marks the AI response for a turn as delivered, which allows
// the user to repeat their last utterance.
func (c *Controller) completeTurn(turn int64, kind string) {
	c.sess.LastCommitted = ""
	c.record("ai_response", map[string]any{"turn": turn, "kind": kind})
}

func (c *Controller) handleTranscriberClosed(err error) {
	if err == nil {
		err = fmt.Errorf("stream ended")
	}
	c.log.Error("transcriber closed", zap.Error(err))
	c.emit(protocol.Error("transcriber_unavailable", "speech recognition is unavailable"))
	c.endErr = fmt.Errorf("%w: %v", ErrTranscriberClosed, err)
	c.end("transcriber_closed")
}
