// Package turn owns the per-connection turn-taking state machine: it decides
// when a user utterance is committed, runs dialogue and synthesis as one
// cancellable task, and enforces barge-in.
package turn

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"yuzu/interviewer/internal/floor"
	"yuzu/interviewer/internal/protocol"
	"yuzu/interviewer/internal/tts"
	"yuzu/interviewer/internal/types"
)

// ErrTranscriberClosed is returned by Run when the recognition stream dies.
var ErrTranscriberClosed = errors.New("turn: transcriber closed")

type Transcriber interface {
	SendAudio(pcm []byte) error
	Commit() error
	Close() error
}

// Request is one committed user utterance handed to the dialogue engine.
type Request struct {
	SessionID  string
	TurnID     int64
	Transcript string
}

type DialogueEngine interface {
	Reply(ctx context.Context, req Request) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (tts.Audio, error)
}

// Emitter delivers outbound events in call order.
type Emitter interface {
	Emit(ev protocol.Event) error
}

// Recorder receives diagnostic events for the session log.
type Recorder interface {
	AppendEvent(sessionID, typ string, payload map[string]any) types.Event
}

type Config struct {
	SessionID  string
	SampleRate int

	GenerationTimeout time.Duration
	SynthesisTimeout  time.Duration
	SpeakingTimeout   time.Duration
	FallbackText      string
	BargeIn           floor.Config
	InboxSize         int
	// EchoWindow bounds how long after a commit signal the recognizer's
	// flush of the same utterance is still recognized and dropped.
	EchoWindow time.Duration
}

type Deps struct {
	STT      Transcriber
	Dialogue DialogueEngine
	TTS      Synthesizer
	Out      Emitter
	Recorder Recorder
	Log      *zap.Logger
	Now      func() time.Time
}

// Session is the mutable turn state. Only the Run goroutine touches it.
type Session struct {
	ID            string
	SampleRate    int
	State         State
	Turn          int64
	LastCommitted string
	Partial       string
	task          *task
}

// Snapshot is a consistent copy of Session taken on the loop.
type Snapshot struct {
	State         State
	Turn          int64
	LastCommitted string
	Partial       string
	InFlight      bool
}

type Controller struct {
	cfg   Config
	deps  Deps
	log   *zap.Logger
	floor *floor.Manager

	inbox chan any
	done  chan struct{}

	// loop-owned
	sess       Session
	runCtx     context.Context
	nextTask   uint64
	echoPrefix string
	echoUntil  time.Time
	suppress   bool
	endErr     error
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.EchoWindow <= 0 {
		cfg.EchoWindow = 3 * time.Second
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = "I'm sorry, I'm having trouble connecting to my brain right now."
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Log.With(zap.String("component", "turn"), zap.String("session", cfg.SessionID)),
		floor: floor.New(cfg.BargeIn),
		inbox: make(chan any, cfg.InboxSize),
		done:  make(chan struct{}),
		sess:  Session{ID: cfg.SessionID, SampleRate: cfg.SampleRate, State: Idle},
	}
}

type (
	msgFrame             struct{ frame protocol.Frame }
	msgPartial           struct{ text string }
	msgFinal             struct{ text string }
	msgCommit            struct{}
	msgInterrupt         struct{}
	msgPlaybackEnded     struct{}
	msgTranscriberClosed struct{ err error }
	msgEnd               struct{}
	msgSnapshot          struct{ reply chan Snapshot }
)

func (c *Controller) SubmitFrame(f protocol.Frame)   { c.post(msgFrame{frame: f}) }
func (c *Controller) OnPartialTranscript(text string) { c.post(msgPartial{text: text}) }
func (c *Controller) OnFinalTranscript(text string)   { c.post(msgFinal{text: text}) }
func (c *Controller) OnCommitSignal()                 { c.post(msgCommit{}) }
func (c *Controller) OnInterruptRequested()           { c.post(msgInterrupt{}) }
func (c *Controller) OnPlaybackEnded()                { c.post(msgPlaybackEnded{}) }
func (c *Controller) EndSession()                     { c.post(msgEnd{}) }

// OnTranscriberClosed reports that the recognition stream ended on its own.
func (c *Controller) OnTranscriberClosed(err error) { c.post(msgTranscriberClosed{err: err}) }

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot reads the session state through the loop so it is ordered after
// every operation enqueued before it.
func (c *Controller) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case c.inbox <- msgSnapshot{reply: reply}:
	case <-c.done:
		return c.snapshot()
	}
	select {
	case s := <-reply:
		return s
	case <-c.done:
		return c.snapshot()
	}
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		State:         c.sess.State,
		Turn:          c.sess.Turn,
		LastCommitted: c.sess.LastCommitted,
		Partial:       c.sess.Partial,
		InFlight:      c.sess.task != nil,
	}
}

func (c *Controller) post(m any) {
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

// Run processes operations until the session ends or ctx is cancelled. It
// returns ErrTranscriberClosed (wrapped) when the transcriber failed.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	metricActiveSessions.Inc()
	defer metricActiveSessions.Dec()

	c.runCtx = ctx
	c.record("session_started", map[string]any{"sample_rate": c.sess.SampleRate})
	c.log.Info("turn loop started", zap.Int("sample_rate", c.sess.SampleRate))

	for {
		select {
		case <-ctx.Done():
			c.end("context_done")
			return nil
		case m := <-c.inbox:
			c.handle(m)
			if c.sess.State == Ended {
				return c.endErr
			}
		}
	}
}

func (c *Controller) handle(m any) {
	if c.sess.State == Ended {
		return
	}
	switch x := m.(type) {
	case msgFrame:
		c.handleFrame(x.frame)
	case msgPartial:
		c.handlePartial(x.text)
	case msgFinal:
		c.handleFinal(x.text)
	case msgCommit:
		c.handleCommit()
	case msgInterrupt:
		c.interrupt("client")
	case msgPlaybackEnded:
		c.handlePlaybackEnded("playback_ended")
	case msgTranscriberClosed:
		c.handleTranscriberClosed(x.err)
	case msgEnd:
		c.end("client_end")
	case msgSnapshot:
		x.reply <- c.snapshot()
	case generationResult:
		c.handleGeneration(x)
	case synthesisResult:
		c.handleSynthesis(x)
	case speakingTimeout:
		if c.current(x.taskID) {
			c.log.Info("speaking timeout without playback_ended", zap.Int64("turn", c.sess.Turn))
			c.handlePlaybackEnded("speaking_timeout")
		}
	}
}

func (c *Controller) setState(to State) {
	from := c.sess.State
	if from == to {
		return
	}
	metricStateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	c.log.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to), zap.Int64("turn", c.sess.Turn))
	c.sess.State = to
}

func (c *Controller) emit(ev protocol.Event) {
	if err := c.deps.Out.Emit(ev); err != nil {
		c.log.Warn("emit failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (c *Controller) record(typ string, payload map[string]any) {
	if c.deps.Recorder != nil {
		c.deps.Recorder.AppendEvent(c.sess.ID, typ, payload)
	}
}

func (c *Controller) end(reason string) {
	c.cancelTask()
	c.floor.OnAIStopped()
	c.setState(Ended)
	if err := c.deps.STT.Close(); err != nil {
		c.log.Debug("transcriber close", zap.Error(err))
	}
	c.record("session_ended", map[string]any{"reason": reason, "turns": c.sess.Turn})
	c.log.Info("turn loop ended", zap.String("reason", reason), zap.Int64("turns", c.sess.Turn))
}
