package turn

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"yuzu/interviewer/internal/floor"
	"yuzu/interviewer/internal/protocol"
	"yuzu/interviewer/internal/tts"
	"yuzu/interviewer/internal/types"
)

type fakeSTT struct {
	mu      sync.Mutex
	frames  int
	commits int
	closed  bool
}

func (f *fakeSTT) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeSTT) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeSTT) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSTT) counts() (frames, commits int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames, f.commits, f.closed
}

type engineFunc func(ctx context.Context, req Request) (string, error)

func (f engineFunc) Reply(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

type synthFunc func(ctx context.Context, text string) (tts.Audio, error)

func (f synthFunc) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	return f(ctx, text)
}

type chanEmitter struct{ ch chan protocol.Event }

func (e *chanEmitter) Emit(ev protocol.Event) error {
	e.ch <- ev
	return nil
}

type memRecorder struct {
	mu   sync.Mutex
	typs []string
}

func (r *memRecorder) AppendEvent(sessionID, typ string, payload map[string]any) types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typs = append(r.typs, typ)
	return types.Event{Type: typ}
}

func (r *memRecorder) has(typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.typs {
		if t == typ {
			return true
		}
	}
	return false
}

func echoEngine(ctx context.Context, req Request) (string, error) {
	return "You said: " + req.Transcript, nil
}

func mp3Synth(ctx context.Context, text string) (tts.Audio, error) {
	return tts.Audio{Data: []byte("ID3" + text), MimeType: "audio/mpeg"}, nil
}

// blockingEngine never answers; it reports each cancellation it observes.
func blockingEngine(cancelled chan<- string) engineFunc {
	return func(ctx context.Context, req Request) (string, error) {
		<-ctx.Done()
		cancelled <- req.Transcript
		return "", ctx.Err()
	}
}

type harness struct {
	c    *Controller
	stt  *fakeSTT
	out  *chanEmitter
	rec  *memRecorder
	errc chan error
}

func start(t *testing.T, cfg Config, engine DialogueEngine, synth Synthesizer) *harness {
	t.Helper()
	if cfg.SessionID == "" {
		cfg.SessionID = "sess-1"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	h := &harness{
		stt:  &fakeSTT{},
		out:  &chanEmitter{ch: make(chan protocol.Event, 64)},
		rec:  &memRecorder{},
		errc: make(chan error, 1),
	}
	h.c = New(cfg, Deps{
		STT:      h.stt,
		Dialogue: engine,
		TTS:      synth,
		Out:      h.out,
		Recorder: h.rec,
		Log:      zaptest.NewLogger(t),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.errc <- h.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.c.Done()
	})
	return h
}

func (h *harness) next(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case ev := <-h.out.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return protocol.Event{}
	}
}

func (h *harness) expect(t *testing.T, typ string, turn int64) protocol.Event {
	t.Helper()
	ev := h.next(t)
	if ev.Type != typ || ev.TurnID != turn {
		t.Fatalf("expected %s(turn %d), got %s(turn %d) %+v", typ, turn, ev.Type, ev.TurnID, ev)
	}
	return ev
}

func (h *harness) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-h.out.ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(wait):
	}
}

func (h *harness) waitState(t *testing.T, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := h.c.Snapshot()
		if s.State == want {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", s.State, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var seq uint64

func frame(amplitude int16) protocol.Frame {
	pcm := make([]byte, 640)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(amplitude))
	}
	seq++
	return protocol.Frame{Seq: seq, SampleRate: 16000, PCM: pcm}
}

func TestHappyPathTurn(t *testing.T) {
	h := start(t, Config{}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.SubmitFrame(frame(3000))
	if s := h.c.Snapshot(); s.State != UserSpeaking {
		t.Fatalf("state after first frame = %s", s.State)
	}

	h.c.OnPartialTranscript("tell me")
	if ev := h.expect(t, protocol.EventPartial, 1); ev.Text != "tell me" {
		t.Fatalf("partial text = %q", ev.Text)
	}

	h.c.OnFinalTranscript("  Tell me about Go.  ")
	if ev := h.expect(t, protocol.EventTranscript, 1); ev.Text != "Tell me about Go." {
		t.Fatalf("transcript text = %q", ev.Text)
	}
	ev := h.expect(t, protocol.EventAudio, 1)
	if ev.Text != "You said: Tell me about Go." || ev.MimeType != "audio/mpeg" {
		t.Fatalf("audio event = %+v", ev)
	}
	chunk, err := ev.Chunk()
	if err != nil || string(chunk.Payload) != "ID3You said: Tell me about Go." {
		t.Fatalf("chunk = %+v err=%v", chunk, err)
	}

	s := h.waitState(t, AISpeaking)
	if s.LastCommitted != "" || s.Partial != "" || !s.InFlight {
		t.Fatalf("after audio: %+v", s)
	}

	h.c.OnPlaybackEnded()
	s = h.waitState(t, Idle)
	if s.InFlight || s.Turn != 1 {
		t.Fatalf("after playback: %+v", s)
	}
	if frames, _, _ := h.stt.counts(); frames != 1 {
		t.Fatalf("stt frames = %d", frames)
	}
	if !h.rec.has("turn_committed") || !h.rec.has("ai_response") {
		t.Fatalf("recorder missing events: %v", h.rec.typs)
	}
}

func TestBargeInDuringSpeaking(t *testing.T) {
	h := start(t, Config{}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	h.expect(t, protocol.EventAudio, 1)

	h.c.SubmitFrame(frame(2000))
	h.expect(t, protocol.EventInterrupt, 1)
	s := h.waitState(t, UserSpeaking)
	if s.InFlight {
		t.Fatalf("task still in flight after barge-in")
	}
	if frames, _, _ := h.stt.counts(); frames != 1 {
		t.Fatalf("barge-in frame not forwarded to stt: %d", frames)
	}
}

func TestBargeInCancelsGeneration(t *testing.T) {
	cancelled := make(chan string, 1)
	h := start(t, Config{}, blockingEngine(cancelled), synthFunc(mp3Synth))

	h.c.OnFinalTranscript("first question")
	h.expect(t, protocol.EventTranscript, 1)
	h.waitState(t, AIGenerating)

	h.c.SubmitFrame(frame(2000))
	h.expect(t, protocol.EventInterrupt, 1)
	select {
	case got := <-cancelled:
		if got != "first question" {
			t.Fatalf("cancelled %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dialogue context was not cancelled")
	}
	h.expectNone(t, 50*time.Millisecond)
	s := h.c.Snapshot()
	if s.State != UserSpeaking || s.LastCommitted != "first question" {
		t.Fatalf("after interrupt: %+v", s)
	}
}

func TestBargeInThreshold(t *testing.T) {
	cfg := Config{BargeIn: floor.Config{MinFrames: 2, MinRMS: 1000}}
	h := start(t, cfg, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	h.expect(t, protocol.EventAudio, 1)

	h.c.SubmitFrame(frame(100))
	h.c.SubmitFrame(frame(100))
	h.c.SubmitFrame(frame(5000))
	if s := h.c.Snapshot(); s.State != AISpeaking {
		t.Fatalf("quiet frames interrupted: %s", s.State)
	}
	h.c.SubmitFrame(frame(5000))
	h.expect(t, protocol.EventInterrupt, 1)
}

func TestDuplicateFinalDropped(t *testing.T) {
	cancelled := make(chan string, 4)
	h := start(t, Config{}, blockingEngine(cancelled), synthFunc(mp3Synth))

	h.c.OnFinalTranscript("hello there")
	h.expect(t, protocol.EventTranscript, 1)
	h.c.OnFinalTranscript("hello there")
	h.expectNone(t, 50*time.Millisecond)

	s := h.c.Snapshot()
	if s.Turn != 1 || s.State != AIGenerating || !s.InFlight {
		t.Fatalf("duplicate changed state: %+v", s)
	}
	select {
	case got := <-cancelled:
		t.Fatalf("duplicate cancelled the task for %q", got)
	default:
	}
}

func TestRepeatAllowedAfterCompletedTurn(t *testing.T) {
	h := start(t, Config{}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.OnFinalTranscript("yes")
	h.expect(t, protocol.EventTranscript, 1)
	h.expect(t, protocol.EventAudio, 1)
	h.c.OnPlaybackEnded()
	h.waitState(t, Idle)

	h.c.OnFinalTranscript("yes")
	h.expect(t, protocol.EventTranscript, 2)
	h.expect(t, protocol.EventAudio, 2)
}

func TestNewFinalSupersedesInFlightTask(t *testing.T) {
	cancelled := make(chan string, 1)
	engine := engineFunc(func(ctx context.Context, req Request) (string, error) {
		if req.Transcript == "first" {
			<-ctx.Done()
			cancelled <- req.Transcript
			return "late reply", nil
		}
		return "answer to " + req.Transcript, nil
	})
	h := start(t, Config{}, engine, synthFunc(mp3Synth))

	h.c.OnFinalTranscript("first")
	h.expect(t, protocol.EventTranscript, 1)
	h.c.OnFinalTranscript("second")
	h.expect(t, protocol.EventInterrupt, 1)
	h.expect(t, protocol.EventTranscript, 2)
	ev := h.expect(t, protocol.EventAudio, 2)
	if ev.Text != "answer to second" {
		t.Fatalf("audio text = %q", ev.Text)
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("first task not cancelled")
	}
	// the late reply of the first task must never surface
	h.expectNone(t, 50*time.Millisecond)
}

func TestDialogueFailureFallsBackToText(t *testing.T) {
	engine := engineFunc(func(ctx context.Context, req Request) (string, error) {
		return "", errors.New("llm down")
	})
	h := start(t, Config{FallbackText: "Sorry, say that again?"}, engine, synthFunc(mp3Synth))

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	if ev := h.expect(t, protocol.EventText, 1); ev.Text != "Sorry, say that again?" {
		t.Fatalf("fallback text = %q", ev.Text)
	}
	s := h.waitState(t, Idle)
	if s.LastCommitted != "" || s.InFlight {
		t.Fatalf("after fallback: %+v", s)
	}
}

func TestDialogueTimeoutFallsBackToText(t *testing.T) {
	cancelled := make(chan string, 1)
	h := start(t, Config{GenerationTimeout: 20 * time.Millisecond}, blockingEngine(cancelled), synthFunc(mp3Synth))

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	h.expect(t, protocol.EventText, 1)
	h.waitState(t, Idle)
}

func TestSynthesisFailureSendsReplyAsText(t *testing.T) {
	synth := synthFunc(func(ctx context.Context, text string) (tts.Audio, error) {
		return tts.Audio{}, errors.New("tts down")
	})
	h := start(t, Config{}, engineFunc(echoEngine), synth)

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	if ev := h.expect(t, protocol.EventText, 1); ev.Text != "You said: hello" {
		t.Fatalf("text = %q", ev.Text)
	}
	h.waitState(t, Idle)
}

func TestEmptyReplyReturnsToIdleSilently(t *testing.T) {
	engine := engineFunc(func(ctx context.Context, req Request) (string, error) { return "   ", nil })
	h := start(t, Config{}, engine, synthFunc(mp3Synth))

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	h.waitState(t, Idle)
	h.expectNone(t, 50*time.Millisecond)
}

func TestCommitSignalFinalizesPartial(t *testing.T) {
	h := start(t, Config{}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.SubmitFrame(frame(1000))
	h.c.OnPartialTranscript("what is a")
	h.expect(t, protocol.EventPartial, 1)
	h.c.OnCommitSignal()
	if ev := h.expect(t, protocol.EventTranscript, 1); ev.Text != "what is a" {
		t.Fatalf("committed %q", ev.Text)
	}
	h.expect(t, protocol.EventAudio, 1)

	// the recognizer's flush of the same utterance is not a new turn
	h.c.OnFinalTranscript("what is a goroutine")
	h.expectNone(t, 50*time.Millisecond)
	if s := h.c.Snapshot(); s.Turn != 1 || s.State != AISpeaking {
		t.Fatalf("flush echo committed: %+v", s)
	}
	if _, commits, _ := h.stt.counts(); commits != 1 {
		t.Fatalf("stt commits = %d", commits)
	}

	// later finals commit normally
	h.c.OnFinalTranscript("next question")
	h.expect(t, protocol.EventInterrupt, 1)
	h.expect(t, protocol.EventTranscript, 2)
}

func TestUnechoedCommitDoesNotSwallowNextTurn(t *testing.T) {
	h := start(t, Config{}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.SubmitFrame(frame(1000))
	h.c.OnPartialTranscript("Yes")
	h.expect(t, protocol.EventPartial, 1)
	h.c.OnCommitSignal()
	h.expect(t, protocol.EventTranscript, 1)
	h.expect(t, protocol.EventAudio, 1)

	// the recognizer flushed nothing; the AI turn ends normally
	h.c.OnPlaybackEnded()
	h.waitState(t, Idle)

	h.c.OnFinalTranscript("Yes, I have used Go for five years.")
	if ev := h.expect(t, protocol.EventTranscript, 2); ev.Text != "Yes, I have used Go for five years." {
		t.Fatalf("committed %q", ev.Text)
	}
	h.expect(t, protocol.EventAudio, 2)
}

func TestFlushEchoExpires(t *testing.T) {
	h := start(t, Config{EchoWindow: 20 * time.Millisecond}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.SubmitFrame(frame(1000))
	h.c.OnPartialTranscript("So")
	h.expect(t, protocol.EventPartial, 1)
	h.c.OnCommitSignal()
	h.expect(t, protocol.EventTranscript, 1)
	h.expect(t, protocol.EventAudio, 1)

	time.Sleep(40 * time.Millisecond)
	h.c.OnFinalTranscript("So what about channels")
	h.expect(t, protocol.EventInterrupt, 1)
	h.expect(t, protocol.EventTranscript, 2)
}

func TestEmptyFrameIsNotSpeech(t *testing.T) {
	h := start(t, Config{}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.SubmitFrame(protocol.Frame{Seq: 1, SampleRate: 16000})
	h.expectNone(t, 20*time.Millisecond)
	if s := h.c.Snapshot(); s.State != Idle {
		t.Fatalf("empty frame moved state to %s", s.State)
	}

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	h.expect(t, protocol.EventAudio, 1)
	h.waitState(t, AISpeaking)

	h.c.SubmitFrame(protocol.Frame{Seq: 2, SampleRate: 16000, PCM: nil})
	h.expectNone(t, 50*time.Millisecond)
	if s := h.c.Snapshot(); s.State != AISpeaking {
		t.Fatalf("empty frame interrupted the AI: %s", s.State)
	}
	if frames, _, _ := h.stt.counts(); frames != 0 {
		t.Fatalf("empty frames forwarded to stt: %d", frames)
	}
}

func TestCommitSignalIgnoredWhileAIOwnsTurn(t *testing.T) {
	cancelled := make(chan string, 1)
	h := start(t, Config{}, blockingEngine(cancelled), synthFunc(mp3Synth))

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	h.c.OnCommitSignal()
	s := h.c.Snapshot()
	if _, commits, _ := h.stt.counts(); commits != 0 {
		t.Fatalf("commit forwarded while generating")
	}
	if s.State != AIGenerating {
		t.Fatalf("state = %s", s.State)
	}
}

func TestClientInterruptWhenIdleIsSilent(t *testing.T) {
	h := start(t, Config{}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.OnInterruptRequested()
	h.expectNone(t, 50*time.Millisecond)
	if s := h.c.Snapshot(); s.State != UserSpeaking {
		t.Fatalf("state = %s", s.State)
	}
}

func TestSpeakingTimeoutReleasesTurn(t *testing.T) {
	h := start(t, Config{SpeakingTimeout: 30 * time.Millisecond}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	h.expect(t, protocol.EventAudio, 1)
	h.waitState(t, Idle)
}

func TestPlaybackEndedBeforeAudioIsIgnored(t *testing.T) {
	release := make(chan struct{})
	synth := synthFunc(func(ctx context.Context, text string) (tts.Audio, error) {
		<-release
		return mp3Synth(ctx, text)
	})
	h := start(t, Config{}, engineFunc(echoEngine), synth)

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	h.waitState(t, AISpeaking)
	h.c.OnPlaybackEnded()
	if s := h.c.Snapshot(); s.State != AISpeaking {
		t.Fatalf("stale playback_ended ended the turn: %s", s.State)
	}
	close(release)
	h.expect(t, protocol.EventAudio, 1)
}

func TestTranscriberClosedIsFatal(t *testing.T) {
	h := start(t, Config{}, engineFunc(echoEngine), synthFunc(mp3Synth))

	h.c.OnTranscriberClosed(errors.New("socket reset"))
	ev := h.expect(t, protocol.EventError, 0)
	if ev.Code != "transcriber_unavailable" {
		t.Fatalf("error code = %q", ev.Code)
	}
	select {
	case err := <-h.errc:
		if !errors.Is(err, ErrTranscriberClosed) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	if _, _, closed := h.stt.counts(); !closed {
		t.Fatalf("transcriber not closed")
	}
	if s := h.c.Snapshot(); s.State != Ended {
		t.Fatalf("state = %s", s.State)
	}
}

func TestEndSessionCancelsWork(t *testing.T) {
	cancelled := make(chan string, 1)
	h := start(t, Config{}, blockingEngine(cancelled), synthFunc(mp3Synth))

	h.c.OnFinalTranscript("hello")
	h.expect(t, protocol.EventTranscript, 1)
	h.c.EndSession()
	select {
	case err := <-h.errc:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("in-flight dialogue not cancelled")
	}
	if _, _, closed := h.stt.counts(); !closed {
		t.Fatalf("transcriber not closed")
	}
	// operations after the end neither block nor emit
	h.c.OnFinalTranscript("anyone there?")
	h.expectNone(t, 30*time.Millisecond)
}

func TestStateString(t *testing.T) {
	if AIGenerating.String() != "AI_GENERATING" || State(42).String() != "UNKNOWN" {
		t.Fatalf("unexpected names")
	}
}
