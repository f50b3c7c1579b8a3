// Package transport serves the voice websocket: PCM frames and control
// signals in, turn events out, one turn controller per connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"yuzu/interviewer/internal/audio"
	"yuzu/interviewer/internal/auth"
	"yuzu/interviewer/internal/protocol"
	"yuzu/interviewer/internal/store"
	"yuzu/interviewer/internal/stt"
	"yuzu/interviewer/internal/turn"
	"yuzu/interviewer/internal/types"
)

var (
	errClientClosed = errors.New("transport: client closed")
	errSessionEnded = errors.New("transport: session ended")
)

type Options struct {
	TargetRate        int
	DefaultClientRate int
	TokenSecret       string
	TokenSkew         time.Duration
	AllowedOrigins    []string
	ReadLimit         int64
	OutboundQueue     int
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	// Turn is the template for each connection's controller; SessionID and
	// SampleRate are filled in per connection.
	Turn turn.Config
}

type Handler struct {
	Store    *store.Store
	Reg      *Registry
	STT      stt.Provider
	Dialogue turn.DialogueEngine
	TTS      turn.Synthesizer
	Log      *zap.Logger
	Opts     Options
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	if sessionID == "" {
		metricUpgrades.WithLabelValues("bad_request").Inc()
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	sess := h.Store.GetSession(sessionID)
	if sess == nil {
		metricUpgrades.WithLabelValues("not_found").Inc()
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	switch sess.Status {
	case types.StatusEnded, types.StatusComplete:
		metricUpgrades.WithLabelValues("gone").Inc()
		http.Error(w, "session is "+sess.Status, http.StatusGone)
		return
	}
	if h.Opts.TokenSecret != "" {
		if _, err := auth.ValidateSessionToken(h.Opts.TokenSecret, q.Get("token"), sessionID, time.Now(), h.Opts.TokenSkew); err != nil {
			metricUpgrades.WithLabelValues("unauthorized").Inc()
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}
	rate := h.Opts.DefaultClientRate
	if s := q.Get("sampleRate"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 8000 || n > 192000 {
			metricUpgrades.WithLabelValues("bad_request").Inc()
			http.Error(w, "invalid sampleRate", http.StatusBadRequest)
			return
		}
		rate = n
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.Opts.AllowedOrigins})
	if err != nil {
		metricUpgrades.WithLabelValues("accept_error").Inc()
		h.Log.Warn("ws accept", zap.String("session", sessionID), zap.Error(err))
		return
	}
	if h.Opts.ReadLimit > 0 {
		c.SetReadLimit(h.Opts.ReadLimit)
	}
	metricUpgrades.WithLabelValues("ok").Inc()
	metricActive.Inc()
	defer metricActive.Dec()

	h.serve(r.Context(), sessionID, rate, c)
}

func (h *Handler) serve(ctx context.Context, sessionID string, rate int, c *websocket.Conn) {
	log := h.Log.With(zap.String("component", "transport"), zap.String("session", sessionID))
	target := h.Opts.TargetRate
	if target <= 0 {
		target = 16000
	}

	stream, err := h.STT.Open(ctx, stt.StreamConfig{SessionID: sessionID, SampleRate: target})
	if err != nil {
		log.Error("stt open", zap.Error(err))
		h.Store.AppendEvent(sessionID, "voice_rejected", map[string]any{"reason": "transcriber_unavailable"})
		metricCloses.WithLabelValues("transcriber_unavailable").Inc()
		_ = c.Close(websocket.StatusInternalError, "transcriber unavailable")
		return
	}

	out := newConn(c, h.Opts.OutboundQueue, h.Opts.WriteTimeout, h.Opts.PingInterval, log)
	cfg := h.Opts.Turn
	cfg.SessionID = sessionID
	cfg.SampleRate = rate
	ctrl := turn.New(cfg, turn.Deps{
		STT:      stream,
		Dialogue: h.Dialogue,
		TTS:      h.TTS,
		Out:      out,
		Recorder: h.Store,
		Log:      h.Log,
	})

	live := &Live{ws: c, ctrl: ctrl}
	if h.Reg.Replace(sessionID, live) {
		h.Store.AppendEvent(sessionID, "voice_replaced", nil)
	}
	defer h.Reg.Remove(sessionID, live)
	h.Store.AppendEvent(sessionID, "voice_connected", map[string]any{"sample_rate": rate})
	h.Store.Touch(sessionID)
	log.Info("voice connected", zap.Int("sample_rate", rate), zap.Int("target_rate", target))

	// The reader uses the request context rather than the group's: nhooyr
	// closes the socket when a Read context is cancelled, and the close code
	// is chosen below once every goroutine has stopped.
	readErr := make(chan error, 1)
	go func() { readErr <- h.readLoop(ctx, c, ctrl, rate, target) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return out.run(gctx) })
	g.Go(func() error { return pumpSegments(gctx, stream, ctrl) })
	g.Go(func() error {
		if err := ctrl.Run(gctx); err != nil {
			return err
		}
		return errSessionEnded
	})
	g.Go(func() error {
		select {
		case err := <-readErr:
			return err
		case <-gctx.Done():
			return nil
		}
	})
	err = g.Wait()

	code, reason := closeStatus(err)
	metricCloses.WithLabelValues(reason).Inc()
	_ = c.Close(code, reason)
	_ = stream.Close()
	h.Store.AppendEvent(sessionID, "voice_disconnected", map[string]any{"reason": reason})
	h.Store.Touch(sessionID)
	if code == websocket.StatusNormalClosure {
		log.Info("voice disconnected", zap.String("reason", reason))
	} else {
		log.Warn("voice disconnected", zap.String("reason", reason), zap.Error(err))
	}
}

func closeStatus(err error) (websocket.StatusCode, string) {
	var de *protocol.DecodeError
	switch {
	case err == nil, errors.Is(err, errSessionEnded):
		return websocket.StatusNormalClosure, "session ended"
	case errors.Is(err, errClientClosed):
		return websocket.StatusNormalClosure, "client closed"
	case errors.As(err, &de):
		return websocket.StatusUnsupportedData, de.Reason
	case errors.Is(err, turn.ErrTranscriberClosed):
		return websocket.StatusInternalError, "transcriber unavailable"
	default:
		return websocket.StatusInternalError, "transport error"
	}
}

func (h *Handler) readLoop(ctx context.Context, c *websocket.Conn, ctrl *turn.Controller, rate, target int) error {
	var seq uint64
	submit := func(pcm []byte) {
		if len(pcm) == 0 {
			metricEmptyFrames.Inc()
			return
		}
		seq++
		metricFramesIn.Inc()
		ctrl.SubmitFrame(protocol.Frame{
			Seq:        seq,
			SampleRate: target,
			PCM:        audio.ResampleBytes(pcm, rate, target),
		})
	}
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errClientClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		if typ == websocket.MessageBinary {
			if len(data)%2 != 0 {
				return &protocol.DecodeError{Reason: "odd pcm16 length"}
			}
			submit(data)
			continue
		}
		if !protocol.LooksLikeJSON(data) {
			pcm, err := protocol.DecodeBase64PCM(data)
			if err != nil {
				return err
			}
			submit(pcm)
			continue
		}
		sig, err := protocol.DecodeControl(data)
		if err != nil {
			return err
		}
		metricControlsIn.WithLabelValues(string(sig)).Inc()
		dispatch(ctrl, sig)
	}
}

// adapt maps client UI gestures onto turn signals: muting the microphone
// ends the utterance, unmuting takes the floor back.
func adapt(sig protocol.ControlSignal) protocol.ControlSignal {
	switch sig {
	case protocol.SignalMute:
		return protocol.SignalCommit
	case protocol.SignalUnmute:
		return protocol.SignalInterrupt
	default:
		return sig
	}
}

func dispatch(ctrl *turn.Controller, sig protocol.ControlSignal) {
	switch adapt(sig) {
	case protocol.SignalCommit:
		ctrl.OnCommitSignal()
	case protocol.SignalInterrupt:
		ctrl.OnInterruptRequested()
	case protocol.SignalPlaybackEnded:
		ctrl.OnPlaybackEnded()
	case protocol.SignalEnd:
		ctrl.EndSession()
	}
}

// pumpSegments feeds recognizer output into the controller. A stream that
// ends with an error is fatal to the session.
func pumpSegments(ctx context.Context, s stt.Stream, ctrl *turn.Controller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case seg, ok := <-s.Segments():
			if !ok {
				if err := s.Err(); err != nil && ctx.Err() == nil {
					ctrl.OnTranscriberClosed(err)
				}
				return nil
			}
			if seg.IsFinal {
				ctrl.OnFinalTranscript(seg.Text)
			} else {
				ctrl.OnPartialTranscript(seg.Text)
			}
		}
	}
}
