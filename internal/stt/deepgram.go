package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"yuzu/interviewer/internal/protocol"
)

type DeepgramConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Language       string
	EndpointingMs  int
	UtteranceEndMs int
	KeepAlive      time.Duration
}

// Deepgram opens live transcription sockets against the Deepgram listen API.
type Deepgram struct {
	cfg DeepgramConfig
	log *zap.Logger
}

func NewDeepgram(cfg DeepgramConfig, log *zap.Logger) *Deepgram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://api.deepgram.com/v1/listen"
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Second
	}
	return &Deepgram{cfg: cfg, log: log.With(zap.String("component", "deepgram"))}
}

func (d *Deepgram) listenURL(sampleRate int) string {
	q := url.Values{}
	q.Set("model", orDefault(d.cfg.Model, "nova-2"))
	q.Set("language", orDefault(d.cfg.Language, "en-US"))
	q.Set("smart_format", "true")
	q.Set("endpointing", fmt.Sprintf("%d", nzd(d.cfg.EndpointingMs, 1000)))
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", fmt.Sprintf("%d", nzd(d.cfg.UtteranceEndMs, 1500)))
	q.Set("vad_events", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", nzd(sampleRate, 16000)))
	q.Set("channels", "1")
	return d.cfg.BaseURL + "?" + q.Encode()
}

// Open dials the provider. A failed dial is returned to the caller; a socket
// that later drops ends the stream with an error instead of reconnecting.
func (d *Deepgram) Open(ctx context.Context, sc StreamConfig) (Stream, error) {
	hdr := make(http.Header)
	if d.cfg.APIKey != "" {
		hdr.Set("Authorization", "Token "+d.cfg.APIKey)
	}
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	ws, _, err := websocket.Dial(dctx, d.listenURL(sc.SampleRate), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		metricConnectErrors.Inc()
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}
	metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))

	sctx, scancel := context.WithCancel(context.Background())
	s := &deepgramStream{
		ctx:       sctx,
		cancel:    scancel,
		ws:        ws,
		keepAlive: d.cfg.KeepAlive,
		sendQ:     make(chan outbound, 64),
		segments:  make(chan protocol.Segment, 64),
		log:       d.log.With(zap.String("session", sc.SessionID)),
	}
	gaugeStreams.Inc()
	d.log.Info("stream open", zap.String("session", sc.SessionID), zap.Duration("connect", time.Since(start)))
	go s.sendLoop()
	go s.readLoop()
	return s, nil
}

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

var (
	msgFinalize  = []byte(`{"type":"Finalize"}`)
	msgKeepAlive = []byte(`{"type":"KeepAlive"}`)
	msgClose     = []byte(`{"type":"CloseStream"}`)
)

type deepgramStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	ws        *websocket.Conn
	keepAlive time.Duration
	sendQ     chan outbound
	segments  chan protocol.Segment
	log       *zap.Logger

	mu     sync.Mutex
	err    error
	closed bool

	// read loop only
	pieces  []string
	interim string
}

func (s *deepgramStream) Segments() <-chan protocol.Segment { return s.segments }

func (s *deepgramStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SendAudio enqueues PCM16 without blocking; frames are dropped when the
// provider falls behind.
func (s *deepgramStream) SendAudio(pcm []byte) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.sendQ <- outbound{typ: websocket.MessageBinary, data: pcm}:
		metricAudioBytes.Add(float64(len(pcm)))
		metricFrames.Inc()
	default:
		metricDrops.Inc()
	}
	gaugeQueueDepth.Set(float64(len(s.sendQ)))
	return nil
}

func (s *deepgramStream) Commit() error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.sendQ <- outbound{typ: websocket.MessageText, data: msgFinalize}:
		return nil
	default:
		return fmt.Errorf("stt: send queue full")
	}
}

func (s *deepgramStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	wctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = s.ws.Write(wctx, websocket.MessageText, msgClose)
	cancel()
	err := s.ws.Close(websocket.StatusNormalClosure, "bye")
	s.cancel()
	return err
}

func (s *deepgramStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *deepgramStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil && !s.closed {
		s.err = err
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *deepgramStream) sendLoop() {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	last := time.Now()
	for {
		var m outbound
		select {
		case <-s.ctx.Done():
			return
		case m = <-s.sendQ:
		case <-ticker.C:
			if time.Since(last) < s.keepAlive {
				continue
			}
			m = outbound{typ: websocket.MessageText, data: msgKeepAlive}
		}
		wctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err := s.ws.Write(wctx, m.typ, m.data)
		cancel()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Warn("write failed", zap.Error(err))
				s.fail(fmt.Errorf("deepgram write: %w", err))
			}
			return
		}
		last = time.Now()
	}
}

func (s *deepgramStream) readLoop() {
	defer func() {
		gaugeStreams.Dec()
		close(s.segments)
	}()
	for {
		_, data, err := s.ws.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && !s.isClosed() {
				s.log.Warn("read failed", zap.Error(err))
				s.fail(fmt.Errorf("deepgram read: %w", err))
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		if err := s.handle(data); err != nil {
			s.fail(err)
			return
		}
	}
}

// handle parses one provider message leniently. Finalized pieces of an
// utterance are buffered so partials carry the whole utterance so far.
func (s *deepgramStream) handle(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		s.log.Debug("unparseable message", zap.Error(err))
		return nil
	}
	typ := toString(m["type"])
	switch {
	case strings.EqualFold(typ, "Error") || m["error"] != nil:
		msg := toString(m["error"])
		if msg == "" {
			msg = toString(m["description"])
		}
		if msg == "" {
			msg = "provider_error"
		}
		return fmt.Errorf("deepgram: %s", msg)
	case strings.EqualFold(typ, "Metadata"):
		return nil
	case strings.EqualFold(typ, "SpeechStarted"):
		metricUtteranceEvents.WithLabelValues("speech_started").Inc()
		return nil
	case strings.EqualFold(typ, "UtteranceEnd"):
		metricUtteranceEvents.WithLabelValues("utterance_end").Inc()
		s.flushFinal("utterance_end")
		return nil
	case strings.EqualFold(typ, "Results") || m["channel"] != nil:
		text := transcriptOf(m)
		if !toBool(m["is_final"]) {
			if text != "" {
				s.interim = text
				s.emit(protocol.Segment{Text: s.combined()})
			}
			return nil
		}
		s.interim = ""
		if text != "" {
			s.pieces = append(s.pieces, text)
		}
		switch {
		case toBool(m["from_finalize"]):
			s.flushFinal("finalize")
		case toBool(m["speech_final"]):
			s.flushFinal("provider")
		case text != "":
			s.emit(protocol.Segment{Text: s.combined()})
		}
	}
	return nil
}

func (s *deepgramStream) combined() string {
	parts := append([]string(nil), s.pieces...)
	if s.interim != "" {
		parts = append(parts, s.interim)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (s *deepgramStream) flushFinal(source string) {
	text := s.combined()
	s.pieces = nil
	s.interim = ""
	if text == "" {
		metricEmptyFinalSkipped.Inc()
		return
	}
	metricFinalEmitted.WithLabelValues(source).Inc()
	s.emit(protocol.Segment{Text: text, IsFinal: true})
}

func (s *deepgramStream) emit(seg protocol.Segment) {
	select {
	case s.segments <- seg:
	case <-s.ctx.Done():
	}
}

func transcriptOf(m map[string]any) string {
	channel, _ := m["channel"].(map[string]any)
	if channel == nil {
		return ""
	}
	alts, _ := channel["alternatives"].([]any)
	if len(alts) == 0 {
		return ""
	}
	a0, _ := alts[0].(map[string]any)
	return strings.TrimSpace(toString(a0["transcript"]))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nzd(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
