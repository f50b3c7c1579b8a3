// Command voiceclient drives one interview turn against a running server:
// it streams a WAV file as microphone audio, commits the utterance and
// plays the interviewer's reply into files.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"yuzu/interviewer/internal/audio"
	"yuzu/interviewer/internal/logging"
	"yuzu/interviewer/internal/playback"
	"yuzu/interviewer/internal/protocol"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", "http://localhost:8080", "interviewer base URL")
	wavPath := flag.String("wav", "", "16-bit mono WAV file to speak (required)")
	company := flag.String("company", "Acme", "company name for a new session")
	sessionID := flag.String("session", "", "existing session id (creates one when empty)")
	token := flag.String("token", "", "session token for an existing session")
	outDir := flag.String("out", "replies", "directory for received audio")
	turns := flag.Int("turns", 1, "interviewer replies to wait for before ending")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	log, err := logging.New(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	if *wavPath == "" {
		log.Fatal("-wav is required")
	}
	f, err := os.Open(*wavPath)
	if err != nil {
		log.Fatal("open wav", zap.Error(err))
	}
	wav, err := audio.ReadWAV(f)
	f.Close()
	if err != nil {
		log.Fatal("read wav", zap.Error(err))
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal("mkdir", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	id, tok := *sessionID, *token
	if id == "" {
		id, tok, err = createSession(ctx, *server, *company, log)
		if err != nil {
			log.Fatal("create session", zap.Error(err))
		}
	}

	c := &client{
		log:    log.With(zap.String("session", id)),
		outDir: *outDir,
		want:   *turns,
	}
	if err := c.run(ctx, *server, id, tok, wav); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("voice session", zap.Error(err))
	}
}

func createSession(ctx context.Context, server, company string, log *zap.Logger) (id, token string, err error) {
	body, _ := json.Marshal(map[string]any{"company": map[string]string{"name": company}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/sessions", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("create session: status %d", resp.StatusCode)
	}
	var out struct {
		SessionID   string `json:"session_id"`
		OpeningLine string `json:"opening_line"`
		Token       string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("decode session: %w", err)
	}
	log.Info("session created", zap.String("session", out.SessionID), zap.String("opening", out.OpeningLine))
	return out.SessionID, out.Token, nil
}

type client struct {
	log    *zap.Logger
	outDir string
	want   int

	ws       *websocket.Conn
	queue    *playback.Queue
	got      atomic.Int32
	done     chan struct{}
	doneOnce sync.Once
}

func voiceURL(server, id, token string, rate int) string {
	u := strings.TrimRight(server, "/")
	u = strings.Replace(u, "http", "ws", 1) + "/ws/voice"
	q := url.Values{}
	q.Set("sessionId", id)
	q.Set("sampleRate", fmt.Sprint(rate))
	if token != "" {
		q.Set("token", token)
	}
	return u + "?" + q.Encode()
}

func (c *client) run(ctx context.Context, server, id, token string, wav audio.WAV) error {
	const rate = 16000
	ws, _, err := websocket.Dial(ctx, voiceURL(server, id, token, rate), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")
	c.ws = ws
	c.done = make(chan struct{})
	c.queue = playback.NewQueue(newFilePlayer(c.outDir, c), func() { c.send(protocol.SignalPlaybackEnded) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readEvents(gctx) })
	g.Go(func() error {
		src := audio.NewFrameSource(audio.NewWAVCapture(wav, 20, true), rate, 20)
		err := src.Run(gctx, func(fr protocol.Frame) error {
			return ws.Write(gctx, websocket.MessageBinary, fr.PCM)
		})
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
				return err
			}
		}
		c.log.Info("utterance sent; committing")
		c.send(protocol.SignalCommit)
		return nil
	})
	g.Go(func() error {
		select {
		case <-c.done:
			c.log.Info("replies received; ending session")
			c.send(protocol.SignalEnd)
		case <-gctx.Done():
		}
		return nil
	})
	return g.Wait()
}

func (c *client) send(sig protocol.ControlSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, protocol.EncodeControl(sig)); err != nil {
		c.log.Debug("send control", zap.String("signal", string(sig)), zap.Error(err))
	}
}

func (c *client) readEvents(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.log.Info("server closed session")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("bad event", zap.ByteString("raw", data))
			continue
		}
		switch ev.Type {
		case protocol.EventPartial:
			c.log.Debug("partial", zap.Int64("turn", ev.TurnID), zap.String("text", ev.Text))
		case protocol.EventTranscript:
			c.log.Info("you said", zap.Int64("turn", ev.TurnID), zap.String("text", ev.Text))
		case protocol.EventAudio:
			chunk, err := ev.Chunk()
			if err != nil {
				c.log.Warn("audio event", zap.Error(err))
				continue
			}
			c.log.Info("interviewer", zap.Int64("turn", ev.TurnID), zap.String("text", ev.Text))
			c.queue.Enqueue(chunk)
		case protocol.EventText:
			c.log.Info("interviewer (text only)", zap.Int64("turn", ev.TurnID), zap.String("text", ev.Text))
			c.replied()
		case protocol.EventInterrupt:
			c.log.Info("interrupted", zap.Int64("turn", ev.TurnID))
			c.queue.Flush()
		case protocol.EventError:
			c.log.Error("server error", zap.String("code", ev.Code), zap.String("message", ev.Message))
		}
	}
}

// replied counts a finished interviewer reply and signals completion once
// enough have arrived.
func (c *client) replied() {
	if int(c.got.Add(1)) >= c.want {
		c.doneOnce.Do(func() { close(c.done) })
	}
}

// filePlayer writes each clip to disk and treats it as playing for the
// clip's approximate duration.
type filePlayer struct {
	mu    sync.Mutex
	dir   string
	c     *client
	timer *time.Timer
	n     int
}

func newFilePlayer(dir string, c *client) *filePlayer {
	return &filePlayer{dir: dir, c: c}
}

// 128 kbit/s MP3.
const mp3BytesPerSecond = 16000

func (p *filePlayer) Play(item playback.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	ext := ".mp3"
	if !strings.Contains(item.Chunk.MimeType, "mpeg") {
		ext = ".bin"
	}
	path := filepath.Join(p.dir, fmt.Sprintf("turn%03d_%02d%s", item.Chunk.TurnID, p.n, ext))
	if err := os.WriteFile(path, item.Chunk.Payload, 0o644); err != nil {
		return err
	}
	d := time.Duration(len(item.Chunk.Payload)) * time.Second / mp3BytesPerSecond
	p.c.log.Info("playing", zap.String("file", path), zap.Duration("duration", d))
	p.timer = time.AfterFunc(d, func() {
		p.c.queue.OnPlaybackEnded(item.ID)
		p.c.replied()
	})
	return nil
}

func (p *filePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
}
