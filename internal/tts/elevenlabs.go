// Package tts synthesizes reply text into playable audio.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Audio is an encoded clip ready to ship to the client.
type Audio struct {
	Data     []byte
	MimeType string
}

var ErrNotConfigured = errors.New("tts: missing api key or voice id")

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
}

// ElevenLabs calls the non-streaming text-to-speech REST endpoint.
type ElevenLabs struct {
	cfg   Config
	httpc *http.Client
}

func NewElevenLabs(cfg Config, httpc *http.Client) *ElevenLabs {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	return &ElevenLabs{cfg: cfg, httpc: httpc}
}

// Synthesize returns MP3 audio for text.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (Audio, error) {
	if e.cfg.APIKey == "" || e.cfg.VoiceID == "" {
		metricRequests.WithLabelValues("config").Inc()
		return Audio{}, ErrNotConfigured
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, fmt.Errorf("tts: empty text")
	}
	start := time.Now()

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimRight(e.cfg.BaseURL, "/"), e.cfg.VoiceID)
	body := map[string]any{"text": text}
	if e.cfg.ModelID != "" {
		body["model_id"] = e.cfg.ModelID
	}
	reqBytes, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("accept", "audio/mpeg")
	req.Header.Set("content-type", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		metricRequests.WithLabelValues("transport").Inc()
		return Audio{}, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	metricUpstreamMS.Observe(float64(time.Since(start).Milliseconds()))
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metricRequests.WithLabelValues("http").Inc()
		return Audio{}, fmt.Errorf("tts: status=%d body=%s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metricRequests.WithLabelValues("read").Inc()
		return Audio{}, fmt.Errorf("tts read: %w", err)
	}
	if len(data) == 0 {
		metricRequests.WithLabelValues("empty").Inc()
		return Audio{}, fmt.Errorf("tts: empty audio")
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "audio/") {
		mime = "audio/mpeg"
	}
	metricRequests.WithLabelValues("ok").Inc()
	metricSynthesisMS.Observe(float64(time.Since(start).Milliseconds()))
	metricAudioBytes.Observe(float64(len(data)))
	return Audio{Data: data, MimeType: mime}, nil
}
