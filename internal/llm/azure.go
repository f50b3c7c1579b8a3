package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Azure streams chat completions from an Azure OpenAI deployment and
// accumulates the tokens into one reply.
type Azure struct {
	cfg   Config
	httpc *http.Client
}

func NewAzure(cfg Config, httpc *http.Client) *Azure {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-15-preview"
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 0}
	}
	return &Azure{cfg: cfg, httpc: httpc}
}

func (a *Azure) Complete(ctx context.Context, req Request) (string, error) {
	body := map[string]any{
		"stream":   true,
		"messages": messagesWithSystem(req),
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.cfg.MaxTokens
	}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}
	temp := req.Temperature
	if temp == 0 {
		temp = a.cfg.Temperature
	}
	if temp > 0 {
		body["temperature"] = temp
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(a.cfg.Endpoint, "/"), a.cfg.Deployment, a.cfg.APIVersion)
	reqBytes, _ := json.Marshal(body)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("api-key", a.cfg.APIKey)
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := a.httpc.Do(hreq)
	if err != nil {
		metricRequests.WithLabelValues("azure", "transport").Inc()
		return "", fmt.Errorf("azure request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metricRequests.WithLabelValues("azure", "http").Inc()
		return "", fmt.Errorf("azure: status=%d body=%s", resp.StatusCode, string(b))
	}

	var out strings.Builder
	first := true
	decoder := newSSEDecoder(bufio.NewReader(resp.Body))
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		event, data, err := decoder.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			metricRequests.WithLabelValues("azure", "stream").Inc()
			return "", fmt.Errorf("azure stream: %w", err)
		}
		if event == "" && len(data) == 0 {
			continue
		}
		if string(data) == "[DONE]" {
			break
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		choices, _ := m["choices"].([]any)
		if len(choices) == 0 {
			continue
		}
		choice, _ := choices[0].(map[string]any)
		delta, _ := choice["delta"].(map[string]any)
		if content := toString(delta["content"]); content != "" {
			if first {
				metricFirstTokenMS.WithLabelValues("azure").Observe(float64(time.Since(start).Milliseconds()))
				first = false
			}
			out.WriteString(content)
		}
	}
	metricRequests.WithLabelValues("azure", "ok").Inc()
	metricCompletionMS.WithLabelValues("azure").Observe(float64(time.Since(start).Milliseconds()))
	return strings.TrimSpace(out.String()), nil
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
