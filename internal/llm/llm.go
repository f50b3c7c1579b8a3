// Package llm talks to chat-completion backends.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Client returns the assistant's full reply for a conversation.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

var ErrNotConfigured = errors.New("llm: backend not configured")

type Config struct {
	Provider    string // "azure" or "openai"
	Endpoint    string
	APIKey      string
	Deployment  string
	APIVersion  string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// New picks the backend named by cfg.Provider.
func New(cfg Config, httpc *http.Client) (Client, error) {
	switch cfg.Provider {
	case "", "azure":
		if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.Deployment == "" {
			return nil, fmt.Errorf("azure: %w", ErrNotConfigured)
		}
		return NewAzure(cfg, httpc), nil
	case "openai":
		return NewOpenAI(cfg, httpc)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func messagesWithSystem(req Request) []Message {
	out := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, Message{Role: "system", Content: req.System})
	}
	return append(out, req.Messages...)
}

// Unavailable fails every request with Err. It stands in for a backend whose
// configuration is incomplete so sessions degrade to the fallback line.
type Unavailable struct{ Err error }

func (u Unavailable) Complete(ctx context.Context, req Request) (string, error) {
	if u.Err == nil {
		return "", ErrNotConfigured
	}
	return "", u.Err
}
