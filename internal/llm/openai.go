package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAI uses the official SDK against api.openai.com or any compatible base URL.
type OpenAI struct {
	client      oai.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewOpenAI(cfg Config, httpc *http.Client) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrNotConfigured)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpc != nil {
		opts = append(opts, option.WithHTTPClient(httpc))
	}
	return &OpenAI{
		client:      oai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	params, err := o.buildParams(req)
	if err != nil {
		return "", fmt.Errorf("openai: build params: %w", err)
	}
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		metricRequests.WithLabelValues("openai", "error").Inc()
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		metricRequests.WithLabelValues("openai", "empty").Inc()
		return "", fmt.Errorf("openai: empty choices in response")
	}
	metricRequests.WithLabelValues("openai", "ok").Inc()
	metricCompletionMS.WithLabelValues("openai").Observe(float64(time.Since(start).Milliseconds()))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (o *OpenAI) buildParams(req Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range messagesWithSystem(req) {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "user":
			messages = append(messages, oai.UserMessage(m.Content))
		case "assistant":
			asst := oai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = oai.String(m.Content)
			messages = append(messages, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("unknown message role %q", m.Role)
		}
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: messages,
	}
	temp := req.Temperature
	if temp == 0 {
		temp = o.temperature
	}
	if temp != 0 {
		params.Temperature = param.NewOpt(temp)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}
	return params, nil
}
