// Package generation calls the external text generation service.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"missionline/internal/prompt"
)

var (
	// ErrNoChoices means the service answered without any completion.
	ErrNoChoices = errors.New("generation returned no choices")
	// ErrInvalidJSON means the completion was not a JSON object.
	ErrInvalidJSON = errors.New("generation returned invalid JSON")
)

// Generator turns a composed prompt into a parsed JSON object.
type Generator interface {
	Generate(ctx context.Context, p prompt.Prompt) (json.RawMessage, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// OpenAI talks to an OpenAI-compatible chat completion endpoint in JSON mode.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAI(cfg Config) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{client: openai.NewClientWithConfig(oc), model: cfg.Model, logger: logger}
}

func (o *OpenAI) Generate(ctx context.Context, p prompt.Prompt) (json.RawMessage, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature: float32(p.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	o.logger.DebugContext(ctx, "chat completion finished",
		slog.String("task", string(p.Task)),
		slog.String("model", o.model),
		slog.Int("choices", len(resp.Choices)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("elapsed", time.Since(start)))
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}
	return ParseObject(resp.Choices[0].Message.Content)
}

// ParseObject accepts content only if it is a single JSON object.
func ParseObject(content string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(content))
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(trimmed), nil
}
