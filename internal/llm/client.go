package llm

import (
	"context"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"

	pipeerr "shipline/internal/errors"
)

// Request is one prompt for the model. Sampling parameters are always
// explicit; callers inject them from config.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Client sends a prompt to a text-generation model and returns the raw
// response text. Transport and auth failures surface immediately as
// E_TRANSPORT; no retry happens at this layer.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	Model() string
}

// Config for the production client.
type Config struct {
	APIKey string
	Model  string
}

// ConfigFromEnv fills the API key from SHIPLINE_API_KEY, falling back
// to ANTHROPIC_API_KEY.
func ConfigFromEnv(model string) Config {
	key := os.Getenv("SHIPLINE_API_KEY")
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	return Config{APIKey: key, Model: model}
}

type client struct {
	llm   *anthropic.LLM
	model string
}

// New creates a model client backed by the Anthropic messages API.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, pipeerr.New(pipeerr.ETransport, "model api key not set; export SHIPLINE_API_KEY or ANTHROPIC_API_KEY")
	}
	if cfg.Model == "" {
		return nil, pipeerr.New(pipeerr.EUsage, "model name is required")
	}
	l, err := anthropic.New(
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ETransport, "init model client", err)
	}
	return &client{llm: l, model: cfg.Model}, nil
}

func (c *client) Model() string { return c.model }

func (c *client) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", pipeerr.New(pipeerr.EUsage, "empty prompt")
	}
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", pipeerr.Wrap(pipeerr.ETransport, "model call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", pipeerr.New(pipeerr.ETransport, "model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
