package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/quizengine/internal/llm/prompts"
	"github.com/pavelanni/quizengine/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ExplainResult is the JSON object the model is asked to return.
type ExplainResult struct {
	Explanation string `json:"explanation"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptBrief,
	}
}

// SetVariant selects the explanation prompt variant.
func (c *Client) SetVariant(v prompts.PromptVariant) {
	c.variant = v
}

// Ping checks that the endpoint is reachable by listing its models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM list models: %w", err)
	}
	return nil
}

// Explain asks the model why answer is right or wrong for q.
func (c *Client) Explain(ctx context.Context, q model.Question, answer string, correct bool) (string, error) {
	if err := prompts.Load(); err != nil {
		return "", err
	}
	systemPrompt, err := prompts.BuildExplainPrompt(c.variant, q, answer, correct)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	var result ExplainResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	explanation := strings.TrimSpace(result.Explanation)
	if explanation == "" {
		return "", errors.New("LLM returned an empty explanation")
	}
	return explanation, nil
}

// Fallback produces an explanation when the model cannot.
type Fallback interface {
	Explain(ctx context.Context, q model.Question, answer string, correct bool) string
}

// Explainer adapts a Client to the session engine. Every LLM failure is
// logged and answered by the fallback instead.
type Explainer struct {
	client   *Client
	fallback Fallback
	timeout  time.Duration
	logger   *slog.Logger
}

// NewExplainer wraps client. A zero timeout means no deadline beyond ctx.
func NewExplainer(client *Client, fallback Fallback, timeout time.Duration, logger *slog.Logger) *Explainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Explainer{client: client, fallback: fallback, timeout: timeout, logger: logger}
}

// Explain returns the model's explanation, or the fallback's.
func (e *Explainer) Explain(ctx context.Context, q model.Question, answer string, correct bool) string {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	text, err := e.client.Explain(ctx, q, answer, correct)
	if err != nil {
		e.logger.Warn("LLM explanation failed, using fallback", "ordinal", q.Ordinal, "error", err)
		return e.fallback.Explain(ctx, q, answer, correct)
	}
	return text
}
