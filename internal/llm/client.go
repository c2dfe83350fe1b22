// Package llm is the model-client boundary: metadata extraction,
// per-page segmentation+translation, segment explanations, and document
// chat, all over an OpenAI-compatible vision model via the eino
// framework.
package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"paper-twinview/internal/logger"
	"paper-twinview/internal/raster"
	"paper-twinview/internal/segment"
	"paper-twinview/internal/types"
)

const (
	// DefaultMaxRetries bounds retry attempts on transient API errors.
	DefaultMaxRetries = 3
	// BaseRetryDelay is the starting backoff delay; it doubles per attempt.
	BaseRetryDelay = 2 * time.Second
	// maxRetryDelay caps the exponential backoff.
	maxRetryDelay = 30 * time.Second
)

// Config holds the settings needed to construct a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
}

// Client talks to an OpenAI-compatible multimodal model. All calls are
// synchronous and retried with exponential backoff on transient errors.
type Client struct {
	chat       *openai.ChatModel
	model      string
	maxRetries int
}

// NewClient constructs a Client. Credentials are read once here; saving
// new settings requires constructing a fresh client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	chatCfg := &openai.ChatModelConfig{
		Model:  cfg.Model,
		APIKey: cfg.APIKey,
	}
	if cfg.BaseURL != "" {
		chatCfg.BaseURL = cfg.BaseURL
	}

	chat, err := openai.NewChatModel(ctx, chatCfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrAPICall, "failed to create chat model", err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	logger.Info("model client initialized",
		logger.String("model", cfg.Model),
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("apiKeyLength", len(cfg.APIKey)))

	return &Client{chat: chat, model: cfg.Model, maxRetries: maxRetries}, nil
}

// pageImageURL encodes a rendered page as a data URL for the vision API.
func pageImageURL(page raster.PageImage) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(page.JPEG)
}

// generateWithImage sends one text+image user message and returns the
// model's text reply, retrying transient failures.
func (c *Client) generateWithImage(ctx context.Context, systemPrompt, userPrompt string, page raster.PageImage) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: userPrompt},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:    pageImageURL(page),
						Detail: schema.ImageURLDetailHigh,
					},
				},
			},
		},
	}
	return c.generateWithRetry(ctx, msgs)
}

// generateWithRetry wraps Generate with exponential backoff, retrying
// only on transient-looking failures.
func (c *Client) generateWithRetry(ctx context.Context, msgs []*schema.Message) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.chat.Generate(ctx, msgs)
		if err == nil {
			return resp.Content, nil
		}
		lastErr = err

		logger.Warn("model request attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("maxRetries", c.maxRetries),
			logger.Err(err))

		if !isRetryableError(err) || attempt == c.maxRetries {
			break
		}

		delay := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return "", types.NewAppError(types.ErrAPICall, "model request cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
	return "", types.NewAppError(types.ErrAPICall, "model request failed", lastErr)
}

// isRetryableError classifies transient failures: rate limits, server
// errors, and network hiccups retry; auth and bad-request errors do not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "invalid_request") ||
		strings.Contains(msg, "400") {
		return false
	}

	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "reset by peer") {
		return true
	}

	return false
}

func backoffDelay(attempt int) time.Duration {
	delay := BaseRetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// RequestMetadata extracts bibliographic metadata from the first page.
// Best effort: callers fall back to a filename stub on error.
func (c *Client) RequestMetadata(ctx context.Context, pageOne raster.PageImage) (*types.PaperMetadata, error) {
	raw, err := c.generateWithImage(ctx, metadataSystemPrompt, metadataUserPrompt, pageOne)
	if err != nil {
		return nil, err
	}

	var meta types.PaperMetadata
	if err := json.Unmarshal([]byte(segment.StripFences(raw)), &meta); err != nil {
		return nil, types.NewAppError(types.ErrAPICall, "metadata response is not valid JSON", err)
	}
	return &meta, nil
}

// RequestPageContent requests segmentation+translation for one page and
// returns the raw response text. pageIndex is 0-based on the wire, as
// the prompt counts pages from zero; parsing and type validation happen
// in the normalizer, never here.
func (c *Client) RequestPageContent(ctx context.Context, page raster.PageImage, pageIndex int, tone types.Tone) (string, error) {
	logger.Debug("requesting page content",
		logger.Int("pageIndex", pageIndex),
		logger.String("tone", string(tone)),
		logger.Int("imageBytes", len(page.JPEG)))
	return c.generateWithImage(ctx, pageSystemPrompt(tone), pageUserPrompt(pageIndex), page)
}

// ExplainBlock produces a two-language deep explanation for a segment.
func (c *Client) ExplainBlock(ctx context.Context, original, translated, userPrompt string) (*types.Explanation, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(explainSystemPrompt),
		schema.UserMessage(explainUserPrompt(original, translated, userPrompt)),
	}
	raw, err := c.generateWithRetry(ctx, msgs)
	if err != nil {
		return nil, err
	}

	var expl types.Explanation
	if err := json.Unmarshal([]byte(segment.StripFences(raw)), &expl); err != nil {
		// Degrade to plain text rather than losing the answer.
		return &types.Explanation{Korean: raw, English: raw}, nil
	}
	return &expl, nil
}

// ChatTurn answers one chat message against the document context.
func (c *Client) ChatTurn(ctx context.Context, history []types.ChatMessage, newMessage, documentContext string) (string, error) {
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(chatSystemPrompt(documentContext)))
	for _, h := range history {
		if h.Role == "assistant" {
			msgs = append(msgs, schema.AssistantMessage(h.Content, nil))
		} else {
			msgs = append(msgs, schema.UserMessage(h.Content))
		}
	}
	msgs = append(msgs, schema.UserMessage(newMessage))
	return c.generateWithRetry(ctx, msgs)
}
