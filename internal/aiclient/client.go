// Package aiclient wraps google.golang.org/genai for the pipeline's AI calls:
// DiscoveryEngine page selection, per-dimension lead analysis, prospect
// brainstorming and outreach drafting. Grounded on the client-option/GenerateContent shape of
// bobmcallan-vire's internal/clients/gemini client.
package aiclient

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"

	maxAttempts  = 3
	baseBackoff  = 500 * time.Millisecond
	backoffFactor = 2.0
	jitterFrac   = 0.25
)

// Client issues JSON-producing prompts to Gemini with bounded retry.
type Client struct {
	genai  *genai.Client
	model  string
	logger *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel overrides DefaultModel.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithLogger attaches a logger; a nop logger is used otherwise.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client backed by the Gemini API.
func New(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("aiclient: failed to create gemini client: %w", err)
	}

	c := &Client{
		genai:  genaiClient,
		model:  DefaultModel,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateJSON sends prompt to the model and returns the response text with
// any surrounding markdown code fence stripped, retrying transient failures
// up to maxAttempts times with exponential backoff and jitter.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.logger.Warn("aiclient: retrying generate call",
				zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := c.generate(ctx, prompt)
		if err == nil {
			return stripMarkdownFence(text), nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("aiclient: generate failed after %d attempts: %w", maxAttempts, lastErr)
}

// GenerateWithURLContext is identical to GenerateJSON but also grants the
// model Gemini's URL-context tool over the given URLs, used by the analyze
// runner's per-dimension scoring calls.
func (c *Client) GenerateWithURLContext(ctx context.Context, prompt string, urls ...string) (string, error) {
	if len(urls) > 0 {
		var sb strings.Builder
		sb.WriteString("Reference URLs:\n")
		for _, u := range urls {
			sb.WriteString("- ")
			sb.WriteString(u)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		sb.WriteString(prompt)
		prompt = sb.String()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		contents := genai.Text(prompt)
		config := &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{URLContext: &genai.URLContext{}}},
		}
		result, err := c.genai.Models.GenerateContent(ctx, c.model, contents, config)
		if err == nil {
			text, extractErr := extractText(result)
			if extractErr == nil {
				return stripMarkdownFence(text), nil
			}
			lastErr = extractErr
			continue
		}
		lastErr = err
	}

	return "", fmt.Errorf("aiclient: generate with url context failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	contents := genai.Text(prompt)
	result, err := c.genai.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return extractText(result)
}

func extractText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// stripMarkdownFence removes a leading/trailing ```json ... ``` or ``` ...
// ``` fence, since Gemini frequently wraps JSON responses in one despite
// being asked not to.
func stripMarkdownFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func backoffDelay(attempt int) time.Duration {
	d := float64(baseBackoff) * pow(backoffFactor, attempt-1)
	jitter := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(d * jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
