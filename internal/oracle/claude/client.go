// Package claude implements the expensive-model oracle on the Anthropic
// Messages API.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/oracle"
)

const maxTokens = 1024

const systemPrompt = `You are a triage assistant for a personal event queue.
Given one event (email, chat message, tracker notification, or note), respond
with a single JSON object and nothing else:

{
  "summary": "one-line summary of the event",
  "tags": ["tag", ...],
  "batch_type": "name of a recurring batch this belongs to, or \"\" if it needs individual attention",
  "priority": "urgent|high|normal|low",
  "entities": ["project or person names mentioned", ...],
  "confidence": 0.0
}

Prefer an existing batch type from the provided list over inventing a new one.
Confidence is your own estimate, between 0 and 1.`

// Client classifies events with the Claude API. It implements
// oracle.Oracle.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Claude-backed oracle with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Name implements oracle.Oracle.
func (c *Client) Name() string { return "claude" }

// Classify sends the event to the Claude API and parses the structured
// verdict out of the reply. API outages and rate limits come back as
// oracle.ErrUnavailable so callers can distinguish "down" from "wrong".
func (c *Client) Classify(ctx context.Context, req *oracle.Request) (*oracle.Result, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
	})
	if err != nil {
		if isUnavailable(err) {
			return nil, fmt.Errorf("%w: %w", oracle.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("claude api: %w", err)
	}

	text := textContent(msg)
	if text == "" {
		return nil, errors.New("claude api: empty response")
	}
	return parseVerdict(text)
}

// buildPrompt renders the event and the known batch types as the user turn.
func buildPrompt(req *oracle.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\nFrom: %s\nSubject: %s\n\n%s\n", req.Connector, req.Sender, req.Subject, req.Content)
	if len(req.BatchTypes) > 0 {
		fmt.Fprintf(&b, "\nKnown batch types: %s\n", strings.Join(req.BatchTypes, ", "))
	}
	return b.String()
}

// textContent concatenates the text blocks of the SDK response.
func textContent(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// verdict is the JSON shape the model is asked to produce.
type verdict struct {
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	BatchType  string   `json:"batch_type"`
	Priority   string   `json:"priority"`
	Entities   []string `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// parseVerdict extracts the JSON object from the model's reply. Models
// sometimes wrap the object in prose or a code fence, so we parse from the
// first '{' to the last '}'.
func parseVerdict(text string) (*oracle.Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("claude api: no JSON object in response %q", truncate(text, 120))
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("claude api: parse verdict: %w", err)
	}

	return &oracle.Result{
		Summary:    v.Summary,
		Tags:       v.Tags,
		BatchType:  v.BatchType,
		Priority:   v.Priority,
		Entities:   v.Entities,
		Confidence: v.Confidence,
	}, nil
}

// isUnavailable reports whether the error means the API itself is down or
// throttling, as opposed to rejecting this particular request.
func isUnavailable(err error) bool {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests ||
			apierr.StatusCode >= http.StatusInternalServerError
	}
	// No API error type means we never got a response: network failure,
	// timeout, cancelled context.
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
