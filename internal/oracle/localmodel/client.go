// Package localmodel implements the cheap-model oracle against an
// OpenAI-compatible chat completions endpoint (ollama, llama.cpp, vllm).
package localmodel

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

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/oracle"
)

// Client implements oracle.Oracle against a local model server.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

// New creates a local-model client. endpoint is the base URL of the server,
// e.g. http://localhost:11434.
func New(endpoint, model string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name implements oracle.Oracle.
func (c *Client) Name() string { return "local" }

const systemPrompt = `Classify the event into a JSON object:
{"summary":"...","tags":[],"batch_type":"","priority":"urgent|high|normal|low","entities":[],"confidence":0.0}
Use an existing batch type from the list when one fits, "" otherwise.
Respond with the JSON object only.`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends the event to the local model. Connection failures and
// server errors map to oracle.ErrUnavailable so the pipeline can escalate.
func (c *Client) Classify(ctx context.Context, req *oracle.Request) (*oracle.Result, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Source: %s\nFrom: %s\nSubject: %s\n\n%s\n", req.Connector, req.Sender, req.Subject, req.Content)
	if len(req.BatchTypes) > 0 {
		fmt.Fprintf(&prompt, "\nKnown batch types: %s\n", strings.Join(req.BatchTypes, ", "))
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", oracle.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: local model error %d", oracle.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local model error %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("local model: no choices in response")
	}
	return parseVerdict(out.Choices[0].Message.Content)
}

type verdict struct {
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	BatchType  string   `json:"batch_type"`
	Priority   string   `json:"priority"`
	Entities   []string `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// parseVerdict tolerates prose or a code fence around the JSON object.
func parseVerdict(text string) (*oracle.Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("local model: no JSON object in response")
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("local model: parse verdict: %w", err)
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
