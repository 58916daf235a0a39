// Package slack sends heartbeat run summaries to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/heartbeat"
)

const (
	maxStepLines = 20
	httpTimeout  = 10 * time.Second
)

// Notifier posts heartbeat summaries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty,
// NotifyRunSummary is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// NotifyRunSummary posts a run summary to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) NotifyRunSummary(ctx context.Context, run *heartbeat.Run) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(run))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(run *heartbeat.Run) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(run),
			{"type": "divider"},
			fieldsBlock(run),
			{"type": "divider"},
			stepsBlock(run),
			{"type": "divider"},
			contextBlock(run),
		},
	}
}

func headerBlock(run *heartbeat.Run) map[string]any {
	emoji := "\U0001f7e2" // green circle
	title := "Heartbeat Complete"
	if run.Status == heartbeat.RunFailed {
		emoji = "\U0001f534" // red circle
		title = "Heartbeat Failed"
	}

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", emoji, title),
		},
	}
}

func fieldsBlock(run *heartbeat.Run) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Synced:* %d", run.Synced),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Skipped:* %d", run.Skipped),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Errors:* %d", run.Errors),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %.1fs", run.Duration),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func stepsBlock(run *heartbeat.Run) map[string]any {
	var lines []string
	for _, ev := range run.Events {
		if ev.Status == heartbeat.StepStart {
			continue
		}
		line := fmt.Sprintf("%s *%s*", stepEmoji(ev.Status), ev.Step)
		if ev.Detail != "" {
			line += ": " + ev.Detail
		}
		lines = append(lines, line)
		if len(lines) >= maxStepLines {
			break
		}
	}
	if len(lines) == 0 {
		lines = []string{"_No steps ran._"}
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": strings.Join(lines, "\n"),
		},
	}
}

func contextBlock(run *heartbeat.Run) map[string]any {
	ts := run.CompletedAt
	if ts.IsZero() {
		ts = run.StartedAt
	}

	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("aurelius • heartbeat %s • %s", run.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func stepEmoji(status string) string {
	switch status {
	case heartbeat.StepDone:
		return "✅" // check mark
	case heartbeat.StepSkip:
		return "⏭️" // skip forward
	default:
		return "❌" // cross mark
	}
}
