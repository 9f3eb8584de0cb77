package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DrSkyle/codevet/pkg/engine/report"
	"github.com/DrSkyle/codevet/pkg/version"
)

// SlackNotifier posts failures and cycle summaries to an incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	Channel    string // Optional: Override default channel
	client     *http.Client
}

// NewSlackNotifier initializes the Slack integration.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Handle posts for IngestionFailed and CycleCompleted and ignores the rest.
func (s *SlackNotifier) Handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case IngestionFailed:
		return s.post(ctx, s.failurePayload(ev))
	case CycleCompleted:
		if len(ev.Runs) == 0 {
			return nil
		}
		return s.post(ctx, s.summaryPayload(report.Summarize(ev.Runs), ev.Time))
	}
	return nil
}

func (s *SlackNotifier) post(ctx context.Context, payload map[string]any) error {
	if s.WebhookURL == "" {
		return nil
	}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status from slack: %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackNotifier) failurePayload(ev Event) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{"type": "plain_text", "text": "🔴 Ingestion failed"},
			},
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Repository:* %s\n*Error:* %s", ev.Repository, ev.Error),
				},
			},
		},
	}
}

func (s *SlackNotifier) summaryPayload(sum report.Summary, at time.Time) map[string]any {
	statusIcon := "🟢"
	if sum.Failed > 0 {
		statusIcon = "🔴"
	} else if sum.Errors > 0 {
		statusIcon = "🟡"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": fmt.Sprintf("%s Ingestion cycle report", statusIcon),
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Cycle finished:* %s", at.UTC().Format("2006-01-02 15:04 MST"))},
			},
		},
		{"type": "divider"},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Repositories:*\n%d (%d failed)", sum.Repositories, sum.Failed)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Files:*\n%d/%d", sum.FilesProcessed, sum.FilesTotal)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Integrated / Reimplemented:*\n%d / %d", sum.Integrated, sum.Reimplemented)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Rejected / Errors:*\n%d / %d", sum.Rejected, sum.Errors)},
			},
		},
	}
	return map[string]any{"blocks": blocks}
}
