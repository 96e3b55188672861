package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

// SlackSender posts alerts to Slack incoming webhooks. Each recipient is a webhook URL.
type SlackSender struct {
	httpClient *http.Client
	limiter    *RateLimiter
}

// NewSlackSender creates a new Slack sender. A nil limiter disables throttling.
func NewSlackSender(limiter *RateLimiter) *SlackSender {
	return &SlackSender{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
	}
}

// Channel returns the slack channel.
func (s *SlackSender) Channel() models.Channel {
	return models.ChannelSlack
}

// Send posts msg to the webhook URL in recipient.
func (s *SlackSender) Send(ctx context.Context, recipient string, msg *Message) error {
	if !strings.HasPrefix(recipient, "https://") {
		return fmt.Errorf("%w: webhook URL must use HTTPS", ErrInvalidRecipient)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	jsonData, err := json.Marshal(buildSlackPayload(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	te := &TransportError{Provider: "slack", StatusCode: resp.StatusCode, Body: string(body)}
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		// Revoked or unknown webhook.
		return fmt.Errorf("%w: %v", ErrInvalidRecipient, te)
	}
	return te
}

// Close is a no-op for the Slack sender.
func (s *SlackSender) Close() error {
	return nil
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildSlackPayload builds a Block Kit message around the rendered body.
// Text carries the body as the notification fallback.
func buildSlackPayload(msg *Message) slackMessage {
	emoji := severityEmoji(msg.Severity)

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  Truncate(fmt.Sprintf("%s %s", emoji, msg.RuleName), 150),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: msg.Body,
			},
		},
		{
			Type: "context",
			Elements: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("Severity: *%s* | %s", msg.Severity, msg.FiredAt.UTC().Format("2006-01-02 15:04:05 MST")),
				},
			},
		},
	}

	return slackMessage{Text: msg.Body, Blocks: blocks}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityHigh:
		return "\U0001F7E0" // orange circle
	case models.SeverityMedium:
		return "\U0001F7E1" // yellow circle
	case models.SeverityLow:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}
