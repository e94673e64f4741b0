package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

// Slack posts messages to an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
}

// NewSlack returns a Slack notifier for webhookURL.
func NewSlack(webhookURL string, timeout time.Duration) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// Notify posts message as the webhook's text payload.
func (s *Slack) Notify(ctx context.Context, message string) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack webhook URL is not configured")
	}
	msg := &slack.WebhookMessage{Text: message}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
