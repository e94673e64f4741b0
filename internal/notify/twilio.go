package notify

import (
	"context"
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Twilio sends messages to a single WhatsApp recipient.
type Twilio struct {
	client       *twilio.RestClient
	fromWhatsApp string
	toWhatsApp   string
	logger       *zap.Logger
}

// NewTwilio creates a Twilio notifier bound to the configured sender and recipient numbers.
func NewTwilio(accountSID, authToken, fromWhatsApp, toWhatsApp string, logger *zap.Logger) *Twilio {
	return &Twilio{
		client:       twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		fromWhatsApp: fromWhatsApp,
		toWhatsApp:   toWhatsApp,
		logger:       logger,
	}
}

// Notify sends message via Twilio's API. The SDK call is not context aware;
// ctx is only checked before sending.
func (t *Twilio) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.client == nil {
		return fmt.Errorf("twilio client not initialised")
	}

	sender := normalizeWhatsAppAddress(t.fromWhatsApp)
	if sender == "" {
		return fmt.Errorf("twilio sender WhatsApp number is not configured")
	}
	recipient := normalizeWhatsAppAddress(t.toWhatsApp)
	if recipient == "" {
		return fmt.Errorf("recipient number missing or invalid")
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(sender)
	params.SetBody(message)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send message error: %w", err)
	}

	if resp.Sid != nil {
		t.logger.Debug("twilio message sent", zap.String("sid", *resp.Sid), zap.String("to", recipient))
	}
	return nil
}

func normalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "whatsapp:") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "+") {
		return "whatsapp:" + trimmed
	}
	return "whatsapp:+" + trimmed
}
