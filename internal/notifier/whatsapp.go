package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// Twilio error codes that reject the destination number.
var twilioRecipientCodes = map[int]bool{
	21211: true, // invalid 'To' number
	21614: true, // not a mobile number
	63003: true, // channel could not find the destination
}

// WhatsAppConfig holds Twilio WhatsApp configuration.
type WhatsAppConfig struct {
	AccountSID string
	AuthToken  string
	From       string // sender number in E.164, without the whatsapp: prefix
	BaseURL    string // defaults to the Twilio API
}

// Validate validates the WhatsApp configuration.
func (c *WhatsAppConfig) Validate() error {
	if c.AccountSID == "" {
		return fmt.Errorf("account SID is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	if !strings.HasPrefix(CleanPhoneNumber(c.From), "+") {
		return fmt.Errorf("from number must be in international format")
	}
	return nil
}

// WhatsAppSender sends alerts through the Twilio WhatsApp API.
type WhatsAppSender struct {
	config     WhatsAppConfig
	httpClient *http.Client
	limiter    *RateLimiter
}

// NewWhatsAppSender creates a new WhatsApp sender. A nil limiter disables throttling.
func NewWhatsAppSender(config WhatsAppConfig, limiter *RateLimiter) (*WhatsAppSender, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid whatsapp config: %w", err)
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultTwilioBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	config.From = CleanPhoneNumber(config.From)

	return &WhatsAppSender{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
	}, nil
}

// Channel returns the whatsapp channel.
func (w *WhatsAppSender) Channel() models.Channel {
	return models.ChannelWhatsApp
}

// CleanPhoneNumber strips spaces and dashes from a phone number.
func CleanPhoneNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(number))
}

// Send sends msg to the phone number in recipient.
func (w *WhatsAppSender) Send(ctx context.Context, recipient string, msg *Message) error {
	number := CleanPhoneNumber(recipient)
	if !strings.HasPrefix(number, "+") || len(number) < 8 {
		return fmt.Errorf("%w: %q is not an international number", ErrInvalidRecipient, recipient)
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("From", "whatsapp:"+w.config.From)
	form.Set("To", "whatsapp:"+number)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", w.config.BaseURL, w.config.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(w.config.AccountSID, w.config.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	te := &TransportError{Provider: "twilio", StatusCode: resp.StatusCode, Body: string(body)}
	if resp.StatusCode == http.StatusBadRequest {
		var apiErr struct {
			Code int `json:"code"`
		}
		if json.Unmarshal(body, &apiErr) == nil && twilioRecipientCodes[apiErr.Code] {
			return fmt.Errorf("%w: %v", ErrInvalidRecipient, te)
		}
	}
	return te
}

// Close is a no-op for the WhatsApp sender.
func (w *WhatsAppSender) Close() error {
	return nil
}
