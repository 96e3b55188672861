package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// resendAPI is the subset of the Resend emails service used for sending.
type resendAPI interface {
	Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendProvider sends email through the Resend API.
type ResendProvider struct {
	emails resendAPI
}

// NewResendProvider creates a Resend provider. An empty key yields an unconfigured provider.
func NewResendProvider(apiKey string) *ResendProvider {
	if apiKey == "" {
		return &ResendProvider{}
	}
	return &ResendProvider{emails: resend.NewClient(apiKey).Emails}
}

// Name returns "resend".
func (p *ResendProvider) Name() string {
	return "resend"
}

// IsConfigured reports whether an API key was supplied.
func (p *ResendProvider) IsConfigured() bool {
	return p != nil && p.emails != nil
}

// Send sends req via Resend. The Resend client has no context support;
// a cancelled ctx is checked before the call.
func (p *ResendProvider) Send(ctx context.Context, req *EmailRequest) error {
	if p.emails == nil {
		return errors.New("Resend client not initialized")
	}
	if len(req.To) == 0 {
		return fmt.Errorf("%w: no recipients specified", ErrInvalidRecipient)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Text:    req.Body,
	}
	if req.HTML != "" {
		params.Html = req.HTML
	}

	if _, err := p.emails.Send(params); err != nil {
		return fmt.Errorf("Resend send failed: %w", err)
	}
	return nil
}
