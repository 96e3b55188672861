package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// sesAPI is the subset of the SES v2 client used for sending.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends email through AWS SES.
type SESProvider struct {
	client sesAPI
	region string
}

// NewSESProvider loads the default AWS configuration for region.
func NewSESProvider(ctx context.Context, region string) (*SESProvider, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESProvider{client: sesv2.NewFromConfig(cfg), region: region}, nil
}

// Name returns "ses".
func (p *SESProvider) Name() string {
	return "ses"
}

// IsConfigured reports whether a client is present.
func (p *SESProvider) IsConfigured() bool {
	return p != nil && p.client != nil
}

// Send sends req via SES.
func (p *SESProvider) Send(ctx context.Context, req *EmailRequest) error {
	if p.client == nil {
		return errors.New("SES client not initialized")
	}
	if len(req.To) == 0 {
		return fmt.Errorf("%w: no recipients specified", ErrInvalidRecipient)
	}

	var body types.Body
	if req.HTML != "" {
		body.Html = &types.Content{Data: &req.HTML}
	}
	if req.Body != "" {
		body.Text = &types.Content{Data: &req.Body}
	}

	_, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: &req.From,
		Destination: &types.Destination{
			ToAddresses: req.To,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &req.Subject},
				Body:    &body,
			},
		},
	})
	if err != nil {
		var rejected *types.MessageRejected
		if errors.As(err, &rejected) {
			return fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
		}
		return fmt.Errorf("SES send failed: %w", err)
	}
	return nil
}
