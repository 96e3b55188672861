package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

// EmailRequest is a single email handed to a provider.
type EmailRequest struct {
	From    string
	To      []string
	Subject string
	Body    string // plain text
	HTML    string // optional
}

// EmailProvider is an email backend.
type EmailProvider interface {
	// Name returns the provider name (smtp, ses, resend).
	Name() string
	// Send sends req.
	Send(ctx context.Context, req *EmailRequest) error
	// IsConfigured reports whether the provider can send.
	IsConfigured() bool
}

// EmailSender sends alert emails through an ordered list of providers.
// The first configured provider is tried first; later ones are fallbacks.
type EmailSender struct {
	from      string
	providers []EmailProvider
	logger    *zap.Logger
}

// NewEmailSender creates an email sender. At least one provider must be configured.
func NewEmailSender(from string, logger *zap.Logger, providers ...EmailProvider) (*EmailSender, error) {
	if _, err := mail.ParseAddress(from); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}

	var configured []EmailProvider
	for _, p := range providers {
		if p != nil && p.IsConfigured() {
			configured = append(configured, p)
		}
	}
	if len(configured) == 0 {
		return nil, errors.New("no email provider configured")
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailSender{
		from:      from,
		providers: configured,
		logger:    logger.With(zap.String("channel", string(models.ChannelEmail))),
	}, nil
}

// Channel returns the email channel.
func (e *EmailSender) Channel() models.Channel {
	return models.ChannelEmail
}

// Send emails msg to one recipient, falling back through providers on transport errors.
func (e *EmailSender) Send(ctx context.Context, recipient string, msg *Message) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(recipient))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidRecipient, recipient, err)
	}

	req := &EmailRequest{
		From:    e.from,
		To:      []string{addr.Address},
		Subject: msg.Subject,
		Body:    msg.Body,
		HTML:    msg.HTML,
	}

	var lastErr error
	for _, p := range e.providers {
		err := p.Send(ctx, req)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidRecipient) || ctx.Err() != nil {
			return err
		}
		e.logger.Warn("email provider failed",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
		lastErr = fmt.Errorf("%s: %w", p.Name(), err)
	}
	return lastErr
}

// Close is a no-op for the email sender.
func (e *EmailSender) Close() error {
	return nil
}

// SMTPConfig holds SMTP configuration.
type SMTPConfig struct {
	Host     string // SMTP server host
	Port     int    // SMTP server port (465 for implicit TLS, 587 for STARTTLS)
	Username string // SMTP username (optional)
	Password string // SMTP password (optional)
}

// Validate validates the SMTP configuration.
func (c *SMTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	return nil
}

// SMTPProvider sends email over SMTP.
type SMTPProvider struct {
	config SMTPConfig
}

// NewSMTPProvider creates a new SMTP provider.
func NewSMTPProvider(config SMTPConfig) (*SMTPProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid smtp config: %w", err)
	}
	return &SMTPProvider{config: config}, nil
}

// Name returns "smtp".
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// IsConfigured reports whether a host is set.
func (p *SMTPProvider) IsConfigured() bool {
	return p != nil && p.config.Host != ""
}

// Send delivers req over SMTP.
func (p *SMTPProvider) Send(ctx context.Context, req *EmailRequest) error {
	return p.sendMail(ctx, req.From, req.To, buildMIMEMessage(req))
}

// buildMIMEMessage builds a MIME message, multipart when an HTML body is present.
func buildMIMEMessage(req *EmailRequest) []byte {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("From: %s\r\n", req.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(req.To, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", req.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")

	if req.HTML == "" {
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(req.Body)
		msg.WriteString("\r\n")
		return []byte(msg.String())
	}

	boundary := fmt.Sprintf("----=_Part_%d", time.Now().UnixNano())
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(req.Body)
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(req.HTML)
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return []byte(msg.String())
}

func (p *SMTPProvider) sendMail(ctx context.Context, from string, to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", p.config.Host, p.config.Port)
	tlsConfig := &tls.Config{
		ServerName: p.config.Host,
	}

	var client *smtp.Client
	var err error
	if p.config.Port == 465 {
		client, err = p.connectImplicitTLS(addr, tlsConfig)
	} else {
		client, err = p.connectSTARTTLS(ctx, addr, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if p.config.Username != "" && p.config.Password != "" {
		auth := smtp.PlainAuth("", p.config.Username, p.config.Password, p.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractEmail(from)); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			// 55x replies reject the mailbox itself.
			var te *textproto.Error
			if errors.As(err, &te) && te.Code >= 550 && te.Code < 560 {
				return fmt.Errorf("%w: %s: %v", ErrInvalidRecipient, rcpt, err)
			}
			return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}

	return client.Quit()
}

func (p *SMTPProvider) connectImplicitTLS(addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, p.config.Host)
}

func (p *SMTPProvider) connectSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{
		Timeout: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, p.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	return client, nil
}

// extractEmail extracts the address from a "Name <email>" form.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end != -1 {
			return addr[start+1 : end]
		}
	}
	return addr
}
