// Package notifier delivers recorded alert events over WhatsApp, email and Slack.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/stockalert/internal/metrics"
	"github.com/good-yellow-bee/stockalert/internal/models"
)

// Message is a rendered notification ready for one channel.
type Message struct {
	EventID  string
	RuleName string
	Severity models.Severity
	FiredAt  time.Time
	Subject  string // email only
	Body     string
	HTML     string // email only, optional
}

// Sender delivers messages on one channel, one recipient at a time.
type Sender interface {
	// Channel returns the channel this sender serves.
	Channel() models.Channel
	// Send delivers msg to a single recipient.
	Send(ctx context.Context, recipient string, msg *Message) error
	// Close releases any resources.
	Close() error
}

// DeliveryWriter persists the delivery flags of an event.
type DeliveryWriter interface {
	UpdateDelivery(ctx context.Context, tenantID, id string, delivery models.Delivery) error
}

// Failure describes one recipient that could not be reached.
type Failure struct {
	Recipient string       `json:"recipient"`
	Class     FailureClass `json:"class"`
	Error     string       `json:"error"`
}

// ChannelReport is the outcome of one channel.
type ChannelReport struct {
	Channel   models.Channel `json:"channel"`
	Succeeded []string       `json:"succeeded"`
	Failed    []Failure      `json:"failed"`
}

// Delivered reports whether at least one recipient succeeded.
func (c *ChannelReport) Delivered() bool {
	return len(c.Succeeded) > 0
}

// Report is the outcome of dispatching one event.
type Report struct {
	Channels []*ChannelReport `json:"channels"`
	Delivery models.Delivery  `json:"delivery"`
}

// Sent returns the number of recipients reached across channels.
func (r *Report) Sent() int {
	n := 0
	for _, c := range r.Channels {
		n += len(c.Succeeded)
	}
	return n
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Retry     RetryConfig
	Templates *Templates
	Logger    *zap.Logger
}

// DefaultDispatcherOptions returns default dispatcher options.
func DefaultDispatcherOptions() *DispatcherOptions {
	return &DispatcherOptions{Retry: DefaultRetryConfig()}
}

// Dispatcher routes a recorded event to the channels and recipients of its rule.
// Failures never propagate to the caller; they are logged, counted and reported.
type Dispatcher struct {
	mu        sync.RWMutex
	senders   map[models.Channel]Sender
	delivery  DeliveryWriter
	templates *Templates
	retry     RetryConfig
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher that persists delivery flags through delivery.
func NewDispatcher(delivery DeliveryWriter, opts *DispatcherOptions) (*Dispatcher, error) {
	if opts == nil {
		opts = DefaultDispatcherOptions()
	}

	templates := opts.Templates
	if templates == nil {
		var err error
		templates, err = LoadTemplates()
		if err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		senders:   make(map[models.Channel]Sender),
		delivery:  delivery,
		templates: templates,
		retry:     opts.Retry,
		logger:    logger.With(zap.String("component", "dispatcher")),
	}, nil
}

// Register adds a sender, replacing any sender for the same channel.
func (d *Dispatcher) Register(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Channel()] = s
}

// Unregister removes the sender of a channel.
func (d *Dispatcher) Unregister(ch models.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.senders, ch)
}

// Get returns the sender of a channel.
func (d *Dispatcher) Get(ch models.Channel) (Sender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.senders[ch]
	return s, ok
}

// Dispatch sends event to every enabled channel of rule, then persists the
// resulting delivery flags on the event. Only the persistence error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *models.AlertRule, event *models.AlertEvent) (*Report, error) {
	log := d.logger.With(
		zap.String("tenant_id", event.TenantID),
		zap.String("rule_id", rule.ID),
		zap.String("event_id", event.ID),
	)
	if rule.Routing.Legacy {
		log.Debug("rule uses legacy routing encoding")
	}

	report := &Report{}
	for _, ch := range models.Channels {
		if !rule.Routing.Enabled(ch) {
			continue
		}
		recipients := rule.Routing.RecipientsFor(ch)
		if len(recipients) == 0 {
			log.Warn("channel enabled without recipients", zap.String("channel", string(ch)))
			continue
		}

		cr := d.dispatchChannel(ctx, log, ch, recipients, rule, event)
		report.Channels = append(report.Channels, cr)
		report.Delivery.Set(ch, cr.Delivered())
	}

	event.Delivery = report.Delivery
	if err := d.delivery.UpdateDelivery(ctx, event.TenantID, event.ID, report.Delivery); err != nil {
		return report, fmt.Errorf("persist delivery flags: %w", err)
	}

	log.Info("alert dispatched",
		zap.Int("recipients_reached", report.Sent()),
		zap.Bool("sent_whatsapp", report.Delivery.WhatsApp),
		zap.Bool("sent_email", report.Delivery.Email),
		zap.Bool("sent_slack", report.Delivery.Slack),
	)
	return report, nil
}

func (d *Dispatcher) dispatchChannel(ctx context.Context, log *zap.Logger, ch models.Channel, recipients []string,
	rule *models.AlertRule, event *models.AlertEvent) *ChannelReport {
	cr := &ChannelReport{Channel: ch}
	log = log.With(zap.String("channel", string(ch)))

	sender, ok := d.Get(ch)
	if !ok {
		for _, rcpt := range recipients {
			d.fail(log, cr, rcpt, ErrChannelUnavailable)
		}
		return cr
	}

	msg, err := d.render(ch, rule, event)
	if err != nil {
		// A template failure leaves the channel undelivered without stopping other channels.
		for _, rcpt := range recipients {
			d.fail(log, cr, rcpt, fmt.Errorf("render message: %w", err))
		}
		return cr
	}

	for _, rcpt := range recipients {
		start := time.Now()
		attempts, err := withRetry(ctx, d.retry, func() error {
			return sender.Send(ctx, rcpt, msg)
		})
		metrics.NotificationDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())

		if err != nil {
			d.fail(log.With(zap.Int("attempts", attempts)), cr, rcpt, err)
			continue
		}
		cr.Succeeded = append(cr.Succeeded, rcpt)
		metrics.NotificationsTotal.WithLabelValues(string(ch), "success", "").Inc()
		log.Debug("notification sent", zap.String("recipient", rcpt), zap.Int("attempts", attempts))
	}

	if !cr.Delivered() {
		log.Error("all sends failed", zap.Int("recipients", len(recipients)))
	}
	return cr
}

func (d *Dispatcher) fail(log *zap.Logger, cr *ChannelReport, rcpt string, err error) {
	class := Classify(err)
	cr.Failed = append(cr.Failed, Failure{Recipient: rcpt, Class: class, Error: err.Error()})
	metrics.NotificationsTotal.WithLabelValues(string(cr.Channel), "failure", string(class)).Inc()
	log.Warn("notification failed",
		zap.String("recipient", rcpt),
		zap.String("class", string(class)),
		zap.Error(err),
	)
}

func (d *Dispatcher) render(ch models.Channel, rule *models.AlertRule, event *models.AlertEvent) (*Message, error) {
	data := NewTemplateData(rule, event, ch)
	body, err := d.templates.Render(data)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		EventID:  event.ID,
		RuleName: rule.Name,
		Severity: event.Severity,
		FiredAt:  event.FiredAt,
		Body:     body,
	}
	if ch == models.ChannelEmail {
		msg.Subject = EmailSubject(rule, event)
		if msg.HTML, err = d.templates.RenderHTML(data, body); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// Close closes all registered senders.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for ch, s := range d.senders {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
		}
	}
	d.senders = make(map[models.Channel]Sender)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
