// Package eventbus publishes recorded alert events to Kafka for downstream consumers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/stockalert/internal/metrics"
	"github.com/good-yellow-bee/stockalert/internal/models"
)

const (
	// DefaultTopic is the topic alert events are written to.
	DefaultTopic = "stockalert.alert-events"

	// SchemaVersion is the version of the event JSON carried in the schema_version header.
	SchemaVersion = 1

	writeTimeout = 10 * time.Second
)

// messageWriter is the subset of *kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers string // comma-separated broker list
	Topic   string
}

// Validate validates the Kafka configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Brokers) == "" {
		return fmt.Errorf("brokers cannot be empty")
	}
	return nil
}

// KafkaPublisher writes one message per alert event, keyed by rule id so that
// all events of a rule land on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a synchronous, at-least-once Kafka publisher.
func NewKafkaPublisher(cfg Config, logger *zap.Logger) (*KafkaPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	brokers := strings.Split(cfg.Brokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return newKafkaPublisher(writer, cfg.Topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger.With(zap.String("component", "eventbus"), zap.String("topic", topic)),
	}
}

// Publish writes event as JSON.
func (p *KafkaPublisher) Publish(ctx context.Context, event *models.AlertEvent) error {
	msg, err := encodeEvent(event)
	if err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	metrics.EventsPublished.WithLabelValues("success").Inc()
	p.logger.Debug("alert event published",
		zap.String("tenant_id", event.TenantID),
		zap.String("rule_id", event.RuleID),
		zap.String("event_id", event.ID),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encodeEvent(event *models.AlertEvent) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal alert event %s: %w", event.ID, err)
	}

	return kafka.Message{
		Key:   []byte(event.RuleID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "schema_version", Value: []byte(fmt.Sprintf("%d", SchemaVersion))},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.FiredAt,
	}, nil
}
