// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
)

type Type string

const (
	OrderCreated    Type = "order.created"
	ProofUploaded   Type = "payment.proof_uploaded"
	AdminAction     Type = "order.admin_action"
	PaymentNotified Type = "payment.notified"
)

type Event struct {
	ID             string              `json:"id"`
	Type           Type                `json:"type"`
	OrderID        models.ID           `json:"orderId"`
	Actor          string              `json:"actor,omitempty"`
	Status         models.OrderStatus  `json:"status"`
	PreviousStatus *models.OrderStatus `json:"previousStatus,omitempty"`
	Attributes     map[string]string   `json:"attributes,omitempty"`
	OccurredAt     time.Time           `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewPublisher returns a Kafka publisher, or a no-op one when no brokers are
// configured.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) Publisher {
	var cleaned []string
	for _, broker := range brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			cleaned = append(cleaned, broker)
		}
	}
	if len(cleaned) == 0 {
		return NoopPublisher{}
	}
	return newKafkaPublisher(newWriter(cleaned, topic), logger)
}

// Events are written one at a time; a batch never waits for company.
const (
	writerBatchTimeout = 10 * time.Millisecond
	writerWriteTimeout = 5 * time.Second
	writerMaxAttempts  = 3
)

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           writerBatchTimeout,
		WriteTimeout:           writerWriteTimeout,
		MaxAttempts:            writerMaxAttempts,
		AllowAutoTopicCreation: false,
	}
}

type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time
}

func newKafkaPublisher(writer messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger, now: time.Now}
}

// Publish writes the event keyed by order id so one order's events stay in
// partition order.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID.String()),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logging.FromContext(ctx, p.logger).Warn("failed to publish order event", "error", err, "event_type", event.Type, "order_id", event.OrderID)
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

func (NoopPublisher) Close() error { return nil }
