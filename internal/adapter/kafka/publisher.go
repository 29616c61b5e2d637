package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
)

// PublisherConfig names the brokers and topics of the event stream.
type PublisherConfig struct {
	Brokers            []string
	EventsTopic        string
	NotificationsTopic string
}

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces merged hazard events and created notifications to
// their topics. It implements the pipeline's event publisher and the
// alert matcher's notification publisher.
type Publisher struct {
	writer             messageWriter
	eventsTopic        string
	notificationsTopic string
	metrics            *observability.Metrics
	logger             *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topics. Each
// message names its own topic, so one writer serves both.
func NewPublisher(cfg PublisherConfig, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, cfg, metrics, logger)
}

func newPublisher(w messageWriter, cfg PublisherConfig, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer:             w,
		eventsTopic:        cfg.EventsTopic,
		notificationsTopic: cfg.NotificationsTopic,
		metrics:            metrics,
		logger:             logger,
	}
}

// PublishEvents serializes and publishes hazard events keyed by identity
// key, in a single WriteMessages call.
func (p *Publisher) PublishEvents(ctx context.Context, events []domain.HazardEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := eventMessage(p.eventsTopic, events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.write(ctx, p.eventsTopic, msgs)
}

// PublishNotifications publishes notifications keyed by subscriber so one
// subscriber's alerts stay ordered within a partition.
func (p *Publisher) PublishNotifications(ctx context.Context, notifications []domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(notifications))
	for i := range notifications {
		msg, err := notificationMessage(p.notificationsTopic, notifications[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.write(ctx, p.notificationsTopic, msgs)
}

func (p *Publisher) write(ctx context.Context, topic string, msgs []kafkago.Message) error {
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.metrics.PublishErrors.WithLabelValues(topic).Inc()
		return fmt.Errorf("write %d messages to %s: %w", len(msgs), topic, err)
	}
	p.metrics.MessagesPublished.WithLabelValues(topic).Add(float64(len(msgs)))
	p.logger.Debug("messages published", "topic", topic, "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// eventMessage marshals a HazardEvent into a Kafka message.
func eventMessage(topic string, event domain.HazardEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize hazard event: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(event.IdentityKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(event.Kind)},
			{Key: "severity", Value: []byte(event.Severity.String())},
			{Key: "synthetic", Value: []byte(fmt.Sprint(event.IsSynthetic))},
			{Key: "observed_at", Value: []byte(event.ObservedAt.Format(time.RFC3339))},
		},
	}, nil
}

// notificationMessage marshals a Notification into a Kafka message.
func notificationMessage(topic string, n domain.Notification) (kafkago.Message, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(n.SubscriberID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "identity_key", Value: []byte(n.IdentityKey)},
			{Key: "kind", Value: []byte(n.Kind)},
			{Key: "synthetic", Value: []byte(fmt.Sprint(n.Synthetic))},
		},
	}, nil
}
