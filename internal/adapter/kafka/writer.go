// Package kafka publishes incident lifecycle events to a Kafka topic for
// downstream consumers. The sink is optional and feature-flagged off when no
// brokers are configured.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/cad-incident-notifier/internal/config"
	"github.com/couchcryptid/cad-incident-notifier/internal/domain"
)

// Writer produces lifecycle events to the configured topic.
// It implements reconcile.EventSink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured event topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes one cycle's lifecycle events in a single
// WriteMessages call. Keying by identity keeps one incident's events ordered
// within a partition.
func (w *Writer) Publish(ctx context.Context, events []domain.IncidentEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an IncidentEvent into a Kafka message.
func serializeToMessage(event domain.IncidentEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize incident event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Identity),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "observed_at", Value: []byte(event.At.Format(time.RFC3339))},
		},
	}, nil
}
