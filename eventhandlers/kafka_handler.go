package eventhandlers

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"deepfake-guard/logging"
	"deepfake-guard/metrics"
	"deepfake-guard/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AlertPublisher sends flag alerts to a Kafka topic, keyed by checksum so repeat
// uploads of the same file land on the same partition.
type AlertPublisher struct {
	Writer messageWriter
	Topic  string
}

// NewAlertPublisher returns a publisher backed by an async kafka.Writer; delivery
// errors are reported from the writer's completion callback.
func NewAlertPublisher(brokers []string, topic string) *AlertPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.AlertsPublishedTotal.WithLabelValues("failure").Add(float64(len(messages)))
				logging.Error().Err(err).Int("messages", len(messages)).Str("topic", topic).
					Msg("[Kafka] Failed to deliver flag alerts")
				return
			}
			metrics.AlertsPublishedTotal.WithLabelValues("success").Add(float64(len(messages)))
		},
	}
	return &AlertPublisher{Writer: writer, Topic: topic}
}

func (ap *AlertPublisher) Notify(ctx context.Context, alert models.FlagAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(alert.Checksum),
		Value: payload,
		Time:  alert.FlaggedAt,
	}
	if err := ap.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert to %s: %w", ap.Topic, err)
	}
	logging.Debug().Str("checksum", alert.Checksum).Str("topic", ap.Topic).Msg("[Kafka] Flag alert queued")
	return nil
}

func (ap *AlertPublisher) Close() error {
	return ap.Writer.Close()
}
