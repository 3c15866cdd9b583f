// Package syncevent handles Kafka event production for completed mirror runs.
package syncevent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// DefaultTopic receives SyncCompletedEvent messages
const DefaultTopic = "nvd-sync-events"

// SyncProducer sends sync events to Kafka
type SyncProducer struct {
	Writer *kafka.Writer
}

// NewSyncProducer initializes a Kafka writer for sync events. SASL/PLAIN over TLS is
// configured only when both username and password are provided.
func NewSyncProducer(brokers []string, topic, username, password string) *SyncProducer {
	if topic == "" {
		topic = DefaultTopic
	}

	transport := &kafka.Transport{
		DialTimeout: 10 * time.Second,
	}
	if username != "" && password != "" {
		transport.SASL = plain.Mechanism{
			Username: username,
			Password: password,
		}
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &SyncProducer{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Transport:    transport,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishSyncCompleted sends the event to the Kafka topic, keyed by mode
func (p *SyncProducer) PublishSyncCompleted(ctx context.Context, event SyncCompletedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Mode),
		Value: payload,
	})
}

// Close cleans up the Kafka writer
func (p *SyncProducer) Close() error {
	return p.Writer.Close()
}
