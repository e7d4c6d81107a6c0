package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig configures the Kafka writer used for change events.
type ProducerConfig struct {
	Brokers      []string
	BatchTimeout time.Duration
}

// KafkaProducer publishes change events through a single writer. Events are keyed by owner id
// and hashed, so one owner's changes land on one partition in commit order.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(cfg ProducerConfig) *KafkaProducer {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	return &KafkaProducer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}}
}

// WriteMessages publishes msgs to topic.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	for i := range msgs {
		msgs[i].Topic = topic
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending messages and releases the writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
