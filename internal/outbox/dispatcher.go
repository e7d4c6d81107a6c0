// Package outbox delivers document change events recorded in the outbox table to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/fitsync/internal/platform/logger"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message represents a row claimed from document_outbox.
type Message struct {
	EventID       int64
	OwnerID       string
	Collection    string
	DocumentID    string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// DispatcherConfig tunes the polling loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Logger       *logger.Logger
}

// Dispatcher drains the outbox table and publishes change events to Kafka. Events that cannot
// be published are moved to the dead-letter table in the same transaction that marks the batch
// as settled.
type Dispatcher struct {
	pool     *pgxpool.Pool
	producer messageWriter
	registry schemaRegistrar
	logger   *logger.Logger
	interval time.Duration
	limit    int

	mu        sync.Mutex
	schemaIDs map[string]int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	return &Dispatcher{
		pool:      pool,
		producer:  producer,
		registry:  registry,
		logger:    cfg.Logger.With("component", "outbox-dispatcher"),
		interval:  cfg.PollInterval,
		limit:     cfg.BatchSize,
		schemaIDs: make(map[string]int),
	}
}

// Run polls the outbox until ctx is cancelled. A full batch is followed immediately by another
// poll so a backlog drains without waiting for the ticker.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		n, err := d.processBatch(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox dispatcher error", "error", err)
		}
		if err == nil && n == d.limit {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// failure is a claimed message that could not be published.
type failure struct {
	msg    Message
	reason string
}

func (d *Dispatcher) processBatch(ctx context.Context) (int, error) {
	start := time.Now()

	messages, err := d.claim(ctx)
	if err != nil || len(messages) == 0 {
		return 0, err
	}
	defer batchDuration.Observe(time.Since(start).Seconds())

	published, failed := d.publish(ctx, messages)
	if len(failed) > 0 {
		d.logger.Warn("outbox events dead-lettered", "events", len(failed), "first_reason", failed[0].reason)
	}
	if err := d.settle(ctx, published, failed); err != nil {
		return 0, err
	}

	for _, msg := range published {
		eventsCounter.WithLabelValues(msg.Collection, "published").Inc()
	}
	for _, f := range failed {
		eventsCounter.WithLabelValues(f.msg.Collection, "dead_lettered").Inc()
		dlqCounter.WithLabelValues(f.msg.Topic).Inc()
	}
	return len(messages), nil
}

// claim selects pending rows in commit order. Rows locked by another dispatcher are skipped, and
// claimed_at records when this instance picked them up.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	var messages []Message
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT event_id, owner_id, collection, document_id, event_type, topic, schema_subject, partition_key, payload
			FROM document_outbox
			WHERE published_at IS NULL
			ORDER BY event_id
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, d.limit)
		if err != nil {
			return err
		}
		messages, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
			var msg Message
			err := row.Scan(&msg.EventID, &msg.OwnerID, &msg.Collection, &msg.DocumentID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload)
			return msg, err
		})
		if err != nil || len(messages) == 0 {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE document_outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	return messages, nil
}

// publish frames each message and writes it to its topic, one producer call per topic. A failed
// topic only fails its own messages.
func (d *Dispatcher) publish(ctx context.Context, messages []Message) ([]Message, []failure) {
	var (
		topics    []string
		byTopic   = make(map[string][]Message)
		framed    = make(map[string][]kafka.Message)
		published []Message
		failed    []failure
	)

	for _, msg := range messages {
		schema, ok := schemas[msg.EventType]
		if !ok {
			failed = append(failed, failure{msg: msg, reason: fmt.Sprintf("no schema for event type %s", msg.EventType)})
			continue
		}
		schemaID, err := d.schemaID(ctx, msg.SchemaSubject, schema)
		if err != nil {
			failed = append(failed, failure{msg: msg, reason: err.Error()})
			continue
		}
		if _, seen := byTopic[msg.Topic]; !seen {
			topics = append(topics, msg.Topic)
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], msg)
		framed[msg.Topic] = append(framed[msg.Topic], kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(msg.EventType)},
				{Key: "collection", Value: []byte(msg.Collection)},
				{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			},
		})
	}

	for _, topic := range topics {
		if err := d.producer.WriteMessages(ctx, topic, framed[topic]...); err != nil {
			reason := fmt.Sprintf("%v (topic=%s)", err, topic)
			for _, msg := range byTopic[topic] {
				failed = append(failed, failure{msg: msg, reason: reason})
			}
			continue
		}
		published = append(published, byTopic[topic]...)
	}
	return published, failed
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	d.mu.Lock()
	id, ok := d.schemaIDs[subject]
	d.mu.Unlock()
	if ok {
		return id, nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("resolve schema %s: %w", subject, err)
	}
	d.mu.Lock()
	d.schemaIDs[subject] = id
	d.mu.Unlock()
	return id, nil
}

// settle copies failures into the dead-letter table and marks every claimed row as published in
// one transaction, so a crash in between cannot both dead-letter and re-send an event.
func (d *Dispatcher) settle(ctx context.Context, published []Message, failed []failure) error {
	all := append([]Message(nil), published...)
	batch := &pgx.Batch{}
	for _, f := range failed {
		all = append(all, f.msg)
		batch.Queue(`INSERT INTO document_outbox_dlq (event_id, owner_id, collection, document_id, event_type, topic, schema_subject, partition_key, payload, reason, next_retry_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`,
			f.msg.EventID, f.msg.OwnerID, f.msg.Collection, f.msg.DocumentID, f.msg.EventType, f.msg.Topic, f.msg.SchemaSubject, f.msg.PartitionKey, f.msg.Payload, f.reason)
	}
	batch.Queue(`UPDATE document_outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(all))

	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("settle outbox batch: %w", err)
	}
	return nil
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}
	return ids
}

// encodeWireFormat applies Confluent framing: a zero magic byte and a big-endian schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
