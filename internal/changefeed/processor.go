package changefeed

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fitsync/internal/platform/logger"
)

// Reader is the part of kafka.Reader the processor uses.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded change events.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a change event as published by the outbox dispatcher.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	Collection    string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger used to report skipped messages.
func WithLogger(log *logger.Logger) Option {
	return func(p *Processor) {
		p.logger = log
	}
}

// WithRetry sets how many times a failing message is handed to the Handler and the pause
// between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Processor) {
		p.attempts = attempts
		p.backoff = backoff
	}
}

// Processor reads change events from Kafka and hands them to a Handler. Every fetched message is
// committed once it has been handled, dropped as malformed, or failed every attempt, so one bad
// event never stalls its partition.
type Processor struct {
	reader   Reader
	handler  Handler
	logger   *logger.Logger
	attempts int
	backoff  time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handler:  handler,
		logger:   logger.NewNop(),
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.attempts < 1 {
		p.attempts = 1
	}
	p.logger = p.logger.With("component", "changefeed-consumer")
	return p
}

// Run processes messages until ctx is cancelled or the reader fails permanently.
func (p *Processor) Run(ctx context.Context) error {
	for {
		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Warn("fetch error", "error", err)
			continue
		}

		p.process(ctx, msg)
		if err := p.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			p.logger.Warn("commit error", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (p *Processor) process(ctx context.Context, raw kafka.Message) {
	msg, err := decodeMessage(raw)
	if err != nil {
		p.logger.Warn("dropping malformed change event", "topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset, "error", err)
		decodeErrorCounter.WithLabelValues(raw.Topic).Inc()
		return
	}

	for attempt := 1; ; attempt++ {
		err = p.handler.Handle(ctx, msg)
		if err == nil {
			processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
			if !msg.Timestamp.IsZero() {
				lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
			}
			return
		}
		handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
		if attempt >= p.attempts || !sleep(ctx, p.backoff*time.Duration(attempt)) {
			break
		}
	}
	p.logger.Warn("dropping change event after handler errors", "event_type", msg.EventType, "collection", msg.Collection, "attempts", p.attempts, "error", err)
	droppedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// decodeMessage strips the schema registry framing (magic byte plus four-byte schema id) and
// lifts the routing headers.
func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) < 5 || msg.Value[0] != 0 {
		return Message{}, fmt.Errorf("not a schema registry frame (%d bytes)", len(msg.Value))
	}
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	eventType := headers["event_type"]
	if eventType == "" {
		return Message{}, errors.New("missing event_type header")
	}

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     eventType,
		Collection:    headers["collection"],
		SchemaSubject: headers["schema_subject"],
		SchemaID:      int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), msg.Value[5:]...)),
	}, nil
}
