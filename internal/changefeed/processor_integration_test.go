//go:build integration

package changefeed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/fitsync/internal/events"
)

type syncNotifier struct {
	mu          sync.Mutex
	collections []string
}

func (n *syncNotifier) Notify(collection string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.collections = append(n.collections, collection)
}

func (n *syncNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.collections...)
}

func TestKafkaChangeEventNotifiesHub(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]
	topic := "document_changes"

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "fitsync-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	notifier := &syncNotifier{}
	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	proc := NewProcessor(reader, NewNotifyHandler(notifier))
	go func() {
		_ = proc.Run(consumerCtx)
	}()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	payload, err := json.Marshal(events.DocumentChanged{
		DocumentID: "doc-1",
		Collection: "workouts",
		OwnerID:    "u1",
		Operation:  events.OperationCreate,
		OccurredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte("u1"),
		Value: frame(1, payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.DocumentChangedType)},
			{Key: "schema_subject", Value: []byte("document_changes-value")},
		},
	}))

	require.Eventually(t, func() bool {
		seen := notifier.seen()
		return len(seen) == 1 && seen[0] == "workouts"
	}, 30*time.Second, 200*time.Millisecond)
}
