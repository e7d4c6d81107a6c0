package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/events"
)

func changeEvent(id int64, owner, collection, topic string) Message {
	return Message{
		EventID:       id,
		OwnerID:       owner,
		Collection:    collection,
		DocumentID:    fmt.Sprintf("doc-%d", id),
		EventType:     events.DocumentChangedType,
		Topic:         topic,
		SchemaSubject: topic + "-value",
		PartitionKey:  owner,
		Payload:       json.RawMessage(fmt.Sprintf(`{"document_id":"doc-%d","collection":%q}`, id, collection)),
	}
}

func TestPublishGroupsByTopicAndFramesPayload(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(nil, producer, registry, DispatcherConfig{})

	published, failed := dispatcher.publish(context.Background(), []Message{
		changeEvent(1, "u1", "progress", "document_changes"),
		changeEvent(2, "u2", "workouts", "document_changes"),
	})
	require.Empty(t, failed)
	require.Len(t, published, 2)

	require.Len(t, producer.writes, 1)
	require.Equal(t, "document_changes", producer.writes[0].topic)
	msgs := producer.writes[0].messages
	require.Len(t, msgs, 2)
	require.Equal(t, "u1", string(msgs[0].Key))
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(msgs[0].Value[1:5]))
	require.JSONEq(t, `{"document_id":"doc-1","collection":"progress"}`, string(msgs[0].Value[5:]))
	require.Len(t, registry.calls, 1, "schema id should be cached")

	var collection string
	for _, h := range msgs[1].Headers {
		if h.Key == "collection" {
			collection = string(h.Value)
		}
	}
	require.Equal(t, "workouts", collection)
}

func TestPublishFailsUnknownEventTypeOnly(t *testing.T) {
	producer := &stubProducer{}
	dispatcher := NewDispatcher(nil, producer, &stubRegistry{id: 1}, DispatcherConfig{})

	unknown := changeEvent(1, "u1", "progress", "document_changes")
	unknown.EventType = "document.unknown"
	published, failed := dispatcher.publish(context.Background(), []Message{unknown, changeEvent(2, "u1", "progress", "document_changes")})

	require.Len(t, published, 1)
	require.Equal(t, int64(2), published[0].EventID)
	require.Len(t, failed, 1)
	require.Contains(t, failed[0].reason, "document.unknown")
}

func TestPublishIsolatesFailingTopic(t *testing.T) {
	producer := &stubProducer{failTopic: "broken"}
	dispatcher := NewDispatcher(nil, producer, &stubRegistry{id: 1}, DispatcherConfig{})

	published, failed := dispatcher.publish(context.Background(), []Message{
		changeEvent(1, "u1", "progress", "broken"),
		changeEvent(2, "u1", "progress", "document_changes"),
		changeEvent(3, "u2", "workouts", "broken"),
	})

	require.Len(t, published, 1)
	require.Equal(t, int64(2), published[0].EventID)
	require.Len(t, failed, 2)
	require.Contains(t, failed[0].reason, "topic=broken")
}

func TestPublishFailsWhenRegistryUnavailable(t *testing.T) {
	dispatcher := NewDispatcher(nil, &stubProducer{}, &stubRegistry{err: errors.New("registry down")}, DispatcherConfig{})

	published, failed := dispatcher.publish(context.Background(), []Message{changeEvent(1, "u1", "progress", "document_changes")})
	require.Empty(t, published)
	require.Len(t, failed, 1)
	require.Contains(t, failed[0].reason, "registry down")
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	var registered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/document_changes-value/versions":
			registered = true
			_, _ = w.Write([]byte(`{"id": 17}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "document_changes-value", documentChangedSchema)
	require.NoError(t, err)
	require.Equal(t, 17, id)
	require.True(t, registered)
}

func TestSchemaRegistryDoesNotRegisterOnServerError(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL+"/").EnsureSchema(context.Background(), "document_changes-value", documentChangedSchema)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSubjectNotFound)
	require.Zero(t, posts)
}

func TestStaticRegistryAndBackoff(t *testing.T) {
	id, err := StaticRegistry{ID: 3}.EnsureSchema(context.Background(), "any", "{}")
	require.NoError(t, err)
	require.Equal(t, 3, id)

	r := NewReplayer(nil, 0, time.Minute)
	require.Equal(t, time.Minute, r.backoffDelay(1))
	require.Equal(t, 4*time.Minute, r.backoffDelay(3))
	require.Equal(t, time.Hour, r.backoffDelay(12))
	require.Equal(t, time.Hour, r.backoffDelay(80))
}

type producedBatch struct {
	topic    string
	messages []kafka.Message
}

type stubProducer struct {
	mu        sync.Mutex
	writes    []producedBatch
	err       error
	failTopic string
}

func (p *stubProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if topic == p.failTopic {
		return errors.New("leader not available")
	}
	p.writes = append(p.writes, producedBatch{topic: topic, messages: msgs})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	calls []string
	err   error
}

func (r *stubRegistry) EnsureSchema(_ context.Context, subject, _ string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, subject)
	if r.err != nil {
		return 0, r.err
	}
	return r.id, nil
}
