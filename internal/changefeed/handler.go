package changefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/fitsync/internal/events"
)

// Notifier is satisfied by Hub.
type Notifier interface {
	Notify(collection string)
}

// NotifyHandler wakes local subscriptions for the collection named in each change event.
type NotifyHandler struct {
	notifier Notifier
}

// NewNotifyHandler constructs a handler that forwards to notifier.
func NewNotifyHandler(notifier Notifier) *NotifyHandler {
	return &NotifyHandler{notifier: notifier}
}

// Handle implements Handler.
func (h *NotifyHandler) Handle(_ context.Context, msg Message) error {
	if msg.EventType != events.DocumentChangedType {
		return nil
	}
	collection := msg.Collection
	if collection == "" {
		var evt events.DocumentChanged
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		collection = evt.Collection
	}
	if collection == "" {
		return fmt.Errorf("%s event without collection", msg.EventType)
	}
	h.notifier.Notify(collection)
	return nil
}
