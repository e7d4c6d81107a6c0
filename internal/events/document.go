// Package events defines the change events exchanged between fitsync processes.
package events

import "time"

// DocumentChangedType is the event type carried in the event_type header.
const DocumentChangedType = "document.changed"

// Operation names the mutation that produced a change event.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationSet    Operation = "set"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// DocumentChanged is emitted once per committed document write.
type DocumentChanged struct {
	DocumentID string    `json:"document_id"`
	Collection string    `json:"collection"`
	OwnerID    string    `json:"owner_id"`
	Operation  Operation `json:"operation"`
	OccurredAt time.Time `json:"occurred_at"`
}
