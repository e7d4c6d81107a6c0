package outbox

import "example.com/fitsync/internal/events"

// schemas maps each event type the dispatcher may publish to its JSON schema.
var schemas = map[string]string{
	events.DocumentChangedType: documentChangedSchema,
}

const documentChangedSchema = `{
  "type": "object",
  "title": "DocumentChanged",
  "properties": {
    "document_id": {"type": "string"},
    "collection": {"type": "string"},
    "owner_id": {"type": "string"},
    "operation": {"type": "string", "enum": ["create", "set", "update", "delete"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["document_id", "collection", "owner_id", "operation", "occurred_at"],
  "additionalProperties": false
}`
