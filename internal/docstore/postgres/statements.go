package postgres

import "fmt"

const documentColumns = `collection, id, owner_id, data, created_at, updated_at`

// logChange returns a CTE that records one outbox row per row of source. Parameters start at
// $p: event type, topic, schema subject, operation.
func logChange(source, timestamp string, p int) string {
	return fmt.Sprintf(`logged AS (
		INSERT INTO document_outbox (owner_id, collection, document_id, event_type, topic, schema_subject, partition_key, payload)
		SELECT owner_id, collection, id, $%[3]d::text, $%[4]d::text, $%[5]d::text, owner_id,
			jsonb_build_object('document_id', id, 'collection', collection, 'owner_id', owner_id, 'operation', $%[6]d::text, 'occurred_at', %[2]s)
		FROM %[1]s
	)`, source, timestamp, p, p+1, p+2, p+3)
}

// setSQL upserts a document. The conflict branch only fires for the same owner, so no row comes
// back when the id belongs to someone else.
var setSQL = `WITH written AS (
	INSERT INTO documents (collection, id, owner_id, data, created_at, updated_at)
	VALUES ($1, $2, $3, $4::jsonb, now(), now())
	ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = now()
		WHERE documents.owner_id = EXCLUDED.owner_id
	RETURNING ` + documentColumns + `
), ` + logChange("written", "updated_at", 5) + `
SELECT ` + documentColumns + ` FROM written`

var updateSQL = `WITH written AS (
	UPDATE documents
	SET data = CASE WHEN $4::boolean THEN data || $3::jsonb ELSE $3::jsonb END,
		updated_at = now()
	WHERE collection = $1 AND id = $2
	RETURNING ` + documentColumns + `
), ` + logChange("written", "updated_at", 5) + `
SELECT ` + documentColumns + ` FROM written`

var deleteSQL = `WITH removed AS (
	DELETE FROM documents
	WHERE collection = $1 AND id = $2
	RETURNING collection, id, owner_id
), ` + logChange("removed", "now()", 3) + `
SELECT count(*) FROM removed`

const getSQL = `SELECT ` + documentColumns + ` FROM documents WHERE collection = $1 AND id = $2`
