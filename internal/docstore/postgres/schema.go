package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// initializeSchema creates the document, outbox and dead-letter tables if they don't exist.
func (s *Store) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		statements := []string{
			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS documents (
				collection  TEXT        NOT NULL,
				id          TEXT        NOT NULL,
				owner_id    TEXT        NOT NULL,
				data        JSONB       NOT NULL DEFAULT '{}'::jsonb,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (collection, id)
			)`,
			/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS documents_owner_idx ON documents (collection, owner_id)`,
			/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops)`,

			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS document_outbox (
				event_id        BIGSERIAL   PRIMARY KEY,
				owner_id        TEXT        NOT NULL,
				collection      TEXT        NOT NULL,
				document_id     TEXT        NOT NULL,
				event_type      TEXT        NOT NULL,
				topic           TEXT        NOT NULL,
				schema_subject  TEXT        NOT NULL,
				partition_key   TEXT        NOT NULL,
				payload         JSONB       NOT NULL,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
				claimed_at      TIMESTAMPTZ,
				published_at    TIMESTAMPTZ
			)`,
			/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS document_outbox_pending_idx ON document_outbox (event_id) WHERE published_at IS NULL`,

			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS document_outbox_dlq (
				dlq_id             BIGSERIAL   PRIMARY KEY,
				event_id           BIGINT,
				owner_id           TEXT        NOT NULL,
				collection         TEXT        NOT NULL,
				document_id        TEXT        NOT NULL,
				event_type         TEXT        NOT NULL,
				topic              TEXT        NOT NULL,
				schema_subject     TEXT        NOT NULL,
				partition_key      TEXT        NOT NULL,
				payload            JSONB       NOT NULL,
				reason             TEXT        NOT NULL,
				retry_count        INT         NOT NULL DEFAULT 0,
				created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
				last_attempt_at    TIMESTAMPTZ,
				next_retry_at      TIMESTAMPTZ,
				quarantined_at     TIMESTAMPTZ,
				quarantine_reason  TEXT
			)`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
