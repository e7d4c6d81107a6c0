package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxReplayDelay = time.Hour

// Replayer moves dead-lettered change events back into the outbox. Entries that keep failing
// are rescheduled with exponential backoff and quarantined after maxRetries attempts.
type Replayer struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

// NewReplayer constructs a Replayer with the provided pool and retry configuration.
func NewReplayer(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *Replayer {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &Replayer{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce handles up to batchSize due entries and returns how many were handled. Each entry is
// claimed and resolved in its own transaction with SKIP LOCKED, so replayers running in several
// API instances never handle the same entry twice.
func (r *Replayer) RunOnce(ctx context.Context, batchSize int) (int, error) {
	handled := 0
	var errs []error
	for handled < batchSize {
		found, err := r.replayNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return handled, ctx.Err()
			}
			errs = append(errs, err)
			break
		}
		if !found {
			break
		}
		handled++
	}
	r.updateBacklog(ctx)
	return handled, errors.Join(errs...)
}

func (r *Replayer) replayNext(ctx context.Context) (bool, error) {
	found := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var e dlqEntry
		err := tx.QueryRow(ctx, `SELECT dlq_id, owner_id, collection, document_id, event_type, topic, schema_subject, partition_key, payload, retry_count
			FROM document_outbox_dlq
			WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`).Scan(&e.id, &e.ownerID, &e.collection, &e.documentID, &e.eventType, &e.topic, &e.schemaSubject, &e.partitionKey, &e.payload, &e.retryCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return r.resolve(ctx, tx, e)
	})
	if err != nil {
		return false, fmt.Errorf("replay dead-lettered event: %w", err)
	}
	return found, nil
}

// resolve quarantines an exhausted entry, or requeues it into the outbox. A failed requeue runs
// under a savepoint so the retry bookkeeping still commits.
func (r *Replayer) resolve(ctx context.Context, tx pgx.Tx, e dlqEntry) error {
	if e.retryCount >= r.maxRetries {
		if _, err := tx.Exec(ctx, `UPDATE document_outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, "retry limit reached", e.id); err != nil {
			return err
		}
		replayCounter.WithLabelValues(e.collection, "quarantined").Inc()
		return nil
	}

	requeueErr := pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
		if e.schemaSubject == "" {
			return fmt.Errorf("dead-letter entry %d has no schema subject", e.id)
		}
		_, err := sp.Exec(ctx, `INSERT INTO document_outbox (owner_id, collection, document_id, event_type, topic, schema_subject, partition_key, payload)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			e.ownerID, e.collection, e.documentID, e.eventType, e.topic, e.schemaSubject, e.partitionKey, e.payload)
		return err
	})
	if requeueErr != nil {
		if _, err := tx.Exec(ctx, `UPDATE document_outbox_dlq
			SET retry_count = retry_count + 1, last_attempt_at = NOW(), next_retry_at = NOW() + $1::interval, reason = $2
			WHERE dlq_id = $3`, r.backoffDelay(e.retryCount+1), requeueErr.Error(), e.id); err != nil {
			return err
		}
		replayCounter.WithLabelValues(e.collection, "retry_scheduled").Inc()
		return nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM document_outbox_dlq WHERE dlq_id = $1`, e.id); err != nil {
		return err
	}
	replayCounter.WithLabelValues(e.collection, "requeued").Inc()
	return nil
}

// backoffDelay doubles baseDelay per attempt, capped at one hour.
func (r *Replayer) backoffDelay(attempt int) time.Duration {
	if attempt > 30 {
		return maxReplayDelay
	}
	delay := time.Duration(1<<uint(attempt-1)) * r.baseDelay
	if delay <= 0 || delay > maxReplayDelay {
		return maxReplayDelay
	}
	return delay
}

func (r *Replayer) updateBacklog(ctx context.Context) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM document_outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count); err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(count))
}

type dlqEntry struct {
	id            int64
	ownerID       string
	collection    string
	documentID    string
	eventType     string
	topic         string
	schemaSubject string
	partitionKey  string
	payload       []byte
	retryCount    int
}
