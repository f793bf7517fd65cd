package storage

import (
	"context"
	"fmt"

	"litsearch/internal/models"
)

// maxLastErrorLen bounds the error text stored per queue entry.
const maxLastErrorLen = 500

// QueueRepo is the persistent backlog of documents waiting for (re-)chunking.
// One entry per document; failed entries stay queued with their attempt count
// until they exceed the configured maximum, after which they are skipped by
// NextBatch but kept for operator inspection.
type QueueRepo struct {
	db *DB
}

func NewQueueRepo(db *DB) *QueueRepo {
	return &QueueRepo{db: db}
}

// Enqueue inserts a document into the queue. Re-enqueueing an already queued
// document resets its bookkeeping so it gets fresh attempts.
func (r *QueueRepo) Enqueue(ctx context.Context, documentID int64, priority int) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO embedding_queue (document_id, attempts, priority, queued_at)
VALUES ($1, 0, $2, NOW())
ON CONFLICT (document_id)
DO UPDATE SET
  attempts = 0,
  last_error = NULL,
  priority = EXCLUDED.priority,
  queued_at = NOW(),
  last_attempt_at = NULL`, documentID, priority)
	if err != nil {
		return fmt.Errorf("enqueue document %d: %w", documentID, err)
	}
	return nil
}

// NextBatch selects up to batchSize entries ordered by priority (highest
// first) then queue time (oldest first), skipping entries that exhausted
// their attempts.
func (r *QueueRepo) NextBatch(ctx context.Context, batchSize, maxAttempts int) ([]models.QueueEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT document_id, attempts, COALESCE(last_error,''), queued_at, priority, last_attempt_at
FROM embedding_queue
WHERE attempts < $2
ORDER BY priority DESC, queued_at ASC
LIMIT $1`, batchSize, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("select queue batch: %w", err)
	}
	defer rows.Close()
	out := make([]models.QueueEntry, 0, batchSize)
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.DocumentID, &e.Attempts, &e.LastError, &e.QueuedAt, &e.Priority, &e.LastAttemptAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return out, nil
}

// MarkDone removes a successfully processed entry.
func (r *QueueRepo) MarkDone(ctx context.Context, documentID int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM embedding_queue WHERE document_id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("remove queue entry %d: %w", documentID, err)
	}
	return nil
}

// MarkFailed records a failed attempt with a bounded error message.
func (r *QueueRepo) MarkFailed(ctx context.Context, documentID int64, cause string) error {
	if len(cause) > maxLastErrorLen {
		cause = cause[:maxLastErrorLen]
	}
	_, err := r.db.Pool.Exec(ctx, `
UPDATE embedding_queue
SET attempts = attempts + 1, last_error = $2, last_attempt_at = NOW()
WHERE document_id = $1`, documentID, cause)
	if err != nil {
		return fmt.Errorf("record queue failure %d: %w", documentID, err)
	}
	return nil
}

// ListStuck returns entries that exhausted their attempts. These are excluded
// from processing batches but not silently dropped.
func (r *QueueRepo) ListStuck(ctx context.Context, maxAttempts int) ([]models.QueueEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT document_id, attempts, COALESCE(last_error,''), queued_at, priority, last_attempt_at
FROM embedding_queue
WHERE attempts >= $1
ORDER BY last_attempt_at DESC NULLS LAST`, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list stuck queue entries: %w", err)
	}
	defer rows.Close()
	out := make([]models.QueueEntry, 0)
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.DocumentID, &e.Attempts, &e.LastError, &e.QueuedAt, &e.Priority, &e.LastAttemptAt); err != nil {
			return nil, fmt.Errorf("scan stuck queue entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Depth reports how many entries are still eligible for processing.
func (r *QueueRepo) Depth(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM embedding_queue WHERE attempts < $1`, maxAttempts).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return n, nil
}
