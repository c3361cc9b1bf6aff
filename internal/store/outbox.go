package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/events"
)

// OutboxRepository implements the transactional-outbox write path
// (C10): the app service and the matching and negotiation engines call
// EnqueueTx inside the same *sql.Tx as the state change it records, so
// that change does not commit without its event (spec §4.1, §8.1.6).
type OutboxRepository struct {
	db *database.DB
}

// EnqueueTx writes one OutboxRecord for `event` inside tx.
func (r *OutboxRepository) EnqueueTx(ctx context.Context, tx *sql.Tx, aggregateType events.AggregateType, aggregateID string, event events.EventData) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_records (id, aggregate_type, aggregate_id, event_type, payload,
			created_at, dispatched_at, attempts, next_retry_at, dead)
		VALUES (?,?,?,?,?,?,NULL,0,?,0)`,
		domain.NewID(), string(aggregateType), aggregateID, string(event.EventType()), payload,
		now, now,
	)
	return err
}

// ClaimBatch selects up to `limit` undispatched, due records, oldest
// first, inside tx. It stamps no claim marker and SQLite takes no
// row-level lock for the read, so two dispatchers polling the same
// database can select the same records.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, tx *sql.Tx, limit int, now time.Time) ([]domain.OutboxRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at,
		       dispatched_at, attempts, next_retry_at, dead
		FROM outbox_records
		WHERE dispatched_at IS NULL AND dead = 0 AND next_retry_at <= ?
		ORDER BY created_at ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboxRecord
	for rows.Next() {
		var rec domain.OutboxRecord
		var dispatchedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType,
			&rec.Payload, &rec.CreatedAt, &dispatchedAt, &rec.Attempts, &rec.NextRetryAt, &rec.Dead); err != nil {
			return nil, err
		}
		if dispatchedAt.Valid {
			rec.DispatchedAt = &dispatchedAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkDispatchedTx records successful delivery.
func (r *OutboxRepository) MarkDispatchedTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE outbox_records SET dispatched_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// MarkFailedTx increments the attempt counter and schedules the next
// retry per the fixed backoff schedule (10s,30s,90s,300s,600s); once
// attempts reach maxAttempts the record is marked dead (spec §4.10,
// §7's "Transient I/O" category).
func (r *OutboxRepository) MarkFailedTx(ctx context.Context, tx *sql.Tx, id string, attempts int, backoff []time.Duration, maxAttempts int) error {
	if attempts >= maxAttempts {
		_, err := tx.ExecContext(ctx, `UPDATE outbox_records SET attempts = ?, dead = 1 WHERE id = ?`, attempts, id)
		return err
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoff) {
		idx = len(backoff) - 1
	}
	next := time.Now().UTC().Add(backoff[idx])
	_, err := tx.ExecContext(ctx, `UPDATE outbox_records SET attempts = ?, next_retry_at = ? WHERE id = ?`,
		attempts, next, id)
	return err
}

// DeadLetter marks a record dead immediately (non-transient/fatal
// failure) without consuming a retry slot.
func (r *OutboxRepository) DeadLetter(ctx context.Context, id string) error {
	_, err := r.db.Conn().ExecContext(ctx, `UPDATE outbox_records SET dead = 1 WHERE id = ?`, id)
	return err
}

// WithTx runs fn inside a transaction on the core database — the
// seam every other repository's *Tx method expects its caller to use.
func (r *OutboxRepository) WithTx(fn func(tx *sql.Tx) error) error {
	return database.WithTransaction(r.db.Conn(), fn)
}
