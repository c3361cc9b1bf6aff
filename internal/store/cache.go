package store

import (
	"context"
	"time"

	"github.com/rnrl/matchengine/internal/database"
)

// CacheRepository persists ephemeral state that is safe to lose:
// notification debounce timestamps and the processed-event dedup set
// (at-least-once idempotence, spec §8.2).
type CacheRepository struct {
	db *database.DB
}

// ShouldNotify reports whether a notification to `userID` for
// `eventType` is outside the debounce window, and if so records the
// attempt. Backed by a single UPSERT so the check-and-set is atomic
// under SQLite's single-writer model (spec §4.8's 1-per-user-per-
// minute debounce).
func (c *CacheRepository) ShouldNotify(ctx context.Context, userID, eventType string, now time.Time, window time.Duration) (bool, error) {
	var lastSent time.Time
	err := c.db.Conn().QueryRowContext(ctx, `
		SELECT last_sent_at FROM notification_debounce WHERE user_id = ? AND event_type = ?`,
		userID, eventType).Scan(&lastSent)
	if err == nil && now.Sub(lastSent) < window {
		return false, nil
	}

	_, err = c.db.Conn().ExecContext(ctx, `
		INSERT INTO notification_debounce (user_id, event_type, last_sent_at) VALUES (?,?,?)
		ON CONFLICT(user_id, event_type) DO UPDATE SET last_sent_at = excluded.last_sent_at`,
		userID, eventType, now)
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkEventProcessed records that `subscriber` has handled `eventID`,
// returning false if it already had (spec §8.2: at-least-once
// delivery must not create duplicate side effects).
func (c *CacheRepository) MarkEventProcessed(ctx context.Context, eventID, subscriber string, now time.Time) (firstTime bool, err error) {
	var existing string
	err = c.db.Conn().QueryRowContext(ctx, `
		SELECT event_id FROM processed_events WHERE event_id = ? AND subscriber = ?`,
		eventID, subscriber).Scan(&existing)
	if err == nil {
		return false, nil
	}
	_, err = c.db.Conn().ExecContext(ctx, `
		INSERT INTO processed_events (event_id, subscriber, processed_at) VALUES (?,?,?)`,
		eventID, subscriber, now)
	if err != nil {
		return false, err
	}
	return true, nil
}

// PurgeProcessedEventsOlderThan evicts dedup rows past their 24h
// retention window.
func (c *CacheRepository) PurgeProcessedEventsOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := c.db.Conn().ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < ?`, cutoff)
	return err
}
