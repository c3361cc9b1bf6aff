package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
)

// AuditRepository persists AuditEntry records in the append-only
// ledger database.
type AuditRepository struct {
	db *database.DB
}

func (r *AuditRepository) Record(ctx context.Context, e *domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	e.CreatedAt = time.Now().UTC()

	var actorID any
	if e.ActorID != "" {
		actorID = e.ActorID
	}

	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO audit_entries (id, actor_id, action, target_type, target_id,
			before_snapshot, after_snapshot, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, actorID, e.Action, e.TargetType, e.TargetID,
		nullableBytes(e.BeforeSnapshot), nullableBytes(e.AfterSnapshot), e.CreatedAt,
	)
	return err
}

func (r *AuditRepository) ListByTarget(ctx context.Context, targetType, targetID string) ([]domain.AuditEntry, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, actor_id, action, target_type, target_id, before_snapshot, after_snapshot, created_at
		FROM audit_entries WHERE target_type = ? AND target_id = ? ORDER BY created_at ASC`,
		targetType, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var actorID sql.NullString
		var before, after sql.NullString
		if err := rows.Scan(&e.ID, &actorID, &e.Action, &e.TargetType, &e.TargetID, &before, &after, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = actorID.String
		e.BeforeSnapshot = []byte(before.String)
		e.AfterSnapshot = []byte(after.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
