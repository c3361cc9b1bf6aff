package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
)

// MatchRepository persists Match records.
type MatchRepository struct {
	db *database.DB
}

func (r *MatchRepository) CreateTx(ctx context.Context, tx *sql.Tx, m *domain.Match) error {
	if m.ID == "" {
		m.ID = domain.NewID()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Status == "" {
		m.Status = domain.MatchProposed
	}

	breakdownJSON, err := toJSON(m.ScoreBreakdown)
	if err != nil {
		return err
	}
	detailsJSON, err := toJSON(m.RiskDetails)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO matches (
			id, requirement_id, availability_id, buyer_id, seller_id, allocated_quantity,
			score, score_breakdown, risk_decision, risk_details, status, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.RequirementID, m.AvailabilityID, m.BuyerID, m.SellerID, m.AllocatedQuantity,
		m.Score, breakdownJSON, m.RiskDecision, detailsJSON, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (r *MatchRepository) GetByID(ctx context.Context, id string) (*domain.Match, error) {
	row := r.db.Conn().QueryRowContext(ctx, matchSelect+` WHERE id = ?`, id)
	return scanMatch(row)
}

func (r *MatchRepository) ListByRequirement(ctx context.Context, requirementID string, limit, offset int) ([]domain.Match, error) {
	rows, err := r.db.Conn().QueryContext(ctx, matchSelect+`
		WHERE requirement_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`, requirementID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatches(rows)
}

func (r *MatchRepository) ListByAvailability(ctx context.Context, availabilityID string, limit, offset int) ([]domain.Match, error) {
	rows, err := r.db.Conn().QueryContext(ctx, matchSelect+`
		WHERE availability_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`, availabilityID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatches(rows)
}

// HasActivePair reports whether (requirement, availability) already
// has a Match in one of the "active" statuses — invariant §3.3.3.
func (r *MatchRepository) HasActivePair(ctx context.Context, requirementID, availabilityID string) (bool, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM matches
		WHERE requirement_id = ? AND availability_id = ?
		AND status IN ('PROPOSED','NOTIFIED','ACCEPTED_BY_BUYER','IN_NEGOTIATION')`,
		requirementID, availabilityID).Scan(&count)
	return count > 0, err
}

// RecentSimilarScores returns prior match scores for the same
// (requirement, buyer, seller) triple created at or after `since` — the
// duplicate-match-suppression input for spec §4.7's 5-minute /
// 95%-similarity rule.
func (r *MatchRepository) RecentSimilarScores(ctx context.Context, requirementID, buyerID, sellerID string, since time.Time) ([]float64, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT score FROM matches
		WHERE requirement_id = ? AND buyer_id = ? AND seller_id = ? AND created_at >= ?`,
		requirementID, buyerID, sellerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scores []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

func (r *MatchRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, newStatus domain.MatchStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE matches SET status = ?, updated_at = ? WHERE id = ?`,
		newStatus, time.Now().UTC(), id)
	return err
}

const matchSelect = `
	SELECT id, requirement_id, availability_id, buyer_id, seller_id, allocated_quantity,
	       score, score_breakdown, risk_decision, risk_details, status, created_at, updated_at
	FROM matches`

func scanMatch(row rowScanner) (*domain.Match, error) {
	var m domain.Match
	var breakdownJSON, detailsJSON string
	err := row.Scan(&m.ID, &m.RequirementID, &m.AvailabilityID, &m.BuyerID, &m.SellerID,
		&m.AllocatedQuantity, &m.Score, &breakdownJSON, &m.RiskDecision, &detailsJSON,
		&m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan match: %w", err)
	}
	if err := fromJSON(breakdownJSON, &m.ScoreBreakdown); err != nil {
		return nil, err
	}
	if err := fromJSON(detailsJSON, &m.RiskDetails); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMatches(rows *sql.Rows) ([]domain.Match, error) {
	var out []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
