package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
)

// NegotiationRepository persists Negotiation, Offer and Message
// records (spec §3.1, §4.9).
type NegotiationRepository struct {
	db *database.DB
}

func (r *NegotiationRepository) CreateTx(ctx context.Context, tx *sql.Tx, n *domain.Negotiation) error {
	if n.ID == "" {
		n.ID = domain.NewID()
	}
	n.CreatedAt = time.Now().UTC()
	n.Version = 1
	if n.Status == "" {
		n.Status = domain.NegotiationActive
	}
	if n.CurrentRound == 0 {
		n.CurrentRound = 1
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO negotiations (
			id, requirement_id, availability_id, buyer_id, seller_id, current_round,
			status, last_actor, ttl_seconds, version, created_at, terminated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.RequirementID, n.AvailabilityID, n.BuyerID, n.SellerID, n.CurrentRound,
		n.Status, n.LastActor, int(n.TTL.Seconds()), n.Version, n.CreatedAt, nullableTime(n.TerminatedAt),
	)
	return err
}

func (r *NegotiationRepository) GetByID(ctx context.Context, id string) (*domain.Negotiation, error) {
	row := r.db.Conn().QueryRowContext(ctx, negotiationSelect+` WHERE id = ?`, id)
	return scanNegotiation(row)
}

// GetForUpdateTx re-reads a Negotiation inside tx, the precondition
// for offer/accept/reject optimistic writes. SQLite takes no row-level
// lock for this read; a concurrent round is detected by
// AdvanceRoundTx's version check.
func (r *NegotiationRepository) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Negotiation, error) {
	row := tx.QueryRowContext(ctx, negotiationSelect+` WHERE id = ?`, id)
	return scanNegotiation(row)
}

// AdvanceRoundTx records a new round/actor with an optimistic version
// check. Returns domain.ErrConflict on mismatch (spec §4.9, §7: C9
// retries once, then surfaces Conflict).
func (r *NegotiationRepository) AdvanceRoundTx(ctx context.Context, tx *sql.Tx, id string, newRound int, actor domain.Actor, expectedVersion int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE negotiations SET current_round = ?, last_actor = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		newRound, actor, id, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

// TerminateTx transitions a Negotiation to a terminal status. Does
// not check version: terminal transitions are idempotent (spec §4.9,
// §7) — a repeated terminal write from the same or another actor is
// a no-op if the negotiation is already in that exact status.
func (r *NegotiationRepository) TerminateTx(ctx context.Context, tx *sql.Tx, id string, status domain.NegotiationStatus) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE negotiations SET status = ?, terminated_at = ?, version = version + 1
		WHERE id = ? AND status = 'ACTIVE'`,
		status, now, id)
	return err
}

func (r *NegotiationRepository) CreateOfferTx(ctx context.Context, tx *sql.Tx, o *domain.Offer) error {
	if o.ID == "" {
		o.ID = domain.NewID()
	}
	o.CreatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offers (id, negotiation_id, round, actor, price, quantity,
			delivery_terms, payment_terms, quality_terms, confidence, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.NegotiationID, o.Round, o.Actor, o.Price, o.Quantity,
		o.DeliveryTerms, o.PaymentTerms, o.QualityTerms, o.Confidence, o.CreatedAt,
	)
	return err
}

func (r *NegotiationRepository) LastOffer(ctx context.Context, negotiationID string) (*domain.Offer, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, negotiation_id, round, actor, price, quantity, delivery_terms,
		       payment_terms, quality_terms, confidence, created_at
		FROM offers WHERE negotiation_id = ? ORDER BY round DESC LIMIT 1`, negotiationID)
	return scanOffer(row)
}

func (r *NegotiationRepository) ListOffers(ctx context.Context, negotiationID string) ([]domain.Offer, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, negotiation_id, round, actor, price, quantity, delivery_terms,
		       payment_terms, quality_terms, confidence, created_at
		FROM offers WHERE negotiation_id = ? ORDER BY round ASC`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *NegotiationRepository) CreateMessageTx(ctx context.Context, tx *sql.Tx, m *domain.Message) error {
	if m.ID == "" {
		m.ID = domain.NewID()
	}
	m.CreatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, negotiation_id, sender_role, body, read_at, created_at)
		VALUES (?,?,?,?,?,?)`,
		m.ID, m.NegotiationID, m.SenderRole, m.Body, nullableTime(m.ReadAt), m.CreatedAt,
	)
	return err
}

// ListActiveExpiredBefore returns ACTIVE negotiations whose TTL has
// elapsed as of `cutoff` — input to the periodic tick() sweep.
func (r *NegotiationRepository) ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]domain.Negotiation, error) {
	rows, err := r.db.Conn().QueryContext(ctx, negotiationSelect+`
		WHERE status = 'ACTIVE' AND datetime(created_at, '+' || ttl_seconds || ' seconds') < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

const negotiationSelect = `
	SELECT id, requirement_id, availability_id, buyer_id, seller_id, current_round,
	       status, last_actor, ttl_seconds, version, created_at, terminated_at
	FROM negotiations`

func scanNegotiation(row rowScanner) (*domain.Negotiation, error) {
	var n domain.Negotiation
	var lastActor sql.NullString
	var ttlSeconds int
	var terminatedAt sql.NullTime

	err := row.Scan(&n.ID, &n.RequirementID, &n.AvailabilityID, &n.BuyerID, &n.SellerID,
		&n.CurrentRound, &n.Status, &lastActor, &ttlSeconds, &n.Version, &n.CreatedAt, &terminatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan negotiation: %w", err)
	}
	n.LastActor = domain.Actor(lastActor.String)
	n.TTL = time.Duration(ttlSeconds) * time.Second
	if terminatedAt.Valid {
		n.TerminatedAt = &terminatedAt.Time
	}
	return &n, nil
}

func scanOffer(row rowScanner) (*domain.Offer, error) {
	var o domain.Offer
	var confidence sql.NullFloat64
	err := row.Scan(&o.ID, &o.NegotiationID, &o.Round, &o.Actor, &o.Price, &o.Quantity,
		&o.DeliveryTerms, &o.PaymentTerms, &o.QualityTerms, &confidence, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan offer: %w", err)
	}
	if confidence.Valid {
		o.Confidence = &confidence.Float64
	}
	return &o, nil
}
