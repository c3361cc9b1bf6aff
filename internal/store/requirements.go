package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
)

// RequirementRepository persists Requirement (buy-side) orders.
type RequirementRepository struct {
	db *database.DB
}

func (r *RequirementRepository) Create(ctx context.Context, tx *sql.Tx, req *domain.Requirement) error {
	if req.ID == "" {
		req.ID = domain.NewID()
	}
	now := time.Now().UTC()
	req.CreatedAt, req.UpdatedAt = now, now
	req.Version = 1
	if req.Status == "" {
		req.Status = domain.RequirementActive
	}

	locationsJSON, err := toJSON(req.DeliveryLocations)
	if err != nil {
		return err
	}
	qualityJSON, err := toJSON(req.AcceptedQualityParams)
	if err != nil {
		return err
	}

	exec := execer(r.db, tx)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO requirements (
			id, buyer_id, commodity_id, quantity, unit, target_price, max_price,
			delivery_locations, accepted_quality_params, valid_until, status,
			risk_precheck_status, ai_budget_flag, dedup_hash, idempotency_key,
			version, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.BuyerID, req.CommodityID, req.Quantity, req.Unit, req.TargetPrice, req.MaxPrice,
		locationsJSON, qualityJSON, req.ValidUntil, req.Status,
		req.RiskPrecheckStatus, req.AIBudgetFlag, req.DedupHash, req.IdempotencyKey,
		req.Version, req.CreatedAt, req.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrUniqueViolation
	}
	return err
}

func (r *RequirementRepository) GetByID(ctx context.Context, id string) (*domain.Requirement, error) {
	row := r.db.Conn().QueryRowContext(ctx, requirementSelect+` WHERE id = ?`, id)
	return scanRequirement(row)
}

func (r *RequirementRepository) GetByIdempotencyKey(ctx context.Context, buyerID, key string) (*domain.Requirement, error) {
	row := r.db.Conn().QueryRowContext(ctx, requirementSelect+` WHERE buyer_id = ? AND idempotency_key = ?`, buyerID, key)
	return scanRequirement(row)
}

// UpdateStatusTx transitions status with an optimistic
// version check; used by the Matching Engine (C7) after allocation
// and by CancelOrder.
func (r *RequirementRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, newStatus domain.RequirementStatus, expectedVersion int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE requirements SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		newStatus, time.Now().UTC(), id, expectedVersion)
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

// FindOpenOrdersSameDay backs C3.check_circular_trading (spec §4.3.2,
// §6.4): any open opposite-side order from `partner` on `commodity`
// on `date`.
func (r *RequirementRepository) FindOpenOrdersSameDay(ctx context.Context, buyerID, commodityID string, date time.Time) (bool, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requirements
		WHERE buyer_id = ? AND commodity_id = ? AND status IN ('DRAFT','ACTIVE','PARTIALLY_FULFILLED')
		AND substr(created_at,1,10) = ?`,
		buyerID, commodityID, date.Format("2006-01-02")).Scan(&count)
	return count > 0, err
}

// ExistsByDedupHash backs C3.check_duplicate: a pre-flight read ahead
// of the unique partial index that enforces it at write time (spec
// §3.3.4, §4.3.3).
func (r *RequirementRepository) ExistsByDedupHash(ctx context.Context, buyerID, commodityID, dedupHash string) (bool, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requirements
		WHERE buyer_id = ? AND commodity_id = ? AND dedup_hash = ?
		AND status IN ('DRAFT','ACTIVE','PARTIALLY_FULFILLED')`,
		buyerID, commodityID, dedupHash).Scan(&count)
	return count > 0, err
}

// FindRequirementsAcceptingLocation returns open requirements whose
// delivery_locations set could match `locationID` — a coarse SQL
// LIKE prefilter; the Location Filter (C4) applies the precise
// radius/membership check over these candidates.
func (r *RequirementRepository) FindRequirementsAcceptingLocation(ctx context.Context, commodityID, locationID string) ([]domain.Requirement, error) {
	rows, err := r.db.Conn().QueryContext(ctx, requirementSelect+`
		WHERE commodity_id = ? AND status IN ('ACTIVE','PARTIALLY_FULFILLED')
		AND delivery_locations LIKE ?`,
		commodityID, "%\""+locationID+"\"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequirements(rows)
}

// ListOpenByCommodity returns all open requirements for a commodity,
// used as the candidate counter-side set when C4 has no indexable
// location prefilter to apply (e.g. ad-hoc-only availability).
func (r *RequirementRepository) ListOpenByCommodity(ctx context.Context, commodityID string) ([]domain.Requirement, error) {
	rows, err := r.db.Conn().QueryContext(ctx, requirementSelect+`
		WHERE commodity_id = ? AND status IN ('ACTIVE','PARTIALLY_FULFILLED')`, commodityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequirements(rows)
}

const requirementSelect = `
	SELECT id, buyer_id, commodity_id, quantity, unit, target_price, max_price,
	       delivery_locations, accepted_quality_params, valid_until, status,
	       risk_precheck_status, ai_budget_flag, dedup_hash, idempotency_key,
	       version, created_at, updated_at
	FROM requirements`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequirement(row rowScanner) (*domain.Requirement, error) {
	var req domain.Requirement
	var locationsJSON, qualityJSON string
	var maxPrice sql.NullFloat64

	err := row.Scan(&req.ID, &req.BuyerID, &req.CommodityID, &req.Quantity, &req.Unit,
		&req.TargetPrice, &maxPrice, &locationsJSON, &qualityJSON, &req.ValidUntil,
		&req.Status, &req.RiskPrecheckStatus, &req.AIBudgetFlag, &req.DedupHash,
		&req.IdempotencyKey, &req.Version, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan requirement: %w", err)
	}
	if maxPrice.Valid {
		req.MaxPrice = &maxPrice.Float64
	}
	if err := fromJSON(locationsJSON, &req.DeliveryLocations); err != nil {
		return nil, err
	}
	if err := fromJSON(qualityJSON, &req.AcceptedQualityParams); err != nil {
		return nil, err
	}
	return &req, nil
}

func scanRequirements(rows *sql.Rows) ([]domain.Requirement, error) {
	var out []domain.Requirement
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "unique constraint")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
