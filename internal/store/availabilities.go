package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
)

// AvailabilityRepository persists Availability (sell-side) orders.
type AvailabilityRepository struct {
	db *database.DB
}

func (r *AvailabilityRepository) Create(ctx context.Context, tx *sql.Tx, a *domain.Availability) error {
	if a.ID == "" {
		a.ID = domain.NewID()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	a.Version = 1
	if a.Status == "" {
		a.Status = domain.AvailabilityAvailable
	}
	if a.RemainingQuantity == 0 {
		a.RemainingQuantity = a.TotalQuantity
	}

	qualityJSON, err := toJSON(a.QualityParams)
	if err != nil {
		return err
	}
	recommendedJSON, err := toJSON(a.AIRecommendedSellers)
	if err != nil {
		return err
	}

	var locationID, adhocAddress any
	var adhocLat, adhocLng any
	if a.Location.IsAdHoc() {
		adhocAddress = a.Location.Address
		adhocLat = a.Location.Lat
		adhocLng = a.Location.Lng
	} else {
		locationID = a.Location.LocationID
	}

	exec := execer(r.db, tx)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO availabilities (
			id, seller_id, commodity_id, total_quantity, remaining_quantity, base_price,
			currency, location_id, adhoc_address, adhoc_lat, adhoc_lng, quality_params,
			valid_until, status, ai_suggested_max_price, ai_recommended_sellers,
			dedup_hash, idempotency_key, version, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.SellerID, a.CommodityID, a.TotalQuantity, a.RemainingQuantity, a.BasePrice,
		a.Currency, locationID, adhocAddress, adhocLat, adhocLng, qualityJSON,
		a.ValidUntil, a.Status, a.AISuggestedMaxPrice, recommendedJSON,
		a.DedupHash, a.IdempotencyKey, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrUniqueViolation
	}
	return err
}

func (r *AvailabilityRepository) GetByID(ctx context.Context, id string) (*domain.Availability, error) {
	row := r.db.Conn().QueryRowContext(ctx, availabilitySelect+` WHERE id = ?`, id)
	return scanAvailability(row)
}

func (r *AvailabilityRepository) GetByIdempotencyKey(ctx context.Context, sellerID, key string) (*domain.Availability, error) {
	row := r.db.Conn().QueryRowContext(ctx, availabilitySelect+` WHERE seller_id = ? AND idempotency_key = ?`, sellerID, key)
	return scanAvailability(row)
}

// GetForUpdateTx re-reads an Availability inside tx, the read half of
// the C7 atomic-allocation step (spec §4.7.4, §5's "no
// read-modify-write outside a transaction" rule). SQLite takes no
// row-level lock for this read; a concurrent write between it and
// AllocateTx is detected by AllocateTx's version check.
func (r *AvailabilityRepository) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Availability, error) {
	row := tx.QueryRowContext(ctx, availabilitySelect+` WHERE id = ? `, id)
	return scanAvailability(row)
}

// AllocateTx decrements remaining_quantity and updates status with an
// optimistic version check, returning domain.ErrConflict on mismatch.
func (r *AvailabilityRepository) AllocateTx(ctx context.Context, tx *sql.Tx, id string, allocate float64, newRemaining float64, newStatus domain.AvailabilityStatus, expectedVersion int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE availabilities
		SET remaining_quantity = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		newRemaining, newStatus, time.Now().UTC(), id, expectedVersion)
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

func (r *AvailabilityRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, newStatus domain.AvailabilityStatus, expectedVersion int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE availabilities SET status = ?, version = version + 1, updated_at = ?
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

func (r *AvailabilityRepository) FindOpenOrdersSameDay(ctx context.Context, sellerID, commodityID string, date time.Time) (bool, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM availabilities
		WHERE seller_id = ? AND commodity_id = ? AND status IN ('AVAILABLE','PARTIALLY_SOLD')
		AND substr(created_at,1,10) = ?`,
		sellerID, commodityID, date.Format("2006-01-02")).Scan(&count)
	return count > 0, err
}

// ExistsByDedupHash backs C3.check_duplicate (spec §3.3.4, §4.3.3).
func (r *AvailabilityRepository) ExistsByDedupHash(ctx context.Context, sellerID, commodityID, dedupHash string) (bool, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM availabilities
		WHERE seller_id = ? AND commodity_id = ? AND dedup_hash = ?
		AND status IN ('AVAILABLE','PARTIALLY_SOLD')`,
		sellerID, commodityID, dedupHash).Scan(&count)
	return count > 0, err
}

// FindAvailabilitiesByLocationAndCommodity is the C1 query backing
// C4's Location Filter: availabilities registered at `locationID`
// plus all ad-hoc-located availabilities (precise radius filtering
// happens in internal/modules/location over this candidate set).
func (r *AvailabilityRepository) FindAvailabilitiesByLocationAndCommodity(ctx context.Context, commodityID, locationID string) ([]domain.Availability, error) {
	rows, err := r.db.Conn().QueryContext(ctx, availabilitySelect+`
		WHERE commodity_id = ? AND status IN ('AVAILABLE','PARTIALLY_SOLD')
		AND (location_id = ? OR location_id IS NULL)`,
		commodityID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAvailabilities(rows)
}

func (r *AvailabilityRepository) ListOpenByCommodity(ctx context.Context, commodityID string) ([]domain.Availability, error) {
	rows, err := r.db.Conn().QueryContext(ctx, availabilitySelect+`
		WHERE commodity_id = ? AND status IN ('AVAILABLE','PARTIALLY_SOLD')`, commodityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAvailabilities(rows)
}

const availabilitySelect = `
	SELECT id, seller_id, commodity_id, total_quantity, remaining_quantity, base_price,
	       currency, location_id, adhoc_address, adhoc_lat, adhoc_lng, quality_params,
	       valid_until, status, ai_suggested_max_price, ai_recommended_sellers,
	       dedup_hash, idempotency_key, version, created_at, updated_at
	FROM availabilities`

func scanAvailability(row rowScanner) (*domain.Availability, error) {
	var a domain.Availability
	var qualityJSON, recommendedJSON string
	var locationID, adhocAddress sql.NullString
	var adhocLat, adhocLng, aiMax sql.NullFloat64

	err := row.Scan(&a.ID, &a.SellerID, &a.CommodityID, &a.TotalQuantity, &a.RemainingQuantity,
		&a.BasePrice, &a.Currency, &locationID, &adhocAddress, &adhocLat, &adhocLng,
		&qualityJSON, &a.ValidUntil, &a.Status, &aiMax, &recommendedJSON,
		&a.DedupHash, &a.IdempotencyKey, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan availability: %w", err)
	}
	a.Location = domain.Location{
		LocationID: locationID.String,
		Address:    adhocAddress.String,
		Lat:        adhocLat.Float64,
		Lng:        adhocLng.Float64,
	}
	if aiMax.Valid {
		a.AISuggestedMaxPrice = &aiMax.Float64
	}
	if err := fromJSON(qualityJSON, &a.QualityParams); err != nil {
		return nil, err
	}
	if err := fromJSON(recommendedJSON, &a.AIRecommendedSellers); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAvailabilities(rows *sql.Rows) ([]domain.Availability, error) {
	var out []domain.Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
