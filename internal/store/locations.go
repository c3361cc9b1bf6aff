package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
)

// LocationRepository resolves registered location ids to coordinates
// for the Location Filter (C4) and exposes lookup for server-side
// validation of a Requirement/Availability's registered delivery
// locations.
type LocationRepository struct {
	db *database.DB
}

func (r *LocationRepository) Create(ctx context.Context, tx *sql.Tx, loc *domain.Location) error {
	if loc.LocationID == "" {
		loc.LocationID = domain.NewID()
	}
	exec := execer(r.db, tx)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO locations (id, address, lat, lng, pincode, region) VALUES (?,?,?,?,?,?)`,
		loc.LocationID, loc.Address, loc.Lat, loc.Lng, loc.Pincode, loc.Region)
	return err
}

func (r *LocationRepository) GetByID(ctx context.Context, id string) (*domain.Location, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, address, lat, lng, pincode, region FROM locations WHERE id = ?`, id)
	var loc domain.Location
	err := row.Scan(&loc.LocationID, &loc.Address, &loc.Lat, &loc.Lng, &loc.Pincode, &loc.Region)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan location: %w", err)
	}
	return &loc, nil
}

// GetByIDs resolves a batch of registered location ids in one query.
func (r *LocationRepository) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Location, error) {
	out := map[string]domain.Location{}
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, address, lat, lng, pincode, region FROM locations WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.LocationID, &loc.Address, &loc.Lat, &loc.Lng, &loc.Pincode, &loc.Region); err != nil {
			return nil, err
		}
		out[loc.LocationID] = loc
	}
	return out, rows.Err()
}
