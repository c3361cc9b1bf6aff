package store

import (
	"context"
	"database/sql"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
)

// CommodityRepository persists Commodity reference data.
type CommodityRepository struct {
	db *database.DB
}

func (r *CommodityRepository) GetByID(ctx context.Context, id string) (*domain.Commodity, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, name, category, export_regulations, import_regulations,
		       supported_currencies, quality_standards, seasonal_commodity,
		       harvest_season, shelf_life_days
		FROM commodities WHERE id = ?`, id)

	var c domain.Commodity
	var exportJSON, importJSON, currenciesJSON, qualityJSON string
	var harvestSeason sql.NullString
	var shelfLife sql.NullInt64

	err := row.Scan(&c.ID, &c.Name, &c.Category, &exportJSON, &importJSON,
		&currenciesJSON, &qualityJSON, &c.SeasonalCommodity, &harvestSeason, &shelfLife)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := fromJSON(exportJSON, &c.ExportRegulations); err != nil {
		return nil, err
	}
	if err := fromJSON(importJSON, &c.ImportRegulations); err != nil {
		return nil, err
	}
	if err := fromJSON(currenciesJSON, &c.SupportedCurrencies); err != nil {
		return nil, err
	}
	if err := fromJSON(qualityJSON, &c.QualityStandards); err != nil {
		return nil, err
	}
	c.HarvestSeason = harvestSeason.String
	if shelfLife.Valid {
		c.ShelfLifeDays = int(shelfLife.Int64)
	}
	return &c, nil
}

func (r *CommodityRepository) Create(ctx context.Context, tx *sql.Tx, c *domain.Commodity) error {
	if c.ID == "" {
		c.ID = domain.NewID()
	}
	exportJSON, err := toJSON(c.ExportRegulations)
	if err != nil {
		return err
	}
	importJSON, err := toJSON(c.ImportRegulations)
	if err != nil {
		return err
	}
	currenciesJSON, err := toJSON(c.SupportedCurrencies)
	if err != nil {
		return err
	}
	qualityJSON, err := toJSON(c.QualityStandards)
	if err != nil {
		return err
	}

	exec := execer(r.db, tx)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO commodities (id, name, category, export_regulations, import_regulations,
			supported_currencies, quality_standards, seasonal_commodity, harvest_season, shelf_life_days)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Category, exportJSON, importJSON, currenciesJSON, qualityJSON,
		c.SeasonalCommodity, c.HarvestSeason, c.ShelfLifeDays,
	)
	return err
}
