package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
)

// PartnerRepository persists Partner entities.
type PartnerRepository struct {
	db *database.DB
}

func (r *PartnerRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Partner) error {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Version = 1

	exec := execer(r.db, tx)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO partners (
			id, legal_name, partner_type, primary_country, tax_id, national_id,
			mobile, email, rating, payment_performance, delivery_performance,
			credit_limit, credit_used, corporate_group_id, parent_partner_id,
			status, version, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.LegalName, p.PartnerType, p.PrimaryCountry, p.TaxID, p.NationalID,
		p.Mobile, p.Email, p.Rating, p.PaymentPerformance, p.DeliveryPerformance,
		p.CreditLimit, p.CreditUsed, p.CorporateGroupID, p.ParentPartnerID,
		p.Status, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *PartnerRepository) GetByID(ctx context.Context, id string) (*domain.Partner, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, legal_name, partner_type, primary_country, tax_id, national_id,
		       mobile, email, rating, payment_performance, delivery_performance,
		       credit_limit, credit_used, corporate_group_id, parent_partner_id,
		       status, version, created_at, updated_at
		FROM partners WHERE id = ?`, id)
	return scanPartner(row)
}

// UpdateStatusTx updates a Partner's status with an optimistic
// version check, returning domain.ErrConflict on mismatch.
func (r *PartnerRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, newStatus domain.PartnerStatus, expectedVersion int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE partners SET status = ?, version = version + 1, updated_at = ?
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

// PartnerLinks is the result of FindPartnerLinks: the partners that
// share a national_id, tax_id, mobile or corporate email domain with
// `p`, excluding `p` itself — the C1 query backing C3's
// check_party_links (spec §4.1, §6.4).
type PartnerLinks struct {
	SameNationalID []string
	SameTaxID      []string
	SameMobile     []string
	SameEmailDomain []string
}

func (r *PartnerRepository) FindPartnerLinks(ctx context.Context, p *domain.Partner) (*PartnerLinks, error) {
	links := &PartnerLinks{}

	if p.NationalID != "" {
		ids, err := r.queryIDs(ctx, `SELECT id FROM partners WHERE national_id = ? AND id != ?`, p.NationalID, p.ID)
		if err != nil {
			return nil, err
		}
		links.SameNationalID = ids
	}
	if p.TaxID != "" {
		ids, err := r.queryIDs(ctx, `SELECT id FROM partners WHERE tax_id = ? AND id != ?`, p.TaxID, p.ID)
		if err != nil {
			return nil, err
		}
		links.SameTaxID = ids
	}
	if p.Mobile != "" {
		ids, err := r.queryIDs(ctx, `SELECT id FROM partners WHERE mobile = ? AND id != ?`, p.Mobile, p.ID)
		if err != nil {
			return nil, err
		}
		links.SameMobile = ids
	}
	if dom := emailDomain(p.Email); dom != "" {
		ids, err := r.queryIDs(ctx, `SELECT id FROM partners WHERE id != ? AND email LIKE ?`, p.ID, "%@"+dom)
		if err != nil {
			return nil, err
		}
		links.SameEmailDomain = ids
	}
	return links, nil
}

func emailDomain(email string) string {
	at := -1
	for i, r := range email {
		if r == '@' {
			at = i
		}
	}
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

func (r *PartnerRepository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPartner(row *sql.Row) (*domain.Partner, error) {
	var p domain.Partner
	err := row.Scan(
		&p.ID, &p.LegalName, &p.PartnerType, &p.PrimaryCountry, &p.TaxID, &p.NationalID,
		&p.Mobile, &p.Email, &p.Rating, &p.PaymentPerformance, &p.DeliveryPerformance,
		&p.CreditLimit, &p.CreditUsed, &p.CorporateGroupID, &p.ParentPartnerID,
		&p.Status, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan partner: %w", err)
	}
	return &p, nil
}
