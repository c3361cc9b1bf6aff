package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/domain"
)

// DocumentRepository persists PartnerDocument records.
type DocumentRepository struct {
	db *database.DB
}

func (r *DocumentRepository) Create(ctx context.Context, tx *sql.Tx, d *domain.PartnerDocument) error {
	if d.ID == "" {
		d.ID = domain.NewID()
	}
	d.CreatedAt = time.Now().UTC()

	ocrJSON, err := toJSON(d.OCRData)
	if err != nil {
		return err
	}

	exec := execer(r.db, tx)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO partner_documents (id, partner_id, document_type, ocr_data, issue_date, expiry_date, verified, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.PartnerID, d.DocumentType, ocrJSON, nullableTime(d.IssueDate), nullableTime(d.ExpiryDate), d.Verified, d.CreatedAt,
	)
	return err
}

// ListByPartner returns all documents belonging to a partner — the
// Capability Resolver (C2) reads these as read-only inputs.
func (r *DocumentRepository) ListByPartner(ctx context.Context, partnerID string) ([]domain.PartnerDocument, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, partner_id, document_type, ocr_data, issue_date, expiry_date, verified, created_at
		FROM partner_documents WHERE partner_id = ?`, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.PartnerDocument
	for rows.Next() {
		var d domain.PartnerDocument
		var ocrJSON string
		var issueDate, expiryDate sql.NullTime
		if err := rows.Scan(&d.ID, &d.PartnerID, &d.DocumentType, &ocrJSON, &issueDate, &expiryDate, &d.Verified, &d.CreatedAt); err != nil {
			return nil, err
		}
		if err := fromJSON(ocrJSON, &d.OCRData); err != nil {
			return nil, err
		}
		if issueDate.Valid {
			d.IssueDate = &issueDate.Time
		}
		if expiryDate.Valid {
			d.ExpiryDate = &expiryDate.Time
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

type execerIface interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execer(db *database.DB, tx *sql.Tx) execerIface {
	if tx != nil {
		return tx
	}
	return db.Conn()
}
