package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixorder/internal/manualreview/domain"
	"gorm.io/gorm"
)

const proofColumns = `id, order_id, uploaded_by, file_path, status, reviewed_by, reviewed_at, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.Proof) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO manual_pix_proofs (`+proofColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.OrderID,
		p.UploadedBy,
		p.FilePath,
		p.Status,
		p.ReviewedBy,
		p.ReviewedAt,
		p.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Proof, error) {
	var p domain.Proof
	err := db.WithContext(ctx).Raw(
		`SELECT `+proofColumns+` FROM manual_pix_proofs WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Proof, error) {
	var items []domain.Proof
	err := db.WithContext(ctx).Raw(
		`SELECT `+proofColumns+` FROM manual_pix_proofs
		 WHERE order_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Review moves a submitted proof to a decision. Proofs are decided once.
func (r *repo) Review(ctx context.Context, db *gorm.DB, id snowflake.ID, to domain.ProofStatus, reviewerID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE manual_pix_proofs
		 SET status = ?, reviewed_by = ?, reviewed_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		reviewerID,
		now,
		id,
		domain.ProofSubmitted,
	)
	return res.RowsAffected, res.Error
}
