package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, proof *Proof) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Proof, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Proof, error)
	Review(ctx context.Context, db *gorm.DB, id snowflake.ID, to ProofStatus, reviewerID string, now time.Time) (int64, error)
}
