package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ProofStatus string

const (
	ProofSubmitted ProofStatus = "submitted"
	ProofApproved  ProofStatus = "approved"
	ProofRejected  ProofStatus = "rejected"
)

// Proof is a client-submitted payment receipt for a manual PIX order. At
// most one proof per order can be approved.
type Proof struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrderID    snowflake.ID `gorm:"not null"`
	UploadedBy string       `gorm:"type:text;not null"`
	FilePath   string       `gorm:"type:text;not null"`
	Status     ProofStatus  `gorm:"type:text;not null"`
	ReviewedBy *string      `gorm:"type:text"`
	ReviewedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
}

func (Proof) TableName() string { return "manual_pix_proofs" }

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

const WarningOrderAlreadyPaid = "order_already_paid"
