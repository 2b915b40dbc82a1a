package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	SubmitProof(ctx context.Context, req SubmitProofRequest) (*ProofResponse, error)
	Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error)
	ListProofs(ctx context.Context, orderID string) ([]ProofResponse, error)
	PresignUpload(ctx context.Context, req UploadURLRequest) (*UploadURL, error)
}

// ProofStore is the object storage holding uploaded receipts.
type ProofStore interface {
	ObjectKey(orderID, filename string) string
	PresignUpload(ctx context.Context, key, contentType string) (string, time.Time, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type SubmitProofRequest struct {
	OrderID    string
	UploaderID string
	FilePath   string
}

type ReviewRequest struct {
	ProofID  string
	AdminID  string
	Decision Decision
}

type UploadURLRequest struct {
	OrderID     string
	UploaderID  string
	Filename    string
	ContentType string
}

type ProofResponse struct {
	ID         string      `json:"id"`
	OrderID    string      `json:"order_id"`
	UploadedBy string      `json:"uploaded_by"`
	FilePath   string      `json:"file_path"`
	Status     ProofStatus `json:"status"`
	ReviewedBy *string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time  `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func NewProofResponse(p *Proof) ProofResponse {
	return ProofResponse{
		ID:         p.ID.String(),
		OrderID:    p.OrderID.String(),
		UploadedBy: p.UploadedBy,
		FilePath:   p.FilePath,
		Status:     p.Status,
		ReviewedBy: p.ReviewedBy,
		ReviewedAt: p.ReviewedAt,
		CreatedAt:  p.CreatedAt,
	}
}

type ReviewResult struct {
	Proof       ProofResponse `json:"proof"`
	OrderStatus string        `json:"order_status"`
	Warnings    []string      `json:"warnings,omitempty"`
}

type UploadURL struct {
	URL       string    `json:"upload_url"`
	FilePath  string    `json:"file_path"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrProofNotFound        = errors.New("proof_not_found")
	ErrInvalidProofID       = errors.New("invalid_proof_id")
	ErrInvalidFilePath      = errors.New("invalid_file_path")
	ErrInvalidFilename      = errors.New("invalid_filename")
	ErrInvalidDecision      = errors.New("invalid_decision")
	ErrInvalidReviewer      = errors.New("invalid_reviewer")
	ErrNotManualOrder       = errors.New("not_manual_order")
	ErrOrderAlreadyPaid     = errors.New("order_already_paid")
	ErrProofFileMissing     = errors.New("proof_file_missing")
	ErrProofAlreadyReviewed = errors.New("proof_already_reviewed")
	ErrOrderAlreadyApproved = errors.New("order_proof_already_approved")
	ErrStorageNotConfigured = errors.New("proof_storage_not_configured")
)
