package service

import (
	"context"
	"path"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixorder/internal/clock"
	"github.com/smallbiznis/pixorder/internal/manualreview/domain"
	"github.com/smallbiznis/pixorder/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	providerdomain "github.com/smallbiznis/pixorder/internal/paymentprovider/domain"
	"github.com/smallbiznis/pixorder/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	OrderSvc orderdomain.Service
	Store    domain.ProofStore `optional:"true"`
	Metrics  *metrics.Metrics  `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	orderSvc orderdomain.Service
	store    domain.ProofStore
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("manualreview.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		orderSvc: p.OrderSvc,
		store:    p.Store,
		metrics:  p.Metrics,
	}
}

// SubmitProof records a receipt for the caller's own manual order. The order
// status does not change until an admin reviews it.
func (s *Service) SubmitProof(ctx context.Context, req domain.SubmitProofRequest) (*domain.ProofResponse, error) {
	uploaderID := strings.TrimSpace(req.UploaderID)
	if uploaderID == "" {
		return nil, orderdomain.ErrForbidden
	}
	order, err := s.loadManualOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(uploaderID) {
		return nil, orderdomain.ErrForbidden
	}
	if order.Status == orderdomain.StatusPaid {
		return nil, domain.ErrOrderAlreadyPaid
	}

	filePath, err := cleanFilePath(req.FilePath)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if !strings.HasPrefix(filePath, proofPrefix(order.ID)) {
			return nil, domain.ErrInvalidFilePath
		}
		exists, err := s.store.Exists(ctx, filePath)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.ErrProofFileMissing
		}
	}

	proof := &domain.Proof{
		ID:         s.genID.Generate(),
		OrderID:    order.ID,
		UploadedBy: uploaderID,
		FilePath:   filePath,
		Status:     domain.ProofSubmitted,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, proof); err != nil {
		return nil, err
	}

	s.log.Info("manual pix proof submitted",
		zap.String("order_id", order.ID.String()),
		zap.String("proof_id", proof.ID.String()),
	)
	resp := domain.NewProofResponse(proof)
	return &resp, nil
}

// Review applies an admin decision. Approving marks the order paid through
// the order manager; an approved proof can be re-approved to retry that.
func (s *Service) Review(ctx context.Context, req domain.ReviewRequest) (*domain.ReviewResult, error) {
	adminID := strings.TrimSpace(req.AdminID)
	if adminID == "" {
		return nil, domain.ErrInvalidReviewer
	}
	if !req.Decision.Valid() {
		return nil, domain.ErrInvalidDecision
	}
	proofID, err := snowflake.ParseString(strings.TrimSpace(req.ProofID))
	if err != nil || proofID <= 0 {
		return nil, domain.ErrInvalidProofID
	}

	proof, err := s.repo.FindByID(ctx, s.db, proofID)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, domain.ErrProofNotFound
	}
	order, err := s.orderSvc.Load(ctx, proof.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Provider != string(providerdomain.ProviderManual) {
		return nil, domain.ErrNotManualOrder
	}

	if req.Decision == domain.DecisionReject {
		return s.reject(ctx, proof, order, adminID)
	}
	return s.approve(ctx, proof, order, adminID)
}

func (s *Service) reject(ctx context.Context, proof *domain.Proof, order *orderdomain.Order, adminID string) (*domain.ReviewResult, error) {
	rows, err := s.repo.Review(ctx, s.db, proof.ID, domain.ProofRejected, adminID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	proof, err = s.reload(ctx, proof.ID)
	if err != nil {
		return nil, err
	}
	if rows == 0 && proof.Status != domain.ProofRejected {
		return nil, domain.ErrProofAlreadyReviewed
	}

	result := &domain.ReviewResult{
		Proof:       domain.NewProofResponse(proof),
		OrderStatus: string(order.Status),
	}
	if order.Status == orderdomain.StatusPaid {
		result.Warnings = append(result.Warnings, domain.WarningOrderAlreadyPaid)
	}
	if rows > 0 {
		s.metrics.RecordProofReview(ctx, string(domain.ProofRejected))
		s.log.Info("manual pix proof rejected",
			zap.String("order_id", order.ID.String()),
			zap.String("proof_id", proof.ID.String()),
			zap.String("reviewer_id", adminID),
		)
	}
	return result, nil
}

func (s *Service) approve(ctx context.Context, proof *domain.Proof, order *orderdomain.Order, adminID string) (*domain.ReviewResult, error) {
	switch proof.Status {
	case domain.ProofRejected:
		return nil, domain.ErrProofAlreadyReviewed
	case domain.ProofSubmitted:
		rows, err := s.repo.Review(ctx, s.db, proof.ID, domain.ProofApproved, adminID, s.clock.Now())
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				return nil, domain.ErrOrderAlreadyApproved
			}
			return nil, err
		}
		if rows > 0 {
			s.metrics.RecordProofReview(ctx, string(domain.ProofApproved))
			s.log.Info("manual pix proof approved",
				zap.String("order_id", order.ID.String()),
				zap.String("proof_id", proof.ID.String()),
				zap.String("reviewer_id", adminID),
			)
		}
		proof, err = s.reload(ctx, proof.ID)
		if err != nil {
			return nil, err
		}
		if proof.Status != domain.ProofApproved {
			return nil, domain.ErrProofAlreadyReviewed
		}
	}

	paid, err := s.orderSvc.MarkPaid(ctx, order.ID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return &domain.ReviewResult{
		Proof:       domain.NewProofResponse(proof),
		OrderStatus: string(paid.Order.Status),
	}, nil
}

func (s *Service) ListProofs(ctx context.Context, orderID string) ([]domain.ProofResponse, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(orderID))
	if err != nil || id <= 0 {
		return nil, orderdomain.ErrInvalidOrderID
	}
	if _, err := s.orderSvc.Load(ctx, id); err != nil {
		return nil, err
	}

	items, err := s.repo.ListByOrder(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.ProofResponse, 0, len(items))
	for i := range items {
		resp = append(resp, domain.NewProofResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) PresignUpload(ctx context.Context, req domain.UploadURLRequest) (*domain.UploadURL, error) {
	if s.store == nil {
		return nil, domain.ErrStorageNotConfigured
	}
	order, err := s.loadManualOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(strings.TrimSpace(req.UploaderID)) {
		return nil, orderdomain.ErrForbidden
	}
	if order.Status == orderdomain.StatusPaid {
		return nil, domain.ErrOrderAlreadyPaid
	}

	filename := strings.TrimSpace(req.Filename)
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return nil, domain.ErrInvalidFilename
	}

	key := s.store.ObjectKey(order.ID.String(), filename)
	url, expiresAt, err := s.store.PresignUpload(ctx, key, strings.TrimSpace(req.ContentType))
	if err != nil {
		return nil, err
	}
	return &domain.UploadURL{URL: url, FilePath: key, ExpiresAt: expiresAt}, nil
}

func (s *Service) loadManualOrder(ctx context.Context, orderID string) (*orderdomain.Order, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(orderID))
	if err != nil || id <= 0 {
		return nil, orderdomain.ErrInvalidOrderID
	}
	order, err := s.orderSvc.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Provider != string(providerdomain.ProviderManual) {
		return nil, domain.ErrNotManualOrder
	}
	return order, nil
}

func (s *Service) reload(ctx context.Context, id snowflake.ID) (*domain.Proof, error) {
	proof, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, domain.ErrProofNotFound
	}
	return proof, nil
}

func proofPrefix(orderID snowflake.ID) string {
	return "proofs/" + orderID.String() + "/"
}

func cleanFilePath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "..") || strings.HasPrefix(raw, "/") {
		return "", domain.ErrInvalidFilePath
	}
	cleaned := path.Clean(raw)
	if cleaned == "." || len(cleaned) > 512 {
		return "", domain.ErrInvalidFilePath
	}
	return cleaned, nil
}
