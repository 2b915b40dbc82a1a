package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixorder/internal/clock"
	"github.com/smallbiznis/pixorder/internal/config"
	"github.com/smallbiznis/pixorder/internal/entitlement"
	"github.com/smallbiznis/pixorder/internal/manualreview/domain"
	"github.com/smallbiznis/pixorder/internal/manualreview/repository"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	orderrepo "github.com/smallbiznis/pixorder/internal/order/repository"
	orderservice "github.com/smallbiznis/pixorder/internal/order/service"
	"github.com/smallbiznis/pixorder/internal/payment/adapters"
	providerrepo "github.com/smallbiznis/pixorder/internal/paymentprovider/repository"
	providerservice "github.com/smallbiznis/pixorder/internal/paymentprovider/service"
	pricingrepo "github.com/smallbiznis/pixorder/internal/pricing/repository"
	pricingservice "github.com/smallbiznis/pixorder/internal/pricing/service"
	"github.com/smallbiznis/pixorder/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type countingApplier struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (a *countingApplier) Apply(ctx context.Context, grant entitlement.Grant) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail {
		return entitlement.ErrApplyFailed
	}
	return nil
}

type fakeStore struct {
	objects map[string]bool
}

func (s *fakeStore) ObjectKey(orderID, filename string) string {
	return "proofs/" + orderID + "/" + filename
}

func (s *fakeStore) PresignUpload(ctx context.Context, key, contentType string) (string, time.Time, error) {
	return "https://bucket.example.com/" + key + "?sig=1", testNow.Add(15 * time.Minute), nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.objects[key], nil
}

type fixture struct {
	svc     domain.Service
	db      *gorm.DB
	node    *snowflake.Node
	applier *countingApplier
}

func newFixture(t *testing.T, store domain.ProofStore) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t, 1)
	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()
	applier := &countingApplier{}

	orderSvc := orderservice.New(orderservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  orderrepo.Provide(),
		PricingSvc: pricingservice.New(pricingservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: pricingrepo.Provide(),
		}),
		ProviderSvc: providerservice.New(providerservice.Params{
			DB: db, Log: log, Clock: clk, Repo: providerrepo.Provide(), Source: config.StaticPaymentSource{},
		}),
		Gateways:    adapters.NewRegistry(),
		Entitlement: applier,
	})

	svc := New(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		OrderSvc: orderSvc,
		Store:    store,
	})
	return &fixture{svc: svc, db: db, node: node, applier: applier}
}

func (f *fixture) insertOrder(t *testing.T, provider string, status orderdomain.Status) snowflake.ID {
	t.Helper()
	order := &orderdomain.Order{
		ID:            f.node.Generate(),
		ClientID:      "client-1",
		ProductKey:    "monthly_plan",
		AmountCents:   9990,
		Currency:      "BRL",
		Status:        status,
		Provider:      provider,
		PricingRuleID: 1,
		PricingScope:  "global",
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	require.NoError(t, orderrepo.Provide().Insert(context.Background(), f.db, order))
	return order.ID
}

func (f *fixture) submit(t *testing.T, orderID snowflake.ID, path string) string {
	t.Helper()
	proof, err := f.svc.SubmitProof(context.Background(), domain.SubmitProofRequest{
		OrderID:    orderID.String(),
		UploaderID: "client-1",
		FilePath:   path,
	})
	require.NoError(t, err)
	return proof.ID
}

func (f *fixture) review(proofID string, decision domain.Decision) (*domain.ReviewResult, error) {
	return f.svc.Review(context.Background(), domain.ReviewRequest{
		ProofID:  proofID,
		AdminID:  "admin-1",
		Decision: decision,
	})
}

func TestSubmitProofKeepsOrderStatus(t *testing.T) {
	f := newFixture(t, nil)
	orderID := f.insertOrder(t, "manual", orderdomain.StatusManualReview)

	f.submit(t, orderID, "proofs/receipt.png")
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM manual_pix_proofs WHERE order_id = ? AND status = 'submitted'`, 1, orderID)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE id = ? AND status = 'manual_review'`, 1, orderID)
}

func TestSubmitProofValidation(t *testing.T) {
	f := newFixture(t, nil)
	manualID := f.insertOrder(t, "manual", orderdomain.StatusManualReview)
	automatedID := f.insertOrder(t, "mercadopago", orderdomain.StatusPending)
	paidID := f.insertOrder(t, "manual", orderdomain.StatusManualReview)
	require.NoError(t, f.db.Exec(`UPDATE orders SET status = 'paid', paid_at = ? WHERE id = ?`, testNow, paidID).Error)

	tests := []struct {
		name    string
		req     domain.SubmitProofRequest
		wantErr error
	}{
		{"other client", domain.SubmitProofRequest{OrderID: manualID.String(), UploaderID: "client-2", FilePath: "a.png"}, orderdomain.ErrForbidden},
		{"automated order", domain.SubmitProofRequest{OrderID: automatedID.String(), UploaderID: "client-1", FilePath: "a.png"}, domain.ErrNotManualOrder},
		{"paid order", domain.SubmitProofRequest{OrderID: paidID.String(), UploaderID: "client-1", FilePath: "a.png"}, domain.ErrOrderAlreadyPaid},
		{"path traversal", domain.SubmitProofRequest{OrderID: manualID.String(), UploaderID: "client-1", FilePath: "../etc/passwd"}, domain.ErrInvalidFilePath},
		{"unknown order", domain.SubmitProofRequest{OrderID: f.node.Generate().String(), UploaderID: "client-1", FilePath: "a.png"}, orderdomain.ErrOrderNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SubmitProof(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubmitProofChecksStoredObject(t *testing.T) {
	store := &fakeStore{objects: map[string]bool{}}
	f := newFixture(t, store)
	orderID := f.insertOrder(t, "manual", orderdomain.StatusManualReview)
	key := "proofs/" + orderID.String() + "/receipt.png"

	_, err := f.svc.SubmitProof(context.Background(), domain.SubmitProofRequest{
		OrderID: orderID.String(), UploaderID: "client-1", FilePath: key,
	})
	assert.ErrorIs(t, err, domain.ErrProofFileMissing)

	_, err = f.svc.SubmitProof(context.Background(), domain.SubmitProofRequest{
		OrderID: orderID.String(), UploaderID: "client-1", FilePath: "proofs/other/receipt.png",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFilePath)

	store.objects[key] = true
	f.submit(t, orderID, key)
}

func TestRejectThenApproveAnotherProof(t *testing.T) {
	f := newFixture(t, nil)
	orderID := f.insertOrder(t, "manual", orderdomain.StatusManualReview)
	first := f.submit(t, orderID, "proofs/first.png")
	second := f.submit(t, orderID, "proofs/second.png")

	res, err := f.review(first, domain.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, domain.ProofRejected, res.Proof.Status)
	require.NotNil(t, res.Proof.ReviewedBy)
	assert.Equal(t, "admin-1", *res.Proof.ReviewedBy)
	assert.Equal(t, string(orderdomain.StatusManualReview), res.OrderStatus)
	assert.Empty(t, res.Warnings)

	res, err = f.review(second, domain.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.ProofApproved, res.Proof.Status)
	assert.Equal(t, string(orderdomain.StatusPaid), res.OrderStatus)
	assert.Equal(t, 1, f.applier.calls)

	_, err = f.review(first, domain.DecisionApprove)
	assert.ErrorIs(t, err, domain.ErrProofAlreadyReviewed)
}

func TestApproveTwiceAppliesEffectsOnce(t *testing.T) {
	f := newFixture(t, nil)
	orderID := f.insertOrder(t, "manual", orderdomain.StatusManualReview)
	proofID := f.submit(t, orderID, "proofs/receipt.png")

	_, err := f.review(proofID, domain.DecisionApprove)
	require.NoError(t, err)
	res, err := f.review(proofID, domain.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, string(orderdomain.StatusPaid), res.OrderStatus)
	assert.Equal(t, 1, f.applier.calls)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM manual_pix_proofs WHERE status = 'approved'`, 1)
}

func TestApproveRetriesFailedEffects(t *testing.T) {
	f := newFixture(t, nil)
	f.applier.fail = true
	orderID := f.insertOrder(t, "manual", orderdomain.StatusManualReview)
	proofID := f.submit(t, orderID, "proofs/receipt.png")

	_, err := f.review(proofID, domain.DecisionApprove)
	require.NoError(t, err)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'paid' AND entitlements_applied_at IS NULL`, 1)

	f.applier.fail = false
	_, err = f.review(proofID, domain.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, 2, f.applier.calls)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE entitlements_applied_at IS NOT NULL`, 1)
}

func TestSecondProofCannotBeApproved(t *testing.T) {
	f := newFixture(t, nil)
	orderID := f.insertOrder(t, "manual", orderdomain.StatusManualReview)
	first := f.submit(t, orderID, "proofs/first.png")
	second := f.submit(t, orderID, "proofs/second.png")

	_, err := f.review(first, domain.DecisionApprove)
	require.NoError(t, err)
	_, err = f.review(second, domain.DecisionApprove)
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyApproved)

	res, err := f.review(second, domain.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.WarningOrderAlreadyPaid}, res.Warnings)
}

func TestReviewRejectsNonManualOrder(t *testing.T) {
	f := newFixture(t, nil)
	orderID := f.insertOrder(t, "mercadopago", orderdomain.StatusPending)
	proofID := f.node.Generate()
	require.NoError(t, repository.Provide().Insert(context.Background(), f.db, &domain.Proof{
		ID:         proofID,
		OrderID:    orderID,
		UploadedBy: "client-1",
		FilePath:   "proofs/x.png",
		Status:     domain.ProofSubmitted,
		CreatedAt:  testNow,
	}))

	_, err := f.review(proofID.String(), domain.DecisionApprove)
	assert.ErrorIs(t, err, domain.ErrNotManualOrder)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'paid'`, 0)
}

func TestReviewValidation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.review("nope", domain.DecisionApprove)
	assert.ErrorIs(t, err, domain.ErrInvalidProofID)

	_, err = f.review(f.node.Generate().String(), domain.DecisionApprove)
	assert.ErrorIs(t, err, domain.ErrProofNotFound)

	_, err = f.review(f.node.Generate().String(), domain.Decision("maybe"))
	assert.ErrorIs(t, err, domain.ErrInvalidDecision)
}

func TestListProofsAndPresign(t *testing.T) {
	f := newFixture(t, &fakeStore{objects: map[string]bool{}})
	orderID := f.insertOrder(t, "manual", orderdomain.StatusManualReview)

	upload, err := f.svc.PresignUpload(context.Background(), domain.UploadURLRequest{
		OrderID:    orderID.String(),
		UploaderID: "client-1",
		Filename:   "receipt.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "proofs/"+orderID.String()+"/receipt.png", upload.FilePath)
	assert.Contains(t, upload.URL, "sig=1")

	_, err = f.svc.PresignUpload(context.Background(), domain.UploadURLRequest{
		OrderID: orderID.String(), UploaderID: "client-1", Filename: "../x.png",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFilename)

	proofs, err := f.svc.ListProofs(context.Background(), orderID.String())
	require.NoError(t, err)
	assert.Empty(t, proofs)
}

func TestPresignWithoutStorage(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.PresignUpload(context.Background(), domain.UploadURLRequest{OrderID: "1", UploaderID: "c", Filename: "a.png"})
	assert.ErrorIs(t, err, domain.ErrStorageNotConfigured)
}
