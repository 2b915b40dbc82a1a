package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixorder/internal/clock"
	"github.com/smallbiznis/pixorder/internal/config"
	"github.com/smallbiznis/pixorder/internal/entitlement"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	"github.com/smallbiznis/pixorder/internal/order/repository"
	"github.com/smallbiznis/pixorder/internal/payment/adapters"
	"github.com/smallbiznis/pixorder/internal/payment/adapters/mercadopago"
	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
	providerrepo "github.com/smallbiznis/pixorder/internal/paymentprovider/repository"
	providerservice "github.com/smallbiznis/pixorder/internal/paymentprovider/service"
	pricingdomain "github.com/smallbiznis/pixorder/internal/pricing/domain"
	pricingrepo "github.com/smallbiznis/pixorder/internal/pricing/repository"
	pricingservice "github.com/smallbiznis/pixorder/internal/pricing/service"
	"github.com/smallbiznis/pixorder/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type countingApplier struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (a *countingApplier) Apply(ctx context.Context, grant entitlement.Grant) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failures > 0 {
		a.failures--
		return entitlement.ErrApplyFailed
	}
	return nil
}

func (a *countingApplier) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type mockGuard struct {
	mock.Mock
}

func (m *mockGuard) AllowClient(ctx context.Context, clientID string) (bool, error) {
	args := m.Called(ctx, clientID)
	return args.Bool(0), args.Error(1)
}

func (m *mockGuard) TryLock(ctx context.Context, clientID, productKey string) (string, bool, error) {
	args := m.Called(ctx, clientID, productKey)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockGuard) Release(ctx context.Context, clientID, productKey, token string) error {
	args := m.Called(ctx, clientID, productKey, token)
	return args.Error(0)
}

// fakeMercadoPago serves the two payment endpoints the gateway calls.
type fakeMercadoPago struct {
	server     *httptest.Server
	status     atomic.Value
	failCreate atomic.Bool
	creates    atomic.Int32
}

func newFakeMercadoPago(t *testing.T) *fakeMercadoPago {
	t.Helper()
	mp := &fakeMercadoPago{}
	mp.status.Store("pending")
	mp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payments":
			mp.creates.Add(1)
			if mp.failCreate.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"message":"internal_error"}`))
				return
			}
			_, _ = fmt.Fprintf(w, `{"id":777,"status":"pending","transaction_amount":99.9,"currency_id":"BRL","external_reference":%q,
				"point_of_interaction":{"transaction_data":{"qr_code":"00020126-pix","qr_code_base64":"iVBORw0KGgo="}}}`,
				r.Header.Get("X-Idempotency-Key"))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payments/777":
			_, _ = fmt.Fprintf(w, `{"id":777,"status":%q,"transaction_amount":99.9,"date_approved":"2026-03-01T09:10:00.000-03:00"}`,
				mp.status.Load().(string))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(mp.server.Close)
	return mp
}

type fixture struct {
	svc     orderdomain.Service
	db      *gorm.DB
	clock   *clock.FakeClock
	applier *countingApplier
	node    *snowflake.Node
	mp      *fakeMercadoPago
}

func newFixture(t *testing.T, env config.PaymentEnv, guard orderdomain.CreateGuard) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t, 1)
	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()
	mp := newFakeMercadoPago(t)
	applier := &countingApplier{}

	pricingSvc := pricingservice.New(pricingservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  pricingrepo.Provide(),
	})
	providerSvc := providerservice.New(providerservice.Params{
		DB:     db,
		Log:    log,
		Clock:  clk,
		Repo:   providerrepo.Provide(),
		Source: config.StaticPaymentSource(env),
	})

	svc := New(Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Cfg: config.Config{
			PublicBaseURL: "https://pay.example.com",
			MercadoPago:   config.MercadoPagoConfig{BaseURL: mp.server.URL, Timeout: 2 * time.Second},
		},
		Repo:        repository.Provide(),
		PricingSvc:  pricingSvc,
		ProviderSvc: providerSvc,
		Gateways:    adapters.NewRegistry(mercadopago.NewFactory()),
		Entitlement: applier,
		Guard:       guard,
	})

	err := db.Exec(
		`INSERT INTO pricing_rules (id, scope, owner_id, client_id, product_key, price_cents, currency, active, created_at, updated_at)
		 VALUES (?, 'global', NULL, NULL, 'monthly_plan', 9990, 'BRL', true, ?, ?)`,
		node.Generate(), testNow, testNow,
	).Error
	require.NoError(t, err)

	return &fixture{svc: svc, db: db, clock: clk, applier: applier, node: node, mp: mp}
}

func (f *fixture) useMercadoPago(t *testing.T) {
	t.Helper()
	require.NoError(t, f.db.Exec(`UPDATE payment_provider_settings SET active_provider = 'mercadopago' WHERE id = 1`).Error)
}

func (f *fixture) insertOrder(t *testing.T, status orderdomain.Status, provider string) snowflake.ID {
	t.Helper()
	expiresAt := testNow.Add(30 * time.Minute)
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
	if provider == "mercadopago" {
		order.ExpiresAt = &expiresAt
	}
	require.NoError(t, repository.Provide().Insert(context.Background(), f.db, order))
	return order.ID
}

func (f *fixture) status(t *testing.T, id snowflake.ID) orderdomain.Status {
	t.Helper()
	order, err := f.svc.Load(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func createRequest() orderdomain.CreateRequest {
	return orderdomain.CreateRequest{
		ClientID:   "client-1",
		ProductKey: "monthly_plan",
		Payer:      orderdomain.Payer{Email: "client@example.com", Name: "Ana"},
	}
}

func TestCreateDowngradesToManualWithoutAccessToken(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{ManualPixCopyPaste: "00020126-manual", ManualPixKey: "pix@example.com"}, nil)
	f.useMercadoPago(t)

	res, err := f.svc.Create(context.Background(), createRequest())
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusManualReview, res.Status)
	assert.Equal(t, "manual", res.Provider)
	assert.Nil(t, res.ExpiresAt)
	require.NotNil(t, res.Manual)
	assert.Equal(t, "00020126-manual", res.Manual.CopyPaste)
	assert.Equal(t, "pix@example.com", res.Manual.PixKey)
	assert.Equal(t, int64(9990), res.AmountCents)
	assert.Equal(t, int32(0), f.mp.creates.Load())
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'manual_review' AND expires_at IS NULL`, 1)
}

func TestCreateManualRequiresCopyPaste(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{}, nil)

	_, err := f.svc.Create(context.Background(), createRequest())
	assert.ErrorIs(t, err, orderdomain.ErrManualPixNotConfigured)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders`, 0)
}

func TestCreateWithoutPricingRule(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{ManualPixCopyPaste: "x"}, nil)

	req := createRequest()
	req.ProductKey = "unknown_product"
	_, err := f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, pricingdomain.ErrNoPricingRuleFound)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders`, 0)
}

func TestCreateAutomatedPixPayment(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{MercadoPagoAccessToken: "APP_USR-1"}, nil)
	f.useMercadoPago(t)

	res, err := f.svc.Create(context.Background(), createRequest())
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, res.Status)
	assert.Equal(t, "mercadopago", res.Provider)
	require.NotNil(t, res.PixCopyPaste)
	assert.Equal(t, "00020126-pix", *res.PixCopyPaste)
	require.NotNil(t, res.PixQRImageURL)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", *res.PixQRImageURL)
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, res.ExpiresAt.Equal(testNow.Add(30*time.Minute)))

	testutil.AssertCount(t, f.db,
		`SELECT COUNT(*) FROM orders WHERE id = ? AND status = 'pending' AND provider_reference = '777'`, 1, res.OrderID)
}

func TestCreateWithoutPayerEmailFallsBackToManual(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{MercadoPagoAccessToken: "APP_USR-1", ManualPixCopyPaste: "00020126-manual"}, nil)
	f.useMercadoPago(t)

	req := createRequest()
	req.Payer.Email = ""
	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusManualReview, res.Status)
	assert.Equal(t, "manual", res.Provider)
	require.NotNil(t, res.Manual)
	assert.Equal(t, "00020126-manual", res.Manual.CopyPaste)
	assert.Equal(t, int32(0), f.mp.creates.Load())
}

func TestCreateProviderFailureCancelsOrder(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{MercadoPagoAccessToken: "APP_USR-1"}, nil)
	f.useMercadoPago(t)
	f.mp.failCreate.Store(true)

	_, err := f.svc.Create(context.Background(), createRequest())
	assert.ErrorIs(t, err, orderdomain.ErrProviderFailure)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'canceled' AND failure_reason = 'provider_error'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'pending'`, 0)
}

func TestCreateCancelsOrderWhenPaymentCannotBeStored(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{MercadoPagoAccessToken: "APP_USR-1"}, nil)
	f.useMercadoPago(t)
	require.NoError(t, f.db.Exec(
		`CREATE TRIGGER reject_provider_reference BEFORE UPDATE OF provider_reference ON orders
		 BEGIN SELECT RAISE(ABORT, 'attach failed'); END`,
	).Error)

	_, err := f.svc.Create(context.Background(), createRequest())
	assert.ErrorIs(t, err, orderdomain.ErrProviderFailure)
	assert.Equal(t, int32(1), f.mp.creates.Load())
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'canceled' AND failure_reason = 'provider_error'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'pending' AND pix_copy_paste IS NULL`, 0)
}

func TestCreateRejectedWhileAnotherIsInProgress(t *testing.T) {
	guard := &mockGuard{}
	guard.On("AllowClient", mock.Anything, "client-1").Return(true, nil)
	guard.On("TryLock", mock.Anything, "client-1", "monthly_plan").Return("", false, nil)

	f := newFixture(t, config.PaymentEnv{ManualPixCopyPaste: "x"}, guard)
	_, err := f.svc.Create(context.Background(), createRequest())
	assert.ErrorIs(t, err, orderdomain.ErrCreationInProgress)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders`, 0)
	guard.AssertExpectations(t)
}

func TestCreateReleasesLock(t *testing.T) {
	guard := &mockGuard{}
	guard.On("AllowClient", mock.Anything, "client-1").Return(true, nil)
	guard.On("TryLock", mock.Anything, "client-1", "monthly_plan").Return("tok", true, nil)
	guard.On("Release", mock.Anything, "client-1", "monthly_plan", "tok").Return(nil).Once()

	f := newFixture(t, config.PaymentEnv{ManualPixCopyPaste: "x"}, guard)
	_, err := f.svc.Create(context.Background(), createRequest())
	require.NoError(t, err)
	guard.AssertExpectations(t)
}

func TestCreateRateLimited(t *testing.T) {
	guard := &mockGuard{}
	guard.On("AllowClient", mock.Anything, "client-1").Return(false, nil)

	f := newFixture(t, config.PaymentEnv{ManualPixCopyPaste: "x"}, guard)
	_, err := f.svc.Create(context.Background(), createRequest())
	assert.ErrorIs(t, err, orderdomain.ErrRateLimited)
}

func TestMarkPaidAppliesEntitlementsOnce(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{}, nil)
	id := f.insertOrder(t, orderdomain.StatusPending, "mercadopago")

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.MarkPaid(context.Background(), id, testNow)
			if err != nil {
				t.Errorf("mark paid: %v", err)
				return
			}
			if !res.AlreadyPaid {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, 1, f.applier.Calls())
	testutil.AssertCount(t, f.db,
		`SELECT COUNT(*) FROM orders WHERE id = ? AND status = 'paid' AND paid_at IS NOT NULL AND entitlements_applied_at IS NOT NULL`, 1, id)
}

func TestMarkPaidRetriesFailedEntitlements(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{}, nil)
	f.applier.failures = 1
	id := f.insertOrder(t, orderdomain.StatusManualReview, "manual")

	res, err := f.svc.MarkPaid(context.Background(), id, testNow)
	require.NoError(t, err)
	assert.False(t, res.AlreadyPaid)
	assert.False(t, res.EntitlementsApplied)
	assert.Equal(t, orderdomain.StatusPaid, f.status(t, id))

	res, err = f.svc.MarkPaid(context.Background(), id, testNow)
	require.NoError(t, err)
	assert.True(t, res.AlreadyPaid)
	assert.True(t, res.EntitlementsApplied)
	assert.Equal(t, 2, f.applier.Calls())

	res, err = f.svc.MarkPaid(context.Background(), id, testNow)
	require.NoError(t, err)
	assert.True(t, res.EntitlementsApplied)
	assert.Equal(t, 2, f.applier.Calls())
}

func TestMarkPaidUnknownOrder(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{}, nil)
	_, err := f.svc.MarkPaid(context.Background(), f.node.Generate(), testNow)
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
}

func TestPaidWinsRegardlessOfSignalOrder(t *testing.T) {
	sequences := [][]paymentdomain.StatusFamily{
		{paymentdomain.StatusPaid, paymentdomain.StatusExpired},
		{paymentdomain.StatusExpired, paymentdomain.StatusPaid},
		{paymentdomain.StatusCanceled, paymentdomain.StatusPaid, paymentdomain.StatusExpired},
		{paymentdomain.StatusPaid, paymentdomain.StatusCanceled, paymentdomain.StatusPaid},
	}
	for i, seq := range sequences {
		t.Run(fmt.Sprintf("sequence_%d", i), func(t *testing.T) {
			f := newFixture(t, config.PaymentEnv{}, nil)
			id := f.insertOrder(t, orderdomain.StatusPending, "mercadopago")
			for _, family := range seq {
				_, err := f.svc.Reconcile(context.Background(), id, family, nil)
				require.NoError(t, err)
			}
			assert.Equal(t, orderdomain.StatusPaid, f.status(t, id))
			assert.Equal(t, 1, f.applier.Calls())
		})
	}
}

func TestReconcileOutcomes(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{}, nil)
	ctx := context.Background()
	id := f.insertOrder(t, orderdomain.StatusPending, "mercadopago")

	res, err := f.svc.Reconcile(ctx, id, paymentdomain.StatusPending, nil)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomePending, res.Outcome)

	res, err = f.svc.Reconcile(ctx, id, paymentdomain.StatusExpired, nil)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomeExpired, res.Outcome)

	res, err = f.svc.Reconcile(ctx, id, paymentdomain.StatusCanceled, nil)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomeIgnored, res.Outcome)

	paidAt := testNow.Add(time.Hour)
	res, err = f.svc.Reconcile(ctx, id, paymentdomain.StatusPaid, &paidAt)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomePaid, res.Outcome)

	res, err = f.svc.Reconcile(ctx, id, paymentdomain.StatusPaid, &paidAt)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomeAlreadyPaid, res.Outcome)

	_, err = f.svc.Reconcile(ctx, f.node.Generate(), paymentdomain.StatusPending, nil)
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
}

func TestManualReviewIgnoresAutomatedSignals(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{}, nil)
	id := f.insertOrder(t, orderdomain.StatusManualReview, "manual")

	changed, err := f.svc.TransitionStatus(context.Background(), id, orderdomain.StatusExpired, "expired")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, orderdomain.StatusManualReview, f.status(t, id))

	_, err = f.svc.TransitionStatus(context.Background(), id, orderdomain.StatusPaid, "")
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
}

func TestGetExpiresPendingOrderPassively(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{}, nil)
	id := f.insertOrder(t, orderdomain.StatusPending, "mercadopago")
	viewer := orderdomain.Viewer{ID: "client-1"}

	res, err := f.svc.Get(context.Background(), viewer, id.String())
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, res.Status)

	f.clock.Advance(31 * time.Minute)
	res, err = f.svc.Get(context.Background(), viewer, id.String())
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusExpired, res.Status)

	// A late payment still wins.
	_, err = f.svc.MarkPaid(context.Background(), id, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, f.status(t, id))
}

func TestGetChecksViewer(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{}, nil)
	id := f.insertOrder(t, orderdomain.StatusManualReview, "manual")

	_, err := f.svc.Get(context.Background(), orderdomain.Viewer{ID: "someone-else"}, id.String())
	assert.ErrorIs(t, err, orderdomain.ErrForbidden)

	_, err = f.svc.Get(context.Background(), orderdomain.Viewer{ID: "admin-1", IsAdmin: true}, id.String())
	assert.NoError(t, err)

	_, err = f.svc.Get(context.Background(), orderdomain.Viewer{ID: "client-1"}, "not-an-id")
	assert.ErrorIs(t, err, orderdomain.ErrInvalidOrderID)
}

func TestRefreshAppliesProviderStatus(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{MercadoPagoAccessToken: "APP_USR-1"}, nil)
	f.useMercadoPago(t)
	viewer := orderdomain.Viewer{ID: "client-1"}

	created, err := f.svc.Create(context.Background(), createRequest())
	require.NoError(t, err)

	res, err := f.svc.Refresh(context.Background(), viewer, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, res.Status)

	f.mp.status.Store("approved")
	res, err = f.svc.Refresh(context.Background(), viewer, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, res.Status)
	require.NotNil(t, res.PaidAt)
	assert.True(t, res.PaidAt.Equal(time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)))
	assert.Equal(t, 1, f.applier.Calls())
}

func TestLocateForProviderPayment(t *testing.T) {
	f := newFixture(t, config.PaymentEnv{MercadoPagoAccessToken: "APP_USR-1"}, nil)
	f.useMercadoPago(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, createRequest())
	require.NoError(t, err)

	order, err := f.svc.LocateForProviderPayment(ctx, "mercadopago", created.OrderID, "")
	require.NoError(t, err)
	assert.Equal(t, created.OrderID, order.ID.String())

	order, err = f.svc.LocateForProviderPayment(ctx, "mercadopago", "", "777")
	require.NoError(t, err)
	assert.Equal(t, created.OrderID, order.ID.String())

	_, err = f.svc.LocateForProviderPayment(ctx, "mercadopago", "123", "999")
	assert.True(t, errors.Is(err, orderdomain.ErrOrderNotFound))
}
