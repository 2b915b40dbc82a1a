package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/pixorder/internal/clock"
	"github.com/smallbiznis/pixorder/internal/config"
	"github.com/smallbiznis/pixorder/internal/entitlement"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	orderrepo "github.com/smallbiznis/pixorder/internal/order/repository"
	orderservice "github.com/smallbiznis/pixorder/internal/order/service"
	"github.com/smallbiznis/pixorder/internal/payment/adapters"
	"github.com/smallbiznis/pixorder/internal/payment/adapters/mercadopago"
	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
	"github.com/smallbiznis/pixorder/internal/payment/repository"
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

const webhookSecret = "whsec_test"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type countingApplier struct {
	mu    sync.Mutex
	calls int
}

func (a *countingApplier) Apply(ctx context.Context, grant entitlement.Grant) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return nil
}

type fixture struct {
	svc         paymentdomain.WebhookService
	orderSvc    orderdomain.Service
	db          *gorm.DB
	applier     *countingApplier
	status      atomic.Value
	externalRef atomic.Value
	mpDown      atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{applier: &countingApplier{}}
	f.status.Store("pending")

	mp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if f.mpDown.Load() {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream"}`))
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payments":
			_, _ = fmt.Fprintf(w, `{"id":777,"status":"pending","external_reference":%q,
				"point_of_interaction":{"transaction_data":{"qr_code":"00020126-pix"}}}`,
				r.Header.Get("X-Idempotency-Key"))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payments/777":
			ref, _ := f.externalRef.Load().(string)
			_, _ = fmt.Fprintf(w, `{"id":777,"status":%q,"external_reference":%q}`, f.status.Load().(string), ref)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not_found"}`))
		}
	}))
	t.Cleanup(mp.Close)

	db := testutil.NewDB(t)
	node := testutil.NewNode(t, 1)
	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()
	cfg := config.Config{MercadoPago: config.MercadoPagoConfig{BaseURL: mp.URL, Timeout: 2 * time.Second}}
	registry := adapters.NewRegistry(mercadopago.NewFactory())

	providerSvc := providerservice.New(providerservice.Params{
		DB:     db,
		Log:    log,
		Clock:  clk,
		Repo:   providerrepo.Provide(),
		Source: config.StaticPaymentSource{
			MercadoPagoAccessToken:   "APP_USR-1",
			MercadoPagoWebhookSecret: webhookSecret,
		},
	})
	orderSvc := orderservice.New(orderservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Cfg:   cfg,
		Repo:  orderrepo.Provide(),
		PricingSvc: pricingservice.New(pricingservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Clock: clk,
			Repo:  pricingrepo.Provide(),
		}),
		ProviderSvc: providerSvc,
		Gateways:    registry,
		Entitlement: f.applier,
	})

	f.db = db
	f.orderSvc = orderSvc
	f.svc = NewService(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Cfg:         cfg,
		Repo:        repository.Provide(),
		Gateways:    registry,
		ProviderSvc: providerSvc,
		OrderSvc:    orderSvc,
	})

	require.NoError(t, db.Exec(`UPDATE payment_provider_settings SET active_provider = 'mercadopago' WHERE id = 1`).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO pricing_rules (id, scope, owner_id, client_id, product_key, price_cents, currency, active, created_at, updated_at)
		 VALUES (?, 'global', NULL, NULL, 'monthly_plan', 9990, 'BRL', true, ?, ?)`,
		node.Generate(), testNow, testNow,
	).Error)
	return f
}

func (f *fixture) createOrder(t *testing.T) string {
	t.Helper()
	res, err := f.orderSvc.Create(context.Background(), orderdomain.CreateRequest{
		ClientID:   "client-1",
		ProductKey: "monthly_plan",
		Payer:      orderdomain.Payer{Email: "client@example.com"},
	})
	require.NoError(t, err)
	f.externalRef.Store(res.OrderID)
	return res.OrderID
}

func signedRequest(dataID, secret string) paymentdomain.WebhookRequest {
	ts := "1772366400"
	requestID := "req-" + dataID
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)))

	headers := http.Header{}
	headers.Set("x-request-id", requestID)
	headers.Set("x-signature", fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return paymentdomain.WebhookRequest{
		Provider: "mercadopago",
		Query:    url.Values{},
		Headers:  headers,
		Body:     []byte(fmt.Sprintf(`{"type":"payment","action":"payment.updated","data":{"id":%q}}`, dataID)),
	}
}

func TestHandleApprovedPaymentMarksOrderPaid(t *testing.T) {
	f := newFixture(t)
	orderID := f.createOrder(t)
	f.status.Store("approved")

	res, err := f.svc.Handle(context.Background(), signedRequest("777", webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomePaid, res.Status)
	assert.Equal(t, orderID, res.OrderID)

	// Replays are success without a second effect.
	res, err = f.svc.Handle(context.Background(), signedRequest("777", webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomeAlreadyPaid, res.Status)
	assert.Equal(t, 1, f.applier.calls)

	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'paid'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM payment_webhook_events WHERE data_id = '777' AND order_id IS NOT NULL`, 2)
}

func TestHandleExpiredAfterPaidKeepsPaid(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t)

	f.status.Store("approved")
	_, err := f.svc.Handle(context.Background(), signedRequest("777", webhookSecret))
	require.NoError(t, err)

	f.status.Store("expired")
	res, err := f.svc.Handle(context.Background(), signedRequest("777", webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomeIgnored, res.Status)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'paid'`, 1)
}

func TestHandleRejectsInvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t)
	f.status.Store("approved")

	_, err := f.svc.Handle(context.Background(), signedRequest("777", "wrong-secret"))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'pending'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM payment_webhook_events`, 0)
}

func TestHandleMissingDataID(t *testing.T) {
	f := newFixture(t)
	req := signedRequest("777", webhookSecret)
	req.Body = []byte(`{"type":"payment"}`)

	_, err := f.svc.Handle(context.Background(), req)
	assert.ErrorIs(t, err, paymentdomain.ErrWebhookMissingID)
}

func TestHandleReadsDataIDFromQuery(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t)
	f.status.Store("approved")

	req := signedRequest("777", webhookSecret)
	req.Body = nil
	req.Query = url.Values{"type": {"payment"}, "data.id": {"777"}}

	res, err := f.svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomePaid, res.Status)
}

func TestHandleVerifiesQueryDataIDOverBody(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t)
	f.status.Store("approved")

	// Signed for 777 with a body naming the same payment.
	req := signedRequest("777", webhookSecret)
	req.Query = url.Values{"type": {"payment"}, "data.id": {"777"}}
	res, err := f.svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OutcomePaid, res.Status)
}

func TestHandleRejectsQueryAndBodyDataIDDisagreement(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t)
	f.status.Store("approved")

	req := signedRequest("777", webhookSecret)
	req.Query = url.Values{"type": {"payment"}, "data.id": {"777"}}
	req.Body = []byte(`{"type":"payment","action":"payment.updated","data":{"id":"999"}}`)

	_, err := f.svc.Handle(context.Background(), req)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'pending'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM payment_webhook_events`, 0)
}

func TestHandleIgnoresUnsupportedProviderAndNonPaymentEvents(t *testing.T) {
	f := newFixture(t)

	req := signedRequest("777", webhookSecret)
	req.Provider = "stripe"
	res, err := f.svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.WebhookOutcomeIgnored, res.Status)

	req = signedRequest("555", webhookSecret)
	req.Body = []byte(`{"type":"merchant_order","data":{"id":"555"}}`)
	res, err = f.svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.WebhookOutcomeIgnored, res.Status)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM payment_webhook_events WHERE outcome = 'ignored'`, 1)
}

func TestHandleUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Handle(context.Background(), signedRequest("777", webhookSecret))
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM payment_webhook_events WHERE outcome = 'order_not_found'`, 1)
}

func TestHandleProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t)
	f.mpDown.Store(true)

	_, err := f.svc.Handle(context.Background(), signedRequest("777", webhookSecret))
	assert.ErrorIs(t, err, paymentdomain.ErrWebhookProviderFailure)
	testutil.AssertCount(t, f.db, `SELECT COUNT(*) FROM orders WHERE status = 'pending'`, 1)
}

func TestParseNotificationNumericID(t *testing.T) {
	event := parseNotification(paymentdomain.WebhookRequest{
		Query: url.Values{},
		Body:  []byte(`{"action":"payment.created","data":{"id":123456}}`),
	})
	assert.Equal(t, "123456", event.DataID)
	assert.True(t, event.isPayment())
	assert.Equal(t, "payment.created", event.label())
}

func TestParseNotificationPrefersQueryDataID(t *testing.T) {
	event := parseNotification(paymentdomain.WebhookRequest{
		Query: url.Values{"data.id": {"123"}},
		Body:  []byte(`{"type":"payment","data":{"id":"456"}}`),
	})
	assert.Equal(t, "123", event.DataID)
	assert.True(t, event.Mismatch)

	event = parseNotification(paymentdomain.WebhookRequest{
		Query: url.Values{"data.id": {"123"}},
		Body:  []byte(`{"type":"payment","data":{"id":123}}`),
	})
	assert.Equal(t, "123", event.DataID)
	assert.False(t, event.Mismatch)

	event = parseNotification(paymentdomain.WebhookRequest{
		Query: url.Values{"id": {"789"}},
		Body:  []byte(`{"type":"payment"}`),
	})
	assert.Equal(t, "789", event.DataID)
	assert.False(t, event.Mismatch)
}
