package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	billingrepository "github.com/tiendita/tiendita/internal/billing/repository"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	catalogrepository "github.com/tiendita/tiendita/internal/catalog/repository"
	"github.com/tiendita/tiendita/internal/clock"
	"github.com/tiendita/tiendita/internal/config"
	"github.com/tiendita/tiendita/internal/files"
	"github.com/tiendita/tiendita/internal/pool"
	"github.com/tiendita/tiendita/internal/settlement/adapters/paypalipn"
	"github.com/tiendita/tiendita/internal/settlement/adapters/stripe"
	settlementservice "github.com/tiendita/tiendita/internal/settlement/service"
	subscriptionservice "github.com/tiendita/tiendita/internal/subscription/service"
	walletservice "github.com/tiendita/tiendita/internal/wallet/service"
	"github.com/tiendita/tiendita/pkg/paypal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stripeTestSecret = "whsec_server_test"

type okVerifier struct{}

func (okVerifier) VerifyIPN(ctx context.Context, rawBody []byte) error { return nil }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGINT PRIMARY KEY, name TEXT NOT NULL, amount BIGINT NOT NULL,
			currency TEXT NOT NULL, billing_type TEXT NOT NULL DEFAULT 'one_time',
			period_minutes BIGINT NOT NULL DEFAULT 0,
			delivery_mode TEXT NOT NULL DEFAULT 'single', stock BIGINT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS shared_items (
			id BIGINT PRIMARY KEY, product_id BIGINT NOT NULL, content TEXT NOT NULL,
			order_index BIGINT NOT NULL DEFAULT 0, revealed_to_user_id BIGINT,
			revealed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id BIGINT PRIMARY KEY, user_id BIGINT NOT NULL, product_id BIGINT NOT NULL,
			period_minutes BIGINT NOT NULL DEFAULT 0, next_invoice_at TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'active', canceled_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id BIGINT PRIMARY KEY, number TEXT NOT NULL, user_id BIGINT NOT NULL,
			product_id BIGINT, subscription_id BIGINT, amount BIGINT NOT NULL,
			currency TEXT NOT NULL, status TEXT NOT NULL DEFAULT 'pending',
			payment_method TEXT, provider_ref TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			due_at TIMESTAMP, paid_at TIMESTAMP, cycle_end_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS invoice_sequences (
			day TEXT PRIMARY KEY, value BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS credit_topups (
			id BIGINT PRIMARY KEY, user_id BIGINT NOT NULL, currency TEXT NOT NULL,
			amount BIGINT NOT NULL, status TEXT NOT NULL DEFAULT 'pending',
			provider TEXT, provider_ref TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP, paid_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS credit_balances (
			user_id BIGINT NOT NULL, currency TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, currency)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_user_product ON subscriptions(user_id, product_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_invoices_number ON invoices(number)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_topups_provider_ref ON credit_topups(provider, provider_ref)`,
	}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newTestStack(t *testing.T, paypalAPIBase string) (*Server, *gorm.DB, *snowflake.Node) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))

	providerCfg := config.NewStaticProviderConfigHolder(
		config.StripeConfig{WebhookSecret: stripeTestSecret},
		config.PayPalConfig{ClientID: "id", ClientSecret: "secret", APIBase: paypalAPIBase},
	)

	store := billingrepository.Provide(billingrepository.Params{
		Cfg:   config.Config{InvoicePrefix: "TND"},
		GenID: node,
	})
	catalogRepo := catalogrepository.Provide()
	allocator := pool.NewAllocator(pool.Params{Log: logger})
	subsSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB: db, Log: logger, GenID: node, Clock: clk, Files: files.NewNoop(logger),
	})
	walletSvc := walletservice.NewService(walletservice.Params{
		DB: db, Log: logger, GenID: node, Clock: clk,
	})
	settlementSvc := settlementservice.NewService(settlementservice.Params{
		DB: db, Log: logger, Clock: clk, Store: store, Catalog: catalogRepo,
		Pool: allocator, Subs: subsSvc, Files: files.NewNoop(logger),
	})

	paypalClient := paypal.NewClient(paypal.Config{
		ClientID: "id", ClientSecret: "secret", APIBase: paypalAPIBase,
	})

	srv := NewServer(ServerParams{
		Gin:           gin.New(),
		Cfg:           config.Config{InvoicePrefix: "TND", BaseURL: "http://shop.test"},
		Log:           logger,
		DB:            db,
		ProviderCfg:   providerCfg,
		SettlementSvc: settlementSvc,
		WalletSvc:     walletSvc,
		SubsSvc:       subsSvc,
		Store:         store,
		CatalogRepo:   catalogRepo,
		StripeAdapter: stripe.NewAdapter(providerCfg),
		IPNAdapter:    paypalipn.NewAdapter(okVerifier{}),
		PayPalClient:  paypalClient,
	})
	return srv, db, node
}

func stripeSignature(payload []byte) string {
	ts := "1716000000"
	mac := hmac.New(sha256.New, []byte(stripeTestSecret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func insertProduct(t *testing.T, db *gorm.DB, p catalogdomain.Product) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO products (id, name, amount, currency, billing_type, period_minutes, delivery_mode, stock, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		p.ID, p.Name, p.Amount, p.Currency, p.BillingType, p.PeriodMinutes, p.DeliveryMode, p.Stock,
	).Error)
}

func TestStripeWebhook(t *testing.T) {
	srv, db, node := newTestStack(t, "http://paypal.invalid")

	product := catalogdomain.Product{
		ID: node.Generate(), Name: "ebook", Amount: 1500,
		Currency: catalogdomain.CurrencyUSD, BillingType: catalogdomain.BillingTypeOneTime,
		DeliveryMode: catalogdomain.DeliverySingle,
	}
	insertProduct(t, db, product)
	userID := node.Generate()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1", "amount_total": 1500, "currency": "usd",
			"metadata": {"product_id": "%s", "user_id": "%s"}
		}}
	}`, product.ID, userID))

	t.Run("unsigned delivery is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		srv.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("signed delivery settles", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", stripeSignature(payload))
		srv.engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var paid int64
		db.Raw(`SELECT COUNT(*) FROM invoices WHERE user_id = ? AND status = 'paid'`, userID).Scan(&paid)
		assert.Equal(t, int64(1), paid)
	})

	t.Run("unhandled event type is acknowledged", func(t *testing.T) {
		ignored := []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{}}}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(ignored))
		req.Header.Set("Stripe-Signature", stripeSignature(ignored))
		srv.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPayPalIPNWebhook(t *testing.T) {
	srv, db, node := newTestStack(t, "http://paypal.invalid")

	product := catalogdomain.Product{
		ID: node.Generate(), Name: "hosting", Amount: 2000,
		Currency: catalogdomain.CurrencyUSD, BillingType: catalogdomain.BillingTypeRecurring,
		PeriodMinutes: 60, DeliveryMode: catalogdomain.DeliverySingle,
	}
	insertProduct(t, db, product)
	userID := node.Generate()

	invoiceID := node.Generate()
	require.NoError(t, db.Exec(
		`INSERT INTO invoices (id, number, user_id, product_id, amount, currency, status, created_at)
		 VALUES (?, 'TND-20260314-00001', ?, ?, 2000, 'USD', 'pending', CURRENT_TIMESTAMP)`,
		invoiceID, userID, product.ID,
	).Error)

	body := url.Values{}
	body.Set("payment_status", "Completed")
	body.Set("txn_id", "61E67681CH3238416")
	body.Set("mc_gross", "20.00")
	body.Set("mc_currency", "USD")
	body.Set("custom", "INV-"+invoiceID.String())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal/ipn", strings.NewReader(body.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	srv.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status string
	db.Raw(`SELECT status FROM invoices WHERE id = ?`, invoiceID).Scan(&status)
	assert.Equal(t, "paid", status)

	// The redelivery is acknowledged without a second application.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhooks/paypal/ipn", strings.NewReader(body.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	srv.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["applied"])
	assert.Equal(t, "already_paid", resp["reason"])
}

func TestInvoiceStatusEndpoint(t *testing.T) {
	srv, db, node := newTestStack(t, "http://paypal.invalid")

	userID := node.Generate()
	invoiceID := node.Generate()
	require.NoError(t, db.Exec(
		`INSERT INTO invoices (id, number, user_id, amount, currency, status, created_at)
		 VALUES (?, 'TND-20260314-00002', ?, 1500, 'USD', 'pending', CURRENT_TIMESTAMP)`,
		invoiceID, userID,
	).Error)

	t.Run("owner polls status", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/invoices/"+invoiceID.String()+"/status", nil)
		req.Header.Set("X-User-ID", userID.String())
		srv.engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp invoiceStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "pending", resp.Status)
		assert.Equal(t, "TND-20260314-00002", resp.Number)
	})

	t.Run("stranger sees not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/invoices/"+invoiceID.String()+"/status", nil)
		req.Header.Set("X-User-ID", node.Generate().String())
		srv.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("no identity", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/invoices/"+invoiceID.String()+"/status", nil)
		srv.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCancelSubscriptionEndpoint(t *testing.T) {
	srv, db, node := newTestStack(t, "http://paypal.invalid")

	userID := node.Generate()
	productID := node.Generate()
	subID := node.Generate()
	require.NoError(t, db.Exec(
		`INSERT INTO subscriptions (id, user_id, product_id, period_minutes, status, created_at, updated_at)
		 VALUES (?, ?, ?, 60, 'active', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		subID, userID, productID,
	).Error)

	t.Run("stranger cannot cancel", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/subscriptions/"+subID.String()+"/cancel", nil)
		req.Header.Set("X-User-ID", node.Generate().String())
		srv.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("owner cancels", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/subscriptions/"+subID.String()+"/cancel", nil)
		req.Header.Set("X-User-ID", userID.String())
		srv.engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var status string
		db.Raw(`SELECT status FROM subscriptions WHERE id = ?`, subID).Scan(&status)
		assert.Equal(t, "canceled", status)
	})
}

func TestCreatePayPalOrderEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	var gotCustomID string
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PurchaseUnits []struct {
				CustomID string `json:"custom_id"`
			} `json:"purchase_units"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.PurchaseUnits) > 0 {
			gotCustomID = body.PurchaseUnits[0].CustomID
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "5O190127TN364715T",
			"status": "CREATED",
			"links": [{"href": "https://paypal.test/approve", "rel": "approve"}]
		}`))
	})
	fakePayPal := httptest.NewServer(mux)
	defer fakePayPal.Close()

	srv, db, node := newTestStack(t, fakePayPal.URL)
	userID := node.Generate()

	t.Run("invoice checkout", func(t *testing.T) {
		invoiceID := node.Generate()
		require.NoError(t, db.Exec(
			`INSERT INTO invoices (id, number, user_id, amount, currency, status, created_at)
			 VALUES (?, 'TND-20260314-00003', ?, 1500, 'USD', 'pending', CURRENT_TIMESTAMP)`,
			invoiceID, userID,
		).Error)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/checkout/paypal",
			strings.NewReader(fmt.Sprintf(`{"invoice_id": "%s"}`, invoiceID)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", userID.String())
		srv.engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp createPayPalOrderResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "https://paypal.test/approve", resp.ApproveURL)
		assert.Equal(t, "INV-"+invoiceID.String(), gotCustomID)
	})

	t.Run("topup checkout", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/checkout/paypal",
			strings.NewReader(`{"topup": {"amount": 5000, "currency": "usd"}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", userID.String())
		srv.engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(gotCustomID, "TOPUP-"), gotCustomID)
	})

	t.Run("below minimum is rejected before the provider call", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/checkout/paypal",
			strings.NewReader(`{"topup": {"amount": 49, "currency": "usd"}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", userID.String())
		srv.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
