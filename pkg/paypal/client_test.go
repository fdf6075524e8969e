package paypal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer fakes the token endpoint plus whatever order routes the test
// registers.
func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A21AA_test","token_type":"Bearer","expires_in":32400}`))
	})
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateOrder(t *testing.T) {
	var gotBody createOrderRequest
	var gotAuth string

	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders": func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "5O190127TN364715T",
				"status": "CREATED",
				"links": [
					{"href": "https://api-m.sandbox.paypal.com/v2/checkout/orders/5O190127TN364715T", "rel": "self"},
					{"href": "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T", "rel": "approve"}
				]
			}`))
		},
	})

	client := NewClient(Config{ClientID: "id", ClientSecret: "secret", APIBase: srv.URL})
	order, err := client.CreateOrder(context.Background(), "INV-42", "15.00", "USD",
		"https://shop.example/return", "https://shop.example/cancel")
	require.NoError(t, err)

	assert.Equal(t, "5O190127TN364715T", order.ID)
	assert.Equal(t, "Bearer A21AA_test", gotAuth)
	assert.Equal(t, "CAPTURE", gotBody.Intent)
	require.Len(t, gotBody.PurchaseUnits, 1)
	assert.Equal(t, "INV-42", gotBody.PurchaseUnits[0].CustomID)
	assert.Equal(t, "15.00", gotBody.PurchaseUnits[0].Amount.Value)
	assert.Equal(t, "USD", gotBody.PurchaseUnits[0].Amount.CurrencyCode)
	assert.Equal(t, "https://shop.example/return", gotBody.ApplicationContext.ReturnURL)

	approveURL, err := order.ApproveURL()
	require.NoError(t, err)
	assert.Contains(t, approveURL, "checkoutnow")
}

func TestCaptureOrder(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/5O190127TN364715T/capture": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "5O190127TN364715T",
				"status": "COMPLETED",
				"purchase_units": [{
					"custom_id": "INV-42",
					"payments": {"captures": [{
						"id": "3C679366HH908993F",
						"status": "COMPLETED",
						"amount": {"currency_code": "USD", "value": "15.00"}
					}]}
				}]
			}`))
		},
	})

	client := NewClient(Config{ClientID: "id", ClientSecret: "secret", APIBase: srv.URL})
	order, err := client.CaptureOrder(context.Background(), "5O190127TN364715T")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", order.Status)

	capture, err := order.FirstCapture()
	require.NoError(t, err)
	assert.Equal(t, "3C679366HH908993F", capture.ID)
	// custom_id fell back to the purchase unit's.
	assert.Equal(t, "INV-42", capture.CustomID)
	assert.Equal(t, "15.00", capture.Amount.Value)
}

func TestDoJSONErrorStatus(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY"}`))
		},
	})

	client := NewClient(Config{ClientID: "id", ClientSecret: "secret", APIBase: srv.URL})
	_, err := client.CreateOrder(context.Background(), "INV-1", "1.00", "USD", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestFirstCaptureMissing(t *testing.T) {
	order := &Order{PurchaseUnits: []PurchaseUnit{{CustomID: "INV-1"}}}
	_, err := order.FirstCapture()
	assert.ErrorIs(t, err, ErrNoCapture)
}

func TestVerifyIPN(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		var gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			gotBody = string(raw)
			_, _ = w.Write([]byte("VERIFIED"))
		}))
		defer srv.Close()

		client := NewClient(Config{IPNVerifyURL: srv.URL})
		err := client.VerifyIPN(context.Background(), []byte("txn_id=1&payment_status=Completed"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(gotBody, "cmd=_notify-validate&"))
		assert.Contains(t, gotBody, "txn_id=1")
	})

	t.Run("invalid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("INVALID"))
		}))
		defer srv.Close()

		client := NewClient(Config{IPNVerifyURL: srv.URL})
		err := client.VerifyIPN(context.Background(), []byte("txn_id=1"))
		assert.ErrorIs(t, err, ErrIPNNotVerified)
	})
}
