// Package stripe verifies and translates Stripe webhook deliveries.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	"github.com/tiendita/tiendita/internal/config"
	settlementdomain "github.com/tiendita/tiendita/internal/settlement/domain"
)

// Adapter turns a signed Stripe event into a settlement event. Stripe sends
// both checkout.session.completed and payment_intent.succeeded for one
// purchase; both are translated and the settlement idempotency absorbs the
// duplicate.
type Adapter struct {
	cfg *config.ProviderConfigHolder
}

func NewAdapter(cfg *config.ProviderConfigHolder) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	secret := strings.TrimSpace(a.cfg.StripeConfig().WebhookSecret)
	if secret == "" {
		return config.ErrProviderNotConfigured
	}

	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return settlementdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return settlementdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return settlementdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*settlementdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, settlementdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, settlementdomain.ErrInvalidPayload
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseSession(event)
	case "payment_intent.succeeded":
		return a.parseIntent(event)
	default:
		return nil, settlementdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSession struct {
	ID          string            `json:"id"`
	AmountTotal int64             `json:"amount_total"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

type stripeIntent struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

func (a *Adapter) parseSession(event stripeEvent) (*settlementdomain.Event, error) {
	var session stripeSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, settlementdomain.ErrInvalidPayload
	}
	return buildEvent(session.Metadata, session.ID, session.AmountTotal, session.Currency)
}

func (a *Adapter) parseIntent(event stripeEvent) (*settlementdomain.Event, error) {
	var intent stripeIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, settlementdomain.ErrInvalidPayload
	}
	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	return buildEvent(intent.Metadata, intent.ID, amount, intent.Currency)
}

func buildEvent(metadata map[string]string, providerRef string, amount int64, currency string) (*settlementdomain.Event, error) {
	cur := catalogdomain.Currency(strings.ToUpper(strings.TrimSpace(currency)))

	if topupRaw := metadataValue(metadata, "topup_id"); topupRaw != "" {
		topupID, err := snowflake.ParseString(topupRaw)
		if err != nil {
			return nil, settlementdomain.ErrInvalidPayload
		}
		return &settlementdomain.Event{
			TopUpID: topupID,
			Request: settlementdomain.Request{
				Provider:         settlementdomain.ProviderStripe,
				ProviderRef:      providerRef,
				Method:           settlementdomain.ProviderStripe,
				AmountObserved:   amount,
				CurrencyObserved: cur,
			},
		}, nil
	}

	req := settlementdomain.Request{
		Provider:         settlementdomain.ProviderStripe,
		ProviderRef:      providerRef,
		Method:           settlementdomain.ProviderStripe,
		AmountObserved:   amount,
		CurrencyObserved: cur,
	}

	if invoiceRaw := metadataValue(metadata, "invoice_id"); invoiceRaw != "" {
		id, err := snowflake.ParseString(invoiceRaw)
		if err != nil {
			return nil, settlementdomain.ErrInvalidPayload
		}
		req.InvoiceID = id
		return &settlementdomain.Event{Request: req}, nil
	}

	productRaw := metadataValue(metadata, "product_id")
	userRaw := metadataValue(metadata, "user_id")
	if productRaw == "" || userRaw == "" {
		return nil, settlementdomain.ErrInvalidPayload
	}
	productID, err := snowflake.ParseString(productRaw)
	if err != nil {
		return nil, settlementdomain.ErrInvalidPayload
	}
	userID, err := snowflake.ParseString(userRaw)
	if err != nil {
		return nil, settlementdomain.ErrInvalidPayload
	}
	req.ProductID = productID
	req.UserID = userID
	return &settlementdomain.Event{Request: req}, nil
}

func metadataValue(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[key])
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
