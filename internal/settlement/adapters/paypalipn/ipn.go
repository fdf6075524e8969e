// Package paypalipn handles PayPal's legacy Instant Payment Notification
// postbacks. IPN carries no signature: the only trust anchor is the
// synchronous echo back to PayPal, accepted solely on the literal body
// VERIFIED.
package paypalipn

import (
	"context"
	"net/url"
	"strings"

	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	settlementdomain "github.com/tiendita/tiendita/internal/settlement/domain"
	"github.com/tiendita/tiendita/pkg/paypal"
)

// ipnAmountTolerance is the documented 0.01 slack when comparing mc_gross
// against the stored pending row, in minor units.
const ipnAmountTolerance = 1

// Verifier is the postback seam, implemented by pkg/paypal.Client.
type Verifier interface {
	VerifyIPN(ctx context.Context, rawBody []byte) error
}

type Adapter struct {
	verifier Verifier
}

func NewAdapter(verifier Verifier) *Adapter {
	return &Adapter{verifier: verifier}
}

// Parse verifies the raw payload with PayPal and translates it. Non-payment
// notifications and non-Completed statuses are ignored, not errors the
// protocol would ever see: IPN is fire-and-forget.
func (a *Adapter) Parse(ctx context.Context, rawBody []byte) (*settlementdomain.Event, error) {
	if err := a.verifier.VerifyIPN(ctx, rawBody); err != nil {
		return nil, settlementdomain.ErrInvalidSignature
	}

	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, settlementdomain.ErrInvalidPayload
	}

	if !strings.EqualFold(values.Get("payment_status"), "Completed") {
		return nil, settlementdomain.ErrEventIgnored
	}

	txnID := strings.TrimSpace(values.Get("txn_id"))
	if txnID == "" {
		return nil, settlementdomain.ErrInvalidPayload
	}

	amount, err := paypal.ParseValue(values.Get("mc_gross"))
	if err != nil {
		return nil, settlementdomain.ErrInvalidPayload
	}
	currency := catalogdomain.Currency(strings.ToUpper(strings.TrimSpace(values.Get("mc_currency"))))

	targetID, isTopUp, err := settlementdomain.ParseCustomID(values.Get("custom"))
	if err != nil {
		return nil, settlementdomain.ErrInvalidPayload
	}

	req := settlementdomain.Request{
		Provider:         settlementdomain.ProviderPayPalIPN,
		ProviderRef:      txnID,
		Method:           settlementdomain.ProviderPayPal,
		AmountObserved:   amount,
		CurrencyObserved: currency,
		AmountTolerance:  ipnAmountTolerance,
	}
	if isTopUp {
		return &settlementdomain.Event{TopUpID: targetID, Request: req}, nil
	}
	req.InvoiceID = targetID
	return &settlementdomain.Event{Request: req}, nil
}
