// Package domain defines the settlement contract shared by every provider
// front door.
package domain

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
)

// Payment providers recognized by the settlement core.
const (
	ProviderStripe    = "stripe"
	ProviderPayPal    = "paypal"
	ProviderPayPalIPN = "paypal_ipn"
	ProviderCredits   = "credits"
)

var (
	ErrInvalidRequest  = errors.New("invalid_settlement_request")
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrBelowMinimum    = errors.New("amount_below_provider_minimum")
	ErrPoolExhausted   = errors.New("pool_exhausted")
	ErrAlreadyOwned    = errors.New("product_already_owned")
)

// Request is the provider-neutral settlement input. Either InvoiceID or the
// (ProductID, UserID) pair must be set; amounts are minor units as observed
// in the provider's confirmation, never trusted client input.
type Request struct {
	InvoiceID snowflake.ID
	ProductID snowflake.ID
	UserID    snowflake.ID

	Provider    string
	ProviderRef string
	// Method is the payment_method recorded on the paid invoice.
	Method string

	AmountObserved   int64
	CurrencyObserved catalogdomain.Currency

	// AmountTolerance widens the amount equality check, in minor units.
	// Zero for API-verified providers; 1 for IPN's documented 0.01 slack.
	AmountTolerance int64
}

// Reason explains a no-op or failed settlement.
type Reason string

const (
	ReasonAlreadyPaid    Reason = "already_paid"
	ReasonAmountMismatch Reason = "amount_mismatch"
	ReasonPoolExhausted  Reason = "pool_exhausted"
	ReasonNotFound       Reason = "not_found"
	// ReasonConflict marks a purchase of a blocking product the buyer
	// already actively owns.
	ReasonConflict Reason = "conflict"
)

// Outcome is returned to adapters. Reason is populated only on no-op and
// failure paths.
type Outcome struct {
	Applied bool   `json:"applied"`
	Reason  Reason `json:"reason,omitempty"`
	// Invoice the settlement resolved to, zero when nothing matched.
	InvoiceID snowflake.ID `json:"invoice_id,omitempty"`
	// Content of the shared item revealed by this settlement, if any.
	RevealedContent string `json:"-"`
}

// minimumCharge is the provider-imposed floor per currency, in minor units.
// Requests below it are rejected before a provider session is even created.
var minimumCharge = map[catalogdomain.Currency]int64{
	catalogdomain.CurrencyUSD: 50,
	catalogdomain.CurrencyMXN: 1000,
}

// CheckMinimumCharge rejects amounts below the provider floor.
func CheckMinimumCharge(amount int64, currency catalogdomain.Currency) error {
	floor, ok := minimumCharge[currency]
	if !ok {
		return ErrInvalidRequest
	}
	if amount < floor {
		return ErrBelowMinimum
	}
	return nil
}
