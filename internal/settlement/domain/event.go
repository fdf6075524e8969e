package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrInvalidCustomID  = errors.New("invalid_custom_id")
)

// Event is an authenticated provider confirmation translated to internal
// ids. TopUpID is non-zero when the confirmation targets a wallet top-up;
// otherwise Request carries the invoice settlement input.
type Event struct {
	TopUpID snowflake.ID
	Request Request
}

// The custom/metadata id convention carried through provider checkouts.
const (
	customPrefixInvoice = "INV-"
	customPrefixTopUp   = "TOPUP-"
)

// InvoiceCustomID renders the custom_id for an invoice checkout.
func InvoiceCustomID(id snowflake.ID) string {
	return fmt.Sprintf("%s%s", customPrefixInvoice, id.String())
}

// TopUpCustomID renders the custom_id for a wallet top-up checkout.
func TopUpCustomID(id snowflake.ID) string {
	return fmt.Sprintf("%s%s", customPrefixTopUp, id.String())
}

// ParseCustomID resolves a provider-carried custom id back to its internal
// target. The bool result reports whether the id names a top-up.
func ParseCustomID(custom string) (snowflake.ID, bool, error) {
	custom = strings.TrimSpace(custom)
	switch {
	case strings.HasPrefix(custom, customPrefixTopUp):
		id, err := snowflake.ParseString(strings.TrimPrefix(custom, customPrefixTopUp))
		if err != nil {
			return 0, false, ErrInvalidCustomID
		}
		return id, true, nil
	case strings.HasPrefix(custom, customPrefixInvoice):
		id, err := snowflake.ParseString(strings.TrimPrefix(custom, customPrefixInvoice))
		if err != nil {
			return 0, false, ErrInvalidCustomID
		}
		return id, false, nil
	default:
		return 0, false, ErrInvalidCustomID
	}
}
