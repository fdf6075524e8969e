package format

import (
	"fmt"
	"time"
)

// FormatInvoiceNumber renders the human-readable invoice number
// <PREFIX>-<YYYYMMDD>-<5-digit-sequence>. The sequence resets daily; the
// caller allocates it from the per-day sequence table.
func FormatInvoiceNumber(prefix string, issuedAt time.Time, seq int64) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("invoice number prefix is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}
	return fmt.Sprintf("%s-%s-%05d", prefix, issuedAt.UTC().Format("20060102"), seq), nil
}

// SequenceDay is the per-day key invoice sequences are allocated under.
func SequenceDay(issuedAt time.Time) string {
	return issuedAt.UTC().Format("2006-01-02")
}
