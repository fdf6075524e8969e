package paypal

import (
	"fmt"
	"strconv"
	"strings"
)

// PayPal speaks decimal strings; the ledger stores minor units. Both
// supported currencies (USD, MXN) carry two decimal places.

// FormatValue renders minor units as a PayPal amount value, e.g. 1050 → "10.50".
func FormatValue(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseValue parses a PayPal decimal amount into minor units.
func ParseValue(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}

	var cents int64
	switch len(frac) {
	case 0:
	case 1:
		cents, err = strconv.ParseInt(frac, 10, 64)
		cents *= 10
	case 2:
		cents, err = strconv.ParseInt(frac, 10, 64)
	default:
		return 0, fmt.Errorf("invalid amount precision %q", value)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}

	minor := units*100 + cents
	if negative {
		minor = -minor
	}
	return minor, nil
}
