package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	settlementdomain "github.com/tiendita/tiendita/internal/settlement/domain"
)

var (
	ErrTopUpNotFound = errors.New("topup_not_found")
)

// Service is the wallet settlement path: the same verify→settle pattern as
// invoices, but crediting a balance instead of unlocking a product.
type Service interface {
	// CreateTopUp inserts a pending row after the minimum-charge check.
	CreateTopUp(ctx context.Context, userID snowflake.ID, amount int64, currency catalogdomain.Currency) (*TopUp, error)

	// SettleTopUp marks the top-up paid and credits the balance, exactly
	// once per (provider, providerRef).
	SettleTopUp(ctx context.Context, topupID snowflake.ID, provider string, providerRef string, amountObserved int64, currencyObserved catalogdomain.Currency, amountTolerance int64) (settlementdomain.Outcome, error)

	GetTopUp(ctx context.Context, id snowflake.ID) (*TopUp, error)
	Balance(ctx context.Context, userID snowflake.ID, currency catalogdomain.Currency) (int64, error)
}
