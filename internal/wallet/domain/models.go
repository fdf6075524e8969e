// Package domain contains persistence models for the credit wallet.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
)

// TopUpStatus represents top-up lifecycle states.
type TopUpStatus string

const (
	TopUpStatusPending  TopUpStatus = "pending"
	TopUpStatusPaid     TopUpStatus = "paid"
	TopUpStatusCanceled TopUpStatus = "canceled"
)

// TopUp is a pending or settled wallet credit purchase. Settlement
// idempotency has two independent barriers: the status guard on the UPDATE
// and the unique (provider, provider_ref) index. This path is reachable from
// an unauthenticated postback, so both must hold on their own.
type TopUp struct {
	ID          snowflake.ID           `gorm:"primaryKey"`
	UserID      snowflake.ID           `gorm:"not null;index"`
	Currency    catalogdomain.Currency `gorm:"type:text;not null"`
	Amount      int64                  `gorm:"not null"`
	Status      TopUpStatus            `gorm:"type:text;not null;default:'pending'"`
	Provider    *string                `gorm:"type:text;uniqueIndex:ux_credit_topups_provider_ref"`
	ProviderRef *string                `gorm:"type:text;uniqueIndex:ux_credit_topups_provider_ref"`
	CreatedAt   time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP"`
	PaidAt      *time.Time             `gorm:""`
}

// TableName sets the database table name.
func (TopUp) TableName() string { return "credit_topups" }

// Balance is a user's spendable credit per currency. This core only ever
// increases it; spending lives elsewhere.
type Balance struct {
	UserID    snowflake.ID           `gorm:"primaryKey"`
	Currency  catalogdomain.Currency `gorm:"primaryKey;type:text"`
	Amount    int64                  `gorm:"not null;default:0"`
	UpdatedAt time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Balance) TableName() string { return "credit_balances" }
