// Package domain contains persistence models for the product catalog.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Currency is one of the storefront's supported settlement currencies.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyMXN Currency = "MXN"
)

func (c Currency) Valid() bool {
	return c == CurrencyUSD || c == CurrencyMXN
}

// BillingType distinguishes one-off purchases from recurring services.
type BillingType string

const (
	BillingTypeOneTime   BillingType = "one_time"
	BillingTypeRecurring BillingType = "recurring"
)

// DeliveryMode distinguishes regular stocked products from shared-pool ones.
type DeliveryMode string

const (
	DeliverySingle DeliveryMode = "single"
	DeliveryShared DeliveryMode = "shared"
)

// Product is read-only to the settlement core except for stock decrements.
// Amounts are minor units (cents/centavos).
type Product struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Name          string       `gorm:"type:text;not null"`
	Amount        int64        `gorm:"not null"`
	Currency      Currency     `gorm:"type:text;not null"`
	BillingType   BillingType  `gorm:"type:text;not null;default:'one_time'"`
	PeriodMinutes int64        `gorm:"not null;default:0"`
	DeliveryMode  DeliveryMode `gorm:"type:text;not null;default:'single'"`
	Stock         *int64       `gorm:""`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Product) TableName() string { return "products" }

// SharedItem is one unit of a shared delivery pool. RevealedToUserID is
// write-once: once stamped it never changes.
type SharedItem struct {
	ID               snowflake.ID  `gorm:"primaryKey"`
	ProductID        snowflake.ID  `gorm:"not null;index"`
	Content          string        `gorm:"type:text;not null"`
	OrderIndex       int64         `gorm:"not null;default:0"`
	RevealedToUserID *snowflake.ID `gorm:""`
	RevealedAt       *time.Time    `gorm:""`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SharedItem) TableName() string { return "shared_items" }
