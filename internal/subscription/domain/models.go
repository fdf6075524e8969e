// Package domain contains persistence models for subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
)

// Subscription is a user's entitlement to a product, unique per
// (user, product). One-time single-delivery products get a row with a zero
// period to block repurchase; recurring products carry their billing anchor
// in NextInvoiceAt.
type Subscription struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	UserID        snowflake.ID `gorm:"not null;uniqueIndex:ux_subscriptions_user_product"`
	ProductID     snowflake.ID `gorm:"not null;uniqueIndex:ux_subscriptions_user_product"`
	PeriodMinutes int64        `gorm:"not null;default:0"`
	NextInvoiceAt *time.Time   `gorm:""`
	Status        Status       `gorm:"type:text;not null;default:'active'"`
	CanceledAt    *time.Time   `gorm:""`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
