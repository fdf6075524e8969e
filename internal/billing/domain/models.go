// Package domain contains persistence models for the invoice ledger.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
)

// InvoiceStatus represents invoice lifecycle states. pending, unpaid and
// overdue are all settleable; the external billing scheduler moves rows
// between them. paid is terminal for this core, cancellation deletes rows
// outright.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusUnpaid  InvoiceStatus = "unpaid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

var ErrInvalidTransition = errors.New("invalid_transition")

// Settleable reports whether an invoice in this status may still be paid.
func (s InvoiceStatus) Settleable() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusUnpaid, InvoiceStatusOverdue:
		return true
	default:
		return false
	}
}

// CanTransition allows only the legal edges: any settleable status may move
// to paid, the scheduler-owned states may shuffle among themselves, and paid
// is terminal.
func (s InvoiceStatus) CanTransition(to InvoiceStatus) bool {
	if s == InvoiceStatusPaid {
		return false
	}
	if to == InvoiceStatusPaid {
		return s.Settleable()
	}
	return to.Settleable()
}

// Invoice is one billing document. Amount is minor units.
type Invoice struct {
	ID             snowflake.ID           `gorm:"primaryKey"`
	Number         string                 `gorm:"type:text;not null;uniqueIndex:ux_invoices_number"`
	UserID         snowflake.ID           `gorm:"not null;index"`
	ProductID      *snowflake.ID          `gorm:"index"`
	SubscriptionID *snowflake.ID          `gorm:"index"`
	Amount         int64                  `gorm:"not null"`
	Currency       catalogdomain.Currency `gorm:"type:text;not null"`
	Status         InvoiceStatus          `gorm:"type:text;not null;default:'pending'"`
	PaymentMethod  *string                `gorm:"type:text"`
	ProviderRef    *string                `gorm:"type:text"`
	CreatedAt      time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DueAt          *time.Time             `gorm:""`
	PaidAt         *time.Time             `gorm:""`
	CycleEndAt     *time.Time             `gorm:""`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }
