package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
)

// Store owns every invoice mutation. All methods that write take the
// settlement transaction so multi-row effects stay atomic.
type Store interface {
	FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)

	// FindInvoiceByProviderRef resolves the invoice a provider confirmation
	// already settled. Redelivered confirmations that carry only product and
	// user ids are absorbed through this lookup instead of minting a fresh
	// pending invoice.
	FindInvoiceByProviderRef(ctx context.Context, db *gorm.DB, method string, providerRef string) (*Invoice, error)

	// CreatePendingInvoice reuses an existing settleable invoice for the
	// same (user, product) if one exists, otherwise allocates the next
	// daily sequence number and inserts a new row.
	CreatePendingInvoice(ctx context.Context, tx *gorm.DB, userID snowflake.ID, product *catalogdomain.Product, now time.Time) (*Invoice, error)

	// MarkInvoicePaid flips pending→paid exactly once. Returns false when
	// the invoice was already paid; that is the idempotency guard.
	MarkInvoicePaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, method string, providerRef string, now time.Time) (bool, error)

	// AttachSubscription links an invoice to the subscription row created
	// or renewed during settlement and mirrors the cycle end.
	AttachSubscription(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, subscriptionID snowflake.ID, cycleEndAt *time.Time) error

	// PurgeStaleInvoices deletes every other settleable invoice for the
	// same (user, product), returning the numbers of the deleted rows so
	// the caller can release their PDFs.
	PurgeStaleInvoices(ctx context.Context, tx *gorm.DB, userID snowflake.ID, productID snowflake.ID, keepID snowflake.ID) ([]string, error)
}
