package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("subscription_not_found")
)

// Service owns subscription rows. Upsert runs inside the settlement
// transaction; Cancel opens its own.
type Service interface {
	// Upsert creates or renews the unique (user, product) row, always
	// setting status back to active. A re-purchase after cancellation
	// therefore reactivates the same row.
	Upsert(ctx context.Context, tx *gorm.DB, userID snowflake.ID, productID snowflake.ID, periodMinutes int64, nextInvoiceAt *time.Time, now time.Time) (*Subscription, error)

	// Find resolves the unique (user, product) row on the given handle so
	// callers inside a transaction see uncommitted writes.
	Find(ctx context.Context, db *gorm.DB, userID snowflake.ID, productID snowflake.ID) (*Subscription, error)

	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]Subscription, error)

	// Cancel verifies ownership, then in one transaction flips the row to
	// canceled and deletes every invoice belonging to it. This is
	// irreversible: the billing trail is gone, not soft-deleted.
	Cancel(ctx context.Context, id snowflake.ID, requestingUserID snowflake.ID) error
}
