// Package pool assigns shared-delivery content items to buyers, one per
// successful purchase, exclusively and without reuse.
package pool

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPoolExhausted = errors.New("pool_exhausted")
)

// allocation retries cover the race between selecting a candidate row and
// another transaction claiming it first.
const maxAllocateAttempts = 3

type Params struct {
	fx.In

	Log *zap.Logger
}

type Allocator struct {
	log *zap.Logger
}

func NewAllocator(p Params) *Allocator {
	return &Allocator{
		log: p.Log.Named("pool.allocator"),
	}
}

// AvailableCount returns how many items of the product are still unrevealed.
func (a *Allocator) AvailableCount(ctx context.Context, db *gorm.DB, productID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM shared_items
		 WHERE product_id = ? AND revealed_to_user_id IS NULL`,
		productID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AllocateNext stamps the available item with the lowest order_index for the
// user and returns it. The reveal is an atomic conditional update, so two
// settlements can never claim the same row even on a multi-writer database.
// Must run inside the settlement transaction: a rolled-back settlement must
// not leave an item revealed.
func (a *Allocator) AllocateNext(ctx context.Context, tx *gorm.DB, productID snowflake.ID, userID snowflake.ID, now time.Time) (*catalogdomain.SharedItem, error) {
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		var candidateID snowflake.ID
		err := tx.WithContext(ctx).Raw(
			`SELECT id
			 FROM shared_items
			 WHERE product_id = ? AND revealed_to_user_id IS NULL
			 ORDER BY order_index ASC
			 LIMIT 1`,
			productID,
		).Scan(&candidateID).Error
		if err != nil {
			return nil, err
		}
		if candidateID == 0 {
			return nil, ErrPoolExhausted
		}

		res := tx.WithContext(ctx).Exec(
			`UPDATE shared_items
			 SET revealed_to_user_id = ?, revealed_at = ?
			 WHERE id = ? AND revealed_to_user_id IS NULL`,
			userID,
			now,
			candidateID,
		)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the candidate to a concurrent settlement; pick again.
			continue
		}

		var item catalogdomain.SharedItem
		if err := tx.WithContext(ctx).Raw(
			`SELECT id, product_id, content, order_index, revealed_to_user_id,
				revealed_at, created_at
			 FROM shared_items
			 WHERE id = ?`,
			candidateID,
		).Scan(&item).Error; err != nil {
			return nil, err
		}
		return &item, nil
	}

	a.log.Warn("shared item allocation exhausted retries",
		zap.String("product_id", productID.String()))
	return nil, ErrPoolExhausted
}

var Module = fx.Module("pool",
	fx.Provide(NewAllocator),
)
