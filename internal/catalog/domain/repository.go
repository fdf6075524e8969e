package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrProductNotFound = errors.New("product_not_found")
)

// Repository reads catalog state. DecrementStock is the only catalog write
// the settlement core performs, and it floors at zero.
type Repository interface {
	FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	DecrementStock(ctx context.Context, db *gorm.DB, productID snowflake.ID) error
}
