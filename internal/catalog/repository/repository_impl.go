package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/tiendita/tiendita/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var item domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, amount, currency, billing_type, period_minutes,
			delivery_mode, stock, created_at, updated_at
		 FROM products
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrProductNotFound
	}
	return &item, nil
}

func (r *repo) DecrementStock(ctx context.Context, db *gorm.DB, productID snowflake.ID) error {
	// Conditional write keeps stock from going negative under concurrent
	// settlements; zero rows affected means the floor was already reached.
	return db.WithContext(ctx).Exec(
		`UPDATE products
		 SET stock = stock - 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND stock IS NOT NULL AND stock > 0`,
		productID,
	).Error
}
