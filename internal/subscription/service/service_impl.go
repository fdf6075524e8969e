package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	clockpkg "github.com/tiendita/tiendita/internal/clock"
	"github.com/tiendita/tiendita/internal/files"
	"github.com/tiendita/tiendita/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clockpkg.Clock
	Files files.Collaborator
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clockpkg.Clock
	files files.Collaborator
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		clock: p.Clock,
		files: p.Files,
	}
}

func (s *Service) Upsert(ctx context.Context, tx *gorm.DB, userID snowflake.ID, productID snowflake.ID, periodMinutes int64, nextInvoiceAt *time.Time, now time.Time) (*domain.Subscription, error) {
	id := s.genID.Generate()
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, product_id, period_minutes, next_invoice_at,
			status, canceled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			period_minutes = ?,
			next_invoice_at = ?,
			status = ?,
			canceled_at = NULL,
			updated_at = ?`,
		id,
		userID,
		productID,
		periodMinutes,
		nextInvoiceAt,
		domain.StatusActive,
		now,
		now,
		periodMinutes,
		nextInvoiceAt,
		domain.StatusActive,
		now,
	).Error; err != nil {
		return nil, err
	}

	return s.Find(ctx, tx, userID, productID)
}

func (s *Service) Find(ctx context.Context, db *gorm.DB, userID snowflake.ID, productID snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, product_id, period_minutes, next_invoice_at,
			status, canceled_at, created_at, updated_at
		 FROM subscriptions
		 WHERE user_id = ? AND product_id = ?
		 LIMIT 1`,
		userID,
		productID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, product_id, period_minutes, next_invoice_at,
			status, canceled_at, created_at, updated_at
		 FROM subscriptions
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, product_id, period_minutes, next_invoice_at,
			status, canceled_at, created_at, updated_at
		 FROM subscriptions
		 WHERE user_id = ?
		 ORDER BY created_at DESC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, requestingUserID snowflake.ID) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	// Ownership failure looks identical to a missing row; a caller must not
	// learn that someone else's subscription exists.
	if sub.UserID != requestingUserID {
		return domain.ErrNotFound
	}

	now := s.clock.Now()
	var purgedNumbers []string

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE subscriptions
			 SET status = ?, canceled_at = ?, updated_at = ?
			 WHERE id = ?`,
			domain.StatusCanceled,
			now,
			now,
			sub.ID,
		).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Raw(
			`SELECT number
			 FROM invoices
			 WHERE subscription_id = ? OR (user_id = ? AND product_id = ?)`,
			sub.ID,
			sub.UserID,
			sub.ProductID,
		).Scan(&purgedNumbers).Error; err != nil {
			return err
		}

		return tx.WithContext(ctx).Exec(
			`DELETE FROM invoices
			 WHERE subscription_id = ? OR (user_id = ? AND product_id = ?)`,
			sub.ID,
			sub.UserID,
			sub.ProductID,
		).Error
	})
	if err != nil {
		return err
	}

	for _, number := range purgedNumbers {
		if err := s.files.ReleaseInvoicePDF(ctx, number); err != nil {
			s.log.Warn("failed to release invoice pdf",
				zap.String("number", number), zap.Error(err))
		}
	}

	s.log.Info("subscription canceled",
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("invoices_purged", len(purgedNumbers)))
	return nil
}
