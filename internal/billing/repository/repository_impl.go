package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tiendita/tiendita/internal/billing/domain"
	"github.com/tiendita/tiendita/internal/billing/format"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	"github.com/tiendita/tiendita/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg   config.Config
	GenID *snowflake.Node
}

type store struct {
	prefix string
	genID  *snowflake.Node
}

func Provide(p Params) domain.Store {
	return &store{
		prefix: p.Cfg.InvoicePrefix,
		genID:  p.GenID,
	}
}

func (s *store) FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, number, user_id, product_id, subscription_id, amount,
			currency, status, payment_method, provider_ref, created_at,
			due_at, paid_at, cycle_end_at
		 FROM invoices
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	return &item, nil
}

func (s *store) FindInvoiceByProviderRef(ctx context.Context, db *gorm.DB, method string, providerRef string) (*domain.Invoice, error) {
	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, number, user_id, product_id, subscription_id, amount,
			currency, status, payment_method, provider_ref, created_at,
			due_at, paid_at, cycle_end_at
		 FROM invoices
		 WHERE payment_method = ? AND provider_ref = ?
		 LIMIT 1`,
		method,
		providerRef,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	return &item, nil
}

func (s *store) CreatePendingInvoice(ctx context.Context, tx *gorm.DB, userID snowflake.ID, product *catalogdomain.Product, now time.Time) (*domain.Invoice, error) {
	if product == nil {
		return nil, catalogdomain.ErrProductNotFound
	}

	var existing domain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT id, number, user_id, product_id, subscription_id, amount,
			currency, status, payment_method, provider_ref, created_at,
			due_at, paid_at, cycle_end_at
		 FROM invoices
		 WHERE user_id = ? AND product_id = ? AND status IN ('pending', 'unpaid', 'overdue')
		 ORDER BY created_at ASC
		 LIMIT 1`,
		userID,
		product.ID,
	).Scan(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.ID != 0 {
		return &existing, nil
	}

	seq, err := s.nextSequence(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	number, err := format.FormatInvoiceNumber(s.prefix, now, seq)
	if err != nil {
		return nil, err
	}

	invoice := domain.Invoice{
		ID:        s.genID.Generate(),
		Number:    number,
		UserID:    userID,
		ProductID: &product.ID,
		Amount:    product.Amount,
		Currency:  product.Currency,
		Status:    domain.InvoiceStatusPending,
		CreatedAt: now,
	}
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, number, user_id, product_id, amount, currency, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.Number,
		invoice.UserID,
		invoice.ProductID,
		invoice.Amount,
		invoice.Currency,
		invoice.Status,
		invoice.CreatedAt,
	).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// nextSequence increments the per-day counter inside the settlement
// transaction so two settlements can never share an invoice number.
func (s *store) nextSequence(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	day := format.SequenceDay(now)
	var value int64
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO invoice_sequences (day, value)
		 VALUES (?, 1)
		 ON CONFLICT (day) DO UPDATE SET value = invoice_sequences.value + 1
		 RETURNING value`,
		day,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, errors.New("invoice_sequence_not_allocated")
	}
	return value, nil
}

func (s *store) MarkInvoicePaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, method string, providerRef string, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, payment_method = ?, provider_ref = ?, paid_at = ?
		 WHERE id = ? AND status IN ('pending', 'unpaid', 'overdue')`,
		domain.InvoiceStatusPaid,
		method,
		providerRef,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *store) AttachSubscription(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, subscriptionID snowflake.ID, cycleEndAt *time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET subscription_id = ?, cycle_end_at = ?
		 WHERE id = ?`,
		subscriptionID,
		cycleEndAt,
		invoiceID,
	).Error
}

func (s *store) PurgeStaleInvoices(ctx context.Context, tx *gorm.DB, userID snowflake.ID, productID snowflake.ID, keepID snowflake.ID) ([]string, error) {
	var numbers []string
	err := tx.WithContext(ctx).Raw(
		`SELECT number
		 FROM invoices
		 WHERE user_id = ? AND product_id = ? AND id <> ?
		   AND status IN ('pending', 'unpaid', 'overdue')`,
		userID,
		productID,
		keepID,
	).Scan(&numbers).Error
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	if err := tx.WithContext(ctx).Exec(
		`DELETE FROM invoices
		 WHERE user_id = ? AND product_id = ? AND id <> ?
		   AND status IN ('pending', 'unpaid', 'overdue')`,
		userID,
		productID,
		keepID,
	).Error; err != nil {
		return nil, err
	}
	return numbers, nil
}
