package service

import (
	"context"
	"errors"
	"time"

	billingdomain "github.com/tiendita/tiendita/internal/billing/domain"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	clockpkg "github.com/tiendita/tiendita/internal/clock"
	"github.com/tiendita/tiendita/internal/files"
	obsmetrics "github.com/tiendita/tiendita/internal/observability/metrics"
	"github.com/tiendita/tiendita/internal/pool"
	"github.com/tiendita/tiendita/internal/settlement/domain"
	subscriptiondomain "github.com/tiendita/tiendita/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clockpkg.Clock
	Store      billingdomain.Store
	Catalog    catalogdomain.Repository
	Pool       *pool.Allocator
	Subs       subscriptiondomain.Service
	Files      files.Collaborator
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the single chokepoint that turns a confirmed external payment
// into durable state. Every multi-row effect happens in one transaction.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clockpkg.Clock
	store      billingdomain.Store
	catalog    catalogdomain.Repository
	pool       *pool.Allocator
	subs       subscriptiondomain.Service
	files      files.Collaborator
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("settlement.service"),
		clock:      p.Clock,
		store:      p.Store,
		catalog:    p.Catalog,
		pool:       p.Pool,
		subs:       p.Subs,
		files:      p.Files,
		obsMetrics: p.ObsMetrics,
	}
}

// Settle applies one confirmed payment. Replays of the same confirmation are
// absorbed by the provider-ref lookup and the status guard; the caller gets
// a no-op success with ReasonAlreadyPaid. Pool exhaustion and ownership
// conflicts roll everything back and also return the error so operators see
// them.
func (s *Service) Settle(ctx context.Context, req domain.Request) (domain.Outcome, error) {
	if err := validateRequest(req); err != nil {
		return domain.Outcome{}, err
	}

	now := s.clock.Now()
	var (
		outcome      domain.Outcome
		purgedPDFs   []string
		settleErr    error
		loggedFields []zap.Field
	)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A confirmation reference settles at most one invoice. Redeliveries
		// that arrive without an invoice id would otherwise mint a fresh
		// pending invoice and settle the purchase twice.
		if req.ProviderRef != "" {
			prior, err := s.store.FindInvoiceByProviderRef(ctx, tx, req.Method, req.ProviderRef)
			if err == nil {
				outcome = domain.Outcome{Applied: false, Reason: domain.ReasonAlreadyPaid, InvoiceID: prior.ID}
				return nil
			}
			if !errors.Is(err, billingdomain.ErrInvoiceNotFound) {
				return err
			}
		}

		invoice, err := s.resolveInvoice(ctx, tx, req, now)
		if err != nil {
			if errors.Is(err, billingdomain.ErrInvoiceNotFound) || errors.Is(err, catalogdomain.ErrProductNotFound) {
				outcome = domain.Outcome{Applied: false, Reason: domain.ReasonNotFound}
				return nil
			}
			return err
		}
		outcome.InvoiceID = invoice.ID

		if invoice.Status == billingdomain.InvoiceStatusPaid {
			outcome = domain.Outcome{Applied: false, Reason: domain.ReasonAlreadyPaid, InvoiceID: invoice.ID}
			return nil
		}

		if !amountMatches(invoice, req) {
			// Tampered or stale amounts are dropped, never settled. The
			// invoice stays pending for a later, correct confirmation.
			loggedFields = []zap.Field{
				zap.String("invoice", invoice.Number),
				zap.Int64("expected", invoice.Amount),
				zap.Int64("observed", req.AmountObserved),
				zap.String("expected_currency", string(invoice.Currency)),
				zap.String("observed_currency", string(req.CurrencyObserved)),
			}
			outcome = domain.Outcome{Applied: false, Reason: domain.ReasonAmountMismatch, InvoiceID: invoice.ID}
			return nil
		}

		var product *catalogdomain.Product
		if invoice.ProductID != nil {
			product, err = s.catalog.FindProduct(ctx, tx, *invoice.ProductID)
			if err != nil && !errors.Is(err, catalogdomain.ErrProductNotFound) {
				return err
			}
		}

		if product != nil {
			if err := s.applyBillingOutcome(ctx, tx, invoice, product, now); err != nil {
				if errors.Is(err, domain.ErrAlreadyOwned) {
					outcome = domain.Outcome{Applied: false, Reason: domain.ReasonConflict, InvoiceID: invoice.ID}
					settleErr = domain.ErrAlreadyOwned
				}
				return err
			}

			if product.DeliveryMode != catalogdomain.DeliveryShared && product.Stock != nil {
				if err := s.catalog.DecrementStock(ctx, tx, product.ID); err != nil {
					return err
				}
			}

			if product.DeliveryMode == catalogdomain.DeliveryShared {
				item, err := s.pool.AllocateNext(ctx, tx, product.ID, invoice.UserID, now)
				if err != nil {
					if errors.Is(err, pool.ErrPoolExhausted) {
						// A buyer must not be confirmed with nothing to
						// deliver: abort the whole settlement.
						outcome = domain.Outcome{Applied: false, Reason: domain.ReasonPoolExhausted, InvoiceID: invoice.ID}
						settleErr = domain.ErrPoolExhausted
						return domain.ErrPoolExhausted
					}
					return err
				}
				outcome.RevealedContent = item.Content
			}
		}

		paid, err := s.store.MarkInvoicePaid(ctx, tx, invoice.ID, req.Method, req.ProviderRef, now)
		if err != nil {
			return err
		}
		if !paid {
			outcome = domain.Outcome{Applied: false, Reason: domain.ReasonAlreadyPaid, InvoiceID: invoice.ID}
			return nil
		}

		if invoice.ProductID != nil {
			purgedPDFs, err = s.store.PurgeStaleInvoices(ctx, tx, invoice.UserID, *invoice.ProductID, invoice.ID)
			if err != nil {
				return err
			}
		}

		outcome.Applied = true
		outcome.Reason = ""
		return nil
	})

	provider := req.Provider
	if txErr != nil {
		if settleErr != nil {
			s.log.Error("settlement aborted",
				zap.String("provider", provider),
				zap.String("provider_ref", req.ProviderRef),
				zap.String("reason", string(outcome.Reason)))
			s.recordOutcome(provider, string(outcome.Reason))
			return outcome, settleErr
		}
		return domain.Outcome{}, txErr
	}

	if len(loggedFields) > 0 {
		s.log.Warn("settlement dropped: amount mismatch", loggedFields...)
	}

	for _, number := range purgedPDFs {
		if err := s.files.ReleaseInvoicePDF(ctx, number); err != nil {
			s.log.Warn("failed to release invoice pdf",
				zap.String("number", number), zap.Error(err))
		}
	}

	if outcome.Applied {
		s.recordOutcome(provider, "applied")
		s.log.Info("settlement applied",
			zap.String("provider", provider),
			zap.String("provider_ref", req.ProviderRef),
			zap.String("invoice_id", outcome.InvoiceID.String()))
	} else {
		s.recordOutcome(provider, string(outcome.Reason))
	}
	return outcome, nil
}

func validateRequest(req domain.Request) error {
	switch req.Provider {
	case domain.ProviderStripe, domain.ProviderPayPal, domain.ProviderPayPalIPN, domain.ProviderCredits:
	default:
		return domain.ErrInvalidProvider
	}
	if req.InvoiceID == 0 && (req.ProductID == 0 || req.UserID == 0) {
		return domain.ErrInvalidRequest
	}
	if !req.CurrencyObserved.Valid() {
		return domain.ErrInvalidRequest
	}
	if req.AmountObserved <= 0 {
		return domain.ErrInvalidRequest
	}
	return nil
}

func (s *Service) resolveInvoice(ctx context.Context, tx *gorm.DB, req domain.Request, now time.Time) (*billingdomain.Invoice, error) {
	if req.InvoiceID != 0 {
		return s.store.FindInvoice(ctx, tx, req.InvoiceID)
	}
	product, err := s.catalog.FindProduct(ctx, tx, req.ProductID)
	if err != nil {
		return nil, err
	}
	return s.store.CreatePendingInvoice(ctx, tx, req.UserID, product, now)
}

func amountMatches(invoice *billingdomain.Invoice, req domain.Request) bool {
	if invoice.Currency != req.CurrencyObserved {
		return false
	}
	diff := invoice.Amount - req.AmountObserved
	if diff < 0 {
		diff = -diff
	}
	return diff <= req.AmountTolerance
}

// applyBillingOutcome creates or renews the subscription row where the
// product calls for one. One-time shared products get no row at all, so
// repeat purchases stay possible.
func (s *Service) applyBillingOutcome(ctx context.Context, tx *gorm.DB, invoice *billingdomain.Invoice, product *catalogdomain.Product, now time.Time) error {
	switch product.BillingType {
	case catalogdomain.BillingTypeRecurring:
		next := now.Add(time.Duration(product.PeriodMinutes) * time.Minute)
		sub, err := s.subs.Upsert(ctx, tx, invoice.UserID, product.ID, product.PeriodMinutes, &next, now)
		if err != nil {
			return err
		}
		return s.store.AttachSubscription(ctx, tx, invoice.ID, sub.ID, &next)
	case catalogdomain.BillingTypeOneTime:
		if product.DeliveryMode == catalogdomain.DeliveryShared {
			return nil
		}
		// A one-time product with its own row blocks a second purchase
		// while the row is active. Re-purchase after cancellation goes
		// through Upsert and reactivates it.
		existing, err := s.subs.Find(ctx, tx, invoice.UserID, product.ID)
		if err != nil && !errors.Is(err, subscriptiondomain.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Status == subscriptiondomain.StatusActive {
			return domain.ErrAlreadyOwned
		}
		sub, err := s.subs.Upsert(ctx, tx, invoice.UserID, product.ID, 0, nil, now)
		if err != nil {
			return err
		}
		return s.store.AttachSubscription(ctx, tx, invoice.ID, sub.ID, nil)
	default:
		return domain.ErrInvalidRequest
	}
}

func (s *Service) recordOutcome(provider, outcome string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordSettlement(provider, outcome)
}
