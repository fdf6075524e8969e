package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	clockpkg "github.com/tiendita/tiendita/internal/clock"
	obsmetrics "github.com/tiendita/tiendita/internal/observability/metrics"
	settlementdomain "github.com/tiendita/tiendita/internal/settlement/domain"
	"github.com/tiendita/tiendita/internal/wallet/domain"
	pkgdb "github.com/tiendita/tiendita/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clockpkg.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clockpkg.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateTopUp(ctx context.Context, userID snowflake.ID, amount int64, currency catalogdomain.Currency) (*domain.TopUp, error) {
	if err := settlementdomain.CheckMinimumCharge(amount, currency); err != nil {
		return nil, err
	}

	topup := domain.TopUp{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Currency:  currency,
		Amount:    amount,
		Status:    domain.TopUpStatusPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO credit_topups (id, user_id, currency, amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		topup.ID,
		topup.UserID,
		topup.Currency,
		topup.Amount,
		topup.Status,
		topup.CreatedAt,
	).Error; err != nil {
		return nil, err
	}
	return &topup, nil
}

func (s *Service) GetTopUp(ctx context.Context, id snowflake.ID) (*domain.TopUp, error) {
	var item domain.TopUp
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, currency, amount, status, provider, provider_ref,
			created_at, paid_at
		 FROM credit_topups
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrTopUpNotFound
	}
	return &item, nil
}

// SettleTopUp is guarded twice: the status<>paid condition on the UPDATE and
// the unique (provider, provider_ref) index. Either barrier alone turns a
// replayed confirmation into a no-op success.
func (s *Service) SettleTopUp(ctx context.Context, topupID snowflake.ID, provider string, providerRef string, amountObserved int64, currencyObserved catalogdomain.Currency, amountTolerance int64) (settlementdomain.Outcome, error) {
	var outcome settlementdomain.Outcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var topup domain.TopUp
		if err := tx.WithContext(ctx).Raw(
			`SELECT id, user_id, currency, amount, status, provider, provider_ref,
				created_at, paid_at
			 FROM credit_topups
			 WHERE id = ?
			 LIMIT 1`,
			topupID,
		).Scan(&topup).Error; err != nil {
			return err
		}
		if topup.ID == 0 {
			outcome = settlementdomain.Outcome{Applied: false, Reason: settlementdomain.ReasonNotFound}
			return nil
		}
		if topup.Status == domain.TopUpStatusPaid {
			outcome = settlementdomain.Outcome{Applied: false, Reason: settlementdomain.ReasonAlreadyPaid}
			return nil
		}

		if !amountMatches(&topup, amountObserved, currencyObserved, amountTolerance) {
			s.log.Warn("topup settlement dropped: amount mismatch",
				zap.String("topup_id", topup.ID.String()),
				zap.Int64("expected", topup.Amount),
				zap.Int64("observed", amountObserved),
				zap.String("observed_currency", string(currencyObserved)))
			outcome = settlementdomain.Outcome{Applied: false, Reason: settlementdomain.ReasonAmountMismatch}
			return nil
		}

		now := s.clock.Now()
		res := tx.WithContext(ctx).Exec(
			`UPDATE credit_topups
			 SET status = ?, provider = ?, provider_ref = ?, paid_at = ?
			 WHERE id = ? AND status = ?`,
			domain.TopUpStatusPaid,
			provider,
			providerRef,
			now,
			topup.ID,
			domain.TopUpStatusPending,
		)
		if res.Error != nil {
			if pkgdb.IsDuplicateKeyErr(res.Error) {
				outcome = settlementdomain.Outcome{Applied: false, Reason: settlementdomain.ReasonAlreadyPaid}
				return nil
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			outcome = settlementdomain.Outcome{Applied: false, Reason: settlementdomain.ReasonAlreadyPaid}
			return nil
		}

		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO credit_balances (user_id, currency, amount, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (user_id, currency) DO UPDATE SET
				amount = credit_balances.amount + ?,
				updated_at = ?`,
			topup.UserID,
			topup.Currency,
			topup.Amount,
			now,
			topup.Amount,
			now,
		).Error; err != nil {
			return err
		}

		outcome = settlementdomain.Outcome{Applied: true}
		return nil
	})
	if err != nil {
		return settlementdomain.Outcome{}, err
	}

	if s.obsMetrics != nil {
		label := "applied"
		if !outcome.Applied {
			label = string(outcome.Reason)
		}
		s.obsMetrics.RecordTopUp(provider, label)
	}
	if outcome.Applied {
		s.log.Info("topup settled",
			zap.String("topup_id", topupID.String()),
			zap.String("provider", provider),
			zap.String("provider_ref", providerRef))
	}
	return outcome, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID, currency catalogdomain.Currency) (int64, error) {
	var amount int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM credit_balances
		 WHERE user_id = ? AND currency = ?`,
		userID,
		currency,
	).Scan(&amount).Error
	if err != nil {
		return 0, err
	}
	return amount, nil
}

func amountMatches(topup *domain.TopUp, observed int64, currency catalogdomain.Currency, tolerance int64) bool {
	if topup.Currency != currency {
		return false
	}
	diff := topup.Amount - observed
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
