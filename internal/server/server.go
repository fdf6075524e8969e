package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tiendita/tiendita/internal/billing"
	billingdomain "github.com/tiendita/tiendita/internal/billing/domain"
	"github.com/tiendita/tiendita/internal/catalog"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	"github.com/tiendita/tiendita/internal/config"
	"github.com/tiendita/tiendita/internal/files"
	obslogger "github.com/tiendita/tiendita/internal/observability/logger"
	obsmetrics "github.com/tiendita/tiendita/internal/observability/metrics"
	"github.com/tiendita/tiendita/internal/pool"
	"github.com/tiendita/tiendita/internal/settlement"
	"github.com/tiendita/tiendita/internal/settlement/adapters/paypalipn"
	"github.com/tiendita/tiendita/internal/settlement/adapters/stripe"
	settlementservice "github.com/tiendita/tiendita/internal/settlement/service"
	"github.com/tiendita/tiendita/internal/subscription"
	subscriptiondomain "github.com/tiendita/tiendita/internal/subscription/domain"
	"github.com/tiendita/tiendita/internal/wallet"
	walletdomain "github.com/tiendita/tiendita/internal/wallet/domain"
	"github.com/tiendita/tiendita/pkg/paypal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	catalog.Module,
	billing.Module,
	pool.Module,
	files.Module,
	settlement.Module,
	subscription.Module,
	wallet.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger
	db     *gorm.DB

	providerCfg *config.ProviderConfigHolder

	settlementSvc *settlementservice.Service
	walletSvc     walletdomain.Service
	subsSvc       subscriptiondomain.Service
	store         billingdomain.Store
	catalogRepo   catalogdomain.Repository

	stripeAdapter *stripe.Adapter
	ipnAdapter    *paypalipn.Adapter
	paypalClient  *paypal.Client

	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	DB          *gorm.DB
	ProviderCfg *config.ProviderConfigHolder

	SettlementSvc *settlementservice.Service
	WalletSvc     walletdomain.Service
	SubsSvc       subscriptiondomain.Service
	Store         billingdomain.Store
	CatalogRepo   catalogdomain.Repository

	StripeAdapter *stripe.Adapter
	IPNAdapter    *paypalipn.Adapter
	PayPalClient  *paypal.Client

	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("server"),
		db:            p.DB,
		providerCfg:   p.ProviderCfg,
		settlementSvc: p.SettlementSvc,
		walletSvc:     p.WalletSvc,
		subsSvc:       p.SubsSvc,
		store:         p.Store,
		catalogRepo:   p.CatalogRepo,
		stripeAdapter: p.StripeAdapter,
		ipnAdapter:    p.IPNAdapter,
		paypalClient:  p.PayPalClient,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerCheckoutRoutes()
	svc.registerAccountRoutes()

	return svc
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
	s.engine.POST("/webhooks/paypal/ipn", s.HandlePayPalIPN)
}

func (s *Server) registerCheckoutRoutes() {
	s.engine.POST("/api/checkout/paypal", s.HandleCreatePayPalOrder)
	s.engine.GET("/api/checkout/paypal/return", s.HandlePayPalReturn)
}

func (s *Server) registerAccountRoutes() {
	s.engine.GET("/api/invoices/:id/status", s.HandleInvoiceStatus)
	s.engine.GET("/api/wallet/balance", s.HandleWalletBalance)
	s.engine.POST("/api/subscriptions/:id/cancel", s.HandleCancelSubscription)
}
