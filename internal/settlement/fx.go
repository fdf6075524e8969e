package settlement

import (
	"github.com/tiendita/tiendita/internal/config"
	"github.com/tiendita/tiendita/internal/settlement/adapters/paypalipn"
	"github.com/tiendita/tiendita/internal/settlement/adapters/stripe"
	"github.com/tiendita/tiendita/internal/settlement/service"
	"github.com/tiendita/tiendita/pkg/paypal"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(service.NewService),
	fx.Provide(stripe.NewAdapter),
	fx.Provide(func(cfg *config.ProviderConfigHolder) *paypal.Client {
		pp := cfg.PayPalConfig()
		return paypal.NewClient(paypal.Config{
			ClientID:     pp.ClientID,
			ClientSecret: pp.ClientSecret,
			APIBase:      pp.APIBase,
			IPNVerifyURL: pp.IPNVerifyURL,
		})
	}),
	fx.Provide(func(client *paypal.Client) *paypalipn.Adapter {
		return paypalipn.NewAdapter(client)
	}),
)
