package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// StripeConfig carries the credentials for the Stripe webhook front door.
type StripeConfig struct {
	SecretKey     string `mapstructure:"secretKey"`
	WebhookSecret string `mapstructure:"webhookSecret"`
}

// PayPalConfig carries the credentials for both PayPal front doors
// (Checkout/Orders API and legacy IPN).
type PayPalConfig struct {
	ClientID     string `mapstructure:"clientId"`
	ClientSecret string `mapstructure:"clientSecret"`
	// APIBase is the REST API origin, e.g. https://api-m.sandbox.paypal.com.
	APIBase string `mapstructure:"apiBase"`
	// IPNVerifyURL is the postback endpoint used to validate IPN payloads.
	IPNVerifyURL string `mapstructure:"ipnVerifyUrl"`
}

type providerConfig struct {
	Stripe StripeConfig `mapstructure:"stripe"`
	PayPal PayPalConfig `mapstructure:"paypal"`
}

// ProviderConfigHolder exposes typed accessors over the provider credential
// file and hot-reloads it on change. Readers always see a complete snapshot.
type ProviderConfigHolder struct {
	current atomic.Value // holds providerConfig
}

func NewProviderConfigHolder(logger *zap.Logger) (*ProviderConfigHolder, error) {
	log := logger.Named("config.providers")
	v := viper.New()

	v.SetConfigName("providers")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tiendita/config")
	v.AddConfigPath("/etc/tiendita")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TIENDITA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg providerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	holder := &ProviderConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated providerConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("provider config reload failed", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("provider config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticProviderConfigHolder wraps fixed credentials, with no file
// watching. Used where hot reload is unwanted, tests included.
func NewStaticProviderConfigHolder(stripe StripeConfig, paypal PayPalConfig) *ProviderConfigHolder {
	holder := &ProviderConfigHolder{}
	holder.current.Store(providerConfig{Stripe: stripe, PayPal: paypal})
	return holder
}

func (h *ProviderConfigHolder) StripeConfig() StripeConfig {
	return h.current.Load().(providerConfig).Stripe
}

func (h *ProviderConfigHolder) PayPalConfig() PayPalConfig {
	return h.current.Load().(providerConfig).PayPal
}

var ErrProviderNotConfigured = errors.New("provider_not_configured")

// Validate reports whether the named provider has usable credentials.
func (h *ProviderConfigHolder) Validate(provider string) error {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "stripe":
		cfg := h.StripeConfig()
		if strings.TrimSpace(cfg.WebhookSecret) == "" {
			return ErrProviderNotConfigured
		}
	case "paypal", "paypal_ipn":
		cfg := h.PayPalConfig()
		if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
			return ErrProviderNotConfigured
		}
	default:
		return ErrProviderNotConfigured
	}
	return nil
}
