package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// InvoicePrefix is the human-readable prefix for invoice numbers.
	InvoicePrefix string

	// BaseURL is the externally visible URL of the storefront, used for
	// provider return/cancel redirects.
	BaseURL string

	// HTTPPort is the port the HTTP server listens on.
	HTTPPort string

	DBType        string
	DBHost        string
	DBPort        string
	DBName        string
	DBUser        string
	DBPassword    string
	DBSSLMode     string
	DBMaxIdleConn int
	DBMaxOpenConn int
}

func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "tiendita"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		InvoicePrefix: strings.ToUpper(getenv("INVOICE_PREFIX", "TND")),
		BaseURL:       strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/"),
		HTTPPort:      getenv("PORT", "8080"),
		DBType:        getenv("DATABASE_TYPE", "postgres"),
		DBHost:        getenv("DATABASE_HOST", "localhost"),
		DBPort:        getenv("DATABASE_PORT", "5432"),
		DBName:        getenv("DATABASE_NAME", "tiendita"),
		DBUser:        getenv("DATABASE_USER", "postgres"),
		DBPassword:    getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:     getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn: getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn: getenvInt("DATABASE_MAX_OPEN_CONN", 25),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
