package db

import (
	"time"

	"github.com/tiendita/tiendita/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("db",
	fx.Provide(Open),
)

func Open(cfg config.Config) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return conn, nil
}
