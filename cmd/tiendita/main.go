package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tiendita/tiendita/internal/clock"
	"github.com/tiendita/tiendita/internal/config"
	"github.com/tiendita/tiendita/internal/migration"
	"github.com/tiendita/tiendita/internal/observability"
	"github.com/tiendita/tiendita/internal/server"
	"github.com/tiendita/tiendita/pkg/db"
	"github.com/tiendita/tiendita/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
