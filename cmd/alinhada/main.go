package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/vidaalinhada/alinhada/internal/checkout"
	"github.com/vidaalinhada/alinhada/internal/clock"
	"github.com/vidaalinhada/alinhada/internal/config"
	"github.com/vidaalinhada/alinhada/internal/entitlement"
	"github.com/vidaalinhada/alinhada/internal/fallbackcache"
	"github.com/vidaalinhada/alinhada/internal/gateway"
	"github.com/vidaalinhada/alinhada/internal/migration"
	"github.com/vidaalinhada/alinhada/internal/observability"
	"github.com/vidaalinhada/alinhada/internal/ratelimit"
	"github.com/vidaalinhada/alinhada/internal/scheduler"
	"github.com/vidaalinhada/alinhada/internal/server"
	"github.com/vidaalinhada/alinhada/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		fallbackcache.Module,
		gateway.Module,
		entitlement.Module,
		checkout.Module,
		ratelimit.Module,
		scheduler.Module,

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
