package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/migration"
	"github.com/smallbiznis/storefront/internal/observability"
	"github.com/smallbiznis/storefront/internal/scheduler"
	"github.com/smallbiznis/storefront/internal/server"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// HTTP API and the domains behind it
		server.Module,

		// Background recovery of lost gateway callbacks
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
