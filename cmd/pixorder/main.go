package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixorder/internal/clock"
	"github.com/smallbiznis/pixorder/internal/config"
	"github.com/smallbiznis/pixorder/internal/migration"
	"github.com/smallbiznis/pixorder/internal/observability"
	"github.com/smallbiznis/pixorder/internal/server"
	"github.com/smallbiznis/pixorder/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface and every domain module it serves
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(int64(cfg.NodeID))
}
