package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/migration"
	"github.com/smallbiznis/atrium/internal/observability"
	"github.com/smallbiznis/atrium/internal/scheduler"
	"github.com/smallbiznis/atrium/internal/server"
	"github.com/smallbiznis/atrium/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		migration.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
