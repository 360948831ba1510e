package main

import (
	"github.com/andora/tokenledger/internal/clock"
	"github.com/andora/tokenledger/internal/config"
	"github.com/andora/tokenledger/internal/migration"
	"github.com/andora/tokenledger/internal/observability"
	"github.com/andora/tokenledger/internal/scheduler"
	"github.com/andora/tokenledger/internal/server"
	"github.com/andora/tokenledger/pkg/db"
	"github.com/bwmarrin/snowflake"
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

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
