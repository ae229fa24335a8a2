package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/wirebill/wirebill/internal/clock"
	"github.com/wirebill/wirebill/internal/config"
	"github.com/wirebill/wirebill/internal/dunning"
	"github.com/wirebill/wirebill/internal/event"
	"github.com/wirebill/wirebill/internal/logger"
	"github.com/wirebill/wirebill/internal/notification"
	"github.com/wirebill/wirebill/internal/policy"
	"github.com/wirebill/wirebill/internal/prepaid"
	"github.com/wirebill/wirebill/internal/scheduler"
	"github.com/wirebill/wirebill/internal/settings"
	"github.com/wirebill/wirebill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		settings.Module,
		policy.Module,
		notification.Module,
		event.Module,
		dunning.Module,
		prepaid.Module,

		// No server module!
		scheduler.Module,
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
