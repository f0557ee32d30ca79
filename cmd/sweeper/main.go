package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	asynqfx "slotwise-platform/pkg/asynq"
	"slotwise-platform/pkg/config"
	"slotwise-platform/pkg/db"
	"slotwise-platform/pkg/featureflags"
	"slotwise-platform/pkg/logger"
	"slotwise-platform/pkg/redis"
	"slotwise-platform/pkg/sequence"
	"slotwise-platform/services/catalog"
	"slotwise-platform/services/coupon"
	"slotwise-platform/services/redemption"
	"slotwise-platform/services/task"
	"slotwise-platform/services/tenant"
)

// The sweeper runs the asynq worker pool and the daily scheduler that
// releases expired coupon reservations.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		featureflags.Module,
		asynqfx.Client,
		asynqfx.Server,
		fx.Provide(
			provideSnowflakeNode,
		),
		tenant.Module,
		catalog.Module,
		redemption.Module,
		coupon.Module,
		task.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}
