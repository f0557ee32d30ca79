package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"slotwise-platform/pkg/config"
	"slotwise-platform/pkg/db"
	"slotwise-platform/pkg/featureflags"
	"slotwise-platform/pkg/health"
	"slotwise-platform/pkg/logger"
	"slotwise-platform/pkg/redis"
	"slotwise-platform/pkg/sequence"
	"slotwise-platform/pkg/server"
	"slotwise-platform/services/catalog"
	"slotwise-platform/services/coupon"
	"slotwise-platform/services/redemption"
	"slotwise-platform/services/task"
	"slotwise-platform/services/tenant"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		featureflags.Module,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
			server.RegisterEngine,
		),
		fx.Invoke(
			db.Otel,
			db.Metric,
			migrate,
		),
		tenant.Module,
		catalog.Module,
		redemption.Module,
		coupon.Server,
		server.ProvideHTTPServer,
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
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&tenant.Tenant{},
		&catalog.Service{},
		&coupon.Coupon{},
		&coupon.ServiceEligibility{},
		&redemption.Record{},
		&redemption.UsageCounter{},
		&task.Task{},
		&task.Job{},
	)
}
