package coupon

import (
	"go.uber.org/fx"

	"slotwise-platform/pkg/config"
)

var Module = fx.Module("coupon.module",
	fx.Provide(
		NewRegistry,
		NewService,
		NewHandler,
		func(cfg *config.Config) *DefinitionCache {
			return NewDefinitionCache(cfg.CouponCacheTTL())
		},
	),
)

var Server = fx.Module("coupon.server",
	Module,
	fx.Invoke(RegisterRoutes),
)
