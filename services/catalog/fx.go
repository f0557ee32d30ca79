package catalog

import (
	"go.uber.org/fx"

	"slotwise-platform/pkg/repository"
)

var Module = fx.Module("catalog.module",
	fx.Provide(
		repository.ProvideStore[Service],
		NewServiceCatalog,
		func(s *ServiceCatalog) Lookup { return s },
	),
)
