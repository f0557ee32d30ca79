package catalog

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"slotwise-platform/pkg/db/option"
	"slotwise-platform/pkg/errutil"
	"slotwise-platform/pkg/repository"
)

// Lookup is the narrow read surface other components need from the catalog.
type Lookup interface {
	ServiceExists(ctx context.Context, tenantID, serviceID string) (bool, error)
}

type ServiceCatalog struct {
	db       *gorm.DB
	node     *snowflake.Node
	services repository.Repository[Service]
}

func NewServiceCatalog(
	db *gorm.DB,
	node *snowflake.Node,
	services repository.Repository[Service],
) *ServiceCatalog {
	return &ServiceCatalog{
		db:       db,
		node:     node,
		services: services,
	}
}

func (s *ServiceCatalog) Create(ctx context.Context, in Service) (*Service, error) {
	if in.TenantID == "" {
		return nil, errutil.BadRequest("tenant_id is required", nil)
	}
	if in.Name == "" {
		return nil, errutil.BadRequest("name is required", nil)
	}

	in.ID = s.node.Generate().String()
	if err := s.services.Create(ctx, &in); err != nil {
		zap.L().Error("failed to create service", zap.Error(err))
		return nil, errutil.Internal("failed to create service", err)
	}
	return &in, nil
}

func (s *ServiceCatalog) Get(ctx context.Context, tenantID, serviceID string) (*Service, error) {
	svc, err := s.services.FindOne(ctx, &Service{ID: serviceID, TenantID: tenantID})
	if err != nil {
		return nil, errutil.Internal("failed to query service", err)
	}
	if svc == nil {
		return nil, errutil.NotFound("service not found", nil)
	}
	return svc, nil
}

func (s *ServiceCatalog) List(ctx context.Context, tenantID string, opts ...option.QueryOption) ([]*Service, error) {
	return s.services.Find(ctx, &Service{TenantID: tenantID}, opts...)
}

func (s *ServiceCatalog) ServiceExists(ctx context.Context, tenantID, serviceID string) (bool, error) {
	count, err := s.services.Count(ctx, &Service{ID: serviceID, TenantID: tenantID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
