package tenant

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"slotwise-platform/pkg/errutil"
	"slotwise-platform/pkg/rediskey"
	"slotwise-platform/pkg/repository"
)

const statusCacheTTL = 60 * time.Second

// StatusChecker is the read surface the coupon flow needs: is this tenant
// allowed to transact right now.
type StatusChecker interface {
	IsTenantActive(ctx context.Context, tenantID string) (bool, error)
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	redis *redis.Client
	repo  repository.Repository[Tenant]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Redis *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		redis: p.Redis,
		repo:  repository.ProvideStore[Tenant](p.DB),
	}
}

type CreateTenantInput struct {
	Name     string
	Slug     string
	Timezone string
}

func (s *Service) Create(ctx context.Context, in CreateTenantInput) (*Tenant, error) {
	if in.Name == "" {
		return nil, errutil.BadRequest("name is required", nil)
	}

	slugName := in.Slug
	if slugName == "" {
		slugName = slug.Make(in.Name)
	}

	exist, err := s.repo.FindOne(ctx, &Tenant{Slug: slugName})
	if err != nil {
		return nil, errutil.Internal("failed to check tenant slug", err)
	}
	if exist != nil {
		return nil, errutil.Conflict("tenant slug already exists", nil)
	}

	t := &Tenant{
		ID:       s.node.Generate().String(),
		Name:     in.Name,
		Slug:     slugName,
		Timezone: in.Timezone,
		Status:   StatusActive,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		zap.L().Error("failed to create tenant", zap.Error(err))
		return nil, errutil.Internal("failed to create tenant", err)
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	t, err := s.repo.FindOne(ctx, &Tenant{ID: tenantID})
	if err != nil {
		return nil, errutil.Internal("failed to query tenant", err)
	}
	if t == nil {
		return nil, errutil.NotFound("tenant not found", nil)
	}
	return t, nil
}

func (s *Service) SetStatus(ctx context.Context, tenantID string, status Status) (*Tenant, error) {
	if !status.Valid() {
		return nil, errutil.UnprocessableEntity("invalid tenant status", nil)
	}
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&Tenant{}).
		Where("id = ?", tenantID).
		Update("status", status).Error; err != nil {
		return nil, errutil.Internal("failed to update tenant status", err)
	}
	t.Status = status

	if s.redis != nil {
		s.redis.Del(ctx, rediskey.BuildTenantStatusKey(tenantID))
	}
	return t, nil
}

// IsTenantActive answers from redis when it can; the status changes rarely
// and the coupon flow asks on every request.
func (s *Service) IsTenantActive(ctx context.Context, tenantID string) (bool, error) {
	key := rediskey.BuildTenantStatusKey(tenantID)

	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return Status(cached) == StatusActive, nil
		}
	}

	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return false, err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, string(t.Status), statusCacheTTL).Err(); err != nil {
			zap.L().Warn("failed to cache tenant status", zap.Error(err))
		}
	}
	return t.Status == StatusActive, nil
}
