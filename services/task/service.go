package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"slotwise-platform/pkg/repository"
	"slotwise-platform/pkg/taskname"
	"slotwise-platform/services/coupon"
	"slotwise-platform/services/redemption"
	"slotwise-platform/services/tenant"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	asynq   *asynq.Client
	tenants repository.Repository[tenant.Tenant]
	ledger  redemption.Ledger
	coupons *coupon.Service
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Asynq  *asynq.Client
	Ledger redemption.Ledger

	Coupons *coupon.Service `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		asynq:   p.Asynq,
		tenants: repository.ProvideStore[tenant.Tenant](p.DB),
		ledger:  p.Ledger,
		coupons: p.Coupons,
	}
}

// EnqueueTenantSweepJob creates a Job record and queues a sweep for one
// tenant.
func (s *Service) EnqueueTenantSweepJob(ctx context.Context, tenantID string) error {
	payload, _ := json.Marshal(map[string]string{
		"tenant_id": tenantID,
	})
	t := asynq.NewTask(taskname.CouponSweepExpired, payload)

	job := Job{
		ID:        s.node.Generate().String(),
		TaskID:    taskSweepExpired,
		TenantID:  tenantID,
		Status:    "pending",
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return err
	}

	if _, err := s.asynq.Enqueue(t, asynq.Queue("low")); err != nil {
		s.db.Model(&job).Update("status", "failed")
		return err
	}

	zap.L().Info("enqueued sweep job",
		zap.String("tenant_id", tenantID),
		zap.String("job_id", job.ID),
	)
	return nil
}

// HandleSweepTask is the asynq worker entrypoint. It decodes the payload and
// delegates to RunSweepJob.
func (s *Service) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	var payload struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid sweep payload", zap.Error(err))
		return err
	}

	if err := s.RunSweepJob(ctx, payload.TenantID); err != nil {
		zap.L().Error("failed to process sweep job",
			zap.String("tenant_id", payload.TenantID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) RunSweepJob(ctx context.Context, tenantID string) error {
	now := time.Now()
	job := Job{
		ID:        s.node.Generate().String(),
		TaskID:    taskSweepExpired,
		TenantID:  tenantID,
		Status:    "running",
		StartedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return err
	}

	released, err := s.ledger.SweepExpired(ctx, tenantID)
	if err != nil {
		s.db.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
			"status":    "failed",
			"error_msg": err.Error(),
		})
		return err
	}

	s.db.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
		"status":       "success",
		"completed_at": time.Now(),
	})
	zap.L().Info("sweep job finished",
		zap.String("tenant_id", tenantID),
		zap.Int64("released", released),
	)
	return nil
}

// HandleBookingCancelledTask frees the redemption a cancelled booking held.
func (s *Service) HandleBookingCancelledTask(ctx context.Context, t *asynq.Task) error {
	var payload struct {
		TenantID  string `json:"tenant_id"`
		BookingID string `json:"booking_id"`
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid booking cancelled payload", zap.Error(err))
		return err
	}
	if s.coupons == nil {
		zap.L().Warn("coupon service not wired, dropping booking cancelled task")
		return nil
	}
	return s.coupons.OnBookingCancelled(ctx, payload.TenantID, payload.BookingID)
}

// EnqueueAllTenantsSweepJobs pages through every tenant and queues a sweep
// for each.
func (s *Service) EnqueueAllTenantsSweepJobs(ctx context.Context) error {
	const batchSize = 250
	offset := 0
	total := 0

	for {
		tenants, err := s.tenants.Find(ctx, &tenant.Tenant{}, func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC").Offset(offset).Limit(batchSize)
		})
		if err != nil {
			return err
		}
		if len(tenants) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(10)
		for _, t := range tenants {
			tenantID := t.ID
			g.Go(func() error {
				if err := s.EnqueueTenantSweepJob(gctx, tenantID); err != nil {
					zap.L().Error("failed to enqueue sweep job",
						zap.String("tenant_id", tenantID), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()

		total += len(tenants)
		if len(tenants) < batchSize {
			break
		}
		offset += batchSize
	}

	zap.L().Info("finished enqueueing sweep jobs", zap.Int("total_tenants", total))
	return nil
}
