package task

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"

	"slotwise-platform/pkg/taskname"
)

func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.CouponSweepExpired, svc.HandleSweepTask)
	mux.HandleFunc(taskname.BookingCancelled, svc.HandleBookingCancelledTask)
}

var Module = fx.Module("task.module",
	fx.Provide(
		NewService,
		NewScheduler,
	),
	fx.Invoke(
		RegisterHandlers,
		StartScheduler,
	),
)
