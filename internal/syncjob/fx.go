package syncjob

import (
	"context"

	"github.com/smallbiznis/famlink/internal/syncjob/domain"
	"github.com/smallbiznis/famlink/internal/syncjob/repository"
	"github.com/smallbiznis/famlink/internal/syncjob/service"
	"go.uber.org/fx"
)

var Module = fx.Module("syncjob.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

// WorkerModule starts the background sync worker. Included by binaries
// that should process the queue, not just enqueue into it.
var WorkerModule = fx.Module("syncjob.worker",
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, scheduler domain.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go scheduler.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
