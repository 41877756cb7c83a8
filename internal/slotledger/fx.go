package slotledger

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/famlink/internal/slotledger/service"
	"go.uber.org/fx"
)

type lockerParams struct {
	fx.In

	Redis *redis.Client `optional:"true"`
}

func provideLocker(p lockerParams) *service.Locker {
	if p.Redis == nil {
		return nil
	}
	return service.NewLocker(p.Redis)
}

var Module = fx.Module("slotledger.service",
	fx.Provide(provideLocker),
	fx.Provide(service.New),
)
