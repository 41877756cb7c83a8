package familygraph

import (
	"github.com/smallbiznis/famlink/internal/familygraph/repository"
	"github.com/smallbiznis/famlink/internal/familygraph/service"
	"go.uber.org/fx"
)

var Module = fx.Module("familygraph.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
