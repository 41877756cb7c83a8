package relationship

import (
	"github.com/smallbiznis/famlink/internal/relationship/service"
	"go.uber.org/fx"
)

var Module = fx.Module("relationship.service",
	fx.Provide(service.New),
)
