package crm

import (
	"github.com/smallbiznis/famlink/internal/crm/service"
	"go.uber.org/fx"
)

var Module = fx.Module("crm.connector",
	fx.Provide(service.New),
)
