package migration

import (
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	graphdomain "github.com/smallbiznis/famlink/internal/familygraph/domain"
	syncdomain "github.com/smallbiznis/famlink/internal/syncjob/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if conn.Dialector.Name() != "postgres" {
			// Versioned migrations are written for postgres. Other
			// dialects (sqlite in development) get the schema from the
			// models directly.
			return conn.AutoMigrate(
				&accountdomain.Account{},
				&graphdomain.Edge{},
				&syncdomain.SyncJob{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
