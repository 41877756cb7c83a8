package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/famlink/internal/account"
	"github.com/smallbiznis/famlink/internal/clock"
	"github.com/smallbiznis/famlink/internal/config"
	"github.com/smallbiznis/famlink/internal/crm"
	"github.com/smallbiznis/famlink/internal/familygraph"
	"github.com/smallbiznis/famlink/internal/lifecycle"
	"github.com/smallbiznis/famlink/internal/migration"
	"github.com/smallbiznis/famlink/internal/notification"
	"github.com/smallbiznis/famlink/internal/observability"
	"github.com/smallbiznis/famlink/internal/redisconn"
	"github.com/smallbiznis/famlink/internal/relationship"
	"github.com/smallbiznis/famlink/internal/server"
	"github.com/smallbiznis/famlink/internal/slotledger"
	"github.com/smallbiznis/famlink/internal/syncjob"
	"github.com/smallbiznis/famlink/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisconn.Module,
		migration.Module,

		account.Module,
		familygraph.Module,
		slotledger.Module,
		crm.Module,
		relationship.Module,
		syncjob.Module,
		syncjob.WorkerModule,
		notification.Module,
		lifecycle.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
