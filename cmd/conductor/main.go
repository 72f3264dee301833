package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/internal/authorization"
	"github.com/stackfleet/conductor/internal/backend"
	backendfake "github.com/stackfleet/conductor/internal/backend/fake"
	backendopenstack "github.com/stackfleet/conductor/internal/backend/openstack"
	"github.com/stackfleet/conductor/internal/config"
	"github.com/stackfleet/conductor/internal/eventlog"
	"github.com/stackfleet/conductor/internal/migration"
	"github.com/stackfleet/conductor/internal/observability"
	"github.com/stackfleet/conductor/internal/provisioning"
	"github.com/stackfleet/conductor/internal/quota"
	"github.com/stackfleet/conductor/internal/ratelimit"
	"github.com/stackfleet/conductor/internal/resource"
	"github.com/stackfleet/conductor/internal/server"
	"github.com/stackfleet/conductor/internal/structure"
	"github.com/stackfleet/conductor/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		fx.Provide(RegisterSnowflake),
		observability.Module,
		db.Module,
		migration.Module,

		eventlog.Module,
		quota.Module,
		structure.Module,
		resource.Module,
		authorization.Module,
		ratelimit.Module,

		fx.Provide(func() *backend.Registry {
			return backend.NewRegistry(
				backendopenstack.NewFactory(),
				backendfake.NewFactory(),
			)
		}),
		backend.Module,
		provisioning.Module,

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
