package rollback

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
)

type managerParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	DB            *sqlx.DB
	Registry      *registry.Registry
	Traffic       TrafficObserver  `optional:"true"`
	Recorder      RollbackRecorder `optional:"true"`
}

// Module provides the rollback Manager over the Postgres snapshot store.
var Module = fx.Provide(
	func(params managerParams) *Manager {
		return NewManager(params.Registry, NewSnapshotStore(params.DB),
			params.Traffic, params.Recorder, params.AnotherLogger)
	})
