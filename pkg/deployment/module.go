package deployment

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/rollback"
)

type storeParams struct {
	fx.In

	DB *sqlx.DB
}

type managerParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Registry      *registry.Registry
	Logs          *inferlog.Store
	Rollback      *rollback.Manager
	Store         *Store
}

// Module provides the deployment Store (also serving the rollback manager's
// traffic observer and recorder) and the deployment Manager.
var Module = fx.Options(
	fx.Provide(func(params storeParams) *Store {
		return NewStore(params.DB)
	}),
	fx.Provide(func(s *Store) rollback.TrafficObserver { return s }),
	fx.Provide(func(s *Store) rollback.RollbackRecorder { return s }),
	fx.Provide(func(params managerParams) *Manager {
		return NewManager(params.Registry, params.Logs, params.Rollback,
			params.Store, params.AnotherLogger)
	}),
)
