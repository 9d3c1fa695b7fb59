package registry

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

type registryParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	DB            *sqlx.DB
}

// Module provides the model Registry.
var Module = fx.Provide(
	func(params registryParams) *Registry {
		return NewRegistry(params.DB, params.AnotherLogger)
	})
