package inferlog

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

type storeParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	DB            *sqlx.DB
}

// Module provides the historical inference log Store.
var Module = fx.Provide(
	func(params storeParams) *Store {
		return NewStore(params.DB, params.AnotherLogger)
	})
