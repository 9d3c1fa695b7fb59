package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

type postgresParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Lifecycle     fx.Lifecycle
}

// Module provides the shared *sqlx.DB and closes it on shutdown.
var Module = fx.Provide(
	func(v *viper.Viper, params postgresParams) (*sqlx.DB, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating database config: %+v", err)
		}

		db, err := Connect(context.Background(), config)
		if err != nil {
			return nil, err
		}

		params.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return db.Close()
			},
		})

		return db, nil
	})
