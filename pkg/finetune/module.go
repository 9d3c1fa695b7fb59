package finetune

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/afero"
	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/llmclient"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/objectstore"
	"github.com/questforge-ai/modelplane/pkg/registry"
)

type orchestratorParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Viper         *viper.Viper
	DB            *sqlx.DB
	Registry      *registry.Registry
	Logs          *inferlog.Store
	Objects       objectstore.Store
	Client        *llmclient.Client
	Fs            afero.Fs
}

// Module provides the JobStore and the Orchestrator.
var Module = fx.Provide(
	func(db *sqlx.DB) JobStore { return NewPostgresJobStore(db) },
	func(params orchestratorParams, jobs JobStore) (*Orchestrator, error) {
		config, err := NewConfig(
			WithViper(params.Viper),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating finetune config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid finetune config: %w", err)
		}

		backend := NewHTTPTrainingBackend(config.BackendURL, 0)
		o := NewOrchestrator(params.Registry, params.Logs, jobs, params.Objects,
			backend, params.Client, params.Fs, config.ArtifactPrefix, params.AnotherLogger)
		o.pollInterval = config.PollInterval()
		return o, nil
	},
)
