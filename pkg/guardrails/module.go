package guardrails

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/rollback"
)

type monitorParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	DB            *sqlx.DB
	Registry      *registry.Registry
	Rollback      *rollback.Manager
}

// Module provides the guardrails Monitor wired with the default intervention
// policy and the Postgres violation store.
var Module = fx.Provide(
	func(v *viper.Viper, params monitorParams) (*Monitor, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating guardrails config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid guardrails config: %w", err)
		}

		moderator := config.Moderator(params.AnotherLogger)
		policy := NewPolicy(params.Registry, params.Rollback, params.AnotherLogger)

		return NewMonitor(moderator, moderator,
			NewViolationStore(params.DB), policy, params.AnotherLogger), nil
	})
