package metaloop

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/deployment"
	"github.com/questforge-ai/modelplane/pkg/discovery"
	"github.com/questforge-ai/modelplane/pkg/guardrails"
	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/router"
)

type loopParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Viper         *viper.Viper
	Registry      *registry.Registry
	Logs          *inferlog.Store
	Monitor       *guardrails.Monitor
	Router        *router.CostBenefitRouter
	Deployer      *deployment.Manager
	Scanners      []discovery.Scanner `optional:"true"`
	Lifecycle     fx.Lifecycle
}

// Module provides the Loop and runs it for the process lifetime when
// enabled.
var Module = fx.Provide(
	func(params loopParams) (*Loop, error) {
		config, err := NewConfig(
			WithViper(params.Viper),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating metaloop config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid metaloop config: %w", err)
		}

		loop := NewLoop(params.Registry, params.Logs, params.Monitor,
			params.Router, params.Deployer, params.Scanners,
			config.CheckInterval(), params.AnotherLogger)

		if config.Enabled {
			runCtx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			params.Lifecycle.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						_ = loop.Run(runCtx)
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					cancel()
					select {
					case <-done:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
			})
		}
		return loop, nil
	})
