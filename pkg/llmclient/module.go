package llmclient

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/respcache"
	"github.com/questforge-ai/modelplane/pkg/router"
)

type clientParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Viper         *viper.Viper
	Router        *router.CostBenefitRouter
	Registry      *registry.Registry
	Logs          *inferlog.Store
	Cache         *respcache.Cache `optional:"true"`
	Metrics       *Metrics
	Lifecycle     fx.Lifecycle
}

// Module provides the client Metrics (shared with the router as its request
// counter) and the Client itself, closing the fallback watcher on shutdown.
var Module = fx.Options(
	fx.Provide(func(reg prometheus.Registerer) *Metrics {
		return NewMetrics(reg)
	}),
	fx.Provide(func(m *Metrics) router.RequestCounter { return m }),
	fx.Provide(func(params clientParams) (*Client, error) {
		config, err := NewConfig(
			WithViper(params.Viper),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating llm client config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid llm client config: %w", err)
		}

		var cache ResponseCache
		if params.Cache != nil {
			cache = params.Cache
		}
		client := NewClient(config, params.Router, params.Registry, params.Logs, cache, params.Metrics)

		params.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		return client, nil
	}),
)
