package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/questforge-ai/modelplane/pkg/deployment"
	"github.com/questforge-ai/modelplane/pkg/finetune"
	"github.com/questforge-ai/modelplane/pkg/guardrails"
	"github.com/questforge-ai/modelplane/pkg/llmclient"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/postgres"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/respcache"
	"github.com/questforge-ai/modelplane/pkg/rollback"
	"github.com/questforge-ai/modelplane/pkg/router"
)

type serverParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Zap           *zap.Logger
	Viper         *viper.Viper
	Client        *llmclient.Client
	Registry      *registry.Registry
	Router        *router.CostBenefitRouter
	Deployer      *deployment.Manager
	Rollback      *rollback.Manager
	FineTuner     *finetune.Orchestrator
	Monitor       *guardrails.Monitor
	Cache         *respcache.Cache `optional:"true"`
	DB            *sqlx.DB
	Redis         redis.UniversalClient `optional:"true"`
	Lifecycle     fx.Lifecycle
}

// Module provides the Server and runs the HTTP listener for the process
// lifetime.
var Module = fx.Provide(
	func(params serverParams) (*Server, error) {
		config, err := NewConfig(
			WithViper(params.Viper),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating server config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid server config: %w", err)
		}

		health := map[string]HealthCheck{
			"postgres": func(ctx context.Context) error {
				return postgres.Health(ctx, params.DB)
			},
		}
		if params.Redis != nil {
			health["redis"] = func(ctx context.Context) error {
				return params.Redis.Ping(ctx).Err()
			}
		}

		deps := Deps{
			Generator: params.Client,
			Models:    params.Registry,
			Checker:   params.Router,
			Deployer:  params.Deployer,
			Rollback:  params.Rollback,
			FineTuner: params.FineTuner,
			Monitor:   params.Monitor,
			Client:    params.Client,
			Health:    health,
			Logger:    params.AnotherLogger,
			Zap:       params.Zap,
		}
		if params.Cache != nil {
			deps.Cache = params.Cache
		}

		server := NewServer(config, deps)

		httpServer := &http.Server{
			Addr:    config.Addr(),
			Handler: server.Router(),
		}

		params.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						params.AnotherLogger.WithError(err).Fatal("HTTP server failed")
					}
				}()
				params.AnotherLogger.WithField("addr", config.Addr()).Info("HTTP server listening")
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return httpServer.Shutdown(ctx)
			},
		})

		return server, nil
	})
