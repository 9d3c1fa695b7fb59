package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/internal/server"
	"github.com/questforge-ai/modelplane/pkg/afero"
	"github.com/questforge-ai/modelplane/pkg/configutils"
	"github.com/questforge-ai/modelplane/pkg/deployment"
	"github.com/questforge-ai/modelplane/pkg/discovery"
	"github.com/questforge-ai/modelplane/pkg/finetune"
	"github.com/questforge-ai/modelplane/pkg/guardrails"
	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/llmclient"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/metaloop"
	"github.com/questforge-ai/modelplane/pkg/objectstore"
	"github.com/questforge-ai/modelplane/pkg/postgres"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/respcache"
	"github.com/questforge-ai/modelplane/pkg/rollback"
	"github.com/questforge-ai/modelplane/pkg/router"
)

const envPrefix = "MODELPLANE"

func serveCommand() *cobra.Command {
	var configFilePath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane API server and meta-management loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := fx.New(appModules(cmd, configFilePath)...)
			app.Run()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFilePath, "config", "c", "", "path to config file")
	cmd.Flags().BoolP("debug", "d", false, "enable debug mode")
	return cmd
}

func appModules(cmd *cobra.Command, configFilePath string) []fx.Option {
	return []fx.Option{
		configutils.ProvideViperFromFile(envPrefix, cmd.Flags(), configFilePath),
		logging.Module,
		logging.ModuleNamed("another_log"),
		logging.UseLoggingInterface,

		fx.Provide(func() prometheus.Registerer { return prometheus.DefaultRegisterer }),

		postgres.Module,
		afero.Module,
		objectstore.Module,
		respcache.Module,

		registry.Module,
		inferlog.Module,
		router.Module,
		llmclient.Module,
		rollback.Module,
		deployment.Module,
		guardrails.Module,
		finetune.Module,
		discovery.Module,
		metaloop.Module,
		server.Module,

		fx.Invoke(func(*server.Server, *metaloop.Loop) {}),
	}
}
