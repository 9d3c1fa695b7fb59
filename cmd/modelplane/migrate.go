package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/configutils"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/postgres"
)

func migrateCommand() *cobra.Command {
	var configFilePath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var runErr error
			app := fx.New(
				configutils.ProvideViperFromFile(envPrefix, cmd.Flags(), configFilePath),
				logging.Module,
				logging.UseLoggingInterface,
				fx.Invoke(func(v *viper.Viper, logger logging.Interface, sh fx.Shutdowner) {
					runErr = runMigrations(v, logger)
					_ = sh.Shutdown()
				}),
			)
			app.Run()
			if runErr != nil {
				return runErr
			}
			return app.Err()
		},
	}

	cmd.Flags().StringVarP(&configFilePath, "config", "c", "", "path to config file")
	cmd.Flags().BoolP("debug", "d", false, "enable debug mode")
	return cmd
}

func runMigrations(v *viper.Viper, logger logging.Interface) error {
	config, err := postgres.NewConfig(
		postgres.WithViper(v),
		postgres.WithAnotherLog(logger),
	)
	if err != nil {
		return err
	}
	// Connect would migrate on its own when configured to; migrating
	// explicitly keeps this command idempotent either way.
	config.MigrateOnStart = false

	db, err := postgres.Connect(context.Background(), config)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return postgres.Migrate(db, logger)
}
