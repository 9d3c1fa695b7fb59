package discovery

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

type scannerParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
}

// Module provides the configured scanner set, empty when nothing is set up.
var Module = fx.Provide(
	func(v *viper.Viper, params scannerParams) ([]Scanner, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating discovery config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid discovery config: %w", err)
		}
		return config.Scanners(), nil
	})
