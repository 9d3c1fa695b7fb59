package objectstore

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

type storeParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
}

// Module provides the S3-backed artifact Store.
var Module = fx.Provide(
	func(v *viper.Viper, params storeParams) (Store, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating object store config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid object store config: %w", err)
		}

		return NewS3Store(context.Background(), config)
	})
