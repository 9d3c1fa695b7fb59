package respcache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

type cacheParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Lifecycle     fx.Lifecycle
}

// Module provides the shared Redis client and the response Cache, closing the
// client on shutdown.
var Module = fx.Provide(
	func(v *viper.Viper, params cacheParams) (redis.UniversalClient, *Cache, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(params.AnotherLogger),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("error creating cache config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid cache config: %w", err)
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		})

		params.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return rdb.Close()
			},
		})

		return rdb, NewCache(rdb, config.TTL(), params.AnotherLogger), nil
	})
