package respcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// ConfigKey is the root configuration key (in Viper) for this module.
const ConfigKey = "cache"

// Plain environment names recognized for operator convenience.
const (
	EnvTTLSec   = "CACHE_TTL_SEC"
	EnvRedisURL = "REDIS_URL"
	EnvRedisPwd = "REDIS_PASSWORD"
)

// Config holds the response cache tuning and Redis connection parameters.
type Config struct {
	AnotherLogger logging.Interface

	// Addr is the host:port of the Redis server.
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// TTLSec is the per-entry lifetime in seconds.
	TTLSec int `mapstructure:"ttl_sec" validate:"min=0"`
}

// TTL returns the entry lifetime, defaulting to one hour.
func (c *Config) TTL() time.Duration {
	if c.TTLSec <= 0 {
		return time.Hour
	}
	return time.Duration(c.TTLSec) * time.Second
}

// Option is a functional configuration override for building a Config.
type Option func(*Config) error

// Apply applies the given options to the configuration.
func (c *Config) Apply(opts ...Option) error {
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

// NewConfig builds and returns a new configuration from the given options.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{Addr: "localhost:6379", TTLSec: 3600}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithViper populates the configuration from the "cache" viper key. The plain
// CACHE_TTL_SEC and REDIS_* environment names override file values.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}

		for key, env := range map[string]string{
			ConfigKey + ".ttl_sec":  EnvTTLSec,
			ConfigKey + ".addr":     EnvRedisURL,
			ConfigKey + ".password": EnvRedisPwd,
		} {
			if err := v.BindEnv(key, env); err != nil {
				return fmt.Errorf("error binding %s: %w", env, err)
			}
		}

		if err := v.UnmarshalKey(ConfigKey, c); err != nil {
			return fmt.Errorf("error occurred when unmarshalling config: %+v", err)
		}
		return nil
	}
}

// WithAnotherLog sets the logger for the configuration.
func WithAnotherLog(logger logging.Interface) Option {
	return func(c *Config) error {
		if logger == nil {
			return errors.New("nil another logger")
		}
		c.AnotherLogger = logger
		return nil
	}
}

// Validate performs struct validation using go-playground/validator.
func (c *Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
