package metaloop

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// ConfigKey is the root configuration key (in Viper) for this module.
const ConfigKey = "metaloop"

// Plain environment names recognized for operator convenience.
const (
	EnvCheckIntervalSec = "CHECK_INTERVAL_SEC"
	EnvEnabled          = "METALOOP_ENABLED"
)

// Config tunes the meta-management loop.
type Config struct {
	AnotherLogger logging.Interface

	// Enabled turns the background loop on; API-only deployments run
	// without it.
	Enabled bool `mapstructure:"enabled"`
	// CheckIntervalSec is the cycle period.
	CheckIntervalSec int `mapstructure:"check_interval_sec" validate:"min=1"`
}

// CheckInterval returns the cycle period.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
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
	c := &Config{Enabled: true, CheckIntervalSec: 3600}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithViper populates the configuration from the "metaloop" viper key. The
// plain CHECK_INTERVAL_SEC and METALOOP_ENABLED environment names override
// file values.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}

		for key, env := range map[string]string{
			ConfigKey + ".check_interval_sec": EnvCheckIntervalSec,
			ConfigKey + ".enabled":            EnvEnabled,
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
