package guardrails

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// ConfigKey is the root configuration key (in Viper) for this module.
const ConfigKey = "guardrails"

// Plain environment names recognized for operator convenience.
const (
	EnvProvider = "MODERATION_PROVIDER"
	EnvAPIKey   = "MODERATION_API_KEY"
	EnvEndpoint = "MODERATION_ENDPOINT"
)

// Moderation provider names.
const (
	ProviderKeyword = "keyword"
	ProviderHTTP    = "http"
)

// Config selects and tunes the moderation backend.
type Config struct {
	AnotherLogger logging.Interface

	// Provider selects the moderation backend: "http" for an external
	// moderation API, "keyword" for the offline table only.
	Provider string `mapstructure:"provider" validate:"omitempty,oneof=keyword http"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`

	// RatePerSec bounds outgoing moderation calls.
	RatePerSec float64 `mapstructure:"rate_per_sec"`
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
	c := &Config{Provider: ProviderKeyword, RatePerSec: 10}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithViper populates the configuration from the "guardrails" viper key. The
// plain MODERATION_* environment names override file values.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}

		for key, env := range map[string]string{
			ConfigKey + ".provider": EnvProvider,
			ConfigKey + ".api_key":  EnvAPIKey,
			ConfigKey + ".endpoint": EnvEndpoint,
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
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Provider == ProviderHTTP && c.Endpoint == "" {
		return errors.New("endpoint is required for the http moderation provider")
	}
	return nil
}

// Moderator builds the configured ContentModerator, nil for the keyword
// provider (the monitor then scores with the tables directly).
func (c *Config) Moderator(logger logging.Interface) ContentModerator {
	if c.Provider != ProviderHTTP {
		return nil
	}
	return NewHTTPModerator(c.Endpoint, c.APIKey, c.RatePerSec, logger)
}
