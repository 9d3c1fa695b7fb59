package discovery

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// ConfigKey is the root configuration key (in Viper) for this module.
const ConfigKey = "discovery"

// Plain environment names recognized for operator convenience.
const (
	EnvCatalogURL    = "DISCOVERY_CATALOG_URL"
	EnvCatalogAPIKey = "DISCOVERY_CATALOG_API_KEY"
	EnvServingURL    = "DISCOVERY_SERVING_URL"
)

// Config selects which scanners run. Both are optional; with neither set the
// meta-loop simply skips discovery.
type Config struct {
	AnotherLogger logging.Interface

	CatalogURL    string `mapstructure:"catalog_url"`
	CatalogAPIKey string `mapstructure:"catalog_api_key"`
	ServingURL    string `mapstructure:"serving_url"`
}

// Scanners builds the configured scanner set.
func (c *Config) Scanners() []Scanner {
	var scanners []Scanner
	if c.CatalogURL != "" {
		scanners = append(scanners, NewCatalogScanner("catalog", c.CatalogURL, c.CatalogAPIKey, 0))
	}
	if c.ServingURL != "" {
		scanners = append(scanners, NewServingScanner(c.ServingURL, 0))
	}
	return scanners
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
	c := &Config{}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithViper populates the configuration from the "discovery" viper key. The
// plain DISCOVERY_* environment names override file values.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}

		for key, env := range map[string]string{
			ConfigKey + ".catalog_url":     EnvCatalogURL,
			ConfigKey + ".catalog_api_key": EnvCatalogAPIKey,
			ConfigKey + ".serving_url":     EnvServingURL,
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
