package objectstore

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// ConfigKey is the root configuration key (in Viper) for this module.
const ConfigKey = "object_store"

// Plain environment names recognized for operator convenience.
const (
	EnvBucket    = "OBJECT_STORE_BUCKET"
	EnvRegion    = "OBJECT_STORE_REGION"
	EnvEndpoint  = "OBJECT_STORE_ENDPOINT"
	EnvAccessKey = "OBJECT_STORE_ACCESS_KEY"
	EnvSecretKey = "OBJECT_STORE_SECRET_KEY"
)

// Config holds the object storage connection parameters.
type Config struct {
	AnotherLogger logging.Interface

	Bucket string `mapstructure:"bucket" validate:"required"`
	Region string `mapstructure:"region" validate:"required"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores; path-style
	// addressing is forced when set.
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
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
	c := &Config{Region: "us-east-1"}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithViper populates the configuration from the "object_store" viper key. The
// plain OBJECT_STORE_* environment names override file values.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}

		for key, env := range map[string]string{
			ConfigKey + ".bucket":     EnvBucket,
			ConfigKey + ".region":     EnvRegion,
			ConfigKey + ".endpoint":   EnvEndpoint,
			ConfigKey + ".access_key": EnvAccessKey,
			ConfigKey + ".secret_key": EnvSecretKey,
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
