package finetune

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// ConfigKey is the root configuration key (in Viper) for this module.
const ConfigKey = "finetune"

// Plain environment names recognized for operator convenience.
const (
	EnvBackendURL      = "FINETUNE_BACKEND_URL"
	EnvArtifactPrefix  = "FINETUNE_ARTIFACT_PREFIX"
	EnvPollIntervalSec = "FINETUNE_POLL_INTERVAL_SEC"
)

// Config holds fine-tune orchestration settings.
type Config struct {
	AnotherLogger logging.Interface

	// BackendURL is the training execution service.
	BackendURL string `mapstructure:"backend_url" validate:"required"`
	// ArtifactPrefix roots the dataset/output layout in object storage.
	ArtifactPrefix string `mapstructure:"artifact_prefix"`
	// PollIntervalSec is the training status polling cadence.
	PollIntervalSec int `mapstructure:"poll_interval_sec" validate:"min=1"`
}

// PollInterval returns the polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
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
	c := &Config{ArtifactPrefix: "finetune", PollIntervalSec: 15}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithViper populates the configuration from the "finetune" viper key. The
// plain FINETUNE_* environment names override file values.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}

		for key, env := range map[string]string{
			ConfigKey + ".backend_url":       EnvBackendURL,
			ConfigKey + ".artifact_prefix":   EnvArtifactPrefix,
			ConfigKey + ".poll_interval_sec": EnvPollIntervalSec,
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
