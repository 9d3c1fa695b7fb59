package llmclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// ConfigKey is the root configuration key (in Viper) for this module.
const ConfigKey = "llm"

// Plain environment names recognized for operator convenience.
const (
	EnvCircuitFailureThreshold = "CIRCUIT_FAILURE_THRESHOLD"
	EnvCircuitTimeoutSec       = "CIRCUIT_TIMEOUT_SEC"
	EnvRequestTimeoutSec       = "LLM_REQUEST_TIMEOUT_SEC"
	EnvMaxRetries              = "LLM_MAX_RETRIES"
	EnvFallbacksFile           = "LLM_FALLBACKS_FILE"
)

// Config tunes the LLM client: backend timeouts, retry policy, circuit
// breaker thresholds, and the optional fallback template file.
type Config struct {
	AnotherLogger     logging.Interface
	MetricsRegisterer prometheus.Registerer

	// CircuitFailureThreshold is the consecutive-failure count that opens a
	// backend's circuit.
	CircuitFailureThreshold uint32 `mapstructure:"circuit_failure_threshold" validate:"min=1"`
	// CircuitTimeoutSec is how long an open circuit stays open before the
	// half-open probe.
	CircuitTimeoutSec int `mapstructure:"circuit_timeout_sec" validate:"min=1"`

	// RequestTimeoutSec bounds a single backend call.
	RequestTimeoutSec int `mapstructure:"request_timeout_sec" validate:"min=1"`
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`
	// BackoffBaseMS is the base of the exponential retry backoff.
	BackoffBaseMS int `mapstructure:"backoff_base_ms" validate:"min=0"`

	// FallbacksFile optionally points at a YAML file of per-layer fallback
	// templates, hot-reloaded on change.
	FallbacksFile string `mapstructure:"fallbacks_file"`
}

// CircuitTimeout returns the open-circuit duration.
func (c *Config) CircuitTimeout() time.Duration {
	return time.Duration(c.CircuitTimeoutSec) * time.Second
}

// RequestTimeout returns the per-call timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// BackoffBase returns the retry backoff base, defaulting to one second.
func (c *Config) BackoffBase() time.Duration {
	if c.BackoffBaseMS <= 0 {
		return time.Second
	}
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
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
	c := &Config{
		CircuitFailureThreshold: 5,
		CircuitTimeoutSec:       60,
		RequestTimeoutSec:       30,
		MaxRetries:              3,
		BackoffBaseMS:           1000,
	}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithViper populates the configuration from the "llm" viper key. The plain
// CIRCUIT_* and LLM_* environment names override file values.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}

		for key, env := range map[string]string{
			ConfigKey + ".circuit_failure_threshold": EnvCircuitFailureThreshold,
			ConfigKey + ".circuit_timeout_sec":       EnvCircuitTimeoutSec,
			ConfigKey + ".request_timeout_sec":       EnvRequestTimeoutSec,
			ConfigKey + ".max_retries":               EnvMaxRetries,
			ConfigKey + ".fallbacks_file":            EnvFallbacksFile,
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

// WithMetricsRegisterer sets the Prometheus registerer for client metrics.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		c.MetricsRegisterer = reg
		return nil
	}
}

// Validate performs struct validation using go-playground/validator.
func (c *Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
