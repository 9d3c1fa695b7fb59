package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// ConfigKey is the root configuration key (in Viper) for this module.
const ConfigKey = "server"

// Plain environment names recognized for operator convenience.
const (
	EnvPort      = "SERVER_PORT"
	EnvAdminKeys = "ADMIN_KEYS"
)

// Config tunes the HTTP server.
type Config struct {
	AnotherLogger logging.Interface

	// Port the server listens on.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
	// AdminKeys is the shared-secret allowlist for administrative routes.
	// Empty means administration is disabled.
	AdminKeys []string `mapstructure:"admin_keys"`
	// AdminKeysRaw is the comma-separated form accepted from the
	// environment; it is folded into AdminKeys.
	AdminKeysRaw string `mapstructure:"admin_keys_raw"`
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
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
	c := &Config{Port: 8080}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	c.foldAdminKeys()
	return c, nil
}

func (c *Config) foldAdminKeys() {
	if c.AdminKeysRaw == "" {
		return
	}
	for _, key := range strings.Split(c.AdminKeysRaw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			c.AdminKeys = append(c.AdminKeys, key)
		}
	}
	c.AdminKeysRaw = ""
}

// WithViper populates the configuration from the "server" viper key. The
// plain SERVER_PORT and ADMIN_KEYS environment names override file values.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("nil Viper")
		}

		for key, env := range map[string]string{
			ConfigKey + ".port":           EnvPort,
			ConfigKey + ".admin_keys_raw": EnvAdminKeys,
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

// WithAdminKeys sets the admin key allowlist directly.
func WithAdminKeys(keys ...string) Option {
	return func(c *Config) error {
		c.AdminKeys = keys
		return nil
	}
}

// Validate performs struct validation using go-playground/validator.
func (c *Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
