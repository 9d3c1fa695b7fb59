package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Viper(t *testing.T) {
	v := viper.New()
	v.SetConfigType("YAML")
	require.NoError(t, v.ReadConfig(strings.NewReader(`---
database:
  host: db.internal
  port: 5433
  name: modelplane
  user: control_plane
  password: hunter2
  ssl_mode: require
  max_open_conns: 32
  conn_max_lifetime: 15m
  migrate_on_start: true
`)))

	c, err := NewConfig(WithViper(v))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "db.internal", c.Host)
	assert.Equal(t, 5433, c.Port)
	assert.Equal(t, "modelplane", c.Name)
	assert.Equal(t, "control_plane", c.User)
	assert.Equal(t, 32, c.MaxOpenConns)
	assert.Equal(t, 15*time.Minute, c.ConnMaxLifetime)
	assert.True(t, c.MigrateOnStart)

	assert.Equal(t,
		"host=db.internal port=5433 dbname=modelplane user=control_plane password=hunter2 sslmode=require",
		c.DSN())
}

func TestNewConfig_PlainEnvOverrides(t *testing.T) {
	t.Setenv(EnvHost, "env-host")
	t.Setenv(EnvPassword, "env-pass")

	v := viper.New()
	v.SetConfigType("YAML")
	require.NoError(t, v.ReadConfig(strings.NewReader(`---
database:
  host: file-host
  port: 5432
  name: modelplane
  user: u
`)))

	c, err := NewConfig(WithViper(v))
	require.NoError(t, err)

	assert.Equal(t, "env-host", c.Host)
	assert.Equal(t, "env-pass", c.Password)
}

func TestConfigValidate(t *testing.T) {
	c, err := NewConfig()
	require.NoError(t, err)

	// defaults alone are incomplete: name and user are required
	assert.Error(t, c.Validate())

	c.Name = "modelplane"
	c.User = "u"
	assert.NoError(t, c.Validate())

	c.Port = 0
	assert.Error(t, c.Validate())
}
