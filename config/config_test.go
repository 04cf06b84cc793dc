package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortsgen/db"
)

func newViper(overrides map[string]interface{}) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	c, err := LoadWithViper(newViper(nil))
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, DriverSQLite, c.DBDriver)
	assert.Equal(t, 600, c.MaxTextLength)
	assert.Equal(t, 10*time.Second, c.ScrapeTimeout)
	assert.Equal(t, time.Duration(0), c.ReservationTTL)
	assert.Equal(t, []string{"*"}, c.CORSOrigins)

	d, ok := c.SQLDialect()
	assert.True(t, ok)
	assert.Equal(t, db.DialectSQLite, d)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://localhost/shorts")
	t.Setenv("RESERVATION_TTL", "30m")
	t.Setenv("ADMIN_USERS", "ana, luis")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, c.DBDriver)
	assert.Equal(t, 30*time.Minute, c.ReservationTTL)
	assert.Equal(t, []string{"ana", "luis"}, c.AdminUsers)
}

func TestValidate(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"unknown driver":     {"db_driver": "mysql"},
		"mongo without uri":  {"db_driver": "mongo"},
		"zero text length":   {"max_text_length": 0},
		"negative ttl":       {"reservation_ttl": -time.Second},
		"production secrets": {"app_env": "production"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadWithViper(newViper(overrides))
			assert.Error(t, err)
		})
	}

	c, err := LoadWithViper(newViper(map[string]interface{}{
		"app_env":                "production",
		"jwt_secret":             "s3cret",
		"operator_password_hash": "$2a$10$abc",
		"db_driver":              "mongo",
		"mongodb_uri":            "mongodb://localhost",
	}))
	require.NoError(t, err)
	assert.True(t, c.IsProduction())
	_, ok := c.SQLDialect()
	assert.False(t, ok)
}
