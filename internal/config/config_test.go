package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", EnvLocal)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8083", cfg.HTTP.Address)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, 30*time.Second, cfg.Presence.OnlineWindow)
	assert.Equal(t, "local-dev-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadReadsLists(t *testing.T) {
	t.Setenv("APP_ENV", EnvDev)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ADMIN_EMAILS", "coach@example.com,head@example.com")
	t.Setenv("ONLINE_WINDOW", "45s")
	t.Setenv("SCHEDULE_TIMEZONE", "Europe/Berlin")
	t.Setenv("STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"coach@example.com", "head@example.com"}, cfg.Auth.AdminEmails)
	assert.Equal(t, 45*time.Second, cfg.Presence.OnlineWindow)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	assert.Equal(t, "memory", cfg.Store)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret outside local": {"APP_ENV": EnvProd, "JWT_SECRET": ""},
		"bad timezone":                 {"APP_ENV": EnvLocal, "SCHEDULE_TIMEZONE": "Mars/Olympus"},
		"unknown store":                {"APP_ENV": EnvLocal, "STORE": "sqlite"},
		"zero window":                  {"APP_ENV": EnvLocal, "ONLINE_WINDOW": "0s"},
		"debug routes in prod":         {"APP_ENV": EnvProd, "JWT_SECRET": "s3cret", "DEBUG_ROUTES": "true"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadAllowsDebugRoutesInDev(t *testing.T) {
	t.Setenv("APP_ENV", EnvDev)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DEBUG_ROUTES", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DebugRoutes)
}
