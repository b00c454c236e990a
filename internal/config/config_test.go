package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chromepass.toml")
	err := os.WriteFile(path, []byte(`
addr = "127.0.0.1:9000"
jwt_secret = "from-file"
token_ttl = "2h"
cors_origins = ["chrome-extension://abc"]

[smtp]
host = "smtp.example.com"
port = "587"

[rate_limit]
auth_per_minute = 30
auth_burst = 10
`), 0o600)
	require.NoError(t, err)

	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("EXTENSION_TOKEN_TTL", "72h")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Addr)
	require.Equal(t, "from-env", cfg.JWTSecret)
	require.Equal(t, 2*time.Hour, cfg.TokenTTL)
	require.Equal(t, 72*time.Hour, cfg.ExtensionTokenTTL)
	require.Equal(t, []string{"chrome-extension://abc"}, cfg.CORSOrigins)
	require.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	require.Equal(t, 30, cfg.RateLimit.AuthPerMinute)
}

func TestValidateRequiresSecretOutsideDev(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("APP_ENV", "production")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("APP_ENV", "development")
	cfg, err := Load("")
	require.NoError(t, err)
	require.True(t, cfg.Dev)
	require.NotEmpty(t, cfg.JWTSecret)
}

func TestBadDurationEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("TOKEN_TTL", "soon")
	_, err := Load("")
	require.Error(t, err)
}

func TestCORSOriginsEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Empty(t, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")
	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "loadbalancer")
	_, err = Load("")
	require.Error(t, err)
}
