// Package config holds the service settings. Values come from an optional
// TOML file, overridden by environment variables (a .env file is loaded by
// main before Load runs).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type SMTP struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

type RateLimit struct {
	// AuthPerMinute is the sustained rate for the unauthenticated auth endpoints.
	AuthPerMinute int `toml:"auth_per_minute"`
	AuthBurst     int `toml:"auth_burst"`
}

type Config struct {
	Addr              string        `toml:"addr"`
	Dev               bool          `toml:"dev"`
	JWTSecret         string        `toml:"jwt_secret"`
	TokenTTL          time.Duration `toml:"token_ttl"`
	ExtensionTokenTTL time.Duration `toml:"extension_token_ttl"`
	VerificationTTL   time.Duration `toml:"verification_ttl"`
	FrontendURL       string        `toml:"frontend_url"`
	CORSOrigins       []string      `toml:"cors_origins"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For is
	// believed. Empty means the socket address is the client.
	TrustedProxies    []string      `toml:"trusted_proxies"`
	CredentialKey     string        `toml:"credential_key"`
	CredentialSalt    string        `toml:"credential_salt"`
	SMTP              SMTP          `toml:"smtp"`
	RateLimit         RateLimit     `toml:"rate_limit"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:              "0.0.0.0:8431",
		TokenTTL:          24 * time.Hour,
		ExtensionTokenTTL: 30 * 24 * time.Hour,
		VerificationTTL:   24 * time.Hour,
		FrontendURL:       "http://localhost:3000",
		CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
		CredentialSalt:    "chromepass-credentials-v1",
		RateLimit:         RateLimit{AuthPerMinute: 10, AuthBurst: 5},
	}
}

// Load reads the TOML file at path (skipped when empty) and applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Addr, "HTTP_ADDR")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.FrontendURL, "FRONTEND_BASE_URL")
	setString(&cfg.CredentialKey, "CREDENTIAL_ENCRYPTION_KEY")
	setString(&cfg.CredentialSalt, "CREDENTIAL_ENCRYPTION_SALT")
	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setString(&cfg.SMTP.Port, "SMTP_PORT")
	setString(&cfg.SMTP.User, "SMTP_USER")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.SMTP.From, "SMTP_FROM")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Dev = v == "development"
	}
	for key, dst := range map[string]*time.Duration{
		"TOKEN_TTL":           &cfg.TokenTTL,
		"EXTENSION_TOKEN_TTL": &cfg.ExtensionTokenTTL,
		"VERIFICATION_TTL":    &cfg.VerificationTTL,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	for key, dst := range map[string]*int{
		"AUTH_RATE_PER_MINUTE": &cfg.RateLimit.AuthPerMinute,
		"AUTH_RATE_BURST":      &cfg.RateLimit.AuthBurst,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}

// Validate rejects settings the service cannot run with. Development mode
// tolerates a missing JWT secret by using a fixed one.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if !c.Dev {
			return errors.New("JWT_SECRET is required outside development mode")
		}
		c.JWTSecret = "chromepass-dev-secret"
	}
	if c.TokenTTL <= 0 || c.ExtensionTokenTTL <= 0 || c.VerificationTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.RateLimit.AuthPerMinute <= 0 || c.RateLimit.AuthBurst <= 0 {
		return errors.New("auth rate limit must be positive")
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("trusted proxy %q: not an IP or CIDR", p)
			}
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
