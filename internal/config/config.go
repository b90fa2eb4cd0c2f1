// Package config loads server configuration from environment variables.
//
// Every setting has a safe default for local development, so a bare
// `go run ./cmd/server` starts a server on :8080 backed by data/docx.db.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// MinSessionSecretLength is the shortest accepted SESSION_JWT_SECRET.
const MinSessionSecretLength = 16

// DefaultDatabaseURL is the SQLite file used when no database is configured.
const DefaultDatabaseURL = "data/docx.db"

// ProviderEnv holds one OAuth provider's credentials.
type ProviderEnv struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"`
}

// Enabled reports whether both credentials are present.
func (p ProviderEnv) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Config is the complete server configuration.
type Config struct {
	Port        int    `env:"PORT"         envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`

	// PublicHostname is the site's external base URL, e.g.
	// "https://docx.example". Defaults to http://localhost:<Port>.
	PublicHostname string `env:"PUBLIC_HOSTNAME"`

	// DatabaseURL is a SQLite path or a postgres:// URL. Defaults to
	// DefaultDatabaseURL.
	DatabaseURL string `env:"DATABASE_URL"`

	SessionSecret string `env:"SESSION_JWT_SECRET"`

	GitHub  ProviderEnv `envPrefix:"GITHUB_"`
	Discord ProviderEnv `envPrefix:"DISCORD_"`
	Google  ProviderEnv `envPrefix:"GOOGLE_"`

	// Names used by older deployments, read only when the new name is unset.
	LegacySessionSecret string `env:"SESSION_JWT_TOKEN"`
	LegacyDatabaseURL   string `env:"PSQL_CONNECTION_STRING"`
	LegacyHostname      string `env:"NEXT_PUBLIC_HOSTNAME"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: PORT %d out of range", cfg.Port)
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = cfg.LegacySessionSecret
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = cfg.LegacyDatabaseURL
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = DefaultDatabaseURL
	}
	if cfg.PublicHostname == "" {
		cfg.PublicHostname = cfg.LegacyHostname
	}
	if cfg.PublicHostname == "" {
		cfg.PublicHostname = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	cfg.PublicHostname = strings.TrimRight(cfg.PublicHostname, "/")

	cfg.GitHub.RedirectURI = defaultRedirect(cfg.GitHub.RedirectURI, cfg.PublicHostname, "github")
	cfg.Discord.RedirectURI = defaultRedirect(cfg.Discord.RedirectURI, cfg.PublicHostname, "discord")
	cfg.Google.RedirectURI = defaultRedirect(cfg.Google.RedirectURI, cfg.PublicHostname, "google")

	return cfg, nil
}

// defaultRedirect is the callback URL registered with each provider:
// <host>/api/v1/auth/callback?service=<name>.
func defaultRedirect(uri, host, service string) string {
	if uri != "" {
		return uri
	}
	return host + "/api/v1/auth/callback?service=" + service
}

// Production reports whether ENVIRONMENT is "production". Session
// cookies are marked Secure only then.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// SessionSecretUsable reports whether the secret is long enough to sign
// sessions. Without one, every login fails but the server still serves.
func (c Config) SessionSecretUsable() bool {
	return len(c.SessionSecret) >= MinSessionSecretLength
}

// SlogLevel maps LOG_LEVEL to a slog.Level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
