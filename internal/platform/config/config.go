package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when read from the environment, so
// "listen-addr" becomes JAM_LISTEN_ADDR.
const EnvPrefix = "JAM"

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Auth      AuthConfig
	Catalog   CatalogConfig
	Analytics AnalyticsConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Player    PlayerConfig
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

type CatalogConfig struct {
	URL       string // empty disables song validation on the server
	Timeout   time.Duration
	CacheSize int
}

type AnalyticsConfig struct {
	URL string // empty disables song-streamed reporting
}

type DatabaseConfig struct {
	DSN string // empty disables the session archive
}

type SessionConfig struct {
	CodeLength int
	OutboxSize int
}

type PlayerConfig struct {
	DriftThreshold  time.Duration
	StreamThreshold time.Duration
}

func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:      LogConfig{Level: "info", Format: "json"},
		Auth:     AuthConfig{TokenTTL: 24 * time.Hour},
		Catalog:  CatalogConfig{Timeout: 5 * time.Second, CacheSize: 256},
		Session:  SessionConfig{CodeLength: 6, OutboxSize: 16},
		Player:   PlayerConfig{DriftThreshold: 1500 * time.Millisecond, StreamThreshold: 30 * time.Second},
	}
}

// LoadEnv reads .env style files into the process environment. Missing files
// are not an error; callers fall back to the system environment and defaults.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Flags registers every configuration key on fs with its default value.
func Flags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("listen-addr", d.Server.Addr, "HTTP listen address")
	fs.Duration("shutdown-timeout", d.Server.ShutdownTimeout, "graceful shutdown timeout")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json, console)")
	fs.String("token-secret", d.Auth.Secret, "HMAC secret for participant tokens")
	fs.Duration("token-ttl", d.Auth.TokenTTL, "lifetime of minted participant tokens")
	fs.String("catalog-url", d.Catalog.URL, "base URL of the song catalog")
	fs.Duration("catalog-timeout", d.Catalog.Timeout, "song lookup timeout")
	fs.Int("catalog-cache-size", d.Catalog.CacheSize, "number of song lookups kept in memory")
	fs.String("analytics-url", d.Analytics.URL, "base URL of the analytics collector")
	fs.String("database-dsn", d.Database.DSN, "postgres DSN for the session archive")
	fs.Int("join-code-length", d.Session.CodeLength, "length of generated join codes")
	fs.Int("outbox-size", d.Session.OutboxSize, "per connection broadcast buffer")
	fs.Duration("drift-threshold", d.Player.DriftThreshold, "position drift tolerated before seeking")
	fs.Duration("stream-threshold", d.Player.StreamThreshold, "listening time before a song counts as streamed")
}

// Bind wires fs and the JAM_ environment into v.
func Bind(v *viper.Viper, fs *pflag.FlagSet) error {
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// FromViper builds a Config from v, keeping defaults for unset keys.
func FromViper(v *viper.Viper) Config {
	cfg := Default()

	setString(v, "listen-addr", &cfg.Server.Addr)
	setDuration(v, "shutdown-timeout", &cfg.Server.ShutdownTimeout)
	setString(v, "log-level", &cfg.Log.Level)
	setString(v, "log-format", &cfg.Log.Format)
	setString(v, "token-secret", &cfg.Auth.Secret)
	setDuration(v, "token-ttl", &cfg.Auth.TokenTTL)
	setString(v, "catalog-url", &cfg.Catalog.URL)
	setDuration(v, "catalog-timeout", &cfg.Catalog.Timeout)
	setInt(v, "catalog-cache-size", &cfg.Catalog.CacheSize)
	setString(v, "analytics-url", &cfg.Analytics.URL)
	setString(v, "database-dsn", &cfg.Database.DSN)
	setInt(v, "join-code-length", &cfg.Session.CodeLength)
	setInt(v, "outbox-size", &cfg.Session.OutboxSize)
	setDuration(v, "drift-threshold", &cfg.Player.DriftThreshold)
	setDuration(v, "stream-threshold", &cfg.Player.StreamThreshold)

	return cfg
}

func (c Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("token-secret is required")
	}
	if c.Session.CodeLength < 4 {
		return fmt.Errorf("join-code-length must be at least 4, got %d", c.Session.CodeLength)
	}
	if c.Session.OutboxSize < 1 {
		return fmt.Errorf("outbox-size must be positive, got %d", c.Session.OutboxSize)
	}
	return nil
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}
