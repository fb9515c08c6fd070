package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, Bind(v, fs))

	cfg := FromViper(v)
	require.Equal(t, Default(), cfg)
	require.Equal(t, 1500*time.Millisecond, cfg.Player.DriftThreshold)
	require.Equal(t, 30*time.Second, cfg.Player.StreamThreshold)
}

func TestFromViper_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("JAM_LISTEN_ADDR", ":9999")
	t.Setenv("JAM_TOKEN_SECRET", "s3cret")
	t.Setenv("JAM_DRIFT_THRESHOLD", "2s")
	t.Setenv("JAM_OUTBOX_SIZE", "4")

	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, Bind(v, fs))

	cfg := FromViper(v)
	require.Equal(t, ":9999", cfg.Server.Addr)
	require.Equal(t, "s3cret", cfg.Auth.Secret)
	require.Equal(t, 2*time.Second, cfg.Player.DriftThreshold)
	require.Equal(t, 4, cfg.Session.OutboxSize)
	require.NoError(t, cfg.Validate())
}

func TestFromViper_FlagBeatsEnv(t *testing.T) {
	t.Setenv("JAM_LOG_LEVEL", "warn")

	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=debug"}))
	require.NoError(t, Bind(v, fs))

	require.Equal(t, "debug", FromViper(v).Log.Level)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JAM_CATALOG_URL=http://catalog.local\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("JAM_CATALOG_URL") })

	require.NoError(t, LoadEnv(path))
	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")), "missing files are ignored")

	v := viper.New()
	require.NoError(t, Bind(v, nil))
	v.SetDefault("catalog-url", "")
	require.Equal(t, "http://catalog.local", FromViper(v).Catalog.URL)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate(), "secret is required")

	cfg.Auth.Secret = "x"
	cfg.Session.CodeLength = 2
	require.Error(t, cfg.Validate())
}
