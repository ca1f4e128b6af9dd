package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TMDB_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Cache.Freshness.Std())
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.Retention.Std())
	assert.Equal(t, 25, cfg.Backfill.InitialConcurrency)
	assert.Equal(t, 10, cfg.Backfill.MinConcurrency)
	assert.Equal(t, 50, cfg.Backfill.MaxConcurrency)
	assert.Equal(t, "https://vidsrc.xyz", cfg.Embed.BaseURL)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.toml")
	content := `
data_path = "/var/lib/stream"

[tmdb]
api_key = "from-file"

[cache]
retention = "30d"

[backfill]
max_concurrency = 40
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TMDB_API_KEY", "from-env")
	t.Setenv("BACKFILL_RETRY_DELAY", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/stream", cfg.DataPath)
	assert.Equal(t, "from-env", cfg.TMDB.APIKey)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.Retention.Std())
	assert.Equal(t, 40, cfg.Backfill.MaxConcurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Backfill.RetryDelay.Std())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate(false))
	assert.Error(t, cfg.Validate(true), "missing api key must be fatal for maintenance")

	cfg.TMDB.APIKey = "key"
	assert.NoError(t, cfg.Validate(true))

	cfg.Backfill.MinConcurrency = 60
	assert.Error(t, cfg.Validate(true))
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CRAWL_LOOKAHEAD", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Crawl.Lookahead)
}

func TestTrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,127.0.0.1 ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
	assert.Empty(t, Default().TrustedProxies)
}
