package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repufi/scorer"
)

func loadConfig(t *testing.T) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("GITHUB_TOKEN", "")

	cfg := NewConfig()
	return cfg, cfg.Load()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadConfig(t)
	require.NoError(t, err)

	assert.Empty(t, cfg.GitHubToken)
	assert.Equal(t, "https://api.github.com", cfg.GitHubAPIURL)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, time.Second, cfg.RateLimitBuffer)
	assert.Equal(t, 5, cfg.CommitScanRepos)
	assert.Equal(t, 30*24*time.Hour, cfg.CommitWindow)
	assert.Equal(t, scorer.DefaultParams(), cfg.Scoring)
	assert.Empty(t, cfg.ScoreOverrides)
	assert.False(t, cfg.Database.Enabled())
	assert.Zero(t, cfg.RefreshInterval)
	assert.Equal(t, 24*time.Hour, cfg.RefreshMaxAge)
}

func TestLoadFromEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("GITHUB_API_URL", "http://localhost:9999/")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("COMMIT_WINDOW_DAYS", "7")
	t.Setenv("SCORE_OVERRIDES", "Alice=9.5, bob=8")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_DB", "repufi")
	t.Setenv("REFRESH_INTERVAL", "1h")

	cfg := NewConfig()
	require.NoError(t, cfg.Load())

	assert.Equal(t, "ghp_test", cfg.GitHubToken)
	assert.Equal(t, "http://localhost:9999", cfg.GitHubAPIURL)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.CommitWindow)
	assert.Equal(t, map[string]float64{"alice": 9.5, "bob": 8}, cfg.ScoreOverrides)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, time.Hour, cfg.RefreshInterval)
}

func TestLoadEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	path := writeFile(t, "test.env", "GITHUB_TOKEN=from-file\nLISTEN_ADDR=:9090\n")
	t.Setenv("ENV_FILE", path)
	t.Setenv("GITHUB_TOKEN", "")

	cfg := NewConfig()
	require.NoError(t, cfg.Load())

	assert.Equal(t, "from-file", cfg.GitHubToken)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero attempts", key: "RETRY_ATTEMPTS", value: "0"},
		{name: "zero window", key: "COMMIT_WINDOW_DAYS", value: "0"},
		{name: "malformed override", key: "SCORE_OVERRIDES", value: "alice"},
		{name: "non numeric override", key: "SCORE_OVERRIDES", value: "alice=high"},
		{name: "negative refresh interval", key: "REFRESH_INTERVAL", value: "-1m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := loadConfig(t)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadScoringParams(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		params, err := LoadScoringParams("")
		require.NoError(t, err)
		assert.Equal(t, scorer.DefaultParams(), params)
	})

	t.Run("partial file keeps remaining defaults", func(t *testing.T) {
		path := writeFile(t, "scoring.yaml", `
stars_multiplier: 1.2
weights:
  stars: 0.10
  activity: 0.20
`)
		params, err := LoadScoringParams(path)
		require.NoError(t, err)

		want := scorer.DefaultParams()
		want.StarsMultiplier = 1.2
		want.Weights.Stars = 0.10
		want.Weights.Activity = 0.20
		assert.Equal(t, want, params)
	})

	t.Run("weights that do not sum to one", func(t *testing.T) {
		path := writeFile(t, "scoring.yaml", "weights:\n  stars: 0.9\n")
		_, err := LoadScoringParams(path)
		assert.ErrorIs(t, err, scorer.ErrInvalidParams)
	})

	t.Run("NaN weight", func(t *testing.T) {
		path := writeFile(t, "scoring.yaml", "weights:\n  stars: .nan\n")
		_, err := LoadScoringParams(path)
		assert.ErrorIs(t, err, scorer.ErrInvalidParams)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadScoringParams(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestParseScoreOverrides(t *testing.T) {
	overrides, err := ParseScoreOverrides("")
	require.NoError(t, err)
	assert.Empty(t, overrides)

	overrides, err = ParseScoreOverrides(" octocat = 7.5 ,,")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"octocat": 7.5}, overrides)

	for _, raw := range []string{"octocat", "=7", "octocat=high", "octocat=NaN", "octocat=+Inf"} {
		_, err = ParseScoreOverrides(raw)
		assert.ErrorIs(t, err, ErrInvalidConfig, raw)
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "repufi"}
	assert.Equal(t, "user=u password=p dbname=repufi port=5432 host=db sslmode=disable", d.DSN())
}
