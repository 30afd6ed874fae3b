package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"repufi/scorer"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// DatabaseConfig holds the optional score history store settings.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Enabled reports whether enough settings are present to open a connection.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != "" && d.Name != ""
}

// DSN builds a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s port=%s host=%s sslmode=disable",
		d.User, d.Password, d.Name, d.Port, d.Host,
	)
}

// Config holds all configuration for the application
type Config struct {
	GitHubToken  string
	GitHubAPIURL string
	HTTPTimeout  time.Duration

	ListenAddr string
	LogLevel   string

	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RateLimitBuffer time.Duration

	CommitScanRepos int
	CommitWindow    time.Duration

	ScoringFile    string
	Scoring        scorer.Params
	ScoreOverrides map[string]float64

	Database DatabaseConfig

	// RefreshInterval of zero disables background re-scoring.
	RefreshInterval time.Duration
	RefreshMaxAge   time.Duration
}

// NewConfig creates a new Config instance
func NewConfig() *Config {
	return &Config{}
}

func setDefaults() {
	viper.SetDefault("ENV_FILE", ".env")
	viper.SetDefault("GITHUB_API_URL", "https://api.github.com")
	viper.SetDefault("HTTP_TIMEOUT", "30s")
	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("RETRY_ATTEMPTS", 3)
	viper.SetDefault("RETRY_BASE_DELAY", "1s")
	viper.SetDefault("RATE_LIMIT_BUFFER", "1s")
	viper.SetDefault("COMMIT_SCAN_REPOS", 5)
	viper.SetDefault("COMMIT_WINDOW_DAYS", 30)
	viper.SetDefault("POSTGRES_PORT", "5432")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 25)
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	viper.SetDefault("REFRESH_INTERVAL", "0s")
	viper.SetDefault("REFRESH_MAX_AGE", "24h")
}

// Load loads configuration from environment variables and an optional .env
// file. A missing GITHUB_TOKEN is not an error here; scoring requests report
// it instead.
func (c *Config) Load() error {
	setDefaults()
	viper.AutomaticEnv()

	// Read .env file if it exists
	if envFile := viper.GetString("ENV_FILE"); envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			viper.SetConfigFile(envFile)
			viper.SetConfigType("env")
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	c.GitHubToken = viper.GetString("GITHUB_TOKEN")
	c.GitHubAPIURL = strings.TrimRight(viper.GetString("GITHUB_API_URL"), "/")
	c.HTTPTimeout = viper.GetDuration("HTTP_TIMEOUT")
	c.ListenAddr = viper.GetString("LISTEN_ADDR")
	c.LogLevel = strings.ToLower(viper.GetString("LOG_LEVEL"))

	c.RetryAttempts = viper.GetInt("RETRY_ATTEMPTS")
	if c.RetryAttempts < 1 {
		return fmt.Errorf("%w: RETRY_ATTEMPTS must be at least 1", ErrInvalidConfig)
	}
	c.RetryBaseDelay = viper.GetDuration("RETRY_BASE_DELAY")
	c.RateLimitBuffer = viper.GetDuration("RATE_LIMIT_BUFFER")

	c.CommitScanRepos = viper.GetInt("COMMIT_SCAN_REPOS")
	days := viper.GetInt("COMMIT_WINDOW_DAYS")
	if c.CommitScanRepos < 1 || days < 1 {
		return fmt.Errorf("%w: COMMIT_SCAN_REPOS and COMMIT_WINDOW_DAYS must be positive", ErrInvalidConfig)
	}
	c.CommitWindow = time.Duration(days) * 24 * time.Hour

	c.ScoringFile = viper.GetString("SCORING_FILE")
	params, err := LoadScoringParams(c.ScoringFile)
	if err != nil {
		return err
	}
	c.Scoring = params

	overrides, err := ParseScoreOverrides(viper.GetString("SCORE_OVERRIDES"))
	if err != nil {
		return err
	}
	c.ScoreOverrides = overrides

	c.Database = DatabaseConfig{
		Host:            viper.GetString("POSTGRES_HOST"),
		Port:            viper.GetString("POSTGRES_PORT"),
		User:            viper.GetString("POSTGRES_USER"),
		Password:        viper.GetString("POSTGRES_PASSWORD"),
		Name:            viper.GetString("POSTGRES_DB"),
		MaxOpenConns:    viper.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    viper.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: viper.GetDuration("DB_CONN_MAX_LIFETIME"),
	}

	c.RefreshInterval = viper.GetDuration("REFRESH_INTERVAL")
	c.RefreshMaxAge = viper.GetDuration("REFRESH_MAX_AGE")
	if c.RefreshInterval < 0 || c.RefreshMaxAge <= 0 {
		return fmt.Errorf("%w: REFRESH_INTERVAL must not be negative and REFRESH_MAX_AGE must be positive", ErrInvalidConfig)
	}

	return nil
}

// LoadScoringParams reads scoring coefficients from path on top of the
// defaults. An empty path returns the defaults.
func LoadScoringParams(path string) (scorer.Params, error) {
	params := scorer.DefaultParams()
	if path == "" {
		return params, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return scorer.Params{}, fmt.Errorf("failed to read scoring file %s: %w", path, err)
	}
	if err := v.Unmarshal(&params); err != nil {
		return scorer.Params{}, fmt.Errorf("failed to decode scoring file %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return scorer.Params{}, fmt.Errorf("scoring file %s: %w", path, err)
	}
	return params, nil
}

// ParseScoreOverrides parses "alice=9.5,bob=8" into a lowercase username map.
func ParseScoreOverrides(raw string) (map[string]float64, error) {
	overrides := make(map[string]float64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: malformed SCORE_OVERRIDES entry %q", ErrInvalidConfig, pair)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: SCORE_OVERRIDES value for %s: %v", ErrInvalidConfig, name, err)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, fmt.Errorf("%w: SCORE_OVERRIDES value for %s is not finite", ErrInvalidConfig, name)
		}
		overrides[name] = score
	}
	return overrides, nil
}
