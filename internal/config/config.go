package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig aggregates runtime configuration; everything is injected via
// environment variables so a terminal image ships with no baked-in endpoints.
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	// Remote backend the coordinator pushes to.
	RemoteBaseURL string
	RemoteTimeout time.Duration

	// Connectivity probing: ProbeSuccesses consecutive good probes flip the
	// terminal to online, a single bad probe flips it to offline.
	ProbeInterval  time.Duration
	ProbeSuccesses int

	// Sync coordinator knobs.
	SyncWorkers   int
	RetryInterval time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration

	// Projection refresh.
	HistoryPageSize     int
	HistoryPullInterval time.Duration
	StockPullInterval   time.Duration
}

// Load reads and validates the configuration, falling back to defaults.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DBPath:              getEnv("POS_DB_PATH", "pos_terminal.db"),
		RemoteBaseURL:       getEnv("REMOTE_BASE_URL", "http://localhost:9090"),
		RemoteTimeout:       10 * time.Second,
		ProbeInterval:       5 * time.Second,
		ProbeSuccesses:      2,
		SyncWorkers:         2,
		RetryInterval:       5 * time.Second,
		BackoffBase:         2 * time.Second,
		BackoffCap:          5 * time.Minute,
		HistoryPageSize:     50,
		HistoryPullInterval: 30 * time.Second,
		StockPullInterval:   60 * time.Second,
	}

	var err error
	if cfg.RemoteTimeout, err = getEnvSeconds("REMOTE_TIMEOUT_SEC", cfg.RemoteTimeout); err != nil {
		return AppConfig{}, err
	}
	if cfg.ProbeInterval, err = getEnvSeconds("PROBE_INTERVAL_SEC", cfg.ProbeInterval); err != nil {
		return AppConfig{}, err
	}
	if cfg.ProbeSuccesses, err = getEnvInt("PROBE_SUCCESS_THRESHOLD", cfg.ProbeSuccesses); err != nil {
		return AppConfig{}, err
	}
	if cfg.ProbeSuccesses < 1 {
		return AppConfig{}, fmt.Errorf("PROBE_SUCCESS_THRESHOLD must be >= 1")
	}
	if cfg.SyncWorkers, err = getEnvInt("POS_SYNC_WORKERS", cfg.SyncWorkers); err != nil {
		return AppConfig{}, err
	}
	if cfg.SyncWorkers < 1 {
		return AppConfig{}, fmt.Errorf("POS_SYNC_WORKERS must be >= 1")
	}
	if cfg.RetryInterval, err = getEnvSeconds("RETRY_INTERVAL_SEC", cfg.RetryInterval); err != nil {
		return AppConfig{}, err
	}
	if cfg.BackoffBase, err = getEnvSeconds("BACKOFF_BASE_SEC", cfg.BackoffBase); err != nil {
		return AppConfig{}, err
	}
	if cfg.BackoffCap, err = getEnvSeconds("BACKOFF_CAP_SEC", cfg.BackoffCap); err != nil {
		return AppConfig{}, err
	}
	if cfg.BackoffBase <= 0 || cfg.BackoffCap < cfg.BackoffBase {
		return AppConfig{}, fmt.Errorf("backoff cap must be >= base and base must be > 0")
	}
	if cfg.HistoryPageSize, err = getEnvInt("HISTORY_PAGE_SIZE", cfg.HistoryPageSize); err != nil {
		return AppConfig{}, err
	}
	if cfg.HistoryPageSize <= 0 {
		return AppConfig{}, fmt.Errorf("HISTORY_PAGE_SIZE must be > 0")
	}
	if cfg.HistoryPullInterval, err = getEnvSeconds("HISTORY_PULL_INTERVAL_SEC", cfg.HistoryPullInterval); err != nil {
		return AppConfig{}, err
	}
	if cfg.StockPullInterval, err = getEnvSeconds("STOCK_PULL_INTERVAL_SEC", cfg.StockPullInterval); err != nil {
		return AppConfig{}, err
	}
	if cfg.RemoteBaseURL == "" {
		return AppConfig{}, fmt.Errorf("REMOTE_BASE_URL must not be empty")
	}

	return cfg, nil
}

// getEnv reads a string env var, returning the fallback when unset.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt reads an integer env var, returning the fallback when unset.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getEnvSeconds reads a duration env var expressed in whole seconds.
func getEnvSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(n) * time.Second, nil
}
