package woningcheck

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// Environment selects runtime behavior defaults.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// Config is one consistent view of the process configuration.
type Config struct {
	Env             Environment
	TruthPolicy     PolicyLevel
	MaxWorkers      int
	MarketMeanPerM2 int
	DBPath          string
	DBRetention     time.Duration
	HTTPAddr        string
	PreferencesPath string

	// Governance relaxation switches. Rejected at governance
	// construction when the environment is production.
	AllowPartialGeneration bool
	OfflineStructuralMode  bool
}

// Settings guards the live configuration, read from the environment once
// and only refreshed through an explicit Reload. Handlers take a
// Snapshot and hold a consistent view for the duration of a request.
type Settings struct {
	mu  sync.RWMutex
	cfg Config
}

// LoadSettings reads configuration from the environment.
func LoadSettings() *Settings {
	s := &Settings{}
	s.Reload()
	return s
}

// Reload re-reads the environment. Explicit: nothing watches for drift.
func (s *Settings) Reload() {
	cfg := Config{
		Env:             EnvDevelopment,
		TruthPolicy:     PolicyStrict,
		MaxWorkers:      envInt("WONING_MAX_WORKERS", 4),
		MarketMeanPerM2: envInt("WONING_MARKET_MEAN", 3500),
		DBPath:          envString("WONING_DB", "woningcheck.db"),
		DBRetention:     envDuration("WONING_DB_RETENTION", 30*24*time.Hour),
		HTTPAddr:        envString("WONING_ADDR", ":8080"),
		PreferencesPath: os.Getenv("WONING_PREFERENCES"),

		AllowPartialGeneration: envBool("WONING_ALLOW_PARTIAL"),
		OfflineStructuralMode:  envBool("WONING_OFFLINE_STRUCTURAL"),
	}

	switch Environment(os.Getenv("WONING_ENV")) {
	case EnvProduction:
		cfg.Env = EnvProduction
	case EnvTest:
		cfg.Env = EnvTest
	}

	switch PolicyLevel(os.Getenv("WONING_TRUTH_POLICY")) {
	case PolicyWarn:
		cfg.TruthPolicy = PolicyWarn
	case PolicyOff:
		cfg.TruthPolicy = PolicyOff
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of the current settings.
func (s *Settings) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
