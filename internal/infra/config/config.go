// Package config loads and validates the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Hot         HotConfig         `yaml:"hot"`
	Warm        WarmConfig        `yaml:"warm"`
	Cold        ColdConfig        `yaml:"cold"`
	Vault       VaultConfig       `yaml:"vault"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Sync        SyncConfig        `yaml:"sync"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
}

// HotConfig holds Redis cache tier settings.
type HotConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"` // e.g. "redis://localhost:6379/0"
	TTL     time.Duration `yaml:"ttl"` // 0 = no expiry
}

// WarmConfig holds local file tier settings.
type WarmConfig struct {
	Path string `yaml:"path"` // JSON store file
}

// ColdConfig holds git-backed archive tier settings.
type ColdConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Repo    string        `yaml:"repo"` // "owner/name"
	Token   string        `yaml:"token"`
	Branch  string        `yaml:"branch,omitempty"`
	Root    string        `yaml:"root"` // path prefix inside the repo
	Timeout time.Duration `yaml:"timeout"`
}

// VaultConfig holds markdown note vault settings.
type VaultConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Root           string        `yaml:"root"` // vault folder holding memory notes
	Timeout        time.Duration `yaml:"timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
}

// MaintenanceConfig holds decay engine tuning. Zero values fall back to
// the engine defaults.
type MaintenanceConfig struct {
	Schedule            string        `yaml:"schedule"` // cron expression or duration
	HalfLife            time.Duration `yaml:"half_life"`
	Curve               string        `yaml:"curve"` // "exponential" or "linear"
	AccessBoostWeight   float64       `yaml:"access_boost_weight"`
	ImportanceWindow    time.Duration `yaml:"importance_window"`
	ImportanceFloor     float64       `yaml:"importance_floor"`
	ArchiveThreshold    float64       `yaml:"archive_threshold"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
}

// SyncConfig holds the periodic markdown sync schedule.
type SyncConfig struct {
	Schedule string `yaml:"schedule"` // cron expression or duration
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns the persistent data directory under
// $HOME/.memtier. Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".memtier")
}

// Defaults returns a Config with sensible defaults: warm tier only, no
// remote backends, maintenance every six hours.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Hot: HotConfig{
			Enabled: false,
			URL:     "redis://localhost:6379/0",
		},
		Warm: WarmConfig{
			Path: filepath.Join(dataDir, "memories.json"),
		},
		Cold: ColdConfig{
			Enabled: false,
			BaseURL: "https://api.github.com",
			Root:    "memories",
			Timeout: 30 * time.Second,
		},
		Vault: VaultConfig{
			Enabled:        false,
			Root:           "memories",
			Timeout:        10 * time.Second,
			RequestsPerSec: 20,
		},
		Maintenance: MaintenanceConfig{
			Schedule: "6h",
			Curve:    "exponential",
		},
		Sync: SyncConfig{
			Schedule: "1h",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps MEMTIER_* env vars to config fields. Secrets
// belong here rather than in the file.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEMTIER_HOT_ENABLED"); v == "true" {
		cfg.Hot.Enabled = true
	}
	if v := os.Getenv("MEMTIER_HOT_URL"); v != "" {
		cfg.Hot.URL = v
	}
	if v := os.Getenv("MEMTIER_WARM_PATH"); v != "" {
		cfg.Warm.Path = v
	}
	if v := os.Getenv("MEMTIER_COLD_ENABLED"); v == "true" {
		cfg.Cold.Enabled = true
	}
	if v := os.Getenv("MEMTIER_COLD_REPO"); v != "" {
		cfg.Cold.Repo = v
	}
	if v := os.Getenv("MEMTIER_COLD_TOKEN"); v != "" {
		cfg.Cold.Token = v
	}
	if v := os.Getenv("MEMTIER_VAULT_ENABLED"); v == "true" {
		cfg.Vault.Enabled = true
	}
	if v := os.Getenv("MEMTIER_VAULT_BASE_URL"); v != "" {
		cfg.Vault.BaseURL = v
	}
	if v := os.Getenv("MEMTIER_VAULT_API_KEY"); v != "" {
		cfg.Vault.APIKey = v
	}
	if v := os.Getenv("MEMTIER_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MEMTIER_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MEMTIER_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MEMTIER_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("MEMTIER_MAINTENANCE_SCHEDULE"); v != "" {
		cfg.Maintenance.Schedule = v
	}
	if v := os.Getenv("MEMTIER_SYNC_SCHEDULE"); v != "" {
		cfg.Sync.Schedule = v
	}
}
