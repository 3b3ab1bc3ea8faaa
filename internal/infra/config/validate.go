package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError when one or more problems are found, allowing callers
// to see all issues at once.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateTiers(cfg, ve)
	validateVault(cfg, ve)
	validateMaintenance(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateTiers(cfg *Config, ve *ValidationError) {
	if cfg.Warm.Path == "" {
		ve.Add("warm.path must not be empty; the warm tier is the backend of last resort")
	}
	if cfg.Hot.Enabled && cfg.Hot.URL == "" {
		ve.Add("hot.url must not be empty when the hot tier is enabled")
	}
	if cfg.Hot.TTL < 0 {
		ve.Add("hot.ttl must not be negative")
	}
	if cfg.Cold.Enabled {
		if cfg.Cold.Repo == "" || !strings.Contains(cfg.Cold.Repo, "/") {
			ve.Add("cold.repo must be \"owner/name\" when the cold tier is enabled")
		}
		if cfg.Cold.Token == "" {
			ve.Add("cold.token must not be empty when the cold tier is enabled (set via MEMTIER_COLD_TOKEN)")
		}
		if cfg.Cold.Root == "" {
			ve.Add("cold.root must not be empty when the cold tier is enabled")
		}
	}
}

func validateVault(cfg *Config, ve *ValidationError) {
	if !cfg.Vault.Enabled {
		return
	}
	if cfg.Vault.BaseURL == "" {
		ve.Add("vault.base_url must not be empty when the vault is enabled")
	}
	if cfg.Vault.Root == "" {
		ve.Add("vault.root must not be empty when the vault is enabled")
	}
	if cfg.Vault.RequestsPerSec < 0 {
		ve.Add("vault.requests_per_sec must not be negative")
	}
}

func validateMaintenance(cfg *Config, ve *ValidationError) {
	switch cfg.Maintenance.Curve {
	case "", "exponential", "linear":
	default:
		ve.Add("maintenance.curve %q is invalid (want: exponential, linear)", cfg.Maintenance.Curve)
	}
	if cfg.Maintenance.HalfLife < 0 {
		ve.Add("maintenance.half_life must not be negative")
	}
	if cfg.Maintenance.ArchiveThreshold < 0 || cfg.Maintenance.ArchiveThreshold > 1 {
		ve.Add("maintenance.archive_threshold must be within [0, 1]")
	}
	if cfg.Maintenance.SimilarityThreshold < 0 || cfg.Maintenance.SimilarityThreshold > 1 {
		ve.Add("maintenance.similarity_threshold must be within [0, 1]")
	}
	if cfg.Maintenance.ImportanceFloor < 0 || cfg.Maintenance.ImportanceFloor > 1 {
		ve.Add("maintenance.importance_floor must be within [0, 1]")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
