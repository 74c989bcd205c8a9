// Package config loads the construction parameters a FasterKv starts
// from, the same YAML-with-env-expansion pattern the rest of the
// ecosystem uses for service configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"fasterkv/pkg/store"
)

// Config is the top-level YAML document.
type Config struct {
	Store StoreConfig `yaml:"store"`
}

// StoreConfig mirrors store.Options field for field, so a config file
// maps onto construction parameters without any translation layer.
type StoreConfig struct {
	TableSize    uint64 `yaml:"table_size"`
	LogSizeBytes uint64 `yaml:"log_size_bytes"`
	PageSize     uint64 `yaml:"page_size"`
	BasePath     string `yaml:"base_path"`
	RetryBudget  int    `yaml:"retry_budget"`
}

// DefaultStoreConfig returns the parameters a small, in-memory
// instance starts from when no file is supplied.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		TableSize:    1 << 16,
		LogSizeBytes: 1 << 30,
		PageSize:     0, // recordlog.DefaultPageSize, clamped to fit
		RetryBudget:  1024,
	}
}

// ToOptions converts a loaded StoreConfig into store.Options.
func (c StoreConfig) ToOptions() store.Options {
	return store.Options{
		TableSize:    c.TableSize,
		LogSizeBytes: c.LogSizeBytes,
		PageSize:     c.PageSize,
		BasePath:     c.BasePath,
		RetryBudget:  c.RetryBudget,
	}
}

// Load reads and parses path, expanding ${VAR} references against the
// process environment before decoding, and rejecting unknown fields so
// a typo'd key fails at startup instead of silently being ignored. An
// empty path returns a Config seeded with DefaultStoreConfig.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{Store: DefaultStoreConfig()}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: could not read %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Config{Store: DefaultStoreConfig()}
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: YAML syntax error in %q: %w", path, err)
	}

	return &cfg, nil
}
