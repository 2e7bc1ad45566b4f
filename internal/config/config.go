// Package config loads the consolidation pipeline's settings from an
// optional YAML file with environment-variable overrides. Countries differ
// in how uniformly their press names events, so the similarity knobs can be
// tuned per country.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/pressgraph/evc/internal/clustering"
	"github.com/pressgraph/evc/internal/deconflict"
	"github.com/pressgraph/evc/internal/grouping"
)

// CountryConfig overrides similarity thresholds for one country. Nil fields
// inherit the global value.
type CountryConfig struct {
	// ClusterEps overrides the daily clustering neighborhood radius.
	ClusterEps *float64 `yaml:"cluster_eps,omitempty"`

	// GroupThreshold overrides the batch grouping similarity threshold.
	GroupThreshold *float64 `yaml:"group_threshold,omitempty"`
}

// Config holds all pipeline settings.
type Config struct {
	// DBPath is the SQLite database location.
	// Default: .evc/evc.db. Env: EVC_DB_PATH
	DBPath string `yaml:"db_path"`

	// ArbiterModel names the arbitration model.
	// Env: EVC_ARBITER_MODEL
	ArbiterModel string `yaml:"arbiter_model"`

	// EmbeddingModel names the embedding model.
	// Env: EVC_EMBEDDING_MODEL
	EmbeddingModel string `yaml:"embedding_model"`

	// ClusterEps is the daily clustering neighborhood radius in cosine
	// distance. Useful range: 0.15-0.35. Env: EVC_CLUSTER_EPS
	ClusterEps float64 `yaml:"cluster_eps"`

	// BatchSize is how many clusters share an arbitration batch.
	// Env: EVC_BATCH_SIZE
	BatchSize int `yaml:"batch_size"`

	// MinDistinctNames is the distinct-name count below which a cluster
	// skips arbitration. Env: EVC_MIN_DISTINCT_NAMES
	MinDistinctNames int `yaml:"min_distinct_names"`

	// GroupThreshold is the batch grouping similarity threshold.
	// Env: EVC_GROUP_THRESHOLD
	GroupThreshold float64 `yaml:"group_threshold"`

	// Countries holds per-country threshold overrides keyed by country
	// name as it appears in raw mentions.
	Countries map[string]CountryConfig `yaml:"countries,omitempty"`
}

// Default returns the settings used when no config file exists.
func Default() *Config {
	return &Config{
		DBPath:           ".evc/evc.db",
		ClusterEps:       clustering.DefaultConfig().Eps,
		BatchSize:        clustering.DefaultConfig().BatchSize,
		MinDistinctNames: deconflict.DefaultConfig().MinDistinctNames,
		GroupThreshold:   grouping.DefaultConfig().Threshold,
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. Environment overrides apply after the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file is fine; defaults plus env cover it.
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("EVC_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("EVC_ARBITER_MODEL"); v != "" {
		c.ArbiterModel = v
	}
	if v := os.Getenv("EVC_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("EVC_CLUSTER_EPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ClusterEps = f
		}
	}
	if v := os.Getenv("EVC_GROUP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.GroupThreshold = f
		}
	}
	if v := os.Getenv("EVC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BatchSize = n
		}
	}
	if v := os.Getenv("EVC_MIN_DISTINCT_NAMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MinDistinctNames = n
		}
	}
}

// Validate checks all settings, including per-country overrides.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if err := c.Clustering("").Validate(); err != nil {
		return err
	}
	if err := c.Deconflict().Validate(); err != nil {
		return err
	}
	if err := c.Grouping("").Validate(); err != nil {
		return err
	}
	for country := range c.Countries {
		if err := c.Clustering(country).Validate(); err != nil {
			return fmt.Errorf("country %s: %w", country, err)
		}
		if err := c.Grouping(country).Validate(); err != nil {
			return fmt.Errorf("country %s: %w", country, err)
		}
	}
	return nil
}

// Clustering resolves the daily clustering settings for country.
func (c *Config) Clustering(country string) *clustering.Config {
	cfg := clustering.DefaultConfig()
	cfg.Eps = c.ClusterEps
	cfg.BatchSize = c.BatchSize
	if o, ok := c.Countries[country]; ok && o.ClusterEps != nil {
		cfg.Eps = *o.ClusterEps
	}
	return cfg
}

// Deconflict resolves the daily deconfliction settings.
func (c *Config) Deconflict() *deconflict.Config {
	cfg := deconflict.DefaultConfig()
	cfg.MinDistinctNames = c.MinDistinctNames
	return cfg
}

// Grouping resolves the batch grouping settings for country.
func (c *Config) Grouping(country string) *grouping.Config {
	cfg := grouping.DefaultConfig()
	cfg.Threshold = c.GroupThreshold
	if o, ok := c.Countries[country]; ok && o.GroupThreshold != nil {
		cfg.Threshold = *o.GroupThreshold
	}
	return cfg
}
