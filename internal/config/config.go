// Package config loads pipeline configuration through a layered
// precedence: struct defaults, then an optional YAML file, then
// environment variable overrides, one block per wired subsystem.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/writerr/changepipeline/internal/batch"
	"github.com/writerr/changepipeline/internal/cluster"
	"github.com/writerr/changepipeline/internal/governor"
	"github.com/writerr/changepipeline/internal/session"
)

// Config is the top-level, on-disk/env-overridable configuration document.
type Config struct {
	MCP         MCPConfig         `yaml:"mcp"`
	Clustering  ClusteringConfig  `yaml:"clustering"`
	Batching    BatchingConfig    `yaml:"batching"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Governor    GovernorConfig    `yaml:"governor"`
	Memory      MemoryConfig      `yaml:"memory"`
	Log         LogConfig         `yaml:"log"`
}

// MCPConfig selects the transport the MCP surface listens on.
type MCPConfig struct {
	Mode string `yaml:"mode"` // "stdio" or "http"
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ClusteringConfig configures the clustering engine.
type ClusteringConfig struct {
	Strategy           string  `yaml:"strategy"`
	MinClusterSize     int     `yaml:"min_cluster_size"`
	MaxClusterSize     int     `yaml:"max_cluster_size"`
	MaxClusters        int     `yaml:"max_clusters"`
	ProximityThreshold int     `yaml:"proximity_threshold"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	CategoryWeight     float64 `yaml:"category_weight"`
	SourceWeight       float64 `yaml:"source_weight"`
	ConfidenceWeight   float64 `yaml:"confidence_weight"`
	ProximityWeight    float64 `yaml:"proximity_weight"`
}

// BatchingConfig configures the batch manager. Fields with no direct
// counterpart on batch.Config (Enabled, DefaultStrategy,
// MinChangesForGroup, EnableHierarchicalGrouping, OperationGroupingRules)
// are loaded and overridable but are not passed to any subsystem:
// BatchConfig converts only MaxChangesPerGroup, ProximityThreshold and
// TimeWindowMs.
type BatchingConfig struct {
	Enabled                    bool              `yaml:"enabled"`
	DefaultStrategy            string            `yaml:"default_strategy"`
	MaxChangesPerGroup         int               `yaml:"max_changes_per_group"`
	TimeWindowMs               int               `yaml:"time_window_ms"`
	ProximityThreshold         int               `yaml:"proximity_threshold"`
	MinChangesForGroup         int               `yaml:"min_changes_for_group"`
	EnableHierarchicalGrouping bool              `yaml:"enable_hierarchical_grouping"`
	OperationGroupingRules     map[string]string `yaml:"operation_grouping_rules"`
}

// PersistenceConfig configures where and how often session state is
// snapshotted to disk.
type PersistenceConfig struct {
	Root                      string `yaml:"root"`
	SnapshotIntervalMs        int    `yaml:"snapshot_interval_ms"`
	MaxSnapshotsPerSession    int    `yaml:"max_snapshots_per_session"`
	CompressionThresholdBytes int    `yaml:"compression_threshold_bytes"`
}

// GovernorConfig configures the resource governor's admission policy.
type GovernorConfig struct {
	MaxRequestsPerSecond int    `yaml:"max_requests_per_second"`
	BurstCapacity        int    `yaml:"burst_capacity"`
	BackoffStrategy      string `yaml:"backoff_strategy"`
	BaseBackoffMs        int    `yaml:"base_backoff_ms"`
	MaxRetries           int    `yaml:"max_retries"`
}

// MemoryConfig configures the session cache's memory budget and eviction
// strategy.
type MemoryConfig struct {
	MaxCacheBytes           int64  `yaml:"max_cache_bytes"`
	CacheStrategy           string `yaml:"cache_strategy"` // LRU, LFU, TTL, Priority
	LowMemoryThresholdBytes int64  `yaml:"low_memory_threshold_bytes"`
}

// LogConfig is the ambient structured-logging knob.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the struct-default configuration, matching the defaults
// baked into each wired subsystem's own DefaultConfig.
func Default() Config {
	return Config{
		MCP: MCPConfig{Mode: "stdio", Host: "0.0.0.0", Port: 8080},
		Clustering: ClusteringConfig{
			Strategy:            "Hybrid",
			MinClusterSize:      2,
			MaxClusterSize:      50,
			MaxClusters:         20,
			ProximityThreshold:  200,
			ConfidenceThreshold: 0.7,
			CategoryWeight:      0.3,
			SourceWeight:        0.2,
			ConfidenceWeight:    0.2,
			ProximityWeight:     0.3,
		},
		Batching: BatchingConfig{
			Enabled:             true,
			DefaultStrategy:     "Proximity",
			MaxChangesPerGroup:  25,
			TimeWindowMs:        300_000,
			ProximityThreshold:  200,
			MinChangesForGroup:  2,
		},
		Persistence: PersistenceConfig{
			Root:                      "./pipeline-data",
			SnapshotIntervalMs:        60_000,
			MaxSnapshotsPerSession:    5,
			CompressionThresholdBytes: 4096,
		},
		Governor: GovernorConfig{
			MaxRequestsPerSecond: 10,
			BurstCapacity:        20,
			BackoffStrategy:      "Exponential",
			BaseBackoffMs:        1000,
			MaxRetries:           3,
		},
		Memory: MemoryConfig{
			MaxCacheBytes:           64 << 20,
			CacheStrategy:           "LRU",
			LowMemoryThresholdBytes: 8 << 20,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from an optional YAML file (WRITERR_CONFIG_PATH)
// and then environment variable overrides (WRITERR_*), applied on top of
// the struct defaults.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("WRITERR_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if mode := os.Getenv("WRITERR_MCP_MODE"); mode != "" {
		cfg.MCP.Mode = mode
	}
	if host := os.Getenv("WRITERR_MCP_HOST"); host != "" {
		cfg.MCP.Host = host
	}
	if err := overrideInt(&cfg.MCP.Port, "WRITERR_MCP_PORT"); err != nil {
		return Config{}, err
	}
	if root := os.Getenv("WRITERR_PERSISTENCE_ROOT"); root != "" {
		cfg.Persistence.Root = root
	}
	if err := overrideInt(&cfg.Persistence.SnapshotIntervalMs, "WRITERR_PERSISTENCE_SNAPSHOT_INTERVAL_MS"); err != nil {
		return Config{}, err
	}
	if err := overrideInt(&cfg.Governor.MaxRequestsPerSecond, "WRITERR_GOVERNOR_MAX_REQUESTS_PER_SECOND"); err != nil {
		return Config{}, err
	}
	if err := overrideInt(&cfg.Governor.BurstCapacity, "WRITERR_GOVERNOR_BURST_CAPACITY"); err != nil {
		return Config{}, err
	}
	if strategy := os.Getenv("WRITERR_CLUSTERING_STRATEGY"); strategy != "" {
		cfg.Clustering.Strategy = strategy
	}
	if level := os.Getenv("WRITERR_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if enabled := os.Getenv("WRITERR_BATCHING_ENABLED"); enabled != "" {
		value, err := strconv.ParseBool(enabled)
		if err != nil {
			return Config{}, fmt.Errorf("invalid WRITERR_BATCHING_ENABLED: %w", err)
		}
		cfg.Batching.Enabled = value
	}

	return cfg, nil
}

func overrideInt(dst *int, envVar string) error {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", envVar, err)
	}
	*dst = v
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// ClusterConfig converts the document's clustering block to cluster.Config.
func (c Config) ClusterConfig() cluster.Config {
	return cluster.Config{
		MinClusterSize:     c.Clustering.MinClusterSize,
		MaxClusterSize:     c.Clustering.MaxClusterSize,
		MaxClusters:        c.Clustering.MaxClusters,
		ProximityThreshold: c.Clustering.ProximityThreshold,
		WeightCategory:     c.Clustering.CategoryWeight,
		WeightSource:       c.Clustering.SourceWeight,
		WeightConfidence:   c.Clustering.ConfidenceWeight,
		WeightPosition:     c.Clustering.ProximityWeight,
	}
}

// BatchConfig converts the document's batching block to batch.Config.
func (c Config) BatchConfig() batch.Config {
	return batch.Config{
		MaxChangesPerGroup: c.Batching.MaxChangesPerGroup,
		ProximityThreshold: c.Batching.ProximityThreshold,
		TimeWindow:         time.Duration(c.Batching.TimeWindowMs) * time.Millisecond,
	}
}

// SessionConfig converts the document's persistence and memory blocks to
// session.Config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Root:                      c.Persistence.Root,
		SnapshotInterval:          time.Duration(c.Persistence.SnapshotIntervalMs) * time.Millisecond,
		MaxSnapshotsPerSession:    c.Persistence.MaxSnapshotsPerSession,
		CompressionThresholdBytes: c.Persistence.CompressionThresholdBytes,
		MaxCacheBytes:             c.Memory.MaxCacheBytes,
		CacheStrategy:             session.CacheStrategy(c.Memory.CacheStrategy),
		LowMemoryThresholdBytes:   c.Memory.LowMemoryThresholdBytes,
	}
}

// GovernorOptions converts the document's governor block to governor.Config.
func (c Config) GovernorOptions() governor.Config {
	return governor.Config{
		MaxRequestsPerSecond: c.Governor.MaxRequestsPerSecond,
		BurstCapacity:        c.Governor.BurstCapacity,
		BackoffStrategy:      governor.BackoffStrategy(c.Governor.BackoffStrategy),
		BaseBackoffMs:        c.Governor.BaseBackoffMs,
		MaxRetries:           c.Governor.MaxRetries,
	}
}
