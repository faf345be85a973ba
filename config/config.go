// Package config holds the core's tunables: the same fields named
// throughout §3/§4 as per-engine defaults, collected into one struct
// with env-var overrides, in the shape of the teacher's node.Config /
// node.DefaultConfig / node.ValidateConfig and crypto.HSMConfigFromEnv.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config collects every tunable named in the spec's defaults list.
type Config struct {
	// StoreRoot is the persistence root (§6). The source hard-codes
	// /mnt/HoloGit; here it must be configurable.
	StoreRoot string `json:"store_root"`
	LogLevel  string `json:"log_level"`

	// SummaryDim is D, the summary-vector width shared by the
	// deduplicator's LSH tables and the sublimator's fallback
	// embedding truncation.
	SummaryDim int `json:"summary_dim"`

	// Deduplicator (§4.2).
	BloomBits            uint32  `json:"bloom_bits"`
	BloomHashes          int     `json:"bloom_hashes"`
	ExactTableBuckets    int     `json:"exact_table_buckets"`
	LSHTables            int     `json:"lsh_tables"`
	LSHHyperplanes       int     `json:"lsh_hyperplanes"`
	LSHSeed              int64   `json:"lsh_seed"`
	SimilarityThreshold  float64 `json:"similarity_threshold"`

	// Correlation graph (§4.3).
	GraphEMax               int     `json:"graph_e_max"`
	GraphVMax               int     `json:"graph_v_max"`
	GraphBoost              float64 `json:"graph_boost"`
	GraphDecay              float64 `json:"graph_decay"`
	GraphEpsilon            float64 `json:"graph_epsilon"`
	GraphWMin               float64 `json:"graph_w_min"`
	GraphDriftMax           float64 `json:"graph_drift_max"`
	GraphStabilityThreshold float64 `json:"graph_stability_threshold"`

	// Version chain garbage collection (§4.4).
	ArchiveMaxAgeSeconds int64 `json:"archive_max_age_seconds"`
	ArchiveBatchCap      int   `json:"archive_batch_cap"`

	// Coordinator background sweeper (§4.3 "periodic convergence
	// sweep", §4.4 "Garbage collection").
	SweepInterval string `json:"sweep_interval"` // parsed with time.ParseDuration
}

var allowedLogLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

// Default returns the spec's named defaults.
func Default() Config {
	return Config{
		StoreRoot:  "./holocore-data",
		LogLevel:   "info",
		SummaryDim: 128,

		BloomBits:           1 << 20,
		BloomHashes:         4,
		ExactTableBuckets:   4096,
		LSHTables:           8,
		LSHHyperplanes:      16,
		LSHSeed:             1,
		SimilarityThreshold: 0.85,

		GraphEMax:               32,
		GraphVMax:               16,
		GraphBoost:              0.1,
		GraphDecay:              0.95,
		GraphEpsilon:            0.01,
		GraphWMin:               0.3,
		GraphDriftMax:           0.25,
		GraphStabilityThreshold: 0.05,

		ArchiveMaxAgeSeconds: 86400,
		ArchiveBatchCap:      1000,

		SweepInterval: "30s",
	}
}

// FromEnv applies MEMCORE_* overrides on top of Default(), following
// the teacher's HSMConfigFromEnv idiom: read, parse, fall back to the
// existing value on any parse error rather than aborting.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("MEMCORE_STORE_ROOT"); v != "" {
		cfg.StoreRoot = v
	}
	if v := os.Getenv("MEMCORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MEMCORE_SUMMARY_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SummaryDim = n
		}
	}
	if v := os.Getenv("MEMCORE_BLOOM_BITS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.BloomBits = uint32(n)
		}
	}
	if v := os.Getenv("MEMCORE_BLOOM_HASHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BloomHashes = n
		}
	}
	if v := os.Getenv("MEMCORE_LSH_TABLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LSHTables = n
		}
	}
	if v := os.Getenv("MEMCORE_LSH_HYPERPLANES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LSHHyperplanes = n
		}
	}
	if v := os.Getenv("MEMCORE_LSH_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.LSHSeed = n
		}
	}
	if v := os.Getenv("MEMCORE_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("MEMCORE_GRAPH_E_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GraphEMax = n
		}
	}
	if v := os.Getenv("MEMCORE_GRAPH_DECAY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GraphDecay = f
		}
	}
	if v := os.Getenv("MEMCORE_ARCHIVE_MAX_AGE_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.ArchiveMaxAgeSeconds = n
		}
	}
	if v := os.Getenv("MEMCORE_SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = v
	}

	return cfg
}

// Validate rejects D = 0 (summary_dim), one of the boundary cases §8
// calls out explicitly, plus the structural fields every engine needs
// to construct safely. n_layer is not a config field; the sublimator
// rejects a state with no layers.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.StoreRoot) == "" {
		return errors.New("config: store_root is required")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("config: invalid log_level %q", cfg.LogLevel)
	}
	if cfg.SummaryDim <= 0 {
		return errors.New("config: summary_dim must be > 0")
	}
	if cfg.BloomBits == 0 || cfg.BloomHashes <= 0 {
		return errors.New("config: bloom_bits and bloom_hashes must be > 0")
	}
	if cfg.ExactTableBuckets <= 0 || (cfg.ExactTableBuckets&(cfg.ExactTableBuckets-1)) != 0 {
		return errors.New("config: exact_table_buckets must be a positive power of two")
	}
	if cfg.LSHTables <= 0 || cfg.LSHHyperplanes <= 0 {
		return errors.New("config: lsh_tables and lsh_hyperplanes must be > 0")
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return errors.New("config: similarity_threshold must be in [0,1]")
	}
	if cfg.GraphEMax <= 0 || cfg.GraphVMax <= 0 {
		return errors.New("config: graph_e_max and graph_v_max must be > 0")
	}
	if cfg.GraphDecay <= 0 || cfg.GraphDecay > 1 {
		return errors.New("config: graph_decay must be in (0,1]")
	}
	if cfg.GraphBoost <= 0 {
		return errors.New("config: graph_boost must be > 0")
	}
	if cfg.ArchiveMaxAgeSeconds < 0 || cfg.ArchiveBatchCap < 0 {
		return errors.New("config: archive bounds must be >= 0")
	}
	return nil
}
