package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Default() should validate: %v", err)
	}
}

func TestValidateRejectsZeroSummaryDim(t *testing.T) {
	cfg := Default()
	cfg.SummaryDim = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("summary_dim = 0 should be rejected")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("invalid log level should be rejected")
	}
}

func TestValidateRejectsNonPowerOfTwoBuckets(t *testing.T) {
	cfg := Default()
	cfg.ExactTableBuckets = 100
	if err := Validate(cfg); err == nil {
		t.Fatal("non-power-of-two bucket count should be rejected")
	}
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("MEMCORE_STORE_ROOT", "/tmp/custom-root")
	t.Setenv("MEMCORE_GRAPH_E_MAX", "64")
	t.Setenv("MEMCORE_SIMILARITY_THRESHOLD", "0.5")

	cfg := FromEnv()
	if cfg.StoreRoot != "/tmp/custom-root" {
		t.Fatalf("StoreRoot = %q, want override", cfg.StoreRoot)
	}
	if cfg.GraphEMax != 64 {
		t.Fatalf("GraphEMax = %d, want 64", cfg.GraphEMax)
	}
	if cfg.SimilarityThreshold != 0.5 {
		t.Fatalf("SimilarityThreshold = %v, want 0.5", cfg.SimilarityThreshold)
	}
}

func TestFromEnvIgnoresUnparseableOverrides(t *testing.T) {
	t.Setenv("MEMCORE_GRAPH_E_MAX", "not-a-number")
	cfg := FromEnv()
	if cfg.GraphEMax != Default().GraphEMax {
		t.Fatalf("GraphEMax = %d, want default %d on unparseable override", cfg.GraphEMax, Default().GraphEMax)
	}
}
