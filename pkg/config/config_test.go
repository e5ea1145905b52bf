package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPipelineConfig_Validate_RejectsOutOfRangeValues(t *testing.T) {
	base := PipelineConfig{
		NumBarrels:          16,
		FreqBarrelThreshold: 0.05,
		BarrelExponent:      0.6,
		SpillThreshold:      1024,
		MinTokenLen:         2,
		BucketCount:         128,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid, got %v", err)
	}

	cases := []func(PipelineConfig) PipelineConfig{
		func(c PipelineConfig) PipelineConfig { c.NumBarrels = 0; return c },
		func(c PipelineConfig) PipelineConfig { c.FreqBarrelThreshold = 0; return c },
		func(c PipelineConfig) PipelineConfig { c.FreqBarrelThreshold = 1.5; return c },
		func(c PipelineConfig) PipelineConfig { c.BarrelExponent = 0; return c },
		func(c PipelineConfig) PipelineConfig { c.SpillThreshold = 0; return c },
		func(c PipelineConfig) PipelineConfig { c.MinTokenLen = -1; return c },
		func(c PipelineConfig) PipelineConfig { c.BucketCount = 0; return c },
	}
	for i, mutate := range cases {
		if err := mutate(base).Validate(); err == nil {
			t.Errorf("case %d: expected validation error, got nil", i)
		}
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.NumBarrels != 16 {
		t.Fatalf("NumBarrels = %d, want default 16", cfg.Pipeline.NumBarrels)
	}
	if cfg.Pipeline.InputDir != "dataset" {
		t.Fatalf("InputDir = %q, want default %q", cfg.Pipeline.InputDir, "dataset")
	}
}

func TestLoad_MissingPathIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	content := "pipeline:\n  numBarrels: 32\n  inputDir: /data/corpus\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.NumBarrels != 32 {
		t.Fatalf("NumBarrels = %d, want 32", cfg.Pipeline.NumBarrels)
	}
	if cfg.Pipeline.InputDir != "/data/corpus" {
		t.Fatalf("InputDir = %q, want /data/corpus", cfg.Pipeline.InputDir)
	}
	// Fields absent from the YAML keep their defaults.
	if cfg.Pipeline.BucketCount != 128 {
		t.Fatalf("BucketCount = %d, want default 128", cfg.Pipeline.BucketCount)
	}
}

func TestApplyEnvOverrides_OverridesInputAndNumBarrels(t *testing.T) {
	t.Setenv("CORD19_INPUT_DIR", "/env/input")
	t.Setenv("CORD19_NUM_BARRELS", "64")
	t.Setenv("CORD19_KAFKA_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.InputDir != "/env/input" {
		t.Fatalf("InputDir = %q, want /env/input", cfg.Pipeline.InputDir)
	}
	if cfg.Pipeline.NumBarrels != 64 {
		t.Fatalf("NumBarrels = %d, want 64", cfg.Pipeline.NumBarrels)
	}
	if !cfg.Kafka.Enabled {
		t.Fatal("Kafka.Enabled = false, want true")
	}
}

func TestApplyEnvOverrides_InvalidNumericValueIsIgnored(t *testing.T) {
	t.Setenv("CORD19_NUM_BARRELS", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.NumBarrels != 16 {
		t.Fatalf("NumBarrels = %d, want default 16 (malformed override ignored)", cfg.Pipeline.NumBarrels)
	}
}
