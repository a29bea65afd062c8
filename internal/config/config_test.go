package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MNEMO_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QdrantURL != "http://localhost:6333" {
		t.Errorf("unexpected default qdrant url: %q", cfg.QdrantURL)
	}
	if cfg.VectorDim != 768 {
		t.Errorf("unexpected default vector dim: %d", cfg.VectorDim)
	}
	if cfg.ConfigPath != "" {
		t.Errorf("absent file must leave ConfigPath empty, got %q", cfg.ConfigPath)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "log_level: debug\nqdrant_collection: custom\nvector_dim: 384\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MNEMO_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" || cfg.QdrantCollection != "custom" || cfg.VectorDim != 384 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.ConfigPath != path {
		t.Errorf("ConfigPath not recorded: %q", cfg.ConfigPath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MNEMO_CONFIG", path)
	t.Setenv("MNEMO_LOG_LEVEL", "error")
	t.Setenv("MNEMO_VECTOR_DIM", "128")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("env must win over file, got %q", cfg.LogLevel)
	}
	if cfg.VectorDim != 128 {
		t.Errorf("env int not applied: %d", cfg.VectorDim)
	}
}

func TestInvalidYAMLRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MNEMO_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidationRejectsBadVectorDim(t *testing.T) {
	t.Setenv("MNEMO_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("MNEMO_VECTOR_DIM", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for vector_dim 0")
	}
}
