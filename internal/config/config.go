package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir          string `yaml:"data_dir"`
	MemoryDBPath     string `yaml:"memory_db_path"`
	KnowledgeDBPath  string `yaml:"knowledge_db_path"`
	QdrantURL        string `yaml:"qdrant_url"`
	QdrantCollection string `yaml:"qdrant_collection"`
	VectorDim        int    `yaml:"vector_dim"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`

	// ConfigPath is the file the watcher observes; empty when no file was
	// found at load time.
	ConfigPath string `yaml:"-"`
}

// Load builds the config from defaults, an optional YAML file, then
// environment overrides, in that order.
func Load() (*Config, error) {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".mnemo")

	cfg := &Config{
		DataDir:          dataDir,
		MemoryDBPath:     filepath.Join(dataDir, "memory.db"),
		KnowledgeDBPath:  filepath.Join(dataDir, "knowledge.db"),
		QdrantURL:        "http://localhost:6333",
		QdrantCollection: "mnemo_knowledge",
		VectorDim:        768,
		LogLevel:         "info",
		LogFormat:        "text",
	}

	path := envStr("MNEMO_CONFIG", filepath.Join(dataDir, "config.yaml"))
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.ConfigPath = path
	}

	cfg.DataDir = envStr("MNEMO_DATA_DIR", cfg.DataDir)
	cfg.MemoryDBPath = envStr("MNEMO_MEMORY_DB_PATH", cfg.MemoryDBPath)
	cfg.KnowledgeDBPath = envStr("MNEMO_KNOWLEDGE_DB_PATH", cfg.KnowledgeDBPath)
	cfg.QdrantURL = envStr("MNEMO_QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantCollection = envStr("MNEMO_QDRANT_COLLECTION", cfg.QdrantCollection)
	cfg.VectorDim = envInt("MNEMO_VECTOR_DIM", cfg.VectorDim)
	cfg.LogLevel = envStr("MNEMO_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envStr("MNEMO_LOG_FORMAT", cfg.LogFormat)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MemoryDBPath == "" {
		return fmt.Errorf("memory_db_path must not be empty")
	}
	if c.KnowledgeDBPath == "" {
		return fmt.Errorf("knowledge_db_path must not be empty")
	}
	if c.VectorDim < 1 {
		return fmt.Errorf("vector_dim must be positive, got %d", c.VectorDim)
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	return os.MkdirAll(c.DataDir, 0700)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
