// Package config loads engine configuration from a YAML file with
// environment-variable overrides. All values have working defaults; a
// missing file is not an error.
package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EmbedderConfig selects and configures the embedding engine.
type EmbedderConfig struct {
	Type           string `yaml:"type"` // "mock" or "onnx"
	ModelPath      string `yaml:"model_path"`
	TokenizerPath  string `yaml:"tokenizer_path"`
	RuntimeLibrary string `yaml:"runtime_library"`
	ModelID        string `yaml:"model_id"`
	Dimensions     int    `yaml:"dimensions"`
}

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Type string `yaml:"type"` // "chromem" or "pgvector"
	Path string `yaml:"path"` // chromem persistence dir; empty = in-memory
	DSN  string `yaml:"dsn"`  // pgvector connection string
}

// HistoryConfig configures the message repository.
type HistoryConfig struct {
	Path string `yaml:"path"` // sqlite file; empty = in-memory
}

// BackfillConfig configures the backfill jobs.
type BackfillConfig struct {
	SaveInterval int `yaml:"save_interval"`
}

// WatchConfig configures the real-time watcher.
type WatchConfig struct {
	ScanWindow int `yaml:"scan_window"`
}

// Config is the root configuration.
type Config struct {
	Enabled  bool           `yaml:"enabled"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Store    StoreConfig    `yaml:"store"`
	History  HistoryConfig  `yaml:"history"`
	Backfill BackfillConfig `yaml:"backfill"`
	Watch    WatchConfig    `yaml:"watch"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Enabled: true,
		Embedder: EmbedderConfig{
			Type:       "onnx",
			ModelID:    "all-MiniLM-L6-v2",
			Dimensions: 384,
		},
		Store:    StoreConfig{Type: "chromem"},
		Backfill: BackfillConfig{SaveInterval: 10},
		Watch:    WatchConfig{ScanWindow: 10},
	}
}

// Load reads the config at path, falling back to defaults when the file
// does not exist. A .env file in the working directory is loaded first
// so that env overrides work in development.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Embedder.Dimensions == 0 {
		cfg.Embedder.Dimensions = 384
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "onnx"
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "chromem"
	}
	if cfg.Backfill.SaveInterval <= 0 {
		cfg.Backfill.SaveInterval = 10
	}
	if cfg.Watch.ScanWindow <= 0 {
		cfg.Watch.ScanWindow = 10
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RECALL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	if v := os.Getenv("RECALL_STORE_DSN"); v != "" {
		cfg.Store.Type = "pgvector"
		cfg.Store.DSN = v
	}
	if v := os.Getenv("RECALL_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("RECALL_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("RECALL_MODEL_PATH"); v != "" {
		cfg.Embedder.ModelPath = v
	}
}
