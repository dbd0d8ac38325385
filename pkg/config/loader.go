package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Load reads .env (non-fatally — a missing file warns and continues with
// the existing environment rather than failing the process) and then the
// YAML config file at path, expanding ${VAR} references against the
// resulting environment before parsing and validating.
func Load(path, envPath string) (*Config, error) {
	logger := slog.With("config_path", path)

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			logger.Warn("could not load .env file, continuing with existing environment", "env_path", envPath, "error", err)
		} else {
			logger.Info("loaded environment overrides", "env_path", envPath)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	logger.Info("configuration loaded", "vector_store_backend", cfg.VectorStore.Backend, "embeddings_provider", cfg.Embedding.Provider)
	return cfg, nil
}
