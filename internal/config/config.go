// Package config loads the recognised options of §6.5. It follows the
// teacher's Config/DefaultConfig() constructor pattern rather than a
// struct-tag-driven unmarshaller, since the option set here is small and
// flat.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds every recognised option from §6.5.
type Config struct {
	DataPath                string  `json:"data_path"`
	EmbeddingModel          string  `json:"embedding_model"`
	VectorDim               int     `json:"vector_dim"`
	EnableFTS               bool    `json:"enable_fts"`
	HybridAlpha             float64 `json:"hybrid_alpha"`
	MaxParallelExecutions   int     `json:"max_parallel_executions"`
	ExecutionTimeoutMinutes int     `json:"execution_timeout_minutes"`
	MaxResponseSize         int     `json:"max_response_size"`
	TruncationThreshold     int     `json:"truncation_threshold"`
	EnableAutoTruncation    bool    `json:"enable_auto_truncation"`
}

// DefaultConfig returns the option defaults named across §3, §4, §5, §9.
func DefaultConfig() Config {
	return Config{
		DataPath:                "data/jivecore",
		EmbeddingModel:          "text-embedding-3-small",
		VectorDim:               1536,
		EnableFTS:               true,
		HybridAlpha:             0.5,
		MaxParallelExecutions:   4,
		ExecutionTimeoutMinutes: 60,
		MaxResponseSize:         1 << 20, // 1 MiB
		TruncationThreshold:     500,
		EnableAutoTruncation:    true,
	}
}

// Load reads a JSON config file at path, overlaying it on DefaultConfig.
// A missing file is not an error — callers run on defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the option values §6.5 constrains.
func (c Config) Validate() error {
	if c.VectorDim <= 0 {
		return fmt.Errorf("vector_dim must be positive, got %d", c.VectorDim)
	}
	if c.HybridAlpha < 0 || c.HybridAlpha > 1 {
		return fmt.Errorf("hybrid_alpha must be in [0,1], got %v", c.HybridAlpha)
	}
	if c.MaxParallelExecutions <= 0 {
		return fmt.Errorf("max_parallel_executions must be positive, got %d", c.MaxParallelExecutions)
	}
	if c.ExecutionTimeoutMinutes <= 0 {
		return fmt.Errorf("execution_timeout_minutes must be positive, got %d", c.ExecutionTimeoutMinutes)
	}
	return nil
}
