package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Providers. When GeminiAPIKey is empty the process runs in deterministic
	// no-key mode: hashed embeddings and templated generation.
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	GeminiModel      string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	GeminiEmbedModel string `envconfig:"GEMINI_EMBED_MODEL" default:"text-embedding-004"`

	// Ingestion
	IngestDir string `envconfig:"INGEST_DIR" default:"data/ingest"`

	// Retrieval tuning
	SearchTopK int `envconfig:"SEARCH_TOP_K" default:"12"`
	ReadLimit  int `envconfig:"READ_LIMIT" default:"5"`
	// Dimension of hashed embeddings in no-key mode. Ignored when a Gemini
	// key is configured (the remote embedding model fixes the dimension).
	EmbedDim int `envconfig:"EMBED_DIM" default:"256"`

	// Timeouts (seconds). Every network suspension point runs under one of these.
	ProviderTimeoutSeconds int `envconfig:"PROVIDER_TIMEOUT_SECONDS" default:"60"`
	FetchTimeoutSeconds    int `envconfig:"FETCH_TIMEOUT_SECONDS" default:"20"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.SearchTopK <= 0 {
		return fmt.Errorf("%w: SEARCH_TOP_K must be positive", ErrInvalid)
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("%w: READ_LIMIT must be positive", ErrInvalid)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("%w: EMBED_DIM must be positive", ErrInvalid)
	}
	if c.ProviderTimeoutSeconds <= 0 || c.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}
	if c.IngestDir == "" {
		return fmt.Errorf("%w: INGEST_DIR is required", ErrInvalid)
	}
	return nil
}
