package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "nim-memory.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load(yamlPath string) (*Config, error) {
	if yamlPath == "" {
		yamlPath = DefaultConfigFile
	}
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	m := &cfg.Memory
	setBool(&m.Enabled, "NIM_MEMORY_ENABLED")
	setString((*string)(&m.Provider), "NIM_MEMORY_PROVIDER")
	setString((*string)(&m.Embedding), "NIM_MEMORY_EMBEDDING")
	setBool(&m.Persist, "NIM_MEMORY_PERSIST")
	setBool(&m.AutoStoreConversations, "NIM_MEMORY_AUTO_STORE")
	setBool(&m.AutoRetrieve, "NIM_MEMORY_AUTO_RETRIEVE")
	setInt(&m.AutoRetrieveLimit, "NIM_MEMORY_RETRIEVE_LIMIT")
	setBool(&m.IncludeSemantic, "NIM_MEMORY_INCLUDE_SEMANTIC")
	setInt64(&m.EmbeddingCacheSize, "NIM_MEMORY_CACHE_SIZE")

	// Stores
	setString(&m.Chroma.Path, "NIM_CHROMA_PATH")
	setString(&m.Chroma.CollectionName, "NIM_CHROMA_COLLECTION")
	setString(&m.PGVector.ConnectionString, "NIM_PGVECTOR_CONNECTION")
	setString(&m.PGVector.SchemaName, "NIM_PGVECTOR_SCHEMA")
	setString(&m.PGVector.TableName, "NIM_PGVECTOR_TABLE")
	setInt32(&m.PGVector.MaxConns, "NIM_PGVECTOR_MAX_CONNS")

	// Embedders
	setString(&m.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&m.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&m.OpenAI.Model, "NIM_OPENAI_MODEL")
	setString(&m.Local.ModelPath, "NIM_LOCAL_MODEL_PATH")
	setString(&m.Local.TokenizerPath, "NIM_LOCAL_TOKENIZER_PATH")
	setString(&m.Local.LibraryPath, "ONNXRUNTIME_LIB")
	setInt(&m.Local.Workers, "NIM_LOCAL_WORKERS")

	// Generator
	setString(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&cfg.Anthropic.Model, "NIM_ANTHROPIC_MODEL")
	setInt64(&cfg.Anthropic.MaxTokens, "NIM_ANTHROPIC_MAX_TOKENS")
	setInt(&cfg.Anthropic.MaxTurns, "NIM_ANTHROPIC_MAX_TURNS")

	// Server
	setString(&cfg.Server.Addr, "NIM_ADDR")
	setDuration(&cfg.Server.StepTimeout, "NIM_STEP_TIMEOUT")
	if v := os.Getenv("NIM_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	// Logging
	setString(&cfg.Logging.Level, "NIM_LOG_LEVEL")
	setString(&cfg.Logging.Format, "NIM_LOG_FORMAT")
}

// validate checks closed enumerations and numeric limits.
func validate(cfg *Config) error {
	if err := cfg.Memory.Validate(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("logging.format must be text, json or logfmt, got %q", cfg.Logging.Format)
	}
	if cfg.Anthropic.MaxTokens < 1 {
		return errors.New("anthropic.max_tokens must be >= 1")
	}
	if cfg.Anthropic.MaxTurns < 1 {
		return errors.New("anthropic.max_turns must be >= 1")
	}
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.Server.StepTimeout < 0 {
		return errors.New("server.step_timeout must be >= 0")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
