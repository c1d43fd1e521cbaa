package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StoreProvider selects the storage backend.
type StoreProvider string

const (
	ProviderChroma   StoreProvider = "chroma"
	ProviderChromem  StoreProvider = "chromem"
	ProviderPGVector StoreProvider = "pgvector"
)

// EmbeddingProvider selects the embedding backend.
type EmbeddingProvider string

const (
	EmbeddingOpenAI      EmbeddingProvider = "openai"
	EmbeddingLocal       EmbeddingProvider = "local"
	EmbeddingHuggingFace EmbeddingProvider = "huggingface"
)

// Config selects backend variants and integration behaviour.
type Config struct {
	// Enabled toggles the memory system on/off.
	Enabled bool `yaml:"enabled"`

	Provider  StoreProvider     `yaml:"provider"`
	Embedding EmbeddingProvider `yaml:"embedding"`

	// Persist keeps the document store on disk between runs.
	Persist bool `yaml:"persist"`

	AutoStoreConversations bool `yaml:"auto_store_conversations"`
	AutoRetrieve           bool `yaml:"auto_retrieve"`
	AutoRetrieveLimit      int  `yaml:"auto_retrieve_limit"`

	// IncludeSemantic adds semantic memories to auto-retrieved context.
	IncludeSemantic bool `yaml:"include_semantic"`

	// EmbeddingCacheSize is the number of embeddings kept in the in-process
	// cache. Zero disables caching.
	EmbeddingCacheSize int64 `yaml:"embedding_cache_size"`

	Chroma   ChromaConfig   `yaml:"chroma"`
	PGVector PGVectorConfig `yaml:"pgvector"`

	OpenAI OpenAIConfig `yaml:"openai"`
	Local  LocalConfig  `yaml:"local"`
}

// ChromaConfig configures the chromem-go document store.
type ChromaConfig struct {
	Path           string `yaml:"path"`
	CollectionName string `yaml:"collection_name"`
	Compress       bool   `yaml:"compress"`
}

// PGVectorConfig configures the PostgreSQL + pgvector store.
type PGVectorConfig struct {
	ConnectionString string `yaml:"connection_string"`
	TableName        string `yaml:"table_name"`
	SchemaName       string `yaml:"schema_name"`
	MaxConns         int32  `yaml:"max_conns"`
}

// OpenAIConfig configures the remote embedding provider.
type OpenAIConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	BatchSize int    `yaml:"batch_size"`
}

// LocalConfig configures the local embedding model.
type LocalConfig struct {
	ModelName     string `yaml:"model_name"`
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
	Device        string `yaml:"device"`
	Dimensions    int    `yaml:"dimensions"`
	Workers       int    `yaml:"workers"`
}

// DefaultHome is the directory used for on-disk state when no path is set.
func DefaultHome() string {
	if home := os.Getenv("NIM_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".nim"
	}
	return filepath.Join(dir, ".nim")
}

// DefaultConfig returns the defaults used when no configuration is supplied.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		Provider:               ProviderChroma,
		Embedding:              EmbeddingOpenAI,
		Persist:                true,
		AutoStoreConversations: true,
		AutoRetrieve:           true,
		AutoRetrieveLimit:      5,
		IncludeSemantic:        true,
		EmbeddingCacheSize:     1024,
		Chroma: ChromaConfig{
			Path:           filepath.Join(DefaultHome(), "memory"),
			CollectionName: "nerve_memory",
		},
		PGVector: PGVectorConfig{
			ConnectionString: os.Getenv("NIM_PGVECTOR_CONNECTION"),
			TableName:        "nerve_memory",
			SchemaName:       "public",
			MaxConns:         4,
		},
		OpenAI: OpenAIConfig{
			APIKey:    os.Getenv("OPENAI_API_KEY"),
			Model:     "text-embedding-ada-002",
			BatchSize: 100,
		},
		Local: LocalConfig{
			ModelName:  "sentence-transformers/all-MiniLM-L6-v2",
			Device:     "cpu",
			Dimensions: 384,
			Workers:    2,
		},
	}
}

// StoreBackend normalises the storage selector. Unknown selectors return
// ErrConfiguration.
func (c Config) StoreBackend() (StoreProvider, error) {
	switch StoreProvider(strings.ToLower(string(c.Provider))) {
	case ProviderChroma, ProviderChromem:
		return ProviderChroma, nil
	case ProviderPGVector:
		return ProviderPGVector, nil
	}
	return "", fmt.Errorf("%w: unsupported memory provider %q", ErrConfiguration, c.Provider)
}

// EmbeddingBackend normalises the embedding selector. Unknown selectors
// return ErrConfiguration.
func (c Config) EmbeddingBackend() (EmbeddingProvider, error) {
	switch EmbeddingProvider(strings.ToLower(string(c.Embedding))) {
	case EmbeddingOpenAI:
		return EmbeddingOpenAI, nil
	case EmbeddingLocal, EmbeddingHuggingFace:
		return EmbeddingLocal, nil
	}
	return "", fmt.Errorf("%w: unsupported embedding provider %q", ErrConfiguration, c.Embedding)
}

// Validate checks the closed enumerations and numeric limits.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := c.StoreBackend(); err != nil {
		return err
	}
	if _, err := c.EmbeddingBackend(); err != nil {
		return err
	}
	if c.AutoRetrieveLimit < 0 {
		return fmt.Errorf("%w: auto_retrieve_limit must be >= 0", ErrConfiguration)
	}
	if c.EmbeddingCacheSize < 0 {
		return fmt.Errorf("%w: embedding_cache_size must be >= 0", ErrConfiguration)
	}
	return nil
}
