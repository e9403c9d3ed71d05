// Package config loads an optional YAML config file and maps its values
// onto the environment variables the rest of the program reads. Environment
// variables always win: a key is only set from YAML when it is not already
// present in the environment, so `QDRANT_HOST=x bookrag serve` overrides
// whatever the file says.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML layout of a bookrag config file.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Cache     CacheConfig     `yaml:"cache"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ModelConfig selects and tunes the chat model used for answer generation.
type ModelConfig struct {
	Provider    string        `yaml:"provider"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Ollama      OllamaConfig  `yaml:"ollama"`
	OpenAI      OpenAIConfig  `yaml:"openai"`
	Azure       AzureConfig   `yaml:"azure"`
	Bedrock     BedrockConfig `yaml:"bedrock"`
	Gemini      GeminiConfig  `yaml:"gemini"`
}

type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type AzureConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

type BedrockConfig struct {
	Region   string `yaml:"region"`
	ModelID  string `yaml:"model_id"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig selects the embedding backend used for chunks and queries.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
}

// QdrantConfig points at the vector database. Collections are derived from
// author IDs at runtime, so there is no collection name to configure.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// CatalogConfig points at the SQLite catalog holding books and chunk text.
type CatalogConfig struct {
	DBPath string `yaml:"db_path"`
}

// CacheConfig tunes the embedding and search result caches.
type CacheConfig struct {
	Dir              string `yaml:"dir"`
	SearchTTLSeconds int    `yaml:"search_ttl_seconds"`

	// EmbeddingMaxAgeHours bounds how long cached embeddings are reused
	// before being recomputed. Zero keeps the built-in default.
	EmbeddingMaxAgeHours int `yaml:"embedding_max_age_hours"`
}

// ChunkingConfig tunes how extracted sections are cut into chunks.
type ChunkingConfig struct {
	ChunkSize      int `yaml:"chunk_size"`
	Overlap        int `yaml:"overlap"`
	SemanticBudget int `yaml:"semantic_budget"`
}

// RetrievalConfig tunes the search pipeline.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float32 `yaml:"score_threshold"`
	Overfetch      int     `yaml:"overfetch"`
	Workers        int     `yaml:"workers"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKey    string `yaml:"api_key"`
	RateLimit int    `yaml:"rate_limit"`
	RateBurst int    `yaml:"rate_burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	LangfuseHost      string `yaml:"langfuse_host"`
	LangfusePublicKey string `yaml:"langfuse_public_key"`
	LangfuseSecretKey string `yaml:"langfuse_secret_key"`
}

// envMapping ties each config field to the environment variable it feeds.
// Adding a YAML key means adding a row here; nothing else reads the Config
// struct after Load returns.
var envMapping = []struct {
	envKey string
	value  func(c *Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Model.Bedrock.Region }},
	{"BEDROCK_MODEL_ID", func(c *Config) string { return c.Model.Bedrock.ModelID }},
	{"BEDROCK_ENDPOINT", func(c *Config) string { return c.Model.Bedrock.Endpoint }},
	{"BEDROCK_API_KEY", func(c *Config) string { return c.Model.Bedrock.APIKey }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},

	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},

	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},

	{"BOOKRAG_CATALOG_DB", func(c *Config) string { return c.Catalog.DBPath }},
	{"BOOKRAG_CACHE_DIR", func(c *Config) string { return c.Cache.Dir }},
	{"SEARCH_CACHE_TTL", func(c *Config) string { return intStr(c.Cache.SearchTTLSeconds) }},
	{"EMBEDDING_CACHE_MAX_AGE", func(c *Config) string { return intStr(c.Cache.EmbeddingMaxAgeHours) }},

	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Chunking.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Chunking.Overlap) }},
	{"CHUNK_SEMANTIC_BUDGET", func(c *Config) string { return intStr(c.Chunking.SemanticBudget) }},

	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RETRIEVAL_SCORE_THRESHOLD", func(c *Config) string { return float32Str(c.Retrieval.ScoreThreshold) }},
	{"RETRIEVAL_OVERFETCH", func(c *Config) string { return intStr(c.Retrieval.Overfetch) }},
	{"RETRIEVAL_WORKERS", func(c *Config) string { return intStr(c.Retrieval.Workers) }},

	{"BOOKRAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"BOOKRAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"BOOKRAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"RATE_LIMIT", func(c *Config) string { return intStr(c.Server.RateLimit) }},
	{"RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},

	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},

	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.LangfuseHost }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.LangfusePublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.LangfuseSecretKey }},
}

// Load reads the config file at explicitPath (or, when empty, the first
// file found by resolveConfigPath) and applies it to the environment.
// It returns the path of the file that was loaded, or "" when no file
// exists. A missing file is not an error; an unreadable or malformed one is.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := explicitPath
	if path == "" {
		path = resolveConfigPath()
	}
	if path == "" {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		v := m.value(&cfg)
		if v == "" {
			continue
		}
		if _, exists := os.LookupEnv(m.envKey); exists {
			continue
		}
		if err := os.Setenv(m.envKey, v); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Debug("config file applied", "path", path, "keys", applied)
	return path, nil
}

// resolveConfigPath returns the first existing config file, searched in
// order: $BOOKRAG_CONFIG, ~/.bookrag/config.yaml, ./bookrag.yaml.
func resolveConfigPath() string {
	candidates := []string{os.Getenv("BOOKRAG_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".bookrag", "config.yaml"))
	}
	candidates = append(candidates, "bookrag.yaml")

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// intStr renders a positive int for the environment; zero means "unset"
// so that absent YAML keys never clobber defaults.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str renders a nonzero float without trailing zeros.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

// boolStr renders true as "true"; false means "unset", matching intStr.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
