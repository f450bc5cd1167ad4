package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the chat service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Listen   string `mapstructure:"listen"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// LLMConfig configures the OpenAI-compatible provider used for both
// chat completions and embeddings. BaseURL may point at OpenAI or
// OpenRouter; the API key is never hardcoded and comes from config/env.
type LLMConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	ChatModel           string        `mapstructure:"chat_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Temperature         float64       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if l.EmbeddingDimensions <= 0 {
		return fmt.Errorf("llm.embedding_dimensions must be > 0")
	}
	return nil
}

// RetrievalConfig controls top-K search and context filtering.
// MinScore and chunking parameters are deliberately configuration, not
// constants: the right values depend on the corpus and embedding model.
type RetrievalConfig struct {
	TopK            int     `mapstructure:"top_k"`
	MinScore        float64 `mapstructure:"min_score"`
	Hybrid          bool    `mapstructure:"hybrid"`
	KeywordFallback bool    `mapstructure:"keyword_fallback"`
}

func (r RetrievalConfig) Validate() error {
	if r.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be > 0")
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be in [0,1]")
	}
	return nil
}

// SessionConfig controls conversation history retention.
type SessionConfig struct {
	Backend  string        `mapstructure:"backend"` // inmemory, redis, postgres
	MaxTurns int           `mapstructure:"max_turns"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (s SessionConfig) Validate() error {
	switch s.Backend {
	case "inmemory", "redis", "postgres":
	default:
		return fmt.Errorf("session.backend must be one of inmemory, redis, postgres")
	}
	if s.MaxTurns <= 0 {
		return fmt.Errorf("session.max_turns must be > 0")
	}
	return nil
}

// StorageConfig selects and configures the vector store and the optional
// Redis/Postgres backends.
type StorageConfig struct {
	VectorStore string         `mapstructure:"vector_store"` // qdrant, pgvector, memory
	Qdrant      QdrantConfig   `mapstructure:"qdrant"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Redis       RedisConfig    `mapstructure:"redis"`
}

func (s StorageConfig) Validate() error {
	switch s.VectorStore {
	case "qdrant":
		return s.Qdrant.Validate()
	case "pgvector":
		return s.Postgres.Validate()
	case "memory":
		return nil
	default:
		return fmt.Errorf("storage.vector_store must be one of qdrant, pgvector, memory")
	}
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (q QdrantConfig) Validate() error {
	if strings.TrimSpace(q.URL) == "" {
		return fmt.Errorf("storage.qdrant.url is required")
	}
	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("storage.qdrant.collection is required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string from the individual fields unless a full
// URL was provided.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// IngestConfig configures the offline document ingestion job.
type IngestConfig struct {
	DocsDir      string `mapstructure:"docs_dir"`
	ChunkChars   int    `mapstructure:"chunk_chars"`
	OverlapChars int    `mapstructure:"overlap_chars"`
	BatchSize    int    `mapstructure:"batch_size"`
}

// LoadConfig loads config from file and RAG_* environment variables.
// A missing config file is not an error; defaults plus env cover it.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("general.listen", ":8000")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.chat_model", "openai/gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "openai/text-embedding-3-small")
	v.SetDefault("llm.embedding_dimensions", 1536)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.min_score", 0.0)
	v.SetDefault("retrieval.hybrid", false)
	v.SetDefault("retrieval.keyword_fallback", true)
	v.SetDefault("session.backend", "inmemory")
	v.SetDefault("session.max_turns", 10)
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("storage.vector_store", "qdrant")
	v.SetDefault("storage.qdrant.collection", "humanoid_textbook")
	v.SetDefault("storage.qdrant.timeout", 15*time.Second)
	v.SetDefault("ingest.docs_dir", "docs")
	v.SetDefault("ingest.chunk_chars", 1000)
	v.SetDefault("ingest.overlap_chars", 100)
	v.SetDefault("ingest.batch_size", 64)

	if path == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the sections a running server depends on.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.Session.Backend == "redis" {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	if c.Session.Backend == "postgres" {
		if err := c.Storage.Postgres.Validate(); err != nil {
			return err
		}
	}
	return c.Storage.Validate()
}
