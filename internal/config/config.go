package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"segrag/internal/domain"
	"segrag/internal/idpool"
	"segrag/internal/segmenter"
)

// ChunkerConfig configures how documents are split into token windows.
type ChunkerConfig struct {
	Encoding  string `yaml:"encoding"`
	MaxTokens int    `yaml:"max_tokens"`
}

// SegmenterConfig selects how chunks are split into segments.
type SegmenterConfig struct {
	// Type is "llm" or "sentence".
	Type string `yaml:"type"`
	// Provider is the chat backend for the llm type: "openai" or "ollama".
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	MaxOutputTokens     int    `yaml:"max_output_tokens"`
	Delimiter           string `yaml:"delimiter"`
	EmptySegments       string `yaml:"empty_segments"`
	Context             string `yaml:"context"`
	SentencesPerSegment int    `yaml:"sentences_per_segment"`
	// MaxSegmentsPerChunk caps the segments one chunk may yield when sizing
	// the identifier pool. 0 derives the bound from the segmenter:
	// max_output_tokens+1 for llm, the exact count for sentence.
	MaxSegmentsPerChunk int `yaml:"max_segments_per_chunk"`
}

// OpenAIConfig holds connection details for an OpenAI-compatible API.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// OllamaConfig holds connection details for an Ollama server.
type OllamaConfig struct {
	Host        string `yaml:"host"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LLMConfig configures the chat and embedding providers.
type LLMConfig struct {
	OpenAI *OpenAIConfig `yaml:"openai,omitempty"`
	Ollama *OllamaConfig `yaml:"ollama,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	// Type is "openai", "ollama" or "hashing".
	Type       string `yaml:"type"`
	Model      string `yaml:"model"`
	Dimension  int    `yaml:"dimension"`
	BatchSize  int    `yaml:"batch_size"`
	// MaxRetries lets the openai embedder retry 429 and 5xx responses
	// itself, honouring Retry-After. It cannot be combined with
	// pipeline.max_retries, which would retry every embedding call again.
	MaxRetries int `yaml:"max_retries"`
}

// QdrantConfig contains connection details for Qdrant's REST API.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// QdrantGRPCConfig contains connection details for Qdrant's gRPC API.
type QdrantGRPCConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSNEnv string `yaml:"dsn_env"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	// Type is "memory", "qdrant", "qdrant_grpc", "bolt" or "postgres".
	Type       string            `yaml:"type"`
	Collection string            `yaml:"collection"`
	Distance   string            `yaml:"distance"`
	Qdrant     *QdrantConfig     `yaml:"qdrant,omitempty"`
	QdrantGRPC *QdrantGRPCConfig `yaml:"qdrant_grpc,omitempty"`
	Bolt       *BoltConfig       `yaml:"bolt,omitempty"`
	Postgres   *PostgresConfig   `yaml:"postgres,omitempty"`
}

// IDPoolConfig chooses how point identifiers are generated. Strategy has no
// default and must be set.
type IDPoolConfig struct {
	Strategy string `yaml:"strategy"`
	Size     int    `yaml:"size"`
	Start    uint64 `yaml:"start"`
	Seed     uint64 `yaml:"seed"`
}

type PipelineConfig struct {
	CallTimeoutSecs int `yaml:"call_timeout_secs"`
	// MaxRetries retries embedding and upload calls. Leave it 0 when
	// embedder.max_retries is set.
	MaxRetries int `yaml:"max_retries"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	IDPool      IDPoolConfig      `yaml:"id_pool"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, fills in defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/segrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/segrag/config.yaml and
// returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "segrag", "config.yaml"), nil
}

// defaultConfig runs entirely offline: sentence segments, hashing vectors
// and an in-memory store.
func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Segmenter:   SegmenterConfig{Type: "sentence"},
		Embedder:    EmbedderConfig{Type: "hashing"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		IDPool:      IDPoolConfig{Strategy: string(idpool.Counter)},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.Encoding == "" {
		cfg.Chunker.Encoding = "cl100k_base"
	}
	if cfg.Chunker.MaxTokens <= 0 {
		cfg.Chunker.MaxTokens = 3000
	}

	s := &cfg.Segmenter
	if s.Type == "" {
		s.Type = "llm"
	}
	if s.Type == "llm" && s.Provider == "" {
		s.Provider = "openai"
	}
	if s.Type == "llm" && s.Model == "" {
		switch s.Provider {
		case "ollama":
			s.Model = "llama3"
		default:
			s.Model = "gpt-4o-mini"
		}
	}
	if s.MaxOutputTokens <= 0 {
		s.MaxOutputTokens = segmenter.DefaultMaxOutputTokens
	}
	if s.Delimiter == "" {
		s.Delimiter = segmenter.DefaultDelimiter
	}
	if s.EmptySegments == "" {
		s.EmptySegments = string(segmenter.DropEmpty)
	}
	if s.SentencesPerSegment <= 0 {
		s.SentencesPerSegment = 3
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	usesOpenAI := (s.Type == "llm" && s.Provider == "openai") || cfg.Embedder.Type == "openai"
	usesOllama := (s.Type == "llm" && s.Provider == "ollama") || cfg.Embedder.Type == "ollama"
	if usesOpenAI && cfg.LLM.OpenAI == nil {
		cfg.LLM.OpenAI = &OpenAIConfig{}
	}
	if o := cfg.LLM.OpenAI; o != nil {
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 300
		}
	}
	if usesOllama && cfg.LLM.Ollama == nil {
		cfg.LLM.Ollama = &OllamaConfig{}
	}
	if o := cfg.LLM.Ollama; o != nil {
		if o.Host == "" {
			o.Host = "http://localhost:11434"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 300
		}
	}

	e := &cfg.Embedder
	if e.Model == "" {
		switch e.Type {
		case "openai":
			e.Model = "text-embedding-3-small"
		case "ollama":
			e.Model = "all-minilm"
		}
	}
	if e.Type == "hashing" && e.Dimension <= 0 {
		e.Dimension = 384
	}

	v := &cfg.VectorStore
	if v.Type == "" {
		v.Type = "qdrant"
	}
	if v.Collection == "" {
		v.Collection = "segments"
	}
	if v.Distance == "" {
		v.Distance = string(domain.DistanceCosine)
	}
	switch v.Type {
	case "qdrant":
		if v.Qdrant == nil {
			v.Qdrant = &QdrantConfig{}
		}
		if v.Qdrant.URL == "" {
			v.Qdrant.URL = "http://127.0.0.1:6333"
		}
		if v.Qdrant.APIKeyEnv == "" {
			v.Qdrant.APIKeyEnv = "QDRANT_API_KEY"
		}
		if v.Qdrant.TimeoutSecs == 0 {
			v.Qdrant.TimeoutSecs = 30
		}
	case "qdrant_grpc":
		if v.QdrantGRPC == nil {
			v.QdrantGRPC = &QdrantGRPCConfig{}
		}
		if v.QdrantGRPC.Host == "" {
			v.QdrantGRPC.Host = "localhost"
		}
		if v.QdrantGRPC.Port == 0 {
			v.QdrantGRPC.Port = 6334
		}
		if v.QdrantGRPC.APIKeyEnv == "" {
			v.QdrantGRPC.APIKeyEnv = "QDRANT_API_KEY"
		}
	case "bolt":
		if v.Bolt == nil {
			v.Bolt = &BoltConfig{}
		}
		if v.Bolt.Path == "" {
			v.Bolt.Path = "segrag.db"
		}
	case "postgres":
		if v.Postgres == nil {
			v.Postgres = &PostgresConfig{}
		}
		if v.Postgres.DSNEnv == "" {
			v.Postgres.DSNEnv = "DATABASE_URL"
		}
	}

	if cfg.Pipeline.CallTimeoutSecs == 0 {
		cfg.Pipeline.CallTimeoutSecs = 300
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate reports the first setting that cannot be used.
func (c *AppConfig) Validate() error {
	switch c.Segmenter.Type {
	case "llm":
		if p := c.Segmenter.Provider; p != "openai" && p != "ollama" {
			return fmt.Errorf("unknown segmenter provider %q", p)
		}
	case "sentence":
	default:
		return fmt.Errorf("unknown segmenter %q", c.Segmenter.Type)
	}
	if _, err := segmenter.ParseEmptyPolicy(c.Segmenter.EmptySegments); err != nil {
		return err
	}
	switch c.Embedder.Type {
	case "openai", "ollama", "hashing":
	default:
		return fmt.Errorf("unknown embedder %q", c.Embedder.Type)
	}
	if c.Embedder.Dimension < 0 || c.Embedder.BatchSize < 0 || c.Embedder.MaxRetries < 0 {
		return errors.New("embedder dimension, batch_size and max_retries must not be negative")
	}
	switch c.VectorStore.Type {
	case "memory", "qdrant", "qdrant_grpc", "bolt", "postgres":
	default:
		return fmt.Errorf("unknown vector store %q", c.VectorStore.Type)
	}
	if _, err := domain.ParseDistance(c.VectorStore.Distance); err != nil {
		return err
	}
	if _, err := idpool.ParseStrategy(c.IDPool.Strategy); err != nil {
		return fmt.Errorf("id_pool: %w", err)
	}
	if c.IDPool.Size < 0 {
		return errors.New("id_pool size must not be negative")
	}
	if c.Pipeline.CallTimeoutSecs < 0 || c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline call_timeout_secs and max_retries must not be negative")
	}
	if c.Embedder.MaxRetries > 0 && c.Pipeline.MaxRetries > 0 {
		return errors.New("set either embedder.max_retries or pipeline.max_retries, not both")
	}
	if c.Segmenter.MaxSegmentsPerChunk < 0 {
		return errors.New("segmenter max_segments_per_chunk must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
