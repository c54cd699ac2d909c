// Package config loads and validates SecondBrain configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigName is the per-vault configuration file name.
const DefaultConfigName = ".secondbrain.yaml"

// Config represents the complete SecondBrain configuration.
type Config struct {
	Vault     VaultConfig     `yaml:"vault"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Answer    AnswerConfig    `yaml:"answer"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// VaultConfig configures the note vault and index location.
type VaultConfig struct {
	// Root is the path to the Markdown vault.
	Root string `yaml:"root"`

	// Exclude lists glob patterns (relative to Root) that never enter the
	// index, e.g. raw inbox captures and machine-generated aggregates.
	Exclude []string `yaml:"exclude"`

	// DataDir is where the indexes live. Defaults to <root>/.secondbrain.
	DataDir string `yaml:"data_dir"`

	// LockStaleAfter is how old a writer lock may be before it is
	// considered abandoned and reclaimed.
	LockStaleAfter time.Duration `yaml:"lock_stale_after"`
}

// ChunkingConfig configures heading-scoped chunking.
type ChunkingConfig struct {
	// TargetChars is the soft maximum chunk size in characters.
	TargetChars int `yaml:"target_chars"`

	// OverlapChars is the overlap carried between split chunks.
	OverlapChars int `yaml:"overlap_chars"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider selects the backend: "ollama" or "openai".
	Provider string `yaml:"provider"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`

	// OpenAIBaseURL overrides the OpenAI-compatible endpoint. Empty uses
	// the public API.
	OpenAIBaseURL string `yaml:"openai_base_url"`

	// BatchSize is the number of documents embedded per request batch.
	BatchSize int `yaml:"batch_size"`

	// Timeout is the per-call embedding timeout.
	Timeout time.Duration `yaml:"timeout"`

	// CacheSize is the LRU capacity for cached query embeddings.
	CacheSize int `yaml:"cache_size"`
}

// RetrievalConfig configures hybrid retrieval and reranking.
type RetrievalConfig struct {
	// LexicalK is the number of candidates fetched from the lexical store.
	LexicalK int `yaml:"lexical_k"`

	// VectorK is the number of candidates fetched from the vector store.
	VectorK int `yaml:"vector_k"`

	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant"`

	// RerankTimeout is the hard timeout on the batched rerank call.
	RerankTimeout time.Duration `yaml:"rerank_timeout"`

	// MaxLinked caps the connected notes appended by the link expander.
	MaxLinked int `yaml:"max_linked"`
}

// AnswerConfig configures grounded answer synthesis.
type AnswerConfig struct {
	// Model is the chat model used for rerank and synthesis.
	Model string `yaml:"model"`

	// ContextChunks is how many ranked chunks enter the context window.
	ContextChunks int `yaml:"context_chunks"`

	// Timeout is the synthesis call timeout.
	Timeout time.Duration `yaml:"timeout"`

	// FusedScoreFloor is the minimum fused score below which retrieval is
	// labeled NO_RESULTS.
	FusedScoreFloor float64 `yaml:"fused_score_floor"`

	// RerankFloor is the rerank score below which results are labeled
	// IRRELEVANT.
	RerankFloor float64 `yaml:"rerank_floor"`

	// SimilarityCeiling is the vector similarity above which a low rerank
	// score is labeled HALLUCINATION_RISK.
	SimilarityCeiling float64 `yaml:"similarity_ceiling"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the default configuration for a vault root.
func Default(root string) *Config {
	return &Config{
		Vault: VaultConfig{
			Root:           root,
			Exclude:        []string{"inbox/raw/**", "**/*.generated.md"},
			DataDir:        filepath.Join(root, ".secondbrain"),
			LockStaleAfter: 10 * time.Minute,
		},
		Chunking: ChunkingConfig{
			TargetChars:  2000,
			OverlapChars: 200,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			Timeout:    60 * time.Second,
			CacheSize:  256,
		},
		Retrieval: RetrievalConfig{
			LexicalK:      20,
			VectorK:       20,
			RRFConstant:   60,
			RerankTimeout: 20 * time.Second,
			MaxLinked:     3,
		},
		Answer: AnswerConfig{
			Model:             "gpt-4o-mini",
			ContextChunks:     8,
			Timeout:           60 * time.Second,
			FusedScoreFloor:   0.01,
			RerankFloor:       0.3,
			SimilarityCeiling: 0.75,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration for the given vault root. A missing config
// file yields defaults; a malformed one is an error.
func Load(root string) (*Config, error) {
	cfg := Default(root)

	path := filepath.Join(root, DefaultConfigName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Fields the file left empty keep their defaults, but a relative
	// data dir is resolved against the vault root.
	if cfg.Vault.Root == "" {
		cfg.Vault.Root = root
	}
	if cfg.Vault.DataDir == "" {
		cfg.Vault.DataDir = filepath.Join(cfg.Vault.Root, ".secondbrain")
	} else if !filepath.IsAbs(cfg.Vault.DataDir) {
		cfg.Vault.DataDir = filepath.Join(cfg.Vault.Root, cfg.Vault.DataDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Vault.Root == "" {
		return fmt.Errorf("vault.root is required")
	}
	if c.Chunking.TargetChars <= 0 {
		return fmt.Errorf("chunking.target_chars must be positive")
	}
	if c.Chunking.OverlapChars < 0 || c.Chunking.OverlapChars >= c.Chunking.TargetChars {
		return fmt.Errorf("chunking.overlap_chars must be in [0, target_chars)")
	}
	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("embedding.provider must be one of: ollama, openai (got %q)", c.Embedding.Provider)
	}
	if c.Retrieval.LexicalK <= 0 || c.Retrieval.VectorK <= 0 {
		return fmt.Errorf("retrieval.lexical_k and retrieval.vector_k must be positive")
	}
	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("retrieval.rrf_constant must be positive")
	}
	if c.Answer.ContextChunks <= 0 {
		return fmt.Errorf("answer.context_chunks must be positive")
	}
	return nil
}

// Save writes the configuration to the vault's config file.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(c.Vault.Root, DefaultConfigName)
	return os.WriteFile(path, data, 0o644)
}
