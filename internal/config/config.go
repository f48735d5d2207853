// Package config loads and validates the Forest configuration.
//
// Configuration is read once at startup from forest.yaml into an immutable
// Config record; every component receives the section it needs at
// construction. Live reconfiguration is not supported; threshold, weight,
// and provider changes require the corresponding admin recompute.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config schema version.
const CurrentVersion = 1

// Config is the complete Forest configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Scoring    ScoringConfig    `yaml:"scoring" json:"scoring"`
	Linking    LinkingConfig    `yaml:"linking" json:"linking"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Snapshots  SnapshotsConfig  `yaml:"snapshots" json:"snapshots"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig configures storage locations.
type PathsConfig struct {
	// DataDir is the root data directory (default: ~/.forest).
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// DBPath returns the SQLite database path under the data directory.
func (p PathsConfig) DBPath() string { return filepath.Join(p.DataDir, "forest.db") }

// VectorPath returns the HNSW index path under the data directory.
func (p PathsConfig) VectorPath() string { return filepath.Join(p.DataDir, "vectors.hnsw") }

// LockPath returns the process-exclusivity lock file path.
func (p PathsConfig) LockPath() string { return filepath.Join(p.DataDir, "forest.lock") }

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the adapter: "ollama", "openai", "static", "none".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the provider-specific model identifier.
	Model string `yaml:"model" json:"model"`
	// Dimensions is the embedding dimension; must agree with the provider.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is texts per provider request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxConcurrent bounds in-flight provider calls (rate gate).
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// OpenAIBaseURL is the OpenAI-compatible API base URL.
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`
	// OpenAIKeyEnv names the environment variable holding the API key.
	OpenAIKeyEnv string `yaml:"openai_key_env" json:"openai_key_env"`
	// CacheSize is the LRU embedding cache capacity.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ScoringConfig holds the scorer weight constants.
// EmbeddingWeight + TokenWeight + TitleWeight must sum to 1.0;
// the aggregate is SemanticVsTag*semantic + (1-SemanticVsTag)*tag.
type ScoringConfig struct {
	EmbeddingWeight float64 `yaml:"embedding_weight" json:"embedding_weight"`
	TokenWeight     float64 `yaml:"token_weight" json:"token_weight"`
	TitleWeight     float64 `yaml:"title_weight" json:"title_weight"`
	SemanticVsTag   float64 `yaml:"semantic_vs_tag" json:"semantic_vs_tag"`
	// BridgeTagPattern matches namespaced bridge tags (e.g. "link/*").
	BridgeTagPattern string `yaml:"bridge_tag_pattern" json:"bridge_tag_pattern"`
}

// LinkingConfig configures the linking engine thresholds.
type LinkingConfig struct {
	// AcceptThreshold persists an edge when score >= it.
	AcceptThreshold float64 `yaml:"accept_threshold" json:"accept_threshold"`
	// SuggestThreshold bounds query-time suggestions; must be <= accept.
	SuggestThreshold float64 `yaml:"suggest_threshold" json:"suggest_threshold"`
	// CandidateK bounds nearest-neighbor candidates per incremental link.
	CandidateK int `yaml:"candidate_k" json:"candidate_k"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	// Strategy is "headers", "size", or "hybrid".
	Strategy string `yaml:"strategy" json:"strategy"`
	// MaxChunkChars caps segment size for size/hybrid strategies.
	MaxChunkChars int `yaml:"max_chunk_chars" json:"max_chunk_chars"`
	// OverlapChars is the overlap between size-split segments.
	OverlapChars int `yaml:"overlap_chars" json:"overlap_chars"`
}

// SnapshotsConfig configures the auto-snapshot policy.
type SnapshotsConfig struct {
	// Interval between auto snapshots (e.g. "6h"). Empty disables the timer.
	Interval string `yaml:"interval" json:"interval"`
	// MutationThreshold triggers a snapshot after this many node+edge deltas.
	MutationThreshold int `yaml:"mutation_threshold" json:"mutation_threshold"`
	// RetentionDays prunes auto snapshots older than this. 0 keeps forever.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// WatchConfig configures the vault directory watcher.
type WatchConfig struct {
	// Debounce coalesces rapid file events (e.g. "500ms").
	Debounce string `yaml:"debounce" json:"debounce"`
	// PollInterval is the fallback polling interval (e.g. "30s").
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return &Config{
		Version: CurrentVersion,
		Paths: PathsConfig{
			DataDir: filepath.Join(home, ".forest"),
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "ollama",
			Model:         "embeddinggemma",
			Dimensions:    768,
			BatchSize:     32,
			MaxConcurrent: 4,
			OllamaHost:    "http://localhost:11434",
			OpenAIBaseURL: "https://api.openai.com/v1",
			OpenAIKeyEnv:  "OPENAI_API_KEY",
			CacheSize:     1000,
		},
		Scoring: ScoringConfig{
			EmbeddingWeight:  0.6,
			TokenWeight:      0.25,
			TitleWeight:      0.15,
			SemanticVsTag:    0.7,
			BridgeTagPattern: "link/*",
		},
		Linking: LinkingConfig{
			AcceptThreshold:  0.60,
			SuggestThreshold: 0.40,
			CandidateK:       50,
		},
		Chunking: ChunkingConfig{
			Strategy:      "headers",
			MaxChunkChars: 2000,
			OverlapChars:  200,
		},
		Snapshots: SnapshotsConfig{
			Interval:          "6h",
			MutationThreshold: 100,
			RetentionDays:     90,
		},
		Watch: WatchConfig{
			Debounce:     "500ms",
			PollInterval: "30s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, applying defaults for absent fields
// and environment overrides on top. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies FOREST_* environment variables.
// Env vars take priority over both defaults and file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FOREST_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("FOREST_EMBEDDER"); v != "" {
		cfg.Embeddings.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("FOREST_EMBED_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("FOREST_EMBED_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("FOREST_ACCEPT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Linking.AcceptThreshold = f
		}
	}
	if v := os.Getenv("FOREST_SUGGEST_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Linking.SuggestThreshold = f
		}
	}
	if v := os.Getenv("FOREST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// weightTolerance allows for float rounding in sum-to-one checks.
const weightTolerance = 1e-6

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "ollama", "openai", "static", "none":
	default:
		return fmt.Errorf("unknown embedding provider %q (want ollama, openai, static, or none)", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	s := c.Scoring
	sum := s.EmbeddingWeight + s.TokenWeight + s.TitleWeight
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.4f", sum)
	}
	if s.SemanticVsTag < 0 || s.SemanticVsTag > 1 {
		return fmt.Errorf("scoring.semantic_vs_tag must be in [0,1], got %.4f", s.SemanticVsTag)
	}

	l := c.Linking
	if l.AcceptThreshold < 0 || l.AcceptThreshold > 1 {
		return fmt.Errorf("linking.accept_threshold must be in [0,1], got %.4f", l.AcceptThreshold)
	}
	if l.SuggestThreshold < 0 || l.SuggestThreshold > l.AcceptThreshold {
		return fmt.Errorf("linking.suggest_threshold must be in [0, accept_threshold], got %.4f", l.SuggestThreshold)
	}
	if l.CandidateK <= 0 {
		return fmt.Errorf("linking.candidate_k must be positive, got %d", l.CandidateK)
	}

	switch c.Chunking.Strategy {
	case "headers", "size", "hybrid":
	default:
		return fmt.Errorf("unknown chunking strategy %q (want headers, size, or hybrid)", c.Chunking.Strategy)
	}
	if c.Chunking.MaxChunkChars <= 0 {
		return fmt.Errorf("chunking.max_chunk_chars must be positive, got %d", c.Chunking.MaxChunkChars)
	}
	if c.Chunking.OverlapChars < 0 || c.Chunking.OverlapChars >= c.Chunking.MaxChunkChars {
		return fmt.Errorf("chunking.overlap_chars must be in [0, max_chunk_chars), got %d", c.Chunking.OverlapChars)
	}

	if c.Snapshots.Interval != "" {
		if _, err := time.ParseDuration(c.Snapshots.Interval); err != nil {
			return fmt.Errorf("snapshots.interval: %w", err)
		}
	}
	if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("watch.debounce: %w", err)
	}
	if _, err := time.ParseDuration(c.Watch.PollInterval); err != nil {
		return fmt.Errorf("watch.poll_interval: %w", err)
	}
	return nil
}

// SnapshotInterval returns the parsed auto-snapshot interval, 0 if disabled.
func (c *Config) SnapshotInterval() time.Duration {
	if c.Snapshots.Interval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Snapshots.Interval)
	if err != nil {
		return 0
	}
	return d
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".forest", "forest.yaml")
	}
	return filepath.Join(home, ".forest", "forest.yaml")
}
