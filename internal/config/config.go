package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default values applied when a field is left unset.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultSimilarityTopK      = 5
	MaxSimilarityTopK          = 50
	DefaultEmbeddingModel      = "text-embedding-3-small"
	DefaultSummaryModel        = "gpt-4o-mini"
	DefaultOpenAIBaseURL       = "https://api.openai.com/v1"
)

// APIKeyEnvVars are checked in order for the OpenAI API key.
var APIKeyEnvVars = []string{"GOALGRAPH_OPENAI_API_KEY", "OPENAI_API_KEY"}

// Config holds application configuration.
type Config struct {
	// AllowedPaths lists extra directories for graph export and import
	// files, besides ~/.goalgraph/exports. Relative paths are ignored.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths lifts the directory restriction on export and import.
	// Extension and symlink checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// SimilarityThreshold is the minimum cosine score a match must reach.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`

	// SimilarityTopK is the default number of matches returned.
	SimilarityTopK int `json:"similarity_top_k,omitempty"`

	EmbeddingModel string `json:"embedding_model,omitempty"`
	SummaryModel   string `json:"summary_model,omitempty"`
	OpenAIBaseURL  string `json:"openai_base_url,omitempty"`

	// ProviderTimeoutSeconds bounds a single embedding or summary call.
	ProviderTimeoutSeconds int `json:"provider_timeout_seconds,omitempty"`

	// ProviderRate is the sustained provider request rate per second.
	ProviderRate float64 `json:"provider_rate,omitempty"`

	ProviderBurst int `json:"provider_burst,omitempty"`

	// BreakerFailures is the number of consecutive provider failures that
	// opens the circuit breaker.
	BreakerFailures int `json:"breaker_failures,omitempty"`

	// MutationRetries is the attempt count for mutations that hit a
	// concurrent-mutation conflict.
	MutationRetries int `json:"mutation_retries,omitempty"`

	// ProviderRetries is the attempt count for provider calls.
	ProviderRetries int `json:"provider_retries,omitempty"`

	// RefreshWorkers is the number of goroutines refreshing embeddings after commits.
	RefreshWorkers int `json:"refresh_workers,omitempty"`

	// ReindexIntervalMinutes is how often the worker sweeps stale embeddings.
	ReindexIntervalMinutes int `json:"reindex_interval_minutes,omitempty"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool groups to disable entirely.
	// Known types: "goal", "dependency", "graph". Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`

	// OpenAIAPIKey is read from the environment only.
	OpenAIAPIKey string `json:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SimilarityThreshold:    DefaultSimilarityThreshold,
		SimilarityTopK:         DefaultSimilarityTopK,
		EmbeddingModel:         DefaultEmbeddingModel,
		SummaryModel:           DefaultSummaryModel,
		OpenAIBaseURL:          DefaultOpenAIBaseURL,
		ProviderTimeoutSeconds: 20,
		ProviderRate:           5,
		ProviderBurst:          5,
		BreakerFailures:        5,
		MutationRetries:        3,
		ProviderRetries:        3,
		RefreshWorkers:         2,
		ReindexIntervalMinutes: 15,
		LogLevel:               "info",
	}
}

// ProviderTimeout returns the per-call provider timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// ReindexInterval returns the worker sweep interval.
func (c *Config) ReindexInterval() time.Duration {
	return time.Duration(c.ReindexIntervalMinutes) * time.Minute
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.goalgraph) and repo (.goalgraph) directories.
// Repo config is found by walking upward from startDir to find the nearest .goalgraph/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	ApplyEnv(cfg)
	return cfg, nil
}

// ApplyEnv fills secrets from the environment.
func ApplyEnv(cfg *Config) {
	for _, name := range APIKeyEnvVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			cfg.OpenAIAPIKey = v
			return
		}
	}
}

// FindRepoConfig walks upward from startDir to find the nearest .goalgraph/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".goalgraph", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw returns a zero-valued config (not defaults) if the file doesn't exist.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	return &Config{
		DBMaxOpenConns:         pick(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:         pick(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
		SimilarityThreshold:    pick(overlay.SimilarityThreshold, base.SimilarityThreshold),
		SimilarityTopK:         pick(overlay.SimilarityTopK, base.SimilarityTopK),
		EmbeddingModel:         pick(overlay.EmbeddingModel, base.EmbeddingModel),
		SummaryModel:           pick(overlay.SummaryModel, base.SummaryModel),
		OpenAIBaseURL:          pick(overlay.OpenAIBaseURL, base.OpenAIBaseURL),
		ProviderTimeoutSeconds: pick(overlay.ProviderTimeoutSeconds, base.ProviderTimeoutSeconds),
		ProviderRate:           pick(overlay.ProviderRate, base.ProviderRate),
		ProviderBurst:          pick(overlay.ProviderBurst, base.ProviderBurst),
		BreakerFailures:        pick(overlay.BreakerFailures, base.BreakerFailures),
		MutationRetries:        pick(overlay.MutationRetries, base.MutationRetries),
		ProviderRetries:        pick(overlay.ProviderRetries, base.ProviderRetries),
		RefreshWorkers:         pick(overlay.RefreshWorkers, base.RefreshWorkers),
		ReindexIntervalMinutes: pick(overlay.ReindexIntervalMinutes, base.ReindexIntervalMinutes),
		LogLevel:               pick(overlay.LogLevel, base.LogLevel),
		OpenAIAPIKey:           pick(overlay.OpenAIAPIKey, base.OpenAIAPIKey),
		AllowUnsafePaths:       base.AllowUnsafePaths || overlay.AllowUnsafePaths,
		AllowedPaths:           mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths),
		DisabledTools:          mergeStringSlice(base.DisabledTools, overlay.DisabledTools),
		DisabledTypes:          mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes),
	}
}

// pick returns overlay if non-zero, else base.
func pick[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
