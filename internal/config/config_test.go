package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoad_DefaultWhenMissing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("SimilarityThreshold = %v, want %v", cfg.SimilarityThreshold, DefaultSimilarityThreshold)
	}
	if cfg.SimilarityTopK != DefaultSimilarityTopK {
		t.Errorf("SimilarityTopK = %d, want %d", cfg.SimilarityTopK, DefaultSimilarityTopK)
	}
	if cfg.EmbeddingModel != DefaultEmbeddingModel {
		t.Errorf("EmbeddingModel = %q, want %q", cfg.EmbeddingModel, DefaultEmbeddingModel)
	}
	if cfg.MutationRetries != 3 {
		t.Errorf("MutationRetries = %d, want 3", cfg.MutationRetries)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"similarity_threshold": 0.85, "similarity_top_k": 10, "provider_timeout_seconds": 3}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SimilarityThreshold != 0.85 {
		t.Errorf("SimilarityThreshold = %v, want 0.85", cfg.SimilarityThreshold)
	}
	if cfg.SimilarityTopK != 10 {
		t.Errorf("SimilarityTopK = %d, want 10", cfg.SimilarityTopK)
	}
	if cfg.ProviderTimeout() != 3*time.Second {
		t.Errorf("ProviderTimeout() = %v, want 3s", cfg.ProviderTimeout())
	}
	// Untouched fields keep defaults
	if cfg.SummaryModel != DefaultSummaryModel {
		t.Errorf("SummaryModel = %q, want %q", cfg.SummaryModel, DefaultSummaryModel)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{not json}`)

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_IgnoresAPIKeyInFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"OpenAIAPIKey": "sk-file"}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "" {
		t.Errorf("OpenAIAPIKey = %q, want empty", cfg.OpenAIAPIKey)
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	writeConfig(t, globalDir, `{"similarity_top_k": 8, "disabled_tools": ["goal_merge"]}`)
	writeConfig(t, filepath.Join(repoRoot, ".goalgraph"), `{"similarity_top_k": 3, "disabled_tools": ["dependency_remove"]}`)

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.SimilarityTopK != 3 {
		t.Errorf("SimilarityTopK = %d, want 3 (repo override)", cfg.SimilarityTopK)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.RefreshWorkers != 2 {
		t.Errorf("RefreshWorkers = %d, want 2", cfg.RefreshWorkers)
	}
	if len(cfg.DisabledTools) != 0 {
		t.Errorf("DisabledTools = %v, want empty", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_WalksUpward(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, filepath.Join(tmpDir, ".goalgraph"), `{"disabled_types": ["graph"]}`)

	subdir := filepath.Join(tmpDir, "a", "b")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(t.TempDir(), subdir)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if len(cfg.DisabledTypes) != 1 || cfg.DisabledTypes[0] != "graph" {
		t.Errorf("DisabledTypes = %v, want [graph]", cfg.DisabledTypes)
	}
}

func TestLoadWithRepo_APIKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-generic")
	t.Setenv("GOALGRAPH_OPENAI_API_KEY", "sk-specific")

	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-specific" {
		t.Errorf("OpenAIAPIKey = %q, want sk-specific", cfg.OpenAIAPIKey)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{SimilarityThreshold: 0.7, DBMaxOpenConns: 5}
	overlay := &Config{SimilarityThreshold: 0.9}

	result := Merge(base, overlay)

	if result.SimilarityThreshold != 0.9 {
		t.Errorf("SimilarityThreshold = %v, want 0.9 (overlay)", result.SimilarityThreshold)
	}
	if result.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d, want 5 (base, overlay is zero)", result.DBMaxOpenConns)
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledTools: []string{"goal_merge", " goal_update "}}
	overlay := &Config{DisabledTools: []string{"goal_update", "dependency_remove", ""}}

	result := Merge(base, overlay)

	want := []string{"goal_merge", "goal_update", "dependency_remove"}
	if len(result.DisabledTools) != len(want) {
		t.Fatalf("DisabledTools = %v, want %v", result.DisabledTools, want)
	}
	for i := range want {
		if result.DisabledTools[i] != want[i] {
			t.Errorf("DisabledTools[%d] = %q, want %q", i, result.DisabledTools[i], want[i])
		}
	}
}

func TestMerge_PathSettings(t *testing.T) {
	base := &Config{AllowUnsafePaths: true, AllowedPaths: []string{"/backups"}}
	overlay := &Config{AllowedPaths: []string{"/backups", "/mnt/share"}}

	result := Merge(base, overlay)

	if !result.AllowUnsafePaths {
		t.Error("AllowUnsafePaths should be true (base OR overlay)")
	}
	if len(result.AllowedPaths) != 2 {
		t.Errorf("AllowedPaths = %v, want [/backups /mnt/share]", result.AllowedPaths)
	}
}

func TestFindRepoConfig_NotFound(t *testing.T) {
	if found := FindRepoConfig(t.TempDir()); found != "" {
		t.Errorf("FindRepoConfig() = %q, want empty string", found)
	}
}
