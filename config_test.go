package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// pinConfigEnv fixes every environment variable LoadConfig reads so ambient
// values cannot leak into a test.
func pinConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENROUTER_API_KEY", "OPENROUTER_API_URL", "PORT",
		"DATA_DIR", "CORS_ALLOWED_ORIGINS", "COUNCIL_CONFIG",
	} {
		t.Setenv(key, "")
	}
}

// TestLoadConfigRequiresAPIKey tests that the API key is mandatory
func TestLoadConfigRequiresAPIKey(t *testing.T) {
	pinConfigEnv(t)

	if _, err := LoadConfig(zap.NewNop()); err == nil {
		t.Error("LoadConfig should fail without OPENROUTER_API_KEY")
	}
}

// TestLoadConfigDefaults tests the default configuration values
func TestLoadConfigDefaults(t *testing.T) {
	pinConfigEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "test-key-12345")

	cfg, err := LoadConfig(zap.NewNop())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.OpenRouterAPIKey != "test-key-12345" {
		t.Errorf("API key = %q, want 'test-key-12345'", cfg.OpenRouterAPIKey)
	}
	if cfg.ListenAddr != ":8001" {
		t.Errorf("ListenAddr = %q, want ':8001'", cfg.ListenAddr)
	}
	if cfg.OpenRouterAPIURL != "https://openrouter.ai/api/v1/chat/completions" {
		t.Errorf("OpenRouterAPIURL = %q", cfg.OpenRouterAPIURL)
	}
	if cfg.DataDir != "data/conversations" {
		t.Errorf("DataDir = %q, want 'data/conversations'", cfg.DataDir)
	}
	if cfg.MaxRequestBodySize != 1<<20 {
		t.Errorf("MaxRequestBodySize = %d, want %d", cfg.MaxRequestBodySize, 1<<20)
	}
	if cfg.FetchCacheTTL != 5*time.Minute {
		t.Errorf("FetchCacheTTL = %v, want 5m", cfg.FetchCacheTTL)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("AllowedOrigins = %v, want empty", cfg.AllowedOrigins)
	}

	defaults := DefaultCouncilConfig()
	if len(cfg.Council.CouncilModels) != len(defaults.CouncilModels) {
		t.Errorf("CouncilModels = %v, want defaults", cfg.Council.CouncilModels)
	}
	if cfg.Council.ChairmanModel != defaults.ChairmanModel {
		t.Errorf("ChairmanModel = %q, want %q", cfg.Council.ChairmanModel, defaults.ChairmanModel)
	}
}

// TestLoadConfigEnvOverrides tests environment variable overrides
func TestLoadConfigEnvOverrides(t *testing.T) {
	pinConfigEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "k")
	t.Setenv("PORT", "9000")
	t.Setenv("DATA_DIR", "/tmp/quorum-data")
	t.Setenv("OPENROUTER_API_URL", "http://localhost:9999/v1/chat/completions")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := LoadConfig(zap.NewNop())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want ':9000'", cfg.ListenAddr)
	}
	if cfg.DataDir != "/tmp/quorum-data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.OpenRouterAPIURL != "http://localhost:9999/v1/chat/completions" {
		t.Errorf("OpenRouterAPIURL = %q", cfg.OpenRouterAPIURL)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins = %v, want 2 trimmed entries", cfg.AllowedOrigins)
	}
	if cfg.AllowedOrigins[0] != "https://a.example" || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

// TestLoadConfigCouncilFile tests merging a YAML council file
func TestLoadConfigCouncilFile(t *testing.T) {
	pinConfigEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "k")

	path := filepath.Join(t.TempDir(), "council.yaml")
	yaml := `council_models:
  - custom/one
  - custom/two
chairman_model: custom/chair
generation_timeout_seconds: 10
ranking_prompt: "Rank {responses_text} for {user_query}"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Failed to write council file: %v", err)
	}
	t.Setenv("COUNCIL_CONFIG", path)

	cfg, err := LoadConfig(zap.NewNop())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if len(cfg.Council.CouncilModels) != 2 || cfg.Council.CouncilModels[0] != "custom/one" {
		t.Errorf("CouncilModels = %v", cfg.Council.CouncilModels)
	}
	if cfg.Council.ChairmanModel != "custom/chair" {
		t.Errorf("ChairmanModel = %q", cfg.Council.ChairmanModel)
	}
	if cfg.Council.GenerationTimeout != 10*time.Second {
		t.Errorf("GenerationTimeout = %v, want 10s", cfg.Council.GenerationTimeout)
	}
	if cfg.Council.RankingPrompt != "Rank {responses_text} for {user_query}" {
		t.Errorf("RankingPrompt = %q", cfg.Council.RankingPrompt)
	}

	// Fields the file does not set keep their defaults.
	defaults := DefaultCouncilConfig()
	if cfg.Council.TitleModel != defaults.TitleModel {
		t.Errorf("TitleModel = %q, want default %q", cfg.Council.TitleModel, defaults.TitleModel)
	}
	if cfg.Council.RankingTimeout != defaults.RankingTimeout {
		t.Errorf("RankingTimeout = %v, want default %v", cfg.Council.RankingTimeout, defaults.RankingTimeout)
	}
	if cfg.Council.ChairmanPrompt != "" {
		t.Errorf("ChairmanPrompt = %q, want empty", cfg.Council.ChairmanPrompt)
	}
}

// TestLoadConfigCouncilFileErrors tests bad council file handling
func TestLoadConfigCouncilFileErrors(t *testing.T) {
	pinConfigEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "k")

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("COUNCIL_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
		if _, err := LoadConfig(zap.NewNop()); err == nil {
			t.Error("LoadConfig should fail for a missing council file")
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("{{{ not yaml"), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		t.Setenv("COUNCIL_CONFIG", path)
		if _, err := LoadConfig(zap.NewNop()); err == nil {
			t.Error("LoadConfig should fail for a malformed council file")
		}
	})
}
