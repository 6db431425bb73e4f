package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds everything the server needs to run. Values come from the
// environment, with an optional YAML file for shaping the council itself.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string

	// OpenRouterAPIKey authenticates upstream model calls. Required.
	OpenRouterAPIKey string

	// OpenRouterAPIURL is the chat completions endpoint.
	OpenRouterAPIURL string

	// DataDir is the directory for conversation storage.
	DataDir string

	// AllowedOrigins lists CORS origins for production. Empty allows any
	// localhost port, which suits development.
	AllowedOrigins []string

	// MaxRequestBodySize caps inbound request bodies.
	MaxRequestBodySize int64

	// FetchCacheTTL is how long fetched page content stays cached.
	FetchCacheTTL time.Duration

	// Council is the default deliberation setup.
	Council CouncilConfig
}

// councilFile is the YAML shape of an optional council config file.
type councilFile struct {
	CouncilModels            []string `yaml:"council_models"`
	ChairmanModel            string   `yaml:"chairman_model"`
	TitleModel               string   `yaml:"title_model"`
	GenerationTimeoutSeconds int      `yaml:"generation_timeout_seconds"`
	RankingTimeoutSeconds    int      `yaml:"ranking_timeout_seconds"`
	SynthesisTimeoutSeconds  int      `yaml:"synthesis_timeout_seconds"`
	TitleTimeoutSeconds      int      `yaml:"title_timeout_seconds"`
	RankingPrompt            string   `yaml:"ranking_prompt"`
	ChairmanPrompt           string   `yaml:"chairman_prompt"`
}

// LoadConfig builds the server configuration from the environment. A .env
// file is loaded first when present, from the working directory or its
// parent. OPENROUTER_API_KEY is the only required setting.
func LoadConfig(logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Try both the working directory and its parent, so the server can run
	// from a subdirectory of a checkout.
	for _, envPath := range []string{".env", "../.env"} {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}
		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				logger.Info("loaded .env", zap.String("path", absPath))
				break
			}
		}
	}

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable is required")
	}

	cfg := &Config{
		ListenAddr:         ":8001",
		OpenRouterAPIKey:   apiKey,
		OpenRouterAPIURL:   "https://openrouter.ai/api/v1/chat/completions",
		DataDir:            "data/conversations",
		MaxRequestBodySize: 1 << 20,
		FetchCacheTTL:      5 * time.Minute,
		Council:            DefaultCouncilConfig(),
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if apiURL := os.Getenv("OPENROUTER_API_URL"); apiURL != "" {
		cfg.OpenRouterAPIURL = apiURL
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if path := os.Getenv("COUNCIL_CONFIG"); path != "" {
		if err := loadCouncilFile(path, &cfg.Council); err != nil {
			return nil, err
		}
		logger.Info("loaded council config", zap.String("path", path))
	}

	return cfg, nil
}

// loadCouncilFile merges a YAML council file over the defaults. Only the
// fields the file sets are replaced.
func loadCouncilFile(path string, council *CouncilConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read council config: %w", err)
	}
	var file councilFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse council config: %w", err)
	}

	if len(file.CouncilModels) > 0 {
		council.CouncilModels = file.CouncilModels
	}
	if file.ChairmanModel != "" {
		council.ChairmanModel = file.ChairmanModel
	}
	if file.TitleModel != "" {
		council.TitleModel = file.TitleModel
	}
	if file.GenerationTimeoutSeconds > 0 {
		council.GenerationTimeout = time.Duration(file.GenerationTimeoutSeconds) * time.Second
	}
	if file.RankingTimeoutSeconds > 0 {
		council.RankingTimeout = time.Duration(file.RankingTimeoutSeconds) * time.Second
	}
	if file.SynthesisTimeoutSeconds > 0 {
		council.SynthesisTimeout = time.Duration(file.SynthesisTimeoutSeconds) * time.Second
	}
	if file.TitleTimeoutSeconds > 0 {
		council.TitleTimeout = time.Duration(file.TitleTimeoutSeconds) * time.Second
	}
	if file.RankingPrompt != "" {
		council.RankingPrompt = file.RankingPrompt
	}
	if file.ChairmanPrompt != "" {
		council.ChairmanPrompt = file.ChairmanPrompt
	}

	return nil
}

// NewLogger builds the process logger. APP_ENV=development switches to the
// human-readable development encoder.
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
