package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gwi.com/chatvec/internal/errortypes"
)

type Config struct {
	DatabaseDriver     string `yaml:"database_driver"`
	DatabaseURL        string `yaml:"database_url"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`
	SearchBackend      string `yaml:"search_backend"`

	EmbeddingProvider string `yaml:"embedding_provider"`
	EmbeddingModel    string `yaml:"embedding_model"`
	GeminiAPIKey      string `yaml:"gemini_api_key"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	ClusterCount      int    `yaml:"cluster_count"`

	HTTPPort       string   `yaml:"http_port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	JWTSecret      string   `yaml:"jwt_secret"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		DatabaseDriver:     "sqlite3",
		DatabaseURL:        "chatvec.db",
		EmbeddingDimension: 768,
		SearchBackend:      "bruteforce",
		EmbeddingProvider:  "hash",
		ClusterCount:       5,
		HTTPPort:           "5002",
		CORSOrigins:        []string{"*"},
		MaxUploadBytes:     32 << 20,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and the process environment,
// later sources winning.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errortypes.ConfigError(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errortypes.ConfigError(err, "failed to parse config file")
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errortypes.ConfigError(err, "failed to load .env")
	} else if err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	cfg.DatabaseDriver = getEnv("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.EmbeddingDimension = getEnvAsInt("EMBEDDING_DIMENSION", cfg.EmbeddingDimension)
	cfg.SearchBackend = getEnv("SEARCH_BACKEND", cfg.SearchBackend)
	cfg.EmbeddingProvider = getEnv("EMBEDDING_PROVIDER", cfg.EmbeddingProvider)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.ClusterCount = getEnvAsInt("CLUSTER_COUNT", cfg.ClusterCount)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.MaxUploadBytes = int64(getEnvAsInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistency in cfg.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "sqlite":
	default:
		return errortypes.ConfigError(fmt.Errorf("DATABASE_DRIVER=%q", c.DatabaseDriver), "driver must be sqlite3 or sqlite")
	}
	if c.DatabaseURL == "" {
		return errortypes.ConfigError(errors.New("DATABASE_URL is empty"), "database path is required")
	}
	if c.EmbeddingDimension <= 0 {
		return errortypes.ConfigError(fmt.Errorf("EMBEDDING_DIMENSION=%d", c.EmbeddingDimension), "dimension must be positive")
	}
	switch c.SearchBackend {
	case "bruteforce":
	case "vec":
		if c.DatabaseDriver != "sqlite3" {
			return errortypes.ConfigError(errors.New("SEARCH_BACKEND=vec"), "the vec backend needs the sqlite3 driver")
		}
	default:
		return errortypes.ConfigError(fmt.Errorf("SEARCH_BACKEND=%q", c.SearchBackend), "backend must be bruteforce or vec")
	}
	switch c.EmbeddingProvider {
	case "hash", "openai":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errortypes.ConfigError(errors.New("GEMINI_API_KEY is empty"), "GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return errortypes.ConfigError(fmt.Errorf("EMBEDDING_PROVIDER=%q", c.EmbeddingProvider), "provider must be hash, gemini or openai")
	}
	if c.ClusterCount <= 0 {
		return errortypes.ConfigError(fmt.Errorf("CLUSTER_COUNT=%d", c.ClusterCount), "cluster count must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
