package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort  string
	AppEnv    string
	JWTSecret string

	LLMProvider         string
	GeminiAPIKey        string
	OpenAIAPIKey        string
	ChatModel           string
	EmbeddingModel      string
	EmbeddingDimensions int

	DBDriver    string
	DatabaseURL string

	GoogleClientID     string
	GoogleClientSecret string
	BaseURL            string
	FrontendURL        string

	RedisURL        string
	Timezone        string
	ExternalTimeout time.Duration

	RAG RAGConfig
}

// RAGConfig holds the retrieval tuning knobs.
type RAGConfig struct {
	SimilarityThreshold float64
	RecencyWindow       time.Duration
	CandidateLimit      int
	DefaultLimit        int
	MinContentLength    int
	Denylist            []string
}

// DefaultRAGConfig mirrors the values the service has always shipped with.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		SimilarityThreshold: 0.05,
		RecencyWindow:       5 * time.Minute,
		CandidateLimit:      10,
		DefaultLimit:        5,
		MinContentLength:    10,
		Denylist:            []string{"what did we", "discuss", "talk about"},
	}
}

// Load reads .env (if present) and the process environment.
// It returns an error when a required key is missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	rag := DefaultRAGConfig()
	rag.SimilarityThreshold = getEnvAsFloat("RAG_SIMILARITY_THRESHOLD", rag.SimilarityThreshold)
	rag.RecencyWindow = getEnvAsDuration("RAG_RECENCY_WINDOW", rag.RecencyWindow)
	rag.CandidateLimit = getEnvAsInt("RAG_CANDIDATE_LIMIT", rag.CandidateLimit)
	rag.DefaultLimit = getEnvAsInt("RAG_DEFAULT_LIMIT", rag.DefaultLimit)
	rag.MinContentLength = getEnvAsInt("RAG_MIN_CONTENT_LENGTH", rag.MinContentLength)
	if v := getEnv("RAG_DENYLIST", ""); v != "" {
		rag.Denylist = splitList(v)
	}

	provider := strings.ToLower(getEnv("LLM_PROVIDER", "openai"))
	cfg := &Config{
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		AppEnv:    getEnv("APP_ENV", "development"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		LLMProvider:         provider,
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		ChatModel:           getEnv("CHAT_MODEL", ""),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", ""),
		EmbeddingDimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", defaultEmbeddingDimensions(provider)),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DatabaseURL: getEnv("DATABASE_URL", "calendar_assistant.db"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		BaseURL:            strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),

		RedisURL:        getEnv("REDIS_URL", ""),
		Timezone:        getEnv("TIMEZONE", "UTC"),
		ExternalTimeout: time.Duration(getEnvAsInt("EXTERNAL_TIMEOUT_SECONDS", 30)) * time.Second,

		RAG: rag,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// text-embedding-3-small is asked for 1536 dimensions; text-embedding-004
// only produces 768.
func defaultEmbeddingDimensions(provider string) int {
	if provider == "gemini" {
		return 768
	}
	return 1536
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	switch c.LLMProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	if c.ExternalTimeout <= 0 {
		return fmt.Errorf("EXTERNAL_TIMEOUT_SECONDS must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves Timezone. validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CalendarRedirectURL is the OAuth callback registered with Google.
func (c *Config) CalendarRedirectURL() string {
	return c.BaseURL + "/api/calendar/callback"
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("5m") or plain seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
