package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the application.
type Config struct {
	GeminiAPIKey string
	GroqAPIKey   string

	// Models
	AssessmentModel   string
	NutritionModel    string
	GroqModel         string
	NutritionProvider string
	GeminiBaseURL     string
	ProxyURL          string

	// HTTP server
	Port              string
	FrontendURL       string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Workflow
	PlannerTimeout    time.Duration
	AssessmentTimeout time.Duration

	// Result store
	StoreBackend  string
	DatabasePath  string
	FileStorePath string
	RedisAddr     string
	CacheCapacity int
	CacheTTL      time.Duration

	LogMode     string
	OtelEnabled bool

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	geminiAPIKey := os.Getenv("GEMINI_API_KEY")
	if geminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	cfg := &Config{
		GeminiAPIKey:      geminiAPIKey,
		GroqAPIKey:        os.Getenv("GROQ_API_KEY"),
		AssessmentModel:   getEnv("ASSESSMENT_MODEL", "gemini-1.5-flash"),
		NutritionModel:    getEnv("NUTRITION_MODEL", "gemini-1.5-flash"),
		GroqModel:         getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		NutritionProvider: strings.ToLower(getEnv("NUTRITION_PROVIDER", "gemini")),
		GeminiBaseURL:     strings.TrimRight(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"), "/"),
		ProxyURL:          strings.TrimRight(os.Getenv("PROXY_URL"), "/"),
		Port:              getEnv("PORT", "3001"),
		FrontendURL:       os.Getenv("FRONTEND_URL"),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
		DatabasePath:      getEnv("DATABASE_PATH", "data/growth.db"),
		FileStorePath:     getEnv("FILE_STORE_PATH", "data/store"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		LogMode:           getEnv("LOG_MODE", "dev"),
		OtelEnabled:       getBool("OTEL_ENABLED"),

		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
	}

	var err error
	if cfg.RateLimitRequests, err = getInt("RATE_LIMIT_REQUESTS", 100); err != nil {
		return nil, err
	}
	if cfg.CacheCapacity, err = getInt("CACHE_CAPACITY", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PlannerTimeout, err = getDuration("PLANNER_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.AssessmentTimeout, err = getDuration("ASSESSMENT_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 0); err != nil {
		return nil, err
	}

	switch cfg.NutritionProvider {
	case "gemini":
	case "groq":
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unknown NUTRITION_PROVIDER %q", cfg.NutritionProvider)
	}

	switch cfg.StoreBackend {
	case "memory", "file", "sqlite":
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	// Telegram Config (optional for the server and CLI, required for the bot)
	if raw := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS entry %q: %w", part, err)
			}
			cfg.TelegramAllowedUserIDs = append(cfg.TelegramAllowedUserIDs, id)
		}
	}
	if raw := os.Getenv("TELEGRAM_ADMIN_ID"); raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ADMIN_ID: %w", err)
		}
		cfg.AdminTelegramID = id
	}

	return cfg, nil
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a non-negative integer", key, v)
	}
	return i, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a duration like 45s", key, v)
	}
	return d, nil
}

func getBool(key string) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// DataDir is the directory holding the database and file store, used for
// disk usage reporting.
func (c *Config) DataDir() string {
	return filepath.Dir(c.DatabasePath)
}
