package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Frontend origin allowed to open sockets
	ClientURL string

	// Gemini AI
	GeminiAPIKey         string
	GeminiConcurrentReqs int
	AITimeout            time.Duration

	// Conversation context
	HistoryMaxTurns int
	ContextScope    string
	SessionIdleTTL  time.Duration

	// Session resume tokens
	SessionSecret   string
	SessionTokenTTL time.Duration

	// Pending prompts allowed per session
	PromptQueueSize int

	// Redis (optional, enables cross-instance delivery)
	RedisURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		ClientURL:            getEnvOrDefault("CLIENT_URL", "http://localhost:5173"),
		GeminiAPIKey:         mustGetEnv("GEMINI_API_KEY"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		AITimeout:            getEnvAsDurationOrDefault("AI_TIMEOUT", 60*time.Second),
		HistoryMaxTurns:      getEnvAsIntOrDefault("HISTORY_MAX_TURNS", 50),
		ContextScope:         getEnvOrDefault("CONTEXT_SCOPE", "session"),
		SessionIdleTTL:       getEnvAsDurationOrDefault("SESSION_IDLE_TTL", 30*time.Minute),
		SessionSecret:        getEnvOrDefault("SESSION_SECRET", ""),
		SessionTokenTTL:      getEnvAsDurationOrDefault("SESSION_TOKEN_TTL", 24*time.Hour),
		PromptQueueSize:      getEnvAsIntOrDefault("PROMPT_QUEUE_SIZE", 16),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
	}

	return cfg
}

// IsDevelopment reports whether debug logging should be enabled.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go duration strings ("90s", "2m") or a
// bare integer number of seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
