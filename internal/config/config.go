package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all client configuration.
type Config struct {
	// ServerURL is the base URL of the exam server the client talks to.
	ServerURL string
	// ExamToken is attached as a bearer token on every request when set.
	ExamToken string
	LogLevel  string
	LogFormat string

	// AutosaveInterval is the periodic autosave cadence.
	AutosaveInterval time.Duration
	// ChunkInterval is the proctoring media chunk emission cadence.
	ChunkInterval time.Duration
	// ProctoringRequired makes a denied camera/mic permission abort the
	// whole session instead of continuing unmonitored.
	ProctoringRequired bool
	// Language is the BCP-47 tag passed to the speech engine.
	Language string

	// RequestTimeout bounds each HTTP call issued by the client.
	RequestTimeout time.Duration

	// DevServerPort and AllowedOrigins configure the bundled stub server.
	// Empty origins slice means all origins are permitted (dev default).
	DevServerPort  string
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &Config{
		ServerURL:          getEnv("EXAM_SERVER_URL", "http://localhost:8080"),
		ExamToken:          getEnv("EXAM_TOKEN", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", ""),
		AutosaveInterval:   time.Duration(getEnvInt("AUTOSAVE_INTERVAL_SECONDS", 30)) * time.Second,
		ChunkInterval:      time.Duration(getEnvInt("PROCTORING_CHUNK_MS", 5000)) * time.Millisecond,
		ProctoringRequired: getEnvBool("PROCTORING_REQUIRED", true),
		Language:           getEnv("SPEECH_LANGUAGE", "en-US"),
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		DevServerPort:      getEnv("DEV_SERVER_PORT", "8080"),
		AllowedOrigins:     parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
