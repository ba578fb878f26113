package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingAPIKey        = errors.New("GEMINI_API_KEY is required")
	ErrMissingTelegramToken = errors.New("TELEGRAM_BOT_TOKEN is required")
)

const (
	BackendREST = "rest"
	BackendSDK  = "sdk"
)

type Config struct {
	GeminiAPIKey     string
	GeminiBackend    string
	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiImageModel string

	TelegramToken string

	WebAddr string

	LogLevel string
	Debug    bool

	PreferIPv4 bool

	MaxConcurrent     int
	MaxUploadBytes    int64
	RequestTimeout    time.Duration
	HTTPTimeout       time.Duration
	SessionIdleTTL    time.Duration
	ReferenceCacheTTL time.Duration
}

// Load reads the environment. A missing Gemini key is a configuration error;
// nothing should start without it.
func Load() (Config, error) {
	cfg := Config{
		GeminiBackend:     strings.ToLower(strings.TrimSpace(getEnv("GEMINI_BACKEND", BackendREST))),
		GeminiBaseURL:     strings.TrimSpace(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")),
		GeminiAPIVersion:  strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		GeminiImageModel:  strings.TrimSpace(getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image")),
		WebAddr:           strings.TrimSpace(getEnv("WEB_ADDR", ":8080")),
		LogLevel:          strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:             getEnvBool("DEBUG", false),
		PreferIPv4:        getEnvBool("PREFER_IPV4", true),
		MaxConcurrent:     getEnvInt("MAX_CONCURRENT", 4),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_MB", 10)) << 20,
		RequestTimeout:    time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 240)) * time.Second,
		HTTPTimeout:       time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		SessionIdleTTL:    time.Duration(getEnvInt("SESSION_IDLE_TTL_MINUTES", 30)) * time.Minute,
		ReferenceCacheTTL: time.Duration(getEnvInt("REFERENCE_CACHE_MINUTES", 60)) * time.Minute,
	}

	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))

	if cfg.GeminiAPIKey == "" {
		return Config{}, ErrMissingAPIKey
	}

	switch cfg.GeminiBackend {
	case BackendREST, BackendSDK:
	default:
		return Config{}, errors.New("GEMINI_BACKEND must be \"rest\" or \"sdk\"")
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 240 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.SessionIdleTTL <= 0 {
		cfg.SessionIdleTTL = 30 * time.Minute
	}
	if cfg.ReferenceCacheTTL < 0 {
		cfg.ReferenceCacheTTL = 0
	}

	return cfg, nil
}

// RequireTelegram is the extra check for the bot binary.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return ErrMissingTelegramToken
	}
	return nil
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
