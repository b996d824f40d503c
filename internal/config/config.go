package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates the service configuration.
type Config struct {
	Server   ServerConfig
	Bot      BotConfig
	Telegram TelegramConfig
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	bot, err := loadBotConfig()
	if err != nil {
		return nil, err
	}

	telegram, err := loadTelegramConfig()
	if err != nil {
		return nil, err
	}

	level, err := parseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Bot: bot, Telegram: telegram, LogLevel: level}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig resolves the listen address and CORS origins.
func loadServerConfig() (ServerConfig, error) {
	origins := parseListEnv("CORS_ALLOWED_ORIGINS", ",")
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// BotConfig holds the tunable parts of the bot.
type BotConfig struct {
	ProfileID string
	DelayMin  time.Duration
	DelayMax  time.Duration
	Fallbacks []string
	Greetings []string
}

func loadBotConfig() (BotConfig, error) {
	delayMin, err := parseDurationEnv("BOT_REPLY_DELAY_MIN", time.Second)
	if err != nil {
		return BotConfig{}, err
	}
	delayMax, err := parseDurationEnv("BOT_REPLY_DELAY_MAX", 2*time.Second)
	if err != nil {
		return BotConfig{}, err
	}

	if delayMin < 0 {
		return BotConfig{}, fmt.Errorf("BOT_REPLY_DELAY_MIN must not be negative, got %s", delayMin)
	}
	if delayMax < delayMin {
		return BotConfig{}, fmt.Errorf("BOT_REPLY_DELAY_MAX (%s) must not be below BOT_REPLY_DELAY_MIN (%s)", delayMax, delayMin)
	}

	return BotConfig{
		ProfileID: getEnvOrDefault("BOT_PROFILE", "assistant"),
		DelayMin:  delayMin,
		DelayMax:  delayMax,
		Fallbacks: parseListEnv("BOT_FALLBACK_REPLIES", "|"),
		Greetings: parseListEnv("BOT_GREETINGS", "|"),
	}, nil
}

// TelegramConfig enables the Telegram front end.
type TelegramConfig struct {
	Token   string
	Debug   bool
	Timeout int
}

// Enabled reports whether a bot token was supplied.
func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

func loadTelegramConfig() (TelegramConfig, error) {
	debug, err := parseBoolEnv("TELEGRAM_DEBUG", false)
	if err != nil {
		return TelegramConfig{}, err
	}

	timeout := 60
	if override, err := parseOptionalIntEnv("TELEGRAM_POLL_TIMEOUT"); err != nil {
		return TelegramConfig{}, err
	} else if override != nil && *override > 0 {
		timeout = *override
	}

	return TelegramConfig{
		Token:   strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		Debug:   debug,
		Timeout: timeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv accepts Go durations ("1500ms") or bare milliseconds ("1500").
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseListEnv(key, sep string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	var items []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q", raw)
	}
}
