package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the jarvisd backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	UpstreamProvider string
	OpenAIAPIKey     string
	OpenAIBaseURL    string

	RealtimeModel string
	KioskVoice    string
	VitrineVoice  string

	SessionIdleTTL  time.Duration
	JanitorInterval time.Duration

	KioskSessionsPerMemberHour int
	VitrineSessionsPerIPHour   int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "jarvis"),
		AllowAnyOrigin:   false,
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		UpstreamProvider: envOrDefault("UPSTREAM_PROVIDER", "auto"),
		OpenAIAPIKey:     envTrimmed("OPENAI_API_KEY"),
		OpenAIBaseURL:    envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		// Default to the realtime preview snapshot the kiosks were tuned against.
		RealtimeModel: envOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		KioskVoice:    envOrDefault("REALTIME_KIOSK_VOICE", "verse"),
		VitrineVoice:  envOrDefault("REALTIME_VITRINE_VOICE", "alloy"),
		// Registry janitor settings: sessions the kiosk never closed are
		// settled after this much silence.
		SessionIdleTTL:             10 * time.Minute,
		JanitorInterval:            30 * time.Second,
		ShutdownTimeout:            15 * time.Second,
		KioskSessionsPerMemberHour: 30,
		VitrineSessionsPerIPHour:   3,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTTL, err = durationFromEnv("APP_SESSION_IDLE_TTL", cfg.SessionIdleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.KioskSessionsPerMemberHour, err = intFromEnv("ADMISSION_KIOSK_PER_MEMBER_HOUR", cfg.KioskSessionsPerMemberHour)
	if err != nil {
		return Config{}, err
	}
	cfg.VitrineSessionsPerIPHour, err = intFromEnv("ADMISSION_VITRINE_PER_IP_HOUR", cfg.VitrineSessionsPerIPHour)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.UpstreamProvider)) {
	case "auto", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("invalid UPSTREAM_PROVIDER: %q (expected auto|openai|mock)", cfg.UpstreamProvider)
	}
	if strings.TrimSpace(cfg.RealtimeModel) == "" {
		return Config{}, fmt.Errorf("REALTIME_MODEL must not be empty")
	}
	if cfg.SessionIdleTTL < time.Minute {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TTL must be at least 1m")
	}
	if cfg.JanitorInterval < time.Second {
		return Config{}, fmt.Errorf("APP_JANITOR_INTERVAL must be at least 1s")
	}
	if cfg.KioskSessionsPerMemberHour <= 0 {
		return Config{}, fmt.Errorf("ADMISSION_KIOSK_PER_MEMBER_HOUR must be positive")
	}
	if cfg.VitrineSessionsPerIPHour <= 0 {
		return Config{}, fmt.Errorf("ADMISSION_VITRINE_PER_IP_HOUR must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
