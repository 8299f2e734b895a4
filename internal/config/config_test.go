package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MetricsNamespace != "jarvis" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "jarvis")
	}
	if cfg.UpstreamProvider != "auto" {
		t.Fatalf("UpstreamProvider = %q, want %q", cfg.UpstreamProvider, "auto")
	}
	if cfg.KioskVoice != "verse" || cfg.VitrineVoice != "alloy" {
		t.Fatalf("voices = %q/%q, want verse/alloy", cfg.KioskVoice, cfg.VitrineVoice)
	}
	if cfg.KioskSessionsPerMemberHour != 30 {
		t.Fatalf("KioskSessionsPerMemberHour = %d, want 30", cfg.KioskSessionsPerMemberHour)
	}
	if cfg.VitrineSessionsPerIPHour != 3 {
		t.Fatalf("VitrineSessionsPerIPHour = %d, want 3", cfg.VitrineSessionsPerIPHour)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadUsesExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("APP_SESSION_IDLE_TTL", "2m")
	t.Setenv("ADMISSION_VITRINE_PER_IP_HOUR", "5")
	t.Setenv("OPENAI_API_KEY", "  sk-test  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9191")
	}
	if cfg.SessionIdleTTL.Minutes() != 2 {
		t.Fatalf("SessionIdleTTL = %v, want 2m", cfg.SessionIdleTTL)
	}
	if cfg.VitrineSessionsPerIPHour != 5 {
		t.Fatalf("VitrineSessionsPerIPHour = %d, want 5", cfg.VitrineSessionsPerIPHour)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("OpenAIAPIKey = %q, want trimmed value", cfg.OpenAIAPIKey)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"malformed duration", "APP_SHUTDOWN_TIMEOUT", "soon"},
		{"idle ttl too small", "APP_SESSION_IDLE_TTL", "5s"},
		{"janitor too fast", "APP_JANITOR_INTERVAL", "100ms"},
		{"zero admission limit", "ADMISSION_KIOSK_PER_MEMBER_HOUR", "0"},
		{"unknown provider", "UPSTREAM_PROVIDER", "azure"},
		{"empty model", "REALTIME_MODEL", " "},
		{"malformed bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q expected error", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_SESSION_IDLE_TTL",
		"APP_JANITOR_INTERVAL",
		"DATABASE_URL",
		"UPSTREAM_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"REALTIME_MODEL",
		"REALTIME_KIOSK_VOICE",
		"REALTIME_VITRINE_VOICE",
		"ADMISSION_KIOSK_PER_MEMBER_HOUR",
		"ADMISSION_VITRINE_PER_IP_HOUR",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
