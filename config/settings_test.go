package config

import (
	"os"
	"testing"
	"time"
)

func TestNewValidProvider(t *testing.T) {
	settings, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", settings.LLM.Provider)
	}
}

func TestNewWithAlias(t *testing.T) {
	settings, err := New("claude")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "anthropic" {
		t.Errorf("expected provider 'anthropic' (normalized from 'claude'), got %q", settings.LLM.Provider)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("unknown_provider")
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestAPIKeyForValidProvider(t *testing.T) {
	original := os.Getenv("OPENAI_API_KEY")
	os.Setenv("OPENAI_API_KEY", "test-key")
	defer os.Setenv("OPENAI_API_KEY", original)

	key, err := APIKeyFor("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "test-key" {
		t.Errorf("expected 'test-key', got %q", key)
	}
}

func TestAPIKeyForMissing(t *testing.T) {
	original := os.Getenv("OPENAI_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")
	defer os.Setenv("OPENAI_API_KEY", original)

	_, err := APIKeyFor("openai")
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestAPIKeyForUnknownProvider(t *testing.T) {
	_, err := APIKeyFor("unknown")
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestModelFor(t *testing.T) {
	model, err := ModelFor("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model == "" {
		t.Error("expected non-empty model")
	}
}

func TestNewWithInvalidEnvVar(t *testing.T) {
	original := os.Getenv("LLM_MAX_TOKENS")
	os.Setenv("LLM_MAX_TOKENS", "not-a-number")
	defer os.Setenv("LLM_MAX_TOKENS", original)

	_, err := New("openai")
	if err == nil {
		t.Error("expected error for invalid LLM_MAX_TOKENS")
	}
}

func TestMustNewPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for unknown provider")
		}
	}()
	MustNew("unknown_provider")
}

func TestSupportedProviders(t *testing.T) {
	providers := SupportedProviders()
	if len(providers) == 0 {
		t.Error("expected at least one supported provider")
	}
}

func TestNewDefaults(t *testing.T) {
	for _, key := range []string{
		"ALEMBIC_SUMMARY_MODE", "ALEMBIC_TOKEN_LIMIT", "ALEMBIC_CHARS_PER_TOKEN",
		"ALEMBIC_MAP_CONCURRENCY", "ALEMBIC_LISTEN_ADDR", "ALEMBIC_RUNLOG_PATH",
		"METADATA_API_VERSION", "METADATA_API_KEY_HEADER", "METADATA_TIMEOUT_SECONDS",
	} {
		t.Setenv(key, "")
	}

	settings, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Summary.Mode != "structure" {
		t.Errorf("default summary mode = %q, want structure", settings.Summary.Mode)
	}
	if settings.Summary.TokenLimit != 120000 {
		t.Errorf("default token limit = %d, want 120000", settings.Summary.TokenLimit)
	}
	if settings.Summary.CharsPerToken != 4.0 {
		t.Errorf("default chars per token = %v, want 4.0", settings.Summary.CharsPerToken)
	}
	if settings.Summary.Concurrency != 4 {
		t.Errorf("default concurrency = %d, want 4", settings.Summary.Concurrency)
	}
	if settings.Metadata.APIVersion != "v1" {
		t.Errorf("default API version = %q, want v1", settings.Metadata.APIVersion)
	}
	if settings.Metadata.APIKeyHeader != "x-api-key" {
		t.Errorf("default API key header = %q, want x-api-key", settings.Metadata.APIKeyHeader)
	}
	if settings.Metadata.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", settings.Metadata.Timeout)
	}
	if settings.Server.ListenAddr != ":8080" {
		t.Errorf("default listen addr = %q, want :8080", settings.Server.ListenAddr)
	}
	if settings.Server.RunLogPath != "" {
		t.Errorf("default run log path = %q, want empty", settings.Server.RunLogPath)
	}
}

func TestNewEnvOverrides(t *testing.T) {
	t.Setenv("ALEMBIC_SUMMARY_MODE", "text")
	t.Setenv("ALEMBIC_TOKEN_LIMIT", "5000")
	t.Setenv("ALEMBIC_CHARS_PER_TOKEN", "3.5")
	t.Setenv("ALEMBIC_MAP_CONCURRENCY", "8")
	t.Setenv("ALEMBIC_LISTEN_ADDR", ":9999")
	t.Setenv("ALEMBIC_RUNLOG_PATH", "/var/lib/alembic/runs.db")
	t.Setenv("METADATA_API_URL", "http://metadata.internal")
	t.Setenv("METADATA_API_VERSION", "v2")
	t.Setenv("METADATA_API_KEY", "secret")
	t.Setenv("METADATA_API_KEY_HEADER", "x-service-key")
	t.Setenv("METADATA_TIMEOUT_SECONDS", "5")

	settings, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Summary.Mode != "text" {
		t.Errorf("summary mode = %q", settings.Summary.Mode)
	}
	if settings.Summary.TokenLimit != 5000 {
		t.Errorf("token limit = %d", settings.Summary.TokenLimit)
	}
	if settings.Summary.CharsPerToken != 3.5 {
		t.Errorf("chars per token = %v", settings.Summary.CharsPerToken)
	}
	if settings.Summary.Concurrency != 8 {
		t.Errorf("concurrency = %d", settings.Summary.Concurrency)
	}
	if settings.Server.ListenAddr != ":9999" {
		t.Errorf("listen addr = %q", settings.Server.ListenAddr)
	}
	if settings.Server.RunLogPath != "/var/lib/alembic/runs.db" {
		t.Errorf("run log path = %q", settings.Server.RunLogPath)
	}
	if settings.Metadata.URL != "http://metadata.internal" {
		t.Errorf("metadata URL = %q", settings.Metadata.URL)
	}
	if settings.Metadata.APIVersion != "v2" {
		t.Errorf("API version = %q", settings.Metadata.APIVersion)
	}
	if settings.Metadata.APIKey != "secret" {
		t.Errorf("API key = %q", settings.Metadata.APIKey)
	}
	if settings.Metadata.APIKeyHeader != "x-service-key" {
		t.Errorf("API key header = %q", settings.Metadata.APIKeyHeader)
	}
	if settings.Metadata.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", settings.Metadata.Timeout)
	}
}

func TestNewProviderFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "claude")
	settings, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", settings.LLM.Provider)
	}

	t.Setenv("LLM_PROVIDER", "")
	settings, err = New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "openai" {
		t.Errorf("fallback provider = %q, want openai", settings.LLM.Provider)
	}
}

func TestNewInvalidFloat(t *testing.T) {
	t.Setenv("ALEMBIC_CHARS_PER_TOKEN", "plenty")
	if _, err := New("openai"); err == nil {
		t.Error("expected error for invalid ALEMBIC_CHARS_PER_TOKEN")
	}
}

func TestNewRejectsOutOfRangeValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"ALEMBIC_TOKEN_LIMIT", "0"},
		{"ALEMBIC_TOKEN_LIMIT", "-5"},
		{"ALEMBIC_CHARS_PER_TOKEN", "0"},
		{"ALEMBIC_MAP_CONCURRENCY", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := New("openai"); err == nil {
				t.Errorf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
