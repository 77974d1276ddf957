// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Summary  SummaryConfig
	Metadata MetadataConfig
	Server   ServerConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
}

// SummaryConfig holds summarization configuration. Mode is kept as the raw
// string; the summary package owns its parsing.
type SummaryConfig struct {
	Mode          string
	TokenLimit    int
	CharsPerToken float64
	Concurrency   int
}

// MetadataConfig holds upstream metadata API configuration.
type MetadataConfig struct {
	URL          string
	APIVersion   string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
}

// ServerConfig holds gateway server configuration. An empty RunLogPath
// disables the run log.
type ServerConfig struct {
	ListenAddr string
	RunLogPath string
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-5.2", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-opus-4-5-20251101", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-v3.2", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-3-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New creates settings for the specified provider, loading values from
// environment variables. An empty provider falls back to LLM_PROVIDER and
// then to openai. Returns an error if the provider is unknown or
// environment variables contain invalid values.
func New(provider string) (Settings, error) {
	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = "openai"
	}
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 4096)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Settings{}, err
	}

	tokenLimit, err := getEnvInt("ALEMBIC_TOKEN_LIMIT", 120000)
	if err != nil {
		return Settings{}, err
	}

	charsPerToken, err := getEnvFloat64("ALEMBIC_CHARS_PER_TOKEN", 4.0)
	if err != nil {
		return Settings{}, err
	}

	concurrency, err := getEnvInt("ALEMBIC_MAP_CONCURRENCY", 4)
	if err != nil {
		return Settings{}, err
	}

	timeoutSeconds, err := getEnvInt("METADATA_TIMEOUT_SECONDS", 30)
	if err != nil {
		return Settings{}, err
	}

	// Fail at startup on values the pipeline would reject later anyway.
	if tokenLimit <= 0 {
		return Settings{}, fmt.Errorf("ALEMBIC_TOKEN_LIMIT must be positive, got %d", tokenLimit)
	}
	if charsPerToken <= 0 {
		return Settings{}, fmt.Errorf("ALEMBIC_CHARS_PER_TOKEN must be positive, got %v", charsPerToken)
	}
	if concurrency < 0 {
		return Settings{}, fmt.Errorf("ALEMBIC_MAP_CONCURRENCY must not be negative, got %d", concurrency)
	}

	// Get model from environment or use default
	model := os.Getenv(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}

	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
		Summary: SummaryConfig{
			Mode:          getEnvString("ALEMBIC_SUMMARY_MODE", "structure"),
			TokenLimit:    tokenLimit,
			CharsPerToken: charsPerToken,
			Concurrency:   concurrency,
		},
		Metadata: MetadataConfig{
			URL:          os.Getenv("METADATA_API_URL"),
			APIVersion:   getEnvString("METADATA_API_VERSION", "v1"),
			APIKey:       os.Getenv("METADATA_API_KEY"),
			APIKeyHeader: getEnvString("METADATA_API_KEY_HEADER", "x-api-key"),
			Timeout:      time.Duration(timeoutSeconds) * time.Second,
		},
		Server: ServerConfig{
			ListenAddr: getEnvString("ALEMBIC_LISTEN_ADDR", ":8080"),
			RunLogPath: os.Getenv("ALEMBIC_RUNLOG_PATH"),
		},
	}, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	return result
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}
