// Package config loads the lessond process configuration from the environment
// and the lesson variants from TOML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type KVDriver string

const (
	KVDriverMemory KVDriver = "memory"
	KVDriverRedis  KVDriver = "redis"
)

type ProfileDriver string

const (
	ProfileDriverMemory   ProfileDriver = "memory"
	ProfileDriverSupabase ProfileDriver = "supabase"
	ProfileDriverPostgres ProfileDriver = "postgres"
)

type LLMProvider string

const (
	LLMProviderOpenAI LLMProvider = "openai"
	LLMProviderGemini LLMProvider = "gemini"
)

type Config struct {
	Addr     string
	LogLevel string

	// Session store.
	KVDriver KVDriver
	RedisURL string
	// KVMinTTL is the smallest expiry the store accepts. Hosted KV services
	// with a coarse floor need 60s.
	KVMinTTL time.Duration

	// Profile store.
	ProfileDriver   ProfileDriver
	SupabaseURL     string
	SupabaseKey     string
	ProfileCacheTTL time.Duration
	DatabaseURL     string
	// Timezone is the IANA zone lesson calendar days are counted in.
	Timezone string

	// Model providers.
	OpenAIKey    string
	LLMProvider  LLMProvider
	LLMModel     string
	GeminiAPIKey string
	STTModel     string
	TTSModel     string
	TTSVoice     string

	// LLMMaxHistoryTokens caps the replayed history. Zero replays all of it.
	LLMMaxHistoryTokens int

	// Transcoding. An empty key sends synthesized audio untranscoded.
	TransloaditKey      string
	TransloaditTemplate string
	TranscodeTimeout    time.Duration

	BotToken string

	VariantsFile        string
	AnalysisConcurrency int

	ReadHeaderTimeout   time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("LESSOND_ADDR", ":8080"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		KVDriver:            KVDriver(envOr("KV_DRIVER", string(KVDriverMemory))),
		RedisURL:            envOr("REDIS_URL", ""),
		KVMinTTL:            envDurationOr("KV_MIN_TTL", time.Second),
		ProfileDriver:       ProfileDriver(envOr("PROFILE_DRIVER", string(ProfileDriverMemory))),
		SupabaseURL:         envOr("SUPABASE_URL", ""),
		SupabaseKey:         envOr("SUPABASE_KEY", ""),
		ProfileCacheTTL:     envDurationOr("PROFILE_CACHE_TTL", 30*time.Second),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		Timezone:            envOr("LESSON_TIMEZONE", "UTC"),
		OpenAIKey:           envOr("OPENAI_KEY", ""),
		LLMProvider:         LLMProvider(envOr("LLM_PROVIDER", string(LLMProviderOpenAI))),
		LLMModel:            envOr("LLM_MODEL", ""),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		LLMMaxHistoryTokens: envIntOr("LLM_MAX_HISTORY_TOKENS", 0),
		STTModel:            envOr("STT_MODEL", "whisper-1"),
		TTSModel:            envOr("TTS_MODEL", "tts-1"),
		TTSVoice:            envOr("TTS_VOICE", "sage"),
		TransloaditKey:      envOr("TRANSLOADIT_KEY", ""),
		TransloaditTemplate: envOr("TRANSLOADIT_TEMPLATE", ""),
		TranscodeTimeout:    envDurationOr("TRANSCODE_TIMEOUT", 90*time.Second),
		BotToken:            envOr("BOT_TOKEN", ""),
		VariantsFile:        envOr("VARIANTS_FILE", ""),
		AnalysisConcurrency: envIntOr("ANALYSIS_CONCURRENCY", 4),
		ReadHeaderTimeout:   envDurationOr("LESSOND_READ_HEADER_TIMEOUT", 10*time.Second),
		HandlerTimeout:      envDurationOr("LESSOND_HANDLER_TIMEOUT", 5*time.Minute),
		ShutdownGracePeriod: envDurationOr("LESSOND_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.KVDriver {
	case KVDriverMemory, KVDriverRedis:
	default:
		return Config{}, fmt.Errorf("KV_DRIVER must be one of memory|redis")
	}
	switch cfg.ProfileDriver {
	case ProfileDriverMemory, ProfileDriverSupabase, ProfileDriverPostgres:
	default:
		return Config{}, fmt.Errorf("PROFILE_DRIVER must be one of memory|supabase|postgres")
	}
	switch cfg.LLMProvider {
	case LLMProviderOpenAI, LLMProviderGemini:
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be one of openai|gemini")
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("LESSON_TIMEZONE: %w", err)
	}
	if cfg.KVMinTTL <= 0 {
		return Config{}, fmt.Errorf("KV_MIN_TTL must be > 0")
	}
	if cfg.TranscodeTimeout <= 0 {
		return Config{}, fmt.Errorf("TRANSCODE_TIMEOUT must be > 0")
	}
	if cfg.LLMMaxHistoryTokens < 0 {
		return Config{}, fmt.Errorf("LLM_MAX_HISTORY_TOKENS must be >= 0")
	}
	if cfg.AnalysisConcurrency <= 0 {
		return Config{}, fmt.Errorf("ANALYSIS_CONCURRENCY must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("LESSOND_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("LESSOND_HANDLER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("LESSOND_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// ValidateServe checks the credentials the serve command needs.
func (c Config) ValidateServe() error {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	require("BOT_TOKEN", c.BotToken)
	require("OPENAI_KEY", c.OpenAIKey)
	if c.KVDriver == KVDriverRedis {
		require("REDIS_URL", c.RedisURL)
	}
	switch c.ProfileDriver {
	case ProfileDriverSupabase:
		require("SUPABASE_URL", c.SupabaseURL)
		require("SUPABASE_KEY", c.SupabaseKey)
	case ProfileDriverPostgres:
		require("DATABASE_URL", c.DatabaseURL)
	}
	if c.LLMProvider == LLMProviderGemini {
		require("GEMINI_API_KEY", c.GeminiAPIKey)
	}
	if c.TransloaditKey != "" {
		require("TRANSLOADIT_TEMPLATE", c.TransloaditTemplate)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Location returns the configured time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
