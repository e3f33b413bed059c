// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all service configuration.
type Configuration struct {
	Service       ServiceConfig
	Engine        EngineConfig
	Store         StoreConfig
	Save          SaveConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds core service settings.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
}

// EngineConfig holds upstream dialogue engine settings.
type EngineConfig struct {
	Provider           string // "realtime" or "mock"
	URL                string
	APIKey             string
	Model              string
	Voice              string
	Instructions       string
	OpeningPrompt      string
	InputSampleRateHz  int
	OutputSampleRateHz int
	TurnThreshold      float64
	SilenceDurationMs  int
	ConnectTimeout     time.Duration
}

// StoreConfig holds transcript persistence settings.
type StoreConfig struct {
	DynamoTable   string
	DynamoRegion  string
	FallbackDir   string
	RetryAttempts int
	RetryBackoff  time.Duration
}

// SaveConfig holds save scheduling settings.
type SaveConfig struct {
	DebounceWindow   time.Duration
	AutosaveInterval time.Duration
	EvictionGrace    time.Duration
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicMessage string
	TopicSaved   string
	Principal    string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-relay")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		Engine: EngineConfig{
			Provider:           envOrDefault("ENGINE_PROVIDER", "mock"),
			URL:                envOrDefault("ENGINE_URL", "wss://api.openai.com/v1/realtime"),
			APIKey:             os.Getenv("ENGINE_API_KEY"),
			Model:              envOrDefault("ENGINE_MODEL", "gpt-4o-realtime-preview"),
			Voice:              envOrDefault("ENGINE_VOICE", "alloy"),
			Instructions:       os.Getenv("ENGINE_INSTRUCTIONS"),
			OpeningPrompt:      envOrDefault("ENGINE_OPENING_PROMPT", "Please greet the user and ask how they are doing today."),
			InputSampleRateHz:  parseInt("ENGINE_INPUT_SAMPLE_RATE_HZ", 24000),
			OutputSampleRateHz: parseInt("ENGINE_OUTPUT_SAMPLE_RATE_HZ", 24000),
			TurnThreshold:      parseFloat("ENGINE_TURN_THRESHOLD", 0.5),
			SilenceDurationMs:  parseInt("ENGINE_SILENCE_DURATION_MS", 500),
			ConnectTimeout:     parseDuration("ENGINE_CONNECT_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			DynamoTable:   os.Getenv("STORE_DYNAMO_TABLE"),
			DynamoRegion:  envOrDefault("STORE_DYNAMO_REGION", "us-east-1"),
			FallbackDir:   envOrDefault("STORE_FALLBACK_DIR", "./data/transcripts"),
			RetryAttempts: parseInt("STORE_RETRY_ATTEMPTS", 3),
			RetryBackoff:  parseDuration("STORE_RETRY_BACKOFF", 250*time.Millisecond),
		},
		Save: SaveConfig{
			DebounceWindow:   parseDuration("SAVE_DEBOUNCE_WINDOW", 2*time.Second),
			AutosaveInterval: parseDuration("SAVE_AUTOSAVE_INTERVAL", 15*time.Second),
			EvictionGrace:    parseDuration("SAVE_EVICTION_GRACE", 60*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:      parseBool("KAFKA_ENABLED", false),
			Brokers:      parseList("KAFKA_BROKERS"),
			TopicMessage: envOrDefault("KAFKA_TOPIC_MESSAGE", "conversation.transcript.message"),
			TopicSaved:   envOrDefault("KAFKA_TOPIC_SAVED", "conversation.transcript.saved"),
			Principal:    principal,
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
