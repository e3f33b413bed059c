package config

import (
	"os"
	"testing"
	"time"
)

var configEnvVars = []string{
	"SERVICE_PRINCIPAL", "HTTP_PORT",
	"ENGINE_PROVIDER", "ENGINE_URL", "ENGINE_API_KEY", "ENGINE_MODEL",
	"ENGINE_VOICE", "ENGINE_INSTRUCTIONS", "ENGINE_OPENING_PROMPT",
	"ENGINE_INPUT_SAMPLE_RATE_HZ", "ENGINE_OUTPUT_SAMPLE_RATE_HZ",
	"ENGINE_TURN_THRESHOLD", "ENGINE_SILENCE_DURATION_MS", "ENGINE_CONNECT_TIMEOUT",
	"STORE_DYNAMO_TABLE", "STORE_DYNAMO_REGION", "STORE_FALLBACK_DIR",
	"STORE_RETRY_ATTEMPTS", "STORE_RETRY_BACKOFF",
	"SAVE_DEBOUNCE_WINDOW", "SAVE_AUTOSAVE_INTERVAL", "SAVE_EVICTION_GRACE",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_MESSAGE", "KAFKA_TOPIC_SAVED",
	"LOG_LEVEL", "LOG_FORMAT", "METRICS_PORT",
}

func clearEnv() {
	for _, v := range configEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "svc-voice-relay" {
		t.Errorf("expected default principal 'svc-voice-relay', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default HTTP port '8080', got %s", cfg.Service.HTTPPort)
	}

	if cfg.Engine.Provider != "mock" {
		t.Errorf("expected default engine provider 'mock', got %s", cfg.Engine.Provider)
	}
	if cfg.Engine.Model != "gpt-4o-realtime-preview" {
		t.Errorf("expected default model 'gpt-4o-realtime-preview', got %s", cfg.Engine.Model)
	}
	if cfg.Engine.InputSampleRateHz != 24000 {
		t.Errorf("expected default input sample rate 24000, got %d", cfg.Engine.InputSampleRateHz)
	}
	if cfg.Engine.TurnThreshold != 0.5 {
		t.Errorf("expected default turn threshold 0.5, got %f", cfg.Engine.TurnThreshold)
	}
	if cfg.Engine.ConnectTimeout != 10*time.Second {
		t.Errorf("expected default connect timeout 10s, got %v", cfg.Engine.ConnectTimeout)
	}

	if cfg.Store.DynamoTable != "" {
		t.Errorf("expected empty dynamo table by default, got %s", cfg.Store.DynamoTable)
	}
	if cfg.Store.RetryAttempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", cfg.Store.RetryAttempts)
	}
	if cfg.Store.RetryBackoff != 250*time.Millisecond {
		t.Errorf("expected default retry backoff 250ms, got %v", cfg.Store.RetryBackoff)
	}

	if cfg.Save.DebounceWindow != 2*time.Second {
		t.Errorf("expected default debounce window 2s, got %v", cfg.Save.DebounceWindow)
	}
	if cfg.Save.AutosaveInterval != 15*time.Second {
		t.Errorf("expected default autosave interval 15s, got %v", cfg.Save.AutosaveInterval)
	}
	if cfg.Save.EvictionGrace != 60*time.Second {
		t.Errorf("expected default eviction grace 60s, got %v", cfg.Save.EvictionGrace)
	}

	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("ENGINE_PROVIDER", "realtime")
	os.Setenv("ENGINE_TURN_THRESHOLD", "0.8")
	os.Setenv("ENGINE_SILENCE_DURATION_MS", "800")
	os.Setenv("STORE_DYNAMO_TABLE", "transcripts")
	os.Setenv("STORE_RETRY_ATTEMPTS", "5")
	os.Setenv("SAVE_DEBOUNCE_WINDOW", "5s")
	os.Setenv("KAFKA_ENABLED", "true")
	os.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	defer clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Engine.Provider != "realtime" {
		t.Errorf("expected engine provider 'realtime', got %s", cfg.Engine.Provider)
	}
	if cfg.Engine.TurnThreshold != 0.8 {
		t.Errorf("expected turn threshold 0.8, got %f", cfg.Engine.TurnThreshold)
	}
	if cfg.Engine.SilenceDurationMs != 800 {
		t.Errorf("expected silence duration 800, got %d", cfg.Engine.SilenceDurationMs)
	}
	if cfg.Store.DynamoTable != "transcripts" {
		t.Errorf("expected dynamo table 'transcripts', got %s", cfg.Store.DynamoTable)
	}
	if cfg.Store.RetryAttempts != 5 {
		t.Errorf("expected retry attempts 5, got %d", cfg.Store.RetryAttempts)
	}
	if cfg.Save.DebounceWindow != 5*time.Second {
		t.Errorf("expected debounce window 5s, got %v", cfg.Save.DebounceWindow)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "broker-1:9092" || cfg.Kafka.Brokers[1] != "broker-2:9092" {
		t.Errorf("expected two trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Principal != "custom-principal" {
		t.Errorf("expected kafka principal to follow service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv()
	os.Setenv("ENGINE_TURN_THRESHOLD", "not-a-float")
	os.Setenv("STORE_RETRY_ATTEMPTS", "many")
	os.Setenv("SAVE_DEBOUNCE_WINDOW", "soon")
	os.Setenv("KAFKA_ENABLED", "yep")
	defer clearEnv()

	cfg := Load()

	if cfg.Engine.TurnThreshold != 0.5 {
		t.Errorf("expected fallback threshold 0.5, got %f", cfg.Engine.TurnThreshold)
	}
	if cfg.Store.RetryAttempts != 3 {
		t.Errorf("expected fallback retry attempts 3, got %d", cfg.Store.RetryAttempts)
	}
	if cfg.Save.DebounceWindow != 2*time.Second {
		t.Errorf("expected fallback debounce window 2s, got %v", cfg.Save.DebounceWindow)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected fallback Kafka disabled on unparseable bool")
	}
}
