package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ai-voice-relay-service/internal/app"
	"ai-voice-relay-service/internal/config"
	"ai-voice-relay-service/internal/events"
	httpapi "ai-voice-relay-service/internal/http"
	"ai-voice-relay-service/internal/observability"
	"ai-voice-relay-service/internal/registry"
	"ai-voice-relay-service/internal/relay"
	"ai-voice-relay-service/internal/service/bridge"
	"ai-voice-relay-service/internal/service/engine"
	"ai-voice-relay-service/internal/service/engine/mock"
	"ai-voice-relay-service/internal/service/engine/realtime"
	"ai-voice-relay-service/internal/store"
	"ai-voice-relay-service/internal/store/dynamo"
	filestore "ai-voice-relay-service/internal/store/file"
)

func main() {
	cfg := config.Load()

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}
	defer application.Shutdown()

	metricsServer := observability.NewServer(":" + cfg.Observability.MetricsPort)
	metricsServer.Start()

	// Kafka publisher with separate topics for message and saved events
	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicMessage: cfg.Kafka.TopicMessage,
		TopicSaved:   cfg.Kafka.TopicSaved,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	transcripts := buildStore(cfg)

	reg := registry.New(registry.SavePolicy{DebounceWindow: cfg.Save.DebounceWindow})

	bridgeCfg := bridge.Config{
		Engine: engine.SessionConfig{
			Model:              cfg.Engine.Model,
			Voice:              cfg.Engine.Voice,
			Instructions:       cfg.Engine.Instructions,
			InputAudioFormat:   "pcm16",
			OutputAudioFormat:  "pcm16",
			TranscriptionModel: "whisper-1",
			TurnThreshold:      cfg.Engine.TurnThreshold,
			SilenceDurationMs:  cfg.Engine.SilenceDurationMs,
		},
		OpeningPrompt:    cfg.Engine.OpeningPrompt,
		AutosaveInterval: cfg.Save.AutosaveInterval,
		EvictionGrace:    cfg.Save.EvictionGrace,
	}

	relayHandler := relay.NewHandler(transcripts, reg, publisher, engineFactory(cfg), bridgeCfg)
	router := httpapi.NewRouter(relayHandler)

	server := &http.Server{
		Addr:    ":" + cfg.Service.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("Voice relay service started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down voice relay service")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Metrics shutdown error")
	}
}

// buildStore assembles the transcript store chain: DynamoDB primary when a
// table is configured, local file fallback always.
func buildStore(cfg *config.Configuration) store.Store {
	fallback, err := filestore.New(cfg.Store.FallbackDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Store.FallbackDir).Msg("Failed to create file fallback store")
	}

	var primary store.Store
	if cfg.Store.DynamoTable != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d, err := dynamo.Connect(ctx, cfg.Store.DynamoRegion, cfg.Store.DynamoTable)
		if err != nil {
			// Degrade to the file store rather than refuse to start.
			log.Warn().Err(err).Msg("DynamoDB unavailable, using file store only")
		} else {
			primary = d
			log.Info().Str("table", cfg.Store.DynamoTable).Msg("DynamoDB transcript store connected")
		}
	}

	return store.NewResilient(primary, fallback, cfg.Store.RetryAttempts, cfg.Store.RetryBackoff)
}

func engineFactory(cfg *config.Configuration) relay.AdapterFactory {
	switch cfg.Engine.Provider {
	case "realtime":
		return func() engine.Adapter {
			return realtime.New(realtime.Config{
				URL:            cfg.Engine.URL,
				APIKey:         cfg.Engine.APIKey,
				Model:          cfg.Engine.Model,
				ConnectTimeout: cfg.Engine.ConnectTimeout,
			})
		}
	default:
		return func() engine.Adapter { return mock.New() }
	}
}
