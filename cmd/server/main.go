package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocallabs/translate-gateway/internal/config"
	"github.com/vocallabs/translate-gateway/internal/fanout"
	"github.com/vocallabs/translate-gateway/internal/gateway"
	"github.com/vocallabs/translate-gateway/internal/glossary"
	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/session"
	"github.com/vocallabs/translate-gateway/internal/stt"
	"github.com/vocallabs/translate-gateway/internal/translate"
	"github.com/vocallabs/translate-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Int("sample_rate", cfg.SampleRate).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Translate Gateway Service starting")

	// Load the do-not-translate glossary, if configured
	gloss := glossary.Empty()
	if cfg.GlossaryPath != "" {
		gloss, err = glossary.Load(cfg.GlossaryPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.GlossaryPath).Msg("Failed to load glossary")
		}
		logger.Info().Int("terms", gloss.Len()).Str("path", cfg.GlossaryPath).Msg("Glossary loaded")
	}

	// Engine clients, shared across all sessions
	translator := translate.NewAzureClient(cfg)
	synthesizer, err := tts.NewAzureClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create speech synthesis client")
	}
	recognizerFactory := stt.NewFactory(cfg)

	// Core pipeline wiring: manager feeds pipelines, pipelines publish to
	// the fan-out dispatcher, the dispatcher delivers to egress listeners.
	dispatcher := fanout.NewDispatcher()
	manager := session.NewManager(cfg, translator, synthesizer, gloss, dispatcher)

	// Create HTTP server
	mux := http.NewServeMux()

	// Speaker-facing ingest WebSocket
	mux.HandleFunc("/ingest", gateway.HandleIngest(manager, recognizerFactory, gloss.Terms()))

	// Listener-facing egress WebSocket
	mux.HandleFunc("/out/{session_id}/{target}", gateway.HandleEgress(manager, dispatcher, cfg))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint probes the translation engine; the recognizer and
	// synthesizer are validated by configuration alone to avoid metered
	// calls on every probe.
	checks := map[string]observability.HealthCheckFunc{
		"translator": translator.Ping,
		"recognizer": func(ctx context.Context) (bool, error) {
			if cfg.DeepgramAPIKey == "" {
				return false, fmt.Errorf("recognizer API key not configured")
			}
			return true, nil
		},
		"synthesizer": func(ctx context.Context) (bool, error) {
			if cfg.SpeechKey == "" || cfg.SpeechRegion == "" {
				return false, fmt.Errorf("speech synthesis not configured")
			}
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. Read/write timeouts are left off
	// because ingest and egress connections are long-lived WebSockets.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("ingest", fmt.Sprintf("ws://localhost:%s/ingest", cfg.Port)).
			Str("egress", fmt.Sprintf("ws://localhost:%s/out/{session_id}/{target}", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Flush live sessions first so buffered segments still reach listeners
	manager.Shutdown()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
