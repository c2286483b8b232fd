package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parley-labs/parley/internal/brain"
	"github.com/parley-labs/parley/internal/config"
	"github.com/parley-labs/parley/internal/httpapi"
	"github.com/parley-labs/parley/internal/observability"
	"github.com/parley-labs/parley/internal/session"
	"github.com/parley-labs/parley/internal/turnlog"
	"github.com/parley-labs/parley/internal/vad"
	"github.com/parley-labs/parley/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	turns, err := turnlog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("turn log init failed: %v", err)
	}
	defer turns.Close()

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
	})
	if err != nil {
		log.Fatalf("brain adapter init failed: %v", err)
	}

	engine, err := voice.NewEngine(cfg.EngineProvider, voice.ElevenLabsConfig{
		APIKey:       cfg.ElevenLabsAPIKey,
		BaseURL:      cfg.ElevenLabsBaseURL,
		STTModelID:   cfg.ElevenLabsSTTModel,
		TTSModelID:   cfg.ElevenLabsTTSModel,
		OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		SampleRate:   cfg.SampleRate,
	})
	if err != nil {
		log.Fatalf("speech engine init failed: %v", err)
	}
	if _, ok := engine.(*voice.MockEngine); ok && !strings.EqualFold(cfg.EngineProvider, "mock") {
		logger.Warn("no speech provider configured, using the mock engine")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		logger.Info("session expired", "session_id", s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	orchestrator := voice.NewOrchestrator(
		sessions,
		adapter,
		engine,
		turns,
		metrics,
		logger,
		voice.Settings{
			SampleRate: cfg.SampleRate,
			VADPolicy: vad.Policy{
				Threshold:           cfg.VADThreshold,
				DebounceWindows:     cfg.VADDebounceWindows,
				WindowSamples:       cfg.VADWindowSamples,
				InterruptConfidence: cfg.InterruptConfidence,
				InterruptCooldown:   cfg.InterruptCooldown,
			},
			SilenceTimeout:   cfg.SilenceTimeout,
			MaxUtterance:     cfg.MaxUtterance,
			WatchdogDeadline: cfg.WatchdogDeadline,
			SentenceMaxLen:   cfg.SentenceMaxLen,
			TTSConcurrency:   cfg.TTSConcurrency,
			FirstAudioSLO:    cfg.FirstAudioSLO,
			DefaultVoice:     cfg.ElevenLabsTTSVoice,
		},
	)

	api := httpapi.New(cfg, sessions, orchestrator, turns, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
