package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deepfake-guard/audit"
	"deepfake-guard/config"
	"deepfake-guard/controllers"
	"deepfake-guard/eventhandlers"
	"deepfake-guard/logging"
	"deepfake-guard/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	store, err := openStore(context.Background(), cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Unable to open audit store")
	}
	if err := store.Init(context.Background()); err != nil {
		logging.Fatal().Err(err).Msg("Failed to create detection_logs table")
	}

	auditLog := audit.NewLogger(store, audit.Config{
		BufferSize:     cfg.AuditBufferSize,
		EnqueueTimeout: cfg.AuditEnqueueTimeout,
	})

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := services.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	limiter.StartCleanup(rootCtx, time.Minute)

	prober := services.NewFFProbe(cfg.FFProbePath, cfg.ProbeTimeout)
	aiClient := services.NewAIServiceClient(cfg.ModelAPIURL, cfg.ModelAPIKey, cfg.ModelTimeout)

	var (
		alerts    services.AlertNotifier
		publisher *eventhandlers.AlertPublisher
	)
	if cfg.KafkaBroker != "" {
		publisher = eventhandlers.NewAlertPublisher(strings.Split(cfg.KafkaBroker, ","), cfg.KafkaAlertTopic)
		alerts = publisher
		logging.Info().Str("broker", cfg.KafkaBroker).Str("topic", cfg.KafkaAlertTopic).Msg("Publishing flag alerts to Kafka")
	}

	analysisService := services.NewAnalysisService(services.AnalysisOptions{
		WrapperAPIKey: cfg.WrapperAPIKey,
		MaxFileSize:   cfg.MaxFileSize,
		FlagThreshold: cfg.FlagThreshold,
		TempDir:       cfg.TempDir,
	}, limiter, prober, aiClient, auditLog, alerts)

	analysisController := controllers.NewAnalysisController(analysisService)
	reportController := controllers.NewReportController(store, cfg.WrapperAPIKey)

	app := controllers.NewApp(cfg.MaxFileSize)
	controllers.RegisterRoutes(app, analysisController, reportController)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logging.Info().Msg("Shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logging.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	logging.Info().Str("port", cfg.Port).Str("model_api_url", cfg.ModelAPIURL).Msg("Defense API listening")
	if err := app.Listen(":" + cfg.Port); err != nil {
		logging.Error().Err(err).Msg("HTTP server stopped")
	}

	cancel()
	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := auditLog.Close(ctx); err != nil {
		logging.Error().Err(err).Int("pending", auditLog.Pending()).Msg("Audit queue not fully drained")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close Kafka writer")
		}
	}
	if err := store.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close audit store")
	}
}

// openStore prefers Postgres when DATABASE_URL is set and falls back to the
// SQLite file at DB_PATH.
func openStore(ctx context.Context, cfg *config.Config) (audit.Store, error) {
	if cfg.DatabaseURL != "" {
		store, err := audit.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logging.Info().Msg("Connected to PostgreSQL")
		return store, nil
	}
	store, err := audit.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("path", cfg.DBPath).Msg("Opened SQLite audit log")
	return store, nil
}
