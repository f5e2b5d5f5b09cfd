package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	chpcadadapter "github.com/couchcryptid/cad-incident-notifier/internal/adapter/chpcad"
	httpadapter "github.com/couchcryptid/cad-incident-notifier/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/cad-incident-notifier/internal/adapter/kafka"
	sqliteadapter "github.com/couchcryptid/cad-incident-notifier/internal/adapter/sqlite"
	"github.com/couchcryptid/cad-incident-notifier/internal/adapter/telegram"
	"github.com/couchcryptid/cad-incident-notifier/internal/config"
	"github.com/couchcryptid/cad-incident-notifier/internal/observability"
	"github.com/couchcryptid/cad-incident-notifier/internal/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	source, err := chpcadadapter.NewClient(cfg.CADBaseURL, cfg.CommCenter, cfg.CADTimeout, logger)
	if err != nil {
		logger.Error("failed to create cad client", "error", err)
		os.Exit(1)
	}
	notifier := telegram.NewClient(cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramTimeout, logger)

	store, err := sqliteadapter.NewStore(cfg.StateDBPath, logger)
	if err != nil {
		logger.Error("failed to open state database", "error", err, "path", cfg.StateDBPath)
		os.Exit(1)
	}

	// Event sink is feature-flagged via KAFKA_BROKERS / KAFKA_ENABLED.
	var sink reconcile.EventSink
	var sinkWriter *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		sinkWriter = kafkaadapter.NewWriter(cfg, logger)
		sink = sinkWriter
		metrics.SinkEnabled.Set(1)
		logger.Info("kafka event sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka event sink disabled")
	}

	engine := reconcile.New(source, notifier, store, sink, logger, metrics, reconcile.Options{
		Center:            cfg.CommCenter,
		TypePattern:       cfg.TypePattern,
		PollInterval:      cfg.PollInterval,
		MissesToClose:     cfg.MissesToClose,
		MaxDetailChars:    cfg.MaxDetailChars,
		MergeRadiusMeters: cfg.MergeRadiusMeters,
		MergeWindow:       cfg.MergeWindow,
		Retention:         cfg.Retention,
		Timezone:          cfg.Timezone,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, engine, engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := engine.Run(ctx); err != nil {
			logger.Error("engine error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if sinkWriter != nil {
		if err := sinkWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("state database close error", "error", err)
	}

	logger.Info("shutdown complete")
}
