package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/flood-risk-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/couchcryptid/flood-risk-service/internal/prediction"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

func main() {
	// A missing .env is fine; the environment is authoritative.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	region, err := config.LoadRegion(cfg.RegionFile)
	if err != nil {
		logger.Error("failed to load region", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open model store", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer db.Close()

	svc := prediction.NewService(region, cfg.PredictionCacheSize, metrics, logger)
	refresher := prediction.NewRefresher(db, svc, cfg.ModelRefreshInterval, logger)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	p := pipeline.New(reader, pipeline.NewTransformer(svc, logger), writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, logger, svc, db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := refresher.Run(ctx); err != nil {
			logger.Error("model refresher error", "error", err)
		}
	}()

	// Requests are only consumed once a published model set is loaded, so
	// nothing is committed while every prediction would fail.
	go func() {
		if !waitForModels(ctx, svc, logger) {
			return
		}
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

func waitForModels(ctx context.Context, svc *prediction.Service, logger *slog.Logger) bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	logged := false
	for {
		if err := svc.CheckReadiness(ctx); err == nil {
			logger.Info("models loaded, starting pipeline", "model_version", svc.Version())
			return true
		} else if !logged {
			logger.Warn("waiting for a published model set", "error", err)
			logged = true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
