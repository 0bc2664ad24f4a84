package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	redisv9 "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"candle_tracker/internal/app/di"
	"candle_tracker/internal/app/router"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/transport/handler"
	"candle_tracker/internal/feature/candles/usecase"
	symboladapters "candle_tracker/internal/feature/symbollist/adapters"
	symbolhandler "candle_tracker/internal/feature/symbollist/transport/handler"
	symbolusecase "candle_tracker/internal/feature/symbollist/usecase"
	"candle_tracker/internal/platform/config"
	infradb "candle_tracker/internal/platform/db"
	healthhandler "candle_tracker/internal/platform/http/handler"
	"candle_tracker/internal/platform/logger"
	"candle_tracker/internal/platform/metrics"
	infraredis "candle_tracker/internal/platform/redis"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	log.Info("config loaded", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// db
	db, err := infradb.Open(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Redis
	var rdb *redisv9.Client
	if cfg.Redis.Enabled {
		if tmp, err := infraredis.NewRedisClient(ctx, cfg.Redis); err != nil {
			log.Warn("Redis unavailable. Running without cache.", "error", err)
		} else {
			rdb = tmp
			defer func() {
				if err := rdb.Close(); err != nil {
					log.Error("failed to close Redis client", "error", err)
				}
			}()
		}
	}

	// Repository (Redisがあればキャッシュでラップ)
	candleRepo := di.NewCandleRepository(rdb, db, cfg.Cache)

	// Feed
	market, err := di.NewMarket(cfg.Feed, log)
	if err != nil {
		return err
	}

	intervals, err := cfg.Tracking.Intervals()
	if err != nil {
		return err
	}
	subOpts := []usecase.ManagerOption{
		usecase.WithFailureHandler(func(key usecase.SubscriptionKey, err error) {
			log.Warn("tracking stopped", "symbol", key.Symbol, "timeframe", key.TimeFrame, "error", err)
		}),
	}
	for tf, d := range intervals {
		subOpts = append(subOpts, usecase.WithUpdateInterval(tf, d))
	}

	ucOpts := []usecase.Option{
		usecase.WithLogger(log),
		usecase.WithMaxBars(cfg.Tracking.MaxBars),
		usecase.WithSubscriptionOptions(subOpts...),
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New(nil)
		ucOpts = append(ucOpts, usecase.WithMetrics(rec))
	}

	producer, err := di.NewPublisher(cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		defer func() {
			if err := producer.Close(); err != nil {
				log.Error("failed to close Kafka producer", "error", err)
			}
		}()
		ucOpts = append(ucOpts, usecase.WithPublisher(producer))
	}

	// Usecase
	trackingUC := usecase.NewTrackingUsecase(candleRepo, market, ucOpts...)

	for _, s := range cfg.Tracking.Autostart {
		tf, err := timeframe.Parse(s.TimeFrame)
		if err != nil {
			return err
		}
		if err := trackingUC.StartTracking(s.Symbol, tf); err != nil {
			return fmt.Errorf("autostart %s/%s: %w", s.Symbol, s.TimeFrame, err)
		}
	}

	// Handler
	candlesH := handler.NewCandlesHandler(trackingUC)
	trackingH := handler.NewTrackingHandler(trackingUC)
	symbolH := symbolhandler.NewSymbolHandler(symbolusecase.NewSymbolUsecase(symboladapters.NewSymbolRepository(db)))

	// ルータ生成
	r := router.NewRouter(candlesH, trackingH, symbolH, healthChecks(db, rdb), rec, cfg.Metrics.Path)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	if err := trackingUC.Shutdown(shutdownCtx); err != nil {
		log.Error("tracking shutdown error", "error", err)
	}
	log.Info("shutdown complete")
	return nil
}

// healthChecks は /healthz で確認する依存先を返します。
func healthChecks(db *gorm.DB, rdb *redisv9.Client) map[string]healthhandler.Check {
	checks := map[string]healthhandler.Check{
		"database": func(ctx context.Context) error { return infradb.Ping(ctx, db) },
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}
