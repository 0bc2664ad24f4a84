package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"candle_tracker/internal/app/di"
	"candle_tracker/internal/feature/candles/adapters"
	"candle_tracker/internal/feature/candles/usecase"
	symboladapters "candle_tracker/internal/feature/symbollist/adapters"
	symbolusecase "candle_tracker/internal/feature/symbollist/usecase"
	"candle_tracker/internal/platform/config"
	infradb "candle_tracker/internal/platform/db"
	"candle_tracker/internal/platform/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}

	db, err := infradb.Open(cfg.Database)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	marketRepo, err := di.NewMarket(cfg.Feed, log)
	if err != nil {
		log.Error("failed to create market feed", "error", err)
		os.Exit(1)
	}
	candleRepo := adapters.NewCandleRepository(db)
	uc := usecase.NewIngestUsecase(usecase.NewBackfiller(candleRepo, marketRepo, nil, log), log)

	tfs, err := config.ParseTimeFrames(cfg.Ingest.TimeFrames)
	if err != nil {
		log.Error("invalid ingest timeframes", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Ingest.Timeout)
	defer cancel()

	// 設定に銘柄がなければ登録済みの有効な銘柄を使う
	symbolUC := symbolusecase.NewSymbolUsecase(symboladapters.NewSymbolRepository(db))
	symbols, err := symbolUC.IngestCodes(ctx, cfg.Ingest.Symbols)
	if err != nil {
		log.Error("failed to load symbols", "error", err)
		os.Exit(1)
	}

	res, err := uc.IngestAll(ctx, symbols, tfs, cfg.Ingest.Bars)
	if err != nil {
		log.Error("ingest aborted", "error", err, "succeeded", res.Succeeded, "failed", res.Failed)
		os.Exit(1)
	}
	log.Info("ingest ok", "succeeded", res.Succeeded, "failed", res.Failed, "candles", res.Candles)
}
