package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kestrel/internal/backtest"
	"kestrel/internal/config"
	"kestrel/internal/store"
	"kestrel/internal/strategy"
	"kestrel/internal/strategy/builtins"
	"kestrel/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/kestrel.yaml", "path to config file")
	startStr := flag.String("start", "", "backtest start date (YYYY-MM-DD)")
	endStr := flag.String("end", "", "backtest end date (YYYY-MM-DD), defaults to today")
	symbols := flag.String("symbols", "", "comma-separated symbols, overrides config")
	flag.Parse()

	if p := os.Getenv("KESTREL_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if *startStr == "" {
		log.Fatal("-start is required")
	}
	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end := time.Now().UTC()
	if *endStr != "" {
		end, err = time.Parse("2006-01-02", *endStr)
		if err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
		end = end.AddDate(0, 0, 1) // include the end date's candles
	}
	if *symbols != "" {
		cfg.Engine.Symbols = strings.Split(*symbols, ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := strategy.NewRegistry()
	builtins.Register(registry)

	candleStore := store.NewParquetStore(cfg.Storage.DataDir)
	bt := backtest.New(candleStore, registry, logger)

	result, err := bt.Run(ctx, cfg.Engine, start, end)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	fmt.Print(backtest.FormatReport(result))
}
