package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kestrel/internal/config"
	"kestrel/internal/domain"
	"kestrel/internal/feed"
	"kestrel/internal/store"
	"kestrel/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/kestrel.yaml", "path to config file")
	startStr := flag.String("start", "", "start date (YYYY-MM-DD)")
	endStr := flag.String("end", "", "end date (YYYY-MM-DD), defaults to the latest finished trading day")
	interval := flag.String("interval", "1d", "candle interval (1m, 5m, 1h, 1d)")
	symbols := flag.String("symbols", "", "comma-separated symbols, overrides config")
	ratePerMin := flag.Int("rate", 200, "max API requests per minute")
	burst := flag.Int("burst", 5, "requests allowed back to back after idling")
	batchSize := flag.Int("batch", 100, "symbols per API request")
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

	var end time.Time
	if *endStr != "" {
		end, err = time.Parse("2006-01-02", *endStr)
		if err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
		end = end.AddDate(0, 0, 1)
	} else {
		end, err = feed.LatestFinishedTradingDay(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		if err != nil {
			log.Fatalf("failed to determine end date: %v", err)
		}
		end = end.AddDate(0, 0, 1)
	}

	targets := cfg.Engine.Symbols
	if *symbols != "" {
		targets = strings.Split(*symbols, ",")
	}
	if len(targets) == 0 {
		log.Fatal("no symbols configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	candleStore := store.NewParquetStore(cfg.Storage.DataDir)
	fetcher := feed.NewFetcher(
		cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed,
		candleStore, *ratePerMin, *burst, logger,
	)

	logger.Info("fetching candles",
		"symbols", len(targets),
		"interval", *interval,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
	)

	total := 0
	for i := 0; i < len(targets); i += *batchSize {
		j := i + *batchSize
		if j > len(targets) {
			j = len(targets)
		}
		n, err := fetcher.Fetch(ctx, targets[i:j], domain.Interval(*interval), start, end)
		if err != nil {
			log.Fatalf("fetch failed for batch %d-%d: %v", i, j, err)
		}
		total += n
	}

	logger.Info("fetch complete", "candles", total)
}
