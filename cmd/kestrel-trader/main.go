package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"kestrel/internal/broker"
	"kestrel/internal/config"
	"kestrel/internal/engine"
	"kestrel/internal/feed"
	"kestrel/internal/httpapi"
	"kestrel/internal/portfolio"
	"kestrel/internal/store"
	"kestrel/internal/strategy"
	"kestrel/internal/strategy/builtins"
	"kestrel/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/kestrel.yaml", "path to config file")
	flag.Parse()

	if p := os.Getenv("KESTREL_CONFIG"); p != "" && !flagPassed("config") {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Engine.Mode == "backtest" {
		log.Fatal("use kestrel-backtest for backtest mode")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer db.Close()

	candleFeed := feed.NewAlpacaFeed(
		cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.Feed,
		cfg.Engine.Symbols, cfg.Engine.Interval, logger,
	)

	var brk broker.Broker
	switch cfg.Engine.Mode {
	case "live":
		alpacaBroker := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, logger)
		alpacaBroker.StartTradeUpdates(ctx)
		brk = alpacaBroker
	default: // paper
		brk = broker.NewSimBroker(cfg.Engine.FillPolicy, cfg.Engine.FeeBps, logger)
	}

	tracker := portfolio.NewTracker(cfg.Engine.InitialCash)

	hub := httpapi.NewHub(logger)
	go hub.Run(ctx)

	recorder := engine.NewRecorder(db, db, db, db, logger)
	recorder.AddSink(hub)

	risk := engine.NewRiskManager(0, cfg.Engine.MaxNotional)
	router := engine.NewRouter(brk, tracker, risk, recorder, cfg.Engine.PositionPct, logger)

	registry := strategy.NewRegistry()
	builtins.Register(registry)

	eng, err := engine.New(cfg.Engine, candleFeed, brk, tracker, router, recorder, registry, logger)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	apiServer := httpapi.NewServer(cfg.Server.Addr(), eng, db, db, db, hub, logger)
	go func() {
		if err := apiServer.ListenAndServe(ctx); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		eng.Stop()
	}()

	logger.Info("trader starting",
		"mode", cfg.Engine.Mode,
		"symbols", cfg.Engine.Symbols,
		"interval", cfg.Engine.Interval,
		"broker", brk.Name(),
	)

	if err := eng.Run(ctx); err != nil {
		logger.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("trader stopped")
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}
