// Package backtest runs strategies against historical candles and computes
// performance metrics over the resulting trade log.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"kestrel/internal/broker"
	"kestrel/internal/config"
	"kestrel/internal/domain"
	"kestrel/internal/engine"
	"kestrel/internal/feed"
	"kestrel/internal/portfolio"
	"kestrel/internal/store"
	"kestrel/internal/strategy"
)

// Trade is one completed fill in the backtest trade log.
type Trade struct {
	Symbol    string           `json:"symbol"`
	Side      domain.OrderSide `json:"side"`
	Qty       float64          `json:"qty"`
	Price     float64          `json:"price"`
	Fee       float64          `json:"fee"`
	Timestamp time.Time        `json:"timestamp"`
}

// Result summarizes a backtest run.
type Result struct {
	Trades      []Trade                  `json:"trades"`
	TotalTrades int                      `json:"total_trades"`
	TotalReturn float64                  `json:"total_return"` // fraction of initial cash
	MaxDrawdown float64                  `json:"max_drawdown"` // fraction, peak-to-trough equity
	WinRate     float64                  `json:"win_rate"`     // fraction of profitable round trips
	RealizedPnL float64                  `json:"realized_pnl"`
	Final       domain.PortfolioSnapshot `json:"final"`
}

// Backtester wires a historical feed, a simulated broker and a fresh engine
// for each run. Identical inputs produce an identical trade log.
type Backtester struct {
	store    store.CandleStore
	registry *strategy.Registry
	log      *slog.Logger
}

// New creates a Backtester reading candles from s.
func New(s store.CandleStore, registry *strategy.Registry, log *slog.Logger) *Backtester {
	return &Backtester{store: s, registry: registry, log: log.With("component", "backtest")}
}

// Run executes one backtest over [start, end).
func (bt *Backtester) Run(ctx context.Context, cfg config.EngineConfig, start, end time.Time) (*Result, error) {
	cfg.Mode = "backtest"

	histFeed := feed.NewHistoricalFeed(bt.store, cfg.Symbols, cfg.Interval, start, end, bt.log)
	simBroker := broker.NewSimBroker(cfg.FillPolicy, cfg.FeeBps, bt.log)
	tracker := portfolio.NewTracker(cfg.InitialCash)

	collector := &tradeCollector{}
	recorder := engine.NewRecorder(nil, nil, nil, nil, bt.log)
	recorder.AddSink(collector)

	risk := engine.NewRiskManager(0, cfg.MaxNotional)
	router := engine.NewRouter(simBroker, tracker, risk, recorder, cfg.PositionPct, bt.log)

	eng, err := engine.New(cfg, histFeed, simBroker, tracker, router, recorder, bt.registry, bt.log)
	if err != nil {
		return nil, fmt.Errorf("building engine: %w", err)
	}

	if err := eng.Run(ctx); err != nil {
		return nil, fmt.Errorf("backtest run: %w", err)
	}

	final := eng.Snapshot()
	result := &Result{
		Trades:      collector.trades,
		TotalTrades: len(collector.trades),
		RealizedPnL: tracker.RealizedPnL(),
		Final:       final,
	}
	if cfg.InitialCash > 0 {
		result.TotalReturn = (final.Equity - cfg.InitialCash) / cfg.InitialCash
	}
	result.MaxDrawdown = maxDrawdown(cfg.InitialCash, collector.equityCurve)
	result.WinRate = winRate(collector.trades)

	bt.log.Info("backtest complete",
		"trades", result.TotalTrades,
		"return", fmt.Sprintf("%.2f%%", result.TotalReturn*100),
		"max_drawdown", fmt.Sprintf("%.2f%%", result.MaxDrawdown*100),
	)
	return result, nil
}

// tradeCollector records fills and equity snapshots published by the engine.
type tradeCollector struct {
	trades      []Trade
	equityCurve []float64
}

func (c *tradeCollector) Publish(event engine.Event) {
	switch p := event.Payload.(type) {
	case domain.Fill:
		c.trades = append(c.trades, Trade{
			Symbol:    p.Symbol,
			Side:      p.Side,
			Qty:       p.Qty,
			Price:     p.Price,
			Fee:       p.Fee,
			Timestamp: p.Timestamp,
		})
	case domain.PortfolioSnapshot:
		c.equityCurve = append(c.equityCurve, p.Equity)
	}
}

// maxDrawdown computes the largest peak-to-trough equity decline as a
// fraction of the peak.
func maxDrawdown(initial float64, curve []float64) float64 {
	peak := initial
	var worst float64
	for _, equity := range curve {
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// winRate pairs buys with the following sell per symbol and reports the
// fraction of round trips closed at a profit (net of fees).
func winRate(trades []Trade) float64 {
	open := make(map[string]Trade)
	var wins, total int
	for _, tr := range trades {
		switch tr.Side {
		case domain.SideBuy:
			open[tr.Symbol] = tr
		case domain.SideSell:
			entry, ok := open[tr.Symbol]
			if !ok {
				continue
			}
			delete(open, tr.Symbol)
			total++
			pnl := (tr.Price-entry.Price)*math.Min(tr.Qty, entry.Qty) - tr.Fee - entry.Fee
			if pnl > 0 {
				wins++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}
