package backtest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/config"
	"kestrel/internal/domain"
	"kestrel/internal/store"
	"kestrel/internal/strategy"
	"kestrel/internal/strategy/builtins"
	"kestrel/internal/util"
)

func writeRiseFall(t *testing.T, s store.CandleStore, symbol string) (time.Time, time.Time) {
	t.Helper()
	base := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	price := 100.0
	var candles []domain.Candle
	step := func(delta float64) {
		price += delta
		start := base.Add(time.Duration(len(candles)) * time.Minute)
		candles = append(candles, domain.Candle{
			Symbol:   symbol,
			Interval: domain.Interval1m,
			Start:    start,
			End:      start.Add(time.Minute),
			Open:     price,
			High:     price + 0.5,
			Low:      price - 0.5,
			Close:    price,
			Volume:   100,
		})
	}
	for i := 0; i < 20; i++ {
		step(0)
	}
	for i := 0; i < 15; i++ {
		step(2)
	}
	for i := 0; i < 15; i++ {
		step(-2)
	}
	require.NoError(t, s.WriteCandles(context.Background(), candles))
	return base.Add(-time.Hour), base.Add(2 * time.Hour)
}

func backtestConfig(symbol string) config.EngineConfig {
	return config.EngineConfig{
		Mode:        "backtest",
		Symbols:     []string{symbol},
		Interval:    domain.Interval1m,
		HistorySize: 200,
		FillPolicy:  config.FillAtClose,
		FeeBps:      10,
		InitialCash: 100_000,
		PositionPct: 0.10,
		SnapshotSec: 60,
		Strategies: []config.StrategyConfig{
			{Name: "sma-cross", Params: map[string]float64{"short": 5, "long": 10}},
		},
	}
}

func newBacktester(t *testing.T, s store.CandleStore) *Backtester {
	t.Helper()
	registry := strategy.NewRegistry()
	builtins.Register(registry)
	return New(s, registry, util.NewLogger("error", "text"))
}

func TestBacktestRoundTrip(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	start, end := writeRiseFall(t, ps, "BTCUSD")

	bt := newBacktester(t, ps)
	result, err := bt.Run(context.Background(), backtestConfig("BTCUSD"), start, end)
	require.NoError(t, err)

	require.Equal(t, 2, result.TotalTrades, "one buy, one sell")
	assert.Equal(t, domain.SideBuy, result.Trades[0].Side)
	assert.Equal(t, domain.SideSell, result.Trades[1].Side)

	wantPnL := (result.Trades[1].Price-result.Trades[0].Price)*result.Trades[0].Qty -
		result.Trades[0].Fee - result.Trades[1].Fee
	assert.InDelta(t, wantPnL, result.RealizedPnL, 1e-6)

	assert.Zero(t, result.Final.Positions["BTCUSD"].Qty, "flat at the end")
	assert.InDelta(t, result.RealizedPnL/100_000, result.TotalReturn, 1e-9)
	assert.Equal(t, 1.0, result.WinRate, "the round trip was profitable")
	assert.Greater(t, result.MaxDrawdown, 0.0, "the fall leg draws equity down")
}

func TestBacktestDeterministic(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	start, end := writeRiseFall(t, ps, "BTCUSD")

	run := func() *Result {
		bt := newBacktester(t, ps)
		result, err := bt.Run(context.Background(), backtestConfig("BTCUSD"), start, end)
		require.NoError(t, err)
		return result
	}

	first, second := run(), run()
	require.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		assert.Equal(t, first.Trades[i].Symbol, second.Trades[i].Symbol)
		assert.Equal(t, first.Trades[i].Side, second.Trades[i].Side)
		assert.Equal(t, first.Trades[i].Qty, second.Trades[i].Qty)
		assert.Equal(t, first.Trades[i].Price, second.Trades[i].Price)
		assert.Equal(t, first.Trades[i].Timestamp, second.Trades[i].Timestamp)
	}
	assert.Equal(t, first.RealizedPnL, second.RealizedPnL)
	assert.Equal(t, first.Final.Equity, second.Final.Equity)
}

func TestBacktestShortSeriesProducesNoTrades(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	base := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	mk := func(start time.Time, close float64) domain.Candle {
		return domain.Candle{
			Symbol: "BTCUSD", Interval: domain.Interval1m,
			Start: start, End: start.Add(time.Minute),
			Open: close, High: close, Low: close, Close: close, Volume: 1,
		}
	}
	require.NoError(t, ps.WriteCandles(context.Background(), []domain.Candle{
		mk(base, 100), mk(base.Add(time.Minute), 101),
	}))

	// Two candles are below the crossover warmup, so the run completes flat.
	bt := newBacktester(t, ps)
	result, err := bt.Run(context.Background(), backtestConfig("BTCUSD"), base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.TotalTrades)
}

func TestFormatReport(t *testing.T) {
	r := &Result{
		TotalTrades: 2,
		TotalReturn: 0.0123,
		MaxDrawdown: 0.05,
		WinRate:     1.0,
		RealizedPnL: 1230,
		Trades: []Trade{
			{Symbol: "BTCUSD", Side: domain.SideBuy, Qty: 10, Price: 100, Fee: 1, Timestamp: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)},
		},
	}
	r.Final.Equity = 101_230
	r.Final.Cash = 101_230

	out := FormatReport(r)
	assert.Contains(t, out, "+1.23%")
	assert.Contains(t, out, "5.00%")
	assert.Contains(t, out, "BTCUSD")
	assert.Contains(t, out, "$101.2K")
	assert.True(t, strings.HasPrefix(out, "Backtest Report"))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "1,234,567", formatInt(1234567))
	assert.Equal(t, "987", formatInt(987))
	assert.Equal(t, "$2.50M", formatMoney(2_500_000))
	assert.Equal(t, "$12.3K", formatMoney(12_345))
	assert.Equal(t, "$99.99", formatMoney(99.99))
	assert.Equal(t, "-2.00%", formatSignedPct(-0.02))
}
