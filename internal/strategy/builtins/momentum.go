package builtins

import (
	"context"
	"math"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Momentum)(nil)

// Momentum implements a rate-of-change strategy: it buys when the close has
// risen more than a threshold over the lookback window and sells when it has
// fallen more than the threshold.
type Momentum struct {
	symbol    string
	lookback  int
	threshold float64 // fractional move, e.g. 0.02 for 2%
}

// NewMomentum creates a Momentum instance for one symbol. Parameters:
// "lookback" (default 10 candles) and "threshold" (default 0.02).
func NewMomentum(symbol string, params strategy.Params) (strategy.Strategy, error) {
	lookback := int(params.Get("lookback", 10))
	threshold := params.Get("threshold", 0.02)
	if lookback <= 0 {
		return nil, domain.Validationf("momentum requires lookback > 0, got %d", lookback)
	}
	if threshold <= 0 {
		return nil, domain.Validationf("momentum requires threshold > 0, got %v", threshold)
	}
	return &Momentum{symbol: symbol, lookback: lookback, threshold: threshold}, nil
}

// Name returns "momentum".
func (m *Momentum) Name() string {
	return "momentum"
}

// Init performs no setup.
func (m *Momentum) Init(_ context.Context) error {
	return nil
}

// OnCandle compares the newest close against the close lookback candles ago.
func (m *Momentum) OnCandle(_ context.Context, history []domain.Candle) (domain.Signal, error) {
	if len(history) < m.lookback+1 {
		return domain.Hold(m.symbol), nil
	}

	latest := history[len(history)-1]
	ref := history[len(history)-1-m.lookback]
	if ref.Close == 0 {
		return domain.Hold(m.symbol), nil
	}
	change := (latest.Close - ref.Close) / ref.Close

	sig := domain.Signal{
		Symbol:      m.symbol,
		Action:      domain.ActionHold,
		Strategy:    m.Name(),
		CandleStart: latest.Start,
		GeneratedAt: time.Now().UTC(),
	}

	switch {
	case change >= m.threshold:
		sig.Action = domain.ActionBuy
	case change <= -m.threshold:
		sig.Action = domain.ActionSell
	default:
		return sig, nil
	}

	sig.Strength = math.Min(1, math.Abs(change)/m.threshold-1)
	return sig, nil
}
