// Package builtins provides the strategy implementations that ship with
// kestrel and registers them with a strategy Registry.
package builtins

import (
	"context"
	"math"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/strategy"
)

// Register adds all built-in strategy factories to the registry.
func Register(r *strategy.Registry) {
	r.Register("sma-cross", NewSMACross)
	r.Register("momentum", NewMomentum)
}

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It emits a
// buy signal when the short-period SMA crosses above the long-period SMA, and
// a sell signal when it crosses below. All other candles produce HOLD.
type SMACross struct {
	symbol      string
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates an SMACross instance for one symbol. Parameters:
// "short" (default 20) and "long" (default 50) moving average periods.
func NewSMACross(symbol string, params strategy.Params) (strategy.Strategy, error) {
	short := int(params.Get("short", 20))
	long := int(params.Get("long", 50))
	if short <= 0 || long <= 0 || short >= long {
		return nil, domain.Validationf("sma-cross requires 0 < short < long, got short=%d long=%d", short, long)
	}
	return &SMACross{symbol: symbol, shortPeriod: short, longPeriod: long}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init performs no setup; the strategy derives all state from history.
func (s *SMACross) Init(_ context.Context) error {
	return nil
}

// OnCandle checks for a moving-average crossover on the newest candle.
func (s *SMACross) OnCandle(_ context.Context, history []domain.Candle) (domain.Signal, error) {
	// A crossover needs the current and previous values of both averages.
	if len(history) < s.longPeriod+1 {
		return domain.Hold(s.symbol), nil
	}

	short := smaClose(history, s.shortPeriod)
	long := smaClose(history, s.longPeriod)
	prev := history[:len(history)-1]
	prevShort := smaClose(prev, s.shortPeriod)
	prevLong := smaClose(prev, s.longPeriod)

	latest := history[len(history)-1]
	sig := domain.Signal{
		Symbol:      s.symbol,
		Action:      domain.ActionHold,
		Strategy:    s.Name(),
		CandleStart: latest.Start,
		GeneratedAt: time.Now().UTC(),
	}

	switch {
	case prevShort <= prevLong && short > long:
		sig.Action = domain.ActionBuy
	case prevShort >= prevLong && short < long:
		sig.Action = domain.ActionSell
	default:
		return sig, nil
	}

	if long != 0 {
		sig.Strength = math.Min(1, math.Abs(short-long)/math.Abs(long))
	}
	return sig, nil
}

// smaClose averages the closing prices of the last n candles.
func smaClose(history []domain.Candle, n int) float64 {
	var sum float64
	for _, c := range history[len(history)-n:] {
		sum += c.Close
	}
	return sum / float64(n)
}
