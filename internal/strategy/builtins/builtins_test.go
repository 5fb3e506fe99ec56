package builtins

import (
	"context"
	"testing"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/strategy"
)

// series builds 1m candles from closing prices, starting at a fixed time.
func series(symbol string, closes []float64) []domain.Candle {
	base := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		start := base.Add(time.Duration(i) * time.Minute)
		candles[i] = domain.Candle{
			Symbol: symbol, Interval: domain.Interval1m,
			Start: start, End: start.Add(time.Minute),
			Open: c, High: c, Low: c, Close: c, Volume: 1,
		}
	}
	return candles
}

// replay feeds growing history windows to the strategy, the way the engine
// does, and collects the non-HOLD actions.
func replay(t *testing.T, s strategy.Strategy, candles []domain.Candle) []domain.SignalAction {
	t.Helper()
	var actions []domain.SignalAction
	for i := 1; i <= len(candles); i++ {
		sig, err := s.OnCandle(context.Background(), candles[:i])
		if err != nil {
			t.Fatalf("OnCandle at %d: %v", i, err)
		}
		if sig.Action != domain.ActionHold {
			actions = append(actions, sig.Action)
		}
	}
	return actions
}

func TestSMACrossSignals(t *testing.T) {
	s, err := NewSMACross("BTCUSD", strategy.Params{"short": 3, "long": 5})
	if err != nil {
		t.Fatalf("NewSMACross: %v", err)
	}

	// Flat, then rising (upward crossover), then falling (downward crossover).
	closes := []float64{
		100, 100, 100, 100, 100, 100,
		101, 103, 105, 107, 109, 111,
		108, 105, 102, 99, 96, 93,
	}
	actions := replay(t, s, series("BTCUSD", closes))

	if len(actions) != 2 {
		t.Fatalf("actions = %v, want exactly [buy sell]", actions)
	}
	if actions[0] != domain.ActionBuy || actions[1] != domain.ActionSell {
		t.Errorf("actions = %v, want [buy sell]", actions)
	}
}

func TestSMACrossHoldDuringWarmup(t *testing.T) {
	s, err := NewSMACross("BTCUSD", strategy.Params{"short": 3, "long": 5})
	if err != nil {
		t.Fatalf("NewSMACross: %v", err)
	}

	sig, err := s.OnCandle(context.Background(), series("BTCUSD", []float64{1, 2, 3}))
	if err != nil {
		t.Fatalf("OnCandle: %v", err)
	}
	if sig.Action != domain.ActionHold {
		t.Errorf("warmup action = %v, want hold", sig.Action)
	}
}

func TestSMACrossRejectsBadPeriods(t *testing.T) {
	if _, err := NewSMACross("BTCUSD", strategy.Params{"short": 50, "long": 20}); err == nil {
		t.Error("NewSMACross should reject short >= long")
	}
	if _, err := NewSMACross("BTCUSD", strategy.Params{"short": 0, "long": 20}); err == nil {
		t.Error("NewSMACross should reject short == 0")
	}
}

func TestSMACrossDeterministic(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 100, 102, 104, 106, 104, 101, 98}

	run := func() []domain.SignalAction {
		s, err := NewSMACross("BTCUSD", strategy.Params{"short": 2, "long": 4})
		if err != nil {
			t.Fatalf("NewSMACross: %v", err)
		}
		return replay(t, s, series("BTCUSD", closes))
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("runs differ in length: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("runs diverge at %d: %v vs %v", i, first, second)
		}
	}
}

func TestMomentumSignals(t *testing.T) {
	m, err := NewMomentum("ETHUSD", strategy.Params{"lookback": 3, "threshold": 0.05})
	if err != nil {
		t.Fatalf("NewMomentum: %v", err)
	}

	// +10% over 3 candles triggers a buy; −10% triggers a sell.
	closes := []float64{100, 100, 100, 102, 106, 110, 108, 104, 97, 90}
	actions := replay(t, m, series("ETHUSD", closes))

	if len(actions) == 0 {
		t.Fatal("momentum produced no signals")
	}
	if actions[0] != domain.ActionBuy {
		t.Errorf("first action = %v, want buy", actions[0])
	}
	if actions[len(actions)-1] != domain.ActionSell {
		t.Errorf("last action = %v, want sell", actions[len(actions)-1])
	}
}

func TestRegisterBuiltins(t *testing.T) {
	r := strategy.NewRegistry()
	Register(r)

	names := r.List()
	want := []string{"momentum", "sma-cross"}
	if len(names) != len(want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
