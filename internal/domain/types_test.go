package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	open := []OrderStatus{OrderStatusCreated, OrderStatusSubmitted, OrderStatusAccepted, OrderStatusPartiallyFilled}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestOrderRemaining(t *testing.T) {
	o := Order{Qty: 10, FilledQty: 4}
	if got := o.Remaining(); got != 6 {
		t.Errorf("Remaining() = %v, want 6", got)
	}
}

func TestPositionValuation(t *testing.T) {
	p := Position{Symbol: "BTCUSD", Qty: 2, AvgCost: 100}

	if got := p.MarketValue(110); got != 220 {
		t.Errorf("MarketValue(110) = %v, want 220", got)
	}
	if got := p.UnrealizedPnL(110); got != 20 {
		t.Errorf("UnrealizedPnL(110) = %v, want 20", got)
	}

	// Short positions gain when price falls.
	short := Position{Symbol: "BTCUSD", Qty: -2, AvgCost: 100}
	if got := short.UnrealizedPnL(90); got != 20 {
		t.Errorf("short UnrealizedPnL(90) = %v, want 20", got)
	}
}

func TestIntervalDuration(t *testing.T) {
	if got := Interval1m.Duration(); got != time.Minute {
		t.Errorf("Interval1m.Duration() = %v, want 1m", got)
	}
	if got := Interval1d.Duration(); got != 24*time.Hour {
		t.Errorf("Interval1d.Duration() = %v, want 24h", got)
	}
	if got := Interval("bogus").Duration(); got != time.Minute {
		t.Errorf("unknown interval duration = %v, want 1m fallback", got)
	}
}

func TestIsTransientBroker(t *testing.T) {
	transient := &BrokerError{Reason: "timeout", Transient: true}
	if !IsTransientBroker(transient) {
		t.Error("IsTransientBroker(transient) = false, want true")
	}
	if IsTransientBroker(&BrokerError{Reason: "rejected"}) {
		t.Error("IsTransientBroker(permanent) = true, want false")
	}
	if IsTransientBroker(errors.New("other")) {
		t.Error("IsTransientBroker(plain error) = true, want false")
	}

	// Classification survives wrapping.
	wrapped := fmt.Errorf("submit: %w", transient)
	if !IsTransientBroker(wrapped) {
		t.Error("IsTransientBroker(wrapped transient) = false, want true")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	verr := Validationf("insufficient funds: need %.2f", 100.0)
	var ve *ValidationError
	if !errors.As(verr, &ve) {
		t.Fatal("Validationf should produce a *ValidationError")
	}

	cerr := &ConsistencyError{Symbol: "BTCUSD", Reason: "fill exceeds order qty"}
	if cerr.Error() == "" {
		t.Error("ConsistencyError.Error() empty")
	}

	gerr := &DataGapError{Symbol: "ETHUSD", Reason: "non-monotonic candle"}
	if gerr.Error() == "" {
		t.Error("DataGapError.Error() empty")
	}
}
