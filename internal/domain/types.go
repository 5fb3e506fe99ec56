// Package domain defines the core data model shared across the kestrel
// trading engine: candles, signals, orders, fills, and portfolio state.
package domain

import (
	"fmt"
	"time"
)

// Interval identifies a candle aggregation period.
type Interval string

const (
	Interval1m Interval = "1m"
	Interval5m Interval = "5m"
	Interval1h Interval = "1h"
	Interval1d Interval = "1d"
)

// Duration returns the wall-clock length of the interval. Unknown intervals
// default to one minute.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Candle is one OHLCV aggregation for a symbol. A candle is immutable once
// emitted and uniquely identified by (Symbol, Interval, Start). Candles for a
// symbol are ordered monotonically by Start.
type Candle struct {
	Symbol   string
	Interval Interval
	Start    time.Time
	End      time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// SignalAction is a strategy's directional recommendation.
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// Signal is the output of one strategy evaluation for one candle. Signals are
// ephemeral: the engine either routes them to execution or discards them.
type Signal struct {
	Symbol      string
	Action      SignalAction
	Strength    float64 // optional confidence in [0, 1]; 0 means unspecified
	Strategy    string
	CandleStart time.Time
	GeneratedAt time.Time
}

// Hold is a convenience HOLD signal for the given symbol.
func Hold(symbol string) Signal {
	return Signal{Symbol: symbol, Action: ActionHold}
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle:
//
//	Created → Submitted → {Accepted, Rejected} → {PartiallyFilled → Filled, Cancelled}
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status is a terminal lifecycle state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is an instruction to trade. ID is engine-assigned and unique;
// BrokerOrderID is assigned by the broker after acceptance. LimitPrice of
// zero means a market order.
type Order struct {
	ID            string
	BrokerOrderID string
	Symbol        string
	Side          OrderSide
	Qty           float64
	LimitPrice    float64
	Status        OrderStatus
	FilledQty     float64
	AvgFillPrice  float64
	Strategy      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.Qty - o.FilledQty
}

// Fill confirms that some or all of an order's quantity executed. One order
// may accumulate multiple fills; the sum of fill quantities never exceeds the
// order quantity.
type Fill struct {
	OrderID   string
	Symbol    string
	Side      OrderSide
	Qty       float64
	Price     float64
	Fee       float64
	Timestamp time.Time
}

// Position is the current holding in one symbol. Qty is signed: positive is
// long, negative is short.
type Position struct {
	Symbol  string
	Qty     float64
	AvgCost float64
}

// MarketValue values the position at the given mark price.
func (p Position) MarketValue(mark float64) float64 {
	return p.Qty * mark
}

// UnrealizedPnL is the open profit at the given mark price.
func (p Position) UnrealizedPnL(mark float64) float64 {
	return (mark - p.AvgCost) * p.Qty
}

// PortfolioSnapshot is a consistent point-in-time copy of portfolio state.
// Only Cash, Positions, and RealizedPnL are authoritative; UnrealizedPnL and
// Equity are derived from the mark prices supplied when the snapshot was
// taken.
type PortfolioSnapshot struct {
	Cash          float64
	Positions     map[string]Position
	RealizedPnL   float64
	UnrealizedPnL float64
	Equity        float64
	At            time.Time
}

func (c Candle) String() string {
	return fmt.Sprintf("%s %s %s o=%.4f h=%.4f l=%.4f c=%.4f v=%.4f",
		c.Symbol, c.Interval, c.Start.UTC().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}
