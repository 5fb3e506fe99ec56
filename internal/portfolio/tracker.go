// Package portfolio tracks cash, positions, and realized PnL. The tracker is
// mutated only by confirmed fills; unrealized PnL is always derived from the
// mark prices supplied by the caller and never stored.
package portfolio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"kestrel/internal/domain"
)

// qtyEpsilon absorbs float rounding when comparing fill quantities against
// order quantities and when flattening positions.
const qtyEpsilon = 1e-9

// Tracker maintains portfolio state. ApplyFill is the only mutator. Fills for
// a symbol must be applied in the order received; the engine serializes per
// symbol, so the internal lock only protects snapshot reads racing writes to
// other symbols.
type Tracker struct {
	mu          sync.Mutex
	cash        float64
	positions   map[string]domain.Position
	realizedPnL float64

	// orderQty/orderFilled arm the fill-sum invariant per registered order.
	orderQty    map[string]float64
	orderFilled map[string]float64
}

// NewTracker creates a Tracker with the given starting cash and no positions.
func NewTracker(initialCash float64) *Tracker {
	return &Tracker{
		cash:        initialCash,
		positions:   make(map[string]domain.Position),
		orderQty:    make(map[string]float64),
		orderFilled: make(map[string]float64),
	}
}

// RegisterOrder records an order's requested quantity so that subsequent
// fills can be validated against it. Calling it again for the same order is a
// no-op.
func (t *Tracker) RegisterOrder(orderID string, qty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.orderQty[orderID]; !ok {
		t.orderQty[orderID] = qty
	}
}

// ReleaseOrder forgets a terminal order's fill accounting.
func (t *Tracker) ReleaseOrder(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.orderQty, orderID)
	delete(t.orderFilled, orderID)
}

// ApplyFill applies a confirmed fill to cash, the position, and realized PnL.
// A fill whose cumulative quantity would exceed its registered order quantity
// returns a ConsistencyError: the caller must halt the affected symbol.
func (t *Tracker) ApplyFill(fill domain.Fill) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fill.Qty <= 0 {
		return &domain.ConsistencyError{Symbol: fill.Symbol, Reason: fmt.Sprintf("non-positive fill quantity %v for order %s", fill.Qty, fill.OrderID)}
	}
	if limit, ok := t.orderQty[fill.OrderID]; ok {
		applied := t.orderFilled[fill.OrderID]
		if applied+fill.Qty > limit+qtyEpsilon {
			return &domain.ConsistencyError{
				Symbol: fill.Symbol,
				Reason: fmt.Sprintf("fills for order %s total %v, exceeding order quantity %v", fill.OrderID, applied+fill.Qty, limit),
			}
		}
		t.orderFilled[fill.OrderID] = applied + fill.Qty
	}

	pos := t.positions[fill.Symbol]
	pos.Symbol = fill.Symbol

	signedQty := fill.Qty
	if fill.Side == domain.SideSell {
		signedQty = -fill.Qty
	}

	// Cash moves by the traded notional plus the fee.
	t.cash -= signedQty * fill.Price
	t.cash -= fill.Fee
	t.realizedPnL -= fill.Fee

	switch {
	case pos.Qty == 0 || sameSign(pos.Qty, signedQty):
		// Opening or adding: blend average cost.
		total := pos.Qty + signedQty
		pos.AvgCost = (math.Abs(pos.Qty)*pos.AvgCost + fill.Qty*fill.Price) / math.Abs(total)
		pos.Qty = total

	default:
		// Reducing, closing, or crossing through zero.
		closing := math.Min(fill.Qty, math.Abs(pos.Qty))
		if pos.Qty > 0 {
			t.realizedPnL += (fill.Price - pos.AvgCost) * closing
		} else {
			t.realizedPnL += (pos.AvgCost - fill.Price) * closing
		}
		pos.Qty += signedQty
		if math.Abs(pos.Qty) <= qtyEpsilon {
			pos.Qty = 0
			pos.AvgCost = 0
		} else if sameSign(pos.Qty, signedQty) {
			// Crossed through zero: the surviving portion opened at the fill
			// price.
			pos.AvgCost = fill.Price
		}
	}

	if pos.Qty == 0 {
		delete(t.positions, fill.Symbol)
	} else {
		t.positions[fill.Symbol] = pos
	}
	return nil
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// Cash returns the current cash balance.
func (t *Tracker) Cash() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cash
}

// RealizedPnL returns realized profit net of fees.
func (t *Tracker) RealizedPnL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realizedPnL
}

// Position returns the current position for a symbol. A flat symbol returns a
// zero-quantity position.
func (t *Tracker) Position(symbol string) domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return domain.Position{Symbol: symbol}
	}
	return pos
}

// MarkToMarket values all open positions at the given prices and returns
// total unrealized PnL. It is a pure read: stored state is not mutated.
// Symbols without a mark price are valued at their average cost (zero
// unrealized contribution).
func (t *Tracker) MarkToMarket(prices map[string]float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unrealizedLocked(prices)
}

func (t *Tracker) unrealizedLocked(prices map[string]float64) float64 {
	var total float64
	for sym, pos := range t.positions {
		mark, ok := prices[sym]
		if !ok {
			continue
		}
		total += pos.UnrealizedPnL(mark)
	}
	return total
}

// Snapshot returns a consistent copy of portfolio state valued at the given
// mark prices.
func (t *Tracker) Snapshot(prices map[string]float64, at time.Time) domain.PortfolioSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	positions := make(map[string]domain.Position, len(t.positions))
	var posValue float64
	for sym, pos := range t.positions {
		positions[sym] = pos
		mark, ok := prices[sym]
		if !ok {
			mark = pos.AvgCost
		}
		posValue += pos.MarketValue(mark)
	}

	return domain.PortfolioSnapshot{
		Cash:          t.cash,
		Positions:     positions,
		RealizedPnL:   t.realizedPnL,
		UnrealizedPnL: t.unrealizedLocked(prices),
		Equity:        t.cash + posValue,
		At:            at,
	}
}
