package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kestrel/internal/config"
	"kestrel/internal/domain"
)

// SimBroker simulates order execution against the candle stream the engine is
// already consuming. It backs both paper trading (real-time candles) and
// backtests (historical candles); behavior depends only on the candles it
// observes, never on the wall clock, so backtest runs are reproducible.
type SimBroker struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	// pending holds orders waiting to fill: limit orders waiting for price,
	// and market orders under the next_open policy waiting for the next
	// candle.
	pending []*domain.Order
	// lastClose holds the most recent close per symbol, used to fill market
	// orders under the close policy.
	lastClose map[string]float64

	fillPolicy config.FillPolicy
	feeBps     float64
	fills      chan domain.Fill
	log        *slog.Logger
}

// NewSimBroker builds a simulator. feeBps is the commission charged on each
// fill, in basis points of notional.
func NewSimBroker(fillPolicy config.FillPolicy, feeBps float64, log *slog.Logger) *SimBroker {
	return &SimBroker{
		orders:     make(map[string]*domain.Order),
		lastClose:  make(map[string]float64),
		fillPolicy: fillPolicy,
		feeBps:     feeBps,
		fills:      make(chan domain.Fill, 1024),
		log:        log.With("broker", "sim"),
	}
}

func (b *SimBroker) Name() string { return "sim" }

// SubmitOrder accepts an order and, depending on the fill policy, either
// fills it against the latest observed close or queues it for the next
// candle. The returned order is the acceptance snapshot; fill effects reach
// the caller only through the Fills channel, like a real broker ack.
// Resubmitting a known order ID returns the stored order unchanged.
func (b *SimBroker) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.orders[order.ID]; ok {
		cp := *existing
		return &cp, nil
	}

	accepted := *order
	accepted.BrokerOrderID = "sim-" + order.ID
	accepted.Status = domain.OrderStatusAccepted
	accepted.UpdatedAt = order.CreatedAt
	b.orders[accepted.ID] = &accepted
	ack := accepted

	switch {
	case accepted.LimitPrice > 0:
		// Limit orders rest until a candle's range touches the limit.
		b.pending = append(b.pending, &accepted)
	case b.fillPolicy == config.FillAtNextOpen:
		b.pending = append(b.pending, &accepted)
	default:
		price, ok := b.lastClose[accepted.Symbol]
		if !ok {
			// No candle seen yet; rest until one arrives.
			b.pending = append(b.pending, &accepted)
			break
		}
		b.fillLocked(&accepted, price, accepted.CreatedAt)
	}

	return &ack, nil
}

// CancelOrder cancels a resting order. Orders already in a terminal state
// cannot be cancelled.
func (b *SimBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, ErrOrderNotFound)
	}
	if order.Status.Terminal() {
		return &domain.BrokerError{Reason: fmt.Sprintf("order %s is %s, cannot cancel", orderID, order.Status)}
	}
	order.Status = domain.OrderStatusCancelled
	for i, p := range b.pending {
		if p.ID == orderID {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (b *SimBroker) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return "", fmt.Errorf("status %s: %w", orderID, ErrOrderNotFound)
	}
	return order.Status, nil
}

func (b *SimBroker) Fills() <-chan domain.Fill { return b.fills }

// OnCandle advances the simulation: it updates the mark for the candle's
// symbol and fills any resting orders the candle satisfies. The engine calls
// this before dispatching the candle to strategies, so next_open fills land
// before new signals are generated.
func (b *SimBroker) OnCandle(candle domain.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastClose[candle.Symbol] = candle.Close

	remaining := b.pending[:0]
	for _, order := range b.pending {
		if order.Symbol != candle.Symbol || order.Status.Terminal() {
			if !order.Status.Terminal() {
				remaining = append(remaining, order)
			}
			continue
		}
		price, ok := b.fillPrice(order, candle)
		if !ok {
			remaining = append(remaining, order)
			continue
		}
		b.fillLocked(order, price, candle.Start)
	}
	b.pending = remaining
}

// fillPrice decides whether the candle fills the order, and at what price.
func (b *SimBroker) fillPrice(order *domain.Order, candle domain.Candle) (float64, bool) {
	if order.LimitPrice > 0 {
		if candle.Low <= order.LimitPrice && order.LimitPrice <= candle.High {
			return order.LimitPrice, true
		}
		// A gap through the limit fills at the open.
		if order.Side == domain.SideBuy && candle.High < order.LimitPrice {
			return candle.Open, true
		}
		if order.Side == domain.SideSell && candle.Low > order.LimitPrice {
			return candle.Open, true
		}
		return 0, false
	}
	if b.fillPolicy == config.FillAtNextOpen {
		return candle.Open, true
	}
	return candle.Close, true
}

// fillLocked fills the whole remaining quantity at price and emits the fill.
// Caller holds b.mu.
func (b *SimBroker) fillLocked(order *domain.Order, price float64, at time.Time) {
	qty := order.Remaining()
	if qty <= 0 {
		return
	}
	fee := qty * price * b.feeBps / 10_000

	order.AvgFillPrice = (order.AvgFillPrice*order.FilledQty + price*qty) / (order.FilledQty + qty)
	order.FilledQty += qty
	order.Status = domain.OrderStatusFilled
	order.UpdatedAt = at

	fill := domain.Fill{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Qty:       qty,
		Price:     price,
		Fee:       fee,
		Timestamp: at,
	}
	select {
	case b.fills <- fill:
	default:
		b.log.Error("fill channel full, dropping fill", "order_id", order.ID)
	}
}
