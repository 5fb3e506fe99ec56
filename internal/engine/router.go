package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kestrel/internal/broker"
	"kestrel/internal/domain"
	"kestrel/internal/portfolio"
	"kestrel/internal/util"
)

// Router turns signals into orders and submits them to the broker. It fails
// fast on local validation (cash, position, risk limits) so bad orders never
// reach the broker, and it is idempotent under retry: an ambiguous network
// failure is resolved by querying order status before resubmitting.
//
// The Router does not serialize submissions; the engine's per-symbol state
// machine guarantees at most one outstanding order per symbol.
type Router struct {
	broker      broker.Broker
	tracker     *portfolio.Tracker
	risk        *RiskManager
	recorder    *Recorder
	positionPct float64
	maxAttempts int
	baseDelay   time.Duration
	log         *slog.Logger
}

// NewRouter creates a Router. positionPct is the fraction of equity committed
// to each new position.
func NewRouter(b broker.Broker, tracker *portfolio.Tracker, risk *RiskManager, recorder *Recorder, positionPct float64, log *slog.Logger) *Router {
	return &Router{
		broker:      b,
		tracker:     tracker,
		risk:        risk,
		recorder:    recorder,
		positionPct: positionPct,
		maxAttempts: 4,
		baseDelay:   250 * time.Millisecond,
		log:         log.With("component", "router"),
	}
}

// Submit sizes an order for the signal and submits it. price is the latest
// close for the signal's symbol, equity the current portfolio equity. The
// returned order carries the broker's accepted state; a ValidationError means
// the order was rejected locally and the broker was never called.
func (r *Router) Submit(ctx context.Context, signal domain.Signal, price, equity float64) (*domain.Order, error) {
	if price <= 0 {
		return nil, domain.Validationf("no valid price for %s", signal.Symbol)
	}

	order, err := r.buildOrder(signal, price, equity)
	if err != nil {
		return nil, err
	}

	currentQty := r.tracker.Position(signal.Symbol).Qty
	if err := r.risk.CheckOrder(order, price, equity, currentQty); err != nil {
		return nil, err
	}

	r.tracker.RegisterOrder(order.ID, order.Qty)
	r.recorder.OrderCreated(ctx, order)

	accepted, err := r.submitWithRetry(ctx, order)
	if err != nil {
		order.Status = domain.OrderStatusRejected
		order.UpdatedAt = time.Now().UTC()
		r.tracker.ReleaseOrder(order.ID)
		r.recorder.OrderUpdated(ctx, order)
		return nil, err
	}

	r.recorder.OrderUpdated(ctx, accepted)
	return accepted, nil
}

// buildOrder sizes the order and runs the cash/position pre-checks.
func (r *Router) buildOrder(signal domain.Signal, price, equity float64) (*domain.Order, error) {
	now := time.Now().UTC()
	order := &domain.Order{
		ID:        uuid.NewString(),
		Symbol:    signal.Symbol,
		Strategy:  signal.Strategy,
		Status:    domain.OrderStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch signal.Action {
	case domain.ActionBuy:
		notional := equity * r.positionPct
		if cash := r.tracker.Cash(); notional > cash {
			return nil, domain.Validationf("insufficient cash for %s: need %.2f, have %.2f", signal.Symbol, notional, cash)
		}
		qty := notional / price
		if qty <= 0 {
			return nil, domain.Validationf("computed zero quantity for %s at price %.2f", signal.Symbol, price)
		}
		order.Side = domain.SideBuy
		order.Qty = qty

	case domain.ActionSell:
		pos := r.tracker.Position(signal.Symbol)
		if pos.Qty <= 0 {
			return nil, domain.Validationf("no position in %s to sell", signal.Symbol)
		}
		order.Side = domain.SideSell
		order.Qty = pos.Qty

	default:
		return nil, domain.Validationf("cannot route %q signal for %s", signal.Action, signal.Symbol)
	}

	return order, nil
}

// submitWithRetry submits the order, retrying only transient broker errors
// with exponential backoff. From the second attempt on, the broker is asked
// for the order's status first: if the previous attempt actually landed, the
// existing order is adopted instead of resubmitted.
func (r *Router) submitWithRetry(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	var accepted *domain.Order
	attempted := false

	err := util.RetryIf(ctx, r.maxAttempts, r.baseDelay, func() error {
		if attempted {
			status, statusErr := r.broker.GetOrderStatus(ctx, order.ID)
			if statusErr == nil {
				r.log.Info("order landed despite submit error, adopting",
					"order_id", order.ID, "status", status)
				adopted := *order
				adopted.Status = status
				adopted.UpdatedAt = time.Now().UTC()
				accepted = &adopted
				return nil
			}
			if !errors.Is(statusErr, broker.ErrOrderNotFound) {
				return statusErr
			}
		}
		attempted = true

		var submitErr error
		accepted, submitErr = r.broker.SubmitOrder(ctx, order)
		return submitErr
	}, domain.IsTransientBroker)
	if err != nil {
		return nil, err
	}
	return accepted, nil
}
