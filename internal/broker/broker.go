// Package broker defines the Broker capability set consumed by the trading
// engine and provides its implementations: a live Alpaca adapter and a
// deterministic simulator used for paper trading and backtests.
package broker

import (
	"context"
	"errors"

	"kestrel/internal/domain"
)

// ErrOrderNotFound is returned by CancelOrder and GetOrderStatus when the
// broker has no record of the order.
var ErrOrderNotFound = errors.New("order not found")

// Broker abstracts order execution. All three execution modes talk to the
// engine through this interface; the engine never branches on the concrete
// type.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "sim").
	Name() string

	// SubmitOrder sends an order for execution and returns the accepted
	// order (with BrokerOrderID set) or an error. Resubmitting an order the
	// broker already knows must not create a second live order.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its
	// engine-assigned ID. Returns ErrOrderNotFound for unknown orders.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrderStatus returns the broker's view of an order's status. Used by
	// the execution router to resolve ambiguous submission failures before
	// retrying.
	GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)

	// Fills returns the channel on which the broker delivers fill
	// notifications. Synchronous brokers (paper/backtest) buffer fills for
	// the engine to drain; the live adapter pushes them as they stream in.
	Fills() <-chan domain.Fill
}
