// Package store defines storage interfaces for persisting and retrieving
// candles, orders, fills, signals, and portfolio snapshots. The engine only
// writes through these interfaces during a run; reads serve backtests and
// the status API.
package store

import (
	"context"
	"time"

	"kestrel/internal/domain"
)

// CandleStore persists and retrieves OHLCV candle history.
type CandleStore interface {
	// WriteCandles persists a batch of candles.
	WriteCandles(ctx context.Context, candles []domain.Candle) error

	// ReadCandles returns candles for the given symbol and interval within
	// [start, end], ordered by start time.
	ReadCandles(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Candle, error)

	// ListSymbols returns all distinct symbols with stored candles.
	ListSymbols(ctx context.Context) ([]string, error)
}

// OrderStore persists order records through their lifecycle.
type OrderStore interface {
	// SaveOrder inserts a new order.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its engine-assigned ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders matching the given status, newest first.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
}

// FillStore persists executed fills.
type FillStore interface {
	// SaveFill appends a fill record.
	SaveFill(ctx context.Context, fill *domain.Fill) error

	// ListFills returns fills for an order in application order.
	ListFills(ctx context.Context, orderID string) ([]domain.Fill, error)
}

// SignalStore persists strategy signals for later inspection.
type SignalStore interface {
	// SaveSignal appends a signal record.
	SaveSignal(ctx context.Context, signal *domain.Signal) error

	// ListSignals returns the most recent signals for a strategy, up to limit.
	ListSignals(ctx context.Context, strategy string, limit int) ([]domain.Signal, error)
}

// SnapshotStore persists periodic portfolio snapshots.
type SnapshotStore interface {
	// SaveSnapshot appends a portfolio snapshot.
	SaveSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error

	// LatestSnapshot returns the most recent snapshot, or nil if none exist.
	LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error)
}
