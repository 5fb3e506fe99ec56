package engine

import (
	"context"
	"log/slog"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/store"
)

// Event is a trading event published to sinks (the WebSocket hub, tests).
type Event struct {
	Type    string `json:"type"` // "order", "fill", "signal", "snapshot"
	Payload any    `json:"payload"`
}

// EventSink receives trading events. Publish must not block; slow sinks drop.
type EventSink interface {
	Publish(event Event)
}

// Recorder persists the engine's output stream: orders, fills, signals and
// periodic portfolio snapshots. The engine only ever writes through the
// Recorder; it never reads persisted state back during a run. All stores are
// optional — a nil store skips that record, so backtests can run without a
// database. Persistence failures are logged, not propagated: losing a record
// must not halt trading.
type Recorder struct {
	orders    store.OrderStore
	fills     store.FillStore
	signals   store.SignalStore
	snapshots store.SnapshotStore
	sinks     []EventSink
	log       *slog.Logger
}

// NewRecorder creates a Recorder writing to the given stores, any of which
// may be nil.
func NewRecorder(orders store.OrderStore, fills store.FillStore, signals store.SignalStore, snapshots store.SnapshotStore, log *slog.Logger) *Recorder {
	return &Recorder{
		orders:    orders,
		fills:     fills,
		signals:   signals,
		snapshots: snapshots,
		log:       log.With("component", "recorder"),
	}
}

// AddSink registers an event sink. Not safe to call after the engine starts.
func (r *Recorder) AddSink(sink EventSink) {
	r.sinks = append(r.sinks, sink)
}

func (r *Recorder) publish(eventType string, payload any) {
	for _, sink := range r.sinks {
		sink.Publish(Event{Type: eventType, Payload: payload})
	}
}

// OrderCreated persists a newly created order.
func (r *Recorder) OrderCreated(ctx context.Context, order *domain.Order) {
	if r.orders != nil {
		if err := r.orders.SaveOrder(ctx, order); err != nil {
			r.log.Error("saving order", "order_id", order.ID, "error", err)
		}
	}
	r.publish("order", order)
}

// OrderUpdated persists an order state change.
func (r *Recorder) OrderUpdated(ctx context.Context, order *domain.Order) {
	if r.orders != nil {
		if err := r.orders.UpdateOrder(ctx, order); err != nil {
			r.log.Error("updating order", "order_id", order.ID, "error", err)
		}
	}
	r.publish("order", order)
}

// FillReceived persists a fill.
func (r *Recorder) FillReceived(ctx context.Context, fill domain.Fill) {
	if r.fills != nil {
		if err := r.fills.SaveFill(ctx, &fill); err != nil {
			r.log.Error("saving fill", "order_id", fill.OrderID, "error", err)
		}
	}
	r.publish("fill", fill)
}

// SignalGenerated persists a non-HOLD signal.
func (r *Recorder) SignalGenerated(ctx context.Context, signal domain.Signal) {
	if r.signals != nil {
		if err := r.signals.SaveSignal(ctx, &signal); err != nil {
			r.log.Error("saving signal", "symbol", signal.Symbol, "error", err)
		}
	}
	r.publish("signal", signal)
}

// SnapshotTaken persists a portfolio snapshot.
func (r *Recorder) SnapshotTaken(ctx context.Context, snapshot domain.PortfolioSnapshot) {
	if r.snapshots != nil {
		if err := r.snapshots.SaveSnapshot(ctx, &snapshot); err != nil {
			r.log.Error("saving snapshot", "at", snapshot.At.Format(time.RFC3339), "error", err)
		}
	}
	r.publish("snapshot", snapshot)
}
