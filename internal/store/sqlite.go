package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kestrel/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ FillStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)
var _ SnapshotStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	broker_order_id TEXT NOT NULL DEFAULT '',
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	qty             REAL NOT NULL,
	limit_price     REAL NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	filled_qty      REAL NOT NULL DEFAULT 0,
	avg_fill_price  REAL NOT NULL DEFAULT 0,
	strategy        TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS fills (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	symbol   TEXT NOT NULL,
	side     TEXT NOT NULL,
	qty      REAL NOT NULL,
	price    REAL NOT NULL,
	fee      REAL NOT NULL DEFAULT 0,
	ts       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);

CREATE TABLE IF NOT EXISTS signals (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	action       TEXT NOT NULL,
	strength     REAL NOT NULL DEFAULT 0,
	candle_start INTEGER NOT NULL,
	generated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_strategy ON signals(strategy, generated_at);

CREATE TABLE IF NOT EXISTS snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	cash           REAL NOT NULL,
	realized_pnl   REAL NOT NULL,
	unrealized_pnl REAL NOT NULL,
	equity         REAL NOT NULL,
	positions      TEXT NOT NULL,
	at             INTEGER NOT NULL
);
`

// SQLiteStore implements OrderStore, FillStore, SignalStore, and
// SnapshotStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a new order.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, broker_order_id, symbol, side, qty, limit_price, status, filled_qty, avg_fill_price, strategy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BrokerOrderID, o.Symbol, string(o.Side), o.Qty, o.LimitPrice,
		string(o.Status), o.FilledQty, o.AvgFillPrice, o.Strategy,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli())
	return err
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET broker_order_id = ?, status = ?, filled_qty = ?, avg_fill_price = ?, updated_at = ?
		WHERE id = ?`,
		o.BrokerOrderID, string(o.Status), o.FilledQty, o.AvgFillPrice,
		o.UpdatedAt.UnixMilli(), o.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("order %s not found", o.ID)
	}
	return err
}

// GetOrder retrieves a single order by its engine-assigned ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, broker_order_id, symbol, side, qty, limit_price, status, filled_qty, avg_fill_price, strategy, created_at, updated_at
		FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// ListOrders returns all orders matching the given status, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, broker_order_id, symbol, side, qty, limit_price, status, filled_qty, avg_fill_price, strategy, created_at, updated_at
		FROM orders WHERE status = ? ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var side, status string
	var createdAt, updatedAt int64
	err := row.Scan(&o.ID, &o.BrokerOrderID, &o.Symbol, &side, &o.Qty, &o.LimitPrice,
		&status, &o.FilledQty, &o.AvgFillPrice, &o.Strategy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt).UTC()
	o.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &o, nil
}

// ---------------------------------------------------------------------------
// FillStore implementation
// ---------------------------------------------------------------------------

// SaveFill appends a fill record.
func (s *SQLiteStore) SaveFill(ctx context.Context, f *domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, symbol, side, qty, price, fee, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.Symbol, string(f.Side), f.Qty, f.Price, f.Fee, f.Timestamp.UnixMilli())
	return err
}

// ListFills returns fills for an order in application order.
func (s *SQLiteStore) ListFills(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, symbol, side, qty, price, fee, ts
		FROM fills WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		var ts int64
		if err := rows.Scan(&f.OrderID, &f.Symbol, &side, &f.Qty, &f.Price, &f.Fee, &ts); err != nil {
			return nil, err
		}
		f.Side = domain.OrderSide(side)
		f.Timestamp = time.UnixMilli(ts).UTC()
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal appends a signal record.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (strategy, symbol, action, strength, candle_start, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sig.Strategy, sig.Symbol, string(sig.Action), sig.Strength,
		sig.CandleStart.UnixMilli(), sig.GeneratedAt.UnixMilli())
	return err
}

// ListSignals returns the most recent signals for a strategy, up to limit.
func (s *SQLiteStore) ListSignals(ctx context.Context, strategy string, limit int) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, symbol, action, strength, candle_start, generated_at
		FROM signals WHERE strategy = ? ORDER BY generated_at DESC LIMIT ?`, strategy, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var action string
		var candleStart, generatedAt int64
		if err := rows.Scan(&sig.Strategy, &sig.Symbol, &action, &sig.Strength, &candleStart, &generatedAt); err != nil {
			return nil, err
		}
		sig.Action = domain.SignalAction(action)
		sig.CandleStart = time.UnixMilli(candleStart).UTC()
		sig.GeneratedAt = time.UnixMilli(generatedAt).UTC()
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// SaveSnapshot appends a portfolio snapshot. Positions are stored as JSON.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("encoding positions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (cash, realized_pnl, unrealized_pnl, equity, positions, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Cash, snap.RealizedPnL, snap.UnrealizedPnL, snap.Equity,
		string(positions), snap.At.UnixMilli())
	return err
}

// LatestSnapshot returns the most recent snapshot, or nil if none exist.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cash, realized_pnl, unrealized_pnl, equity, positions, at
		FROM snapshots ORDER BY id DESC LIMIT 1`)

	var snap domain.PortfolioSnapshot
	var positions string
	var at int64
	err := row.Scan(&snap.Cash, &snap.RealizedPnL, &snap.UnrealizedPnL, &snap.Equity, &positions, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
		return nil, fmt.Errorf("decoding positions: %w", err)
	}
	snap.At = time.UnixMilli(at).UTC()
	return &snap, nil
}
