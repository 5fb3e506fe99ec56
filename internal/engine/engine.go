// Package engine contains the trading engine: it turns candle streams into
// orders by driving strategies, routing their signals through risk checks to
// a broker, and applying the resulting fills to the portfolio.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kestrel/internal/broker"
	"kestrel/internal/config"
	"kestrel/internal/domain"
	"kestrel/internal/feed"
	"kestrel/internal/portfolio"
	"kestrel/internal/strategy"
)

// State is a symbol lane's position in the order lifecycle.
type State string

const (
	// StateIdle means no order is outstanding for the symbol.
	StateIdle State = "IDLE"
	// StateAwaitingFill means an order is outstanding; new signals for the
	// symbol are queued or skipped until it resolves.
	StateAwaitingFill State = "AWAITING_FILL"
)

// candleObserver is implemented by brokers that simulate fills off the
// candle stream. The engine feeds every candle to the broker before
// dispatching it to strategies, so simulated fills land before new signals.
type candleObserver interface {
	OnCandle(candle domain.Candle)
}

// boundStrategy is a strategy instance bound to one symbol. A strategy that
// errors or panics is disabled: its future signals are treated as HOLD until
// the engine restarts.
type boundStrategy struct {
	strat    strategy.Strategy
	disabled bool
}

// lane owns all per-symbol state. In live mode each lane runs on its own
// goroutine (single writer per symbol); in paper and backtest modes one
// goroutine drives all lanes sequentially. Fields under mu are also read by
// Status() from other goroutines.
type lane struct {
	symbol     string
	history    []domain.Candle
	strategies []*boundStrategy
	lastPrice  float64

	mu      sync.Mutex
	state   State
	order   *domain.Order  // outstanding order, nil when idle
	pending *domain.Signal // queued signal, at most one
	halted  bool
	skipped int

	// live mode channels, unused in sequential modes
	candles chan domain.Candle
	fills   chan domain.Fill
}

// LaneStatus is a point-in-time view of one symbol lane.
type LaneStatus struct {
	Symbol           string `json:"symbol"`
	State            State  `json:"state"`
	Halted           bool   `json:"halted"`
	SkippedSignals   int    `json:"skipped_signals"`
	OutstandingOrder string `json:"outstanding_order,omitempty"`
}

// Status reports the engine's current state.
type Status struct {
	Mode     string                   `json:"mode"`
	Running  bool                     `json:"running"`
	Lanes    map[string]LaneStatus    `json:"lanes"`
	Snapshot domain.PortfolioSnapshot `json:"snapshot"`
}

// Engine drives the candle → signal → order → fill loop.
type Engine struct {
	cfg      config.EngineConfig
	feed     feed.Feed
	broker   broker.Broker
	tracker  *portfolio.Tracker
	router   *Router
	recorder *Recorder
	lanes    map[string]*lane
	log      *slog.Logger

	mu       sync.Mutex
	marks    map[string]float64 // latest close per symbol
	lastSnap time.Time
	running  bool

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds an Engine: it instantiates each configured strategy per symbol
// from the registry and creates one lane per symbol.
func New(cfg config.EngineConfig, f feed.Feed, b broker.Broker, tracker *portfolio.Tracker, router *Router, recorder *Recorder, registry *strategy.Registry, log *slog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		feed:     f,
		broker:   b,
		tracker:  tracker,
		router:   router,
		recorder: recorder,
		lanes:    make(map[string]*lane),
		marks:    make(map[string]float64),
		log:      log.With("component", "engine", "mode", cfg.Mode),
		stop:     make(chan struct{}),
	}

	for _, symbol := range cfg.Symbols {
		e.lanes[symbol] = &lane{
			symbol:  symbol,
			state:   StateIdle,
			candles: make(chan domain.Candle, 64),
			fills:   make(chan domain.Fill, 64),
		}
	}

	for _, sc := range cfg.Strategies {
		symbols := sc.Symbols
		if len(symbols) == 0 {
			symbols = cfg.Symbols
		}
		for _, symbol := range symbols {
			ln, ok := e.lanes[symbol]
			if !ok {
				return nil, fmt.Errorf("strategy %q bound to unconfigured symbol %q", sc.Name, symbol)
			}
			inst, err := registry.New(sc.Name, symbol, strategy.Params(sc.Params))
			if err != nil {
				return nil, fmt.Errorf("creating strategy %q for %s: %w", sc.Name, symbol, err)
			}
			ln.strategies = append(ln.strategies, &boundStrategy{strat: inst})
		}
	}

	return e, nil
}

// Run drives the engine until the feed is exhausted (backtest), Stop is
// called, or ctx is cancelled. Live mode runs one goroutine per symbol;
// paper and backtest run strictly sequential.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, ln := range e.lanes {
		for _, bs := range ln.strategies {
			if err := bs.strat.Init(ctx); err != nil {
				return fmt.Errorf("initializing strategy %s for %s: %w", bs.strat.Name(), ln.symbol, err)
			}
		}
	}

	e.setRunning(true)
	defer e.setRunning(false)

	feedErr := make(chan error, 1)
	go func() { feedErr <- e.feed.Run(ctx) }()

	go func() {
		select {
		case <-e.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var err error
	if e.cfg.Mode == "live" {
		err = e.runLive(ctx, feedErr)
	} else {
		err = e.runSequential(ctx, feedErr)
	}

	e.recordOutstanding()
	return err
}

// Stop requests a graceful shutdown: the feed is cancelled, in-flight work
// drains, and any still-outstanding orders are logged for reconciliation.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// runSequential processes candles on the caller's goroutine in arrival
// order. Used by paper and backtest modes, where the feed is already a
// deterministic merged stream.
func (e *Engine) runSequential(ctx context.Context, feedErr <-chan error) error {
	for candle := range e.feed.Candles() {
		e.processCandle(ctx, candle)
	}
	e.applyAvailableFills(ctx)
	e.takeSnapshot(ctx, time.Now().UTC())

	err := <-feedErr
	return e.classifyFeedErr(err)
}

// runLive fans candles and fills out to per-symbol lane goroutines. The
// portfolio tracker is the only shared resource; everything else is owned by
// exactly one lane.
func (e *Engine) runLive(ctx context.Context, feedErr <-chan error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, ln := range e.lanes {
		wg.Add(1)
		go func(ln *lane) {
			defer wg.Done()
			e.runLane(ctx, ln)
		}(ln)
	}

	// Fill dispatcher: broker fills onto per-symbol channels.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case fill := <-e.broker.Fills():
				if ln, ok := e.lanes[fill.Symbol]; ok {
					ln.fills <- fill
				} else {
					e.log.Warn("fill for unknown symbol", "symbol", fill.Symbol, "order_id", fill.OrderID)
				}
			}
		}
	}()

	// Periodic portfolio snapshots.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(e.cfg.SnapshotSec) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				e.takeSnapshot(ctx, now.UTC())
			}
		}
	}()

	// Candle dispatcher runs on this goroutine until the feed closes.
	for candle := range e.feed.Candles() {
		if ln, ok := e.lanes[candle.Symbol]; ok {
			select {
			case ln.candles <- candle:
			case <-ctx.Done():
			}
		}
	}

	err := <-feedErr
	cancel()
	wg.Wait()
	return e.classifyFeedErr(err)
}

// runLane is the single writer for one symbol in live mode.
func (e *Engine) runLane(ctx context.Context, ln *lane) {
	for {
		select {
		case <-ctx.Done():
			return
		case fill := <-ln.fills:
			e.handleFill(ctx, ln, fill)
		case candle := <-ln.candles:
			e.handleCandle(ctx, ln, candle)
		}
	}
}

// classifyFeedErr decides whether a feed error is fatal for the current
// mode. A data gap aborts a backtest (reproducibility depends on complete
// ordered data) but is tolerated live.
func (e *Engine) classifyFeedErr(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	var gapErr *domain.DataGapError
	if errors.As(err, &gapErr) && e.cfg.Mode != "backtest" {
		e.log.Warn("data gap tolerated", "symbol", gapErr.Symbol, "reason", gapErr.Reason)
		return nil
	}
	return err
}

// processCandle handles one candle in sequential mode: simulated fills land
// first, then the lane logic runs.
func (e *Engine) processCandle(ctx context.Context, candle domain.Candle) {
	ln, ok := e.lanes[candle.Symbol]
	if !ok {
		return
	}
	if ob, isObserver := e.broker.(candleObserver); isObserver {
		ob.OnCandle(candle)
	}
	e.applyAvailableFills(ctx)
	e.handleCandle(ctx, ln, candle)
	// Fills triggered by this candle's own submissions (close fill policy)
	// must apply before the symbol's next candle.
	e.applyAvailableFills(ctx)
	e.maybeSnapshot(ctx, candle.Start)
}

// handleCandle updates history, invokes every bound strategy exactly once,
// and routes the resulting signals.
func (e *Engine) handleCandle(ctx context.Context, ln *lane, candle domain.Candle) {
	ln.lastPrice = candle.Close
	e.mu.Lock()
	e.marks[candle.Symbol] = candle.Close
	e.mu.Unlock()

	if ln.isHalted() {
		return
	}

	ln.history = append(ln.history, candle)
	if len(ln.history) > e.cfg.HistorySize {
		ln.history = ln.history[len(ln.history)-e.cfg.HistorySize:]
	}

	for _, bs := range ln.strategies {
		if bs.disabled {
			continue
		}
		signal, err := e.invokeStrategy(ctx, bs, ln.history)
		if err != nil {
			bs.disabled = true
			e.log.Error("strategy disabled after failure",
				"strategy", bs.strat.Name(), "symbol", ln.symbol, "error", err)
			continue
		}
		if signal.Action == domain.ActionHold {
			continue
		}
		e.recorder.SignalGenerated(ctx, signal)
		e.routeSignal(ctx, ln, signal)
	}
}

// invokeStrategy calls OnCandle with panic isolation: a panicking strategy
// is reported as an error and must not take down other strategies or lanes.
func (e *Engine) invokeStrategy(ctx context.Context, bs *boundStrategy, history []domain.Candle) (signal domain.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return bs.strat.OnCandle(ctx, history)
}

// routeSignal submits a signal's order unless the lane already has one
// outstanding, in which case the signal is queued (at most one) or recorded
// as a skip.
func (e *Engine) routeSignal(ctx context.Context, ln *lane, signal domain.Signal) {
	ln.mu.Lock()
	if ln.state == StateAwaitingFill {
		if e.cfg.QueuePending && ln.pending == nil {
			ln.pending = &signal
			ln.mu.Unlock()
			e.log.Info("signal queued, order outstanding", "symbol", ln.symbol, "action", signal.Action)
			return
		}
		ln.skipped++
		ln.mu.Unlock()
		e.log.Info("signal skipped, order outstanding", "symbol", ln.symbol, "action", signal.Action)
		return
	}
	ln.mu.Unlock()

	order, err := e.router.Submit(ctx, signal, ln.lastPrice, e.equity())
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			e.log.Warn("signal rejected locally", "symbol", ln.symbol, "action", signal.Action, "reason", vErr.Reason)
		} else {
			e.log.Error("order submission failed", "symbol", ln.symbol, "action", signal.Action, "error", err)
		}
		return
	}

	ln.mu.Lock()
	ln.state = StateAwaitingFill
	ln.order = order
	ln.mu.Unlock()
}

// handleFill applies one fill to the portfolio and advances the lane state
// machine. A ConsistencyError halts this symbol only.
func (e *Engine) handleFill(ctx context.Context, ln *lane, fill domain.Fill) {
	if err := e.tracker.ApplyFill(fill); err != nil {
		var cErr *domain.ConsistencyError
		if errors.As(err, &cErr) {
			ln.mu.Lock()
			ln.halted = true
			ln.mu.Unlock()
			e.log.Error("consistency violation, halting symbol",
				"symbol", ln.symbol, "order_id", fill.OrderID, "error", err)
			return
		}
		e.log.Error("applying fill", "order_id", fill.OrderID, "error", err)
		return
	}
	e.recorder.FillReceived(ctx, fill)

	ln.mu.Lock()
	order := ln.order
	if order == nil || order.ID != fill.OrderID {
		ln.mu.Unlock()
		return
	}
	order.FilledQty += fill.Qty
	order.AvgFillPrice = ((order.FilledQty-fill.Qty)*order.AvgFillPrice + fill.Qty*fill.Price) / order.FilledQty
	order.UpdatedAt = fill.Timestamp
	if order.Remaining() > 1e-9 {
		order.Status = domain.OrderStatusPartiallyFilled
		ln.mu.Unlock()
		e.recorder.OrderUpdated(ctx, order)
		return
	}
	order.Status = domain.OrderStatusFilled
	ln.order = nil
	ln.state = StateIdle
	var queued *domain.Signal
	if ln.pending != nil {
		queued = ln.pending
		ln.pending = nil
	}
	ln.mu.Unlock()

	e.tracker.ReleaseOrder(order.ID)
	e.recorder.OrderUpdated(ctx, order)

	if queued != nil {
		e.routeSignal(ctx, ln, *queued)
	}
}

// applyAvailableFills drains the broker's fill channel without blocking.
// Sequential modes call this around each candle so fills always land before
// the symbol's next candle.
func (e *Engine) applyAvailableFills(ctx context.Context) {
	for {
		select {
		case fill := <-e.broker.Fills():
			if ln, ok := e.lanes[fill.Symbol]; ok {
				e.handleFill(ctx, ln, fill)
			}
		default:
			return
		}
	}
}

// equity returns current portfolio equity at the latest marks.
func (e *Engine) equity() float64 {
	e.mu.Lock()
	marks := make(map[string]float64, len(e.marks))
	for k, v := range e.marks {
		marks[k] = v
	}
	e.mu.Unlock()
	return e.tracker.Snapshot(marks, time.Now().UTC()).Equity
}

// maybeSnapshot takes a snapshot when the configured cadence has elapsed in
// candle time. Sequential modes use candle timestamps so backtests snapshot
// deterministically.
func (e *Engine) maybeSnapshot(ctx context.Context, at time.Time) {
	e.mu.Lock()
	due := e.lastSnap.IsZero() || at.Sub(e.lastSnap) >= time.Duration(e.cfg.SnapshotSec)*time.Second
	if due {
		e.lastSnap = at
	}
	e.mu.Unlock()
	if due {
		e.takeSnapshot(ctx, at)
	}
}

func (e *Engine) takeSnapshot(ctx context.Context, at time.Time) {
	e.mu.Lock()
	marks := make(map[string]float64, len(e.marks))
	for k, v := range e.marks {
		marks[k] = v
	}
	e.mu.Unlock()
	e.recorder.SnapshotTaken(ctx, e.tracker.Snapshot(marks, at))
}

// recordOutstanding logs orders still outstanding at shutdown. They stay in
// the order store in their last known state and need reconciliation against
// the broker on restart.
func (e *Engine) recordOutstanding() {
	for _, ln := range e.lanes {
		ln.mu.Lock()
		order := ln.order
		ln.mu.Unlock()
		if order != nil && !order.Status.Terminal() {
			e.log.Warn("order outstanding at shutdown, needs reconciliation",
				"symbol", ln.symbol, "order_id", order.ID, "status", order.Status)
		}
	}
}

// Snapshot returns the current portfolio snapshot at the latest marks.
func (e *Engine) Snapshot() domain.PortfolioSnapshot {
	e.mu.Lock()
	marks := make(map[string]float64, len(e.marks))
	for k, v := range e.marks {
		marks[k] = v
	}
	e.mu.Unlock()
	return e.tracker.Snapshot(marks, time.Now().UTC())
}

// Status reports per-symbol lane state and the latest portfolio snapshot.
func (e *Engine) Status() Status {
	lanes := make(map[string]LaneStatus, len(e.lanes))
	for symbol, ln := range e.lanes {
		ln.mu.Lock()
		ls := LaneStatus{
			Symbol:         symbol,
			State:          ln.state,
			Halted:         ln.halted,
			SkippedSignals: ln.skipped,
		}
		if ln.order != nil {
			ls.OutstandingOrder = ln.order.ID
		}
		ln.mu.Unlock()
		lanes[symbol] = ls
	}

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	return Status{
		Mode:     e.cfg.Mode,
		Running:  running,
		Lanes:    lanes,
		Snapshot: e.Snapshot(),
	}
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	e.mu.Unlock()
}

func (ln *lane) isHalted() bool {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.halted
}
