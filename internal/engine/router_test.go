package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/broker"
	"kestrel/internal/domain"
	"kestrel/internal/portfolio"
	"kestrel/internal/util"
)

// flakyBroker fails the first failUntil submissions with the given error.
// When landDespiteError is set, a failed submission still registers the
// order, simulating a timeout where the request actually reached the broker.
type flakyBroker struct {
	mu               sync.Mutex
	failUntil        int
	submitErr        error
	landDespiteError bool

	submitCalls int
	statusCalls int
	orders      map[string]domain.OrderStatus
	fills       chan domain.Fill
}

func newFlakyBroker(failUntil int, submitErr error, landDespiteError bool) *flakyBroker {
	return &flakyBroker{
		failUntil:        failUntil,
		submitErr:        submitErr,
		landDespiteError: landDespiteError,
		orders:           make(map[string]domain.OrderStatus),
		fills:            make(chan domain.Fill, 16),
	}
}

func (b *flakyBroker) Name() string { return "flaky" }

func (b *flakyBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitCalls++
	if b.submitCalls <= b.failUntil {
		if b.landDespiteError {
			b.orders[order.ID] = domain.OrderStatusAccepted
		}
		return nil, b.submitErr
	}
	b.orders[order.ID] = domain.OrderStatusAccepted
	accepted := *order
	accepted.Status = domain.OrderStatusAccepted
	accepted.BrokerOrderID = "flaky-" + order.ID
	return &accepted, nil
}

func (b *flakyBroker) CancelOrder(context.Context, string) error { return nil }

func (b *flakyBroker) GetOrderStatus(_ context.Context, orderID string) (domain.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	status, ok := b.orders[orderID]
	if !ok {
		return "", broker.ErrOrderNotFound
	}
	return status, nil
}

func (b *flakyBroker) Fills() <-chan domain.Fill { return b.fills }

func newTestRouter(t *testing.T, b broker.Broker, cash float64) (*Router, *portfolio.Tracker) {
	t.Helper()
	log := util.NewLogger("error", "text")
	tracker := portfolio.NewTracker(cash)
	recorder := NewRecorder(nil, nil, nil, nil, log)
	router := NewRouter(b, tracker, NewRiskManager(0, 0), recorder, 0.10, log)
	router.baseDelay = time.Millisecond
	return router, tracker
}

func buySignal(symbol string) domain.Signal {
	return domain.Signal{
		Symbol:      symbol,
		Action:      domain.ActionBuy,
		Strength:    1,
		Strategy:    "test",
		GeneratedAt: time.Now().UTC(),
	}
}

func TestRouterSizesBuyFromEquity(t *testing.T) {
	b := newFlakyBroker(0, nil, false)
	router, _ := newTestRouter(t, b, 100_000)

	order, err := router.Submit(context.Background(), buySignal("AAPL"), 200, 100_000)
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, order.Side)
	assert.InDelta(t, 50.0, order.Qty, 1e-9, "10% of 100k equity at 200/share")
	assert.Equal(t, domain.OrderStatusAccepted, order.Status)
}

func TestRouterRejectsBuyWithInsufficientCash(t *testing.T) {
	b := newFlakyBroker(0, nil, false)
	router, _ := newTestRouter(t, b, 1_000)

	// Equity far above cash: sized notional exceeds available cash.
	_, err := router.Submit(context.Background(), buySignal("AAPL"), 200, 100_000)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Zero(t, b.submitCalls, "validation failures never reach the broker")
}

func TestRouterRejectsSellWithNoPosition(t *testing.T) {
	b := newFlakyBroker(0, nil, false)
	router, _ := newTestRouter(t, b, 100_000)

	signal := buySignal("AAPL")
	signal.Action = domain.ActionSell
	_, err := router.Submit(context.Background(), signal, 200, 100_000)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Zero(t, b.submitCalls)
}

func TestRouterSellsEntirePosition(t *testing.T) {
	b := newFlakyBroker(0, nil, false)
	router, tracker := newTestRouter(t, b, 100_000)

	tracker.RegisterOrder("seed", 30)
	require.NoError(t, tracker.ApplyFill(domain.Fill{
		OrderID: "seed", Symbol: "AAPL", Side: domain.SideBuy,
		Qty: 30, Price: 200, Timestamp: time.Now().UTC(),
	}))

	signal := buySignal("AAPL")
	signal.Action = domain.ActionSell
	order, err := router.Submit(context.Background(), signal, 210, 100_000)
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, order.Side)
	assert.Equal(t, 30.0, order.Qty)
}

func TestRouterRetriesTransientErrors(t *testing.T) {
	transientErr := &domain.BrokerError{Reason: "rate limited", Transient: true}
	b := newFlakyBroker(2, transientErr, false)
	router, _ := newTestRouter(t, b, 100_000)

	order, err := router.Submit(context.Background(), buySignal("AAPL"), 200, 100_000)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAccepted, order.Status)
	assert.Equal(t, 3, b.submitCalls, "two transient failures, then success")
}

func TestRouterDoesNotRetryPermanentErrors(t *testing.T) {
	permanentErr := &domain.BrokerError{Reason: "account restricted", Transient: false}
	b := newFlakyBroker(10, permanentErr, false)
	router, tracker := newTestRouter(t, b, 100_000)

	_, err := router.Submit(context.Background(), buySignal("AAPL"), 200, 100_000)
	var brokerErr *domain.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, 1, b.submitCalls, "permanent rejections are not retried")
	assert.Equal(t, 100_000.0, tracker.Cash())
}

func TestRouterChecksStatusBeforeRetry(t *testing.T) {
	// The first submission times out but actually lands at the broker. The
	// retry must detect the existing order via status lookup instead of
	// creating a duplicate.
	timeoutErr := &domain.BrokerError{Reason: "request timed out", Transient: true}
	b := newFlakyBroker(1, timeoutErr, true)
	router, _ := newTestRouter(t, b, 100_000)

	order, err := router.Submit(context.Background(), buySignal("AAPL"), 200, 100_000)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAccepted, order.Status)
	assert.Equal(t, 1, b.submitCalls, "the landed order is adopted, not resubmitted")
	assert.GreaterOrEqual(t, b.statusCalls, 1)
	assert.Len(t, b.orders, 1, "exactly one live order")
}

func TestRiskManagerMaxNotional(t *testing.T) {
	rm := NewRiskManager(0, 5_000)
	order := &domain.Order{Symbol: "AAPL", Side: domain.SideBuy, Qty: 100}

	err := rm.CheckOrder(order, 200, 100_000, 0) // 20k notional > 5k cap
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)

	order.Qty = 10 // 2k notional
	assert.NoError(t, rm.CheckOrder(order, 200, 100_000, 0))
}

func TestRiskManagerMaxPositionPct(t *testing.T) {
	rm := NewRiskManager(0.10, 0)
	order := &domain.Order{Symbol: "AAPL", Side: domain.SideBuy, Qty: 40}

	// Existing 30 shares plus 40 more at 200 = 14k on 100k equity.
	err := rm.CheckOrder(order, 200, 100_000, 30)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)

	assert.NoError(t, rm.CheckOrder(order, 200, 100_000, 0), "8k within the 10% cap")
}
