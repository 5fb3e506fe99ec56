package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"kestrel/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface against the Alpaca trading
// API. Orders are submitted with the engine order ID as the client order ID,
// so a resubmission after an ambiguous failure maps onto the same broker
// order instead of creating a duplicate.
type AlpacaBroker struct {
	client *alpaca.Client
	fills  chan domain.Fill
	log    *slog.Logger

	mu sync.Mutex
	// brokerIDs maps engine order IDs to Alpaca order IDs for cancellation.
	brokerIDs map[string]string

	streamOnce sync.Once
}

// NewAlpacaBroker creates an AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, log *slog.Logger) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		fills:     make(chan domain.Fill, 1024),
		log:       log.With("broker", "alpaca"),
		brokerIDs: make(map[string]string),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// StartTradeUpdates subscribes to the Alpaca trade-updates stream and
// forwards fill events on the Fills channel. Call once before trading starts;
// the subscription reconnects in the background and stops when ctx is
// cancelled.
func (b *AlpacaBroker) StartTradeUpdates(ctx context.Context) {
	b.streamOnce.Do(func() {
		b.client.StreamTradeUpdatesInBackground(ctx, b.handleTradeUpdate)
	})
}

func (b *AlpacaBroker) handleTradeUpdate(tu alpaca.TradeUpdate) {
	switch tu.Event {
	case "fill", "partial_fill":
	default:
		return
	}
	if tu.Price == nil || tu.Qty == nil {
		b.log.Warn("trade update without price/qty", "event", tu.Event, "order_id", tu.Order.ClientOrderID)
		return
	}
	fill := domain.Fill{
		OrderID:   tu.Order.ClientOrderID,
		Symbol:    tu.Order.Symbol,
		Side:      domain.OrderSide(tu.Order.Side),
		Qty:       fromDecimal(tu.Qty),
		Price:     fromDecimal(tu.Price),
		Timestamp: tu.At,
	}
	select {
	case b.fills <- fill:
	default:
		b.log.Error("fill channel full, dropping fill", "order_id", fill.OrderID)
	}
}

// SubmitOrder places the order with Alpaca. The engine order ID is passed as
// the client order ID.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	qty := decimal.NewFromFloat(order.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(order.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: order.ID,
	}
	if order.LimitPrice > 0 {
		limit := decimal.NewFromFloat(order.LimitPrice)
		req.Type = alpaca.Limit
		req.LimitPrice = &limit
	}

	placed, err := b.client.PlaceOrder(req)
	if err != nil {
		return nil, classifyAlpacaErr("placing order", err)
	}

	b.mu.Lock()
	b.brokerIDs[order.ID] = placed.ID
	b.mu.Unlock()

	accepted := *order
	accepted.BrokerOrderID = placed.ID
	accepted.Status = mapAlpacaStatus(placed.Status)
	return &accepted, nil
}

// CancelOrder cancels the order with the given engine order ID.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	brokerID, ok := b.brokerIDs[orderID]
	b.mu.Unlock()
	if !ok {
		// Unknown locally; resolve via the broker so cancellation works
		// after a restart.
		placed, err := b.client.GetOrderByClientOrderID(orderID)
		if err != nil {
			return fmt.Errorf("cancel %s: %w", orderID, ErrOrderNotFound)
		}
		brokerID = placed.ID
	}
	if err := b.client.CancelOrder(brokerID); err != nil {
		return classifyAlpacaErr("cancelling order", err)
	}
	return nil
}

// GetOrderStatus looks up the order by client order ID and maps Alpaca's
// status onto the domain status set.
func (b *AlpacaBroker) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	placed, err := b.client.GetOrderByClientOrderID(orderID)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return "", fmt.Errorf("status %s: %w", orderID, ErrOrderNotFound)
		}
		return "", classifyAlpacaErr("fetching order status", err)
	}
	return mapAlpacaStatus(placed.Status), nil
}

func (b *AlpacaBroker) Fills() <-chan domain.Fill { return b.fills }

// mapAlpacaStatus translates Alpaca order statuses into the domain status
// set. Unrecognized statuses map to submitted so the router keeps polling.
func mapAlpacaStatus(status string) domain.OrderStatus {
	switch status {
	case "new", "accepted", "pending_new":
		return domain.OrderStatusAccepted
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "expired", "done_for_day", "pending_cancel":
		return domain.OrderStatusCancelled
	case "rejected", "stopped", "suspended":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusSubmitted
	}
}

// classifyAlpacaErr wraps an Alpaca client error as a BrokerError, marking
// rate limits, server errors and network timeouts as transient.
func classifyAlpacaErr(action string, err error) error {
	transient := false
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		transient = apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		transient = true
	}
	return &domain.BrokerError{Reason: action, Transient: transient, Err: err}
}

func fromDecimal(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
