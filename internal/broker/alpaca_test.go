package broker

import (
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/domain"
	"kestrel/internal/util"
)

func newTestAlpaca(t *testing.T) *AlpacaBroker {
	t.Helper()
	return NewAlpacaBroker("key", "secret", "", util.NewLogger("error", "text"))
}

func tradeUpdate(event, clientOrderID string, price, qty float64, at time.Time) alpaca.TradeUpdate {
	p := decimal.NewFromFloat(price)
	q := decimal.NewFromFloat(qty)
	return alpaca.TradeUpdate{
		At:    at,
		Event: event,
		Price: &p,
		Qty:   &q,
		Order: alpaca.Order{
			ClientOrderID: clientOrderID,
			Symbol:        "AAPL",
			Side:          alpaca.Buy,
		},
	}
}

func TestAlpacaTradeUpdateForwardsFills(t *testing.T) {
	b := newTestAlpaca(t)
	at := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

	b.handleTradeUpdate(tradeUpdate("fill", "o1", 100.5, 10, at))

	select {
	case fill := <-b.Fills():
		assert.Equal(t, "o1", fill.OrderID)
		assert.Equal(t, "AAPL", fill.Symbol)
		assert.Equal(t, domain.SideBuy, fill.Side)
		assert.Equal(t, 10.0, fill.Qty)
		assert.Equal(t, 100.5, fill.Price)
		assert.Equal(t, at, fill.Timestamp)
	default:
		t.Fatal("expected a fill on the channel")
	}
}

func TestAlpacaTradeUpdateIgnoresNonFillEvents(t *testing.T) {
	b := newTestAlpaca(t)
	at := time.Now()

	for _, event := range []string{"new", "canceled", "rejected", "pending_new"} {
		b.handleTradeUpdate(tradeUpdate(event, "o1", 100, 10, at))
	}
	b.handleTradeUpdate(alpaca.TradeUpdate{Event: "fill", Order: alpaca.Order{ClientOrderID: "o2"}}) // no price/qty

	select {
	case fill := <-b.Fills():
		t.Fatalf("unexpected fill forwarded: %+v", fill)
	default:
	}
}

func TestAlpacaStatusMapping(t *testing.T) {
	cases := map[string]domain.OrderStatus{
		"new":              domain.OrderStatusAccepted,
		"accepted":         domain.OrderStatusAccepted,
		"partially_filled": domain.OrderStatusPartiallyFilled,
		"filled":           domain.OrderStatusFilled,
		"canceled":         domain.OrderStatusCancelled,
		"expired":          domain.OrderStatusCancelled,
		"rejected":         domain.OrderStatusRejected,
		"calculated":       domain.OrderStatusSubmitted, // unknown keeps polling
	}
	for status, want := range cases {
		assert.Equal(t, want, mapAlpacaStatus(status), "alpaca status %q", status)
	}
}

func TestClassifyAlpacaErrTransient(t *testing.T) {
	transient := classifyAlpacaErr("placing order", &alpaca.APIError{StatusCode: 429})
	require.True(t, domain.IsTransientBroker(transient))

	server := classifyAlpacaErr("placing order", &alpaca.APIError{StatusCode: 503})
	require.True(t, domain.IsTransientBroker(server))

	permanent := classifyAlpacaErr("placing order", &alpaca.APIError{StatusCode: 403})
	require.False(t, domain.IsTransientBroker(permanent))
}
