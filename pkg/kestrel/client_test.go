package kestrel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/engine"
	"kestrel/internal/httpapi"
)

func testServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(httpapi.StatusResponse{Status: engine.Status{
			Mode:    "paper",
			Running: true,
			Lanes:   map[string]engine.LaneStatus{"AAPL": {Symbol: "AAPL", State: engine.StateIdle}},
		}})
	})
	mux.HandleFunc("GET /api/v1/portfolio", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(httpapi.PortfolioResponse{Snapshot: domain.PortfolioSnapshot{
			Cash: 95_000, Equity: 101_000, At: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		}})
	})
	mux.HandleFunc("GET /api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") == "filled" {
			json.NewEncoder(w).Encode(httpapi.OrdersResponse{Orders: []domain.Order{{ID: "o1", Status: domain.OrderStatusFilled}}})
			return
		}
		json.NewEncoder(w).Encode(httpapi.OrdersResponse{})
	})
	mux.HandleFunc("GET /api/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "o1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "order not found"})
			return
		}
		json.NewEncoder(w).Encode(httpapi.OrderResponse{
			Order: domain.Order{ID: "o1", Symbol: "AAPL"},
			Fills: []domain.Fill{{OrderID: "o1", Qty: 10, Price: 100}},
		})
	})
	mux.HandleFunc("POST /api/v1/stop", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(httpapi.StopResponse{Stopping: true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL)
}

func TestClientStatus(t *testing.T) {
	_, c := testServer(t)

	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Mode != "paper" {
		t.Errorf("expected mode paper, got %q", status.Mode)
	}
	if status.Lanes["AAPL"].State != engine.StateIdle {
		t.Errorf("expected AAPL lane idle, got %q", status.Lanes["AAPL"].State)
	}
}

func TestClientPortfolio(t *testing.T) {
	_, c := testServer(t)

	snap, err := c.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	if snap.Equity != 101_000 {
		t.Errorf("expected equity 101000, got %v", snap.Equity)
	}
}

func TestClientOrders(t *testing.T) {
	_, c := testServer(t)

	orders, err := c.Orders(context.Background(), domain.OrderStatusFilled)
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "o1" {
		t.Fatalf("unexpected orders: %+v", orders)
	}

	order, fills, err := c.Order(context.Background(), "o1")
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if order.Symbol != "AAPL" || len(fills) != 1 {
		t.Errorf("unexpected order %+v with %d fills", order, len(fills))
	}

	if _, _, err := c.Order(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing order")
	}
}

func TestClientStop(t *testing.T) {
	_, c := testServer(t)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
