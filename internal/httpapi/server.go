package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"kestrel/internal/domain"
	"kestrel/internal/engine"
	"kestrel/internal/store"
)

// EngineControl is the slice of the engine the API needs: status, the latest
// portfolio snapshot, and a stop switch.
type EngineControl interface {
	Status() engine.Status
	Snapshot() domain.PortfolioSnapshot
	Stop()
}

// Server serves the engine control API and the WebSocket event stream.
// Order, fill and signal history come from the stores the Recorder writes;
// nil stores disable those endpoints with 404s.
type Server struct {
	engine  EngineControl
	orders  store.OrderStore
	fills   store.FillStore
	signals store.SignalStore
	hub     *Hub
	addr    string
	log     *slog.Logger

	httpServer *http.Server
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, eng EngineControl, orders store.OrderStore, fills store.FillStore, signals store.SignalStore, hub *Hub, log *slog.Logger) *Server {
	return &Server{
		engine:  eng,
		orders:  orders,
		fills:   fills,
		signals: signals,
		hub:     hub,
		addr:    addr,
		log:     log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/v1/orders", s.handleOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleOrder)
	mux.HandleFunc("GET /api/v1/signals", s.handleSignals)
	mux.HandleFunc("POST /api/v1/stop", s.handleStop)
	if s.hub != nil {
		mux.HandleFunc("GET /api/v1/events", s.hub.HandleWebSocket)
	}
}

// Handler returns the full API handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// ListenAndServe starts the HTTP listener and blocks until ctx is cancelled
// or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, StatusResponse{Status: s.engine.Status()})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, PortfolioResponse{Snapshot: s.engine.Snapshot()})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		writeError(w, http.StatusNotFound, "order history not enabled")
		return
	}
	var status domain.OrderStatus
	if q := r.URL.Query().Get("status"); q != "" {
		status = domain.OrderStatus(q)
	}
	orders, err := s.orders.ListOrders(r.Context(), status)
	if err != nil {
		s.log.Error("listing orders", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	writeJSON(w, OrdersResponse{Orders: orders})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		writeError(w, http.StatusNotFound, "order history not enabled")
		return
	}
	id := r.PathValue("id")
	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("order %s not found", id))
		return
	}

	var fills []domain.Fill
	if s.fills != nil {
		fills, err = s.fills.ListFills(r.Context(), id)
		if err != nil {
			s.log.Error("listing fills", "order_id", id, "error", err)
		}
	}
	writeJSON(w, OrderResponse{Order: *order, Fills: fills})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if s.signals == nil {
		writeError(w, http.StatusNotFound, "signal history not enabled")
		return
	}
	strategyName := r.URL.Query().Get("strategy")
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	signals, err := s.signals.ListSignals(r.Context(), strategyName, limit)
	if err != nil {
		s.log.Error("listing signals", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	writeJSON(w, SignalsResponse{Signals: signals})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.log.Info("stop requested via api")
	s.engine.Stop()
	writeJSON(w, StopResponse{Stopping: true})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
