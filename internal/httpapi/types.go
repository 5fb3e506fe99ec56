// Package httpapi exposes the engine's status and records over HTTP, plus a
// WebSocket stream of trading events.
package httpapi

import (
	"kestrel/internal/domain"
	"kestrel/internal/engine"
)

// StatusResponse is the response for the status endpoint.
type StatusResponse struct {
	Status engine.Status `json:"status"`
}

// PortfolioResponse is the response for the portfolio endpoint.
type PortfolioResponse struct {
	Snapshot domain.PortfolioSnapshot `json:"snapshot"`
}

// OrdersResponse lists orders, optionally filtered by status.
type OrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// OrderResponse is a single order with its fills.
type OrderResponse struct {
	Order domain.Order  `json:"order"`
	Fills []domain.Fill `json:"fills"`
}

// SignalsResponse lists recorded signals, newest first.
type SignalsResponse struct {
	Signals []domain.Signal `json:"signals"`
}

// StopResponse acknowledges a stop request.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}
