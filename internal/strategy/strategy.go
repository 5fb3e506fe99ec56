// Package strategy defines the Strategy contract for trading strategies and
// provides a Registry of named strategy factories.
//
// A Strategy instance is bound to exactly one symbol. Given the ordered,
// bounded candle history for that symbol it deterministically produces one
// signal per candle. Indicator state belongs to the instance and is never
// shared across symbols; strategies contain no mode-specific logic, so the
// same instance behaves identically in live, paper, and backtest runs.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kestrel/internal/domain"
)

// Strategy is the interface all trading strategies implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup required before the strategy begins
	// processing candles.
	Init(ctx context.Context) error

	// OnCandle evaluates the updated history (oldest first, newest last) and
	// returns exactly one signal. HOLD means no action.
	OnCandle(ctx context.Context, history []domain.Candle) (domain.Signal, error)
}

// Params carries strategy tuning values from configuration.
type Params map[string]float64

// Get returns the named parameter, or fallback when absent.
func (p Params) Get(name string, fallback float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return fallback
}

// Factory builds a fresh strategy instance for one symbol.
type Factory func(symbol string, params Params) (Strategy, error)

// Registry holds named strategy factories. The engine builds one instance per
// (strategy, symbol) binding so that indicator state stays per symbol.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds a strategy instance by name for the given symbol.
func (r *Registry) New(name, symbol string, params Params) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(symbol, params)
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
