// Package feed provides candle data sources for the trading engine: a
// historical replay feed for backtests, a live Alpaca stream feed, and a
// tick-to-candle aggregator.
package feed

import (
	"context"

	"kestrel/internal/domain"
)

// Feed is a source of candles. Run blocks, producing candles on the Candles
// channel until the source is exhausted or ctx is cancelled; the channel is
// closed when Run returns.
type Feed interface {
	// Name returns the feed identifier.
	Name() string

	// Run starts producing candles. It blocks until the feed is exhausted or
	// ctx is cancelled.
	Run(ctx context.Context) error

	// Candles returns the channel candles are delivered on.
	Candles() <-chan domain.Candle
}

// ChannelFeed replays a fixed candle slice. Used in tests and by components
// that already hold candles in memory.
type ChannelFeed struct {
	name    string
	candles []domain.Candle
	out     chan domain.Candle
}

// NewChannelFeed creates a feed that emits the given candles in order.
func NewChannelFeed(name string, candles []domain.Candle) *ChannelFeed {
	return &ChannelFeed{
		name:    name,
		candles: candles,
		out:     make(chan domain.Candle),
	}
}

func (f *ChannelFeed) Name() string { return f.name }

func (f *ChannelFeed) Candles() <-chan domain.Candle { return f.out }

func (f *ChannelFeed) Run(ctx context.Context) error {
	defer close(f.out)
	for _, c := range f.candles {
		select {
		case f.out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
