package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"kestrel/internal/domain"
	"kestrel/internal/store"
	"kestrel/internal/util"
)

// AlpacaFeed streams live bars for a set of symbols from the Alpaca
// market-data WebSocket feed.
type AlpacaFeed struct {
	apiKey    string
	apiSecret string
	dataFeed  string
	symbols   []string
	interval  domain.Interval
	// aggs merges minute bars up to the configured interval, one aggregator
	// per symbol. Nil when the interval is one minute.
	aggs map[string]*Aggregator
	out  chan domain.Candle
	log  *slog.Logger
}

// NewAlpacaFeed creates a live feed for the given symbols. dataFeed selects
// the Alpaca data plan ("iex" or "sip").
func NewAlpacaFeed(apiKey, apiSecret, dataFeed string, symbols []string, interval domain.Interval, log *slog.Logger) *AlpacaFeed {
	f := &AlpacaFeed{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		dataFeed:  dataFeed,
		symbols:   symbols,
		interval:  interval,
		out:       make(chan domain.Candle, 256),
		log:       log.With("feed", "alpaca"),
	}
	if interval != domain.Interval1m {
		f.aggs = make(map[string]*Aggregator, len(symbols))
		for _, symbol := range symbols {
			f.aggs[symbol] = NewAggregator(symbol, interval)
		}
	}
	return f
}

func (f *AlpacaFeed) Name() string { return "alpaca" }

func (f *AlpacaFeed) Candles() <-chan domain.Candle { return f.out }

// Run connects to the Alpaca stream and subscribes to minute bars,
// aggregating them up to the configured interval when it is coarser than one
// minute. Blocks until ctx is cancelled or the stream terminates.
func (f *AlpacaFeed) Run(ctx context.Context) error {
	defer close(f.out)

	client := stream.NewStocksClient(
		marketdata.Feed(f.dataFeed),
		stream.WithCredentials(f.apiKey, f.apiSecret),
	)
	if err := client.Connect(ctx); err != nil {
		return &domain.BrokerError{Reason: "connecting to market data stream", Transient: true, Err: err}
	}

	if err := client.SubscribeToBars(f.handleBar, f.symbols...); err != nil {
		return fmt.Errorf("subscribing to bars: %w", err)
	}
	f.log.Info("subscribed to live bars", "symbols", f.symbols, "interval", f.interval)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-client.Terminated():
		if err != nil {
			return &domain.BrokerError{Reason: "market data stream terminated", Transient: true, Err: err}
		}
		return nil
	}
}

func (f *AlpacaFeed) handleBar(bar stream.Bar) {
	symbol := strings.ToUpper(bar.Symbol)
	candle := domain.Candle{
		Symbol:   symbol,
		Interval: domain.Interval1m,
		Start:    bar.Timestamp.Truncate(time.Minute),
		End:      bar.Timestamp.Truncate(time.Minute).Add(time.Minute),
		Open:     bar.Open,
		High:     bar.High,
		Low:      bar.Low,
		Close:    bar.Close,
		Volume:   float64(bar.Volume),
	}

	// Coarser intervals emit only when a minute bar opens the next bucket.
	if agg, ok := f.aggs[symbol]; ok {
		completed := agg.ProcessBar(candle)
		if completed == nil {
			return
		}
		candle = *completed
	}

	select {
	case f.out <- candle:
	default:
		f.log.Warn("candle channel full, dropping candle", "symbol", candle.Symbol, "start", candle.Start)
	}
}

// Fetcher downloads historical candles from the Alpaca market-data REST API
// into a candle store. Requests are rate limited to stay within the API
// quota.
type Fetcher struct {
	client  *marketdata.Client
	store   store.CandleStore
	limiter *util.RateLimiter
	feed    string
	log     *slog.Logger
}

// NewFetcher creates a Fetcher writing to s. ratePerMin caps requests per
// minute; burst allows that many requests back to back after an idle stretch.
func NewFetcher(apiKey, apiSecret, dataURL, dataFeed string, s store.CandleStore, ratePerMin, burst int, log *slog.Logger) *Fetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &Fetcher{
		client:  marketdata.NewClient(opts),
		store:   s,
		limiter: util.NewRateLimiterBurst(ratePerMin, burst),
		feed:    dataFeed,
		log:     log.With("component", "fetcher"),
	}
}

// Fetch downloads candles for the given symbols and time range and writes
// them to the store, one multi-symbol request per call.
func (f *Fetcher) Fetch(ctx context.Context, symbols []string, interval domain.Interval, start, end time.Time) (int, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	tf, err := timeFrame(interval)
	if err != nil {
		return 0, err
	}

	multiBars, err := f.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
		Feed:      marketdata.Feed(f.feed),
	})
	if err != nil {
		return 0, fmt.Errorf("GetMultiBars: %w", err)
	}

	var candles []domain.Candle
	for symbol, bars := range multiBars {
		for _, b := range bars {
			c := domain.Candle{
				Symbol:   strings.ToUpper(symbol),
				Interval: interval,
				Start:    b.Timestamp,
				End:      b.Timestamp.Add(interval.Duration()),
				Open:     b.Open,
				High:     b.High,
				Low:      b.Low,
				Close:    b.Close,
				Volume:   float64(b.Volume),
			}
			candles = append(candles, c)
		}
	}

	if err := f.store.WriteCandles(ctx, candles); err != nil {
		return 0, fmt.Errorf("writing candles: %w", err)
	}
	f.log.Info("fetched candles", "count", len(candles), "symbols", len(symbols), "interval", interval)
	return len(candles), nil
}

func timeFrame(interval domain.Interval) (marketdata.TimeFrame, error) {
	switch interval {
	case domain.Interval1m:
		return marketdata.OneMin, nil
	case domain.Interval5m:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.Interval1h:
		return marketdata.OneHour, nil
	case domain.Interval1d:
		return marketdata.OneDay, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported interval %q", interval)
	}
}
