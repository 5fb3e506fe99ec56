package feed

import (
	"time"

	"kestrel/internal/domain"
)

// Aggregator builds candles from individual trades. Trades are bucketed by
// interval boundary (timestamp truncated to the interval), and the previous
// bucket's candle is emitted when a trade lands in a new bucket. One
// Aggregator handles a single symbol; it is not safe for concurrent use.
type Aggregator struct {
	symbol   string
	interval domain.Interval
	current  *domain.Candle
}

// NewAggregator creates an aggregator for one symbol and interval.
func NewAggregator(symbol string, interval domain.Interval) *Aggregator {
	return &Aggregator{symbol: symbol, interval: interval}
}

// ProcessTrade folds a trade into the current candle. If the trade opens a
// new interval bucket, the completed previous candle is returned.
func (a *Aggregator) ProcessTrade(price, qty float64, at time.Time) *domain.Candle {
	step := a.interval.Duration()
	bucket := at.Truncate(step)

	if a.current == nil || bucket.After(a.current.Start) {
		completed := a.current
		a.current = &domain.Candle{
			Symbol:   a.symbol,
			Interval: a.interval,
			Start:    bucket,
			End:      bucket.Add(step),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   qty,
		}
		return completed
	}

	c := a.current
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += qty
	return nil
}

// ProcessBar folds an already-aggregated finer-grained bar into the current
// candle, bucketing by the bar's start time. If the bar opens a new interval
// bucket, the completed previous candle is returned. Used to merge minute
// bars up to coarser intervals.
func (a *Aggregator) ProcessBar(bar domain.Candle) *domain.Candle {
	step := a.interval.Duration()
	bucket := bar.Start.Truncate(step)

	if a.current == nil || bucket.After(a.current.Start) {
		completed := a.current
		a.current = &domain.Candle{
			Symbol:   a.symbol,
			Interval: a.interval,
			Start:    bucket,
			End:      bucket.Add(step),
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			Volume:   bar.Volume,
		}
		return completed
	}

	c := a.current
	if bar.High > c.High {
		c.High = bar.High
	}
	if bar.Low < c.Low {
		c.Low = bar.Low
	}
	c.Close = bar.Close
	c.Volume += bar.Volume
	return nil
}

// Flush returns the in-progress candle, if any, and resets the aggregator.
// Call on shutdown or when a session ends so the last partial candle is not
// lost.
func (a *Aggregator) Flush() *domain.Candle {
	completed := a.current
	a.current = nil
	return completed
}

// Tick advances the aggregator's clock without a trade. If now is past the
// end of the current candle, the candle is completed and returned. Used to
// close out candles for thinly traded symbols.
func (a *Aggregator) Tick(now time.Time) *domain.Candle {
	if a.current == nil || now.Before(a.current.End) {
		return nil
	}
	return a.Flush()
}
