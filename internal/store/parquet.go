package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"kestrel/internal/domain"
)

// Compile-time interface check.
var _ CandleStore = (*ParquetStore)(nil)

// ParquetStore implements CandleStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// CandleRecord is the Parquet schema for candle data.
type CandleRecord struct {
	Symbol   string  `parquet:"symbol"`
	Interval string  `parquet:"interval"`
	Start    int64   `parquet:"start,timestamp(millisecond)"` // Unix ms
	End      int64   `parquet:"end,timestamp(millisecond)"`   // Unix ms
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	Volume   float64 `parquet:"volume"`
}

// ---------------------------------------------------------------------------
// CandleStore implementation
// ---------------------------------------------------------------------------

// WriteCandles writes candle data to Parquet files organized by symbol,
// interval, and year. Each combination produces a separate file at:
//
//	<DataDir>/candles/<SYMBOL>/<interval>/<YYYY>.parquet
//
// Existing files are merged and deduplicated by (symbol, interval, start).
func (s *ParquetStore) WriteCandles(_ context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	type key struct {
		symbol   string
		interval domain.Interval
		year     int
	}
	groups := make(map[key][]CandleRecord)
	for _, c := range candles {
		k := key{symbol: c.Symbol, interval: c.Interval, year: c.Start.Year()}
		groups[k] = append(groups[k], CandleRecord{
			Symbol:   c.Symbol,
			Interval: string(c.Interval),
			Start:    c.Start.UnixMilli(),
			End:      c.End.UnixMilli(),
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		})
	}

	for k, records := range groups {
		path := s.candlePath(k.symbol, k.interval, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[CandleRecord](path)
		merged := mergeCandleRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing candles for %s/%s/%d: %w", k.symbol, k.interval, k.year, err)
		}
	}
	return nil
}

// ReadCandles reads candle data from Parquet files for the given symbol,
// interval, and time range.
func (s *ParquetStore) ReadCandles(_ context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Candle, error) {
	var candles []domain.Candle
	for year := start.Year(); year <= end.Year(); year++ {
		path := s.candlePath(symbol, interval, year)

		records, err := readParquetFile[CandleRecord](path)
		if err != nil {
			// File doesn't exist for this year — skip.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Start).UTC()
			if (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end)) {
				candles = append(candles, domain.Candle{
					Symbol:   r.Symbol,
					Interval: domain.Interval(r.Interval),
					Start:    ts,
					End:      time.UnixMilli(r.End).UTC(),
					Open:     r.Open,
					High:     r.High,
					Low:      r.Low,
					Close:    r.Close,
					Volume:   r.Volume,
				})
			}
		}
	}
	return candles, nil
}

// ListSymbols lists all symbols that have candle data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "candles")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// candlePath returns the filesystem path for a candle Parquet file.
// Layout: <dataDir>/candles/<SYMBOL>/<interval>/<YYYY>.parquet
func (s *ParquetStore) candlePath(symbol string, interval domain.Interval, year int) string {
	return filepath.Join(s.DataDir, "candles", strings.ToUpper(symbol), string(interval), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeCandleRecords deduplicates candle records by (symbol, interval, start),
// preferring new records over existing ones. Results are sorted by start time.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	type key struct {
		symbol   string
		interval string
		start    int64
	}
	seen := make(map[key]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Interval, r.Start}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Interval, r.Start}] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Start < merged[j].Start
	})
	return merged
}
