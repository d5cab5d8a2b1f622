// Package history loads historical candles for backtests. ClickHouse is
// the primary source; CSV files cover local runs without infrastructure.
package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"futures-trading-engine/internal/market"
)

// ErrNoData means the source holds no candles for the requested range
var ErrNoData = errors.New("no candles in range")

// Source loads closed candles for one symbol and timeframe, ordered by
// open time ascending.
type Source interface {
	Candles(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Candle, error)
}

// CSVSource reads candles from {dir}/{symbol}_{timeframe}.csv files with
// columns open_time_ms,open,high,low,close,volume. A header row is skipped
// when present.
type CSVSource struct {
	dir string
}

func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

func (s *CSVSource) Candles(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Candle, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", symbol, tf))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle file: %w", err)
	}
	defer f.Close()

	candles, err := parseCandles(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	startMs := start.UnixMilli()
	endMs := end.UnixMilli()
	out := candles[:0]
	for _, c := range candles {
		if c.OpenTime >= startMs && c.OpenTime < endMs {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, symbol, tf)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

func parseCandles(r io.Reader) ([]market.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6

	var candles []market.Candle
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		openTime, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: bad open time %q", line, rec[0])
		}

		var vals [5]float64
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad value %q", line, rec[i+1])
			}
			vals[i] = v
		}
		candles = append(candles, market.Candle{
			OpenTime: openTime,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return candles, nil
}
