package market

import (
	"fmt"
	"time"
)

// Timeframe represents a supported candle interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// ValidTimeframes lists every interval the engine accepts in configuration
var ValidTimeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe4h, Timeframe1d,
}

// Duration returns the wall-clock length of one candle of this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// IsValid reports whether the timeframe is one the engine supports.
func (tf Timeframe) IsValid() bool {
	for _, v := range ValidTimeframes {
		if tf == v {
			return true
		}
	}
	return false
}

// Candle is one OHLCV bar. OpenTime is unix milliseconds of the bar open.
// Candles are immutable once produced; the engine only ever appends them.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// TypicalPrice returns (high + low + close) / 3.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3.0
}

// Time returns the bar open time as a time.Time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// ClosedCandle is a completed candle tagged with its symbol and timeframe,
// the unit of work pushed by a feed into the engine.
type ClosedCandle struct {
	Symbol    string
	Timeframe Timeframe
	Candle    Candle
}

// Series is an ordered window of candles for a single timeframe. Append
// enforces the per-timeframe contract: strictly increasing open times. It
// keeps at most maxLen candles, dropping the oldest.
type Series struct {
	Timeframe Timeframe
	candles   []Candle
	maxLen    int
}

// NewSeries creates a bounded candle series for one timeframe.
func NewSeries(tf Timeframe, maxLen int) *Series {
	return &Series{
		Timeframe: tf,
		candles:   make([]Candle, 0, maxLen),
		maxLen:    maxLen,
	}
}

// Append adds a candle to the series. Candles with open times at or before
// the newest element are rejected so replays and reconnect replays cannot
// corrupt the window.
func (s *Series) Append(c Candle) error {
	if n := len(s.candles); n > 0 && c.OpenTime <= s.candles[n-1].OpenTime {
		return fmt.Errorf("candle out of order: %d <= %d (%s)",
			c.OpenTime, s.candles[n-1].OpenTime, s.Timeframe)
	}
	s.candles = append(s.candles, c)
	if len(s.candles) > s.maxLen {
		s.candles = s.candles[len(s.candles)-s.maxLen:]
	}
	return nil
}

// Candles returns the underlying window. Callers must not mutate it.
func (s *Series) Candles() []Candle {
	return s.candles
}

// Len returns the number of candles currently in the window.
func (s *Series) Len() int {
	return len(s.candles)
}

// Last returns the newest candle and whether one exists.
func (s *Series) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// WeeklyAnchor returns the unix-millisecond timestamp of the most recent
// weekly open (Monday 00:00 UTC) at or before ts. Anchored VWAP resets there.
func WeeklyAnchor(ts int64) int64 {
	t := time.UnixMilli(ts).UTC()
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	monday := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -daysSinceMonday)
	return monday.UnixMilli()
}
