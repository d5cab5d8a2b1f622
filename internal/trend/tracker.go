// Package trend classifies the higher-timeframe market direction the entry
// strategy filters on.
package trend

import (
	"github.com/rs/zerolog"

	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/market"
)

// Direction is a committed trend state
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Neutral Direction = "NEUTRAL"
)

// Tracker is a per-timeframe trend state machine. The state transitions only
// on a completed candle close of its own timeframe and persists unchanged in
// between, so callers always read the last committed classification.
type Tracker struct {
	timeframe market.Timeframe
	state     Direction
	bus       *events.Bus
	logger    zerolog.Logger
}

// NewTracker creates a tracker starting in the NEUTRAL state.
func NewTracker(tf market.Timeframe, bus *events.Bus, logger zerolog.Logger) *Tracker {
	return &Tracker{
		timeframe: tf,
		state:     Neutral,
		bus:       bus,
		logger:    logger.With().Str("component", "trend").Str("timeframe", string(tf)).Logger(),
	}
}

// Timeframe returns the timeframe this tracker commits on.
func (t *Tracker) Timeframe() market.Timeframe {
	return t.timeframe
}

// State returns the last committed direction.
func (t *Tracker) State() Direction {
	return t.state
}

// Commit classifies a completed candle of the tracker's timeframe: BULLISH
// when the close is above VWAP with non-negative momentum, BEARISH when below
// with non-positive momentum, NEUTRAL otherwise. A change emits an
// informational trend-change event.
func (t *Tracker) Commit(c market.Candle, vwap, momentum float64) Direction {
	next := classify(c.Close, vwap, momentum)
	if next != t.state {
		prev := t.state
		t.state = next
		t.logger.Info().
			Str("from", string(prev)).
			Str("to", string(next)).
			Float64("close", c.Close).
			Float64("vwap", vwap).
			Msg("trend changed")
		if t.bus != nil {
			t.bus.Publish(events.Event{
				Type: events.EventTrendChanged,
				Data: map[string]interface{}{
					"timeframe": string(t.timeframe),
					"from":      string(prev),
					"to":        string(next),
					"close":     c.Close,
					"vwap":      vwap,
					"open_time": c.OpenTime,
				},
			})
		}
	}
	return t.state
}

func classify(close, vwap, momentum float64) Direction {
	switch {
	case close > vwap && momentum >= 0:
		return Bullish
	case close < vwap && momentum <= 0:
		return Bearish
	default:
		return Neutral
	}
}
