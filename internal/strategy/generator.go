// Package strategy evaluates entry conditions on each entry-timeframe candle
// close and emits at most one signal per evaluation.
package strategy

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/indicator"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/trend"
)

// SignalType is the direction of an entry signal
type SignalType string

const (
	LongEntry  SignalType = "LONG_ENTRY"
	ShortEntry SignalType = "SHORT_ENTRY"
)

// Snapshot is the committed indicator state for one evaluation cycle. The
// previous squeeze color is written before the current one is overwritten,
// which is what makes release edges detectable.
type Snapshot struct {
	CandleTime       int64           `json:"candle_time"`
	Price            float64         `json:"price"`
	VWAP             float64         `json:"vwap"`
	WeeklyAnchorTime int64           `json:"weekly_anchor_time"`
	SqueezeValue     float64         `json:"squeeze_value"`
	SqueezeColor     indicator.Color `json:"squeeze_color"`
	PrevSqueezeColor indicator.Color `json:"previous_squeeze_color"`
	Squeezed         bool            `json:"is_squeezed"`
	ADX              float64         `json:"adx"`
	ATR              float64         `json:"atr"`
	RVOL             float64         `json:"rvol"`
	FilterTrend      trend.Direction `json:"filter_trend"`
}

// Signal is an immutable entry signal, consumed once by the risk manager.
type Signal struct {
	ID        string     `json:"id"`
	Type      SignalType `json:"type"`
	Timestamp int64      `json:"timestamp"`
	Price     float64    `json:"price"`
	Snapshot  Snapshot   `json:"indicators"`
}

// SuspensionCheck reports whether signal output is currently suspended.
// The risk manager owns the flag; the generator only reads it.
type SuspensionCheck interface {
	Suspended() bool
}

// Generator evaluates the entry conditions. One instance per symbol; not
// safe for concurrent use, which the single-cycle-at-a-time rule guarantees.
type Generator struct {
	cfg        config.IndicatorConfig
	suspension SuspensionCheck
	bus        *events.Bus
	logger     zerolog.Logger

	// Rolling squeeze color pair for edge detection
	currentColor  indicator.Color
	previousColor indicator.Color
}

// NewGenerator creates a signal generator. suspension may be nil when no
// panic control is wired (pure indicator tests).
func NewGenerator(cfg config.IndicatorConfig, suspension SuspensionCheck, bus *events.Bus, logger zerolog.Logger) *Generator {
	return &Generator{
		cfg:           cfg,
		suspension:    suspension,
		bus:           bus,
		logger:        logger.With().Str("component", "strategy").Logger(),
		currentColor:  indicator.ColorGray,
		previousColor: indicator.ColorGray,
	}
}

// Evaluate runs one evaluation cycle over a completed entry-timeframe window
// against the last committed filter-timeframe trend. It returns at most one
// signal; a nil signal with a populated snapshot is the normal quiet cycle.
// Indicator windows that are too short or numerically invalid suppress the
// signal without error.
func (g *Generator) Evaluate(candles []market.Candle, filterTrend trend.Direction) (*Signal, Snapshot) {
	snap := Snapshot{FilterTrend: filterTrend}
	if len(candles) == 0 {
		return nil, snap
	}

	last := candles[len(candles)-1]
	snap.CandleTime = last.OpenTime
	snap.Price = last.Close
	snap.WeeklyAnchorTime = market.WeeklyAnchor(last.OpenTime)

	usable := true

	vwap, err := indicator.VWAP(candles, snap.WeeklyAnchorTime)
	if err != nil {
		usable = false
	}
	snap.VWAP = vwap

	squeeze, err := indicator.SqueezeMomentum(candles)
	if err != nil {
		usable = false
	} else {
		// Previous is committed before current is overwritten
		g.previousColor = g.currentColor
		g.currentColor = squeeze.Color
	}
	snap.SqueezeValue = squeeze.Value
	snap.Squeezed = squeeze.Squeezed
	snap.SqueezeColor = g.currentColor
	snap.PrevSqueezeColor = g.previousColor

	adx, err := indicator.ADX(candles, g.cfg.ADXPeriod)
	if err != nil {
		usable = false
	}
	snap.ADX = adx

	atr, err := indicator.ATR(candles, g.cfg.ATRPeriod)
	if err != nil {
		usable = false
	}
	snap.ATR = atr

	rvol, err := indicator.RVOL(candles, g.cfg.RVOLPeriod)
	if err != nil {
		usable = false
	}
	snap.RVOL = rvol

	if !usable || !validSnapshot(snap) {
		return nil, snap
	}

	return g.signalFor(snap), snap
}

// signalFor turns a committed snapshot into a signal, or nil when no gate
// combination fires or output is suspended.
func (g *Generator) signalFor(snap Snapshot) *Signal {
	sigType, ok := g.entryType(snap)
	if !ok {
		return nil
	}

	if g.suspension != nil && g.suspension.Suspended() {
		g.logger.Warn().
			Str("type", string(sigType)).
			Float64("price", snap.Price).
			Msg("signal discarded while suspended")
		if g.bus != nil {
			g.bus.Publish(events.Event{
				Type: events.EventSignalSkipped,
				Data: map[string]interface{}{
					"type":   string(sigType),
					"price":  snap.Price,
					"reason": "suspended",
				},
			})
		}
		return nil
	}

	sig := &Signal{
		ID:        uuid.NewString(),
		Type:      sigType,
		Timestamp: snap.CandleTime,
		Price:     snap.Price,
		Snapshot:  snap,
	}

	g.logger.Info().
		Str("type", string(sigType)).
		Float64("price", sig.Price).
		Float64("adx", snap.ADX).
		Float64("rvol", snap.RVOL).
		Str("squeeze", string(snap.SqueezeColor)).
		Msg("entry signal")
	if g.bus != nil {
		g.bus.Publish(events.Event{
			Type: events.EventSignalGenerated,
			Data: map[string]interface{}{
				"id":    sig.ID,
				"type":  string(sigType),
				"price": sig.Price,
			},
		})
	}
	return sig
}

// entryType applies the entry gates. Long and short are mutually exclusive by
// construction: the trend filter alone can never satisfy both sides.
func (g *Generator) entryType(snap Snapshot) (SignalType, bool) {
	gates := snap.ADX > g.cfg.ADXThreshold && snap.RVOL > g.cfg.RVOLThreshold
	if !gates {
		return "", false
	}

	if snap.Price > snap.VWAP &&
		snap.FilterTrend == trend.Bullish &&
		indicator.IsRelease(snap.PrevSqueezeColor, snap.SqueezeColor, indicator.ColorGreen) {
		return LongEntry, true
	}

	if snap.Price < snap.VWAP &&
		snap.FilterTrend == trend.Bearish &&
		indicator.IsRelease(snap.PrevSqueezeColor, snap.SqueezeColor, indicator.ColorMaroon) {
		return ShortEntry, true
	}

	return "", false
}

func validSnapshot(snap Snapshot) bool {
	for _, v := range []float64{snap.Price, snap.VWAP, snap.SqueezeValue, snap.ADX, snap.ATR, snap.RVOL} {
		if !indicator.Valid(v) {
			return false
		}
	}
	return true
}
