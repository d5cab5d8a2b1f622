package indicator

import "futures-trading-engine/internal/market"

// RVOL calculates relative volume: the current candle's volume divided by the
// mean volume of the preceding period candles. The current candle is excluded
// from the average, so period+1 candles are required.
func RVOL(candles []market.Candle, period int) (float64, error) {
	if period < 1 || len(candles) < period+1 {
		return 0, ErrInsufficientData
	}

	window := candles[len(candles)-1-period : len(candles)-1]
	avg := 0.0
	for _, c := range window {
		avg += c.Volume
	}
	avg /= float64(period)

	if avg == 0 {
		return 0, ErrInsufficientData
	}
	return candles[len(candles)-1].Volume / avg, nil
}
