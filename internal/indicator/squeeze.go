package indicator

import "futures-trading-engine/internal/market"

// Color classifies the squeeze momentum state. Green and maroon mean the
// squeeze has released (Bollinger Bands outside Keltner Channels) with rising
// or falling momentum; blue and gray mean the squeeze is still on.
type Color string

const (
	ColorGreen  Color = "green"
	ColorMaroon Color = "maroon"
	ColorBlue   Color = "blue"
	ColorGray   Color = "gray"
)

// SqueezeResult holds one squeeze momentum evaluation.
type SqueezeResult struct {
	Value    float64
	Squeezed bool
	Color    Color
}

// IsRelease reports whether moving from prev to cur constitutes a fresh
// release in the given direction: the previous color was still squeezed
// (blue or gray) and the current color is the released one.
func IsRelease(prev, cur, released Color) bool {
	return (prev == ColorBlue || prev == ColorGray) && cur == released
}

// SqueezeMomentum calculates the squeeze momentum oscillator. A squeeze is on
// while the Bollinger Bands (20, 2σ) sit inside the Keltner Channels
// (20, 1.5×ATR). Momentum is the endpoint of a least-squares regression over
// the close detrended by the midpoint of the recent range and the close
// average. Direction comes from the momentum one bar earlier, so the window
// must hold SqueezePeriod+1 candles.
func SqueezeMomentum(candles []market.Candle) (SqueezeResult, error) {
	if len(candles) < SqueezePeriod+1 {
		return SqueezeResult{}, ErrInsufficientData
	}

	closes := make([]float64, SqueezePeriod)
	last := len(candles) - 1
	for i := 0; i < SqueezePeriod; i++ {
		closes[i] = candles[last-SqueezePeriod+1+i].Close
	}

	basis := mean(closes)
	dev := stdDev(closes, basis) * squeezeBBMultiplier
	bbUpper := basis + dev
	bbLower := basis - dev

	// Keltner Channels use a simple average of true ranges over the period
	trs := trueRanges(candles[last-SqueezePeriod:])
	kcRange := mean(trs) * squeezeKCMultiplier
	kcUpper := basis + kcRange
	kcLower := basis - kcRange

	squeezed := bbUpper < kcUpper && bbLower > kcLower

	value := momentumAt(candles, last)
	prev := momentumAt(candles, last-1)
	rising := value > prev

	var color Color
	switch {
	case squeezed && rising:
		color = ColorBlue
	case squeezed:
		color = ColorGray
	case rising:
		color = ColorGreen
	default:
		color = ColorMaroon
	}

	return SqueezeResult{Value: value, Squeezed: squeezed, Color: color}, nil
}

// momentumAt computes the oscillator for the window ending at endIdx: each
// close is detrended by the average of the range midpoint and the close SMA
// of that window, then the regression endpoint of the detrended series is the
// momentum value.
func momentumAt(candles []market.Candle, endIdx int) float64 {
	window := candles[endIdx-SqueezePeriod+1 : endIdx+1]

	highest := window[0].High
	lowest := window[0].Low
	smaClose := 0.0
	for _, c := range window {
		if c.High > highest {
			highest = c.High
		}
		if c.Low < lowest {
			lowest = c.Low
		}
		smaClose += c.Close
	}
	smaClose /= float64(len(window))
	base := ((highest+lowest)/2 + smaClose) / 2

	detrended := make([]float64, len(window))
	for i, c := range window {
		detrended[i] = c.Close - base
	}
	return linRegEndpoint(detrended)
}
