package indicator

import (
	"math"

	"futures-trading-engine/internal/market"
)

// trueRanges returns the true range of each candle after the first:
// max(high-low, |high-prevClose|, |low-prevClose|).
func trueRanges(candles []market.Candle) []float64 {
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(high-low, math.Max(
			math.Abs(high-prevClose),
			math.Abs(low-prevClose),
		))
		trs = append(trs, tr)
	}
	return trs
}

// ATR calculates the Average True Range with Wilder smoothing: the first
// value is a simple average of the first period true ranges, every later one
// is atr = (prev·(period-1) + tr) / period. Needs period+1 candles (the first
// true range consumes one previous close).
func ATR(candles []market.Candle, period int) (float64, error) {
	if period < 1 || len(candles) < period+1 {
		return 0, ErrInsufficientData
	}

	trs := trueRanges(candles)

	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)

	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, nil
}

// wilderSmooth applies the Wilder recurrence s₀ = x₀,
// sᵢ = sᵢ₋₁·(1-1/period) + xᵢ·(1/period), returning the full smoothed series.
func wilderSmooth(xs []float64, period int) []float64 {
	alpha := 1.0 / float64(period)
	out := make([]float64, len(xs))
	for i, x := range xs {
		if i == 0 {
			out[i] = x
			continue
		}
		out[i] = out[i-1]*(1-alpha) + x*alpha
	}
	return out
}

// ADX calculates the Average Directional Index on a 0–100 scale: directional
// movements and true ranges are Wilder-smoothed into +DI/-DI, their spread
// becomes DX, and ADX is the Wilder-smoothed DX. Needs 2×period candles.
func ADX(candles []market.Candle, period int) (float64, error) {
	if period < 1 || len(candles) < 2*period {
		return 0, ErrInsufficientData
	}

	n := len(candles) - 1
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < len(candles); i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low

		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}
	}

	trS := wilderSmooth(trueRanges(candles), period)
	plusS := wilderSmooth(plusDM, period)
	minusS := wilderSmooth(minusDM, period)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if trS[i] == 0 {
			continue
		}
		plusDI := 100 * plusS[i] / trS[i]
		minusDI := 100 * minusS[i] / trS[i]
		if sum := plusDI + minusDI; sum != 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
		}
	}

	adx := wilderSmooth(dx, period)
	return adx[n-1], nil
}
