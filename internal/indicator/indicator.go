// Package indicator provides the pure technical-indicator functions the
// strategy evaluates on every candle close. Every function is a pure function
// of its candle window: the same window always produces the same value, which
// is what keeps replayed and live evaluations identical.
package indicator

import (
	"errors"
	"math"
)

// ErrInsufficientData is returned when a candle window is too short for an
// indicator. Callers suppress signal generation for the cycle instead of
// treating it as a fault.
var ErrInsufficientData = errors.New("insufficient candle data")

// Default periods, matching the configuration defaults.
const (
	DefaultATRPeriod    = 14
	DefaultADXPeriod    = 14
	DefaultRVOLPeriod   = 20
	SqueezePeriod       = 20
	squeezeBBMultiplier = 2.0
	squeezeKCMultiplier = 1.5
)

// Valid reports whether v is a usable indicator value (not NaN or ±Inf).
func Valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	variance := 0.0
	for _, x := range xs {
		d := x - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)))
}

// linRegEndpoint fits y = a + b·x by least squares over ys (x = 0..n-1) and
// returns the fitted value at the last point.
func linRegEndpoint(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		if len(ys) == 1 {
			return ys[0]
		}
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return ys[len(ys)-1]
	}
	b := (n*sumXY - sumX*sumY) / denom
	a := (sumY - b*sumX) / n

	return a + b*(n-1)
}
