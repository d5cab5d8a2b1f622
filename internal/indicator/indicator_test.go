package indicator

import (
	"errors"
	"math"
	"testing"

	"futures-trading-engine/internal/market"
)

func almostEqual(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff/scale < 1e-6
}

func TestVWAPAnchored(t *testing.T) {
	candles := []market.Candle{
		// Before the anchor, must be ignored
		{OpenTime: 500, High: 1000, Low: 1000, Close: 1000, Volume: 99},
		// tp = 10, volume 2
		{OpenTime: 1000, High: 12, Low: 8, Close: 10, Volume: 2},
		// tp = 20, volume 3
		{OpenTime: 2000, High: 24, Low: 16, Close: 20, Volume: 3},
	}

	got, err := VWAP(candles, 1000)
	if err != nil {
		t.Fatalf("VWAP failed: %v", err)
	}
	// (10*2 + 20*3) / 5 = 16
	if !almostEqual(got, 16) {
		t.Errorf("VWAP = %f, want 16", got)
	}
}

func TestVWAPInsufficientData(t *testing.T) {
	candles := []market.Candle{
		{OpenTime: 1000, Close: 10, Volume: 2},
	}

	// No candle at or after the anchor
	if _, err := VWAP(candles, 5000); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}

	// Anchored window with zero volume
	zero := []market.Candle{{OpenTime: 6000, Close: 10, Volume: 0}}
	if _, err := VWAP(zero, 5000); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for zero volume, got %v", err)
	}
}

func TestATRWilderSmoothing(t *testing.T) {
	candles := []market.Candle{
		{High: 10, Low: 10, Close: 10},
		{High: 12, Low: 10, Close: 11},
		{High: 13, Low: 11, Close: 12},
		{High: 14, Low: 12, Close: 13},
	}

	got, err := ATR(candles, 3)
	if err != nil {
		t.Fatalf("ATR failed: %v", err)
	}
	// Three true ranges of 2 each, seed average = 2
	if !almostEqual(got, 2) {
		t.Errorf("ATR = %f, want 2", got)
	}

	// One more candle with TR = 5: atr = (2*2 + 5)/3
	candles = append(candles, market.Candle{High: 18, Low: 14, Close: 16})
	got, err = ATR(candles, 3)
	if err != nil {
		t.Fatalf("ATR failed: %v", err)
	}
	if !almostEqual(got, 3) {
		t.Errorf("ATR after smoothing = %f, want 3", got)
	}
}

func TestATRInsufficientData(t *testing.T) {
	candles := []market.Candle{
		{High: 10, Low: 9, Close: 9.5},
		{High: 11, Low: 10, Close: 10.5},
	}
	if _, err := ATR(candles, 14); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestADXTrendingMarket(t *testing.T) {
	// Steady uptrend: all directional movement is positive, so ADX must
	// report a strong trend.
	candles := make([]market.Candle, 40)
	for i := range candles {
		base := 100.0 + float64(i)
		candles[i] = market.Candle{
			OpenTime: int64(i) * 1000,
			Open:     base,
			High:     base + 1,
			Low:      base,
			Close:    base + 0.5,
			Volume:   100,
		}
	}

	adx, err := ADX(candles, 14)
	if err != nil {
		t.Fatalf("ADX failed: %v", err)
	}
	if adx <= 25 || adx > 100 {
		t.Errorf("ADX in steady uptrend = %f, want strong trend in (25, 100]", adx)
	}
}

func TestADXInsufficientData(t *testing.T) {
	candles := make([]market.Candle, 27) // needs 2*14 = 28
	if _, err := ADX(candles, 14); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestRVOLExactValue(t *testing.T) {
	candles := make([]market.Candle, 21)
	for i := range candles {
		candles[i] = market.Candle{OpenTime: int64(i) * 1000, Volume: 100}
	}
	candles[20].Volume = 150

	got, err := RVOL(candles, 20)
	if err != nil {
		t.Fatalf("RVOL failed: %v", err)
	}
	// 150 / mean(100 × 20) = 1.5 exactly
	if got != 1.5 {
		t.Errorf("RVOL = %f, want 1.5", got)
	}
}

func TestRVOLExcludesCurrentCandle(t *testing.T) {
	// If the current candle leaked into the average, the result would differ
	candles := make([]market.Candle, 5)
	volumes := []float64{10, 20, 30, 40, 200}
	for i := range candles {
		candles[i] = market.Candle{OpenTime: int64(i) * 1000, Volume: volumes[i]}
	}

	got, err := RVOL(candles, 4)
	if err != nil {
		t.Fatalf("RVOL failed: %v", err)
	}
	// 200 / mean(10,20,30,40) = 200/25 = 8
	if !almostEqual(got, 8) {
		t.Errorf("RVOL = %f, want 8", got)
	}
}

func TestRVOLZeroAverageVolume(t *testing.T) {
	candles := make([]market.Candle, 21)
	candles[20].Volume = 50
	if _, err := RVOL(candles, 20); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for zero average volume, got %v", err)
	}
}

// flatSqueezedCandles builds a window where closes are flat (zero Bollinger
// width) but the bar range is wide, which keeps the squeeze on.
func flatSqueezedCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime: int64(i) * 1000,
			Open:     100,
			High:     105,
			Low:      95,
			Close:    100,
			Volume:   100,
		}
	}
	return candles
}

func TestSqueezeMomentumSqueezed(t *testing.T) {
	candles := flatSqueezedCandles(21)

	res, err := SqueezeMomentum(candles)
	if err != nil {
		t.Fatalf("SqueezeMomentum failed: %v", err)
	}
	if !res.Squeezed {
		t.Error("flat closes inside a wide range should be squeezed")
	}
	if res.Color != ColorGray && res.Color != ColorBlue {
		t.Errorf("squeezed window must be blue or gray, got %s", res.Color)
	}
}

func TestSqueezeMomentumGreenRelease(t *testing.T) {
	candles := flatSqueezedCandles(21)
	prev, err := SqueezeMomentum(candles)
	if err != nil {
		t.Fatalf("SqueezeMomentum failed: %v", err)
	}

	// A violent close above the band blows the Bollinger width out past the
	// Keltner channel and pushes momentum up.
	candles = append(candles, market.Candle{
		OpenTime: 21000, Open: 100, High: 205, Low: 95, Close: 200, Volume: 100,
	})
	cur, err := SqueezeMomentum(candles[1:])
	if err != nil {
		t.Fatalf("SqueezeMomentum failed: %v", err)
	}

	if cur.Squeezed {
		t.Error("breakout candle should release the squeeze")
	}
	if cur.Color != ColorGreen {
		t.Errorf("rising released momentum should be green, got %s", cur.Color)
	}
	if !IsRelease(prev.Color, cur.Color, ColorGreen) {
		t.Errorf("expected green release from %s to %s", prev.Color, cur.Color)
	}
}

func TestSqueezeMomentumInsufficientData(t *testing.T) {
	candles := flatSqueezedCandles(SqueezePeriod) // one short of the minimum
	if _, err := SqueezeMomentum(candles); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestIsReleaseRequiresSqueezedPrior(t *testing.T) {
	// green -> green is not a fresh release
	if IsRelease(ColorGreen, ColorGreen, ColorGreen) {
		t.Error("green to green must not be a release")
	}
	if !IsRelease(ColorBlue, ColorGreen, ColorGreen) {
		t.Error("blue to green must be a release")
	}
	if !IsRelease(ColorGray, ColorMaroon, ColorMaroon) {
		t.Error("gray to maroon must be a maroon release")
	}
	if IsRelease(ColorMaroon, ColorGreen, ColorGreen) {
		t.Error("maroon to green must not be a release")
	}
}
