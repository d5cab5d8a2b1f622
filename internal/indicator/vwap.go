package indicator

import "futures-trading-engine/internal/market"

// VWAP calculates the volume-weighted average price anchored at anchorTime:
// sum(typical price × volume) / sum(volume) over candles with an open time at
// or after the anchor. Fails with ErrInsufficientData when no candle reaches
// the anchor or the anchored window carries no volume.
func VWAP(candles []market.Candle, anchorTime int64) (float64, error) {
	var cumTPV, cumVolume float64

	for _, c := range candles {
		if c.OpenTime < anchorTime {
			continue
		}
		cumTPV += c.TypicalPrice() * c.Volume
		cumVolume += c.Volume
	}

	if cumVolume == 0 {
		return 0, ErrInsufficientData
	}
	return cumTPV / cumVolume, nil
}
