// Package risk sizes positions, manages stops and owns the trading kill
// switch. All position mutations for a symbol pass through the Manager.
package risk

import (
	"errors"
	"fmt"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/indicator"
)

var (
	// ErrBelowMinimumOrderSize means the computed quantity or notional is
	// under the venue minimum and no order should be placed.
	ErrBelowMinimumOrderSize = errors.New("order below minimum size")

	// ErrInvalidSizingInput means balance, price or ATR is unusable.
	ErrInvalidSizingInput = errors.New("invalid sizing input")
)

// PositionSize is the outcome of the fixed-fractional sizing formula.
type PositionSize struct {
	Quantity     float64 `json:"quantity"`
	StopDistance float64 `json:"stop_distance"`
	RiskAmount   float64 `json:"risk_amount"`
	Margin       float64 `json:"margin"`
	Notional     float64 `json:"notional"`
}

// CalculatePositionSize sizes an order so that a stop-out loses a fixed
// fraction of the account. The stop distance is a multiple of ATR, so
// quantity shrinks as volatility grows.
func CalculatePositionSize(balance, entryPrice, atr float64, cfg config.RiskConfig) (PositionSize, error) {
	if balance <= 0 || entryPrice <= 0 || atr <= 0 ||
		!indicator.Valid(balance) || !indicator.Valid(entryPrice) || !indicator.Valid(atr) {
		return PositionSize{}, fmt.Errorf("%w: balance=%v price=%v atr=%v",
			ErrInvalidSizingInput, balance, entryPrice, atr)
	}

	stopDistance := cfg.StopLossATRMult * atr
	riskAmount := balance * cfg.RiskPerTrade
	quantity := riskAmount / stopDistance
	notional := quantity * entryPrice

	if quantity < cfg.MinOrderQuantity || notional < cfg.MinOrderNotional {
		return PositionSize{}, fmt.Errorf("%w: quantity=%v notional=%v",
			ErrBelowMinimumOrderSize, quantity, notional)
	}

	return PositionSize{
		Quantity:     quantity,
		StopDistance: stopDistance,
		RiskAmount:   riskAmount,
		Margin:       notional / float64(cfg.Leverage),
		Notional:     notional,
	}, nil
}
