// Package executor turns order intents into fills. The paper executor
// simulates the venue; a live adapter would implement the same interface.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/risk"
)

// MarginMode is fixed to isolated so a blown position cannot drain the
// whole account.
const MarginModeIsolated = "ISOLATED"

var ErrInsufficientMargin = errors.New("insufficient margin")

// OpenIntent asks for a market entry with a protective stop
type OpenIntent struct {
	Symbol     string    `json:"symbol"`
	Side       risk.Side `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	Margin     float64   `json:"margin"`
	Leverage   int       `json:"leverage"`
	MarginMode string    `json:"margin_mode"`
}

// CloseIntent asks for a market close of an open position
type CloseIntent struct {
	Symbol   string    `json:"symbol"`
	Side     risk.Side `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
}

// Fill is the executed price and the fee charged for one order
type Fill struct {
	Price float64 `json:"price"`
	Fee   float64 `json:"fee"`
}

// Executor places orders. Implementations must be safe to call from the
// engine's single cycle goroutine.
type Executor interface {
	ExecuteOpen(ctx context.Context, intent OpenIntent) (Fill, error)
	ExecuteClose(ctx context.Context, intent CloseIntent) (Fill, error)
}

// PaperExecutor simulates fills with fixed fee and slippage rates. Buys
// fill above the reference price and sells below it, so slippage always
// costs the account.
type PaperExecutor struct {
	feeRate   float64
	slippage  float64
	available func() float64
	logger    zerolog.Logger
}

// NewPaperExecutor creates a simulated executor. available reports the
// margin currently free for new positions; nil disables the margin check.
func NewPaperExecutor(feeRate, slippage float64, available func() float64, logger zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{
		feeRate:   feeRate,
		slippage:  slippage,
		available: available,
		logger:    logger.With().Str("component", "executor").Logger(),
	}
}

func (e *PaperExecutor) ExecuteOpen(ctx context.Context, intent OpenIntent) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if e.available != nil && intent.Margin > e.available() {
		return Fill{}, fmt.Errorf("%w: need %.2f, have %.2f",
			ErrInsufficientMargin, intent.Margin, e.available())
	}

	fill := e.fill(buyFor(intent.Side, true), intent.Price, intent.Quantity)
	e.logger.Debug().
		Str("symbol", intent.Symbol).
		Str("side", string(intent.Side)).
		Float64("fill", fill.Price).
		Float64("fee", fill.Fee).
		Msg("paper open fill")
	return fill, nil
}

func (e *PaperExecutor) ExecuteClose(ctx context.Context, intent CloseIntent) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}

	fill := e.fill(buyFor(intent.Side, false), intent.Price, intent.Quantity)
	e.logger.Debug().
		Str("symbol", intent.Symbol).
		Str("side", string(intent.Side)).
		Float64("fill", fill.Price).
		Float64("fee", fill.Fee).
		Msg("paper close fill")
	return fill, nil
}

func (e *PaperExecutor) fill(buy bool, price, quantity float64) Fill {
	slipped := price * (1 - e.slippage)
	if buy {
		slipped = price * (1 + e.slippage)
	}
	return Fill{
		Price: slipped,
		Fee:   e.feeRate * quantity * slipped,
	}
}

// buyFor maps a position side to the order side: opening a long buys,
// closing a long sells, and shorts mirror that.
func buyFor(side risk.Side, opening bool) bool {
	if side == risk.Long {
		return opening
	}
	return !opening
}
