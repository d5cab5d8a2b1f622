package engine

import (
	"context"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/market"
)

// SnapshotSink persists the engine status between cycles
type SnapshotSink interface {
	SaveStatus(ctx context.Context, s Status) error
}

// Runner feeds closed candles into the engine one at a time. All cycle
// work happens on the Run goroutine, so the engine never sees concurrent
// candles even when the feed is bursty.
type Runner struct {
	engine  *Engine
	candles <-chan market.ClosedCandle
	sink    SnapshotSink
	logger  zerolog.Logger
}

// NewRunner creates a runner. sink may be nil when status persistence is
// not wired.
func NewRunner(e *Engine, candles <-chan market.ClosedCandle, sink SnapshotSink, logger zerolog.Logger) *Runner {
	return &Runner{
		engine:  e,
		candles: candles,
		sink:    sink,
		logger:  logger.With().Str("component", "runner").Logger(),
	}
}

// Run processes candles until the context is canceled or the feed closes.
// A failed cycle is logged and the loop continues; one bad candle must not
// stop stop-loss management for the candles after it.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cc, ok := <-r.candles:
			if !ok {
				r.logger.Info().Msg("candle feed closed")
				return nil
			}
			if err := r.engine.Cycle(ctx, cc); err != nil {
				r.logger.Error().Err(err).
					Str("timeframe", string(cc.Timeframe)).
					Int64("open_time", cc.Candle.OpenTime).
					Msg("cycle failed")
			}
			if r.sink != nil {
				if err := r.sink.SaveStatus(ctx, r.engine.Status()); err != nil {
					r.logger.Warn().Err(err).Msg("status snapshot not saved")
				}
			}
		}
	}
}
