// Package engine drives one evaluation cycle per closed candle. Backtest
// replay and live trading run the same Cycle, so a strategy behaves
// identically under both.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/executor"
	"futures-trading-engine/internal/indicator"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/risk"
	"futures-trading-engine/internal/strategy"
	"futures-trading-engine/internal/trend"
)

// seriesWindow bounds the in-memory candle history per timeframe. Large
// enough for every indicator lookback with room to spare.
const seriesWindow = 500

// Status is the between-cycle view the control API reads
type Status struct {
	Symbol      string            `json:"symbol"`
	Suspended   bool              `json:"suspended"`
	Balance     float64           `json:"balance"`
	FilterTrend trend.Direction   `json:"filter_trend"`
	Snapshot    strategy.Snapshot `json:"indicators"`
	Positions   []risk.Position   `json:"positions"`
}

// Engine evaluates one symbol. Cycle is not safe for concurrent use; the
// Runner serializes calls to it.
type Engine struct {
	cfg       *config.Config
	entry     *market.Series
	filter    *market.Series
	tracker   *trend.Tracker
	generator *strategy.Generator
	risk      *risk.Manager
	exec      executor.Executor
	logger    zerolog.Logger

	mu     sync.Mutex
	status Status
}

// New wires an engine from its collaborators. The generator reads the risk
// manager's kill switch, so a panic close stops entries on the next cycle.
func New(cfg *config.Config, riskMgr *risk.Manager, exec executor.Executor, bus *events.Bus, logger zerolog.Logger) *Engine {
	log := logger.With().Str("component", "engine").Logger()
	return &Engine{
		cfg:       cfg,
		entry:     market.NewSeries(cfg.EntryTimeframe, seriesWindow),
		filter:    market.NewSeries(cfg.FilterTimeframe, seriesWindow),
		tracker:   trend.NewTracker(cfg.FilterTimeframe, bus, logger),
		generator: strategy.NewGenerator(cfg.Indicators, riskMgr.Suspension(), bus, logger),
		risk:      riskMgr,
		exec:      exec,
		logger:    log,
		status:    Status{Symbol: cfg.Symbol, FilterTrend: trend.Neutral},
	}
}

// Cycle processes one closed candle. Filter-timeframe candles only commit
// the trend; entry-timeframe candles run stops, evaluation and execution.
// Candles for other timeframes or symbols are dropped.
func (e *Engine) Cycle(ctx context.Context, cc market.ClosedCandle) error {
	if cc.Symbol != e.cfg.Symbol {
		return nil
	}

	switch cc.Timeframe {
	case e.cfg.FilterTimeframe:
		return e.filterCycle(cc.Candle)
	case e.cfg.EntryTimeframe:
		return e.entryCycle(ctx, cc.Candle)
	default:
		e.logger.Debug().Str("timeframe", string(cc.Timeframe)).Msg("candle for unused timeframe dropped")
		return nil
	}
}

func (e *Engine) filterCycle(c market.Candle) error {
	if err := e.filter.Append(c); err != nil {
		e.logger.Debug().Err(err).Msg("stale filter candle dropped")
		return nil
	}

	candles := e.filter.Candles()
	vwap, err := indicator.VWAP(candles, market.WeeklyAnchor(c.OpenTime))
	if err != nil {
		return nil
	}
	squeeze, err := indicator.SqueezeMomentum(candles)
	if err != nil {
		return nil
	}

	state := e.tracker.Commit(c, vwap, squeeze.Value)

	e.mu.Lock()
	e.status.FilterTrend = state
	e.mu.Unlock()
	return nil
}

func (e *Engine) entryCycle(ctx context.Context, c market.Candle) error {
	if err := e.entry.Append(c); err != nil {
		e.logger.Debug().Err(err).Msg("stale entry candle dropped")
		return nil
	}

	// Stops are checked against the candle's intrabar range before the
	// trailing stop advances on its close.
	if err := e.closeOnStop(ctx, c); err != nil {
		return err
	}

	sig, snap := e.generator.Evaluate(e.entry.Candles(), e.tracker.State())
	e.risk.UpdateStops(e.cfg.Symbol, snap.Price, snap.ATR)

	var cycleErr error
	if sig != nil && e.risk.Position(e.cfg.Symbol) == nil {
		cycleErr = e.open(ctx, sig, snap)
	}

	e.mu.Lock()
	e.status.Snapshot = snap
	e.status.Balance = e.risk.Balance()
	e.status.Positions = e.risk.Positions()
	e.status.Suspended = e.risk.Suspension().Suspended()
	e.mu.Unlock()
	return cycleErr
}

func (e *Engine) closeOnStop(ctx context.Context, c market.Candle) error {
	stopPrice, reason, hit := e.risk.CheckStopHit(e.cfg.Symbol, c)
	if !hit {
		return nil
	}

	p := e.risk.Position(e.cfg.Symbol)
	if p == nil {
		return nil
	}

	fill, err := e.exec.ExecuteClose(ctx, executor.CloseIntent{
		Symbol:   p.Symbol,
		Side:     p.Side,
		Quantity: p.Quantity,
		Price:    stopPrice,
	})
	if err != nil {
		return fmt.Errorf("stop close %s: %w", p.Symbol, err)
	}

	if _, err := e.risk.ClosePosition(p.Symbol, fill.Price, fill.Fee, reason, c.OpenTime); err != nil {
		return fmt.Errorf("book stop close: %w", err)
	}
	return nil
}

func (e *Engine) open(ctx context.Context, sig *strategy.Signal, snap strategy.Snapshot) error {
	side := risk.Long
	if sig.Type == strategy.ShortEntry {
		side = risk.Short
	}

	size, err := risk.CalculatePositionSize(e.risk.Balance(), sig.Price, snap.ATR, e.cfg.Risk)
	if err != nil {
		if errors.Is(err, risk.ErrBelowMinimumOrderSize) {
			e.logger.Warn().Err(err).Str("signal_id", sig.ID).Msg("signal skipped, order too small")
			return nil
		}
		return fmt.Errorf("size signal %s: %w", sig.ID, err)
	}

	stop := sig.Price - size.StopDistance
	if side == risk.Short {
		stop = sig.Price + size.StopDistance
	}

	fill, err := e.exec.ExecuteOpen(ctx, executor.OpenIntent{
		Symbol:     e.cfg.Symbol,
		Side:       side,
		Quantity:   size.Quantity,
		Price:      sig.Price,
		StopLoss:   stop,
		Margin:     size.Margin,
		Leverage:   e.cfg.Risk.Leverage,
		MarginMode: executor.MarginModeIsolated,
	})
	if err != nil {
		if errors.Is(err, executor.ErrInsufficientMargin) {
			e.logger.Warn().Err(err).Str("signal_id", sig.ID).Msg("signal skipped, margin exhausted")
			return nil
		}
		return fmt.Errorf("execute open for signal %s: %w", sig.ID, err)
	}

	if _, err := e.risk.OpenPosition(e.cfg.Symbol, side, fill.Price, snap.ATR, fill.Fee, sig.ID, sig.Timestamp); err != nil {
		return fmt.Errorf("book open for signal %s: %w", sig.ID, err)
	}
	return nil
}

// CloseOpenPosition market-closes any open position, used at end of data or
// shutdown. A nil error is returned when no position is open.
func (e *Engine) CloseOpenPosition(ctx context.Context, price float64, reason risk.ExitReason, ts int64) error {
	p := e.risk.Position(e.cfg.Symbol)
	if p == nil {
		return nil
	}

	fill, err := e.exec.ExecuteClose(ctx, executor.CloseIntent{
		Symbol:   p.Symbol,
		Side:     p.Side,
		Quantity: p.Quantity,
		Price:    price,
	})
	if err != nil {
		return fmt.Errorf("close %s: %w", p.Symbol, err)
	}
	if _, err := e.risk.ClosePosition(p.Symbol, fill.Price, fill.Fee, reason, ts); err != nil {
		return fmt.Errorf("book close: %w", err)
	}
	return nil
}

// Status returns the view committed at the end of the last cycle
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.status
	s.Positions = append([]risk.Position(nil), s.Positions...)
	return s
}
