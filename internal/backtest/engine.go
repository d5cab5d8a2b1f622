// Package backtest replays historical candles through the trading engine
// and scores the outcome. The replay calls the same cycle code the live
// runner does, so a backtest exercises the exact production path.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/engine"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/executor"
	"futures-trading-engine/internal/history"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/risk"
)

const timeLayout = "2006-01-02 15:04:05"

// Result is one completed backtest run
type Result struct {
	ID              string           `json:"id"`
	Symbol          string           `json:"symbol"`
	EntryTimeframe  market.Timeframe `json:"entry_timeframe"`
	FilterTimeframe market.Timeframe `json:"filter_timeframe"`
	StartTime       int64            `json:"start_time"`
	EndTime         int64            `json:"end_time"`
	Metrics         Metrics          `json:"metrics"`
	Trades          []risk.Trade     `json:"trades"`
	EquityCurve     []EquityPoint    `json:"equity_curve"`
}

// Engine replays one symbol over a time range
type Engine struct {
	cfg    *config.Config
	source history.Source
	bus    *events.Bus
	logger zerolog.Logger
}

func New(cfg *config.Config, source history.Source, bus *events.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		source: source,
		bus:    bus,
		logger: logger.With().Str("component", "backtest").Logger(),
	}
}

// Run loads both timeframes, replays them in close-time order and computes
// metrics. Any position still open when data ends is closed at the final
// candle's close price.
func (b *Engine) Run(ctx context.Context) (*Result, error) {
	start, end, err := b.window()
	if err != nil {
		return nil, err
	}

	sym := b.cfg.Symbol
	entryCandles, err := b.source.Candles(ctx, sym, b.cfg.EntryTimeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("load %s candles: %w", b.cfg.EntryTimeframe, err)
	}
	filterCandles, err := b.source.Candles(ctx, sym, b.cfg.FilterTimeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("load %s candles: %w", b.cfg.FilterTimeframe, err)
	}
	if len(entryCandles) == 0 {
		return nil, fmt.Errorf("no %s candles for %s in window: %w", b.cfg.EntryTimeframe, sym, history.ErrNoData)
	}

	mgr := risk.NewManager(b.cfg.Risk, b.cfg.Backtest.InitialBalance, b.bus, b.logger)
	exec := executor.NewPaperExecutor(b.cfg.Backtest.TradingFee, b.cfg.Backtest.Slippage, nil, b.logger)
	eng := engine.New(b.cfg, mgr, exec, b.bus, b.logger)

	b.logger.Info().
		Str("symbol", sym).
		Int("entry_candles", len(entryCandles)).
		Int("filter_candles", len(filterCandles)).
		Msg("replay started")

	equity := make([]EquityPoint, 0, len(entryCandles))
	for _, cc := range b.merge(entryCandles, filterCandles) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := eng.Cycle(ctx, cc); err != nil {
			b.logger.Error().Err(err).Int64("open_time", cc.Candle.OpenTime).Msg("cycle failed")
		}
		if cc.Timeframe == b.cfg.EntryTimeframe {
			equity = append(equity, EquityPoint{
				Time:   cc.Candle.OpenTime,
				Equity: mgr.Equity(map[string]float64{sym: cc.Candle.Close}),
			})
		}
	}

	last := entryCandles[len(entryCandles)-1]
	if err := eng.CloseOpenPosition(ctx, last.Close, risk.ExitSignal, last.OpenTime); err != nil {
		return nil, fmt.Errorf("close at end of data: %w", err)
	}
	equity = append(equity, EquityPoint{Time: last.OpenTime, Equity: mgr.Balance()})

	metrics := ComputeMetrics(mgr.Trades(), equity, b.cfg.Backtest.InitialBalance)
	b.bus.Publish(events.Event{
		Type: events.EventMetricsReady,
		Data: map[string]interface{}{
			"symbol":        sym,
			"total_trades":  metrics.TotalTrades,
			"final_balance": metrics.FinalBalance,
		},
	})
	b.logger.Info().
		Int("trades", metrics.TotalTrades).
		Float64("final_balance", metrics.FinalBalance).
		Float64("roi", metrics.ROI).
		Msg("replay finished")

	return &Result{
		ID:              uuid.NewString(),
		Symbol:          sym,
		EntryTimeframe:  b.cfg.EntryTimeframe,
		FilterTimeframe: b.cfg.FilterTimeframe,
		StartTime:       start.UnixMilli(),
		EndTime:         end.UnixMilli(),
		Metrics:         metrics,
		Trades:          mgr.Trades(),
		EquityCurve:     equity,
	}, nil
}

func (b *Engine) window() (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(timeLayout, b.cfg.Backtest.StartTime, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest start_time: %w", err)
	}
	end, err := time.ParseInLocation(timeLayout, b.cfg.Backtest.EndTime, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest end_time: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest end_time %s not after start_time %s",
			b.cfg.Backtest.EndTime, b.cfg.Backtest.StartTime)
	}
	return start, end, nil
}

// merge interleaves both timeframes by candle close time. On a tie the
// filter candle goes first, so an entry evaluation at time T sees the
// trend committed by any filter candle that closed at T.
func (b *Engine) merge(entry, filter []market.Candle) []market.ClosedCandle {
	entryDur := b.cfg.EntryTimeframe.Duration().Milliseconds()
	filterDur := b.cfg.FilterTimeframe.Duration().Milliseconds()

	merged := make([]market.ClosedCandle, 0, len(entry)+len(filter))
	i, j := 0, 0
	for i < len(entry) || j < len(filter) {
		takeFilter := i >= len(entry) ||
			(j < len(filter) && filter[j].OpenTime+filterDur <= entry[i].OpenTime+entryDur)
		if takeFilter {
			merged = append(merged, market.ClosedCandle{
				Symbol: b.cfg.Symbol, Timeframe: b.cfg.FilterTimeframe, Candle: filter[j],
			})
			j++
		} else {
			merged = append(merged, market.ClosedCandle{
				Symbol: b.cfg.Symbol, Timeframe: b.cfg.EntryTimeframe, Candle: entry[i],
			})
			i++
		}
	}
	return merged
}
