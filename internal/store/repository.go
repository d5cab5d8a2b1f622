// Package store persists backtest results and live trades in PostgreSQL
// and keeps the latest engine status in Redis for the control API.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"futures-trading-engine/internal/backtest"
	"futures-trading-engine/internal/risk"
)

const schema = `
CREATE TABLE IF NOT EXISTS backtest_results (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	entry_timeframe TEXT NOT NULL,
	filter_timeframe TEXT NOT NULL,
	start_time BIGINT NOT NULL,
	end_time BIGINT NOT NULL,
	total_trades INT NOT NULL,
	winning_trades INT NOT NULL,
	losing_trades INT NOT NULL,
	win_rate DOUBLE PRECISION NOT NULL,
	total_pnl DOUBLE PRECISION NOT NULL,
	total_fees DOUBLE PRECISION NOT NULL,
	roi DOUBLE PRECISION NOT NULL,
	max_drawdown DOUBLE PRECISION NOT NULL,
	profit_factor DOUBLE PRECISION NOT NULL,
	sharpe_ratio DOUBLE PRECISION NOT NULL,
	average_win DOUBLE PRECISION NOT NULL,
	average_loss DOUBLE PRECISION NOT NULL,
	largest_win DOUBLE PRECISION NOT NULL,
	largest_loss DOUBLE PRECISION NOT NULL,
	start_balance DOUBLE PRECISION NOT NULL,
	final_balance DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	run_id TEXT,
	position_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price DOUBLE PRECISION NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	pnl DOUBLE PRECISION NOT NULL,
	fees DOUBLE PRECISION NOT NULL,
	exit_reason TEXT NOT NULL,
	open_time BIGINT NOT NULL,
	close_time BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_trades_run ON trades (run_id);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades (symbol, close_time DESC);
`

// Repository persists runs and trades in PostgreSQL
type Repository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewRepository connects, pings and applies the schema
func NewRepository(ctx context.Context, dsn string, logger zerolog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

func (r *Repository) Close() {
	r.pool.Close()
}

// SaveBacktestResult writes the run summary and all its trades in one
// transaction, so a run is either fully recorded or absent.
func (r *Repository) SaveBacktestResult(ctx context.Context, res *backtest.Result) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	m := res.Metrics
	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_results (
			id, symbol, entry_timeframe, filter_timeframe, start_time, end_time,
			total_trades, winning_trades, losing_trades, win_rate,
			total_pnl, total_fees, roi, max_drawdown, profit_factor, sharpe_ratio,
			average_win, average_loss, largest_win, largest_loss,
			start_balance, final_balance
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		res.ID, res.Symbol, string(res.EntryTimeframe), string(res.FilterTimeframe),
		res.StartTime, res.EndTime,
		m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate,
		m.TotalPnL, m.TotalFees, m.ROI, m.MaxDrawdown, m.ProfitFactor, m.SharpeRatio,
		m.AverageWin, m.AverageLoss, m.LargestWin, m.LargestLoss,
		m.StartBalance, m.FinalBalance,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	for _, t := range res.Trades {
		if err := insertTrade(ctx, tx, res.ID, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.logger.Info().Str("run_id", res.ID).Int("trades", len(res.Trades)).Msg("backtest result saved")
	return nil
}

// SaveTrade appends one live or paper trade
func (r *Repository) SaveTrade(ctx context.Context, t risk.Trade) error {
	if err := insertTrade(ctx, r.pool, "", t); err != nil {
		return err
	}
	r.logger.Debug().Str("trade_id", t.ID).Msg("trade saved")
	return nil
}

// execer is the slice of pgx shared by pools and transactions
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertTrade(ctx context.Context, db execer, runID string, t risk.Trade) error {
	var run any
	if runID != "" {
		run = runID
	}
	_, err := db.Exec(ctx, `
		INSERT INTO trades (
			id, run_id, position_id, symbol, side,
			entry_price, exit_price, quantity, pnl, fees,
			exit_reason, open_time, close_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, run, t.PositionID, t.Symbol, string(t.Side),
		t.EntryPrice, t.ExitPrice, t.Quantity, t.PnL, t.Fees,
		string(t.Reason), t.OpenTime, t.CloseTime,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// RecentTrades returns the latest trades for a symbol, newest first
func (r *Repository) RecentTrades(ctx context.Context, symbol string, limit int) ([]risk.Trade, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, position_id, symbol, side, entry_price, exit_price,
		       quantity, pnl, fees, exit_reason, open_time, close_time
		FROM trades
		WHERE symbol = $1
		ORDER BY close_time DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []risk.Trade
	for rows.Next() {
		var t risk.Trade
		var side, reason string
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &side,
			&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnL, &t.Fees,
			&reason, &t.OpenTime, &t.CloseTime); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = risk.Side(side)
		t.Reason = risk.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
