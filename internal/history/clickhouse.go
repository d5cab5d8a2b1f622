package history

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/market"
)

// ClickHouseSource reads candles from a ClickHouse table with columns
// symbol, interval, open_time_ms, open, high, low, close, volume.
type ClickHouseSource struct {
	conn   driver.Conn
	table  string
	logger zerolog.Logger
}

// NewClickHouseSource connects using the DSN from configuration and pings
// the server before returning.
func NewClickHouseSource(ctx context.Context, cfg config.HistoryConfig, logger zerolog.Logger) (*ClickHouseSource, error) {
	opts, err := clickhouse.ParseDSN(cfg.ClickHouseDSN)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if opts.Auth.Database == "" {
		opts.Auth.Database = cfg.Database
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseSource{
		conn:   conn,
		table:  cfg.Table,
		logger: logger.With().Str("component", "history").Logger(),
	}, nil
}

func (s *ClickHouseSource) Close() error {
	return s.conn.Close()
}

func (s *ClickHouseSource) Candles(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Candle, error) {
	query := fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s
		WHERE symbol = ? AND interval = ?
		  AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms ASC`, s.table)

	rows, err := s.conn.Query(ctx, query, symbol, string(tf), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, symbol, tf)
	}

	s.logger.Debug().
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Int("count", len(candles)).
		Msg("candles loaded")
	return candles, nil
}
