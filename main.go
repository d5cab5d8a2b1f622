package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/api"
	"futures-trading-engine/internal/backtest"
	"futures-trading-engine/internal/engine"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/executor"
	"futures-trading-engine/internal/feed"
	"futures-trading-engine/internal/history"
	"futures-trading-engine/internal/risk"
	"futures-trading-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("mode", cfg.RunMode).
		Str("symbol", cfg.Symbol).
		Str("entry_timeframe", string(cfg.EntryTimeframe)).
		Str("filter_timeframe", string(cfg.FilterTimeframe)).
		Msg("engine starting")

	switch cfg.RunMode {
	case config.ModeBacktest:
		err = runBacktest(ctx, cfg, logger)
	case config.ModePaper, config.ModeLive:
		err = runTrading(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown run mode %q", cfg.RunMode)
	}

	if err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("engine stopped")
	}
	logger.Info().Msg("engine stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stderr
	logger := zerolog.New(out)
	if !cfg.JSONFormat {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func runBacktest(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	source, closeSource, err := newHistorySource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	bus := events.NewBus()
	result, err := backtest.New(cfg, source, bus, logger).Run(ctx)
	if err != nil {
		return err
	}

	m := result.Metrics
	logger.Info().
		Str("run_id", result.ID).
		Int("trades", m.TotalTrades).
		Float64("win_rate", m.WinRate).
		Float64("total_pnl", m.TotalPnL).
		Float64("roi", m.ROI).
		Float64("max_drawdown", m.MaxDrawdown).
		Float64("profit_factor", m.ProfitFactor).
		Float64("sharpe", m.SharpeRatio).
		Float64("final_balance", m.FinalBalance).
		Msg("backtest complete")

	if cfg.Store.PostgresURL != "" {
		repo, err := store.NewRepository(ctx, cfg.Store.PostgresURL, logger)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		defer repo.Close()
		if err := repo.SaveBacktestResult(ctx, result); err != nil {
			return fmt.Errorf("save result: %w", err)
		}
	}
	return nil
}

func runTrading(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.RunMode == config.ModeLive {
		logger.Warn().Msg("live order routing is not configured, orders are simulated")
	}

	bus := events.NewBus()
	mgr := risk.NewManager(cfg.Risk, cfg.Backtest.InitialBalance, bus, logger)
	exec := executor.NewPaperExecutor(cfg.Backtest.TradingFee, cfg.Backtest.Slippage, nil, logger)
	eng := engine.New(cfg, mgr, exec, bus, logger)

	var redisClient *redis.Client
	if cfg.Store.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr, DB: cfg.Store.RedisDB})
	}
	snapshots := store.NewSnapshotStore(redisClient, logger)

	var repo *store.Repository
	if cfg.Store.PostgresURL != "" {
		var err error
		repo, err = store.NewRepository(ctx, cfg.Store.PostgresURL, logger)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		defer repo.Close()
		persistClosedTrades(ctx, bus, mgr, repo, logger)
	}

	wsFeed := feed.NewWebSocketFeed(cfg, logger)
	runner := engine.NewRunner(eng, wsFeed.Candles(), snapshots, logger)

	// Closes at the last snapshotted price. Runs on its own context so it
	// still works while the process context is being torn down.
	panicFn := func(p risk.Position) (float64, float64, error) {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		status, ok := snapshots.Status(closeCtx, p.Symbol)
		if !ok || status.Snapshot.Price <= 0 {
			return 0, 0, fmt.Errorf("no mark price for %s", p.Symbol)
		}
		intent := executor.CloseIntent{
			Symbol: p.Symbol, Side: p.Side, Quantity: p.Quantity, Price: status.Snapshot.Price,
		}
		fill, err := exec.ExecuteClose(closeCtx, intent)
		if err != nil {
			return 0, 0, err
		}
		return fill.Price, fill.Fee, nil
	}

	errCh := make(chan error, 3)
	go func() { errCh <- wsFeed.Run(ctx) }()
	go func() { errCh <- runner.Run(ctx) }()
	if cfg.API.Enabled {
		var trades api.TradeSource
		if repo != nil {
			trades = repo
		}
		server := api.NewServer(cfg, snapshots, trades, mgr, panicFn, logger)
		go func() { errCh <- server.Start(ctx) }()
	}

	err := <-errCh
	if ctx.Err() != nil {
		flattenPositions(mgr, panicFn, logger)
		return nil
	}
	return err
}

// flattenPositions closes whatever is still open on shutdown so no
// position outlives the process.
func flattenPositions(mgr *risk.Manager, closeFn risk.CloseFunc, logger zerolog.Logger) {
	for _, p := range mgr.Positions() {
		exitPrice, fees, err := closeFn(p)
		if err != nil {
			logger.Error().Err(err).Str("symbol", p.Symbol).Msg("position not closed on shutdown")
			continue
		}
		ts := time.Now().UnixMilli()
		if _, err := mgr.ClosePosition(p.Symbol, exitPrice, fees, risk.ExitSignal, ts); err != nil {
			logger.Error().Err(err).Str("symbol", p.Symbol).Msg("position not booked on shutdown")
		}
	}
}

// persistClosedTrades mirrors every booked trade into PostgreSQL
func persistClosedTrades(ctx context.Context, bus *events.Bus, mgr *risk.Manager, repo *store.Repository, logger zerolog.Logger) {
	bus.Subscribe(events.EventTradeClosed, func(e events.Event) {
		id, _ := e.Data["trade_id"].(string)
		for _, t := range mgr.Trades() {
			if t.ID == id {
				if err := repo.SaveTrade(ctx, t); err != nil {
					logger.Error().Err(err).Str("trade_id", id).Msg("trade not persisted")
				}
				return
			}
		}
	})
}

func newHistorySource(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (history.Source, func(), error) {
	switch cfg.History.Source {
	case "clickhouse":
		src, err := history.NewClickHouseSource(ctx, cfg.History, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	case "csv":
		return history.NewCSVSource(cfg.History.CSVDir), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown history source %q", cfg.History.Source)
	}
}
