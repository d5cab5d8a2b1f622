// Package config loads and validates engine configuration. Values come from
// config.json, then a .env file, then environment variables, in increasing
// priority. Range violations are the only error class that halts startup;
// everything after Validate passes is absorbed at runtime.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"futures-trading-engine/internal/market"
)

// Run modes
const (
	ModeBacktest = "BACKTEST"
	ModePaper    = "PAPER"
	ModeLive     = "LIVE"
)

type Config struct {
	RunMode         string           `json:"run_mode" envconfig:"RUN_MODE"`
	Symbol          string           `json:"symbol" envconfig:"TRADING_SYMBOL"`
	EntryTimeframe  market.Timeframe `json:"timeframe_entry" envconfig:"TIMEFRAME_ENTRY"`
	FilterTimeframe market.Timeframe `json:"timeframe_filter" envconfig:"TIMEFRAME_FILTER"`

	Risk       RiskConfig      `json:"risk"`
	Indicators IndicatorConfig `json:"indicators"`
	Backtest   BacktestConfig  `json:"backtest"`
	Feed       FeedConfig      `json:"feed"`
	History    HistoryConfig   `json:"history"`
	Store      StoreConfig     `json:"store"`
	API        APIConfig       `json:"api"`
	Logging    LoggingConfig   `json:"logging"`
}

// RiskConfig holds sizing and stop parameters
type RiskConfig struct {
	RiskPerTrade     float64 `json:"risk_per_trade" envconfig:"RISK_PER_TRADE"`
	Leverage         int     `json:"leverage" envconfig:"LEVERAGE"`
	StopLossATRMult  float64 `json:"stop_loss_atr_multiplier"`
	TrailingATRMult  float64 `json:"trailing_stop_atr_multiplier"`
	MinOrderQuantity float64 `json:"min_order_quantity"`
	MinOrderNotional float64 `json:"min_order_notional"`
}

// IndicatorConfig holds indicator periods and signal thresholds
type IndicatorConfig struct {
	ATRPeriod     int     `json:"atr_period"`
	ADXPeriod     int     `json:"adx_period"`
	ADXThreshold  float64 `json:"adx_threshold"`
	RVOLPeriod    int     `json:"rvol_period"`
	RVOLThreshold float64 `json:"rvol_threshold"`
}

// BacktestConfig holds replay parameters
type BacktestConfig struct {
	InitialBalance float64 `json:"initial_balance"`
	TradingFee     float64 `json:"trading_fee"`
	Slippage       float64 `json:"slippage"`
	StartTime      string  `json:"start_time"` // "2006-01-02 15:04:05" UTC
	EndTime        string  `json:"end_time"`
}

// FeedConfig holds live candle stream parameters
type FeedConfig struct {
	StreamURL        string `json:"stream_url" envconfig:"FEED_STREAM_URL"`
	ReconnectSeconds int    `json:"reconnect_seconds"`
}

// HistoryConfig selects the historical candle source
type HistoryConfig struct {
	Source        string `json:"source"` // "clickhouse" or "csv"
	ClickHouseDSN string `json:"clickhouse_dsn" envconfig:"CLICKHOUSE_DSN"`
	Database      string `json:"database"`
	Table         string `json:"table"`
	CSVDir        string `json:"csv_dir"`
}

// StoreConfig holds persistence endpoints; both sinks are optional
type StoreConfig struct {
	PostgresURL string `json:"postgres_url" envconfig:"POSTGRES_URL"`
	RedisAddr   string `json:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisDB     int    `json:"redis_db"`
}

// APIConfig holds the control server settings
type APIConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port" envconfig:"API_PORT"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level      string `json:"level" envconfig:"LOG_LEVEL"`
	JSONFormat bool   `json:"json_format"`
}

// Default returns a configuration with every documented default applied.
func Default() *Config {
	return &Config{
		RunMode:         ModeBacktest,
		Symbol:          "BTCUSDT",
		EntryTimeframe:  market.Timeframe15m,
		FilterTimeframe: market.Timeframe1h,
		Risk: RiskConfig{
			RiskPerTrade:     0.01,
			Leverage:         3,
			StopLossATRMult:  2.0,
			TrailingATRMult:  1.5,
			MinOrderQuantity: 0.001,
			MinOrderNotional: 5.0,
		},
		Indicators: IndicatorConfig{
			ATRPeriod:     14,
			ADXPeriod:     14,
			ADXThreshold:  20.0,
			RVOLPeriod:    20,
			RVOLThreshold: 1.2,
		},
		Backtest: BacktestConfig{
			InitialBalance: 10000.0,
			TradingFee:     0.0005,
			Slippage:       0.0002,
		},
		Feed: FeedConfig{
			StreamURL:        "wss://fstream.binance.com/stream",
			ReconnectSeconds: 5,
		},
		History: HistoryConfig{
			Source:   "csv",
			Database: "backtest",
			Table:    "candles",
			CSVDir:   "./data",
		},
		Store: StoreConfig{
			RedisDB: 0,
		},
		API: APIConfig{
			Enabled: true,
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			JSONFormat: false,
		},
	}
}

// Load builds the configuration: defaults, then the JSON file when present,
// then .env and environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	// .env may not exist outside development; that is fine
	_ = godotenv.Load()

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every parameter range and reports all violations at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.RunMode {
	case ModeBacktest, ModePaper, ModeLive:
	default:
		errs = append(errs, fmt.Sprintf("run_mode %q must be one of BACKTEST, PAPER, LIVE", c.RunMode))
	}

	if c.Symbol == "" {
		errs = append(errs, "symbol must not be empty")
	}
	if !c.EntryTimeframe.IsValid() {
		errs = append(errs, fmt.Sprintf("timeframe_entry %q is not a supported interval", c.EntryTimeframe))
	}
	if !c.FilterTimeframe.IsValid() {
		errs = append(errs, fmt.Sprintf("timeframe_filter %q is not a supported interval", c.FilterTimeframe))
	}

	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		errs = append(errs, fmt.Sprintf("risk_per_trade %v must be in (0, 1]", c.Risk.RiskPerTrade))
	}
	if c.Risk.Leverage < 1 || c.Risk.Leverage > 125 {
		errs = append(errs, fmt.Sprintf("leverage %d must be in [1, 125]", c.Risk.Leverage))
	}
	if c.Risk.StopLossATRMult <= 0 {
		errs = append(errs, fmt.Sprintf("stop_loss_atr_multiplier %v must be positive", c.Risk.StopLossATRMult))
	}
	if c.Risk.TrailingATRMult <= 0 {
		errs = append(errs, fmt.Sprintf("trailing_stop_atr_multiplier %v must be positive", c.Risk.TrailingATRMult))
	}
	if c.Risk.MinOrderQuantity < 0 {
		errs = append(errs, fmt.Sprintf("min_order_quantity %v must not be negative", c.Risk.MinOrderQuantity))
	}

	if c.Indicators.ATRPeriod < 1 {
		errs = append(errs, fmt.Sprintf("atr_period %d must be at least 1", c.Indicators.ATRPeriod))
	}
	if c.Indicators.ADXPeriod < 1 {
		errs = append(errs, fmt.Sprintf("adx_period %d must be at least 1", c.Indicators.ADXPeriod))
	}
	if c.Indicators.ADXThreshold < 0 || c.Indicators.ADXThreshold > 100 {
		errs = append(errs, fmt.Sprintf("adx_threshold %v must be in [0, 100]", c.Indicators.ADXThreshold))
	}
	if c.Indicators.RVOLPeriod < 1 {
		errs = append(errs, fmt.Sprintf("rvol_period %d must be at least 1", c.Indicators.RVOLPeriod))
	}
	if c.Indicators.RVOLThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("rvol_threshold %v must be positive", c.Indicators.RVOLThreshold))
	}

	if c.Backtest.InitialBalance <= 0 {
		errs = append(errs, fmt.Sprintf("initial_balance %v must be positive", c.Backtest.InitialBalance))
	}
	if c.Backtest.TradingFee < 0 || c.Backtest.TradingFee > 0.01 {
		errs = append(errs, fmt.Sprintf("trading_fee %v must be in [0, 0.01]", c.Backtest.TradingFee))
	}
	if c.Backtest.Slippage < 0 || c.Backtest.Slippage > 0.01 {
		errs = append(errs, fmt.Sprintf("slippage %v must be in [0, 0.01]", c.Backtest.Slippage))
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, fmt.Sprintf("api port %d must be a valid TCP port", c.API.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
