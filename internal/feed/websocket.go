// Package feed delivers closed candles from the venue's websocket kline
// streams. Only closed candles leave this package; partial updates for a
// still-forming bar are discarded.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/market"
)

// Feed is a source of closed candles
type Feed interface {
	Candles() <-chan market.ClosedCandle
	Run(ctx context.Context) error
}

// combinedMessage is the wrapper the combined stream endpoint puts around
// every payload.
type combinedMessage struct {
	Stream string     `json:"stream"`
	Data   klineEvent `json:"data"`
}

type klineEvent struct {
	EventType string  `json:"e"`
	Symbol    string  `json:"s"`
	Kline     wsKline `json:"k"`
}

// wsKline mirrors the venue's kline payload. Prices arrive as strings.
type wsKline struct {
	OpenTime int64  `json:"t"`
	Interval string `json:"i"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
	Closed   bool   `json:"x"`
}

// WebSocketFeed subscribes to kline streams for one symbol across the
// configured timeframes and reconnects with backoff when the connection
// drops.
type WebSocketFeed struct {
	url        string
	symbol     string
	timeframes []market.Timeframe
	reconnect  time.Duration
	out        chan market.ClosedCandle
	lastOpen   map[market.Timeframe]int64
	logger     zerolog.Logger
}

// NewWebSocketFeed builds a feed for the symbol's entry and filter
// timeframes using the combined stream endpoint.
func NewWebSocketFeed(cfg *config.Config, logger zerolog.Logger) *WebSocketFeed {
	tfs := []market.Timeframe{cfg.EntryTimeframe, cfg.FilterTimeframe}

	streams := ""
	for i, tf := range tfs {
		if i > 0 {
			streams += "/"
		}
		streams += fmt.Sprintf("%s@kline_%s", strings.ToLower(cfg.Symbol), tf)
	}

	return &WebSocketFeed{
		url:        fmt.Sprintf("%s?streams=%s", cfg.Feed.StreamURL, streams),
		symbol:     cfg.Symbol,
		timeframes: tfs,
		reconnect:  time.Duration(cfg.Feed.ReconnectSeconds) * time.Second,
		out:        make(chan market.ClosedCandle, 64),
		lastOpen:   make(map[market.Timeframe]int64),
		logger:     logger.With().Str("component", "feed").Logger(),
	}
}

// Candles returns the closed-candle channel. It is closed when Run exits.
func (f *WebSocketFeed) Candles() <-chan market.ClosedCandle {
	return f.out
}

// Run connects and pumps candles until the context is canceled. Connection
// failures are retried forever; missing a reconnect means missing stops.
func (f *WebSocketFeed) Run(ctx context.Context) error {
	defer close(f.out)

	for {
		if err := f.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn().Err(err).
				Dur("retry_in", f.reconnect).
				Msg("stream disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnect):
		}
	}
}

func (f *WebSocketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	f.logger.Info().Str("url", f.url).Msg("stream connected")

	// Unblock ReadMessage when the context dies.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(ctx, msg)
	}
}

func (f *WebSocketFeed) handleMessage(ctx context.Context, msg []byte) {
	var wrapped combinedMessage
	if err := json.Unmarshal(msg, &wrapped); err != nil {
		f.logger.Debug().Err(err).Msg("unparseable stream message dropped")
		return
	}
	ev := wrapped.Data
	if ev.EventType != "kline" || !ev.Kline.Closed {
		return
	}

	tf := market.Timeframe(ev.Kline.Interval)
	cc, err := f.toClosedCandle(ev, tf)
	if err != nil {
		f.logger.Warn().Err(err).Msg("malformed kline dropped")
		return
	}

	// Duplicate or rewound candles after a reconnect are dropped here so
	// the engine only ever sees each bar once.
	if cc.Candle.OpenTime <= f.lastOpen[tf] {
		return
	}
	f.lastOpen[tf] = cc.Candle.OpenTime

	select {
	case f.out <- cc:
	case <-ctx.Done():
	}
}

func (f *WebSocketFeed) toClosedCandle(ev klineEvent, tf market.Timeframe) (market.ClosedCandle, error) {
	k := ev.Kline
	var c market.Candle
	c.OpenTime = k.OpenTime

	for _, field := range []struct {
		raw string
		dst *float64
	}{
		{k.Open, &c.Open}, {k.High, &c.High}, {k.Low, &c.Low},
		{k.Close, &c.Close}, {k.Volume, &c.Volume},
	} {
		v, err := strconv.ParseFloat(field.raw, 64)
		if err != nil {
			return market.ClosedCandle{}, fmt.Errorf("parse %q: %w", field.raw, err)
		}
		*field.dst = v
	}

	return market.ClosedCandle{Symbol: ev.Symbol, Timeframe: tf, Candle: c}, nil
}
