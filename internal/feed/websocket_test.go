package feed

import (
	"context"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/market"
)

func testFeed() *WebSocketFeed {
	return NewWebSocketFeed(config.Default(), zerolog.Nop())
}

func klineJSON(openTime int64, interval string, closed bool) []byte {
	payload := `{"stream":"btcusdt@kline_15m","data":{"e":"kline","s":"BTCUSDT","k":{` +
		`"t":` + strconv.FormatInt(openTime, 10) + `,"i":"` + interval + `",` +
		`"o":"100.1","h":"101.2","l":"99.3","c":"100.7","v":"12.5",` +
		`"x":` + boolStr(closed) + `}}}`
	return []byte(payload)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestHandleMessageEmitsClosedCandles(t *testing.T) {
	f := testFeed()
	ctx := context.Background()

	f.handleMessage(ctx, klineJSON(900000, "15m", true))

	select {
	case cc := <-f.out:
		if cc.Symbol != "BTCUSDT" || cc.Timeframe != market.Timeframe15m {
			t.Fatalf("candle routed wrong: %+v", cc)
		}
		if cc.Candle.Open != 100.1 || cc.Candle.Close != 100.7 || cc.Candle.Volume != 12.5 {
			t.Fatalf("candle values wrong: %+v", cc.Candle)
		}
	default:
		t.Fatal("closed kline was not emitted")
	}
}

func TestHandleMessageDropsFormingCandles(t *testing.T) {
	f := testFeed()
	f.handleMessage(context.Background(), klineJSON(900000, "15m", false))

	select {
	case cc := <-f.out:
		t.Fatalf("forming candle emitted: %+v", cc)
	default:
	}
}

func TestHandleMessageDropsDuplicatesPerTimeframe(t *testing.T) {
	f := testFeed()
	ctx := context.Background()

	f.handleMessage(ctx, klineJSON(900000, "15m", true))
	f.handleMessage(ctx, klineJSON(900000, "15m", true))
	// Another timeframe has its own watermark.
	f.handleMessage(ctx, klineJSON(900000, "1h", true))
	f.handleMessage(ctx, klineJSON(1800000, "15m", true))

	if got := len(f.out); got != 3 {
		t.Fatalf("emitted %d candles, want 3", got)
	}
}

func TestHandleMessageDropsGarbage(t *testing.T) {
	f := testFeed()
	ctx := context.Background()

	f.handleMessage(ctx, []byte("not json"))
	f.handleMessage(ctx, []byte(`{"stream":"x","data":{"e":"kline","s":"BTCUSDT","k":{"t":1,"i":"15m","o":"abc","h":"1","l":"1","c":"1","v":"1","x":true}}}`))

	if got := len(f.out); got != 0 {
		t.Fatalf("emitted %d candles from garbage", got)
	}
}

func TestStreamURLIncludesBothTimeframes(t *testing.T) {
	f := testFeed()
	want := "wss://fstream.binance.com/stream?streams=btcusdt@kline_15m/btcusdt@kline_1h"
	if f.url != want {
		t.Fatalf("url = %q, want %q", f.url, want)
	}
}
