package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"futures-trading-engine/internal/market"
)

func writeCSV(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCSVSourceReadsRange(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "BTCUSDT_15m.csv", strings.Join([]string{
		"open_time_ms,open,high,low,close,volume",
		"1000,100,101,99,100.5,10",
		"901000,100.5,102,100,101,12",
		"1801000,101,103,100.5,102,8",
	}, "\n"))

	src := NewCSVSource(dir)
	candles, err := src.Candles(context.Background(), "BTCUSDT", market.Timeframe15m,
		time.UnixMilli(0), time.UnixMilli(1000000))
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2 inside the range", len(candles))
	}
	if candles[0].OpenTime != 1000 || candles[1].OpenTime != 901000 {
		t.Fatalf("candles out of order: %+v", candles)
	}
	if candles[1].Close != 101 {
		t.Errorf("close = %v, want 101", candles[1].Close)
	}
}

func TestCSVSourceNoHeader(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "BTCUSDT_1h.csv", "1000,100,101,99,100.5,10\n")

	src := NewCSVSource(dir)
	candles, err := src.Candles(context.Background(), "BTCUSDT", market.Timeframe1h,
		time.UnixMilli(0), time.UnixMilli(10000))
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
}

func TestCSVSourceEmptyRange(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "BTCUSDT_15m.csv", "1000,100,101,99,100.5,10\n")

	src := NewCSVSource(dir)
	_, err := src.Candles(context.Background(), "BTCUSDT", market.Timeframe15m,
		time.UnixMilli(5000), time.UnixMilli(10000))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestCSVSourceMissingFile(t *testing.T) {
	src := NewCSVSource(t.TempDir())
	if _, err := src.Candles(context.Background(), "ETHUSDT", market.Timeframe15m,
		time.UnixMilli(0), time.UnixMilli(10000)); err == nil {
		t.Fatal("expected error for missing file")
	}
}
