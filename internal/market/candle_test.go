package market

import (
	"testing"
	"time"
)

func TestSeriesAppendOrdering(t *testing.T) {
	s := NewSeries(Timeframe15m, 10)

	if err := s.Append(Candle{OpenTime: 1000, Close: 1}); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := s.Append(Candle{OpenTime: 2000, Close: 2}); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	// Duplicate and stale open times must be rejected
	if err := s.Append(Candle{OpenTime: 2000}); err == nil {
		t.Error("expected error for duplicate open time")
	}
	if err := s.Append(Candle{OpenTime: 1500}); err == nil {
		t.Error("expected error for stale open time")
	}

	if s.Len() != 2 {
		t.Errorf("expected 2 candles, got %d", s.Len())
	}
}

func TestSeriesBoundedWindow(t *testing.T) {
	s := NewSeries(Timeframe1h, 3)
	for i := 0; i < 5; i++ {
		if err := s.Append(Candle{OpenTime: int64(i * 1000), Close: float64(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if s.Len() != 3 {
		t.Fatalf("expected window of 3, got %d", s.Len())
	}
	if s.Candles()[0].Close != 2 {
		t.Errorf("expected oldest candle to be close=2, got %f", s.Candles()[0].Close)
	}
	last, ok := s.Last()
	if !ok || last.Close != 4 {
		t.Errorf("expected newest candle close=4, got %v ok=%v", last, ok)
	}
}

func TestTypicalPrice(t *testing.T) {
	c := Candle{High: 30, Low: 10, Close: 20}
	if got := c.TypicalPrice(); got != 20 {
		t.Errorf("typical price = %f, want 20", got)
	}
}

func TestWeeklyAnchor(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{
			name: "mid week",
			at:   time.Date(2024, 3, 14, 15, 42, 0, 0, time.UTC), // Thursday
			want: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "monday itself",
			at:   time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday rolls back six days",
			at:   time.Date(2024, 3, 17, 23, 59, 0, 0, time.UTC),
			want: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeeklyAnchor(tt.at.UnixMilli())
			if got != tt.want.UnixMilli() {
				t.Errorf("WeeklyAnchor(%s) = %s, want %s",
					tt.at, time.UnixMilli(got).UTC(), tt.want)
			}
		})
	}
}

func TestTimeframeDuration(t *testing.T) {
	if Timeframe15m.Duration() != 15*time.Minute {
		t.Error("15m duration wrong")
	}
	if Timeframe1h.Duration() != time.Hour {
		t.Error("1h duration wrong")
	}
	if !Timeframe15m.IsValid() {
		t.Error("15m should be valid")
	}
	if Timeframe("7m").IsValid() {
		t.Error("7m should not be valid")
	}
}
