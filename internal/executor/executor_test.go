package executor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/risk"
)

func almostEqual(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) < 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

func TestPaperFillsApplySlippageAgainstTheAccount(t *testing.T) {
	e := NewPaperExecutor(0.0005, 0.0002, nil, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name     string
		side     risk.Side
		open     bool
		wantFill float64
	}{
		{"long entry buys above reference", risk.Long, true, 100 * 1.0002},
		{"long exit sells below reference", risk.Long, false, 100 * 0.9998},
		{"short entry sells below reference", risk.Short, true, 100 * 0.9998},
		{"short exit buys above reference", risk.Short, false, 100 * 1.0002},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fill Fill
			var err error
			if tt.open {
				fill, err = e.ExecuteOpen(ctx, OpenIntent{
					Symbol: "BTCUSDT", Side: tt.side, Quantity: 2, Price: 100,
				})
			} else {
				fill, err = e.ExecuteClose(ctx, CloseIntent{
					Symbol: "BTCUSDT", Side: tt.side, Quantity: 2, Price: 100,
				})
			}
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if !almostEqual(fill.Price, tt.wantFill) {
				t.Errorf("fill price = %v, want %v", fill.Price, tt.wantFill)
			}
			if !almostEqual(fill.Fee, 0.0005*2*tt.wantFill) {
				t.Errorf("fee = %v, want %v", fill.Fee, 0.0005*2*tt.wantFill)
			}
		})
	}
}

func TestPaperRejectsInsufficientMargin(t *testing.T) {
	e := NewPaperExecutor(0.0005, 0.0002, func() float64 { return 100 }, zerolog.Nop())

	_, err := e.ExecuteOpen(context.Background(), OpenIntent{
		Symbol: "BTCUSDT", Side: risk.Long, Quantity: 1, Price: 50000, Margin: 500,
	})
	if !errors.Is(err, ErrInsufficientMargin) {
		t.Fatalf("err = %v, want ErrInsufficientMargin", err)
	}
}

func TestPaperHonorsCanceledContext(t *testing.T) {
	e := NewPaperExecutor(0.0005, 0.0002, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.ExecuteOpen(ctx, OpenIntent{Symbol: "BTCUSDT", Side: risk.Long, Price: 100}); err == nil {
		t.Fatal("expected context error")
	}
}
