package backtest

import (
	"math"

	"futures-trading-engine/internal/risk"
)

// EquityPoint is account equity at one moment of the replay, open
// positions marked to the candle close.
type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
}

// Metrics summarizes a completed run. Ratios are fractions, not percents;
// MaxDrawdown is in quote currency.
type Metrics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalFees     float64 `json:"total_fees"`
	ROI           float64 `json:"roi"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	ProfitFactor  float64 `json:"profit_factor"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
	StartBalance  float64 `json:"start_balance"`
	FinalBalance  float64 `json:"final_balance"`
}

// ComputeMetrics recomputes every statistic from the full trade log and
// equity curve. Nothing is maintained incrementally, so a metric can never
// drift from the trades that produced it.
func ComputeMetrics(trades []risk.Trade, equity []EquityPoint, initialBalance float64) Metrics {
	m := Metrics{
		StartBalance: initialBalance,
		FinalBalance: initialBalance,
		TotalTrades:  len(trades),
	}

	var grossProfit, grossLoss float64
	balance := initialBalance
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		if balance > 0 {
			returns = append(returns, t.PnL/balance)
		}
		balance += t.PnL
		m.TotalPnL += t.PnL
		m.TotalFees += t.Fees

		if t.PnL > 0 {
			m.WinningTrades++
			grossProfit += t.PnL
			if t.PnL > m.LargestWin {
				m.LargestWin = t.PnL
			}
		} else {
			m.LosingTrades++
			grossLoss += -t.PnL
			if t.PnL < m.LargestLoss {
				m.LargestLoss = t.PnL
			}
		}
	}
	m.FinalBalance = balance

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = -grossLoss / float64(m.LosingTrades)
	}
	if initialBalance > 0 {
		m.ROI = m.TotalPnL / initialBalance
	}

	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	default:
		m.ProfitFactor = 0
	}

	m.SharpeRatio = sharpe(returns)
	m.MaxDrawdown = maxDrawdown(equity)
	return m
}

// sharpe is mean over standard deviation of per-trade returns. No
// annualization: trades are irregularly spaced, so a calendar scaling
// factor would be arbitrary.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// maxDrawdown is the largest peak-to-trough equity drop
func maxDrawdown(equity []EquityPoint) float64 {
	var peak, worst float64
	for i, p := range equity {
		if i == 0 || p.Equity > peak {
			peak = p.Equity
		}
		if dd := peak - p.Equity; dd > worst {
			worst = dd
		}
	}
	return worst
}
