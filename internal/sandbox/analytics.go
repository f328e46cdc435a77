package sandbox

import (
	"math"
	"time"
)

// Report summarizes a session's performance, derived purely from the trade
// ledger and the equity curve — safe to recompute on demand.
type Report struct {
	InitialBalance int64   `json:"initial_balance"` // cents
	CurrentEquity  int64   `json:"current_equity"`  // cents, cash + positions
	TotalReturn    int64   `json:"total_return"`    // cents
	TotalReturnPct float64 `json:"total_return_pct"`

	RealizedPnL   int64 `json:"realized_pnl"`
	UnrealizedPnL int64 `json:"unrealized_pnl"`

	TotalTrades  int     `json:"total_trades"`
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"` // 0-1 over closed trades

	LargestWin  int64 `json:"largest_win"`  // cents
	LargestLoss int64 `json:"largest_loss"` // cents, negative
	AvgWin      int64 `json:"avg_win"`      // cents
	AvgLoss     int64 `json:"avg_loss"`     // cents, negative

	MaxDrawdown    int64   `json:"max_drawdown"` // cents, peak-to-trough
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`

	SharpeRatio float64 `json:"sharpe_ratio"` // annualized from daily returns
}

const tradingDaysPerYear = 252

// BuildReport derives analytics from recorded state.
func BuildReport(initial, equity, realized, unrealized int64, totalTrades int,
	closed []RealizedTrade, curve []BalancePoint) Report {

	r := Report{
		InitialBalance: initial,
		CurrentEquity:  equity,
		TotalReturn:    equity - initial,
		RealizedPnL:    realized,
		UnrealizedPnL:  unrealized,
		TotalTrades:    totalTrades,
		ClosedTrades:   len(closed),
	}
	if initial > 0 {
		r.TotalReturnPct = float64(r.TotalReturn) / float64(initial) * 100
	}

	var winSum, lossSum int64
	for _, t := range closed {
		if t.Realized > 0 {
			r.Wins++
			winSum += t.Realized
			if t.Realized > r.LargestWin {
				r.LargestWin = t.Realized
			}
		} else {
			r.Losses++
			lossSum += t.Realized
			if t.Realized < r.LargestLoss {
				r.LargestLoss = t.Realized
			}
		}
	}
	if len(closed) > 0 {
		r.WinRate = float64(r.Wins) / float64(len(closed))
	}
	if r.Wins > 0 {
		r.AvgWin = winSum / int64(r.Wins)
	}
	if r.Losses > 0 {
		r.AvgLoss = lossSum / int64(r.Losses)
	}

	r.MaxDrawdown, r.MaxDrawdownPct = maxDrawdown(curve)
	r.SharpeRatio = sharpe(dailyReturns(initial, curve))
	return r
}

// maxDrawdown walks the equity curve tracking the running peak and the
// largest peak-to-trough decline.
func maxDrawdown(curve []BalancePoint) (int64, float64) {
	var peak, worst int64
	var worstPct float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if dd := peak - p.Equity; dd > worst {
			worst = dd
			if peak > 0 {
				worstPct = float64(dd) / float64(peak) * 100
			}
		}
	}
	return worst, worstPct
}

// dailyReturns reduces the equity curve to one closing equity per sandbox
// calendar day and returns the day-over-day fractional returns. The initial
// balance anchors the first day's return.
func dailyReturns(initial int64, curve []BalancePoint) []float64 {
	if len(curve) == 0 {
		return nil
	}

	var closes []int64
	var curDay time.Time
	for i, p := range curve {
		day := p.TS.Truncate(24 * time.Hour)
		if i == 0 || !day.Equal(curDay) {
			closes = append(closes, p.Equity)
			curDay = day
		} else {
			closes[len(closes)-1] = p.Equity
		}
	}

	prev := initial
	var returns []float64
	for _, c := range closes {
		if prev > 0 {
			returns = append(returns, float64(c-prev)/float64(prev))
		}
		prev = c
	}
	return returns
}

// sharpe is mean daily return over its standard deviation, annualized by
// sqrt(252). Zero when there is not enough variance to be meaningful.
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
	return mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}
