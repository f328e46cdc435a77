package model

import "time"

// TradeAction is the direction of a sandbox trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// OrderType is the order style for a sandbox trade.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// SandboxSettings is the immutable execution configuration for a session,
// set once at session creation.
type SandboxSettings struct {
	AutoAdvance       bool          `json:"auto_advance"`
	AdvanceInterval   time.Duration `json:"advance_interval"`
	SkipWeekends      bool          `json:"skip_weekends"`
	SkipHolidays      bool          `json:"skip_holidays"`
	SlippageEnabled   bool          `json:"slippage_enabled"`
	SlippageBps       int64         `json:"slippage_bps"` // basis points (10 = 0.1%)
	CommissionEnabled bool          `json:"commission_enabled"`
	CommissionCents   int64         `json:"commission_cents"` // flat per trade
	MaxPositions      int64         `json:"max_positions"`    // max qty per symbol, 0 = unlimited
}

// SandboxSession is one simulated trading session over a historical window.
// CurrentTime is the only field mutated while the replay is running.
type SandboxSession struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	CurrentTime    time.Time       `json:"current_time"`
	InitialBalance int64           `json:"initial_balance"` // cents
	CurrentBalance int64           `json:"current_balance"` // cents
	Active         bool            `json:"active"`
	Symbols        []string        `json:"symbols"`
	Settings       SandboxSettings `json:"settings"`
}

// SandboxPosition is the open holding for one (session, symbol) pair.
// A position sold down to zero quantity is removed, not retained.
type SandboxPosition struct {
	Symbol       string    `json:"symbol"`
	Qty          int64     `json:"qty"`
	AvgCost      int64     `json:"avg_cost"`      // cents, weighted average
	CurrentPrice int64     `json:"current_price"` // cents, last replayed close
	FirstBuy     time.Time `json:"first_buy"`
	LastUpdate   time.Time `json:"last_update"`
}

// MarketValue returns the position's value at the current price, in cents.
func (p *SandboxPosition) MarketValue() int64 {
	return p.CurrentPrice * p.Qty
}

// UnrealizedPnL returns the open P&L at the current price, in cents.
func (p *SandboxPosition) UnrealizedPnL() int64 {
	return (p.CurrentPrice - p.AvgCost) * p.Qty
}

// SandboxTradeResult is the immutable outcome of one trade request.
// Rejections come back as Success=false with Error set; they are never
// surfaced as panics or fatal faults.
type SandboxTradeResult struct {
	Success          bool        `json:"success"`
	TradeID          string      `json:"trade_id,omitempty"`
	Symbol           string      `json:"symbol"`
	Action           TradeAction `json:"action"`
	Qty              int64       `json:"qty"`
	ExecPrice        int64       `json:"exec_price"` // cents, post-slippage
	ExecTime         time.Time   `json:"exec_time"`  // sandbox time, not wall time
	Slippage         int64       `json:"slippage"`   // cents per share
	Commission       int64       `json:"commission"` // cents
	TotalCost        int64       `json:"total_cost"` // cents, signed by direction
	ResultingBalance int64       `json:"resulting_balance"`
	Error            string      `json:"error,omitempty"`
}
