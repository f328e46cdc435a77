package sandbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

// BalancePoint is one equity observation (cash + market value of open
// positions) at a sandbox timestamp.
type BalancePoint struct {
	TS     time.Time `json:"ts"`
	Equity int64     `json:"equity"` // cents
}

// RealizedTrade is one closed (sell) trade with its realized P&L, kept for
// win/loss analytics.
type RealizedTrade struct {
	Symbol   string    `json:"symbol"`
	Qty      int64     `json:"qty"`
	Realized int64     `json:"realized"` // cents, net of nothing — commission tracked separately
	TS       time.Time `json:"ts"`
}

// Engine simulates order execution for one sandbox session. All money is in
// cents. Trade requests may arrive from an API handler while the replay loop
// is updating prices, so every entry point takes the engine mutex.
type Engine struct {
	mu sync.Mutex

	settings model.SandboxSettings

	initial  int64
	balance  int64
	realized int64

	positions map[string]*model.SandboxPosition
	trades    []model.SandboxTradeResult
	closed    []RealizedTrade
	equity    []BalancePoint

	lastPrice map[string]int64 // latest replayed close per symbol
}

// NewEngine creates an execution engine with the given starting cash.
func NewEngine(initialBalance int64, settings model.SandboxSettings) *Engine {
	return &Engine{
		settings:  settings,
		initial:   initialBalance,
		balance:   initialBalance,
		positions: make(map[string]*model.SandboxPosition),
		lastPrice: make(map[string]int64),
	}
}

// UpdatePrice records a new replayed close for a symbol, revalues any open
// position, and appends an equity snapshot.
func (e *Engine) UpdatePrice(symbol string, price int64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastPrice[symbol] = price
	if pos, ok := e.positions[symbol]; ok {
		pos.CurrentPrice = price
		pos.LastUpdate = at
	}
	e.equity = append(e.equity, BalancePoint{TS: at, Equity: e.equityLocked()})
}

func (e *Engine) equityLocked() int64 {
	total := e.balance
	for _, pos := range e.positions {
		total += pos.MarketValue()
	}
	return total
}

// ExecuteTrade fills or rejects one trade request at the given replayed
// close price. Rejections come back as a failed result with Error set and no
// state mutation; they never return a Go error.
func (e *Engine) ExecuteTrade(symbol string, action model.TradeAction, qty int64,
	orderType model.OrderType, limitPrice int64, closePrice int64, at time.Time) model.SandboxTradeResult {

	e.mu.Lock()
	defer e.mu.Unlock()

	reject := func(format string, args ...any) model.SandboxTradeResult {
		return model.SandboxTradeResult{
			Symbol:           symbol,
			Action:           action,
			Qty:              qty,
			ExecTime:         at,
			ResultingBalance: e.balance,
			Error:            fmt.Sprintf(format, args...),
		}
	}

	if qty <= 0 {
		return reject("quantity must be positive, got %d", qty)
	}
	if closePrice <= 0 {
		return reject("no price available for %s", symbol)
	}

	// A limit order only fills when the replayed price satisfies the limit.
	if orderType == model.OrderLimit {
		if limitPrice <= 0 {
			return reject("limit order requires a positive limit price")
		}
		if action == model.ActionBuy && closePrice > limitPrice {
			return reject("limit %d not reached (price %d)", limitPrice, closePrice)
		}
		if action == model.ActionSell && closePrice < limitPrice {
			return reject("limit %d not reached (price %d)", limitPrice, closePrice)
		}
	}

	// Slippage worsens the fill: buys pay more, sells receive less.
	var slippage int64
	fillPrice := closePrice
	if e.settings.SlippageEnabled && e.settings.SlippageBps > 0 {
		slippage = closePrice * e.settings.SlippageBps / 10_000
		if action == model.ActionBuy {
			fillPrice += slippage
		} else {
			fillPrice -= slippage
		}
		if fillPrice < 1 {
			fillPrice = 1
		}
	}

	var commission int64
	if e.settings.CommissionEnabled {
		commission = e.settings.CommissionCents
	}

	switch action {
	case model.ActionBuy:
		return e.buyLocked(symbol, qty, fillPrice, slippage, commission, at, reject)
	case model.ActionSell:
		return e.sellLocked(symbol, qty, fillPrice, slippage, commission, at, reject)
	}
	return reject("unknown action %q", action)
}

func (e *Engine) buyLocked(symbol string, qty, fillPrice, slippage, commission int64,
	at time.Time, reject func(string, ...any) model.SandboxTradeResult) model.SandboxTradeResult {

	pos := e.positions[symbol]
	if limit := e.settings.MaxPositions; limit > 0 {
		held := int64(0)
		if pos != nil {
			held = pos.Qty
		}
		if held+qty > limit {
			return reject("position cap %d exceeded (held %d, buying %d)", limit, held, qty)
		}
	}

	total := fillPrice*qty + commission
	if total > e.balance {
		return reject("insufficient funds: need %d, have %d", total, e.balance)
	}

	e.balance -= total
	if pos == nil {
		e.positions[symbol] = &model.SandboxPosition{
			Symbol:       symbol,
			Qty:          qty,
			AvgCost:      fillPrice,
			CurrentPrice: fillPrice,
			FirstBuy:     at,
			LastUpdate:   at,
		}
	} else {
		// Weighted-average cost basis across the combined lot.
		totalCost := pos.AvgCost*pos.Qty + fillPrice*qty
		pos.Qty += qty
		pos.AvgCost = totalCost / pos.Qty
		pos.CurrentPrice = fillPrice
		pos.LastUpdate = at
	}

	result := model.SandboxTradeResult{
		Success:          true,
		TradeID:          uuid.NewString(),
		Symbol:           symbol,
		Action:           model.ActionBuy,
		Qty:              qty,
		ExecPrice:        fillPrice,
		ExecTime:         at,
		Slippage:         slippage,
		Commission:       commission,
		TotalCost:        total,
		ResultingBalance: e.balance,
	}
	e.trades = append(e.trades, result)
	return result
}

func (e *Engine) sellLocked(symbol string, qty, fillPrice, slippage, commission int64,
	at time.Time, reject func(string, ...any) model.SandboxTradeResult) model.SandboxTradeResult {

	pos := e.positions[symbol]
	if pos == nil || pos.Qty < qty {
		held := int64(0)
		if pos != nil {
			held = pos.Qty
		}
		return reject("insufficient quantity: hold %d, selling %d", held, qty)
	}

	proceeds := fillPrice*qty - commission
	realized := (fillPrice - pos.AvgCost) * qty

	e.balance += proceeds
	e.realized += realized
	e.closed = append(e.closed, RealizedTrade{Symbol: symbol, Qty: qty, Realized: realized, TS: at})

	pos.Qty -= qty
	pos.CurrentPrice = fillPrice
	pos.LastUpdate = at
	if pos.Qty == 0 {
		delete(e.positions, symbol)
	}

	result := model.SandboxTradeResult{
		Success:          true,
		TradeID:          uuid.NewString(),
		Symbol:           symbol,
		Action:           model.ActionSell,
		Qty:              qty,
		ExecPrice:        fillPrice,
		ExecTime:         at,
		Slippage:         slippage,
		Commission:       commission,
		TotalCost:        -proceeds,
		ResultingBalance: e.balance,
	}
	e.trades = append(e.trades, result)
	return result
}

// Balance returns current cash in cents.
func (e *Engine) Balance() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// Positions returns a snapshot of open positions.
func (e *Engine) Positions() []model.SandboxPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.SandboxPosition, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

// Trades returns a snapshot of all executed trades.
func (e *Engine) Trades() []model.SandboxTradeResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.SandboxTradeResult, len(e.trades))
	copy(out, e.trades)
	return out
}

// UnrealizedPnL totals open-position P&L at the latest replayed prices.
func (e *Engine) UnrealizedPnL() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total int64
	for _, pos := range e.positions {
		total += pos.UnrealizedPnL()
	}
	return total
}

// Report computes performance analytics from the engine's ledger.
func (e *Engine) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	var unrealized int64
	for _, pos := range e.positions {
		unrealized += pos.UnrealizedPnL()
	}
	closed := make([]RealizedTrade, len(e.closed))
	copy(closed, e.closed)
	equity := make([]BalancePoint, len(e.equity))
	copy(equity, e.equity)

	return BuildReport(e.initial, e.equityLocked(), e.realized, unrealized, len(e.trades), closed, equity)
}
