package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archserver/vbtrader-sub001/internal/marketdata"
	"github.com/archserver/vbtrader-sub001/internal/markethours"
	"github.com/archserver/vbtrader-sub001/internal/model"
)

var (
	ErrSessionNotFound = errors.New("sandbox session not found")
	ErrSessionEnded    = errors.New("sandbox session has ended")
	ErrNoData          = errors.New("no data loaded for the requested symbols and range")
)

// TimeStatus reports the replay clock's position for one session.
type TimeStatus struct {
	State       ClockState `json:"state"`
	CurrentTime time.Time  `json:"current_time"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     time.Time  `json:"end_date"`
	Speed       float64    `json:"speed"`
	ProgressPct float64    `json:"progress_pct"`
}

// runtime bundles one live session with its clock, engine, and loaded data.
type runtime struct {
	mu      sync.Mutex
	session *model.SandboxSession
	clock   *Clock
	engine  *Engine
	data    map[string][]model.Candle
	cursor  map[string]int // replay-loop position per symbol
	cancel  context.CancelFunc
}

// Manager owns all sandbox sessions and their replay loops. Synthesized
// quotes from every running replay are pushed to quoteCh (non-blocking,
// drop on full).
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*runtime
	quoteCh  chan<- model.Quote
}

// NewManager creates an empty session manager. quoteCh may be nil when no
// downstream consumer wants replayed quotes.
func NewManager(quoteCh chan<- model.Quote) *Manager {
	return &Manager{
		sessions: make(map[string]*runtime),
		quoteCh:  quoteCh,
	}
}

// CreateSession loads candle data through the source and registers a new
// session. The replay clock is created stopped; StartReplay begins playback.
// Refuses to create a session when the source yields no candles at all.
func (m *Manager) CreateSession(ctx context.Context, userID string, start, end time.Time,
	symbols []string, initialBalance int64, speed float64,
	settings model.SandboxSettings, src marketdata.Source) (*model.SandboxSession, error) {

	if !end.After(start) {
		return nil, fmt.Errorf("end %s not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	data, err := src.Load(ctx, symbols, start, end)
	if err != nil {
		return nil, fmt.Errorf("load sandbox data: %w", err)
	}
	total := 0
	for _, series := range data {
		total += len(series)
	}
	if total == 0 {
		return nil, ErrNoData
	}

	sess := &model.SandboxSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		StartDate:      start,
		EndDate:        end,
		CurrentTime:    start,
		InitialBalance: initialBalance,
		CurrentBalance: initialBalance,
		Active:         true,
		Symbols:        symbols,
		Settings:       settings,
	}

	rt := &runtime{
		session: sess,
		clock:   NewClock(speed, end),
		engine:  NewEngine(initialBalance, settings),
		data:    data,
		cursor:  make(map[string]int, len(data)),
	}
	// Seed the stopped clock so manual (non-replaying) sessions read sandbox
	// time as the session start.
	rt.clock.SetTime(start)

	m.mu.Lock()
	m.sessions[sess.ID] = rt
	m.mu.Unlock()

	log.Printf("[sandbox] session %s created: %d symbols, %d candles, %s..%s",
		sess.ID, len(symbols), total, start.Format("2006-01-02"), end.Format("2006-01-02"))
	out := *sess
	return &out, nil
}

// StartReplay seeds the clock from the earliest loaded candle (or the session
// start if later) and launches the replay loop.
func (m *Manager) StartReplay(ctx context.Context, id string) error {
	rt, err := m.runtime(id)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.session.Active {
		return ErrSessionEnded
	}
	if rt.cancel != nil {
		return nil // already replaying
	}

	seed := rt.session.StartDate
	if first := earliestTS(rt.data); !first.IsZero() && first.After(seed) {
		seed = first
	}
	rt.clock.Start(seed)
	if !rt.session.Settings.AutoAdvance {
		// Manual mode: time moves only via Advance/SetTime.
		rt.clock.Pause()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	go m.replayLoop(loopCtx, rt)
	return nil
}

func earliestTS(data map[string][]model.Candle) time.Time {
	var first time.Time
	for _, series := range data {
		if len(series) == 0 {
			continue
		}
		if first.IsZero() || series[0].TS.Before(first) {
			first = series[0].TS
		}
	}
	return first
}

// replayLoop re-evaluates sandbox time at the clock's cadence, advances each
// symbol to its most recent candle at or before that time (last-known-value
// across gaps), and emits a synthesized quote per symbol. Reaching the end
// bound stops the clock and deactivates the session.
func (m *Manager) replayLoop(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(rt.clock.Cadence())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := rt.clock.CurrentTime()

		rt.mu.Lock()
		rt.session.CurrentTime = now
		for sym, series := range rt.data {
			i := rt.cursor[sym]
			advanced := false
			for i < len(series) && !series[i].TS.After(now) {
				i++
				advanced = true
			}
			rt.cursor[sym] = i
			if i == 0 {
				continue // no candle yet for this symbol
			}
			cur := series[i-1]
			rt.engine.UpdatePrice(sym, cur.Close, now)
			if advanced {
				m.emitQuote(sym, series, i-1, now)
			}
		}
		rt.session.CurrentBalance = rt.engine.Balance()
		ended := rt.clock.AtEnd()
		if ended {
			rt.clock.Stop()
			rt.session.Active = false
			if rt.cancel != nil {
				rt.cancel()
				rt.cancel = nil
			}
		}
		rt.mu.Unlock()

		if ended {
			log.Printf("[sandbox] session %s reached end bound, replay stopped", rt.session.ID)
			return
		}
		ticker.Reset(rt.clock.Cadence())
	}
}

// emitQuote synthesizes a quote from the current candle and pushes it to the
// manager's quote channel without blocking.
func (m *Manager) emitQuote(symbol string, series []model.Candle, i int, now time.Time) {
	if m.quoteCh == nil {
		return
	}
	cur := series[i]
	prevClose := cur.Open
	if i > 0 {
		prevClose = series[i-1].Close
	}
	q := model.Quote{
		Symbol:    symbol,
		Last:      cur.Close,
		High:      cur.High,
		Low:       cur.Low,
		Open:      cur.Open,
		PrevClose: prevClose,
		Volume:    cur.Volume,
		TS:        now,
	}
	select {
	case m.quoteCh <- q:
	default:
	}
}

// GetSession returns a copy of the session with its clock-derived current
// time and balance filled in.
func (m *Manager) GetSession(id string) (*model.SandboxSession, error) {
	rt, err := m.runtime(id)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := *rt.session
	out.CurrentTime = rt.clock.CurrentTime()
	out.CurrentBalance = rt.engine.Balance()
	return &out, nil
}

// EndSession stops the replay and deactivates the session. The session's
// ledger remains available for reports.
func (m *Manager) EndSession(id string) error {
	rt, err := m.runtime(id)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.cancel != nil {
		rt.cancel()
		rt.cancel = nil
	}
	rt.clock.Stop()
	rt.session.Active = false
	rt.session.CurrentBalance = rt.engine.Balance()
	log.Printf("[sandbox] session %s ended, balance %d", id, rt.session.CurrentBalance)
	return nil
}

// Pause freezes the session's clock.
func (m *Manager) Pause(id string) error {
	rt, err := m.runtime(id)
	if err != nil {
		return err
	}
	rt.clock.Pause()
	return nil
}

// Resume unfreezes a paused clock.
func (m *Manager) Resume(id string) error {
	rt, err := m.runtime(id)
	if err != nil {
		return err
	}
	rt.clock.Resume()
	return nil
}

// SetSpeed changes the session's playback multiplier.
func (m *Manager) SetSpeed(id string, speed float64) error {
	rt, err := m.runtime(id)
	if err != nil {
		return err
	}
	rt.clock.SetSpeed(speed)
	return nil
}

// AdvanceTime moves sandbox time forward by d, skipping to the next trading
// day when the jump lands on a weekend or holiday the settings exclude.
func (m *Manager) AdvanceTime(id string, d time.Duration) error {
	rt, err := m.runtime(id)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.session.Active {
		return ErrSessionEnded
	}
	rt.clock.Advance(d)
	m.skipClosedDaysLocked(rt)
	rt.session.CurrentTime = rt.clock.CurrentTime()
	return nil
}

// SetTime jumps sandbox time to t (clamped into the session window).
func (m *Manager) SetTime(id string, t time.Time) error {
	rt, err := m.runtime(id)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.session.Active {
		return ErrSessionEnded
	}
	if t.Before(rt.session.StartDate) {
		t = rt.session.StartDate
	}
	rt.clock.SetTime(t)
	m.skipClosedDaysLocked(rt)
	rt.session.CurrentTime = rt.clock.CurrentTime()
	// A backward jump must rewind the replay cursors.
	for sym := range rt.cursor {
		rt.cursor[sym] = 0
	}
	return nil
}

func (m *Manager) skipClosedDaysLocked(rt *runtime) {
	set := rt.session.Settings
	if !set.SkipWeekends && !set.SkipHolidays {
		return
	}
	cur := rt.clock.CurrentTime()
	skip := (set.SkipWeekends && !markethours.IsWeekday(cur)) ||
		(set.SkipHolidays && markethours.IsHoliday(cur))
	if skip {
		next := markethours.NextTradingDay(cur, set.SkipWeekends, set.SkipHolidays)
		rt.clock.SetTime(markethours.MarketOpen(next))
	}
}

// Time returns the session's clock status.
func (m *Manager) Time(id string) (TimeStatus, error) {
	rt, err := m.runtime(id)
	if err != nil {
		return TimeStatus{}, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	cur := rt.clock.CurrentTime()
	window := rt.session.EndDate.Sub(rt.session.StartDate)
	progress := 0.0
	if window > 0 {
		progress = float64(cur.Sub(rt.session.StartDate)) / float64(window) * 100
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
	}
	return TimeStatus{
		State:       rt.clock.State(),
		CurrentTime: cur,
		StartDate:   rt.session.StartDate,
		EndDate:     rt.session.EndDate,
		Speed:       rt.clock.Speed(),
		ProgressPct: progress,
	}, nil
}

// ExecuteTrade fills or rejects a trade at the session's current replayed
// price for the symbol (the most recent candle at or before sandbox time).
func (m *Manager) ExecuteTrade(id, symbol string, action model.TradeAction, qty int64,
	orderType model.OrderType, limitPrice int64) (model.SandboxTradeResult, error) {

	rt, err := m.runtime(id)
	if err != nil {
		return model.SandboxTradeResult{}, err
	}

	rt.mu.Lock()
	if !rt.session.Active {
		rt.mu.Unlock()
		return model.SandboxTradeResult{}, ErrSessionEnded
	}
	now := rt.clock.CurrentTime()
	price := priceAt(rt.data[symbol], now)
	rt.mu.Unlock()

	result := rt.engine.ExecuteTrade(symbol, action, qty, orderType, limitPrice, price, now)

	rt.mu.Lock()
	rt.session.CurrentBalance = rt.engine.Balance()
	rt.mu.Unlock()
	return result, nil
}

// priceAt returns the close of the most recent candle at or before t, or 0
// when the series has no candle that early.
func priceAt(series []model.Candle, t time.Time) int64 {
	if len(series) == 0 {
		return 0
	}
	// First index with TS > t.
	i := sort.Search(len(series), func(i int) bool { return series[i].TS.After(t) })
	if i == 0 {
		return 0
	}
	return series[i-1].Close
}

// Positions lists open positions for a session.
func (m *Manager) Positions(id string) ([]model.SandboxPosition, error) {
	rt, err := m.runtime(id)
	if err != nil {
		return nil, err
	}
	return rt.engine.Positions(), nil
}

// Balance returns current cash for a session.
func (m *Manager) Balance(id string) (int64, error) {
	rt, err := m.runtime(id)
	if err != nil {
		return 0, err
	}
	return rt.engine.Balance(), nil
}

// Report computes the performance report for a session.
func (m *Manager) Report(id string) (Report, error) {
	rt, err := m.runtime(id)
	if err != nil {
		return Report{}, err
	}
	return rt.engine.Report(), nil
}

func (m *Manager) runtime(id string) (*runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rt, nil
}
