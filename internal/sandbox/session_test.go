package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/marketdata"
	"github.com/archserver/vbtrader-sub001/internal/model"
)

// stubSource serves a fixed candle map.
type stubSource struct {
	data map[string][]model.Candle
}

func (s *stubSource) Load(ctx context.Context, symbols []string, from, to time.Time) (map[string][]model.Candle, error) {
	return s.data, nil
}

func flatCandles(symbol string, start time.Time, n int, price int64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{
			Symbol: symbol,
			TS:     start.Add(time.Duration(i) * time.Minute),
			Open:   price, High: price, Low: price, Close: price,
			Volume: 1000,
		}
	}
	return out
}

var (
	sessStart = time.Date(2026, time.March, 2, 14, 30, 0, 0, time.UTC) // Mon 09:30 ET
	sessEnd   = time.Date(2026, time.March, 6, 21, 0, 0, 0, time.UTC)  // Fri 16:00 ET
)

func newTestSession(t *testing.T, src marketdata.Source, settings model.SandboxSettings) (*Manager, string) {
	t.Helper()
	m := NewManager(nil)
	sess, err := m.CreateSession(context.Background(), "user-1", sessStart, sessEnd,
		[]string{"AAPL"}, 10_000_000, 10, settings, src)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return m, sess.ID
}

func TestCreateSessionRefusesEmptyData(t *testing.T) {
	m := NewManager(nil)
	_, err := m.CreateSession(context.Background(), "user-1", sessStart, sessEnd,
		[]string{"AAPL"}, 10_000_000, 10, model.SandboxSettings{},
		&stubSource{data: map[string][]model.Candle{"AAPL": nil}})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestUnknownSession(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.GetSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession err = %v, want ErrSessionNotFound", err)
	}
	if _, err := m.Balance("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Balance err = %v, want ErrSessionNotFound", err)
	}
}

func TestTradeAtCurrentReplayedPrice(t *testing.T) {
	src := &stubSource{data: map[string][]model.Candle{
		"AAPL": flatCandles("AAPL", sessStart, 60, 15_000),
	}}
	m, id := newTestSession(t, src, model.SandboxSettings{})

	// Move mid-session so a candle exists at or before sandbox time.
	if err := m.SetTime(id, sessStart.Add(30*time.Minute)); err != nil {
		t.Fatalf("SetTime: %v", err)
	}

	res, err := m.ExecuteTrade(id, "AAPL", model.ActionBuy, 100, model.OrderMarket, 0)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if !res.Success {
		t.Fatalf("trade rejected: %s", res.Error)
	}
	if res.ExecPrice != 15_000 {
		t.Errorf("fill = %d, want replayed close 15000", res.ExecPrice)
	}
	if !res.ExecTime.Equal(sessStart.Add(30 * time.Minute)) {
		t.Errorf("exec time = %v, want sandbox time", res.ExecTime)
	}

	sess, _ := m.GetSession(id)
	if sess.CurrentBalance != 10_000_000-100*15_000 {
		t.Errorf("session balance = %d", sess.CurrentBalance)
	}
}

func TestTradeBeforeFirstCandleRejected(t *testing.T) {
	src := &stubSource{data: map[string][]model.Candle{
		"AAPL": flatCandles("AAPL", sessStart.Add(time.Hour), 10, 15_000),
	}}
	m, id := newTestSession(t, src, model.SandboxSettings{})

	res, err := m.ExecuteTrade(id, "AAPL", model.ActionBuy, 1, model.OrderMarket, 0)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if res.Success {
		t.Fatal("trade filled with no candle at or before sandbox time")
	}
}

func TestLastKnownValueAcrossGap(t *testing.T) {
	// Candles at minutes 0-9, then a gap; mid-gap the last close holds.
	src := &stubSource{data: map[string][]model.Candle{
		"AAPL": flatCandles("AAPL", sessStart, 10, 15_000),
	}}
	m, id := newTestSession(t, src, model.SandboxSettings{})
	if err := m.SetTime(id, sessStart.Add(3*time.Hour)); err != nil {
		t.Fatalf("SetTime: %v", err)
	}

	res, _ := m.ExecuteTrade(id, "AAPL", model.ActionBuy, 1, model.OrderMarket, 0)
	if !res.Success {
		t.Fatalf("trade rejected: %s", res.Error)
	}
	if res.ExecPrice != 15_000 {
		t.Errorf("fill = %d, want last known close 15000", res.ExecPrice)
	}
}

func TestEndSessionBlocksTrading(t *testing.T) {
	src := &stubSource{data: map[string][]model.Candle{
		"AAPL": flatCandles("AAPL", sessStart, 10, 15_000),
	}}
	m, id := newTestSession(t, src, model.SandboxSettings{})

	if err := m.EndSession(id); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	sess, _ := m.GetSession(id)
	if sess.Active {
		t.Error("session still active after EndSession")
	}
	if _, err := m.ExecuteTrade(id, "AAPL", model.ActionBuy, 1, model.OrderMarket, 0); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("trade on ended session err = %v, want ErrSessionEnded", err)
	}
	if err := m.AdvanceTime(id, time.Hour); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("advance on ended session err = %v, want ErrSessionEnded", err)
	}
}

func TestSetTimeSkipsWeekend(t *testing.T) {
	src := &stubSource{data: map[string][]model.Candle{
		"AAPL": flatCandles("AAPL", sessStart, 10, 15_000),
	}}
	m := NewManager(nil)
	// Window spans the weekend of Mar 7-8.
	end := time.Date(2026, time.March, 10, 21, 0, 0, 0, time.UTC)
	sess, err := m.CreateSession(context.Background(), "user-1", sessStart, end,
		[]string{"AAPL"}, 10_000_000, 10, model.SandboxSettings{SkipWeekends: true}, src)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := sess.ID

	// Sat 2026-03-07.
	saturday := time.Date(2026, time.March, 7, 15, 0, 0, 0, time.UTC)
	if err := m.SetTime(id, saturday); err != nil {
		t.Fatalf("SetTime: %v", err)
	}

	status, _ := m.Time(id)
	if wd := status.CurrentTime.Weekday(); wd == time.Saturday || wd == time.Sunday {
		t.Errorf("sandbox time landed on %s with SkipWeekends on", wd)
	}
}

func TestTimeStatusProgress(t *testing.T) {
	src := &stubSource{data: map[string][]model.Candle{
		"AAPL": flatCandles("AAPL", sessStart, 10, 15_000),
	}}
	m, id := newTestSession(t, src, model.SandboxSettings{})

	status, err := m.Time(id)
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if status.State != ClockStopped {
		t.Errorf("state = %s, want stopped before replay", status.State)
	}
	if status.ProgressPct != 0 {
		t.Errorf("progress = %f, want 0 at start", status.ProgressPct)
	}
	if status.Speed != 10 {
		t.Errorf("speed = %f, want 10", status.Speed)
	}

	mid := sessStart.Add(sessEnd.Sub(sessStart) / 2)
	m.SetTime(id, mid)
	status, _ = m.Time(id)
	if status.ProgressPct < 49 || status.ProgressPct > 51 {
		t.Errorf("progress = %f, want ~50", status.ProgressPct)
	}
}

func TestReplayLoopEmitsQuotesAndStopsAtEnd(t *testing.T) {
	quoteCh := make(chan model.Quote, 1024)
	m := NewManager(quoteCh)

	// A short window at max speed so the loop reaches the end quickly.
	start := sessStart
	end := sessStart.Add(2 * time.Minute)
	src := &stubSource{data: map[string][]model.Candle{
		"AAPL": flatCandles("AAPL", start, 2, 15_000),
	}}
	sess, err := m.CreateSession(context.Background(), "user-1", start, end,
		[]string{"AAPL"}, 10_000_000, 100, model.SandboxSettings{AutoAdvance: true}, src)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := m.StartReplay(context.Background(), sess.ID); err != nil {
		t.Fatalf("StartReplay: %v", err)
	}

	// 2 sandbox minutes at 100x is 1.2s of wall time.
	deadline := time.After(5 * time.Second)
	for {
		status, _ := m.Time(sess.ID)
		if status.State == ClockStopped {
			break
		}
		select {
		case <-deadline:
			t.Fatal("replay did not stop at the end bound")
		case <-time.After(20 * time.Millisecond):
		}
	}

	got, _ := m.GetSession(sess.ID)
	if got.Active {
		t.Error("session still active after reaching end bound")
	}
	if len(quoteCh) == 0 {
		t.Error("replay emitted no quotes")
	}
	q := <-quoteCh
	if q.Symbol != "AAPL" || q.Last != 15_000 {
		t.Errorf("synthesized quote = %+v", q)
	}
}
