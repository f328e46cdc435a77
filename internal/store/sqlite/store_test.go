package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/model"
	"github.com/archserver/vbtrader-sub001/internal/provider"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quoteAt(symbol string, ts time.Time, last, prevClose, volume int64) model.Quote {
	return model.Quote{
		Symbol: symbol, TS: ts,
		Last: last, PrevClose: prevClose, Volume: volume,
		Float: 1_000_000, MarketCap: 1_000_000_000_00,
	}
}

func TestTopMoversByVolumeAndPercent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	err := s.WriteQuotesBatch([]model.Quote{
		quoteAt("AAPL", now, 11_000, 10_000, 5_000_000), // +10%
		quoteAt("MSFT", now, 10_100, 10_000, 9_000_000), // +1%, most volume
		quoteAt("TSLA", now, 12_000, 10_000, 1_000_000), // +20%
		// Older AAPL row that must not shadow the latest.
		quoteAt("AAPL", now.Add(-time.Hour), 9_000, 10_000, 99_000_000),
	})
	if err != nil {
		t.Fatalf("write quotes: %v", err)
	}

	byVol, err := s.ReadTopMovers(2, false, provider.SortByVolume)
	if err != nil {
		t.Fatalf("read by volume: %v", err)
	}
	if len(byVol) != 2 || byVol[0].Symbol != "MSFT" {
		t.Errorf("by volume = %v", symbols(byVol))
	}

	byPct, err := s.ReadTopMovers(3, false, provider.SortByPercentUp)
	if err != nil {
		t.Fatalf("read by percent: %v", err)
	}
	if len(byPct) != 3 || byPct[0].Symbol != "TSLA" || byPct[1].Symbol != "AAPL" {
		t.Errorf("by percent = %v", symbols(byPct))
	}
	// The latest AAPL row (+10%), not the stale -10% one.
	if byPct[1].Last != 11_000 {
		t.Errorf("stale quote returned: %+v", byPct[1])
	}
}

func TestPreMarketMoversSeparated(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	pre := quoteAt("GME", now, 11_000, 10_000, 2_000_000)
	pre.PreMarket = true
	if err := s.WriteQuotesBatch([]model.Quote{pre, quoteAt("AAPL", now, 10_000, 10_000, 5_000_000)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	movers, err := s.ReadTopMovers(10, true, provider.SortByVolume)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(movers) != 1 || movers[0].Symbol != "GME" || !movers[0].PreMarket {
		t.Errorf("pre-market movers = %+v", movers)
	}
}

func TestCandleRoundTripAscending(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, time.March, 3, 14, 30, 0, 0, time.UTC)

	// Insert out of order; reads must come back ascending.
	in := []model.Candle{
		{Symbol: "AAPL", TS: start.Add(2 * time.Minute), Open: 3, High: 3, Low: 3, Close: 3, Volume: 30},
		{Symbol: "AAPL", TS: start, Open: 1, High: 1, Low: 1, Close: 1, Volume: 10},
		{Symbol: "AAPL", TS: start.Add(time.Minute), Open: 2, High: 2, Low: 2, Close: 2, Volume: 20},
	}
	if err := s.WriteCandles(in); err != nil {
		t.Fatalf("write candles: %v", err)
	}

	out, err := s.ReadCandles("AAPL", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("read candles: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("candles = %d, want 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i-1].TS.Before(out[i].TS) {
			t.Fatalf("candles not ascending: %v then %v", out[i-1].TS, out[i].TS)
		}
	}
	if out[0].Close != 1 || out[2].Close != 3 {
		t.Errorf("ordering wrong: %+v", out)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	old := now.Add(-48 * time.Hour)

	if err := s.WriteQuotesBatch([]model.Quote{
		quoteAt("AAPL", old, 10_000, 10_000, 1),
		quoteAt("AAPL", now, 10_000, 10_000, 1),
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteOpportunity(model.Opportunity{Symbol: "AAPL", TS: old, Type: model.OppBreakoutUp}); err != nil {
		t.Fatalf("write opportunity: %v", err)
	}

	n, err := s.DeleteOlderThan(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2 (one quote, one opportunity)", n)
	}

	left, _ := s.ReadTopMovers(10, false, provider.SortByVolume)
	if len(left) != 1 {
		t.Errorf("remaining quotes = %d, want 1", len(left))
	}
}

func symbols(quotes []model.Quote) []string {
	out := make([]string, len(quotes))
	for i, q := range quotes {
		out[i] = q.Symbol
	}
	return out
}
