package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/model"
	"github.com/archserver/vbtrader-sub001/internal/provider"
	"github.com/archserver/vbtrader-sub001/internal/ratelimit"
	"github.com/archserver/vbtrader-sub001/internal/scanner"
)

type fakeProvider struct {
	mu         sync.Mutex
	quotes     []model.Quote
	movers     []model.Quote
	quoteCalls int
	moverCalls int
}

func (f *fakeProvider) GetQuotes(ctx context.Context, symbols []string) ([]model.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	return append([]model.Quote(nil), f.quotes...), nil
}

func (f *fakeProvider) GetPriceHistory(ctx context.Context, symbol string, period provider.PeriodSpec) ([]model.Candle, error) {
	return nil, nil
}

func (f *fakeProvider) GetMovers(ctx context.Context, index string, order provider.SortOrder) ([]model.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moverCalls++
	return append([]model.Quote(nil), f.movers...), nil
}

type fakeStore struct {
	mu      sync.Mutex
	batches int
	opps    []model.Opportunity
	deleted int
}

func (f *fakeStore) WriteQuotesBatch(quotes []model.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	return nil
}

func (f *fakeStore) WriteOpportunity(opp model.Opportunity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opps = append(f.opps, opp)
	return nil
}

func (f *fakeStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	return 42, nil
}

func openLimiter() *ratelimit.Limiter {
	return ratelimit.New(
		ratelimit.Budget{Name: "market-data", Max: 1000, Window: time.Minute},
		ratelimit.Budget{Name: "overall", Max: 1000, Window: time.Minute},
	)
}

func strongMover(symbol string) model.Quote {
	return model.Quote{
		Symbol:    symbol,
		Last:      11_000,
		PrevClose: 10_000, // +10%
		Volume:    8_000_000,
		Float:     50_000_000,
		MarketCap: 5_000_000_000_00,
		TS:        time.Now().UTC(),
		News:      model.NewsPositive,
	}
}

func testScheduler(p *fakeProvider, st *fakeStore, oppCh chan model.Opportunity, quoteCh chan model.Quote) *Scheduler {
	cfg := Config{
		PreMarketEvery:   time.Hour,
		MarketEvery:      time.Hour,
		ScanEvery:        time.Hour,
		DiscoveryEvery:   time.Hour,
		CleanupHourLocal: 3,
		Retention:        30 * 24 * time.Hour,
		ActiveTopN:       2,
		Indices:          []string{"$SPX", "$NDX"},
		WatchSymbols:     []string{"AAPL"},
	}
	return New(cfg, p, openLimiter(), scanner.NewScorer(scanner.DefaultScorerConfig()),
		st, nil, quoteCh, oppCh)
}

func TestScanEmitsAndPromotesActive(t *testing.T) {
	p := &fakeProvider{movers: []model.Quote{
		strongMover("NVDA"), strongMover("TSLA"), strongMover("AMD"),
	}}
	st := &fakeStore{}
	oppCh := make(chan model.Opportunity, 64)

	s := testScheduler(p, st, oppCh, make(chan model.Quote, 64))
	s.scan(context.Background())

	// Two sort orders, three movers each.
	if got := len(st.opps); got != 6 {
		t.Fatalf("persisted opportunities = %d, want 6", got)
	}
	if got := len(oppCh); got != 6 {
		t.Fatalf("broadcast opportunities = %d, want 6", got)
	}

	active := s.Active()
	if len(active) != 2 {
		t.Fatalf("active = %v, want top-2 subset", active)
	}
}

func TestScanTypesFollowSortOrder(t *testing.T) {
	p := &fakeProvider{movers: []model.Quote{strongMover("NVDA")}}
	st := &fakeStore{}
	oppCh := make(chan model.Opportunity, 8)

	s := testScheduler(p, st, oppCh, make(chan model.Quote, 8))
	s.scan(context.Background())

	first, second := <-oppCh, <-oppCh
	if first.Type != model.OppVolumeSpike {
		t.Errorf("volume-sorted mover type = %s, want %s", first.Type, model.OppVolumeSpike)
	}
	if second.Type != model.OppBreakoutUp {
		t.Errorf("percent-sorted gainer type = %s, want %s", second.Type, model.OppBreakoutUp)
	}
}

func TestDiscoveryAddsFilteredSymbols(t *testing.T) {
	weak := strongMover("PENNY")
	weak.Last, weak.PrevClose = 50, 50 // $0.50, fails the price floor

	p := &fakeProvider{movers: []model.Quote{strongMover("NVDA"), weak}}
	st := &fakeStore{}
	s := testScheduler(p, st, make(chan model.Opportunity, 8), make(chan model.Quote, 8))

	s.discover(context.Background())
	s.discover(context.Background()) // dedup: second pass adds nothing

	watched := s.Watched()
	if len(watched) != 2 {
		t.Fatalf("watched = %v, want [AAPL NVDA]", watched)
	}
	if watched[0] != "AAPL" || watched[1] != "NVDA" {
		t.Fatalf("watched = %v, want [AAPL NVDA]", watched)
	}
}

func TestPreMarketPollGatesOnWindow(t *testing.T) {
	p := &fakeProvider{quotes: []model.Quote{strongMover("AAPL")}}
	st := &fakeStore{}
	quoteCh := make(chan model.Quote, 8)
	s := testScheduler(p, st, make(chan model.Opportunity, 8), quoteCh)

	// Tue 2026-03-03 13:00 UTC = 08:00 ET, inside pre-market.
	s.now = func() time.Time { return time.Date(2026, time.March, 3, 13, 0, 0, 0, time.UTC) }
	s.preMarketPoll(context.Background())
	if p.quoteCalls != 1 {
		t.Fatalf("quote calls in pre-market = %d, want 1", p.quoteCalls)
	}
	q := <-quoteCh
	if !q.PreMarket {
		t.Error("pre-market poll did not tag quote PreMarket")
	}

	// 15:30 UTC = 10:30 ET, regular session — pre-market poll must not fire.
	s.now = func() time.Time { return time.Date(2026, time.March, 3, 15, 30, 0, 0, time.UTC) }
	s.preMarketPoll(context.Background())
	if p.quoteCalls != 1 {
		t.Fatalf("pre-market poll fired during regular hours (calls=%d)", p.quoteCalls)
	}
}

func TestMarketPollUsesActiveSubsetOnly(t *testing.T) {
	p := &fakeProvider{quotes: []model.Quote{strongMover("NVDA")}}
	st := &fakeStore{}
	s := testScheduler(p, st, make(chan model.Opportunity, 8), make(chan model.Quote, 8))
	s.now = func() time.Time { return time.Date(2026, time.March, 3, 15, 30, 0, 0, time.UTC) }

	// No active symbols yet: nothing to poll.
	s.marketPoll(context.Background())
	if p.quoteCalls != 0 {
		t.Fatalf("market poll fired with empty active set (calls=%d)", p.quoteCalls)
	}

	s.mu.Lock()
	s.active = []string{"NVDA"}
	s.mu.Unlock()
	s.marketPoll(context.Background())
	if p.quoteCalls != 1 {
		t.Fatalf("quote calls = %d, want 1", p.quoteCalls)
	}
	if st.batches != 1 {
		t.Fatalf("persisted batches = %d, want 1", st.batches)
	}
}

func TestLoopSkipsOverlappingTicks(t *testing.T) {
	s := testScheduler(&fakeProvider{}, &fakeStore{}, make(chan model.Opportunity, 1), make(chan model.Quote, 1))

	var running, overlapped, runs atomic.Int32
	slow := func(ctx context.Context) {
		if running.Add(1) > 1 {
			overlapped.Store(1)
		}
		runs.Add(1)
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var busy atomic.Bool
	s.loop(ctx, "slow", 10*time.Millisecond, &busy, slow)

	if overlapped.Load() != 0 {
		t.Fatal("activity overlapped with itself")
	}
	if n := runs.Load(); n < 2 {
		t.Fatalf("activity ran %d time(s), want at least 2", n)
	}
}

func TestNextCleanup(t *testing.T) {
	loc := time.UTC
	before := time.Date(2026, time.March, 3, 2, 59, 0, 0, loc)
	after := time.Date(2026, time.March, 3, 3, 1, 0, 0, loc)

	if got := nextCleanup(before, 3); got.Day() != 3 || got.Hour() != 3 {
		t.Errorf("nextCleanup before hour = %v", got)
	}
	if got := nextCleanup(after, 3); got.Day() != 4 || got.Hour() != 3 {
		t.Errorf("nextCleanup after hour = %v", got)
	}
}
