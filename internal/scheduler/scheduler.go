// Package scheduler drives the scanner's periodic activities: pre-market
// polling, market-hours polling, the opportunity scan, symbol discovery,
// and daily retention cleanup.
//
// Each activity ticks independently and is re-entrant-safe: a tick that
// arrives while the previous run of the same activity is still in flight is
// skipped, never overlapped. All provider calls go through the rate limiter
// first. The watched and active symbol sets are shared across activities and
// guarded by a single mutex.
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/markethours"
	"github.com/archserver/vbtrader-sub001/internal/model"
	"github.com/archserver/vbtrader-sub001/internal/notification"
	"github.com/archserver/vbtrader-sub001/internal/provider"
	"github.com/archserver/vbtrader-sub001/internal/ratelimit"
	"github.com/archserver/vbtrader-sub001/internal/scanner"
)

// Store is the persistence collaborator the scheduler writes through.
type Store interface {
	WriteQuotesBatch(quotes []model.Quote) error
	WriteOpportunity(opp model.Opportunity) error
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// Config carries the cadences and symbol sets for all five activities.
type Config struct {
	PreMarketEvery time.Duration
	MarketEvery    time.Duration
	ScanEvery      time.Duration
	DiscoveryEvery time.Duration

	// CleanupHourLocal is the local hour (0-23) the retention job runs at.
	CleanupHourLocal int
	Retention        time.Duration

	// ActiveTopN bounds the active subset recomputed by each scan.
	ActiveTopN int

	// Indices iterated by discovery, e.g. $SPX, $NDX.
	Indices []string

	// WatchSymbols seeds the watched set.
	WatchSymbols []string
}

// Scheduler owns the five periodic loops and the watched/active symbol sets.
type Scheduler struct {
	cfg      Config
	provider provider.Client
	limiter  *ratelimit.Limiter
	scorer   *scanner.Scorer
	store    Store
	notifier notification.Notifier

	quoteCh chan<- model.Quote
	oppCh   chan<- model.Opportunity

	mu      sync.Mutex
	watched map[string]struct{}
	active  []string

	// Per-activity re-entrancy guards.
	preMarketBusy atomic.Bool
	marketBusy    atomic.Bool
	scanBusy      atomic.Bool
	discoveryBusy atomic.Bool

	now func() time.Time // test hook
}

// New creates a Scheduler. quoteCh and oppCh receive every emitted quote and
// opportunity; sends never block (full channels drop, as the bus does).
func New(cfg Config, p provider.Client, lim *ratelimit.Limiter, sc *scanner.Scorer,
	store Store, notifier notification.Notifier,
	quoteCh chan<- model.Quote, oppCh chan<- model.Opportunity) *Scheduler {

	watched := make(map[string]struct{}, len(cfg.WatchSymbols))
	for _, sym := range cfg.WatchSymbols {
		watched[sym] = struct{}{}
	}
	return &Scheduler{
		cfg:      cfg,
		provider: p,
		limiter:  lim,
		scorer:   sc,
		store:    store,
		notifier: notifier,
		quoteCh:  quoteCh,
		oppCh:    oppCh,
		watched:  watched,
		now:      time.Now,
	}
}

// Run starts all five activities and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []struct {
		name  string
		every time.Duration
		busy  *atomic.Bool
		fn    func(context.Context)
	}{
		{"premarket", s.cfg.PreMarketEvery, &s.preMarketBusy, s.preMarketPoll},
		{"market", s.cfg.MarketEvery, &s.marketBusy, s.marketPoll},
		{"scan", s.cfg.ScanEvery, &s.scanBusy, s.scan},
		{"discovery", s.cfg.DiscoveryEvery, &s.discoveryBusy, s.discover},
	}
	for _, l := range loops {
		wg.Add(1)
		go func(name string, every time.Duration, busy *atomic.Bool, fn func(context.Context)) {
			defer wg.Done()
			s.loop(ctx, name, every, busy, fn)
		}(l.name, l.every, l.busy, l.fn)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.cleanupLoop(ctx)
	}()

	wg.Wait()
	log.Println("[scheduler] all activities stopped")
}

// loop ticks fn at a fixed cadence, skipping ticks that would overlap a
// still-running previous run of the same activity.
func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, busy *atomic.Bool, fn func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !busy.CompareAndSwap(false, true) {
				log.Printf("[scheduler] %s still running, skipping tick", name)
				continue
			}
			go func() {
				defer busy.Store(false)
				fn(ctx)
			}()
		}
	}
}

// Watched returns a snapshot of the watched symbol set.
func (s *Scheduler) Watched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.watched))
	for sym := range s.watched {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Active returns a snapshot of the active (scan-promoted) subset.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.active))
	copy(out, s.active)
	return out
}

// preMarketPoll polls the full watched set during the pre-market window.
func (s *Scheduler) preMarketPoll(ctx context.Context) {
	now := s.now()
	if !markethours.IsPreMarket(now) || markethours.IsMarketOpen(now) {
		return
	}
	syms := s.Watched()
	if len(syms) == 0 {
		return
	}
	s.pollQuotes(ctx, "premarket", syms, true)
}

// marketPoll polls only the active subset during regular hours.
func (s *Scheduler) marketPoll(ctx context.Context) {
	if !markethours.IsMarketOpen(s.now()) {
		return
	}
	syms := s.Active()
	if len(syms) == 0 {
		return
	}
	s.pollQuotes(ctx, "market", syms, false)
}

func (s *Scheduler) pollQuotes(ctx context.Context, activity string, syms []string, preMarket bool) {
	if err := s.limiter.Acquire(ctx, "market-data", "overall"); err != nil {
		return
	}
	quotes, err := s.provider.GetQuotes(ctx, syms)
	if err != nil {
		log.Printf("[scheduler] %s poll failed: %v (skipping cycle)", activity, err)
		return
	}
	for i := range quotes {
		quotes[i].PreMarket = preMarket
	}
	if err := s.store.WriteQuotesBatch(quotes); err != nil {
		log.Printf("[scheduler] %s: quote batch write failed: %v", activity, err)
	}
	for _, q := range quotes {
		select {
		case s.quoteCh <- q:
		default:
		}
	}
}

// scan pulls top movers by volume and by percent gain, scores each, and
// recomputes the active subset from what was emitted.
func (s *Scheduler) scan(ctx context.Context) {
	index := ""
	if len(s.cfg.Indices) > 0 {
		index = s.cfg.Indices[0]
	}

	var emitted []model.Opportunity
	for _, order := range []provider.SortOrder{provider.SortByVolume, provider.SortByPercentUp} {
		if err := s.limiter.Acquire(ctx, "market-data", "overall"); err != nil {
			return
		}
		movers, err := s.provider.GetMovers(ctx, index, order)
		if err != nil {
			log.Printf("[scheduler] scan movers (%s) failed: %v (skipping cycle)", order, err)
			continue
		}
		for i := range movers {
			opp, emit := s.scorer.Score(&movers[i], classify(&movers[i], order))
			if !emit {
				continue
			}
			emitted = append(emitted, opp)
			if err := s.store.WriteOpportunity(opp); err != nil {
				log.Printf("[scheduler] opportunity write failed: %v", err)
			}
			select {
			case s.oppCh <- opp:
			default:
			}
			if s.notifier != nil {
				if err := s.notifier.Send(ctx, notification.FromOpportunity(opp)); err != nil {
					log.Printf("[scheduler] alert delivery failed: %v", err)
				}
			}
		}
	}

	s.promoteActive(emitted)
}

// promoteActive replaces the active subset with the top-N emitted
// opportunities ranked by absolute percent change, deduplicated by symbol.
func (s *Scheduler) promoteActive(opps []model.Opportunity) {
	if len(opps) == 0 {
		return
	}
	sort.Slice(opps, func(i, j int) bool {
		return abs(opps[i].PriceChangePct) > abs(opps[j].PriceChangePct)
	})

	seen := make(map[string]struct{}, len(opps))
	var top []string
	for _, o := range opps {
		if _, dup := seen[o.Symbol]; dup {
			continue
		}
		seen[o.Symbol] = struct{}{}
		top = append(top, o.Symbol)
		if len(top) >= s.cfg.ActiveTopN {
			break
		}
	}

	s.mu.Lock()
	s.active = top
	s.mu.Unlock()
	log.Printf("[scheduler] active subset: %v", top)
}

// discover walks the configured indices and adds any symbol that clears the
// filter stage to the watched set, whatever its score.
func (s *Scheduler) discover(ctx context.Context) {
	added := 0
	for _, index := range s.cfg.Indices {
		if err := s.limiter.Acquire(ctx, "market-data", "overall"); err != nil {
			return
		}
		movers, err := s.provider.GetMovers(ctx, index, provider.SortByVolume)
		if err != nil {
			log.Printf("[scheduler] discovery on %s failed: %v (skipping index)", index, err)
			continue
		}
		s.mu.Lock()
		for i := range movers {
			if !s.scorer.PassesFilters(&movers[i]) {
				continue
			}
			if _, dup := s.watched[movers[i].Symbol]; !dup {
				s.watched[movers[i].Symbol] = struct{}{}
				added++
			}
		}
		s.mu.Unlock()
	}
	if added > 0 {
		log.Printf("[scheduler] discovery added %d symbol(s), watching %d", added, len(s.Watched()))
	}
}

// cleanupLoop fires the retention job once daily at the configured local hour.
func (s *Scheduler) cleanupLoop(ctx context.Context) {
	for {
		next := nextCleanup(s.now(), s.cfg.CleanupHourLocal)
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			cutoff := s.now().Add(-s.cfg.Retention)
			n, err := s.store.DeleteOlderThan(cutoff)
			if err != nil {
				log.Printf("[scheduler] retention cleanup failed: %v", err)
			} else {
				log.Printf("[scheduler] retention cleanup deleted %d row(s) older than %s", n, cutoff.Format(time.RFC3339))
			}
		}
	}
}

// nextCleanup returns the next occurrence of hour o'clock local time strictly
// after now.
func nextCleanup(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// classify picks the opportunity type for a mover based on how it was found.
func classify(q *model.Quote, order provider.SortOrder) model.OpportunityType {
	if q.PreMarket {
		return model.OppPreMarketMover
	}
	switch order {
	case provider.SortByVolume:
		return model.OppVolumeSpike
	case provider.SortByPercentDown:
		return model.OppBreakoutDown
	default:
		if q.ChangePct() < 0 {
			return model.OppBreakoutDown
		}
		return model.OppBreakoutUp
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
