// Package scanner turns raw quotes into ranked trading opportunities.
//
// The Scorer is a pure filter + scoring function: no I/O, no state beyond
// its configuration, safe to call from any goroutine.
package scanner

import (
	"fmt"
	"math"
	"strings"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

// CapBucket is one enable-able market-cap range filter. Bounds are in cents.
type CapBucket struct {
	Enabled bool
	Min     int64
	Max     int64
}

func (b CapBucket) contains(marketCap int64) bool {
	return b.Enabled && marketCap >= b.Min && marketCap <= b.Max
}

// ScorerConfig holds the filter thresholds and the emission cutoff.
// Price and cap bounds are in cents; volume and float in shares.
type ScorerConfig struct {
	PriceMin int64
	PriceMax int64

	VolumeFloorPreMarket int64
	VolumeFloorRegular   int64

	FloatMin int64
	FloatMax int64

	// Pre-market quotes must additionally show an absolute percent change
	// inside this band.
	PreMarketPctMin float64
	PreMarketPctMax float64

	// A quote must land in at least one enabled bucket.
	SmallCap CapBucket
	MidCap   CapBucket
	LargeCap CapBucket

	MinScore float64
}

// DefaultScorerConfig mirrors the thresholds the scan loop runs with when
// nothing is overridden.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		PriceMin:             100,        // $1.00
		PriceMax:             100_000_00, // $100,000
		VolumeFloorPreMarket: 50_000,
		VolumeFloorRegular:   500_000,
		FloatMin:             1_000_000,
		FloatMax:             500_000_000,
		PreMarketPctMin:      2,
		PreMarketPctMax:      100,
		SmallCap:             CapBucket{Enabled: true, Min: 50_000_000_00, Max: 2_000_000_000_00},
		MidCap:               CapBucket{Enabled: true, Min: 2_000_000_000_00, Max: 10_000_000_000_00},
		LargeCap:             CapBucket{Enabled: true, Min: 10_000_000_000_00, Max: math.MaxInt64},
		MinScore:             70,
	}
}

// Scorer converts quotes into opportunities.
type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// PassesFilters reports whether a quote clears the filter stage.
// Discovery uses this directly: a symbol can be worth watching even when
// its current score is below the emission cutoff.
func (s *Scorer) PassesFilters(q *model.Quote) bool {
	if q.Last < s.cfg.PriceMin || q.Last > s.cfg.PriceMax {
		return false
	}

	floor := s.cfg.VolumeFloorRegular
	if q.PreMarket {
		floor = s.cfg.VolumeFloorPreMarket
	}
	if q.Volume < floor {
		return false
	}

	if q.Float < s.cfg.FloatMin || q.Float > s.cfg.FloatMax {
		return false
	}

	if q.PreMarket {
		abs := math.Abs(q.ChangePct())
		if abs < s.cfg.PreMarketPctMin || abs > s.cfg.PreMarketPctMax {
			return false
		}
	}

	return s.cfg.SmallCap.contains(q.MarketCap) ||
		s.cfg.MidCap.contains(q.MarketCap) ||
		s.cfg.LargeCap.contains(q.MarketCap)
}

// Score runs the quote through the filters and, if it passes, computes a
// typed opportunity. The second return is true only when the opportunity
// clears the minimum score and should be emitted.
func (s *Scorer) Score(q *model.Quote, typ model.OpportunityType) (model.Opportunity, bool) {
	if !s.PassesFilters(q) {
		return model.Opportunity{}, false
	}

	pct := q.ChangePct()
	absPct := math.Abs(pct)
	volTerm := math.Min(float64(q.Volume)/1e6, 10) * 5

	score := 2*absPct + volTerm + 5*float64(q.News)
	switch typ {
	case model.OppVolumeSpike:
		score += volTerm / 2
	case model.OppPreMarketMover:
		score += absPct
	}
	score = clamp(score)

	opp := model.Opportunity{
		Symbol:         q.Symbol,
		TS:             q.TS,
		Type:           typ,
		Score:          score,
		VolumeChange:   q.Volume,
		PriceChangePct: pct,
		News:           q.News,
		Confidence:     confidence(q, absPct),
		Reason:         reason(q, absPct),
	}
	return opp, score >= s.cfg.MinScore
}

// confidence is independent of the score: a base of 50 plus threshold
// ladders for volume, move size, and positive sentiment.
func confidence(q *model.Quote, absPct float64) float64 {
	c := 50.0
	if q.Volume >= 1_000_000 {
		c += 10
	}
	if q.Volume >= 5_000_000 {
		c += 10
	}
	if absPct >= 5 {
		c += 10
	}
	if absPct >= 10 {
		c += 10
	}
	if q.News >= model.NewsPositive {
		c += 10
	}
	return clamp(c)
}

// reason concatenates the triggering conditions for audit logs.
func reason(q *model.Quote, absPct float64) string {
	var parts []string
	if absPct >= 5 {
		parts = append(parts, fmt.Sprintf("large move %+.1f%%", q.ChangePct()))
	}
	if q.Volume >= 1_000_000 {
		parts = append(parts, fmt.Sprintf("high volume %.1fM", float64(q.Volume)/1e6))
	}
	if q.News >= model.NewsPositive {
		parts = append(parts, "positive sentiment")
	}
	if q.PreMarket {
		parts = append(parts, "pre-market")
	}
	if len(parts) == 0 {
		return "threshold scan"
	}
	return strings.Join(parts, ", ")
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
