package model

import (
	"encoding/json"
	"time"
)

// OpportunityType classifies what kind of setup an opportunity represents.
type OpportunityType string

const (
	OppBreakoutUp     OpportunityType = "BREAKOUT_UP"
	OppBreakoutDown   OpportunityType = "BREAKOUT_DOWN"
	OppVolumeSpike    OpportunityType = "VOLUME_SPIKE"
	OppNewsEvent      OpportunityType = "NEWS_EVENT"
	OppPreMarketMover OpportunityType = "PREMARKET_MOVER"
	OppPostMarketMove OpportunityType = "POSTMARKET_MOVER"
	OppEarningsMove   OpportunityType = "EARNINGS_MOVE"
	OppAnalystAction  OpportunityType = "ANALYST_ACTION"
	OppSectorRotation OpportunityType = "SECTOR_ROTATION"
	OppUnusualOptions OpportunityType = "UNUSUAL_OPTIONS"
)

// Opportunity is a scored trading opportunity derived from a quote.
// Read-only downstream; each new scan supersedes rather than mutates.
// Score and Confidence are always clamped into [0,100].
type Opportunity struct {
	Symbol         string          `json:"symbol"`
	TS             time.Time       `json:"ts"`
	Type           OpportunityType `json:"type"`
	Score          float64         `json:"score"`
	VolumeChange   int64           `json:"volume_change"`
	PriceChangePct float64         `json:"price_change_pct"`
	News           NewsRating      `json:"news,omitempty"`
	Confidence     float64         `json:"confidence"`
	Reason         string          `json:"reason"`
}

// JSON returns the JSON-encoded opportunity.
func (o *Opportunity) JSON() []byte {
	b, _ := json.Marshal(o)
	return b
}
