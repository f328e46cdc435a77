package model

import (
	"encoding/json"
	"time"
)

// NewsRating is an ordinal sentiment rating attached to a quote.
// Higher is more positive; the scorer uses the raw ordinal as a weight.
type NewsRating int

const (
	NewsNone NewsRating = iota
	NewsNegative
	NewsNeutral
	NewsPositive
	NewsVeryPositive
)

// Quote is a point-in-time snapshot of one symbol's market state.
// All prices are in cents (int64) to avoid floating-point drift.
// Quotes are ephemeral: produced at each poll or replay tick, consumed
// immediately, and optionally persisted in batches.
type Quote struct {
	Symbol    string     `json:"symbol"`
	Last      int64      `json:"last"`       // cents
	Bid       int64      `json:"bid"`        // cents
	Ask       int64      `json:"ask"`        // cents
	High      int64      `json:"high"`       // cents
	Low       int64      `json:"low"`        // cents
	Open      int64      `json:"open"`       // cents
	PrevClose int64      `json:"prev_close"` // cents
	Volume    int64      `json:"volume"`
	Float     int64      `json:"float"`      // shares outstanding in public float
	MarketCap int64      `json:"market_cap"` // cents
	PreMarket bool       `json:"pre_market"`
	TS        time.Time  `json:"ts"` // UTC
	News      NewsRating `json:"news,omitempty"`
}

// ChangePct returns the percent change of Last vs PrevClose.
// Returns 0 if PrevClose is zero.
func (q *Quote) ChangePct() float64 {
	if q.PrevClose == 0 {
		return 0
	}
	return float64(q.Last-q.PrevClose) / float64(q.PrevClose) * 100
}

// JSON returns the JSON-encoded quote (ignoring errors for hot-path usage).
func (q *Quote) JSON() []byte {
	b, _ := json.Marshal(q)
	return b
}
