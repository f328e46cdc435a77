package model

import (
	"encoding/json"
	"time"
)

// Indicators holds optional precomputed indicator values for a candle.
// Present only when the data source computed them; nil otherwise.
type Indicators struct {
	EMA9       float64 `json:"ema9,omitempty"`
	EMA21      float64 `json:"ema21,omitempty"`
	MACD       float64 `json:"macd,omitempty"`
	MACDSignal float64 `json:"macd_signal,omitempty"`
	RSI14      float64 `json:"rsi14,omitempty"`
	BollUpper  float64 `json:"boll_upper,omitempty"`
	BollLower  float64 `json:"boll_lower,omitempty"`
}

// Candle represents one OHLCV bar for a symbol over a fixed time bucket.
// All prices are in cents (int64). Immutable once produced; the unit the
// sandbox clock replays.
type Candle struct {
	Symbol string      `json:"symbol"`
	TS     time.Time   `json:"ts"` // bucket start time (UTC)
	Open   int64       `json:"open"`
	High   int64       `json:"high"`
	Low    int64       `json:"low"`
	Close  int64       `json:"close"`
	Volume int64       `json:"volume"`
	Ind    *Indicators `json:"ind,omitempty"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
