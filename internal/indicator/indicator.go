// Package indicator computes streaming technical indicators (EMA, MACD,
// RSI, Bollinger bands) used to enrich candles as data sources load them.
package indicator

import (
	"math"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

// EMA calculates Exponential Moving Average.
// O(1) per update — no window storage needed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Update(price float64) {
	e.count++
	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// RSI calculates the Relative Strength Index with Wilder smoothing.
type RSI struct {
	period  int
	avgGain float64
	avgLoss float64
	prev    float64
	count   int
}

// NewRSI creates a new RSI indicator with the given period.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Update(price float64) {
	if r.count == 0 {
		r.prev = price
		r.count++
		return
	}

	change := price - r.prev
	r.prev = price
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if r.count <= r.period {
		// Simple average seed
		r.avgGain += gain / float64(r.period)
		r.avgLoss += loss / float64(r.period)
	} else {
		p := float64(r.period)
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}
	r.count++
}

func (r *RSI) Ready() bool { return r.count > r.period }

func (r *RSI) Value() float64 {
	if r.avgLoss == 0 {
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - (100 / (1 + rs))
}

// Bollinger maintains a rolling window of closes for band computation.
type Bollinger struct {
	period int
	stdevs float64
	window []float64
}

// NewBollinger creates Bollinger bands over period closes at k stdevs.
func NewBollinger(period int, stdevs float64) *Bollinger {
	return &Bollinger{period: period, stdevs: stdevs}
}

func (b *Bollinger) Update(price float64) {
	b.window = append(b.window, price)
	if len(b.window) > b.period {
		b.window = b.window[1:]
	}
}

func (b *Bollinger) Ready() bool { return len(b.window) >= b.period }

// Bands returns (upper, lower) at the configured stdev multiple.
func (b *Bollinger) Bands() (upper, lower float64) {
	n := float64(len(b.window))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range b.window {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range b.window {
		d := v - mean
		sq += d * d
	}
	sd := math.Sqrt(sq / n)
	return mean + b.stdevs*sd, mean - b.stdevs*sd
}

// Enricher attaches EMA/MACD/RSI/Bollinger values to candles as they
// stream through. One Enricher per symbol; candles must arrive in
// ascending timestamp order.
type Enricher struct {
	ema9   *EMA
	ema21  *EMA
	ema12  *EMA
	ema26  *EMA
	signal *EMA
	rsi    *RSI
	boll   *Bollinger
}

// NewEnricher creates an Enricher with conventional periods
// (EMA 9/21, MACD 12/26/9, RSI 14, Bollinger 20 at 2 stdevs).
func NewEnricher() *Enricher {
	return &Enricher{
		ema9:   NewEMA(9),
		ema21:  NewEMA(21),
		ema12:  NewEMA(12),
		ema26:  NewEMA(26),
		signal: NewEMA(9),
		rsi:    NewRSI(14),
		boll:   NewBollinger(20, 2),
	}
}

// Enrich updates all indicators with the candle's close and, once they are
// warmed up, populates the candle's Ind block in place.
func (en *Enricher) Enrich(c *model.Candle) {
	price := float64(c.Close)
	en.ema9.Update(price)
	en.ema21.Update(price)
	en.ema12.Update(price)
	en.ema26.Update(price)
	en.rsi.Update(price)
	en.boll.Update(price)

	macd := 0.0
	if en.ema12.Ready() && en.ema26.Ready() {
		macd = en.ema12.Value() - en.ema26.Value()
		en.signal.Update(macd)
	}

	if !en.ema9.Ready() {
		return
	}

	ind := &model.Indicators{
		EMA9:  en.ema9.Value(),
		EMA21: en.ema21.Value(),
	}
	if en.ema26.Ready() {
		ind.MACD = macd
		ind.MACDSignal = en.signal.Value()
	}
	if en.rsi.Ready() {
		ind.RSI14 = en.rsi.Value()
	}
	if en.boll.Ready() {
		ind.BollUpper, ind.BollLower = en.boll.Bands()
	}
	c.Ind = ind
}
