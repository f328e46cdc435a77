package marketdata

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/markethours"
	"github.com/archserver/vbtrader-sub001/internal/model"
)

// SyntheticSource generates a deterministic random-walk candle series.
// The walk is seeded from the symbol and trading day, so the same inputs
// always produce byte-identical data — a session replayed twice shows the
// same chart.
type SyntheticSource struct {
	// IntervalMinutes is the bar size. Defaults to 1.
	IntervalMinutes int
}

const syntheticVolatility = 0.002 // ~0.2% stdev per bar

func (s *SyntheticSource) Load(ctx context.Context, symbols []string, from, to time.Time) (map[string][]model.Candle, error) {
	interval := s.IntervalMinutes
	if interval <= 0 {
		interval = 1
	}

	out := make(map[string][]model.Candle, len(symbols))
	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var candles []model.Candle
		price := basePriceCents(sym)
		for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
			if !markethours.IsTradingDay(day) {
				continue
			}
			dayBars, last := generateDay(sym, day, price, interval)
			candles = append(candles, dayBars...)
			price = last // walk continues across days
		}
		out[sym] = candles
	}
	return out, nil
}

// generateDay produces one regular session (09:30-16:00 ET) of bars for a
// symbol, starting the walk at startPrice. Returns the bars and the closing
// price so the next day can continue from it.
func generateDay(symbol string, day time.Time, startPrice int64, intervalMinutes int) ([]model.Candle, int64) {
	rng := rand.New(rand.NewSource(daySeed(symbol, day)))

	open := markethours.MarketOpen(day)
	end := markethours.MarketClose(day)
	step := time.Duration(intervalMinutes) * time.Minute

	var bars []model.Candle
	price := startPrice
	for ts := open; ts.Before(end); ts = ts.Add(step) {
		o := price
		c := walk(rng, o)
		hi, lo := o, c
		if lo > hi {
			hi, lo = lo, hi
		}
		// Small intrabar wick beyond the open/close range.
		wick := int64(float64(hi) * rng.Float64() * syntheticVolatility)
		hi += wick
		lo -= wick
		if lo < 1 {
			lo = 1
		}

		bars = append(bars, model.Candle{
			Symbol: symbol,
			TS:     ts.UTC(),
			Open:   o,
			High:   hi,
			Low:    lo,
			Close:  c,
			Volume: 10_000 + rng.Int63n(190_000),
		})
		price = c
	}
	return bars, price
}

// walk applies one gaussian step to a price in cents, flooring at 1 cent.
func walk(rng *rand.Rand, price int64) int64 {
	next := int64(float64(price) * (1 + rng.NormFloat64()*syntheticVolatility))
	if next < 1 {
		next = 1
	}
	return next
}

// daySeed hashes symbol plus calendar date so each trading day of each symbol
// gets its own reproducible stream.
func daySeed(symbol string, day time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(":"))
	h.Write([]byte(day.Format("2006-01-02")))
	return int64(h.Sum64())
}

// basePriceCents derives a stable starting price in the $5-$500 range from
// the symbol name alone.
func basePriceCents(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return 500 + int64(h.Sum64()%49_500)
}
