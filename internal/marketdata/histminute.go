package marketdata

import (
	"context"
	"log"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/markethours"
	"github.com/archserver/vbtrader-sub001/internal/model"
	"github.com/archserver/vbtrader-sub001/internal/provider"
	"github.com/archserver/vbtrader-sub001/internal/ratelimit"
)

// HistoricalSource fetches real minute bars from the provider, one request
// per symbol per trading day. Days the provider cannot serve (error or empty
// response) are filled with synthetic data instead of failing the whole load,
// so a sandbox over a long range survives gaps in the provider's history.
type HistoricalSource struct {
	provider provider.Client
	limiter  *ratelimit.Limiter
}

func (s *HistoricalSource) Load(ctx context.Context, symbols []string, from, to time.Time) (map[string][]model.Candle, error) {
	out := make(map[string][]model.Candle, len(symbols))
	for _, sym := range symbols {
		candles, err := s.loadSymbol(ctx, sym, from, to)
		if err != nil {
			return nil, err
		}
		out[sym] = candles
	}
	return out, nil
}

func (s *HistoricalSource) loadSymbol(ctx context.Context, symbol string, from, to time.Time) ([]model.Candle, error) {
	var candles []model.Candle
	fallbackDays := 0
	price := basePriceCents(symbol)

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if !markethours.IsTradingDay(day) {
			continue
		}

		if err := acquire(ctx, s.limiter); err != nil {
			return nil, err
		}
		dayBars, err := s.provider.GetPriceHistory(ctx, symbol, provider.PeriodSpec{
			Date:            day,
			IntervalMinutes: 1,
		})
		if err != nil || len(dayBars) == 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			dayBars, price = generateDay(symbol, day, price, 1)
			fallbackDays++
		} else {
			price = dayBars[len(dayBars)-1].Close
		}
		candles = append(candles, dayBars...)
	}

	if fallbackDays > 0 {
		log.Printf("[marketdata] %s: %d day(s) unavailable from provider, filled with synthetic bars", symbol, fallbackDays)
	}
	return candles, nil
}
