package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/model"
	"github.com/archserver/vbtrader-sub001/internal/provider"
	"github.com/archserver/vbtrader-sub001/internal/ratelimit"
)

// LiveSource pulls the current trading day's minute bars from the provider.
// The requested range is ignored beyond today: a live sandbox always runs
// against today's session.
type LiveSource struct {
	provider provider.Client
	limiter  *ratelimit.Limiter
}

func (s *LiveSource) Load(ctx context.Context, symbols []string, from, to time.Time) (map[string][]model.Candle, error) {
	out := make(map[string][]model.Candle, len(symbols))
	for _, sym := range symbols {
		if err := acquire(ctx, s.limiter); err != nil {
			return nil, err
		}
		candles, err := s.provider.GetPriceHistory(ctx, sym, provider.PeriodSpec{IntervalMinutes: 1})
		if err != nil {
			return nil, fmt.Errorf("live history for %s: %w", sym, err)
		}
		out[sym] = candles
	}
	return out, nil
}
