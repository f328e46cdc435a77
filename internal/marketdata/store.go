package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

// StoreSource serves candles previously written to SQLite by the scanner.
// No provider calls, no rate limiting — useful for replaying sessions the
// system itself recorded.
type StoreSource struct {
	reader CandleReader
}

func (s *StoreSource) Load(ctx context.Context, symbols []string, from, to time.Time) (map[string][]model.Candle, error) {
	out := make(map[string][]model.Candle, len(symbols))
	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		candles, err := s.reader.ReadCandles(sym, from, to)
		if err != nil {
			return nil, fmt.Errorf("read stored candles for %s: %w", sym, err)
		}
		out[sym] = candles
	}
	return out, nil
}
