// Package marketdata provides candle loading strategies for the sandbox:
// live provider data, previously stored candles, historical minute bars with
// synthetic fallback, and fully synthetic deterministic data.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/indicator"
	"github.com/archserver/vbtrader-sub001/internal/model"
	"github.com/archserver/vbtrader-sub001/internal/provider"
	"github.com/archserver/vbtrader-sub001/internal/ratelimit"
)

// Strategy selects how candle data is obtained for a sandbox session.
type Strategy string

const (
	StrategyLive       Strategy = "live"
	StrategyStore      Strategy = "store"
	StrategyHistorical Strategy = "historical"
	StrategySynthetic  Strategy = "synthetic"
)

// ParseStrategy validates a strategy name from config.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLive, StrategyStore, StrategyHistorical, StrategySynthetic:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown market data strategy %q", s)
}

// Source loads candles for a set of symbols over a time range.
// Implementations return series sorted ascending by TS with no duplicate
// timestamps per symbol. A symbol with no data maps to an empty slice.
type Source interface {
	Load(ctx context.Context, symbols []string, from, to time.Time) (map[string][]model.Candle, error)
}

// CandleReader is the subset of the SQLite store the store-backed source needs.
type CandleReader interface {
	ReadCandles(symbol string, from, to time.Time) ([]model.Candle, error)
}

// Deps carries the collaborators a source may need. Provider-backed sources
// require Provider; the store source requires Reader. Limiter is optional and,
// when set, gates every provider call.
type Deps struct {
	Provider provider.Client
	Reader   CandleReader
	Limiter  *ratelimit.Limiter
}

// New builds the source for the given strategy.
func New(strategy Strategy, deps Deps) (Source, error) {
	switch strategy {
	case StrategyLive:
		if deps.Provider == nil {
			return nil, fmt.Errorf("live source requires a provider client")
		}
		return &LiveSource{provider: deps.Provider, limiter: deps.Limiter}, nil
	case StrategyStore:
		if deps.Reader == nil {
			return nil, fmt.Errorf("store source requires a candle reader")
		}
		return &StoreSource{reader: deps.Reader}, nil
	case StrategyHistorical:
		if deps.Provider == nil {
			return nil, fmt.Errorf("historical source requires a provider client")
		}
		return &HistoricalSource{provider: deps.Provider, limiter: deps.Limiter}, nil
	case StrategySynthetic:
		return &SyntheticSource{}, nil
	}
	return nil, fmt.Errorf("unknown market data strategy %q", strategy)
}

// WithIndicators wraps a source so that every loaded series is run through
// the indicator enricher before being returned. Each symbol gets its own
// enricher state so cross-symbol data never bleeds.
func WithIndicators(src Source) Source {
	return &enrichingSource{inner: src}
}

type enrichingSource struct {
	inner Source
}

func (e *enrichingSource) Load(ctx context.Context, symbols []string, from, to time.Time) (map[string][]model.Candle, error) {
	series, err := e.inner.Load(ctx, symbols, from, to)
	if err != nil {
		return nil, err
	}
	for _, candles := range series {
		en := indicator.NewEnricher()
		for i := range candles {
			en.Enrich(&candles[i])
		}
	}
	return series, nil
}

// acquire gates a provider call on the shared rate limiter when one is wired.
func acquire(ctx context.Context, lim *ratelimit.Limiter) error {
	if lim == nil {
		return nil
	}
	return lim.Acquire(ctx, "market-data", "overall")
}
