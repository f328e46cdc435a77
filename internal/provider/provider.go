// Package provider defines the quote/history provider boundary and an HTTP
// client implementation for it. The provider is assumed to fail transiently;
// callers log and skip the cycle rather than retry or crash.
package provider

import (
	"context"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

// SortOrder selects how GetMovers ranks results.
type SortOrder string

const (
	SortByVolume      SortOrder = "VOLUME"
	SortByPercentUp   SortOrder = "PERCENT_CHANGE_UP"
	SortByPercentDown SortOrder = "PERCENT_CHANGE_DOWN"
)

// PeriodSpec describes a price-history request window.
type PeriodSpec struct {
	Date            time.Time // trading day; zero value means "today"
	IntervalMinutes int       // bar size, e.g. 1 or 5
}

// Client is the provider contract the core consumes.
type Client interface {
	// GetQuotes returns current quotes for up to the provider's batch limit
	// of symbols.
	GetQuotes(ctx context.Context, symbols []string) ([]model.Quote, error)

	// GetPriceHistory returns candles for one symbol over the period,
	// ascending by timestamp.
	GetPriceHistory(ctx context.Context, symbol string, period PeriodSpec) ([]model.Candle, error)

	// GetMovers returns top movers for a market index in the given sort
	// order.
	GetMovers(ctx context.Context, index string, sort SortOrder) ([]model.Quote, error)
}
