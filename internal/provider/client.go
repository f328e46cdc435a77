package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

// Config holds HTTP client configuration for the quote provider.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	RootURL string
	Timeout time.Duration // default: 7s
	Debug   bool
}

var routes = map[string]string{
	"api.login":   "/rest/auth/v1/loginByPassword",
	"api.quotes":  "/rest/secure/marketdata/v1/quotes",
	"api.history": "/rest/secure/marketdata/v1/priceHistory",
	"api.movers":  "/rest/secure/marketdata/v1/movers",
}

// HTTPClient talks to the external quote/data provider over REST.
// Session login uses password + TOTP; the bearer token is stamped on every
// subsequent request and refreshed on 401.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
}

// NewHTTPClient creates a provider client. Login is lazy: the first
// authenticated call establishes the session.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Login generates a fresh TOTP code and exchanges credentials for a session
// token.
func (c *HTTPClient) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("provider: totp generation: %w", err)
	}

	body := map[string]any{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	}
	var resp struct {
		Status bool `json:"status"`
		Data   struct {
			AccessToken string `json:"accessToken"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "api.login", nil, body, &resp); err != nil {
		return err
	}
	if !resp.Status || resp.Data.AccessToken == "" {
		return fmt.Errorf("provider: login failed: %s", resp.Message)
	}

	c.mu.Lock()
	c.accessToken = resp.Data.AccessToken
	c.mu.Unlock()
	log.Printf("[provider] session established for %s", c.cfg.ClientCode)
	return nil
}

// GetQuotes implements Client.
func (c *HTTPClient) GetQuotes(ctx context.Context, symbols []string) ([]model.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	q := url.Values{"symbols": {strings.Join(symbols, ",")}}

	var resp struct {
		Status bool       `json:"status"`
		Data   []quoteDTO `json:"data"`
	}
	if err := c.authed(ctx, http.MethodGet, "api.quotes", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("provider: quotes: %w", err)
	}

	quotes := make([]model.Quote, 0, len(resp.Data))
	for _, d := range resp.Data {
		quotes = append(quotes, d.toModel())
	}
	return quotes, nil
}

// GetPriceHistory implements Client.
func (c *HTTPClient) GetPriceHistory(ctx context.Context, symbol string, period PeriodSpec) ([]model.Candle, error) {
	q := url.Values{
		"symbol":   {symbol},
		"interval": {fmt.Sprintf("%dm", period.IntervalMinutes)},
	}
	if !period.Date.IsZero() {
		q.Set("date", period.Date.Format("2006-01-02"))
	}

	var resp struct {
		Status bool        `json:"status"`
		Data   []candleDTO `json:"data"`
	}
	if err := c.authed(ctx, http.MethodGet, "api.history", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("provider: history %s: %w", symbol, err)
	}

	candles := make([]model.Candle, 0, len(resp.Data))
	for _, d := range resp.Data {
		candles = append(candles, d.toModel(symbol))
	}
	return candles, nil
}

// GetMovers implements Client.
func (c *HTTPClient) GetMovers(ctx context.Context, index string, sort SortOrder) ([]model.Quote, error) {
	q := url.Values{
		"index": {index},
		"sort":  {string(sort)},
	}
	var resp struct {
		Status bool       `json:"status"`
		Data   []quoteDTO `json:"data"`
	}
	if err := c.authed(ctx, http.MethodGet, "api.movers", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("provider: movers %s: %w", index, err)
	}

	quotes := make([]model.Quote, 0, len(resp.Data))
	for _, d := range resp.Data {
		quotes = append(quotes, d.toModel())
	}
	return quotes, nil
}

// authed runs a request, logging in first if no session exists and retrying
// once after a fresh login on 401.
func (c *HTTPClient) authed(ctx context.Context, method, route string, q url.Values, body, out any) error {
	c.mu.Lock()
	haveToken := c.accessToken != ""
	c.mu.Unlock()

	if !haveToken {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	err := c.do(ctx, method, route, q, body, out)
	if err == errUnauthorized {
		if err := c.Login(ctx); err != nil {
			return err
		}
		return c.do(ctx, method, route, q, body, out)
	}
	return err
}

var errUnauthorized = fmt.Errorf("provider: unauthorized")

func (c *HTTPClient) do(ctx context.Context, method, route string, q url.Values, body, out any) error {
	uri, ok := routes[route]
	if !ok {
		return fmt.Errorf("provider: unknown route %q", route)
	}
	reqURL := strings.TrimRight(c.cfg.RootURL, "/") + uri
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	c.mu.Lock()
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mu.Unlock()

	if c.cfg.Debug {
		log.Printf("[provider] %s %s", method, reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errUnauthorized
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("provider: parse response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// quoteDTO is the provider's wire shape for a quote. Prices arrive as
// dollar floats and are converted to cents at this boundary.
type quoteDTO struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"lastPrice"`
	Bid       float64 `json:"bidPrice"`
	Ask       float64 `json:"askPrice"`
	High      float64 `json:"highPrice"`
	Low       float64 `json:"lowPrice"`
	Open      float64 `json:"openPrice"`
	PrevClose float64 `json:"closePrice"`
	Volume    int64   `json:"totalVolume"`
	Float     int64   `json:"sharesFloat"`
	MarketCap float64 `json:"marketCap"`
	News      int     `json:"newsRating"`
	TS        int64   `json:"quoteTimeMs"`
}

func (d quoteDTO) toModel() model.Quote {
	return model.Quote{
		Symbol:    d.Symbol,
		Last:      toCents(d.Last),
		Bid:       toCents(d.Bid),
		Ask:       toCents(d.Ask),
		High:      toCents(d.High),
		Low:       toCents(d.Low),
		Open:      toCents(d.Open),
		PrevClose: toCents(d.PrevClose),
		Volume:    d.Volume,
		Float:     d.Float,
		MarketCap: toCents(d.MarketCap),
		News:      model.NewsRating(d.News),
		TS:        time.UnixMilli(d.TS).UTC(),
	}
}

type candleDTO struct {
	TS     int64   `json:"datetime"` // epoch millis
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

func (d candleDTO) toModel(symbol string) model.Candle {
	return model.Candle{
		Symbol: symbol,
		TS:     time.UnixMilli(d.TS).UTC(),
		Open:   toCents(d.Open),
		High:   toCents(d.High),
		Low:    toCents(d.Low),
		Close:  toCents(d.Close),
		Volume: d.Volume,
	}
}

func toCents(dollars float64) int64 {
	return int64(dollars*100 + 0.5)
}
