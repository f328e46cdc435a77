// Package metrics exposes Prometheus metrics and a health endpoint for the
// scanner and sandbox services.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scanner pipeline.
type Metrics struct {
	QuotesTotal        prometheus.Counter
	OpportunitiesTotal *prometheus.CounterVec // labels: type
	ProviderCalls      *prometheus.CounterVec // labels: op, outcome
	ProviderCallDur    prometheus.Histogram
	RateLimitWaitDur   *prometheus.HistogramVec // labels: budget
	WatchedSymbols     prometheus.Gauge
	ActiveSymbols      prometheus.Gauge
	FanoutDropsTotal   *prometheus.CounterVec // labels: subscriber

	SandboxSessions prometheus.Gauge
	SandboxTrades   *prometheus.CounterVec // labels: action, outcome
	SQLiteCommitDur prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		QuotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_quotes_total",
			Help: "Total quotes polled from the provider",
		}),
		OpportunitiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_opportunities_total",
			Help: "Total opportunities emitted (by type)",
		}, []string{"type"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_provider_calls_total",
			Help: "Provider API calls (by operation and outcome)",
		}, []string{"op", "outcome"}),
		ProviderCallDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_provider_call_duration_seconds",
			Help:    "Provider API call latency",
			Buckets: prometheus.DefBuckets,
		}),
		RateLimitWaitDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_ratelimit_wait_duration_seconds",
			Help:    "Time spent waiting on rate-limit budgets",
			Buckets: prometheus.DefBuckets,
		}, []string{"budget"}),
		WatchedSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_watched_symbols",
			Help: "Current size of the watched symbol set",
		}),
		ActiveSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_active_symbols",
			Help: "Current size of the active (promoted) symbol subset",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_fanout_drops_total",
			Help: "Events dropped on full subscriber channels",
		}, []string{"subscriber"}),
		SandboxSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_active_sessions",
			Help: "Currently active sandbox sessions",
		}),
		SandboxTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_trades_total",
			Help: "Sandbox trade requests (by action and outcome)",
		}, []string{"action", "outcome"}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.QuotesTotal, m.OpportunitiesTotal, m.ProviderCalls, m.ProviderCallDur,
		m.RateLimitWaitDur, m.WatchedSymbols, m.ActiveSymbols, m.FanoutDropsTotal,
		m.SandboxSessions, m.SandboxTrades, m.SQLiteCommitDur,
	)
	return m
}

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	ProviderOK     bool      `json:"provider_ok"`
	LastQuoteTime  time.Time `json:"last_quote_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetProviderOK(v bool) {
	h.mu.Lock()
	h.ProviderOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastQuoteTime(t time.Time) {
	h.mu.Lock()
	h.LastQuoteTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.ProviderOK || !h.RedisConnected || !h.SQLiteOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		status = "unhealthy"
	}

	quoteAge := ""
	if !h.LastQuoteTime.IsZero() {
		quoteAge = time.Since(h.LastQuoteTime).Round(time.Millisecond).String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(struct {
		Status   string        `json:"status"`
		Uptime   string        `json:"uptime"`
		QuoteAge string        `json:"quote_age,omitempty"`
		Detail   *HealthStatus `json:"detail"`
	}{
		Status:   status,
		Uptime:   time.Since(h.StartedAt).Round(time.Second).String(),
		QuoteAge: quoteAge,
		Detail:   h,
	})
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
