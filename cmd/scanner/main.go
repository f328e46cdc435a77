// cmd/scanner runs the opportunity scanner: periodic quote polling, mover
// scans, symbol discovery and retention cleanup, with quotes and
// opportunities fanned out to SQLite, Redis PubSub and a WebSocket hub.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/archserver/vbtrader-sub001/config"
	"github.com/archserver/vbtrader-sub001/internal/bus"
	"github.com/archserver/vbtrader-sub001/internal/gateway"
	"github.com/archserver/vbtrader-sub001/internal/metrics"
	"github.com/archserver/vbtrader-sub001/internal/model"
	"github.com/archserver/vbtrader-sub001/internal/notification"
	"github.com/archserver/vbtrader-sub001/internal/provider"
	"github.com/archserver/vbtrader-sub001/internal/ratelimit"
	"github.com/archserver/vbtrader-sub001/internal/scanner"
	"github.com/archserver/vbtrader-sub001/internal/scheduler"
	redisstore "github.com/archserver/vbtrader-sub001/internal/store/redis"
	sqlitestore "github.com/archserver/vbtrader-sub001/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[scanner] starting...")

	// ---- Load config from env ----
	cfg := config.Load()
	cfg.MustProviderCreds()

	watchSymbols := config.ParseList(cfg.WatchSymbols)
	indices := config.ParseList(cfg.Indices)
	log.Printf("[scanner] watching %d seed symbols, discovering via %v", len(watchSymbols), indices)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Rate limiter ----
	limiter := ratelimit.New(parseBudgets(cfg.RateBudgets)...)
	limiter.OnWait = func(budget string, wait time.Duration) {
		prom.RateLimitWaitDur.WithLabelValues(budget).Observe(wait.Seconds())
	}

	// ---- Provider client (TOTP session) ----
	prov := provider.NewHTTPClient(provider.Config{
		APIKey:     cfg.ProviderAPIKey,
		ClientCode: cfg.ProviderClientCode,
		Password:   cfg.ProviderPassword,
		TOTPSecret: cfg.ProviderTOTPSecret,
		RootURL:    cfg.ProviderRootURL,
	})
	if err := prov.Login(ctx); err != nil {
		// Login is retried lazily on the first authenticated call.
		log.Printf("[scanner] WARNING: initial provider login failed: %v", err)
		health.SetProviderOK(false)
	} else {
		health.SetProviderOK(true)
	}

	// ---- SQLite store ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[scanner] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)
	log.Println("[scanner] sqlite store ready")

	// ---- Redis publisher ----
	publisher, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[scanner] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
	} else {
		health.SetRedisConnected(true)
		log.Println("[scanner] redis publisher ready")
	}

	// ---- Periodic liveness checks ----
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Notifier ----
	var notifier notification.Notifier
	if cfg.WebhookURL != "" {
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL)
		log.Println("[scanner] webhook alerts enabled")
	} else {
		notifier = notification.NewLogNotifier()
	}

	// ---- Fan-out quote/opportunity streams (SQLite writes happen in the
	// scheduler; fan-out feeds Redis + WebSocket off the hot path) ----
	quoteCh := make(chan model.Quote, 2048)
	oppCh := make(chan model.Opportunity, 512)

	quoteFan := bus.New[model.Quote](2048)
	quoteFan.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues("quote_" + strconv.Itoa(subscriberIdx)).Inc()
	}
	oppFan := bus.New[model.Opportunity](512)
	oppFan.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues("opp_" + strconv.Itoa(subscriberIdx)).Inc()
	}

	hubQuoteCh := quoteFan.Subscribe()
	hubOppCh := oppFan.Subscribe()
	statsQuoteCh := quoteFan.Subscribe()
	statsOppCh := oppFan.Subscribe()

	var redisQuoteCh <-chan model.Quote
	var redisOppCh <-chan model.Opportunity
	if publisher != nil {
		redisQuoteCh = quoteFan.Subscribe()
		redisOppCh = oppFan.Subscribe()
	}

	go quoteFan.Run(ctx, quoteCh)
	go oppFan.Run(ctx, oppCh)

	if publisher != nil {
		go publisher.RunQuotes(ctx, redisQuoteCh)
		go publisher.RunOpportunities(ctx, redisOppCh)
	}

	// Metrics subscriber: counts events and stamps quote freshness for /healthz.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case q, ok := <-statsQuoteCh:
				if !ok {
					return
				}
				prom.QuotesTotal.Inc()
				health.SetLastQuoteTime(q.TS)
				health.SetProviderOK(true)
			case opp, ok := <-statsOppCh:
				if !ok {
					return
				}
				prom.OpportunitiesTotal.WithLabelValues(string(opp.Type)).Inc()
			}
		}
	}()

	// ---- WebSocket gateway ----
	hub := gateway.NewHub()
	go hub.Run(ctx, hubQuoteCh, hubOppCh)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	gwSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Printf("[scanner] websocket gateway at ws://localhost%s/ws", cfg.GatewayAddr)
		if err := gwSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[scanner] gateway server error: %v", err)
		}
	}()

	// ---- Scheduler (the five periodic activities) ----
	sched := scheduler.New(scheduler.Config{
		PreMarketEvery:   cfg.PreMarketPollInterval,
		MarketEvery:      cfg.MarketPollInterval,
		ScanEvery:        cfg.ScanInterval,
		DiscoveryEvery:   cfg.DiscoveryInterval,
		CleanupHourLocal: cfg.CleanupHourLocal,
		Retention:        time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		ActiveTopN:       cfg.ActiveTopN,
		Indices:          indices,
		WatchSymbols:     watchSymbols,
	}, prov, limiter, scanner.NewScorer(scanner.DefaultScorerConfig()), store, notifier, quoteCh, oppCh)

	go sched.Run(ctx)

	// ---- Symbol set gauges ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.WatchedSymbols.Set(float64(len(sched.Watched())))
				prom.ActiveSymbols.Set(float64(len(sched.Active())))
			}
		}
	}()

	log.Println("[scanner] pipeline ready: poll → score → persist → fan out")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[scanner] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	gwSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	if publisher != nil {
		publisher.Close()
	}

	log.Println("[scanner] shutdown complete.")
}

// parseBudgets parses "name:max:windowSeconds,..." into rate-limit budgets.
func parseBudgets(s string) []ratelimit.Budget {
	var budgets []ratelimit.Budget
	for _, part := range strings.Split(s, ",") {
		fields := strings.SplitN(strings.TrimSpace(part), ":", 3)
		if len(fields) != 3 {
			continue
		}
		max, err1 := strconv.Atoi(fields[1])
		winSec, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || max <= 0 || winSec <= 0 {
			log.Printf("[scanner] skipping invalid rate budget %q", part)
			continue
		}
		budgets = append(budgets, ratelimit.Budget{
			Name:   fields[0],
			Max:    max,
			Window: time.Duration(winSec) * time.Second,
		})
	}
	return budgets
}
