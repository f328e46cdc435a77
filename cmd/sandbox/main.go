// cmd/sandbox runs the sandbox trading service: historical/synthetic candle
// replay with a virtual clock, a simulated execution engine and a JSON API
// for session, time and trade control. Replayed quotes stream out over a
// WebSocket hub.
package main

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/archserver/vbtrader-sub001/internal/gateway"
	"github.com/archserver/vbtrader-sub001/internal/marketdata"
	"github.com/archserver/vbtrader-sub001/internal/metrics"
	"github.com/archserver/vbtrader-sub001/internal/model"
	"github.com/archserver/vbtrader-sub001/internal/provider"
	"github.com/archserver/vbtrader-sub001/internal/ratelimit"
	"github.com/archserver/vbtrader-sub001/internal/sandbox"
	sqlitestore "github.com/archserver/vbtrader-sub001/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[sandbox] starting...")

	// ---- Load config from env ----
	cfg := config.Load()

	strategy, err := marketdata.ParseStrategy(cfg.SandboxDataSource)
	if err != nil {
		log.Fatalf("[sandbox] %v", err)
	}
	log.Printf("[sandbox] market data strategy: %s", strategy)

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

	// ---- Candle source for the chosen strategy ----
	var deps marketdata.Deps
	var store *sqlitestore.Store

	switch strategy {
	case marketdata.StrategyLive, marketdata.StrategyHistorical:
		cfg.MustProviderCreds()
		deps.Provider = provider.NewHTTPClient(provider.Config{
			APIKey:     cfg.ProviderAPIKey,
			ClientCode: cfg.ProviderClientCode,
			Password:   cfg.ProviderPassword,
			TOTPSecret: cfg.ProviderTOTPSecret,
			RootURL:    cfg.ProviderRootURL,
		})
		deps.Limiter = ratelimit.New(parseBudgets(cfg.RateBudgets)...)
		health.SetProviderOK(true)
	case marketdata.StrategyStore:
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		store, err = sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Fatalf("[sandbox] sqlite open failed: %v", err)
		}
		defer store.Close()
		deps.Reader = store
		health.SetSQLiteOK(true)
	}

	src, err := marketdata.New(strategy, deps)
	if err != nil {
		log.Fatalf("[sandbox] source init failed: %v", err)
	}
	src = marketdata.WithIndicators(src)

	if store != nil {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// Dependencies the chosen strategy doesn't touch cannot degrade health.
	if deps.Provider == nil {
		health.SetProviderOK(true)
	}
	if store == nil {
		health.SetSQLiteOK(true)
	}
	health.SetRedisConnected(true) // sandbox runs without redis

	// ---- Replayed quote stream → WebSocket hub ----
	quoteCh := make(chan model.Quote, 2048)
	hub := gateway.NewHub()
	go hub.Run(ctx, quoteCh, nil)

	mgr := sandbox.NewManager(quoteCh)

	// ---- HTTP API ----
	api := &apiServer{ctx: ctx, cfg: cfg, mgr: mgr, src: src, prom: prom}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/sandbox/sessions", api.handleSessions)
	mux.HandleFunc("/api/sandbox/time", api.handleTime)
	mux.HandleFunc("/api/sandbox/time/advance", api.handleAdvance)
	mux.HandleFunc("/api/sandbox/time/set", api.handleSetTime)
	mux.HandleFunc("/api/sandbox/pause", api.handlePause)
	mux.HandleFunc("/api/sandbox/resume", api.handleResume)
	mux.HandleFunc("/api/sandbox/speed", api.handleSpeed)
	mux.HandleFunc("/api/sandbox/trades", api.handleTrades)
	mux.HandleFunc("/api/sandbox/positions", api.handlePositions)
	mux.HandleFunc("/api/sandbox/balance", api.handleBalance)
	mux.HandleFunc("/api/sandbox/report", api.handleReport)

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Printf("[sandbox] ✅ serving at http://localhost%s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[sandbox] server error: %v", err)
		}
	}()

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[sandbox] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[sandbox] shutdown complete.")
}

// apiServer holds the handler dependencies for the sandbox JSON API.
type apiServer struct {
	ctx  context.Context // service lifetime, parents every replay loop
	cfg  *config.Config
	mgr  *sandbox.Manager
	src  marketdata.Source
	prom *metrics.Metrics
}

type createSessionRequest struct {
	UserID         string                `json:"user_id"`
	StartDate      time.Time             `json:"start_date"`
	EndDate        time.Time             `json:"end_date"`
	Symbols        []string              `json:"symbols"`
	InitialBalance int64                 `json:"initial_balance"` // cents, 0 = default
	Speed          float64               `json:"speed"`           // 0 = default
	Settings       model.SandboxSettings `json:"settings"`
}

// handleSessions routes POST (create), GET (fetch) and DELETE (end).
func (a *apiServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)

	case http.MethodPost:
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if len(req.Symbols) == 0 {
			jsonError(w, http.StatusBadRequest, "symbols required")
			return
		}
		if req.InitialBalance <= 0 {
			req.InitialBalance = a.cfg.SandboxInitialBalance
		}
		if req.Speed <= 0 {
			req.Speed = a.cfg.SandboxSpeed
		}

		sess, err := a.mgr.CreateSession(r.Context(), req.UserID,
			req.StartDate, req.EndDate, req.Symbols,
			req.InitialBalance, req.Speed, req.Settings, a.src)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, sandbox.ErrNoData) {
				status = http.StatusUnprocessableEntity
			}
			jsonError(w, status, err.Error())
			return
		}
		if err := a.mgr.StartReplay(a.ctx, sess.ID); err != nil {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.prom.SandboxSessions.Inc()
		json.NewEncoder(w).Encode(sess)

	case http.MethodGet:
		sess, err := a.mgr.GetSession(r.URL.Query().Get("id"))
		if err != nil {
			writeSandboxErr(w, err)
			return
		}
		json.NewEncoder(w).Encode(sess)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if err := a.mgr.EndSession(id); err != nil {
			writeSandboxErr(w, err)
			return
		}
		a.prom.SandboxSessions.Dec()
		json.NewEncoder(w).Encode(map[string]string{"status": "ended", "id": id})

	default:
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *apiServer) handleTime(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")

	ts, err := a.mgr.Time(r.URL.Query().Get("id"))
	if err != nil {
		writeSandboxErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(ts)
}

func (a *apiServer) handleAdvance(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		ID       string `json:"id"`
		Duration string `json:"duration"` // Go duration, e.g. "30m", "24h"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		jsonError(w, http.StatusBadRequest, "invalid duration")
		return
	}
	if err := a.mgr.AdvanceTime(req.ID, d); err != nil {
		writeSandboxErr(w, err)
		return
	}
	ts, _ := a.mgr.Time(req.ID)
	json.NewEncoder(w).Encode(ts)
}

func (a *apiServer) handleSetTime(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		ID   string    `json:"id"`
		Time time.Time `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Time.IsZero() {
		jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := a.mgr.SetTime(req.ID, req.Time); err != nil {
		writeSandboxErr(w, err)
		return
	}
	ts, _ := a.mgr.Time(req.ID)
	json.NewEncoder(w).Encode(ts)
}

func (a *apiServer) handlePause(w http.ResponseWriter, r *http.Request) {
	a.clockControl(w, r, a.mgr.Pause)
}

func (a *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	a.clockControl(w, r, a.mgr.Resume)
}

func (a *apiServer) clockControl(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := fn(req.ID); err != nil {
		writeSandboxErr(w, err)
		return
	}
	ts, _ := a.mgr.Time(req.ID)
	json.NewEncoder(w).Encode(ts)
}

func (a *apiServer) handleSpeed(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		ID    string  `json:"id"`
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Speed <= 0 {
		jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := a.mgr.SetSpeed(req.ID, req.Speed); err != nil {
		writeSandboxErr(w, err)
		return
	}
	ts, _ := a.mgr.Time(req.ID)
	json.NewEncoder(w).Encode(ts)
}

type tradeRequest struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Action     string `json:"action"` // BUY | SELL
	Qty        int64  `json:"qty"`
	OrderType  string `json:"order_type"`  // MARKET | LIMIT, default MARKET
	LimitPrice int64  `json:"limit_price"` // cents, LIMIT only
}

func (a *apiServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	action := model.TradeAction(strings.ToUpper(req.Action))
	if action != model.ActionBuy && action != model.ActionSell {
		jsonError(w, http.StatusBadRequest, "action must be BUY or SELL")
		return
	}
	orderType := model.OrderMarket
	if req.OrderType != "" {
		orderType = model.OrderType(strings.ToUpper(req.OrderType))
		if orderType != model.OrderMarket && orderType != model.OrderLimit {
			jsonError(w, http.StatusBadRequest, "order_type must be MARKET or LIMIT")
			return
		}
	}

	result, err := a.mgr.ExecuteTrade(req.ID, strings.ToUpper(req.Symbol),
		action, req.Qty, orderType, req.LimitPrice)
	if err != nil {
		a.prom.SandboxTrades.WithLabelValues(string(action), "error").Inc()
		writeSandboxErr(w, err)
		return
	}

	outcome := "filled"
	if !result.Success {
		outcome = "rejected"
	}
	a.prom.SandboxTrades.WithLabelValues(string(action), outcome).Inc()
	json.NewEncoder(w).Encode(result)
}

func (a *apiServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")

	positions, err := a.mgr.Positions(r.URL.Query().Get("id"))
	if err != nil {
		writeSandboxErr(w, err)
		return
	}
	if positions == nil {
		positions = []model.SandboxPosition{}
	}
	json.NewEncoder(w).Encode(positions)
}

func (a *apiServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")

	balance, err := a.mgr.Balance(r.URL.Query().Get("id"))
	if err != nil {
		writeSandboxErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]int64{"balance": balance})
}

func (a *apiServer) handleReport(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")

	report, err := a.mgr.Report(r.URL.Query().Get("id"))
	if err != nil {
		writeSandboxErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(report)
}

// ---- Helpers ----

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeSandboxErr maps manager errors onto HTTP status codes.
func writeSandboxErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sandbox.ErrSessionNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sandbox.ErrSessionEnded):
		jsonError(w, http.StatusConflict, err.Error())
	default:
		jsonError(w, http.StatusBadRequest, err.Error())
	}
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
			log.Printf("[sandbox] skipping invalid rate budget %q", part)
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
