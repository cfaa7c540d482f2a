package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crosslend/observability"
	"crosslend/risk"
)

const headerRequestID = "X-Request-Id"

// Server exposes the engine's read surface over HTTP.
type Server struct {
	engine  *risk.Engine
	log     *slog.Logger
	metrics *observability.RiskMetrics
	limiter *RateLimiter
	router  http.Handler
}

// NewServer constructs the riskd HTTP API.
func NewServer(engine *risk.Engine, log *slog.Logger, limiter *RateLimiter) *Server {
	if engine == nil {
		panic("engine required")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		engine:  engine,
		log:     log,
		metrics: observability.Risk(),
		limiter: limiter,
	}
	r := chi.NewRouter()
	r.Use(s.observe)
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/markets", s.handleMarkets)
		r.Get("/markets/{address}", s.handleMarket)
		r.Get("/pools", s.handlePools)
		r.Get("/pools/{id}", s.handlePool)
		r.Get("/accounts/{address}", s.handlePosition)
		r.Get("/accounts/{address}/liquidity", s.handleLiquidity)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)
		s.metrics.ObserveRequest(r.URL.Path, recorder.status, duration)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"request_id", requestID,
		)
	})
}

type marketView struct {
	Address              string   `json:"address"`
	PoolID               uint64   `json:"poolId"`
	CollateralFactor     string   `json:"collateralFactor"`
	LiquidationThreshold string   `json:"liquidationThreshold"`
	LiquidationIncentive string   `json:"liquidationIncentive"`
	BorrowAllowed        bool     `json:"borrowAllowed"`
	SupplyCap            string   `json:"supplyCap"`
	BorrowCap            string   `json:"borrowCap"`
	FlashLoansEnabled    bool     `json:"flashLoansEnabled"`
	PausedActions        []string `json:"pausedActions,omitempty"`
	SupplySpeed          string   `json:"supplySpeed"`
	BorrowSpeed          string   `json:"borrowSpeed"`
}

type poolView struct {
	ID                    uint64   `json:"id"`
	Label                 string   `json:"label"`
	Active                bool     `json:"active"`
	AllowCorePoolFallback bool     `json:"allowCorePoolFallback"`
	Markets               []string `json:"markets"`
}

type positionView struct {
	Address     string   `json:"address"`
	PoolID      uint64   `json:"poolId"`
	Memberships []string `json:"memberships"`
	Accrued     string   `json:"accruedRewards"`
}

type liquidityView struct {
	Liquidity string `json:"liquidity"`
	Shortfall string `json:"shortfall"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.Markets()
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, newMarketView(m))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	market, err := s.engine.Market(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newMarketView(market))
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.engine.Pools()
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]poolView, 0, len(pools))
	for _, p := range pools {
		views = append(views, newPoolView(p))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid pool id"))
		return
	}
	pool, err := s.engine.Pool(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newPoolView(pool))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	pos, err := s.engine.Position(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := positionView{
		Address:     pos.Address.Hex(),
		PoolID:      pos.PoolID,
		Memberships: hexAddresses(pos.Memberships),
		Accrued:     bigString(pos.Accrued),
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLiquidity(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	var (
		liquidity *big.Int
		shortfall *big.Int
		err       error
	)
	if rawMarket := strings.TrimSpace(query.Get("market")); rawMarket != "" {
		if !common.IsHexAddress(rawMarket) {
			s.writeJSON(w, http.StatusBadRequest, errorBody("invalid market address"))
			return
		}
		redeemTokens, ok := queryAmount(query.Get("redeemTokens"))
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, errorBody("invalid redeemTokens"))
			return
		}
		borrowAmount, ok := queryAmount(query.Get("borrowAmount"))
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, errorBody("invalid borrowAmount"))
			return
		}
		liquidity, shortfall, err = s.engine.GetHypotheticalAccountLiquidity(
			addr, common.HexToAddress(rawMarket), redeemTokens, borrowAmount)
	} else {
		liquidity, shortfall, err = s.engine.GetAccountLiquidity(addr)
	}
	code := risk.CodeOf(err)
	if err != nil && code == risk.NoError {
		// Hard faults carry no business code.
		s.metrics.ObserveDecision("liquidity", "INTERNAL")
	} else {
		s.metrics.ObserveDecision("liquidity", code.String())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, liquidityView{
		Liquidity: bigString(liquidity),
		Shortfall: bigString(shortfall),
	})
}

func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid address"))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, risk.ErrMarketNotListed),
		errors.Is(err, risk.ErrPoolDoesNotExist):
		status = http.StatusNotFound
	case errors.Is(err, risk.ErrPriceError):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, errorBody(err.Error()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("encode response failed", "error", err)
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

func newMarketView(m *risk.Market) marketView {
	view := marketView{
		Address:              m.Address.Hex(),
		PoolID:               m.PoolID,
		CollateralFactor:     bigString(m.CollateralFactor),
		LiquidationThreshold: bigString(m.LiquidationThreshold),
		LiquidationIncentive: bigString(m.LiquidationIncentive),
		BorrowAllowed:        m.BorrowAllowed,
		SupplyCap:            bigString(m.SupplyCap),
		BorrowCap:            bigString(m.BorrowCap),
		FlashLoansEnabled:    m.FlashLoanEnabled,
		SupplySpeed:          bigString(m.SupplySpeed),
		BorrowSpeed:          bigString(m.BorrowSpeed),
	}
	for _, action := range m.PausedActions() {
		view.PausedActions = append(view.PausedActions, action.String())
	}
	return view
}

func newPoolView(p *risk.Pool) poolView {
	return poolView{
		ID:                    p.ID,
		Label:                 p.Label,
		Active:                p.Active,
		AllowCorePoolFallback: p.AllowCorePoolFallback,
		Markets:               hexAddresses(p.Markets),
	}
}

func hexAddresses(addrs []common.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Hex())
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func queryAmount(raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), true
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, false
	}
	return parsed, true
}
