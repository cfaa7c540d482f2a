package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/config"
	"crosslend/observability/logging"
	"crosslend/risk"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := LoadConfigFromEnv()
	logger := logging.Setup("riskd", cfg.Environment)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting riskd", "config", cfg.Sanitized())

	params, err := config.Load(cfg.ParamsPath)
	if err != nil {
		logger.Error("load risk parameters", "path", cfg.ParamsPath, "error", err)
		os.Exit(1)
	}
	admin, err := params.AdminAddress()
	if err != nil {
		logger.Error("parse admin address", "error", err)
		os.Exit(1)
	}

	node := NewNodeClient(cfg.NodeRPCURL, cfg.NodeRPCToken, logger)

	engine := risk.NewEngine(admin)
	engine.SetState(risk.NewMemoryState())
	engine.SetOracle(&nodeOracle{client: node})
	engine.SetEmitter(newMetricsEmitter(logger))
	engine.SetBlockNumberFunc(func() uint64 {
		ctx, cancel := context.WithTimeout(context.Background(), nodeCallTimeout)
		defer cancel()
		height, err := node.BlockNumber(ctx)
		if err != nil {
			logger.Warn("block height lookup failed", "error", err)
			return 0
		}
		return height
	})

	resolver := func(market common.Address) (risk.MarketAccounting, error) {
		return NewNodeAccounting(node, market), nil
	}
	if err := params.Apply(engine, resolver); err != nil {
		logger.Error("apply risk parameters", "error", err)
		os.Exit(1)
	}
	logger.Info("risk parameters applied",
		"markets", len(params.Markets),
		"pools", len(params.Pools),
	)

	limiter := NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)
	server := NewServer(engine, logger, limiter)
	srv := &http.Server{Addr: cfg.Listen, Handler: server}

	go func() {
		logger.Info("riskd listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down riskd")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}
