// Polymarket box-spread bot — an automated arbitrage agent for Polymarket
// binary prediction markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts the session, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires scanner → strategy → exchange, runs one market at a time
//	strategy/engine.go   — trap/hedge state machine: posts passive traps, hedges imbalance, locks profit
//	strategy/inventory.go — ledger tracking q_yes/c_yes/q_no/c_no and completed rounds
//	market/scanner.go    — polls Gamma API for the next short-duration market to trade
//	market/book.go       — local order book mirror fed by WebSocket snapshots
//	exchange/client.go   — REST client for Polymarket CLOB API (place/cancel orders, fetch book)
//	exchange/auth.go     — L1 (EIP-712) and L2 (HMAC) authentication for the Polymarket API
//	exchange/ws.go       — WebSocket feeds (market data + user fills/orders) with auto-reconnect
//	risk/manager.go      — exposure, expiry-buffer, final-exit, and post-emergency cooldown checks (Safety)
//	store/store.go       — atomic JSON file persistence for the ledger (survives restarts)
//
// How it makes money:
//
//	The bot posts passive "trap" buy orders on both YES and NO at prices
//	that can never sum above the target cost c_target = 1 - profit_margin.
//	When both fill, a completed box is worth exactly 1 regardless of
//	outcome, locking the margin as profit. If only one side fills, the bot
//	posts a passive hedge bid on the other side, priced so the completed box
//	still costs no more than c_target.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polymarket-mm/internal/api"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	session, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, session, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("box-spread bot started",
		"profit_margin", cfg.Strategy.ProfitMargin,
		"max_exposure", cfg.Strategy.MaxExposure,
		"trap_order_size", cfg.Strategy.TrapOrderSize,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- session.Run(ctx)
	}()

	err = <-runErr
	if err != nil && ctx.Err() == nil {
		logger.Error("session ended with error", "error", err)
	} else {
		logger.Info("received shutdown signal, session stopped")
	}

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
