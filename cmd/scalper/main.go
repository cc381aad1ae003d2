// Package main wires together the scalper trading core's subsystems -
// venue adapter, signal scoring, regime detection, risk sizing, circuit
// breaker, and HTTP API - into a single perpetual-futures decision loop
// process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/scalper-core/internal/advisor"
	"github.com/atlas-desktop/scalper-core/internal/advisor/llm"
	"github.com/atlas-desktop/scalper-core/internal/advisor/noop"
	"github.com/atlas-desktop/scalper-core/internal/api"
	"github.com/atlas-desktop/scalper-core/internal/breaker"
	"github.com/atlas-desktop/scalper-core/internal/config"
	"github.com/atlas-desktop/scalper-core/internal/events"
	"github.com/atlas-desktop/scalper-core/internal/expectancy"
	"github.com/atlas-desktop/scalper-core/internal/exit"
	"github.com/atlas-desktop/scalper-core/internal/loop"
	"github.com/atlas-desktop/scalper-core/internal/metrics"
	"github.com/atlas-desktop/scalper-core/internal/portfolio"
	"github.com/atlas-desktop/scalper-core/internal/regime"
	"github.com/atlas-desktop/scalper-core/internal/risksizer"
	"github.com/atlas-desktop/scalper-core/internal/safety"
	"github.com/atlas-desktop/scalper-core/internal/signal/arbiter"
	"github.com/atlas-desktop/scalper-core/internal/signal/v1"
	"github.com/atlas-desktop/scalper-core/internal/signal/v2"
	"github.com/atlas-desktop/scalper-core/internal/store"
	"github.com/atlas-desktop/scalper-core/internal/venue"
	"github.com/atlas-desktop/scalper-core/internal/venue/binance"
	"github.com/atlas-desktop/scalper-core/internal/venue/paper"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	logLevel := flag.String("log-level", "", "Override logging.level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging.Level)
	defer logger.Sync()

	logger.Info("starting scalper-core",
		zap.Strings("symbols", cfg.Loop.Symbols),
		zap.String("venue", cfg.Venue.Name),
		zap.Bool("dry_run", cfg.DryRun),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.New(prometheus.DefaultRegisterer)

	bus := events.New(logger, events.DefaultConfig())
	bus.Start()
	defer bus.Stop()

	dataStore, err := store.New(logger, cfg.Store)
	if err != nil {
		logger.Fatal("failed to initialize trade store", zap.Error(err))
	}

	var v venue.Venue
	switch cfg.Venue.Name {
	case "binance":
		v = binance.New(logger, binance.Config{
			APIKey:    cfg.Venue.APIKey,
			APISecret: cfg.Venue.APISecret,
			Testnet:   cfg.Venue.Testnet,
		})
	default:
		v = paper.New(decimal.NewFromInt(10000))
	}

	var adv advisor.Advisor
	if cfg.Advisor.Enabled {
		adv = llm.New(logger, llm.Config{
			APIKey:  cfg.Advisor.APIKey,
			BaseURL: cfg.Advisor.BaseURL,
			Model:   cfg.Advisor.Model,
		})
	} else {
		adv = noop.New()
	}

	scorer := v1.New(logger, cfg.SignalV1)
	validator := v2.New(logger)
	arb := arbiter.New(logger)
	regimeDetector := regime.New(logger, cfg.Regime)
	expectancyEngine := expectancy.New(logger)
	sizer := risksizer.New(logger, cfg.RiskSizer)
	folio := portfolio.New(logger, cfg.Portfolio)
	exitMgr := exit.New(logger, cfg.Exit)
	circuit := breaker.New(logger, cfg.Breaker, bus)
	breakerStatePath := filepath.Join(cfg.Store.DataDir, "breaker_state.ndjson")
	if level, ok := breaker.LoadBreakerState(breakerStatePath); ok {
		logger.Info("restoring circuit breaker state from prior run", zap.String("level", string(level)))
		circuit.RestoreLevel(level)
	}
	circuit.EnablePersistence(breakerStatePath)

	if cfg.Webhook.Enabled {
		webhookNotifier := events.NewWebhookNotifier(logger, cfg.Webhook.URL, cfg.Webhook.Timeout)
		webhookNotifier.SubscribeAll(bus)
	}

	safetyChecker := safety.New(logger, safety.NewConfig(
		cfg.Loop.Symbols, cfg.Loop.MaxOpenPositions, cfg.Loop.MaxLeverage, cfg.Loop.MaxDailyLossPct,
	))

	startingBalance, err := v.Balance(ctx)
	if err != nil {
		logger.Warn("failed to read starting balance, defaulting to zero", zap.Error(err))
	}

	tradingLoop := loop.New(logger, cfg.Loop, loop.Deps{
		Venue:   v,
		Advisor: adv,
		Store:   dataStore,
		Bus:     bus,
		V1:      scorer,
		V2:      validator,
		Arbiter: arb,
		Regime:  regimeDetector,
		Expect:  expectancyEngine,
		Sizer:   sizer,
		Folio:   folio,
		ExitMgr: exitMgr,
		Circuit: circuit,
		Safety:  safetyChecker,
		Balance: startingBalance,
	})

	apiServer := api.New(logger, api.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, tradingLoop, bus)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := tradingLoop.Start(ctx); err != nil {
			logger.Error("trading loop stopped with error", zap.Error(err))
		}
	}()

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server stopped with error", zap.Error(err))
		}
	}()

	logger.Info("scalper-core running", zap.Int("api_port", cfg.Server.Port))

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	tradingLoop.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", zap.Error(err))
	}

	logger.Info("scalper-core stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
