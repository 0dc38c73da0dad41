package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"backspread-webhook/internal/broker"
	"backspread-webhook/internal/config"
	"backspread-webhook/internal/instruments"
	"backspread-webhook/internal/journal"
	"backspread-webhook/internal/retry"
	"backspread-webhook/internal/strategy"
	"backspread-webhook/internal/webhook"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Credentials usually live in a local .env; absence is fine in production
	// where the environment is injected directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting backspread webhook service in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Info("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Warn("LIVE TRADING MODE - Real money at risk!")
		logger.Warn("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	var instrumentStore *instruments.Store
	if cfg.Instruments.CSVPath != "" {
		instrumentStore, err = instruments.Load(cfg.Instruments.CSVPath)
		if err != nil {
			log.Fatalf("Failed to load instrument master: %v", err)
		}
		logger.Infof("Loaded %d instruments from %s", instrumentStore.Len(), cfg.Instruments.CSVPath)
	} else {
		logger.Warn("No instrument master configured, lot sizes rely on broker lookups and fallbacks")
	}

	dhan := broker.NewDhanClientWithBaseURL(cfg.Broker.ClientID, cfg.Broker.AccessToken, cfg.Broker.APIEndpoint)
	brokerClient := broker.NewCircuitBreakerBroker(dhan)

	trades, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}

	orderLogger := log.New(os.Stdout, "[ORDERS] ", log.LstdFlags)
	strategyLogger := log.New(os.Stdout, "[STRATEGY] ", log.LstdFlags)

	var lots strategy.LotSizer
	if instrumentStore != nil {
		lots = instrumentStore
	}

	executor := strategy.NewExecutor(brokerClient, lots, strategyLogger, strategy.ExecutorConfig{
		ScanCount:          cfg.Strategy.ScanCount,
		OrderPacing:        cfg.OrderPacing(),
		QuoteFailurePolicy: cfg.Strategy.QuoteFailurePolicy,
	})

	retryClient := retry.NewClient(brokerClient, orderLogger)
	closer := strategy.NewCloser(brokerClient, retryClient, lots, strategyLogger, cfg.OrderPacing())

	server := webhook.NewServer(webhook.Config{
		Port:           cfg.Server.Port,
		AuthToken:      cfg.Server.AuthToken,
		RequestTimeout: cfg.RequestTimeout(),
	}, executor, closer, trades, cfg.UnderlyingModels(), logger)

	if err := server.Validate(); err != nil {
		log.Fatalf("Server wiring invalid: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received, draining requests...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("Server error")
	}
	logger.Info("Server stopped")
}
