// End-to-end smoke test against the broker sandbox. Exercises the full entry
// and exit pipeline with real HTTP calls but paper-mode credentials: ATM
// resolution, strike selection quotes, lot sizes, order placement, and the
// close sweep. Refuses to run in live mode.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"backspread-webhook/internal/broker"
	"backspread-webhook/internal/config"
	"backspread-webhook/internal/instruments"
	"backspread-webhook/internal/models"
	"backspread-webhook/internal/retry"
	"backspread-webhook/internal/strategy"
)

func main() {
	fmt.Println("=== Backspread Webhook - End-to-End Integration Test ===")
	fmt.Println()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if !cfg.IsPaperTrading() {
		log.Fatalf("Integration tests must run in paper mode. Set environment.mode: 'paper' in config.yaml")
	}

	logger := log.New(os.Stdout, "[E2E] ", log.LstdFlags)

	dhan := broker.NewDhanClientWithBaseURL(cfg.Broker.ClientID, cfg.Broker.AccessToken, cfg.Broker.APIEndpoint)
	brokerClient := broker.NewCircuitBreakerBroker(dhan)

	var lots strategy.LotSizer
	if cfg.Instruments.CSVPath != "" {
		store, err := instruments.Load(cfg.Instruments.CSVPath)
		if err != nil {
			log.Fatalf("Failed to load instrument master: %v", err)
		}
		logger.Printf("Loaded %d instruments", store.Len())
		lots = store
	}

	underlyings := cfg.UnderlyingModels()
	u, ok := underlyings["NIFTY"]
	if !ok {
		for _, candidate := range underlyings {
			u = candidate
			break
		}
	}
	logger.Printf("Testing with underlying %s", u.Root)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Step 1: broker connectivity.
	atm, err := brokerClient.ResolveATMStrike(ctx, u.Root, 0)
	if err != nil {
		log.Fatalf("ATM resolution failed: %v", err)
	}
	logger.Printf("ATM strike %s: call=%s put=%s", models.FormatStrike(atm.Strike), atm.CallSymbol, atm.PutSymbol)

	// Step 2: quotes and lot size for the call side.
	prices, err := brokerClient.GetLastPrices(ctx, []string{atm.CallSymbol})
	if err != nil {
		log.Fatalf("Quote fetch failed: %v", err)
	}
	logger.Printf("ATM call last price: %.2f", prices[atm.CallSymbol])

	lot, err := brokerClient.GetLotSize(ctx, atm.CallSymbol)
	if err != nil {
		logger.Printf("Lot size lookup failed (fallbacks will apply): %v", err)
	} else {
		logger.Printf("Lot size: %d", lot)
	}

	// Step 3: full entry through the executor.
	executor := strategy.NewExecutor(brokerClient, lots, logger, strategy.ExecutorConfig{
		ScanCount:          cfg.Strategy.ScanCount,
		OrderPacing:        cfg.OrderPacing(),
		QuoteFailurePolicy: cfg.Strategy.QuoteFailurePolicy,
	})

	smallestRatio := u.RatioCounts[0]
	for _, n := range u.RatioCounts {
		if n < smallestRatio {
			smallestRatio = n
		}
	}

	plan, err := executor.ExecuteBackspread(ctx, u, models.SideCall, smallestRatio, smallestRatio/2)
	if err != nil {
		log.Fatalf("Backspread entry failed: %v", err)
	}
	logger.Printf("Entry OK: bought %d %s, sold %d %s, max risk %.2f, breakeven %s",
		plan.ATMLeg.Quantity, plan.ATMLeg.Symbol,
		plan.ITMLeg.Quantity, plan.ITMLeg.Symbol,
		plan.MaxRisk, models.FormatStrike(plan.Breakeven))

	// Step 4: flatten everything we just opened.
	retryClient := retry.NewClient(brokerClient, logger)
	closer := strategy.NewCloser(brokerClient, retryClient, lots, logger, cfg.OrderPacing())

	summary, err := closer.ClosePositions(ctx, u, models.CloseFull)
	if err != nil {
		log.Fatalf("Close sweep failed: %v", err)
	}
	logger.Printf("Close OK: flattened %d position(s)", summary.PositionsClosed)

	fmt.Println()
	fmt.Println("=== Integration test passed ===")
}
