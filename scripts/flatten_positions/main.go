// Package main provides an emergency flatten utility that closes every open
// option position with market orders, bypassing the webhook layer.
//
// Usage:
//
//	# Option A: env vars only, no config file required
//	export DHAN_CLIENT_ID="your_client_id"
//	export DHAN_ACCESS_TOKEN="your_token"
//	go run ./scripts/flatten_positions
//
//	# Option B: credentials from config.yaml
//	go run ./scripts/flatten_positions -config config.yaml
//
// This tool will:
// 1. Fetch all current positions from the broker
// 2. Place offsetting market orders for immediate execution
// 3. Report order placement status per position
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"backspread-webhook/internal/broker"
	"backspread-webhook/internal/config"
	"backspread-webhook/internal/models"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "Path to config.yaml")
	root := flag.String("root", "", "Only flatten positions for this underlying root (default: all)")
	flag.Parse()

	var cfg *config.Config
	if *cfgPath != "" {
		if c, err := config.Load(*cfgPath); err == nil {
			cfg = c
		} else if os.Getenv("DHAN_CLIENT_ID") == "" || os.Getenv("DHAN_ACCESS_TOKEN") == "" {
			log.Fatalf("❌ Failed to load config and env vars missing: %v", err)
		}
	}

	fmt.Printf("📝 Loading credentials (env overrides config)...\n")
	clientID, accessToken, endpoint := "", "", ""
	if cfg != nil {
		clientID = cfg.Broker.ClientID
		accessToken = cfg.Broker.AccessToken
		endpoint = cfg.Broker.APIEndpoint
	}
	if v := os.Getenv("DHAN_CLIENT_ID"); v != "" {
		clientID = v
		fmt.Printf("✅ Using DHAN_CLIENT_ID from environment\n")
	}
	if v := os.Getenv("DHAN_ACCESS_TOKEN"); v != "" {
		accessToken = v
		fmt.Printf("✅ Using DHAN_ACCESS_TOKEN from environment\n")
	}

	if clientID == "" || accessToken == "" {
		log.Fatalf("❌ Missing broker credentials: DHAN_CLIENT_ID and DHAN_ACCESS_TOKEN must be set via config or env")
	}
	client := broker.NewDhanClientWithBaseURL(clientID, accessToken, endpoint)

	fmt.Println("💥 FLATTEN ALL POSITIONS - MARKET ORDERS 💥")
	fmt.Println("⚠️  WARNING: This will close open positions using market orders")
	if *root != "" {
		fmt.Printf("🔎 Restricted to underlying root %s\n", *root)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	positions, err := client.GetPositions(ctx)
	if err != nil {
		log.Fatalf("Failed to get positions: %v", err)
	}

	fmt.Printf("Found %d positions:\n", len(positions))
	for i, pos := range positions {
		fmt.Printf("  %d. %s: %.0f units (%s)\n", i+1, pos.TradingSymbol, math.Abs(pos.NetQty), pos.PositionType)
	}

	closed := 0
	for _, pos := range positions {
		if !pos.Active() {
			continue
		}
		if *root != "" && !matchesRoot(pos.TradingSymbol, *root) {
			continue
		}

		quantity := int(math.Abs(pos.NetQty))
		side := models.OffsettingSide(pos.PositionType)

		fmt.Printf("\n📝 Closing %s (%d units) with a %s market order...\n", pos.TradingSymbol, quantity, side)

		orderIDs, err := client.PlaceMarketOrder(ctx, broker.OrderRequest{
			Symbol:      pos.TradingSymbol,
			Exchange:    "NSE_FNO",
			Side:        string(side),
			Quantity:    quantity,
			ProductType: pos.ProductType,
			Validity:    "DAY",
		})
		if err != nil {
			fmt.Printf("❌ Failed to close %s: %v\n", pos.TradingSymbol, err)
			continue
		}

		fmt.Printf("✅ Close order placed: %v\n", orderIDs)
		closed++
	}

	fmt.Printf("\n🎯 Submitted close orders for %d position(s)\n", closed)
}

func matchesRoot(tradingSymbol, root string) bool {
	return len(tradingSymbol) > len(root) &&
		tradingSymbol[:len(root)] == root &&
		tradingSymbol[len(root)] == ' '
}
