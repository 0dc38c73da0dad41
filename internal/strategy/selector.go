package strategy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"backspread-webhook/internal/broker"
	"backspread-webhook/internal/models"
)

// ErrNoITMStrike is returned when no in-the-money candidate has a usable
// quote. The caller must abort the entry rather than guess a strike.
var ErrNoITMStrike = errors.New("no priced ITM strike candidate")

// Selector picks the in-the-money strike whose premium best balances the
// cost of the at-the-money leg.
type Selector struct {
	broker broker.Broker
	logger *log.Logger
}

func NewSelector(b broker.Broker, logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.Default()
	}
	return &Selector{broker: b, logger: logger}
}

// SelectorParams describes one ITM search.
type SelectorParams struct {
	Root       string
	Expiry     models.ExpiryLabel
	Side       models.OptionSide
	ATMStrike  float64
	ATMPrice   float64
	StrikeStep float64
	ScanCount  int
	BuyRatio   int
	SellRatio  int
}

// SelectITMStrike scans ScanCount strikes into the money and returns the one
// whose premium most closely offsets the ATM leg: it minimizes
// |sellRatio*candidatePrice - buyRatio*atmPrice|. Candidates are generated in
// ascending distance from the ATM strike; ties keep the nearer strike.
// Candidates without a quote are dropped. Returns ErrNoITMStrike when none
// remain.
func (s *Selector) SelectITMStrike(ctx context.Context, p SelectorParams) (*models.StrikeQuote, error) {
	if p.ScanCount <= 0 {
		return nil, fmt.Errorf("scan count must be positive, got %d", p.ScanCount)
	}
	if p.StrikeStep <= 0 {
		return nil, fmt.Errorf("strike step must be positive, got %v", p.StrikeStep)
	}

	// CALL goes below the ATM strike, PUT above.
	direction := -1.0
	if p.Side == models.SidePut {
		direction = 1.0
	}

	strikes := make([]float64, 0, p.ScanCount)
	symbols := make([]string, 0, p.ScanCount)
	for i := 1; i <= p.ScanCount; i++ {
		strike := p.ATMStrike + direction*float64(i)*p.StrikeStep
		strikes = append(strikes, strike)
		symbols = append(symbols, models.OptionSymbol(p.Root, p.Expiry, strike, p.Side))
	}

	prices, err := s.broker.GetLastPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("fetching candidate quotes: %w", err)
	}

	var (
		best     *models.StrikeQuote
		bestDiff = math.Inf(1)
	)
	for i, symbol := range symbols {
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			s.logger.Printf("No quote for ITM candidate %s, skipping", symbol)
			continue
		}

		netDiff := math.Abs(float64(p.SellRatio)*price - float64(p.BuyRatio)*p.ATMPrice)
		if netDiff < bestDiff {
			bestDiff = netDiff
			best = &models.StrikeQuote{
				Strike:    strikes[i],
				Symbol:    symbol,
				LastPrice: price,
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w for %s %s around %s", ErrNoITMStrike, p.Root, p.Side, models.FormatStrike(p.ATMStrike))
	}

	s.logger.Printf("Selected ITM strike %s at %.2f (net diff %.2f)", best.Symbol, best.LastPrice, bestDiff)
	return best, nil
}
