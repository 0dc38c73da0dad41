// Package strategy implements ratio backspread entries and exits: strike
// selection, order sequencing, and risk figures for each executed spread.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"backspread-webhook/internal/broker"
	"backspread-webhook/internal/models"
	"backspread-webhook/internal/util"
)

// Quote failure policies. Abort refuses the entry when the ATM leg has no
// quote; fallback substitutes the underlying's configured reference price.
const (
	QuotePolicyAbort    = "abort"
	QuotePolicyFallback = "fallback"
)

const orderValidity = "DAY"

// ErrQuoteUnavailable is returned when the ATM leg has no usable quote and
// the abort policy is in force.
var ErrQuoteUnavailable = errors.New("quote unavailable")

// LotSizer resolves contract lot sizes from reference data.
type LotSizer interface {
	LotSize(tradingSymbol string) (int, bool)
}

// ExecutorConfig carries the strategy-wide knobs.
type ExecutorConfig struct {
	ScanCount          int
	OrderPacing        time.Duration
	QuoteFailurePolicy string
}

// Executor runs the two-leg entry sequence for a ratio backspread.
type Executor struct {
	broker      broker.Broker
	selector    *Selector
	instruments LotSizer
	logger      *log.Logger
	config      ExecutorConfig
}

func NewExecutor(b broker.Broker, instruments LotSizer, logger *log.Logger, config ExecutorConfig) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 10
	}
	if config.OrderPacing <= 0 {
		config.OrderPacing = 500 * time.Millisecond
	}
	if config.QuoteFailurePolicy == "" {
		config.QuoteFailurePolicy = QuotePolicyAbort
	}

	return &Executor{
		broker:      b,
		selector:    NewSelector(b, logger),
		instruments: instruments,
		logger:      logger,
		config:      config,
	}
}

// ExecuteBackspread resolves the ATM strike, selects the offsetting ITM
// strike, then places the legs in a fixed order: the long ATM leg first, a
// pacing delay, then the short ITM leg. Buying before selling keeps the
// account long-margined for the short leg.
func (e *Executor) ExecuteBackspread(
	ctx context.Context,
	u models.Underlying,
	side models.OptionSide,
	buyRatio, sellRatio int,
) (*models.BackspreadPlan, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("invalid option side %q", side)
	}
	if buyRatio <= 0 || sellRatio <= 0 {
		return nil, fmt.Errorf("ratios must be positive, got buy=%d sell=%d", buyRatio, sellRatio)
	}

	atm, err := e.broker.ResolveATMStrike(ctx, u.Root, 0)
	if err != nil {
		return nil, fmt.Errorf("resolving ATM strike for %s: %w", u.Root, err)
	}

	atmSymbol := atm.CallSymbol
	if side == models.SidePut {
		atmSymbol = atm.PutSymbol
	}
	if atmSymbol == "" {
		return nil, fmt.Errorf("broker returned no %s symbol for %s", side, u.Root)
	}

	expiry, err := models.ParseExpiryFromSymbol(atmSymbol)
	if err != nil {
		return nil, fmt.Errorf("parsing expiry from %q: %w", atmSymbol, err)
	}

	atmPrice, err := e.atmPrice(ctx, u, atmSymbol)
	if err != nil {
		return nil, err
	}

	lotSize := e.lotSize(ctx, u, atmSymbol)

	itm, err := e.selector.SelectITMStrike(ctx, SelectorParams{
		Root:       u.Root,
		Expiry:     expiry,
		Side:       side,
		ATMStrike:  atm.Strike,
		ATMPrice:   atmPrice,
		StrikeStep: u.StrikeStep,
		ScanCount:  e.config.ScanCount,
		BuyRatio:   buyRatio,
		SellRatio:  sellRatio,
	})
	if err != nil {
		return nil, err
	}

	atmQty := buyRatio * lotSize
	itmQty := sellRatio * lotSize

	e.logger.Printf("Executing %s %s backspread: BUY %d %s, SELL %d %s",
		u.Root, side, atmQty, atmSymbol, itmQty, itm.Symbol)

	buyIDs, err := e.broker.PlaceMarketOrder(ctx, broker.OrderRequest{
		Symbol:      atmSymbol,
		Exchange:    u.Exchange,
		Side:        string(models.Buy),
		Quantity:    atmQty,
		ProductType: u.ProductType,
		Validity:    orderValidity,
	})
	if err != nil {
		return nil, fmt.Errorf("placing ATM buy leg: %w", err)
	}

	if err := e.pace(ctx); err != nil {
		return nil, fmt.Errorf("interrupted between legs, ATM leg %v is live: %w", buyIDs, err)
	}

	sellIDs, err := e.broker.PlaceMarketOrder(ctx, broker.OrderRequest{
		Symbol:      itm.Symbol,
		Exchange:    u.Exchange,
		Side:        string(models.Sell),
		Quantity:    itmQty,
		ProductType: u.ProductType,
		Validity:    orderValidity,
	})
	if err != nil {
		// The long leg is already working. Surface both facts.
		return nil, fmt.Errorf("placing ITM sell leg (ATM leg %v is live): %w", buyIDs, err)
	}

	netPosition := float64(sellRatio)*itm.LastPrice - float64(buyRatio)*atmPrice
	maxRisk := netPosition * float64(lotSize)
	breakeven := breakevenLevel(side, atm.Strike, netPosition, buyRatio)

	plan := &models.BackspreadPlan{
		ID:         uuid.NewString(),
		Underlying: u.Root,
		Side:       side,
		BuyRatio:   buyRatio,
		SellRatio:  sellRatio,
		LotSize:    lotSize,
		ATMLeg: models.RatioLeg{
			Role:      models.RoleATM,
			Side:      models.Buy,
			Symbol:    atmSymbol,
			Strike:    atm.Strike,
			Quantity:  atmQty,
			UnitPrice: atmPrice,
			OrderIDs:  buyIDs,
		},
		ITMLeg: models.RatioLeg{
			Role:      models.RoleITM,
			Side:      models.Sell,
			Symbol:    itm.Symbol,
			Strike:    itm.Strike,
			Quantity:  itmQty,
			UnitPrice: itm.LastPrice,
			OrderIDs:  sellIDs,
		},
		NetPosition: netPosition,
		MaxRisk:     maxRisk,
		Breakeven:   breakeven,
		ExecutedAt:  time.Now().UTC(),
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("executed plan failed validation: %w", err)
	}

	if u.AutoFlattenOnMismatch {
		if err := e.verifyLegs(ctx, u, plan); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// atmPrice fetches the ATM leg's last traded price, applying the configured
// quote failure policy when the feed has no price.
func (e *Executor) atmPrice(ctx context.Context, u models.Underlying, atmSymbol string) (float64, error) {
	prices, err := e.broker.GetLastPrices(ctx, []string{atmSymbol})
	if err == nil {
		if p, ok := prices[atmSymbol]; ok && p > 0 {
			return p, nil
		}
		err = fmt.Errorf("%w: no last price for %s", ErrQuoteUnavailable, atmSymbol)
	}

	if e.config.QuoteFailurePolicy == QuotePolicyFallback && u.FallbackATMPrice > 0 {
		e.logger.Printf("ATM quote unavailable for %s, falling back to configured price %.2f: %v",
			atmSymbol, u.FallbackATMPrice, err)
		return u.FallbackATMPrice, nil
	}

	return 0, fmt.Errorf("fetching ATM price: %w", err)
}

// lotSize resolves the contract lot size: live broker lookup first, then the
// instrument master, then the underlying's configured fallback.
func (e *Executor) lotSize(ctx context.Context, u models.Underlying, atmSymbol string) int {
	if lot, err := e.broker.GetLotSize(ctx, atmSymbol); err == nil && lot > 0 {
		return lot
	} else if err != nil {
		e.logger.Printf("Broker lot size lookup failed for %s: %v", atmSymbol, err)
	}

	if e.instruments != nil {
		if lot, ok := e.instruments.LotSize(atmSymbol); ok {
			return lot
		}
	}

	e.logger.Printf("Using fallback lot size %d for %s", u.FallbackLotSize, u.Root)
	return u.FallbackLotSize
}

// pace waits out the configured inter-leg delay, honoring cancellation.
func (e *Executor) pace(ctx context.Context) error {
	timer := time.NewTimer(e.config.OrderPacing)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// verifyLegs cross-checks the broker's position book against the plan. The
// book lags order acknowledgements, so a settle delay runs before the read.
// On a mismatch, or when the book cannot be read at all, both legs are
// flattened using the plan's own quantities.
func (e *Executor) verifyLegs(ctx context.Context, u models.Underlying, plan *models.BackspreadPlan) error {
	if err := e.pace(ctx); err != nil {
		return fmt.Errorf("interrupted before leg verification: %w", err)
	}

	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		e.logger.Printf("Position fetch failed during leg verification, flattening: %v", err)
		e.flattenLegs(ctx, u, plan)
		return fmt.Errorf("verifying legs for %s, positions flattened: %w", u.Root, err)
	}

	netBySymbol := make(map[string]float64, len(positions))
	for _, p := range positions {
		netBySymbol[p.TradingSymbol] = p.NetQty
	}

	atmOK := netBySymbol[plan.ATMLeg.Symbol] >= float64(plan.ATMLeg.Quantity)
	itmOK := netBySymbol[plan.ITMLeg.Symbol] <= -float64(plan.ITMLeg.Quantity)
	if atmOK && itmOK {
		return nil
	}

	e.logger.Printf("Leg mismatch for %s backspread (ATM net %v, ITM net %v), flattening",
		u.Root, netBySymbol[plan.ATMLeg.Symbol], netBySymbol[plan.ITMLeg.Symbol])
	e.flattenLegs(ctx, u, plan)
	return fmt.Errorf("leg quantities did not match after execution for %s, positions flattened", u.Root)
}

// flattenLegs places offsetting market orders for both plan legs. Quantities
// come from the plan, not the position book, which may still be stale.
func (e *Executor) flattenLegs(ctx context.Context, u models.Underlying, plan *models.BackspreadPlan) {
	for _, leg := range []models.RatioLeg{plan.ATMLeg, plan.ITMLeg} {
		side := models.Sell
		if leg.Side == models.Sell {
			side = models.Buy
		}
		_, err := e.broker.PlaceMarketOrder(ctx, broker.OrderRequest{
			Symbol:      leg.Symbol,
			Exchange:    u.Exchange,
			Side:        string(side),
			Quantity:    leg.Quantity,
			ProductType: u.ProductType,
			Validity:    orderValidity,
		})
		if err != nil {
			e.logger.Printf("Flatten order for %s failed: %v", leg.Symbol, err)
		}
	}
}

// breakevenLevel returns the underlying level at which the spread's expiry
// payoff crosses zero, above the ATM strike for calls and below for puts,
// rounded to the exchange tick.
func breakevenLevel(side models.OptionSide, atmStrike, netPosition float64, buyRatio int) float64 {
	offset := netPosition / float64(buyRatio)
	level := atmStrike + offset
	if side == models.SidePut {
		level = atmStrike - offset
	}
	return util.RoundToExchangeTick(level)
}
