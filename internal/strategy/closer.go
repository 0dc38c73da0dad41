package strategy

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"backspread-webhook/internal/broker"
	"backspread-webhook/internal/models"
)

// OrderPlacer places market orders with whatever retry policy the caller
// wired in.
type OrderPlacer interface {
	PlaceOrderWithRetry(ctx context.Context, req broker.OrderRequest) ([]string, error)
}

// Closer flattens open option positions for an underlying, either fully or
// by half.
type Closer struct {
	broker      broker.Broker
	orders      OrderPlacer
	instruments LotSizer
	logger      *log.Logger
	pacing      time.Duration
}

func NewCloser(b broker.Broker, orders OrderPlacer, instruments LotSizer, logger *log.Logger, pacing time.Duration) *Closer {
	if logger == nil {
		logger = log.Default()
	}
	if pacing <= 0 {
		pacing = 500 * time.Millisecond
	}
	return &Closer{
		broker:      b,
		orders:      orders,
		instruments: instruments,
		logger:      logger,
		pacing:      pacing,
	}
}

// ClosePositions places offsetting orders for every open option position on
// the underlying. With CloseHalf, each position is reduced by half its lots,
// rounded up so odd lot counts never leave more than half behind. Failures
// on individual positions are logged and skipped so one bad order does not
// strand the rest. Zero matching positions is a success with an empty
// summary.
func (c *Closer) ClosePositions(ctx context.Context, u models.Underlying, fraction models.CloseFraction) (*models.ClosedSummary, error) {
	positions, err := c.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	summary := &models.ClosedSummary{
		Underlying:     u.Root,
		Fraction:       fraction,
		TotalPositions: len(positions),
	}

	for _, pos := range positions {
		if !strings.HasPrefix(pos.TradingSymbol, u.Root+" ") {
			continue
		}
		summary.TotalMatching++
		if !pos.Active() {
			continue
		}
		summary.ActivePositions++

		symbol, err := c.rebuildSymbol(u.Root, pos)
		if err != nil {
			c.logger.Printf("Skipping position %s: %v", pos.TradingSymbol, err)
			continue
		}

		qty := int(math.Abs(pos.NetQty))
		if fraction == models.CloseHalf {
			lot := c.lotSize(ctx, u, symbol)
			qty = models.HalfLotQuantity(qty, lot)
			if qty <= 0 {
				c.logger.Printf("Skipping position %s: half quantity resolved to zero", symbol)
				continue
			}
		}

		side := models.OffsettingSide(pos.PositionType)

		orderIDs, err := c.orders.PlaceOrderWithRetry(ctx, broker.OrderRequest{
			Symbol:      symbol,
			Exchange:    u.Exchange,
			Side:        string(side),
			Quantity:    qty,
			ProductType: pos.ProductType,
			Validity:    orderValidity,
		})
		if err != nil {
			c.logger.Printf("Close order failed for %s, skipping: %v", symbol, err)
			continue
		}

		summary.Closed = append(summary.Closed, models.ClosedPosition{
			Symbol:   symbol,
			Quantity: qty,
			OrderIDs: orderIDs,
			Side:     side,
		})
		summary.PositionsClosed++

		if err := c.paceBetween(ctx); err != nil {
			return summary, fmt.Errorf("interrupted after closing %d position(s): %w", summary.PositionsClosed, err)
		}
	}

	c.logger.Printf("Closed %d/%d active %s position(s) (%s)",
		summary.PositionsClosed, summary.ActivePositions, u.Root, fraction)
	return summary, nil
}

// rebuildSymbol reconstructs the canonical trading symbol from the position's
// derivative fields. Positions missing the option type or strike cannot be
// offset safely and are skipped by the caller.
func (c *Closer) rebuildSymbol(root string, pos broker.PositionItem) (string, error) {
	side, err := models.SideFromOptionType(pos.DrvOptionType)
	if err != nil {
		return "", err
	}
	if pos.DrvStrikePrice <= 0 {
		return "", fmt.Errorf("missing strike price")
	}

	expiry, err := models.ParseExpiryFromSymbol(pos.TradingSymbol)
	if err != nil {
		return "", err
	}

	return models.OptionSymbol(root, expiry, pos.DrvStrikePrice, side), nil
}

func (c *Closer) lotSize(ctx context.Context, u models.Underlying, symbol string) int {
	if lot, err := c.broker.GetLotSize(ctx, symbol); err == nil && lot > 0 {
		return lot
	}
	if c.instruments != nil {
		if lot, ok := c.instruments.LotSize(symbol); ok {
			return lot
		}
	}
	return u.FallbackLotSize
}

func (c *Closer) paceBetween(ctx context.Context) error {
	timer := time.NewTimer(c.pacing)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
