package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// Broker is the narrow brokerage surface the strategy core consumes. Order
// slicing, exchange routing and quote aggregation all stay on the broker side
// of this line.
type Broker interface {
	// ResolveATMStrike returns the at-the-money call/put trading symbols and
	// strike for an underlying at the given expiry offset (0 = nearest).
	ResolveATMStrike(ctx context.Context, underlying string, expiryOffset int) (*ATMResolution, error)

	// GetLastPrices batch-fetches last traded prices. Symbols with no quote
	// are simply absent from the returned map, not an error.
	GetLastPrices(ctx context.Context, symbols []string) (map[string]float64, error)

	// GetLotSize returns the contract lot size for a tradable symbol.
	GetLotSize(ctx context.Context, tradingSymbol string) (int, error)

	// PlaceMarketOrder places a market order, slicing into multiple exchange
	// orders when the quantity exceeds freeze limits. All resulting order IDs
	// are returned.
	PlaceMarketOrder(ctx context.Context, req OrderRequest) ([]string, error)

	// GetPositions lists the account's current positions.
	GetPositions(ctx context.Context) ([]PositionItem, error)
}

// ATMResolution is the broker's answer to an ATM strike lookup.
type ATMResolution struct {
	CallSymbol string  `json:"call_symbol"`
	PutSymbol  string  `json:"put_symbol"`
	Strike     float64 `json:"strike"`
}

// OrderRequest describes a single market order.
type OrderRequest struct {
	Symbol      string `json:"trading_symbol"`
	Exchange    string `json:"exchange_segment"`
	Side        string `json:"transaction_type"` // BUY or SELL
	Quantity    int    `json:"quantity"`
	ProductType string `json:"product_type"` // e.g. INTRADAY
	Validity    string `json:"validity"`     // e.g. DAY
}

// PositionItem is a single position row as reported by the broker. The core
// only reads these; the broker's ledger remains the durable position state.
type PositionItem struct {
	TradingSymbol  string  `json:"tradingSymbol"`
	NetQty         float64 `json:"netQty"`
	PositionType   string  `json:"positionType"` // LONG, SHORT or CLOSED
	ProductType    string  `json:"productType"`
	DrvOptionType  string  `json:"drvOptionType"`  // CE or PE; empty for non-options
	DrvStrikePrice float64 `json:"drvStrikePrice"` // 0 for non-options
	DrvExpiryDate  string  `json:"drvExpiryDate,omitempty"`
}

// Active reports whether the position still carries exposure worth closing.
func (p PositionItem) Active() bool {
	return p.NetQty != 0 && p.PositionType != "CLOSED"
}

// Ensure DhanClient implements Broker at compile time.
var _ Broker = (*DhanClient)(nil)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// that a misbehaving brokerage API trips fast instead of queueing webhook
// deliveries behind timeouts.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// ResolveATMStrike wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) ResolveATMStrike(ctx context.Context, underlying string, expiryOffset int) (*ATMResolution, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*ATMResolution, error) {
		return b.ResolveATMStrike(ctx, underlying, expiryOffset)
	})
}

// GetLastPrices wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetLastPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]float64, error) {
		return b.GetLastPrices(ctx, symbols)
	})
}

// GetLotSize wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetLotSize(ctx context.Context, tradingSymbol string) (int, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (int, error) {
		return b.GetLotSize(ctx, tradingSymbol)
	})
}

// PlaceMarketOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceMarketOrder(ctx context.Context, req OrderRequest) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]string, error) {
		return b.PlaceMarketOrder(ctx, req)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.GetPositions(ctx)
	})
}
