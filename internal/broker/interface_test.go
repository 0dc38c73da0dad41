package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBroker lets tests script each Broker method independently.
type stubBroker struct {
	resolveFn   func(ctx context.Context, underlying string, expiryOffset int) (*ATMResolution, error)
	pricesFn    func(ctx context.Context, symbols []string) (map[string]float64, error)
	lotSizeFn   func(ctx context.Context, tradingSymbol string) (int, error)
	placeFn     func(ctx context.Context, req OrderRequest) ([]string, error)
	positionsFn func(ctx context.Context) ([]PositionItem, error)
}

func (s *stubBroker) ResolveATMStrike(ctx context.Context, underlying string, expiryOffset int) (*ATMResolution, error) {
	return s.resolveFn(ctx, underlying, expiryOffset)
}

func (s *stubBroker) GetLastPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	return s.pricesFn(ctx, symbols)
}

func (s *stubBroker) GetLotSize(ctx context.Context, tradingSymbol string) (int, error) {
	return s.lotSizeFn(ctx, tradingSymbol)
}

func (s *stubBroker) PlaceMarketOrder(ctx context.Context, req OrderRequest) ([]string, error) {
	return s.placeFn(ctx, req)
}

func (s *stubBroker) GetPositions(ctx context.Context) ([]PositionItem, error) {
	return s.positionsFn(ctx)
}

func TestCircuitBreakerBroker_PassThrough(t *testing.T) {
	stub := &stubBroker{
		resolveFn: func(ctx context.Context, underlying string, offset int) (*ATMResolution, error) {
			return &ATMResolution{CallSymbol: "NIFTY 15 MAY 22000 CALL", PutSymbol: "NIFTY 15 MAY 22000 PUT", Strike: 22000}, nil
		},
		pricesFn: func(ctx context.Context, symbols []string) (map[string]float64, error) {
			return map[string]float64{"NIFTY 15 MAY 22000 CALL": 150}, nil
		},
	}
	cb := NewCircuitBreakerBroker(stub)

	res, err := cb.ResolveATMStrike(context.Background(), "NIFTY", 0)
	require.NoError(t, err)
	assert.Equal(t, 22000.0, res.Strike)

	prices, err := cb.GetLastPrices(context.Background(), []string{"NIFTY 15 MAY 22000 CALL"})
	require.NoError(t, err)
	assert.Equal(t, 150.0, prices["NIFTY 15 MAY 22000 CALL"])
}

func TestCircuitBreakerBroker_OpensAfterFailures(t *testing.T) {
	brokerErr := errors.New("broker down")
	stub := &stubBroker{
		positionsFn: func(ctx context.Context) ([]PositionItem, error) {
			return nil, brokerErr
		},
	}
	cb := NewCircuitBreakerBrokerWithSettings(stub, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	for i := 0; i < 3; i++ {
		_, err := cb.GetPositions(context.Background())
		assert.ErrorIs(t, err, brokerErr)
	}

	// Breaker should now be open: the stub must no longer be reached.
	called := false
	stub.positionsFn = func(ctx context.Context) ([]PositionItem, error) {
		called = true
		return nil, nil
	}
	_, err := cb.GetPositions(context.Background())
	assert.Error(t, err)
	assert.False(t, called, "open breaker must short-circuit broker calls")
}
