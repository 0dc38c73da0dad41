package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backspread-webhook/internal/broker"
	"backspread-webhook/internal/mock"
	"backspread-webhook/internal/models"
)

// recordingPlacer implements OrderPlacer without retry machinery.
type recordingPlacer struct {
	requests []broker.OrderRequest
	failFor  map[string]error
}

func (r *recordingPlacer) PlaceOrderWithRetry(_ context.Context, req broker.OrderRequest) ([]string, error) {
	r.requests = append(r.requests, req)
	if err, ok := r.failFor[req.Symbol]; ok {
		return nil, err
	}
	return []string{"close-" + req.Symbol}, nil
}

func positionsBroker(positions []broker.PositionItem) *mock.Broker {
	return &mock.Broker{
		GetPositionsFunc: func(_ context.Context) ([]broker.PositionItem, error) {
			return positions, nil
		},
		GetLotSizeFunc: func(_ context.Context, _ string) (int, error) {
			return 50, nil
		},
	}
}

func longPosition(symbol, optType string, strike, qty float64) broker.PositionItem {
	return broker.PositionItem{
		TradingSymbol:  symbol,
		NetQty:         qty,
		PositionType:   "LONG",
		ProductType:    "INTRADAY",
		DrvOptionType:  optType,
		DrvStrikePrice: strike,
	}
}

func newTestCloser(b broker.Broker, placer OrderPlacer) *Closer {
	return NewCloser(b, placer, nil, testLogger(), time.Millisecond)
}

func TestClosePositions_NoMatchingPositions(t *testing.T) {
	b := positionsBroker(nil)
	placer := &recordingPlacer{}
	c := newTestCloser(b, placer)

	summary, err := c.ClosePositions(context.Background(), niftyUnderlying(), models.CloseFull)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.PositionsClosed)
	assert.Empty(t, placer.requests)
}

func TestClosePositions_FullCloseBothLegs(t *testing.T) {
	positions := []broker.PositionItem{
		longPosition("NIFTY 15 MAY 22000 CALL", "CE", 22000, 600),
		{
			TradingSymbol:  "NIFTY 15 MAY 21800 CALL",
			NetQty:         -300,
			PositionType:   "SHORT",
			ProductType:    "INTRADAY",
			DrvOptionType:  "CE",
			DrvStrikePrice: 21800,
		},
		// Different underlying, must be ignored.
		longPosition("BANKNIFTY 15 MAY 48000 CALL", "CE", 48000, 120),
		// Flat position, must be ignored.
		longPosition("NIFTY 15 MAY 21900 CALL", "CE", 21900, 0),
	}
	placer := &recordingPlacer{}
	c := newTestCloser(positionsBroker(positions), placer)

	summary, err := c.ClosePositions(context.Background(), niftyUnderlying(), models.CloseFull)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.PositionsClosed)
	assert.Equal(t, 4, summary.TotalPositions)
	assert.Equal(t, 3, summary.TotalMatching)
	assert.Equal(t, 2, summary.ActivePositions)

	require.Len(t, placer.requests, 2)
	assert.Equal(t, "SELL", placer.requests[0].Side, "long position offsets with a sell")
	assert.Equal(t, 600, placer.requests[0].Quantity)
	assert.Equal(t, "BUY", placer.requests[1].Side, "short position offsets with a buy")
	assert.Equal(t, 300, placer.requests[1].Quantity)
}

func TestClosePositions_HalfRoundsOddLotsUp(t *testing.T) {
	tests := []struct {
		name    string
		netQty  float64
		wantQty int
	}{
		{"odd lot count rounds up", 150, 100}, // 3 lots -> 2 lots
		{"even lot count halves exactly", 200, 100},
		{"single lot closes fully", 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions := []broker.PositionItem{
				longPosition("NIFTY 15 MAY 22000 CALL", "CE", 22000, tt.netQty),
			}
			placer := &recordingPlacer{}
			c := newTestCloser(positionsBroker(positions), placer)

			summary, err := c.ClosePositions(context.Background(), niftyUnderlying(), models.CloseHalf)
			require.NoError(t, err)
			require.Equal(t, 1, summary.PositionsClosed)
			assert.Equal(t, tt.wantQty, placer.requests[0].Quantity)
		})
	}
}

func TestClosePositions_SkipsUnparseablePositions(t *testing.T) {
	positions := []broker.PositionItem{
		// No option type recorded.
		longPosition("NIFTY 15 MAY 22000 CALL", "", 22000, 600),
		// No strike recorded.
		longPosition("NIFTY 15 MAY 21900 CALL", "CE", 0, 300),
		// Healthy position.
		longPosition("NIFTY 15 MAY 21800 CALL", "CE", 21800, 300),
	}
	placer := &recordingPlacer{}
	c := newTestCloser(positionsBroker(positions), placer)

	summary, err := c.ClosePositions(context.Background(), niftyUnderlying(), models.CloseFull)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PositionsClosed)
	require.Len(t, placer.requests, 1)
	assert.Equal(t, "NIFTY 15 MAY 21800 CALL", placer.requests[0].Symbol)
}

func TestClosePositions_OrderFailureSkipsPosition(t *testing.T) {
	positions := []broker.PositionItem{
		longPosition("NIFTY 15 MAY 22000 CALL", "CE", 22000, 600),
		longPosition("NIFTY 15 MAY 21800 CALL", "CE", 21800, 300),
	}
	placer := &recordingPlacer{
		failFor: map[string]error{
			"NIFTY 15 MAY 22000 CALL": errors.New("order rejected"),
		},
	}
	c := newTestCloser(positionsBroker(positions), placer)

	summary, err := c.ClosePositions(context.Background(), niftyUnderlying(), models.CloseFull)
	require.NoError(t, err, "one failed close must not abort the sweep")
	assert.Equal(t, 1, summary.PositionsClosed)
	require.Len(t, summary.Closed, 1)
	assert.Equal(t, "NIFTY 15 MAY 21800 CALL", summary.Closed[0].Symbol)
}

func TestClosePositions_PositionFetchError(t *testing.T) {
	b := &mock.Broker{
		GetPositionsFunc: func(_ context.Context) ([]broker.PositionItem, error) {
			return nil, errors.New("api down")
		},
	}
	c := newTestCloser(b, &recordingPlacer{})

	_, err := c.ClosePositions(context.Background(), niftyUnderlying(), models.CloseFull)
	assert.Error(t, err)
}

func TestClosePositions_CEAndPEOptionTypes(t *testing.T) {
	positions := []broker.PositionItem{
		longPosition("NIFTY 15 MAY 22000 PUT", "PE", 22000, 300),
	}
	placer := &recordingPlacer{}
	c := newTestCloser(positionsBroker(positions), placer)

	summary, err := c.ClosePositions(context.Background(), niftyUnderlying(), models.CloseFull)
	require.NoError(t, err)
	require.Equal(t, 1, summary.PositionsClosed)
	assert.Equal(t, "NIFTY 15 MAY 22000 PUT", placer.requests[0].Symbol)
}
