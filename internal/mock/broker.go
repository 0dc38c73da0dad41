// Package mock provides a scriptable broker implementation for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"backspread-webhook/internal/broker"
)

// Broker implements broker.Broker with overridable function fields. Tests set
// only the behaviors they care about; unset calls fail loudly.
type Broker struct {
	mu sync.Mutex

	ResolveATMStrikeFunc func(ctx context.Context, underlying string, expiryOffset int) (*broker.ATMResolution, error)
	GetLastPricesFunc    func(ctx context.Context, symbols []string) (map[string]float64, error)
	GetLotSizeFunc       func(ctx context.Context, tradingSymbol string) (int, error)
	PlaceMarketOrderFunc func(ctx context.Context, req broker.OrderRequest) ([]string, error)
	GetPositionsFunc     func(ctx context.Context) ([]broker.PositionItem, error)

	// Orders records every PlaceMarketOrder request, in call order.
	Orders []broker.OrderRequest
}

var _ broker.Broker = (*Broker)(nil)

func (m *Broker) ResolveATMStrike(ctx context.Context, underlying string, expiryOffset int) (*broker.ATMResolution, error) {
	if m.ResolveATMStrikeFunc == nil {
		return nil, fmt.Errorf("mock: ResolveATMStrike not scripted")
	}
	return m.ResolveATMStrikeFunc(ctx, underlying, expiryOffset)
}

func (m *Broker) GetLastPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if m.GetLastPricesFunc == nil {
		return nil, fmt.Errorf("mock: GetLastPrices not scripted")
	}
	return m.GetLastPricesFunc(ctx, symbols)
}

func (m *Broker) GetLotSize(ctx context.Context, tradingSymbol string) (int, error) {
	if m.GetLotSizeFunc == nil {
		return 0, fmt.Errorf("mock: GetLotSize not scripted")
	}
	return m.GetLotSizeFunc(ctx, tradingSymbol)
}

func (m *Broker) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) ([]string, error) {
	m.mu.Lock()
	m.Orders = append(m.Orders, req)
	m.mu.Unlock()
	if m.PlaceMarketOrderFunc == nil {
		return nil, fmt.Errorf("mock: PlaceMarketOrder not scripted")
	}
	return m.PlaceMarketOrderFunc(ctx, req)
}

func (m *Broker) GetPositions(ctx context.Context) ([]broker.PositionItem, error) {
	if m.GetPositionsFunc == nil {
		return nil, fmt.Errorf("mock: GetPositions not scripted")
	}
	return m.GetPositionsFunc(ctx)
}

// PlacedOrders returns a copy of the recorded order requests.
func (m *Broker) PlacedOrders() []broker.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]broker.OrderRequest, len(m.Orders))
	copy(out, m.Orders)
	return out
}
