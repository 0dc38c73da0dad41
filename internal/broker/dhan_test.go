package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *DhanClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDhanClientWithBaseURL("client-1", "token-1", srv.URL)
}

func TestResolveATMStrike(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/optionchain/atm", r.URL.Path)
		assert.Equal(t, "NIFTY", r.URL.Query().Get("underlying"))
		assert.Equal(t, "0", r.URL.Query().Get("expiry"))
		assert.Equal(t, "token-1", r.Header.Get("access-token"))
		assert.Equal(t, "client-1", r.Header.Get("client-id"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"call_symbol": "NIFTY 15 MAY 22000 CALL",
				"put_symbol":  "NIFTY 15 MAY 22000 PUT",
				"strike":      22000,
			},
		})
	})

	res, err := client.ResolveATMStrike(context.Background(), "NIFTY", 0)
	require.NoError(t, err)
	assert.Equal(t, "NIFTY 15 MAY 22000 CALL", res.CallSymbol)
	assert.Equal(t, "NIFTY 15 MAY 22000 PUT", res.PutSymbol)
	assert.Equal(t, 22000.0, res.Strike)
}

func TestResolveATMStrike_Incomplete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"strike": 0}})
	})

	_, err := client.ResolveATMStrike(context.Background(), "NIFTY", 0)
	assert.Error(t, err)
}

func TestGetLastPrices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/marketfeed/ltp", r.URL.Path)

		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body["symbols"], 2)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"NIFTY 15 MAY 21950 CALL": map[string]any{"last_price": 182.5},
				// second symbol intentionally absent: no quote available
			},
		})
	})

	prices, err := client.GetLastPrices(context.Background(),
		[]string{"NIFTY 15 MAY 21950 CALL", "NIFTY 15 MAY 21900 CALL"})
	require.NoError(t, err)
	assert.Len(t, prices, 1)
	assert.Equal(t, 182.5, prices["NIFTY 15 MAY 21950 CALL"])
}

func TestGetLotSize(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NIFTY 15 MAY 22000 CALL", r.URL.Query().Get("symbol"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"trading_symbol": "NIFTY 15 MAY 22000 CALL", "lot_size": 75},
		})
	})

	lot, err := client.GetLotSize(context.Background(), "NIFTY 15 MAY 22000 CALL")
	require.NoError(t, err)
	assert.Equal(t, 75, lot)
}

func TestGetLotSize_Invalid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"lot_size": 0}})
	})

	_, err := client.GetLotSize(context.Background(), "NIFTY 15 MAY 22000 CALL")
	assert.Error(t, err)
}

func TestPlaceMarketOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/slicing", r.URL.Path)

		var req OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BUY", req.Side)
		assert.Equal(t, 600, req.Quantity)
		assert.Equal(t, "DAY", req.Validity)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"orderId": "112111182045", "orderStatus": "TRANSIT"},
				{"orderId": "112111182046", "orderStatus": "TRANSIT"},
			},
		})
	})

	ids, err := client.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol:      "NIFTY 15 MAY 22000 CALL",
		Exchange:    "NFO",
		Side:        "BUY",
		Quantity:    600,
		ProductType: "INTRADAY",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"112111182045", "112111182046"}, ids)
}

func TestPlaceMarketOrder_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"orderId": "9", "orderStatus": "REJECTED"}},
		})
	})

	_, err := client.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol: "NIFTY 15 MAY 22000 CALL", Exchange: "NFO", Side: "SELL", Quantity: 75,
	})
	assert.ErrorContains(t, err, "rejected")
}

func TestPlaceMarketOrder_ZeroQuantity(t *testing.T) {
	client := NewDhanClientWithBaseURL("c", "t", "http://127.0.0.1:0")
	_, err := client.PlaceMarketOrder(context.Background(), OrderRequest{Symbol: "X", Quantity: 0})
	assert.Error(t, err)
}

func TestGetPositions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"tradingSymbol": "NIFTY 15 MAY 22000 CALL", "netQty": 600,
					"positionType": "LONG", "productType": "INTRADAY",
					"drvOptionType": "CE", "drvStrikePrice": 22000,
				},
				{
					"tradingSymbol": "NIFTY 15 MAY 21900 CALL", "netQty": -300,
					"positionType": "SHORT", "productType": "INTRADAY",
					"drvOptionType": "CE", "drvStrikePrice": 21900,
				},
			},
		})
	})

	positions, err := client.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, 600.0, positions[0].NetQty)
	assert.True(t, positions[0].Active())
	assert.Equal(t, "SHORT", positions[1].PositionType)
}

func TestAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errorCode":"805","errorMessage":"too many requests"}`))
	})

	_, err := client.GetPositions(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Contains(t, apiErr.Body, "too many requests")
}

func TestPositionItemActive(t *testing.T) {
	assert.False(t, PositionItem{NetQty: 0, PositionType: "LONG"}.Active())
	assert.False(t, PositionItem{NetQty: 150, PositionType: "CLOSED"}.Active())
	assert.True(t, PositionItem{NetQty: -150, PositionType: "SHORT"}.Active())
}
