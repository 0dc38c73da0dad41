// Package broker provides trading API clients for executing options trades.
// It includes the Dhan API client used to place the ratio backspread legs.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.dhan.co/v2"

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// DhanClient is a REST client for the Dhan trading API, scoped to the calls
// the strategy core needs.
type DhanClient struct {
	client      *http.Client
	clientID    string
	accessToken string
	baseURL     string
	timeout     time.Duration
}

// NewDhanClient creates a new Dhan API client with default settings.
func NewDhanClient(clientID, accessToken string) *DhanClient {
	return NewDhanClientWithBaseURL(clientID, accessToken, "")
}

// NewDhanClientWithBaseURL creates a new Dhan API client with an optional
// custom base URL (tests point this at an httptest server).
func NewDhanClientWithBaseURL(clientID, accessToken, baseURL string) *DhanClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := 10 * time.Second
	return &DhanClient{
		client:      &http.Client{Timeout: timeout},
		clientID:    clientID,
		accessToken: accessToken,
		baseURL:     baseURL,
		timeout:     timeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (d *DhanClient) WithHTTPClient(c *http.Client) *DhanClient {
	if c != nil {
		d.client = c
	}
	return d
}

// WithTimeout sets the HTTP client timeout duration.
func (d *DhanClient) WithTimeout(timeout time.Duration) *DhanClient {
	d.timeout = timeout
	if d.client != nil {
		d.client.Timeout = timeout
	}
	return d
}

// ============ API Response Structures ============

type atmStrikeResponse struct {
	Data ATMResolution `json:"data"`
}

type ltpResponse struct {
	Data map[string]struct {
		LastPrice float64 `json:"last_price"`
	} `json:"data"`
}

type lotSizeResponse struct {
	Data struct {
		TradingSymbol string `json:"trading_symbol"`
		LotSize       int    `json:"lot_size"`
	} `json:"data"`
}

type sliceOrderResponse struct {
	Data []struct {
		OrderID     string `json:"orderId"`
		OrderStatus string `json:"orderStatus"`
	} `json:"data"`
}

type positionsResponse struct {
	Data []PositionItem `json:"data"`
}

// ============ API Methods ============

// ResolveATMStrike retrieves the ATM call/put symbols and strike for an
// underlying at the given expiry offset.
func (d *DhanClient) ResolveATMStrike(ctx context.Context, underlying string, expiryOffset int) (*ATMResolution, error) {
	params := url.Values{}
	params.Set("underlying", underlying)
	params.Set("expiry", strconv.Itoa(expiryOffset))
	endpoint := d.baseURL + "/optionchain/atm?" + params.Encode()

	var response atmStrikeResponse
	if err := d.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("resolving ATM strike for %s: %w", underlying, err)
	}
	if response.Data.Strike == 0 || response.Data.CallSymbol == "" || response.Data.PutSymbol == "" {
		return nil, fmt.Errorf("incomplete ATM resolution for %s", underlying)
	}
	res := response.Data
	return &res, nil
}

// GetLastPrices batch-fetches last traded prices for a set of symbols.
// Symbols the feed has no quote for are omitted from the result.
func (d *DhanClient) GetLastPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	body := map[string][]string{"symbols": symbols}
	endpoint := d.baseURL + "/marketfeed/ltp"

	var response ltpResponse
	if err := d.makeRequestCtx(ctx, http.MethodPost, endpoint, body, &response); err != nil {
		return nil, fmt.Errorf("fetching last prices: %w", err)
	}

	prices := make(map[string]float64, len(response.Data))
	for symbol, quote := range response.Data {
		prices[symbol] = quote.LastPrice
	}
	return prices, nil
}

// GetLotSize returns the contract lot size for a tradable symbol.
func (d *DhanClient) GetLotSize(ctx context.Context, tradingSymbol string) (int, error) {
	params := url.Values{}
	params.Set("symbol", tradingSymbol)
	endpoint := d.baseURL + "/instruments/lotsize?" + params.Encode()

	var response lotSizeResponse
	if err := d.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return 0, fmt.Errorf("fetching lot size for %s: %w", tradingSymbol, err)
	}
	if response.Data.LotSize <= 0 {
		return 0, fmt.Errorf("broker returned lot size %d for %s", response.Data.LotSize, tradingSymbol)
	}
	return response.Data.LotSize, nil
}

// PlaceMarketOrder places a sliced market order and returns all exchange order IDs.
func (d *DhanClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) ([]string, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be positive, got %d", req.Quantity)
	}
	if req.Validity == "" {
		req.Validity = "DAY"
	}
	endpoint := d.baseURL + "/orders/slicing"

	var response sliceOrderResponse
	if err := d.makeRequestCtx(ctx, http.MethodPost, endpoint, req, &response); err != nil {
		return nil, fmt.Errorf("placing %s order for %s: %w", req.Side, req.Symbol, err)
	}

	ids := make([]string, 0, len(response.Data))
	for _, o := range response.Data {
		if strings.EqualFold(o.OrderStatus, "REJECTED") {
			return ids, fmt.Errorf("order %s for %s rejected by broker", o.OrderID, req.Symbol)
		}
		ids = append(ids, o.OrderID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("broker returned no order IDs for %s", req.Symbol)
	}
	return ids, nil
}

// GetPositions lists the account's current positions.
func (d *DhanClient) GetPositions(ctx context.Context) ([]PositionItem, error) {
	endpoint := d.baseURL + "/positions"

	var response positionsResponse
	if err := d.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}
	return response.Data, nil
}

// makeRequestCtx makes an HTTP request with context support for timeout and
// cancellation. A non-nil body is JSON-encoded.
func (d *DhanClient) makeRequestCtx(ctx context.Context, method, endpoint string,
	body interface{}, response interface{}) error {
	var req *http.Request
	var err error

	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return merr
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/json")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("access-token", d.accessToken)
	req.Header.Add("client-id", d.clientID)
	req.Header.Add("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(raw))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
