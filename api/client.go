package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/interfaces"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
)

const (
	defaultWindow  = "5000"
	requestTimeout = 15 * time.Second
)

// Client handles all REST interactions with the exchange.
type Client struct {
	config *config.Config
	logger logging.LoggerInterface
	http   *http.Client
}

var _ interfaces.ExchangeClient = (*Client)(nil)

// NewClient creates a new REST client.
func NewClient(cfg *config.Config, log logging.LoggerInterface) *Client {
	return &Client{
		config: cfg,
		logger: log,
		http:   &http.Client{Timeout: requestTimeout},
	}
}

// Sign produces the request signature over the instruction name, the
// alphabetically sorted parameters, and the timestamp window.
func (c *Client) Sign(instruction string, params map[string]string, timestamp, window string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("instruction=" + instruction)
	for _, k := range keys {
		sb.WriteString("&" + k + "=" + params[k])
	}
	sb.WriteString("&timestamp=" + timestamp + "&window=" + window)

	mac := hmac.New(sha256.New, []byte(c.config.APISecret))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signedRequest issues an authenticated request. params feed both the
// signature and, for GETs, the query string; body is the JSON payload
// for mutating calls.
func (c *Client) signedRequest(ctx context.Context, method, path, instruction string, params map[string]string, body []byte) ([]byte, error) {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())

	endpoint := c.config.RESTHost + path
	if method == http.MethodGet && len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-KEY", c.config.APIKey)
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-WINDOW", defaultWindow)
	req.Header.Set("X-SIGNATURE", c.Sign(instruction, params, ts, defaultWindow))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(reply)))
	}
	return reply, nil
}

// publicGet issues an unauthenticated request.
func (c *Client) publicGet(ctx context.Context, path string, q url.Values) ([]byte, error) {
	endpoint := c.config.RESTHost + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(reply)))
	}
	return reply, nil
}

// GetMarkets returns specs for all perpetual markets.
func (c *Client) GetMarkets(ctx context.Context) ([]models.MarketSpec, error) {
	reply, err := c.publicGet(ctx, "/api/v1/markets", nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol     string `json:"symbol"`
		BaseSymbol string `json:"baseSymbol"`
		QuoteSymbol string `json:"quoteSymbol"`
		MarketType string `json:"marketType"`
		OrderBookState string `json:"orderBookState"`
		Filters    struct {
			Price struct {
				TickSize string `json:"tickSize"`
			} `json:"price"`
			Quantity struct {
				StepSize    string `json:"stepSize"`
				MinQuantity string `json:"minQuantity"`
			} `json:"quantity"`
		} `json:"filters"`
	}
	if err := json.Unmarshal(reply, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse markets: %w", err)
	}

	var markets []models.MarketSpec
	for _, m := range raw {
		if m.MarketType != "PERP" || m.OrderBookState != "Open" {
			continue
		}
		tick := parseFloat(m.Filters.Price.TickSize)
		step := parseFloat(m.Filters.Quantity.StepSize)
		if tick <= 0 || step <= 0 {
			c.logger.Warning("Skipping %s: missing tick/step size", m.Symbol)
			continue
		}
		markets = append(markets, models.MarketSpec{
			Symbol:           m.Symbol,
			BaseAsset:        m.BaseSymbol,
			QuoteAsset:       m.QuoteSymbol,
			TickSize:         tick,
			StepSize:         step,
			DecimalPrice:     decimalPlaces(m.Filters.Price.TickSize),
			DecimalQuantity:  decimalPlaces(m.Filters.Quantity.StepSize),
			MinOrderNotional: parseFloat(m.Filters.Quantity.MinQuantity) * tick,
		})
	}
	return markets, nil
}

// GetCandles returns the most recent limit candles for the symbol.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	step, err := intervalDuration(interval)
	if err != nil {
		return nil, err
	}
	start := time.Now().Add(-time.Duration(limit) * step).Unix()

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(start, 10))

	reply, err := c.publicGet(ctx, "/api/v1/klines", q)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Start  string `json:"start"`
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Close  string `json:"close"`
		Volume string `json:"volume"`
	}
	if err := json.Unmarshal(reply, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines: %w", err)
	}

	candles := make([]models.Candle, 0, len(raw))
	for _, k := range raw {
		ts, _ := time.Parse("2006-01-02 15:04:05", k.Start)
		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			Timestamp: ts,
		})
	}
	// Oldest first; indicator math depends on it.
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// GetTicker returns the 24h ticker plus mark price for one symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	reply, err := c.publicGet(ctx, "/api/v1/ticker", q)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(reply, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ticker: %w", err)
	}

	t := &models.Ticker{
		Symbol:    symbol,
		LastPrice: parseFloat(raw.LastPrice),
		Volume24h: parseFloat(raw.QuoteVolume),
	}

	// Mark price comes from a separate endpoint; a miss is tolerable,
	// Price() falls back to last price.
	mq := url.Values{}
	mq.Set("symbol", symbol)
	if mreply, merr := c.publicGet(ctx, "/api/v1/markPrices", mq); merr == nil {
		var marks []struct {
			Symbol    string `json:"symbol"`
			MarkPrice string `json:"markPrice"`
		}
		if json.Unmarshal(mreply, &marks) == nil {
			for _, m := range marks {
				if m.Symbol == symbol {
					t.MarkPrice = parseFloat(m.MarkPrice)
				}
			}
		}
	}
	return t, nil
}

// GetAccountInfo returns leverage limit and fee schedule.
func (c *Client) GetAccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	reply, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/account", "accountQuery", nil, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		LeverageLimit   string `json:"leverageLimit"`
		FuturesMakerFee string `json:"futuresMakerFee"`
	}
	if err := json.Unmarshal(reply, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse account: %w", err)
	}
	return &models.AccountInfo{
		LeverageLimit:   parseFloat(raw.LeverageLimit),
		FuturesMakerFee: parseFloat(raw.FuturesMakerFee),
	}, nil
}

// GetCollateral returns the account's net equity available.
func (c *Client) GetCollateral(ctx context.Context) (*models.Collateral, error) {
	reply, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/capital/collateral", "collateralQuery", nil, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		NetEquityAvailable string `json:"netEquityAvailable"`
	}
	if err := json.Unmarshal(reply, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse collateral: %w", err)
	}
	return &models.Collateral{NetEquityAvailable: parseFloat(raw.NetEquityAvailable)}, nil
}

// GetOpenPositions returns all open futures positions.
func (c *Client) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	reply, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/position", "positionQuery", nil, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol         string `json:"symbol"`
		NetQuantity    string `json:"netQuantity"`
		EntryPrice     string `json:"entryPrice"`
		MarkPrice      string `json:"markPrice"`
		BreakEvenPrice string `json:"breakEvenPrice"`
		NetCost        string `json:"netCost"`
	}
	if err := json.Unmarshal(reply, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse positions: %w", err)
	}

	var positions []models.Position
	for _, p := range raw {
		qty := parseFloat(p.NetQuantity)
		if qty == 0 {
			continue
		}
		positions = append(positions, models.Position{
			Symbol:         p.Symbol,
			NetQuantity:    qty,
			EntryPrice:     parseFloat(p.EntryPrice),
			MarkPrice:      parseFloat(p.MarkPrice),
			BreakEvenPrice: parseFloat(p.BreakEvenPrice),
			NetCost:        parseFloat(p.NetCost),
		})
	}
	return positions, nil
}

// GetOpenOrders returns resting orders, all symbols when symbol is empty.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	params := map[string]string{"marketType": "PERP"}
	if symbol != "" {
		params["symbol"] = symbol
	}
	reply, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/orders", "orderQueryAll", params, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID           string `json:"id"`
		Symbol       string `json:"symbol"`
		Side         string `json:"side"`
		OrderType    string `json:"orderType"`
		Quantity     string `json:"quantity"`
		Price        string `json:"price"`
		TriggerPrice string `json:"triggerPrice"`
		Status       string `json:"status"`
		ReduceOnly   bool   `json:"reduceOnly"`
		CreatedAt    int64  `json:"createdAt"`
	}
	if err := json.Unmarshal(reply, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse orders: %w", err)
	}

	orders := make([]models.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, models.Order{
			ID:           o.ID,
			Symbol:       o.Symbol,
			Side:         o.Side,
			OrderType:    o.OrderType,
			Quantity:     parseFloat(o.Quantity),
			Price:        parseFloat(o.Price),
			TriggerPrice: parseFloat(o.TriggerPrice),
			Status:       o.Status,
			ReduceOnly:   o.ReduceOnly,
			CreatedAt:    time.UnixMilli(o.CreatedAt),
		})
	}
	return orders, nil
}

// PlaceOrder submits an order with any attached stop/take-profit legs.
func (c *Client) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.OrderAck, error) {
	params := orderParams(req)
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	c.logger.Debug("REST order body: %s", body)
	reply, err := c.signedRequest(ctx, http.MethodPost, "/api/v1/order", "orderExecute", params, body)
	if err != nil {
		c.logger.Error("Failed to place order for %s: %v", req.Symbol, err)
		return nil, err
	}
	c.logger.Debug("REST order response: %s", reply)

	var r struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(reply, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order response: %w", err)
	}
	if r.ID == "" {
		return &models.OrderAck{Success: false}, fmt.Errorf("order rejected: %s", reply)
	}
	return &models.OrderAck{OrderID: r.ID, Success: true}, nil
}

// CancelOpenOrder cancels one resting order.
func (c *Client) CancelOpenOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]string{"symbol": symbol, "orderId": orderID}
	body, _ := json.Marshal(params)
	_, err := c.signedRequest(ctx, http.MethodDelete, "/api/v1/order", "orderCancel", params, body)
	if err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return nil
}

// CancelOpenOrders cancels all resting orders on a symbol.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	params := map[string]string{"symbol": symbol, "orderType": "RestingLimitOrder"}
	body, _ := json.Marshal(params)
	_, err := c.signedRequest(ctx, http.MethodDelete, "/api/v1/orders", "orderCancelAll", params, body)
	if err != nil {
		return fmt.Errorf("failed to cancel orders on %s: %w", symbol, err)
	}
	return nil
}

// orderParams flattens an OrderRequest into wire parameters, omitting
// empty optionals so they stay out of both the body and the signature.
func orderParams(req *models.OrderRequest) map[string]string {
	params := map[string]string{
		"symbol":    req.Symbol,
		"side":      req.Side,
		"orderType": req.OrderType,
		"quantity":  req.Quantity,
	}
	setIf := func(key, val string) {
		if val != "" {
			params[key] = val
		}
	}
	setIf("price", req.Price)
	setIf("triggerPrice", req.TriggerPrice)
	setIf("triggerQuantity", req.TriggerQuantity)
	setIf("triggerBy", req.TriggerBy)
	setIf("stopLossTriggerPrice", req.StopLossTriggerPrice)
	setIf("stopLossLimitPrice", req.StopLossLimitPrice)
	setIf("stopLossTriggerBy", req.StopLossTriggerBy)
	setIf("takeProfitTriggerPrice", req.TakeProfitTriggerPrice)
	setIf("takeProfitLimitPrice", req.TakeProfitLimitPrice)
	setIf("takeProfitTriggerBy", req.TakeProfitTriggerBy)
	setIf("timeInForce", req.TimeInForce)
	setIf("selfTradePrevention", req.SelfTradePrevention)
	if req.ClientID != 0 {
		params["clientId"] = strconv.FormatInt(req.ClientID, 10)
	}
	setBool := func(key string, val bool) {
		if val {
			params[key] = "true"
		}
	}
	setBool("postOnly", req.PostOnly)
	setBool("reduceOnly", req.ReduceOnly)
	setBool("autoBorrow", req.AutoBorrow)
	setBool("autoBorrowRepay", req.AutoBorrowRepay)
	setBool("autoLend", req.AutoLend)
	setBool("autoLendRedeem", req.AutoLendRedeem)
	return params
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// decimalPlaces counts fractional digits of a step string like "0.001".
func decimalPlaces(s string) int {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(strings.TrimRight(s[i+1:], "0"))
	}
	return 0
}

// intervalDuration maps a candle interval like "5m" or "1h" to its length.
func intervalDuration(interval string) (time.Duration, error) {
	if interval == "" {
		return 0, fmt.Errorf("empty candle interval")
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid candle interval %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid candle interval %q", interval)
	}
}
