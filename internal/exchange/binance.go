package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE USDⓈ-M FUTURES CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Signed REST: query string + HMAC-SHA256 signature, X-MBX-APIKEY header.
// An entry is a MARKET order followed by STOP_MARKET and TAKE_PROFIT_MARKET
// close-position orders at the derived prices.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	binanceMainnet = "https://fapi.binance.com"
	binanceTestnet = "https://testnet.binancefuture.com"
)

// Binance is the live futures adapter for one account.
type Binance struct {
	name       string
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
}

// NewBinance builds an adapter for one set of credentials.
func NewBinance(name, apiKey, apiSecret string, testnet bool) *Binance {
	base := binanceMainnet
	if testnet {
		base = binanceTestnet
	}
	return &Binance{
		name:       name,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *Binance) Name() string { return b.name }

// Balance returns the available USDT balance.
func (b *Binance) Balance(ctx context.Context) (decimal.Decimal, error) {
	body, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return decimal.Zero, err
	}
	var entries []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return decimal.Zero, fmt.Errorf("balance decode: %w", err)
	}
	for _, e := range entries {
		if e.Asset == "USDT" {
			return decimal.NewFromString(e.AvailableBalance)
		}
	}
	return decimal.Zero, nil
}

// OpenMarket places the entry and attaches SL/TP close-position orders.
func (b *Binance) OpenMarket(ctx context.Context, req OrderRequest) (OrderResult, error) {
	res := OrderResult{Qty: req.Qty, SL: req.SL, TP: req.TP}
	sym := Symbol(req.Symbol)

	if err := b.setLeverage(ctx, sym, req.Leverage); err != nil {
		res.Err = err.Error()
		return res, err
	}

	side, closeSide := "BUY", "SELL"
	if req.Side == SideShort {
		side, closeSide = "SELL", "BUY"
	}

	params := url.Values{}
	params.Set("symbol", sym)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", req.Qty.String())
	params.Set("newOrderRespType", "RESULT")

	body, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		res.Err = err.Error()
		return res, err
	}

	var order struct {
		OrderID  int64  `json:"orderId"`
		AvgPrice string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &order); err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("order decode: %w", err)
	}

	res.Opened = true
	res.EntryID = strconv.FormatInt(order.OrderID, 10)
	if avg, err := decimal.NewFromString(order.AvgPrice); err == nil && !avg.IsZero() {
		res.Entry = avg
	}

	// Protective orders ride as close-position triggers; a failure there
	// leaves the entry open, so it is reported but not fatal.
	if err := b.placeTrigger(ctx, sym, closeSide, "STOP_MARKET", req.SL); err != nil {
		log.Error().Err(err).Str("account", b.name).Msg("⚠️ SL order failed")
		res.Err = fmt.Sprintf("sl: %v", err)
	}
	if err := b.placeTrigger(ctx, sym, closeSide, "TAKE_PROFIT_MARKET", req.TP); err != nil {
		log.Error().Err(err).Str("account", b.name).Msg("⚠️ TP order failed")
		if res.Err != "" {
			res.Err += "; "
		}
		res.Err += fmt.Sprintf("tp: %v", err)
	}

	log.Info().
		Str("account", b.name).
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("qty", req.Qty.String()).
		Str("entry_id", res.EntryID).
		Msg("✅ Market entry placed")
	return res, nil
}

// ClosePosition market-closes pct percent of the position.
func (b *Binance) ClosePosition(ctx context.Context, symbol string, pct float64, sideFilter string) error {
	symbol = Symbol(symbol)
	pos, err := b.FetchPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos.Qty.IsZero() {
		return nil
	}
	if sideFilter != "" && pos.Side != sideFilter {
		return nil
	}

	qty := pos.Qty
	if pct > 0 && pct < 100 {
		qty = qty.Mul(decimal.NewFromFloat(pct / 100)).Round(3)
	}
	side := "SELL"
	if pos.Side == SideShort {
		side = "BUY"
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", qty.String())
	params.Set("reduceOnly", "true")

	_, err = b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return err
	}
	log.Info().Str("account", b.name).Str("symbol", symbol).Str("qty", qty.String()).Msg("🔒 Position closed")
	return nil
}

// FetchPosition reads the live position for the symbol.
func (b *Binance) FetchPosition(ctx context.Context, symbol string) (PositionInfo, error) {
	symbol = Symbol(symbol)
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return PositionInfo{}, err
	}
	var positions []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := json.Unmarshal(body, &positions); err != nil {
		return PositionInfo{}, fmt.Errorf("position decode: %w", err)
	}
	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)
		info := PositionInfo{Symbol: symbol, Qty: amt.Abs(), EntryPrice: entry, Side: SideLong}
		if amt.IsNegative() {
			info.Side = SideShort
		}
		return info, nil
	}
	return PositionInfo{Symbol: symbol}, nil
}

// FetchTicker returns the last traded price.
func (b *Binance) FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/fapi/v1/ticker/price?symbol=%s", b.baseURL, Symbol(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	var t struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return decimal.Zero, fmt.Errorf("ticker decode: %w", err)
	}
	return decimal.NewFromString(t.Price)
}

func (b *Binance) setLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return nil
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

func (b *Binance) placeTrigger(ctx context.Context, symbol, side, orderType string, stopPrice decimal.Decimal) error {
	if stopPrice.IsZero() {
		return nil
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", orderType)
	params.Set("stopPrice", stopPrice.Round(2).String())
	params.Set("closePosition", "true")
	params.Set("workingType", "MARK_PRICE")
	_, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	return err
}

func (b *Binance) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	var reqURL string
	var bodyReader io.Reader
	if method == http.MethodGet {
		reqURL = b.baseURL + path + "?" + query
	} else {
		reqURL = b.baseURL + path
		bodyReader = strings.NewReader(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("binance %s: %d %s", path, apiErr.Code, apiErr.Msg)
		}
		return nil, fmt.Errorf("binance %s: HTTP %d", path, resp.StatusCode)
	}
	return body, nil
}
