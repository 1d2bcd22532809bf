package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/indicator"
)

// ═══════════════════════════════════════════════════════════════════════════════
// KLINE ADAPTER - Closed-bar OHLCV frames for the scorer
// ═══════════════════════════════════════════════════════════════════════════════

const (
	maxAttempts    = 3
	backoffPerTry  = 600 * time.Millisecond
	requestTimeout = 10 * time.Second
)

// Client fetches futures klines over REST.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a kline client against the given futures REST base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		now:        time.Now,
	}
}

// Klines returns up to limit CLOSED candles for (symbol, interval), oldest
// first. The latest bar is dropped when it has not closed yet, so indicator
// math always runs on closed-bar semantics. On repeated fetch failure an
// empty slice is returned; the scorer surfaces that as insufficient data.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]indicator.Candle, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		candles, err := c.fetch(ctx, symbol, interval, limit)
		if err == nil {
			return c.dropUnclosed(candles), nil
		}
		lastErr = err
		log.Warn().
			Err(err).
			Str("symbol", symbol).
			Str("interval", interval).
			Int("attempt", attempt).
			Msg("Kline fetch failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * backoffPerTry):
		}
	}
	return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, lastErr)
}

func (c *Client) fetch(ctx context.Context, symbol, interval string, limit int) ([]indicator.Candle, error) {
	url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d",
		c.baseURL, normalizeSymbol(symbol), interval, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var raw [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	candles := make([]indicator.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 7 {
			continue
		}
		openTime, _ := k[0].(float64)
		closeTime, _ := k[6].(float64)
		candles = append(candles, indicator.Candle{
			OpenTime:  int64(openTime),
			Open:      parseFloat(k[1]),
			High:      parseFloat(k[2]),
			Low:       parseFloat(k[3]),
			Close:     parseFloat(k[4]),
			Volume:    parseFloat(k[5]),
			CloseTime: int64(closeTime),
		})
	}
	return candles, nil
}

// dropUnclosed removes the trailing candle when its close time is still in
// the future relative to now.
func (c *Client) dropUnclosed(candles []indicator.Candle) []indicator.Candle {
	if len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.CloseTime > c.now().UnixMilli() {
		return candles[:len(candles)-1]
	}
	return candles
}

// normalizeSymbol maps the display pair (BTC/USDT) to the exchange
// symbol (BTCUSDT).
func normalizeSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
}

func parseFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}
