package data

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/indicator"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", normalizeSymbol("BTC/USDT"))
	assert.Equal(t, "BTCUSDT", normalizeSymbol("btcusdt"))
	assert.Equal(t, "ETHUSDT", normalizeSymbol("ETHUSDT"))
}

func TestDropUnclosed(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 5, 0, 0, time.UTC)
	c := NewClient("")
	c.now = func() time.Time { return now }

	closed := indicator.Candle{CloseTime: now.Add(-time.Second).UnixMilli()}
	forming := indicator.Candle{CloseTime: now.Add(4 * time.Minute).UnixMilli()}

	out := c.dropUnclosed([]indicator.Candle{closed, forming})
	require.Len(t, out, 1)
	assert.Equal(t, closed.CloseTime, out[0].CloseTime)

	// A bar that closed exactly at now stays.
	edge := indicator.Candle{CloseTime: now.UnixMilli()}
	out = c.dropUnclosed([]indicator.Candle{closed, edge})
	assert.Len(t, out, 2)

	assert.Empty(t, c.dropUnclosed(nil))
}

func TestKlinesDecodesAndOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		// The display pair is normalized to the exchange symbol.
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		w.Write([]byte(`[
			[1735689600000,"30000","30100","29900","30050","120.5",1735689899999],
			[1735689900000,"30050","30200","30000","30150","98.2",1735690199999]
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.now = func() time.Time { return time.UnixMilli(1735690199999).Add(time.Second) }

	candles, err := c.Klines(context.Background(), "BTC/USDT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 30050.0, candles[0].Close)
	assert.Equal(t, 98.2, candles[1].Volume)
	assert.True(t, candles[0].OpenTime < candles[1].OpenTime)
}

func TestKlinesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Klines(context.Background(), "BTCUSDT", "5m", 2)
	assert.Error(t, err)
}
