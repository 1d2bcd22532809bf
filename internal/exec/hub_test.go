package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/exchange"
)

type fakeAdapter struct {
	name    string
	balance decimal.Decimal
	price   decimal.Decimal
	failed  bool // open fails

	opened []exchange.OrderRequest
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Balance(_ context.Context) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeAdapter) OpenMarket(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if f.failed {
		return exchange.OrderResult{Err: "rejected"}, errors.New("rejected")
	}
	f.opened = append(f.opened, req)
	return exchange.OrderResult{
		Opened:  true,
		EntryID: f.name + "-1",
		Qty:     req.Qty,
		Entry:   f.price,
		SL:      req.SL,
		TP:      req.TP,
	}, nil
}

func (f *fakeAdapter) ClosePosition(_ context.Context, _ string, _ float64, _ string) error {
	return nil
}

func (f *fakeAdapter) FetchPosition(_ context.Context, symbol string) (exchange.PositionInfo, error) {
	return exchange.PositionInfo{Symbol: symbol}, nil
}

func (f *fakeAdapter) FetchTicker(_ context.Context, _ string) (decimal.Decimal, error) {
	if f.price.IsZero() {
		return decimal.Zero, errors.New("no price")
	}
	return f.price, nil
}

func newFake(name string, balance float64, failed bool) *fakeAdapter {
	return &fakeAdapter{
		name:    name,
		balance: decimal.NewFromFloat(balance),
		price:   decimal.NewFromInt(30000),
		failed:  failed,
	}
}

func request() Request {
	return Request{
		Symbol:      "BTCUSDT",
		Side:        exchange.SideLong,
		RiskPercent: decimal.NewFromInt(2),
		Leverage:    10,
	}
}

func TestQuantitySizing(t *testing.T) {
	// 1000 · 2% · 10 / 30000 = 0.00666..., floored to the 0.001 step.
	qty := Quantity(decimal.NewFromInt(1000), decimal.NewFromInt(2), 10, decimal.NewFromInt(30000))
	assert.True(t, qty.Equal(decimal.NewFromFloat(0.006)), qty.String())

	assert.True(t, Quantity(decimal.Zero, decimal.NewFromInt(2), 10, decimal.NewFromInt(30000)).IsZero())
	assert.True(t, Quantity(decimal.NewFromInt(1000), decimal.NewFromInt(2), 10, decimal.Zero).IsZero())
}

func TestMultiOpensSkipSingle(t *testing.T) {
	a := newFake("a", 1000, false)
	b := newFake("b", 500, false)
	single := newFake("single", 2000, false)
	h := New([]exchange.Adapter{a, b}, single)

	res, err := h.Execute(context.Background(), request())
	require.NoError(t, err)

	assert.True(t, res.OpenedReal)
	assert.True(t, res.SingleIgnored)
	assert.Len(t, res.EntryIDs, 2)
	assert.Len(t, res.PerAccount, 2)
	assert.Empty(t, single.opened)
}

func TestPartialMultiStillSkipsSingle(t *testing.T) {
	a := newFake("a", 1000, true)
	b := newFake("b", 500, false)
	single := newFake("single", 2000, false)
	h := New([]exchange.Adapter{a, b}, single)

	res, err := h.Execute(context.Background(), request())
	require.NoError(t, err)

	assert.True(t, res.OpenedReal)
	assert.True(t, res.SingleIgnored)
	assert.Len(t, res.EntryIDs, 1)
	require.Len(t, res.PerAccount, 2)
	assert.False(t, res.PerAccount[0].Opened)
	assert.NotEmpty(t, res.PerAccount[0].Err)
	assert.True(t, res.PerAccount[1].Opened)
	assert.Empty(t, single.opened)
}

func TestSingleFallbackWhenAllMultiFail(t *testing.T) {
	a := newFake("a", 1000, true)
	single := newFake("single", 2000, false)
	h := New([]exchange.Adapter{a}, single)

	res, err := h.Execute(context.Background(), request())
	require.NoError(t, err)

	assert.True(t, res.OpenedReal)
	assert.False(t, res.SingleIgnored)
	require.Len(t, res.PerAccount, 2)
	assert.Equal(t, "single", res.PerAccount[1].Account)
	assert.Len(t, single.opened, 1)
}

func TestAllFail(t *testing.T) {
	a := newFake("a", 1000, true)
	single := newFake("single", 2000, true)
	h := New([]exchange.Adapter{a}, single)

	res, err := h.Execute(context.Background(), request())
	require.NoError(t, err)

	assert.False(t, res.OpenedReal)
	assert.False(t, res.SingleIgnored)
	assert.Empty(t, res.EntryIDs)
}

func TestDerivedStopsRideEveryOrder(t *testing.T) {
	a := newFake("a", 1000, false)
	h := New([]exchange.Adapter{a}, nil)

	res, err := h.Execute(context.Background(), request())
	require.NoError(t, err)
	require.True(t, res.OpenedReal)

	require.Len(t, a.opened, 1)
	// Long: SL below entry, TP above, per the x10 bracket (4% / 8%).
	assert.True(t, a.opened[0].SL.Equal(decimal.NewFromInt(28800)), a.opened[0].SL.String())
	assert.True(t, a.opened[0].TP.Equal(decimal.NewFromInt(32400)), a.opened[0].TP.String())
}
