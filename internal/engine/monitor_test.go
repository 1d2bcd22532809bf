package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/risk"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
)

func testPosition(sim bool) *store.Position {
	c := center
	return &store.Position{
		UserID:     uid,
		Pair:       "BTCUSDT",
		Side:       "LONG",
		Qty:        decimal.NewFromFloat(0.006),
		EntryPrice: decimal.NewFromInt(30000),
		EntryTime:  center.Add(30 * time.Minute),
		TideCenter: &c,
		TPDeadline: center.Add(6 * time.Hour),
		SLPrice:    decimal.NewFromInt(28800),
		Simulation: sim,
		WindowKey:  "20250101T0900-HIGH",
	}
}

func TestClassifyClose(t *testing.T) {
	long := testPosition(false)

	// At or within 0.1% of the stop: stop-loss.
	assert.Equal(t, risk.ResultSL, classifyClose(long, decimal.NewFromInt(28800)))
	assert.Equal(t, risk.ResultSL, classifyClose(long, decimal.NewFromInt(28810)))
	assert.Equal(t, risk.ResultSL, classifyClose(long, decimal.NewFromInt(28000)))

	// Well above the stop: take-profit.
	assert.Equal(t, risk.ResultTP, classifyClose(long, decimal.NewFromInt(32000)))

	// No price or no stop: never builds a streak.
	assert.Equal(t, risk.ResultManual, classifyClose(long, decimal.Zero))
	noStop := testPosition(false)
	noStop.SLPrice = decimal.Zero
	assert.Equal(t, risk.ResultManual, classifyClose(noStop, decimal.NewFromInt(28800)))

	short := testPosition(false)
	short.Side = "SHORT"
	short.SLPrice = decimal.NewFromInt(31200)
	assert.Equal(t, risk.ResultSL, classifyClose(short, decimal.NewFromInt(31200)))
	assert.Equal(t, risk.ResultSL, classifyClose(short, decimal.NewFromInt(31190)))
	assert.Equal(t, risk.ResultTP, classifyClose(short, decimal.NewFromInt(27600)))
}

// A paper position past the deadline settles as TP.
func TestMonitorPaperDeadlineSettlesTP(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	require.NoError(t, h.store.SavePosition(testPosition(true)))

	now := center.Add(7 * time.Hour)
	h.eng.now = func() time.Time { return now }
	h.eng.monitorTick(context.Background(), uid, now)

	pos, err := h.store.GetPosition(uid)
	require.NoError(t, err)
	assert.Nil(t, pos)

	streak, err := h.eng.sentinel.Streak(uid, "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, streak)
	assert.True(t, h.notifier.containing("TP"))
}

// Before the deadline a paper position is left alone.
func TestMonitorPaperBeforeDeadlineNoop(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	require.NoError(t, h.store.SavePosition(testPosition(true)))

	now := center.Add(2 * time.Hour)
	h.eng.now = func() time.Time { return now }
	h.eng.monitorTick(context.Background(), uid, now)

	pos, err := h.store.GetPosition(uid)
	require.NoError(t, err)
	assert.NotNil(t, pos)
}

// A live position the exchange reports flat is classified by the last
// price against the stop and feeds the sentinel.
func TestMonitorExternalFlatClassifiedSL(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	require.NoError(t, h.store.SavePosition(testPosition(false)))
	h.adapter.flat = true
	h.adapter.price = decimal.NewFromInt(28810)

	now := center.Add(time.Hour)
	h.eng.now = func() time.Time { return now }
	h.eng.monitorTick(context.Background(), uid, now)

	pos, err := h.store.GetPosition(uid)
	require.NoError(t, err)
	assert.Nil(t, pos)

	streak, err := h.eng.sentinel.Streak(uid, "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, streak)
	assert.True(t, h.notifier.containing("SL"))
}

func TestMonitorLiveBeforeDeadlineNoop(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	require.NoError(t, h.store.SavePosition(testPosition(false)))

	now := center.Add(time.Hour)
	h.eng.now = func() time.Time { return now }
	h.eng.monitorTick(context.Background(), uid, now)

	pos, err := h.store.GetPosition(uid)
	require.NoError(t, err)
	assert.NotNil(t, pos)
}

func TestDueAnchor(t *testing.T) {
	grace := 90 * time.Second

	// Exactly at an anchor and within the grace band.
	a, ok := dueAnchor(center, center.Add(-2*time.Hour), grace)
	assert.True(t, ok)
	assert.True(t, a.Equal(center.Add(-2*time.Hour)))

	a, ok = dueAnchor(center, center.Add(30*time.Minute+time.Minute), grace)
	assert.True(t, ok)
	assert.True(t, a.Equal(center.Add(30*time.Minute)))

	// Between anchors, past the grace.
	_, ok = dueAnchor(center, center.Add(40*time.Minute), grace)
	assert.False(t, ok)

	// Before the earliest and after the latest anchor.
	_, ok = dueAnchor(center, center.Add(-3*time.Hour), grace)
	assert.False(t, ok)
	_, ok = dueAnchor(center, center.Add(3*time.Hour), grace)
	assert.False(t, ok)
}
