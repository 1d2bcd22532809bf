package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/exec"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/risk"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/score"
)

// Manual order and close entry points, driven by user commands. Both run
// under the user's tick mutex so they never interleave with the scheduler.

// ManualOrder opens a position on command. The tide gate still applies:
// manual orders spend the same quotas as automatic ones.
func (e *Engine) ManualOrder(ctx context.Context, userID int64, symbol, side string, riskPct decimal.Decimal, leverage int) (string, error) {
	mu := e.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	user, err := e.store.GetUser(userID, e.defaultUser())
	if err != nil {
		return "", err
	}

	side = strings.ToUpper(side)
	if side != "LONG" && side != "SHORT" {
		return "", fmt.Errorf("side must be long or short")
	}
	if symbol == "" {
		symbol = user.Pair
	}
	if riskPct.IsZero() {
		riskPct = user.RiskPercent
	}
	if leverage == 0 {
		leverage = user.Leverage
	}

	now := e.now()
	date := e.localDate(now)
	locked, err := e.sentinel.IsLocked(userID, date)
	if err != nil {
		return "", err
	}
	if locked {
		return fmt.Sprintf("🚨 %s is locked (%s)", date, SkipLockedToday), nil
	}

	dec, err := e.gate.Check(ctx, now, e.userLimits(user))
	if err != nil {
		return "", err
	}
	if !dec.Allowed {
		return fmt.Sprintf("🚫 Tide gate: %s", dec.Code), nil
	}

	hubRes, err := e.hub.Execute(ctx, exec.Request{
		Symbol:      symbol,
		Side:        side,
		RiskPercent: riskPct,
		Leverage:    leverage,
	})
	if err != nil {
		return "", err
	}
	if !hubRes.OpenedReal {
		return "❌ Entry failed on every account:\n" + perAccountLines(hubRes), nil
	}

	if err := e.gate.BumpAfterExecute(ctx, dec); err != nil {
		return "", err
	}

	res := &score.EvalResult{Signal: score.Side(side), Text: "manual order"}
	e.recordEntry(user, res, hubRes, dec, dec.Event, true, now)
	return e.broadcastText(user, res, hubRes, dec, true, dec.Event), nil
}

// ManualClose closes pct percent of the user's open position. A full close
// settles as MANUAL, which never builds the stop-loss streak.
func (e *Engine) ManualClose(ctx context.Context, userID int64, pct float64, sideFilter string) (string, error) {
	mu := e.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	pos, err := e.store.GetPosition(userID)
	if err != nil {
		return "", err
	}
	if pos == nil {
		return "ℹ️ No open position", nil
	}
	if sideFilter != "" && !strings.EqualFold(sideFilter, pos.Side) {
		return fmt.Sprintf("ℹ️ Open position is %s, not %s", pos.Side, strings.ToUpper(sideFilter)), nil
	}
	if pct <= 0 || pct > 100 {
		pct = 100
	}

	if !pos.Simulation {
		if err := e.anchor.ClosePosition(ctx, pos.Pair, pct, pos.Side); err != nil {
			return "", err
		}
	}

	if pct < 100 {
		pos.Qty = pos.Qty.Mul(decimal.NewFromFloat(1 - pct/100))
		if err := e.store.SavePosition(pos); err != nil {
			return "", err
		}
		return fmt.Sprintf("✂️ Closed %.0f%% of %s %s", pct, pos.Pair, pos.Side), nil
	}

	price := e.lastPrice(ctx, pos.Pair)
	e.settle(pos, risk.ResultManual, price, "manual close")
	return fmt.Sprintf("🔒 Closed %s %s @ %s", pos.Pair, pos.Side, price), nil
}
