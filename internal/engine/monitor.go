package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/risk"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TP-BY-TIME MONITOR - Deadline-driven position closer
// ═══════════════════════════════════════════════════════════════════════════════
//
// Per user per tick: recompute the deadline from the position's base
// instant (tide center when known, entry time otherwise). A position that
// went flat on the exchange before the deadline is classified SL or TP by
// the last price against the stored stop; a position still open past the
// deadline is force-closed and classified TP. Either way the sentinel
// hears about it and the record is cleared.
//
// ═══════════════════════════════════════════════════════════════════════════════

// slTolerance classifies a close as stop-loss when the last price sits
// within 0.1% of the stored stop, direction-aware.
const slTolerance = 0.001

func (e *Engine) monitorTick(ctx context.Context, userID int64, now time.Time) {
	pos, err := e.store.GetPosition(userID)
	if err != nil {
		log.Error().Err(err).Int64("user", userID).Msg("❌ Position read failed")
		return
	}
	if pos == nil {
		return
	}

	cfg := e.cfg.Snapshot()
	base := pos.EntryTime
	if pos.TideCenter != nil {
		base = *pos.TideCenter
	}
	deadline := base.Add(time.Duration(cfg.TPTimeHours * float64(time.Hour)))

	if pos.Simulation {
		e.monitorPaper(ctx, pos, deadline, now)
		return
	}

	live, err := e.anchor.FetchPosition(ctx, pos.Pair)
	if err != nil {
		log.Warn().Err(err).Int64("user", userID).Msg("⚠️ Live position fetch failed")
		return
	}

	if live.Qty.IsZero() {
		// Closed externally (SL/TP trigger or manual) before we acted.
		price := e.lastPrice(ctx, pos.Pair)
		result := classifyClose(pos, price)
		e.settle(pos, result, price, "exchange reported flat")
		return
	}

	if now.Before(deadline) {
		return
	}

	if err := e.anchor.ClosePosition(ctx, pos.Pair, 100, pos.Side); err != nil {
		log.Error().Err(err).Int64("user", userID).Msg("❌ Deadline close failed")
		return
	}
	price := e.lastPrice(ctx, pos.Pair)
	e.settle(pos, risk.ResultTP, price, "tp-by-time deadline")
}

// monitorPaper only enforces the deadline; paper positions cannot be
// closed externally.
func (e *Engine) monitorPaper(ctx context.Context, pos *store.Position, deadline, now time.Time) {
	if now.Before(deadline) {
		return
	}
	price := e.lastPrice(ctx, pos.Pair)
	e.settle(pos, risk.ResultTP, price, "tp-by-time deadline (paper)")
}

// lastPrice prefers the fresh websocket mark, falling back to REST.
func (e *Engine) lastPrice(ctx context.Context, symbol string) decimal.Decimal {
	if e.mark != nil {
		if mark, fresh := e.mark.Mark(); fresh {
			return mark
		}
	}
	if e.anchor != nil {
		if price, err := e.anchor.FetchTicker(ctx, symbol); err == nil {
			return price
		}
	}
	return decimal.Zero
}

// classifyClose decides SL vs TP from the last price against the stored
// stop. Unknown price defaults to a non-SL close so a feed outage never
// builds a lock streak.
func classifyClose(pos *store.Position, last decimal.Decimal) string {
	if last.IsZero() || pos.SLPrice.IsZero() {
		return risk.ResultManual
	}

	tol := pos.SLPrice.Mul(decimal.NewFromFloat(slTolerance))
	diff := last.Sub(pos.SLPrice)
	if pos.Side == "LONG" {
		// A long stops out at or below the stop.
		if diff.LessThanOrEqual(tol) {
			return risk.ResultSL
		}
	} else {
		if diff.GreaterThanOrEqual(tol.Neg()) {
			return risk.ResultSL
		}
	}
	return risk.ResultTP
}

// settle feeds the sentinel, clears the record and notifies.
func (e *Engine) settle(pos *store.Position, result string, price decimal.Decimal, why string) {
	date := e.localDate(e.now())
	locked, err := e.sentinel.RecordClose(pos.UserID, date, result, pos.WindowKey)
	if err != nil {
		log.Error().Err(err).Int64("user", pos.UserID).Msg("❌ Sentinel record failed")
	}
	if err := e.store.DeletePosition(pos.UserID); err != nil {
		log.Error().Err(err).Int64("user", pos.UserID).Msg("❌ Position clear failed")
	}

	msg := fmt.Sprintf("🔔 %s %s closed as %s @ %s (%s)", pos.Pair, pos.Side, result, price, why)
	if locked {
		msg += "\n🚨 Day locked: two stop-losses in distinct windows."
	}
	e.notify(pos.UserID, msg)

	log.Info().
		Int64("user", pos.UserID).
		Str("pair", pos.Pair).
		Str("result", result).
		Bool("locked", locked).
		Msg("📕 Position settled")
}
