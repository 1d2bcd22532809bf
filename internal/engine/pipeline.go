package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/config"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/exec"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/gate"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/score"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/tide"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION PIPELINE - Per-user, per-tick gate and execute path
// ═══════════════════════════════════════════════════════════════════════════════
//
// Runs once per accepted 5-minute close: settings → sentinel lock → slot
// de-dup → scorer → tide context → M30 flip-guard → M5 match → M5 gate →
// spacing/second-entry → mode routing. Every skip carries a single-line
// tag; side effects (counter bump, position record, broadcast) happen only
// after the hub reports a real open.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Decision skip tags.
const (
	SkipAutoOff            = "auto_off"
	SkipNotM5Close         = "not_m5_close"
	SkipBadReport          = "bad_report"
	SkipNoSignal           = "no_signal"
	SkipM30WaitPostCenter  = "m30_wait_post_center"
	SkipM30NeedStableSec   = "m30_need_stable_sec"
	SkipM30NeedConsecN     = "m30_need_consec_n"
	SkipDesiredVsM30       = "desired_vs_m30_mismatch"
	SkipM5GateFail         = "m5_gate_fail"
	SkipM5GapGuard         = "m5_gap_guard"
	SkipSecondEntryOff     = "second_entry_disabled"
	SkipSecondEntryRetrace = "second_entry_need_retrace"
	SkipReportSkip         = "report_skip"
	SkipLockedToday        = "locked_today"
)

// Mode values on the user record.
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
	ModeOff    = "off"
)

const m5Slot = 5 * time.Minute

// decisionTick runs pipeline (A) for one user at now.
func (e *Engine) decisionTick(ctx context.Context, userID int64, now time.Time) {
	user, err := e.store.GetUser(userID, e.defaultUser())
	if err != nil {
		log.Error().Err(err).Int64("user", userID).Msg("❌ User load failed")
		return
	}
	e.rollDay(user, now)

	cfg := e.cfg.Snapshot()

	// Step 1: mode.
	if user.Mode == ModeOff || user.Mode == "" {
		e.skip(userID, SkipAutoOff, "")
		return
	}

	// Step 2: sentinel lock.
	date := e.localDate(now)
	locked, err := e.sentinel.IsLocked(userID, date)
	if err != nil {
		log.Error().Err(err).Int64("user", userID).Msg("❌ Sentinel read failed")
		return
	}
	if locked {
		e.skip(userID, SkipLockedToday, date)
		if e.lockNoticeDue(userID, date) {
			e.notify(userID, fmt.Sprintf("🚨 Trading locked for %s after two stop-losses. /unlock to clear.", date))
		}
		return
	}

	// Step 3: M5 close acceptance and slot de-dup. The slot is claimed
	// before any awaitable work so a re-entrant tick is a no-op.
	slotStart := now.Truncate(m5Slot)
	delay := now.Sub(slotStart)
	if delay > time.Duration(cfg.M5MaxDelaySec)*time.Second {
		e.skip(userID, SkipNotM5Close, fmt.Sprintf("delay %ds", int(delay.Seconds())))
		return
	}
	if !e.claimM5Slot(userID, slotStart.Unix()) {
		return
	}

	// Step 4: scorer.
	res, err := e.scorer.Evaluate(ctx, user.Pair, now)
	if err != nil {
		e.skip(userID, SkipBadReport, err.Error())
		return
	}
	if res.Skip {
		e.skip(userID, res.Reason, res.Detail)
		if user.M5ReportOn && res.Text != "" {
			e.notify(userID, fmt.Sprintf("⏭️ %s\n%s", res.Reason, res.Text))
		}
		return
	}
	desired := res.Signal

	// Step 5: tide context. τ and the late band are display-only here;
	// blocking belongs to the tide gate.
	var tau float64
	var event tide.Event
	haveTide := false
	if ev, err := e.tides.NearestEvent(ctx, now); err == nil {
		event = ev
		tau = tide.Tau(now, ev.Center)
		haveTide = true
	}

	// Step 6: M30 flip-guard.
	if cfg.M30FlipGuard {
		barTime := now.Truncate(30 * time.Minute)
		fs := e.observeM30(userID, res.M30.Side, barTime, now)
		if haveTide {
			// Past the center the pre-center hold does not count: stability
			// is measured from the center or the flip, whichever is later.
			sinceRef := fs.since
			if tau >= 0 && event.Center.After(sinceRef) {
				sinceRef = event.Center
			}
			stable := int(now.Sub(sinceRef).Seconds())
			if tau < 0 && stable < cfg.M30StableMinSec {
				e.skip(userID, SkipM30WaitPostCenter, fmt.Sprintf("tau %.2fh", tau))
				return
			}
			if tau >= 0 && stable < cfg.M30StableMinSec {
				e.skip(userID, SkipM30NeedStableSec, fmt.Sprintf("%d/%ds", stable, cfg.M30StableMinSec))
				return
			}
		}
		if cfg.M30NeedConsecN > 0 && fs.consec < cfg.M30NeedConsecN {
			e.skip(userID, SkipM30NeedConsecN, fmt.Sprintf("%d/%d bars", fs.consec, cfg.M30NeedConsecN))
			return
		}
	}

	// Step 7: desired must match M30 when enforced.
	if cfg.EnforceM5MatchM30 && res.M30.Side.Directional() && desired != res.M30.Side {
		e.skip(userID, SkipDesiredVsM30, fmt.Sprintf("desired %s m30 %s", desired, res.M30.Side))
		return
	}

	// Step 8: M5 gate.
	gateRes := score.M5Gate(res.M5Candles, desired, &cfg)
	if !gateRes.Pass {
		e.skip(userID, SkipM5GateFail, gateRes.Detail)
		return
	}

	// Step 9: spacing and second entry.
	windowID := ""
	if haveTide {
		windowID = event.WindowID(e.loc)
	}
	if tag, detail := e.spacingGuard(user, res, windowID, now, &cfg); tag != "" {
		e.skip(userID, tag, detail)
		return
	}

	// Mode routing.
	if user.Mode == ModeManual {
		e.createPending(ctx, user, res, tau, windowID)
		return
	}
	e.executeAuto(ctx, user, res, event, haveTide, now)
}

// spacingGuard applies the M5 cooldown and the same-window second-entry
// retrace rule. Empty tag means pass.
func (e *Engine) spacingGuard(user *store.User, res *score.EvalResult, windowID string, now time.Time, cfg *config.Config) (string, string) {
	if user.LastEntryAt == nil {
		return "", ""
	}

	sameWindow := windowID != "" && user.LastEntryWindow == windowID

	elapsed := now.Sub(*user.LastEntryAt)
	gapScope := !cfg.M5GapScopedToWindow || sameWindow
	if gapScope && elapsed < time.Duration(cfg.M5MinGapMin)*time.Minute {
		return SkipM5GapGuard, fmt.Sprintf("%dm/%dm", int(elapsed.Minutes()), cfg.M5MinGapMin)
	}

	if sameWindow {
		if !cfg.AllowSecondEntry {
			return SkipSecondEntryOff, windowID
		}
		prev := user.LastEntryPrice.InexactFloat64()
		if prev > 0 {
			// Only an adverse move counts as retrace: LONG needs a lower
			// close than the previous entry, SHORT a higher one.
			retrace := (prev - res.M5.Close) / prev * 100
			if res.Signal == score.Short {
				retrace = -retrace
			}
			if retrace < cfg.M5SecondEntryMinRetracePct {
				return SkipSecondEntryRetrace, fmt.Sprintf("%.3f%%/%.3f%%", retrace, cfg.M5SecondEntryMinRetracePct)
			}
		}
	}
	return "", ""
}

// executeAuto runs T → B → bump → C for an accepted auto-mode signal.
func (e *Engine) executeAuto(ctx context.Context, user *store.User, res *score.EvalResult, event tide.Event, haveTide bool, now time.Time) {
	lim := e.userLimits(user)
	dec, err := e.gate.Check(ctx, now, lim)
	if err != nil {
		log.Error().Err(err).Int64("user", user.UserID).Msg("❌ Tide gate errored")
		return
	}
	if !dec.Allowed {
		e.skip(user.UserID, strings.ToLower(dec.Code), dec.WindowID)
		return
	}

	hubRes, err := e.hub.Execute(ctx, exec.Request{
		Symbol:      user.Pair,
		Side:        string(res.Signal),
		RiskPercent: user.RiskPercent,
		Leverage:    user.Leverage,
	})
	if err != nil {
		log.Error().Err(err).Int64("user", user.UserID).Msg("❌ Execute failed before any account")
		return
	}
	if !hubRes.OpenedReal {
		e.notify(user.UserID, "❌ Entry failed on every account:\n"+perAccountLines(hubRes))
		return
	}

	if err := e.gate.BumpAfterExecute(ctx, dec); err != nil {
		log.Error().Err(err).Int64("user", user.UserID).Msg("❌ Counter bump failed")
	}

	e.recordEntry(user, res, hubRes, dec, event, haveTide, now)
	e.notify(user.UserID, e.broadcastText(user, res, hubRes, dec, haveTide, event))
}

// recordEntry persists the open position and the user's last-entry meta.
func (e *Engine) recordEntry(user *store.User, res *score.EvalResult, hubRes exec.Result, dec gate.Decision, event tide.Event, haveTide bool, now time.Time) {
	cfg := e.cfg.Snapshot()

	base := now
	var center *time.Time
	if haveTide {
		c := event.Center
		center = &c
		base = c
	}
	deadline := base.Add(time.Duration(cfg.TPTimeHours * float64(time.Hour)))

	qty := decimal.Zero
	accounts := make([]string, 0, len(hubRes.PerAccount))
	for _, ar := range hubRes.PerAccount {
		if ar.Opened {
			qty = qty.Add(ar.Qty)
			accounts = append(accounts, ar.Account)
		}
	}

	pos := &store.Position{
		UserID:     user.UserID,
		Pair:       user.Pair,
		Side:       string(res.Signal),
		Qty:        qty,
		EntryPrice: hubRes.Entry,
		EntryTime:  now,
		TideCenter: center,
		TPDeadline: deadline,
		SLPrice:    hubRes.SL,
		Simulation: cfg.DryRun,
		WindowKey:  dec.WindowID,
		Accounts:   `["` + strings.Join(accounts, `","`) + `"]`,
	}
	if err := e.store.SavePosition(pos); err != nil {
		log.Error().Err(err).Int64("user", user.UserID).Msg("❌ Position save failed")
	}

	user.TodayCount++
	user.LastEntryPrice = hubRes.Entry
	entryAt := now
	user.LastEntryAt = &entryAt
	user.LastEntryWindow = dec.WindowID
	if err := e.store.SaveUser(user); err != nil {
		log.Error().Err(err).Int64("user", user.UserID).Msg("❌ User meta save failed")
	}
}

// broadcastText is the (C) confirmation payload.
func (e *Engine) broadcastText(user *store.User, res *score.EvalResult, hubRes exec.Result, dec gate.Decision, haveTide bool, event tide.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s %s x%d\n", user.Pair, res.Signal, user.Leverage)
	fmt.Fprintf(&b, "Entry %s  SL %s  TP %s\n", hubRes.Entry, hubRes.SL, hubRes.TP)
	if haveTide {
		fmt.Fprintf(&b, "Window %s  τ %+.2fh\n", dec.WindowID, dec.Tau)
	}
	fmt.Fprintf(&b, "Quota day %d/%d  window %d/%d\n", dec.DayCount+1, dec.MaxDay, dec.TWCount+1, dec.MaxTW)
	if hubRes.SingleIgnored {
		b.WriteString("single_ignored_because_multi_opened\n")
	}
	b.WriteString(perAccountLines(hubRes))
	b.WriteString("\n")
	b.WriteString(res.Text)
	return b.String()
}

func perAccountLines(hubRes exec.Result) string {
	lines := make([]string, 0, len(hubRes.PerAccount))
	for _, ar := range hubRes.PerAccount {
		if ar.Opened {
			lines = append(lines, fmt.Sprintf("  %s: opened qty %s (id %s)", ar.Account, ar.Qty, ar.EntryID))
		} else {
			lines = append(lines, fmt.Sprintf("  %s: failed (%s)", ar.Account, ar.Err))
		}
	}
	return strings.Join(lines, "\n")
}

// rollDay resets the daily bookkeeping at local date rollover.
func (e *Engine) rollDay(user *store.User, now time.Time) {
	date := e.localDate(now)
	if user.TodayDate == date {
		return
	}
	user.TodayDate = date
	user.TodayCount = 0
	if err := e.store.SaveUser(user); err != nil {
		log.Error().Err(err).Int64("user", user.UserID).Msg("❌ Day rollover save failed")
	}
}

func (e *Engine) defaultUser() store.User {
	cfg := e.cfg.Snapshot()
	return store.User{
		Pair:        cfg.DefaultPair,
		RiskPercent: cfg.DefaultRiskPercent,
		Leverage:    cfg.DefaultLeverage,
		Balance:     cfg.DefaultBalance,
		Mode:        ModeAuto,
	}
}

func (e *Engine) skip(userID int64, tag, detail string) {
	log.Info().
		Int64("user", userID).
		Str("tag", tag).
		Str("detail", detail).
		Msg("⏭️ Decision skip")
}
