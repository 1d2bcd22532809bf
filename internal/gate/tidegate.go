package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/config"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/tide"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TIDE GATE - Timing and quota admission
// ═══════════════════════════════════════════════════════════════════════════════
//
// Admission runs in order: tide data present, inside the window around the
// nearest extreme, inside the late band when configured, daily quota, and
// per-window quota. The first failing check decides the code. Counters are
// bumped separately, only after a real position actually opened.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Block codes, in check order.
const (
	CodeNoTideData      = "NO_TIDE_DATA"
	CodeOutOfWindowHigh = "OUT_OF_TIDE_WINDOW_HIGH"
	CodeOutOfWindowLow  = "OUT_OF_TIDE_WINDOW_LOW"
	CodeOutOfLateBand   = "OUT_OF_LATE_BAND"
	CodeMaxOrdersDay    = "MAX_ORDERS_PER_DAY_REACHED"
	CodeMaxOrdersTW     = "MAX_ORDERS_PER_TW_REACHED"
)

// EventSource supplies the nearest tide extreme.
type EventSource interface {
	NearestEvent(ctx context.Context, now time.Time) (tide.Event, error)
}

// Limits are the per-check quota inputs. User settings override the global
// config, so the caller resolves them before asking.
type Limits struct {
	WindowHours float64 // half-width: the window is center ± WindowHours
	MaxDay      int
	MaxTW       int
	Scope       string // counter scope segment: user id or "global"
}

// Decision is the gate verdict plus everything the pipeline and broadcast
// need to explain it.
type Decision struct {
	Allowed  bool
	Code     string // empty when allowed
	Event    tide.Event
	Tau      float64 // hours from center, negative before
	WindowID string
	DayKey   string
	TWKey    string
	DayCount int64
	TWCount  int64
	MaxDay   int
	MaxTW    int
}

// Gate is the tide-window and quota admission check.
type Gate struct {
	events   EventSource
	counters store.CounterStore
	cfg      *config.Config
	loc      *time.Location
}

// New builds a gate. loc fixes the local date for daily counters and
// window ids.
func New(events EventSource, counters store.CounterStore, cfg *config.Config, loc *time.Location) *Gate {
	return &Gate{events: events, counters: counters, cfg: cfg, loc: loc}
}

// Check runs the admission sequence at now. The config is snapshotted so
// /env overrides mid-check cannot tear the read.
func (g *Gate) Check(ctx context.Context, now time.Time, lim Limits) (Decision, error) {
	cfg := g.cfg.Snapshot()
	dec := Decision{MaxDay: lim.MaxDay, MaxTW: lim.MaxTW}

	event, err := g.events.NearestEvent(ctx, now)
	if err != nil {
		if errors.Is(err, tide.ErrNoTideData) {
			dec.Code = CodeNoTideData
			return dec, nil
		}
		// Provider failure means we cannot prove we are inside a window.
		log.Warn().Err(err).Msg("🌊 Tide provider failed, blocking entry")
		dec.Code = CodeNoTideData
		return dec, nil
	}

	dec.Event = event
	dec.Tau = tide.Tau(now, event.Center)
	dec.WindowID = event.WindowID(g.loc)

	if !tide.InWindow(now, event.Center, lim.WindowHours) {
		if event.Type == tide.High {
			dec.Code = CodeOutOfWindowHigh
		} else {
			dec.Code = CodeOutOfWindowLow
		}
		return dec, nil
	}

	if cfg.EntryLateOnly && !tide.InLateBand(now, event.Center, cfg.EntryLateFrom, cfg.EntryLateTo) {
		dec.Code = CodeOutOfLateBand
		return dec, nil
	}

	localDate := now.In(g.loc).Format("2006-01-02")
	dec.DayKey = store.DayKey(lim.Scope, localDate)
	dec.TWKey = store.WindowKey(lim.Scope, dec.WindowID)

	dec.DayCount, err = g.counters.Get(ctx, dec.DayKey)
	if err != nil {
		return dec, fmt.Errorf("day counter: %w", err)
	}
	if dec.DayCount >= int64(lim.MaxDay) {
		dec.Code = CodeMaxOrdersDay
		return dec, nil
	}

	dec.TWCount, err = g.counters.Get(ctx, dec.TWKey)
	if err != nil {
		return dec, fmt.Errorf("window counter: %w", err)
	}
	if dec.TWCount >= int64(lim.MaxTW) {
		dec.Code = CodeMaxOrdersTW
		return dec, nil
	}

	dec.Allowed = true
	return dec, nil
}

// BumpAfterExecute increments both counters for an entry that really
// opened. Call it once per opened entry, never on skips or failed orders.
func (g *Gate) BumpAfterExecute(ctx context.Context, dec Decision) error {
	day, err := g.counters.Incr(ctx, dec.DayKey)
	if err != nil {
		return fmt.Errorf("bump day counter: %w", err)
	}
	tw, err := g.counters.Incr(ctx, dec.TWKey)
	if err != nil {
		return fmt.Errorf("bump window counter: %w", err)
	}
	log.Info().
		Str("window", dec.WindowID).
		Int64("day", day).
		Int64("tw", tw).
		Msg("🎫 Quota consumed")
	return nil
}

// ScopeFor resolves the counter scope segment for a user under the
// configured scope mode.
func ScopeFor(counterScope string, userID int64) string {
	if counterScope == "global" {
		return "global"
	}
	return fmt.Sprintf("%d", userID)
}
