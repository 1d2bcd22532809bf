package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCHEDULED REPORTS - Nine anchors around each tide center
// ═══════════════════════════════════════════════════════════════════════════════
//
// An independent loop posts the H4/M30 evaluation at center ± k·30min,
// k ∈ −4..+4, within a grace tolerance of each anchor. One report per
// (user, anchor).
//
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) reportLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.reportTick()
		}
	}
}

func (e *Engine) reportTick() {
	now := e.now()
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	event, err := e.tides.NearestEvent(ctx, now)
	if err != nil {
		return
	}

	anchor, ok := dueAnchor(event.Center, now, time.Duration(e.cfg.Snapshot().M30SlotGraceSec)*time.Second)
	if !ok {
		return
	}

	users, err := e.store.AllUsers()
	if err != nil {
		log.Error().Err(err).Msg("❌ Report sweep failed")
		return
	}

	for _, u := range users {
		if u.Mode == ModeOff || u.Mode == "" {
			continue
		}
		key := fmt.Sprintf("%d:%d", u.UserID, anchor.Unix())
		if !e.claimReport(key) {
			continue
		}

		res, err := e.scorer.Evaluate(ctx, u.Pair, now)
		if err != nil || res.Text == "" {
			continue
		}
		offset := anchor.Sub(event.Center).Minutes()
		e.notify(u.UserID, fmt.Sprintf("🗒️ Window report (center %+.0fmin, %s)\n%s",
			offset, event.WindowID(e.loc), res.Text))
	}
}

// dueAnchor finds the anchor whose grace band contains now, if any.
// Anchors sit at center + k·30min for k in −4..+4.
func dueAnchor(center, now time.Time, grace time.Duration) (time.Time, bool) {
	for k := -4; k <= 4; k++ {
		anchor := center.Add(time.Duration(k) * 30 * time.Minute)
		since := now.Sub(anchor)
		if since >= 0 && since <= grace {
			return anchor, true
		}
	}
	return time.Time{}, false
}

func (e *Engine) claimReport(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reportSent[key] {
		return false
	}
	e.reportSent[key] = true
	// The sent-set only ever grows within a window; trim when it gets
	// silly so a long-running process does not leak.
	if len(e.reportSent) > 4096 {
		e.reportSent = map[string]bool{key: true}
	}
	return true
}
