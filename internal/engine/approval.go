package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/exec"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/score"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MANUAL APPROVAL FLOW
// ═══════════════════════════════════════════════════════════════════════════════
//
// In manual mode an accepted signal becomes a pending with a short id
// instead of executing. Approval re-runs the tide gate against the current
// clock: the window may have drifted away since the signal fired, in which
// case the pending expires instead of executing. A sweeper auto-rejects
// pendings older than the TTL.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Pending statuses.
const (
	StatusPending     = "PENDING"
	StatusApproved    = "APPROVED"
	StatusRejected    = "REJECTED"
	StatusExpiredTide = "EXPIRED_TIDE"
)

// pendingPayload is the frozen signal snapshot carried by a pending.
type pendingPayload struct {
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Confidence  int             `json:"confidence"`
	SuggestedSL decimal.Decimal `json:"suggested_sl"`
	SuggestedTP decimal.Decimal `json:"suggested_tp"`
	RiskPercent decimal.Decimal `json:"risk_percent"`
	Leverage    int             `json:"leverage"`
	WindowID    string          `json:"window_id"`
	Tau         float64         `json:"tau"`
	Text        string          `json:"text"`
}

// createPending records the signal for later approval. At most one open
// pending per user; a duplicate signal is dropped.
func (e *Engine) createPending(ctx context.Context, user *store.User, res *score.EvalResult, tau float64, windowID string) {
	existing, err := e.store.OpenPendingFor(user.UserID)
	if err != nil {
		log.Error().Err(err).Int64("user", user.UserID).Msg("❌ Pending lookup failed")
		return
	}
	if existing != nil {
		log.Debug().Int64("user", user.UserID).Str("pid", existing.PID).Msg("⏭️ Pending already open")
		return
	}

	payload := pendingPayload{
		Symbol:      user.Pair,
		Side:        string(res.Signal),
		Confidence:  res.Confidence,
		RiskPercent: user.RiskPercent,
		Leverage:    user.Leverage,
		WindowID:    windowID,
		Tau:         tau,
		Text:        res.Text,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("❌ Pending payload marshal failed")
		return
	}

	pid := uuid.NewString()[:8]
	p := &store.Pending{
		PID:       pid,
		UserID:    user.UserID,
		Status:    StatusPending,
		Payload:   string(raw),
		CreatedAt: e.now(),
	}
	if err := e.store.SavePending(p); err != nil {
		log.Error().Err(err).Int64("user", user.UserID).Msg("❌ Pending save failed")
		return
	}

	e.notify(user.UserID, fmt.Sprintf(
		"📋 Signal awaiting approval: %s %s (conf %d)\n%s\n/approve %s or /reject %s",
		payload.Symbol, payload.Side, payload.Confidence, payload.Text, pid, pid))
	log.Info().Int64("user", user.UserID).Str("pid", pid).Str("side", payload.Side).Msg("📋 Pending created")
}

// Approve resolves a pending: the tide gate runs again at the current
// clock, and only a pass executes.
func (e *Engine) Approve(ctx context.Context, userID int64, pid string) (string, error) {
	p, err := e.store.GetPending(pid)
	if err != nil {
		return "", err
	}
	if p == nil || p.UserID != userID {
		return "", fmt.Errorf("unknown pid %s", pid)
	}
	if p.Status != StatusPending {
		return "", fmt.Errorf("pid %s already %s", pid, p.Status)
	}

	var payload pendingPayload
	if err := json.Unmarshal([]byte(p.Payload), &payload); err != nil {
		return "", fmt.Errorf("pending payload: %w", err)
	}

	user, err := e.store.GetUser(userID, e.defaultUser())
	if err != nil {
		return "", err
	}

	now := e.now()
	dec, err := e.gate.Check(ctx, now, e.userLimits(user))
	if err != nil {
		return "", err
	}
	if !dec.Allowed {
		p.Status = StatusExpiredTide
		if err := e.store.SavePending(p); err != nil {
			log.Error().Err(err).Str("pid", pid).Msg("❌ Pending update failed")
		}
		log.Info().Str("pid", pid).Str("code", dec.Code).Msg("⌛ Pending expired at approval")
		return fmt.Sprintf("⌛ Pending %s expired: %s", pid, dec.Code), nil
	}

	hubRes, err := e.hub.Execute(ctx, exec.Request{
		Symbol:      payload.Symbol,
		Side:        payload.Side,
		RiskPercent: payload.RiskPercent,
		Leverage:    payload.Leverage,
	})
	if err != nil {
		return "", err
	}
	if !hubRes.OpenedReal {
		return "❌ Entry failed on every account:\n" + perAccountLines(hubRes), nil
	}

	if err := e.gate.BumpAfterExecute(ctx, dec); err != nil {
		log.Error().Err(err).Str("pid", pid).Msg("❌ Counter bump failed")
	}

	p.Status = StatusApproved
	if err := e.store.SavePending(p); err != nil {
		log.Error().Err(err).Str("pid", pid).Msg("❌ Pending update failed")
	}

	// Rebuild an eval shell so the shared bookkeeping path applies.
	res := &score.EvalResult{Signal: score.Side(payload.Side), Confidence: payload.Confidence, Text: payload.Text}
	e.recordEntry(user, res, hubRes, dec, dec.Event, dec.WindowID != "", now)

	return e.broadcastText(user, res, hubRes, dec, dec.WindowID != "", dec.Event), nil
}

// Reject marks a pending rejected.
func (e *Engine) Reject(userID int64, pid string) error {
	p, err := e.store.GetPending(pid)
	if err != nil {
		return err
	}
	if p == nil || p.UserID != userID {
		return fmt.Errorf("unknown pid %s", pid)
	}
	if p.Status != StatusPending {
		return fmt.Errorf("pid %s already %s", pid, p.Status)
	}
	p.Status = StatusRejected
	if err := e.store.SavePending(p); err != nil {
		return err
	}
	log.Info().Str("pid", pid).Msg("🗑️ Pending rejected")
	return nil
}

// pendingSweepLoop auto-rejects pendings older than the TTL.
func (e *Engine) pendingSweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sweepPendings()
		}
	}
}

func (e *Engine) sweepPendings() {
	cfg := e.cfg.Snapshot()
	cutoff := e.now().Add(-time.Duration(cfg.MaxPendingMinutes) * time.Minute)
	stale, err := e.store.StalePendings(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("❌ Pending sweep failed")
		return
	}
	for _, p := range stale {
		p := p
		p.Status = StatusRejected
		if err := e.store.SavePending(&p); err != nil {
			log.Error().Err(err).Str("pid", p.PID).Msg("❌ Pending expiry save failed")
			continue
		}
		e.notify(p.UserID, fmt.Sprintf("⌛ Pending %s auto-rejected after %d minutes", p.PID, cfg.MaxPendingMinutes))
	}
}
