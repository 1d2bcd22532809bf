package risk

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK SENTINEL - Stop-loss streak day lock
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two consecutive stop-losses in distinct tide windows on the same local
// date lock the user out for the rest of that date. Any non-SL close
// resets the streak. State is keyed by (user, date) so the rollover reset
// is implicit. /unlock clears the lock and the streak.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Close result classifications.
const (
	ResultSL     = "SL"
	ResultTP     = "TP"
	ResultManual = "MANUAL"
)

// Sentinel tracks per-user, per-day stop-loss streaks.
type Sentinel struct {
	mu       sync.Mutex
	store    *store.Store
	autoLock bool
}

// New builds a sentinel. autoLock gates whether two stop-losses actually
// lock the day.
func New(s *store.Store, autoLock bool) *Sentinel {
	return &Sentinel{store: s, autoLock: autoLock}
}

// IsLocked reports whether the user's local date is locked.
func (s *Sentinel) IsLocked(userID int64, date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, err := s.store.GetSentinelDay(userID, date)
	if err != nil {
		return false, err
	}
	return day.Locked, nil
}

// RecordClose classifies one position close into the day state. windowKey
// is the tide window the position was opened in; a second stop-loss only
// counts when its window differs from the first.
func (s *Sentinel) RecordClose(userID int64, date, result, windowKey string) (locked bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, err := s.store.GetSentinelDay(userID, date)
	if err != nil {
		return false, err
	}

	if result == ResultSL {
		// A streak only builds across distinct windows: a repeated stop in
		// the same window restarts at 1.
		if day.LastResult == ResultSL && day.LastWindowKey != windowKey {
			day.SLStreak++
		} else {
			day.SLStreak = 1
		}
		if s.autoLock && day.SLStreak >= 2 && !day.Locked {
			day.Locked = true
			log.Warn().
				Int64("user", userID).
				Str("date", date).
				Int("streak", day.SLStreak).
				Msg("🚨 Day locked after repeated stop-loss")
		}
	} else {
		day.SLStreak = 0
	}

	day.LastResult = result
	day.LastWindowKey = windowKey
	if err := s.store.SaveSentinelDay(day); err != nil {
		return false, err
	}
	return day.Locked, nil
}

// Unlock clears the lock and the streak for the user's date.
func (s *Sentinel) Unlock(userID int64, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, err := s.store.GetSentinelDay(userID, date)
	if err != nil {
		return err
	}
	day.Locked = false
	day.SLStreak = 0
	if err := s.store.SaveSentinelDay(day); err != nil {
		return err
	}
	log.Info().Int64("user", userID).Str("date", date).Msg("🔓 Day lock cleared")
	return nil
}

// Streak returns the current stop-loss streak, for /status.
func (s *Sentinel) Streak(userID int64, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, err := s.store.GetSentinelDay(userID, date)
	if err != nil {
		return 0, err
	}
	return day.SLStreak, nil
}
