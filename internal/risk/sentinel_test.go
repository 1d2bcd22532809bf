package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
)

func newTestSentinel(t *testing.T) *Sentinel {
	t.Helper()
	st, err := store.NewMemory()
	require.NoError(t, err)
	return New(st, true)
}

func TestTwoSLsInDistinctWindowsLock(t *testing.T) {
	s := newTestSentinel(t)

	locked, err := s.RecordClose(1, "2025-01-01", ResultSL, "w1")
	require.NoError(t, err)
	assert.False(t, locked)

	locked, err = s.RecordClose(1, "2025-01-01", ResultSL, "w2")
	require.NoError(t, err)
	assert.True(t, locked)

	isLocked, err := s.IsLocked(1, "2025-01-01")
	require.NoError(t, err)
	assert.True(t, isLocked)
}

func TestRepeatedSLSameWindowRestartsStreak(t *testing.T) {
	s := newTestSentinel(t)

	_, err := s.RecordClose(1, "2025-01-01", ResultSL, "w1")
	require.NoError(t, err)
	locked, err := s.RecordClose(1, "2025-01-01", ResultSL, "w1")
	require.NoError(t, err)
	assert.False(t, locked)

	streak, err := s.Streak(1, "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, streak)
}

func TestNonSLCloseResetsStreak(t *testing.T) {
	s := newTestSentinel(t)

	_, err := s.RecordClose(1, "2025-01-01", ResultSL, "w1")
	require.NoError(t, err)
	_, err = s.RecordClose(1, "2025-01-01", ResultTP, "w2")
	require.NoError(t, err)

	// The next SL starts a fresh streak, so no lock.
	locked, err := s.RecordClose(1, "2025-01-01", ResultSL, "w3")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestManualCloseResetsStreakToo(t *testing.T) {
	s := newTestSentinel(t)

	_, err := s.RecordClose(1, "2025-01-01", ResultSL, "w1")
	require.NoError(t, err)
	_, err = s.RecordClose(1, "2025-01-01", ResultManual, "w2")
	require.NoError(t, err)

	streak, err := s.Streak(1, "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, streak)
}

func TestDateRolloverResetsState(t *testing.T) {
	s := newTestSentinel(t)

	_, err := s.RecordClose(1, "2025-01-01", ResultSL, "w1")
	require.NoError(t, err)
	locked, err := s.RecordClose(1, "2025-01-01", ResultSL, "w2")
	require.NoError(t, err)
	require.True(t, locked)

	// A new date starts clean.
	isLocked, err := s.IsLocked(1, "2025-01-02")
	require.NoError(t, err)
	assert.False(t, isLocked)

	locked, err = s.RecordClose(1, "2025-01-02", ResultSL, "w3")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestUnlockClearsLockAndStreak(t *testing.T) {
	s := newTestSentinel(t)

	_, err := s.RecordClose(1, "2025-01-01", ResultSL, "w1")
	require.NoError(t, err)
	locked, err := s.RecordClose(1, "2025-01-01", ResultSL, "w2")
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, s.Unlock(1, "2025-01-01"))

	isLocked, err := s.IsLocked(1, "2025-01-01")
	require.NoError(t, err)
	assert.False(t, isLocked)
	streak, err := s.Streak(1, "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, streak)
}

func TestAutoLockDisabled(t *testing.T) {
	st, err := store.NewMemory()
	require.NoError(t, err)
	s := New(st, false)

	_, err = s.RecordClose(1, "2025-01-01", ResultSL, "w1")
	require.NoError(t, err)
	locked, err := s.RecordClose(1, "2025-01-01", ResultSL, "w2")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestUsersAreIsolated(t *testing.T) {
	s := newTestSentinel(t)

	_, err := s.RecordClose(1, "2025-01-01", ResultSL, "w1")
	require.NoError(t, err)
	_, err = s.RecordClose(1, "2025-01-01", ResultSL, "w2")
	require.NoError(t, err)

	isLocked, err := s.IsLocked(2, "2025-01-01")
	require.NoError(t, err)
	assert.False(t, isLocked)
}
