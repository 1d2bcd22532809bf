package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/config"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/exchange"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/exec"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/gate"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/risk"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/score"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - State owner and scheduler
// ═══════════════════════════════════════════════════════════════════════════════
//
// One master ticker sweeps every known user. Per-user work is serialized
// with a per-user mutex; a tick that finds the previous one still running
// skips instead of queueing. All mutable per-user runtime state (M5 slot
// de-dup, M30 flip tracking, lock notifications) lives here behind one
// mutex, never in package globals.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier delivers user-visible text. The Telegram bot implements it.
type Notifier interface {
	Notify(userID int64, text string)
}

// Evaluator produces the multi-timeframe evaluation. *score.Scorer
// satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string, now time.Time) (*score.EvalResult, error)
}

// flipState tracks the observed M30 side for the flip-guard.
type flipState struct {
	side    score.Side
	since   time.Time // when this side was first observed
	consec  int       // consecutive M30 bars on this side
	lastBar time.Time // open time of the last counted M30 bar
}

// Engine owns the per-user runtime state and drives the tick loops.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	scorer   Evaluator
	tides    gate.EventSource
	gate     *gate.Gate
	hub      *exec.Hub
	sentinel *risk.Sentinel
	notifier Notifier
	anchor   exchange.Adapter // read-only queries: position, ticker
	mark     *exchange.MarkPriceStream
	loc      *time.Location
	now      func() time.Time

	mu           sync.Mutex
	userMu       map[int64]*sync.Mutex
	lastM5Slot   map[int64]int64
	lockNotified map[int64]string // date the lock notice went out
	flips        map[int64]*flipState
	reportSent   map[string]bool // userID:anchorUnix

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Scorer   Evaluator
	Tides    gate.EventSource
	Gate     *gate.Gate
	Hub      *exec.Hub
	Sentinel *risk.Sentinel
	Notifier Notifier
	Anchor   exchange.Adapter
	Mark     *exchange.MarkPriceStream
	Location *time.Location
}

// New wires an engine.
func New(d Deps) *Engine {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		cfg:          d.Config,
		store:        d.Store,
		scorer:       d.Scorer,
		tides:        d.Tides,
		gate:         d.Gate,
		hub:          d.Hub,
		sentinel:     d.Sentinel,
		notifier:     d.Notifier,
		anchor:       d.Anchor,
		mark:         d.Mark,
		loc:          loc,
		now:          time.Now,
		userMu:       make(map[int64]*sync.Mutex),
		lastM5Slot:   make(map[int64]int64),
		lockNotified: make(map[int64]string),
		flips:        make(map[int64]*flipState),
		reportSent:   make(map[string]bool),
		stopCh:       make(chan struct{}),
	}
}

// SetNotifier wires the user-visible channel after construction; the bot
// needs the engine first, so the cycle is broken here.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Start launches the scheduler, report loop and pending sweeper.
func (e *Engine) Start() {
	e.wg.Add(3)
	go e.schedulerLoop()
	go e.reportLoop()
	go e.pendingSweepLoop()
	log.Info().
		Int("tick_sec", e.cfg.SchedulerTickSec).
		Msg("🚀 Engine started")
}

// Stop halts the loops and waits for in-flight ticks.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	log.Info().Msg("🛑 Engine stopped")
}

func (e *Engine) schedulerLoop() {
	defer e.wg.Done()

	tick := time.Duration(e.cfg.SchedulerTickSec) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sweepUsers()
		}
	}
}

// sweepUsers runs one tick over every known user. A user whose previous
// tick is still running is skipped, not queued.
func (e *Engine) sweepUsers() {
	users, err := e.store.AllUsers()
	if err != nil {
		log.Error().Err(err).Msg("❌ User sweep failed")
		return
	}

	now := e.now()
	for _, u := range users {
		u := u
		mu := e.lockFor(u.UserID)
		if !mu.TryLock() {
			log.Debug().Int64("user", u.UserID).Msg("⏭️ Previous tick still running")
			continue
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer mu.Unlock()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Int64("user", u.UserID).Msg("❌ Tick panicked")
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			e.monitorTick(ctx, u.UserID, now)
			e.decisionTick(ctx, u.UserID, now)
		}()
	}
}

func (e *Engine) lockFor(userID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.userMu[userID] = mu
	}
	return mu
}

// claimM5Slot marks the 5-minute slot as handled for the user and reports
// whether it was fresh. Must be called before any awaitable work.
func (e *Engine) claimM5Slot(userID, slot int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastM5Slot[userID] == slot {
		return false
	}
	e.lastM5Slot[userID] = slot
	return true
}

// lockNoticeDue reports whether the locked-day notice still needs to go
// out for this date, and claims it.
func (e *Engine) lockNoticeDue(userID int64, date string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lockNotified[userID] == date {
		return false
	}
	e.lockNotified[userID] = date
	return true
}

// observeM30 updates the flip tracker with the latest M30 side and bar,
// returning the current state.
func (e *Engine) observeM30(userID int64, side score.Side, barTime time.Time, now time.Time) flipState {
	e.mu.Lock()
	defer e.mu.Unlock()

	fs, ok := e.flips[userID]
	if !ok || fs.side != side {
		fs = &flipState{side: side, since: now, consec: 1, lastBar: barTime}
		e.flips[userID] = fs
		return *fs
	}
	if barTime.After(fs.lastBar) {
		fs.consec++
		fs.lastBar = barTime
	}
	return *fs
}

func (e *Engine) localDate(t time.Time) string {
	return t.In(e.loc).Format("2006-01-02")
}

// userLimits resolves the per-user gate limits, falling back to config.
func (e *Engine) userLimits(u *store.User) gate.Limits {
	cfg := e.cfg.Snapshot()
	lim := gate.Limits{
		WindowHours: cfg.TideWindowHours,
		MaxDay:      cfg.MaxOrdersPerDay,
		MaxTW:       cfg.MaxOrdersPerTideWindow,
		Scope:       gate.ScopeFor(cfg.CounterScope, u.UserID),
	}
	if u.TideWindowHours > 0 {
		lim.WindowHours = u.TideWindowHours
	}
	if u.MaxOrdersPerDay > 0 {
		lim.MaxDay = u.MaxOrdersPerDay
	}
	if u.MaxOrdersPerTW > 0 {
		lim.MaxTW = u.MaxOrdersPerTW
	}
	return lim
}

func (e *Engine) notify(userID int64, text string) {
	if e.notifier != nil {
		e.notifier.Notify(userID, text)
	}
}
