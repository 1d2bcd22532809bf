package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COUNTER STORE - Per-day and per-window entry quotas
// ═══════════════════════════════════════════════════════════════════════════════
//
// Keys follow DAY:<scope>:<localDate> and TW:<scope>:<windowId>. The redis
// backend gives atomic increments when several controller instances share a
// global scope; the gorm backend is fine for a single process; the memory
// backend is for tests.
//
// ═══════════════════════════════════════════════════════════════════════════════

// CounterStore reads and bumps quota counters. Incr returns the value after
// the increment.
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// DayKey builds the daily counter key.
func DayKey(scope, localDate string) string {
	return fmt.Sprintf("DAY:%s:%s", scope, localDate)
}

// WindowKey builds the per-tide-window counter key.
func WindowKey(scope, windowID string) string {
	return fmt.Sprintf("TW:%s:%s", scope, windowID)
}

// Redis backend

// RedisCounters is the redis-backed counter store.
type RedisCounters struct {
	client *redis.Client
}

// NewRedisCounters connects to redis and pings it once.
func NewRedisCounters(ctx context.Context, url string) (*RedisCounters, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("🔗 Redis connected for counters")
	return &RedisCounters{client: client}, nil
}

func (r *RedisCounters) Get(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (r *RedisCounters) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// Close releases the redis connection.
func (r *RedisCounters) Close() error {
	return r.client.Close()
}

// Gorm backend

// GormCounters persists counters in the main database.
type GormCounters struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewGormCounters wraps the store's database as a counter backend.
func NewGormCounters(s *Store) *GormCounters {
	return &GormCounters{db: s.db}
}

func (g *GormCounters) Get(ctx context.Context, key string) (int64, error) {
	var c Counter
	err := g.db.WithContext(ctx).First(&c, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Value, nil
}

func (g *GormCounters) Incr(ctx context.Context, key string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"value": gorm.Expr("value + 1")}),
	}).Create(&Counter{Key: key, Value: 1}).Error
	if err != nil {
		return 0, err
	}
	return g.Get(ctx, key)
}

// Memory backend

// MemCounters is an in-memory counter store for tests.
type MemCounters struct {
	mu sync.Mutex
	m  map[string]int64
}

// NewMemCounters builds an empty in-memory counter store.
func NewMemCounters() *MemCounters {
	return &MemCounters{m: make(map[string]int64)}
}

func (m *MemCounters) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[key], nil
}

func (m *MemCounters) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key]++
	return m.m[key], nil
}
