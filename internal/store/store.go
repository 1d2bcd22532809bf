package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the persistence layer for user state, open positions, sentinel
// day records and manual pendings. Counters live in CounterStore.
type Store struct {
	db *gorm.DB
}

var memSeq atomic.Int64

// Models

// User holds one user's settings plus the daily bookkeeping the pipeline
// mutates. TodayDate/TodayCount roll at local date rollover.
type User struct {
	UserID int64 `gorm:"primaryKey"`

	Pair            string
	RiskPercent     decimal.Decimal `gorm:"type:decimal(10,4)"`
	Leverage        int
	Mode            string // auto | manual
	Balance         decimal.Decimal `gorm:"type:decimal(20,8)"`
	TideWindowHours float64
	MaxOrdersPerDay int
	MaxOrdersPerTW  int
	M5ReportOn      bool

	TodayDate  string
	TodayCount int

	LastEntryPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	LastEntryAt     *time.Time
	LastEntryWindow string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Position is the single open position per user.
type Position struct {
	UserID int64 `gorm:"primaryKey"`

	Pair       string
	Side       string // LONG | SHORT
	Qty        decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryPrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryTime  time.Time
	TideCenter *time.Time
	TPDeadline time.Time
	SLPrice    decimal.Decimal `gorm:"type:decimal(20,8)"`
	Simulation bool
	WindowKey  string
	Accounts   string // JSON array of account names that opened

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SentinelDay is the risk-sentinel state for one (user, local date).
type SentinelDay struct {
	ID int64 `gorm:"primaryKey;autoIncrement"`

	UserID        int64  `gorm:"index:idx_sentinel_user_date,unique"`
	Date          string `gorm:"index:idx_sentinel_user_date,unique"`
	SLStreak      int
	LastResult    string // SL | TP | MANUAL | ""
	LastWindowKey string
	Locked        bool
	LastUpdate    time.Time
}

// Pending is a manual-mode signal awaiting approval.
type Pending struct {
	PID       string `gorm:"primaryKey"`
	UserID    int64  `gorm:"index"`
	Status    string // PENDING | APPROVED | REJECTED | EXPIRED_TIDE
	Payload   string // JSON snapshot of the signal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Counter backs the gorm counter store when redis is not configured.
type Counter struct {
	Key   string `gorm:"primaryKey"`
	Value int64
}

// New opens the database: a postgres:// DSN connects to PostgreSQL,
// anything else is treated as a SQLite path.
func New(dbPath string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&User{}, &Position{}, &SentinelDay{}, &Pending{}, &Counter{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewMemory opens a fresh in-memory SQLite store for tests. The named DSN
// keeps one database per store across gorm's connection pool without
// sharing it between stores.
func NewMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:mem%d?mode=memory&cache=shared", memSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&User{}, &Position{}, &SentinelDay{}, &Pending{}, &Counter{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// User operations

// GetUser loads a user, creating the record on first interaction with the
// given defaults.
func (s *Store) GetUser(userID int64, defaults User) (*User, error) {
	var user User
	defaults.UserID = userID
	err := s.db.Where(User{UserID: userID}).Attrs(defaults).FirstOrCreate(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveUser persists a user record.
func (s *Store) SaveUser(user *User) error {
	return s.db.Save(user).Error
}

// AllUsers returns every known user, for the scheduler sweep.
func (s *Store) AllUsers() ([]User, error) {
	var users []User
	err := s.db.Find(&users).Error
	return users, err
}

// Position operations

// GetPosition returns the user's open position, nil when flat.
func (s *Store) GetPosition(userID int64) (*Position, error) {
	var pos Position
	err := s.db.First(&pos, "user_id = ?", userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// SavePosition persists an open position.
func (s *Store) SavePosition(pos *Position) error {
	return s.db.Save(pos).Error
}

// DeletePosition clears the user's open position.
func (s *Store) DeletePosition(userID int64) error {
	return s.db.Delete(&Position{}, "user_id = ?", userID).Error
}

// Sentinel operations

// GetSentinelDay loads the sentinel record for (user, date), zero-valued
// when absent.
func (s *Store) GetSentinelDay(userID int64, date string) (*SentinelDay, error) {
	var day SentinelDay
	err := s.db.First(&day, "user_id = ? AND date = ?", userID, date).Error
	if err == gorm.ErrRecordNotFound {
		return &SentinelDay{UserID: userID, Date: date}, nil
	}
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// SaveSentinelDay persists a sentinel day record.
func (s *Store) SaveSentinelDay(day *SentinelDay) error {
	day.LastUpdate = time.Now()
	return s.db.Save(day).Error
}

// Pending operations

// SavePending persists a manual pending.
func (s *Store) SavePending(p *Pending) error {
	return s.db.Save(p).Error
}

// GetPending loads a pending by id.
func (s *Store) GetPending(pid string) (*Pending, error) {
	var p Pending
	err := s.db.First(&p, "p_id = ?", pid).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// OpenPendingFor returns the user's PENDING record, nil when none.
func (s *Store) OpenPendingFor(userID int64) (*Pending, error) {
	var p Pending
	err := s.db.First(&p, "user_id = ? AND status = ?", userID, "PENDING").Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// StalePendings returns PENDING records created before the cutoff.
func (s *Store) StalePendings(cutoff time.Time) ([]Pending, error) {
	var ps []Pending
	err := s.db.Where("status = ? AND created_at < ?", "PENDING", cutoff).Find(&ps).Error
	return ps, err
}
