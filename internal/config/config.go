package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot.
//
// Every field maps to one environment variable. Runtime overrides via the
// /env command go through Set and take effect on the next scheduler tick.
type Config struct {
	mu sync.RWMutex

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Mode
	DryRun bool
	Debug  bool

	// Scheduler
	SchedulerTickSec int
	M5MaxDelaySec    int
	M30SlotGraceSec  int

	// Tide window
	TideWindowHours float64
	EntryLateOnly   bool
	EntryLateFrom   float64 // hours after center
	EntryLateTo     float64

	// Quotas
	MaxOrdersPerDay        int
	MaxOrdersPerTideWindow int
	CounterScope           string // per_user | global

	// M30 flip guard
	M30FlipGuard      bool
	M30StableMinSec   int
	M30NeedConsecN    int
	EnforceM5MatchM30 bool

	// M5 spacing / second entry
	M5MinGapMin                int
	M5GapScopedToWindow        bool
	AllowSecondEntry           bool
	M5SecondEntryMinRetracePct float64

	// M5 gate
	M5WickPct         float64
	M5VolMultRelax    float64
	M5VolMultStrict   float64
	M5LookbackRelax   int
	M5LookbackStrict  int
	M5RelaxKind       string // either | rsi_only | candle_only
	M5StrictMode      bool
	EntrySeqWindowMin int

	// Scoring tunables
	RSIGapMin        float64
	StochGapMin      float64
	StochSlopeMin    float64
	StochRecentN     int
	CrossRecentN     int
	TFCrossBonus     float64
	TFAlignBonus     float64
	TFExtremePenalty float64

	// HTF aggregation
	HTFNearAlign     bool
	HTFMinAlignScore float64
	HTFNearAlignGap  float64
	SynergyOn        bool
	M30TakeoverMin   float64

	// Extreme block
	ExtremeBlockOn bool
	ExtremeRSIOB   float64
	ExtremeRSIOS   float64
	ExtremeStochOB float64
	ExtremeStochOS float64

	// Sonic trend
	SonicMode   string // off | weight | veto
	SonicWeight float64

	// Exit / risk
	TPTimeHours   float64
	AutoLockOn2SL bool

	// Manual flow
	MaxPendingMinutes int

	// Tide provider
	Lat        float64
	Lon        float64
	TideAPIKey string
	TideAPIURL string
	MoonAPIURL string

	// Market data
	KlineAPIURL string

	// Persistence
	DatabasePath string
	RedisURL     string

	// Default user trading settings
	DefaultPair        string
	DefaultRiskPercent decimal.Decimal
	DefaultLeverage    int
	DefaultBalance     decimal.Decimal

	// Accounts
	Accounts      []Account
	SingleAccount Account
}

// Account describes one exchange account the execute hub can open on.
type Account struct {
	Name      string `json:"name"`
	Exchange  string `json:"exchange"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
	Pair      string `json:"pair"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		SchedulerTickSec: getEnvInt("SCHEDULER_TICK_SEC", 20),
		M5MaxDelaySec:    getEnvInt("M5_MAX_DELAY_SEC", 90),
		M30SlotGraceSec:  getEnvInt("M30_SLOT_GRACE_SEC", 120),

		TideWindowHours: getEnvFloat("TIDE_WINDOW_HOURS", 2.0),
		EntryLateOnly:   getEnvBool("ENTRY_LATE_ONLY", false),
		EntryLateFrom:   getEnvFloat("ENTRY_LATE_FROM_HRS", 0.5),
		EntryLateTo:     getEnvFloat("ENTRY_LATE_TO_HRS", 2.0),

		MaxOrdersPerDay:        getEnvInt("MAX_ORDERS_PER_DAY", 4),
		MaxOrdersPerTideWindow: getEnvInt("MAX_ORDERS_PER_TIDE_WINDOW", 2),
		CounterScope:           getEnv("COUNTER_SCOPE", "per_user"),

		M30FlipGuard:      getEnvBool("M30_FLIP_GUARD", true),
		M30StableMinSec:   getEnvInt("M30_STABLE_MIN_SEC", 1800),
		M30NeedConsecN:    getEnvInt("M30_NEED_CONSEC_N", 0),
		EnforceM5MatchM30: getEnvBool("ENFORCE_M5_MATCH_M30", true),

		M5MinGapMin:                getEnvInt("M5_MIN_GAP_MIN", 30),
		M5GapScopedToWindow:        getEnvBool("M5_GAP_SCOPED_TO_WINDOW", true),
		AllowSecondEntry:           getEnvBool("ALLOW_SECOND_ENTRY", true),
		M5SecondEntryMinRetracePct: getEnvFloat("M5_SECOND_ENTRY_MIN_RETRACE_PCT", 0.3),

		M5WickPct:         getEnvFloat("M5_WICK_PCT", 0.35),
		M5VolMultRelax:    getEnvFloat("M5_VOL_MULT_RELAX", 1.2),
		M5VolMultStrict:   getEnvFloat("M5_VOL_MULT_STRICT", 1.5),
		M5LookbackRelax:   getEnvInt("M5_LOOKBACK_RELAX", 3),
		M5LookbackStrict:  getEnvInt("M5_LOOKBACK_STRICT", 2),
		M5RelaxKind:       getEnv("M5_RELAX_KIND", "either"),
		M5StrictMode:      getEnvBool("M5_STRICT_MODE", false),
		EntrySeqWindowMin: getEnvInt("ENTRY_SEQ_WINDOW_MIN", 15),

		RSIGapMin:        getEnvFloat("RSI_GAP_MIN", 1.0),
		StochGapMin:      getEnvFloat("STCH_GAP_MIN", 2.0),
		StochSlopeMin:    getEnvFloat("STCH_SLOPE_MIN", 0.5),
		StochRecentN:     getEnvInt("STCH_RECENT_N", 3),
		CrossRecentN:     getEnvInt("CROSS_RECENT_N", 3),
		TFCrossBonus:     getEnvFloat("TF_CROSS_BONUS", 1.0),
		TFAlignBonus:     getEnvFloat("TF_ALIGN_BONUS", 0.5),
		TFExtremePenalty: getEnvFloat("TF_EXTREME_PENALTY", 1.0),

		HTFNearAlign:     getEnvBool("HTF_NEAR_ALIGN", true),
		HTFMinAlignScore: getEnvFloat("HTF_MIN_ALIGN_SCORE", 3.0),
		HTFNearAlignGap:  getEnvFloat("HTF_NEAR_ALIGN_GAP", 2.0),
		SynergyOn:        getEnvBool("SYNERGY_ON", true),
		M30TakeoverMin:   getEnvFloat("M30_TAKEOVER_MIN", 2.5),

		ExtremeBlockOn: getEnvBool("EXTREME_BLOCK_ON", true),
		ExtremeRSIOB:   getEnvFloat("EXTREME_RSI_OB", 75),
		ExtremeRSIOS:   getEnvFloat("EXTREME_RSI_OS", 25),
		ExtremeStochOB: getEnvFloat("EXTREME_STOCH_OB", 85),
		ExtremeStochOS: getEnvFloat("EXTREME_STOCH_OS", 15),

		SonicMode:   getEnv("SONIC_MODE", "weight"),
		SonicWeight: getEnvFloat("SONIC_WEIGHT", 0.5),

		TPTimeHours:   getEnvFloat("TP_TIME_HOURS", 6.0),
		AutoLockOn2SL: getEnvBool("AUTO_LOCK_ON_2_SL", true),

		MaxPendingMinutes: getEnvInt("MAX_PENDING_MINUTES", 30),

		Lat:        getEnvFloat("LAT", 21.0),
		Lon:        getEnvFloat("LON", 105.8),
		TideAPIKey: os.Getenv("TIDE_API_KEY"),
		TideAPIURL: getEnv("TIDE_API_URL", "https://www.worldtides.info/api/v3"),
		MoonAPIURL: getEnv("MOON_API_URL", "https://api.farmsense.net/v1/moonphases"),

		KlineAPIURL: getEnv("KLINE_API_URL", "https://fapi.binance.com"),

		DatabasePath: getEnv("DATABASE_PATH", "data/allinonebot.db"),
		RedisURL:     os.Getenv("REDIS_URL"),

		DefaultPair:        getEnv("DEFAULT_PAIR", "BTC/USDT"),
		DefaultRiskPercent: getEnvDecimal("DEFAULT_RISK_PERCENT", decimal.NewFromFloat(2.0)),
		DefaultLeverage:    getEnvInt("DEFAULT_LEVERAGE", 10),
		DefaultBalance:     getEnvDecimal("DEFAULT_BALANCE", decimal.NewFromInt(1000)),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.loadAccounts(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadAccounts parses MULTI_ACCOUNTS (JSON array) and the single-account
// env credentials that serve as the fallback when no multi account opens.
func (c *Config) loadAccounts() error {
	if raw := os.Getenv("MULTI_ACCOUNTS"); raw != "" {
		var accounts []Account
		if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
			return fmt.Errorf("invalid MULTI_ACCOUNTS: %w", err)
		}
		for i, a := range accounts {
			if a.Name == "" {
				return fmt.Errorf("MULTI_ACCOUNTS[%d]: name is required", i)
			}
			if a.Exchange == "" {
				accounts[i].Exchange = "binance"
			}
		}
		c.Accounts = accounts
	}

	c.SingleAccount = Account{
		Name:      "single",
		Exchange:  getEnv("EXCHANGE", "binance"),
		APIKey:    os.Getenv("BINANCE_API_KEY"),
		APISecret: os.Getenv("BINANCE_API_SECRET"),
		Testnet:   getEnvBool("BINANCE_TESTNET", false),
	}
	return nil
}

// Validate checks option combinations that would misconfigure the gates.
func (c *Config) Validate() error {
	if c.CounterScope != "per_user" && c.CounterScope != "global" {
		return fmt.Errorf("COUNTER_SCOPE must be per_user or global, got %q", c.CounterScope)
	}
	switch c.M5RelaxKind {
	case "either", "rsi_only", "candle_only":
	default:
		return fmt.Errorf("M5_RELAX_KIND must be either, rsi_only or candle_only, got %q", c.M5RelaxKind)
	}
	switch c.SonicMode {
	case "off", "weight", "veto":
	default:
		return fmt.Errorf("SONIC_MODE must be off, weight or veto, got %q", c.SonicMode)
	}
	if c.TideWindowHours <= 0 {
		return fmt.Errorf("TIDE_WINDOW_HOURS must be positive")
	}
	if c.EntryLateOnly && c.EntryLateFrom > c.EntryLateTo {
		return fmt.Errorf("ENTRY_LATE_FROM_HRS (%.2f) exceeds ENTRY_LATE_TO_HRS (%.2f)", c.EntryLateFrom, c.EntryLateTo)
	}
	if c.MaxOrdersPerDay < 1 || c.MaxOrdersPerTideWindow < 1 {
		return fmt.Errorf("order quotas must be at least 1")
	}
	if c.CounterScope == "global" && c.RedisURL == "" {
		return fmt.Errorf("COUNTER_SCOPE=global requires REDIS_URL for atomic counters")
	}
	return nil
}

// Set applies a runtime override for a recognized env key. The override is
// written into the process env and the parsed field, so both later Loads
// and the running engine see it.
func (c *Config) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key = strings.ToUpper(strings.TrimSpace(key))
	os.Setenv(key, value)

	switch key {
	case "SCHEDULER_TICK_SEC":
		return setInt(&c.SchedulerTickSec, value)
	case "M5_MAX_DELAY_SEC":
		return setInt(&c.M5MaxDelaySec, value)
	case "M30_SLOT_GRACE_SEC":
		return setInt(&c.M30SlotGraceSec, value)
	case "TIDE_WINDOW_HOURS":
		return setFloat(&c.TideWindowHours, value)
	case "ENTRY_LATE_ONLY":
		return setBool(&c.EntryLateOnly, value)
	case "ENTRY_LATE_FROM_HRS":
		return setFloat(&c.EntryLateFrom, value)
	case "ENTRY_LATE_TO_HRS":
		return setFloat(&c.EntryLateTo, value)
	case "MAX_ORDERS_PER_DAY":
		return setInt(&c.MaxOrdersPerDay, value)
	case "MAX_ORDERS_PER_TIDE_WINDOW":
		return setInt(&c.MaxOrdersPerTideWindow, value)
	case "M30_FLIP_GUARD":
		return setBool(&c.M30FlipGuard, value)
	case "M30_STABLE_MIN_SEC":
		return setInt(&c.M30StableMinSec, value)
	case "M30_NEED_CONSEC_N":
		return setInt(&c.M30NeedConsecN, value)
	case "ENFORCE_M5_MATCH_M30":
		return setBool(&c.EnforceM5MatchM30, value)
	case "M5_MIN_GAP_MIN":
		return setInt(&c.M5MinGapMin, value)
	case "M5_GAP_SCOPED_TO_WINDOW":
		return setBool(&c.M5GapScopedToWindow, value)
	case "ALLOW_SECOND_ENTRY":
		return setBool(&c.AllowSecondEntry, value)
	case "M5_SECOND_ENTRY_MIN_RETRACE_PCT":
		return setFloat(&c.M5SecondEntryMinRetracePct, value)
	case "M5_WICK_PCT":
		return setFloat(&c.M5WickPct, value)
	case "M5_VOL_MULT_RELAX":
		return setFloat(&c.M5VolMultRelax, value)
	case "M5_VOL_MULT_STRICT":
		return setFloat(&c.M5VolMultStrict, value)
	case "M5_LOOKBACK_RELAX":
		return setInt(&c.M5LookbackRelax, value)
	case "M5_LOOKBACK_STRICT":
		return setInt(&c.M5LookbackStrict, value)
	case "M5_RELAX_KIND":
		c.M5RelaxKind = value
		return nil
	case "M5_STRICT_MODE":
		return setBool(&c.M5StrictMode, value)
	case "ENTRY_SEQ_WINDOW_MIN":
		return setInt(&c.EntrySeqWindowMin, value)
	case "RSI_GAP_MIN":
		return setFloat(&c.RSIGapMin, value)
	case "STCH_GAP_MIN":
		return setFloat(&c.StochGapMin, value)
	case "STCH_SLOPE_MIN":
		return setFloat(&c.StochSlopeMin, value)
	case "STCH_RECENT_N":
		return setInt(&c.StochRecentN, value)
	case "CROSS_RECENT_N":
		return setInt(&c.CrossRecentN, value)
	case "TF_CROSS_BONUS":
		return setFloat(&c.TFCrossBonus, value)
	case "TF_ALIGN_BONUS":
		return setFloat(&c.TFAlignBonus, value)
	case "TF_EXTREME_PENALTY":
		return setFloat(&c.TFExtremePenalty, value)
	case "HTF_NEAR_ALIGN":
		return setBool(&c.HTFNearAlign, value)
	case "HTF_MIN_ALIGN_SCORE":
		return setFloat(&c.HTFMinAlignScore, value)
	case "HTF_NEAR_ALIGN_GAP":
		return setFloat(&c.HTFNearAlignGap, value)
	case "SYNERGY_ON":
		return setBool(&c.SynergyOn, value)
	case "M30_TAKEOVER_MIN":
		return setFloat(&c.M30TakeoverMin, value)
	case "EXTREME_BLOCK_ON":
		return setBool(&c.ExtremeBlockOn, value)
	case "EXTREME_RSI_OB":
		return setFloat(&c.ExtremeRSIOB, value)
	case "EXTREME_RSI_OS":
		return setFloat(&c.ExtremeRSIOS, value)
	case "EXTREME_STOCH_OB":
		return setFloat(&c.ExtremeStochOB, value)
	case "EXTREME_STOCH_OS":
		return setFloat(&c.ExtremeStochOS, value)
	case "SONIC_MODE":
		c.SonicMode = value
		return nil
	case "SONIC_WEIGHT":
		return setFloat(&c.SonicWeight, value)
	case "TP_TIME_HOURS":
		return setFloat(&c.TPTimeHours, value)
	case "AUTO_LOCK_ON_2_SL":
		return setBool(&c.AutoLockOn2SL, value)
	case "MAX_PENDING_MINUTES":
		return setInt(&c.MaxPendingMinutes, value)
	case "LAT":
		return setFloat(&c.Lat, value)
	case "LON":
		return setFloat(&c.Lon, value)
	default:
		return fmt.Errorf("unknown or read-only option %s", key)
	}
}

// Snapshot returns a copy safe to read during a tick while /env mutates.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := Config{}
	copyFields(&cp, c)
	return cp
}

// copyFields copies every configuration field without the mutex.
func copyFields(dst, src *Config) {
	dst.TelegramToken = src.TelegramToken
	dst.TelegramChatID = src.TelegramChatID
	dst.DryRun = src.DryRun
	dst.Debug = src.Debug
	dst.SchedulerTickSec = src.SchedulerTickSec
	dst.M5MaxDelaySec = src.M5MaxDelaySec
	dst.M30SlotGraceSec = src.M30SlotGraceSec
	dst.TideWindowHours = src.TideWindowHours
	dst.EntryLateOnly = src.EntryLateOnly
	dst.EntryLateFrom = src.EntryLateFrom
	dst.EntryLateTo = src.EntryLateTo
	dst.MaxOrdersPerDay = src.MaxOrdersPerDay
	dst.MaxOrdersPerTideWindow = src.MaxOrdersPerTideWindow
	dst.CounterScope = src.CounterScope
	dst.M30FlipGuard = src.M30FlipGuard
	dst.M30StableMinSec = src.M30StableMinSec
	dst.M30NeedConsecN = src.M30NeedConsecN
	dst.EnforceM5MatchM30 = src.EnforceM5MatchM30
	dst.M5MinGapMin = src.M5MinGapMin
	dst.M5GapScopedToWindow = src.M5GapScopedToWindow
	dst.AllowSecondEntry = src.AllowSecondEntry
	dst.M5SecondEntryMinRetracePct = src.M5SecondEntryMinRetracePct
	dst.M5WickPct = src.M5WickPct
	dst.M5VolMultRelax = src.M5VolMultRelax
	dst.M5VolMultStrict = src.M5VolMultStrict
	dst.M5LookbackRelax = src.M5LookbackRelax
	dst.M5LookbackStrict = src.M5LookbackStrict
	dst.M5RelaxKind = src.M5RelaxKind
	dst.M5StrictMode = src.M5StrictMode
	dst.EntrySeqWindowMin = src.EntrySeqWindowMin
	dst.RSIGapMin = src.RSIGapMin
	dst.StochGapMin = src.StochGapMin
	dst.StochSlopeMin = src.StochSlopeMin
	dst.StochRecentN = src.StochRecentN
	dst.CrossRecentN = src.CrossRecentN
	dst.TFCrossBonus = src.TFCrossBonus
	dst.TFAlignBonus = src.TFAlignBonus
	dst.TFExtremePenalty = src.TFExtremePenalty
	dst.HTFNearAlign = src.HTFNearAlign
	dst.HTFMinAlignScore = src.HTFMinAlignScore
	dst.HTFNearAlignGap = src.HTFNearAlignGap
	dst.SynergyOn = src.SynergyOn
	dst.M30TakeoverMin = src.M30TakeoverMin
	dst.ExtremeBlockOn = src.ExtremeBlockOn
	dst.ExtremeRSIOB = src.ExtremeRSIOB
	dst.ExtremeRSIOS = src.ExtremeRSIOS
	dst.ExtremeStochOB = src.ExtremeStochOB
	dst.ExtremeStochOS = src.ExtremeStochOS
	dst.SonicMode = src.SonicMode
	dst.SonicWeight = src.SonicWeight
	dst.TPTimeHours = src.TPTimeHours
	dst.AutoLockOn2SL = src.AutoLockOn2SL
	dst.MaxPendingMinutes = src.MaxPendingMinutes
	dst.Lat = src.Lat
	dst.Lon = src.Lon
	dst.TideAPIKey = src.TideAPIKey
	dst.TideAPIURL = src.TideAPIURL
	dst.MoonAPIURL = src.MoonAPIURL
	dst.KlineAPIURL = src.KlineAPIURL
	dst.DatabasePath = src.DatabasePath
	dst.RedisURL = src.RedisURL
	dst.DefaultPair = src.DefaultPair
	dst.DefaultRiskPercent = src.DefaultRiskPercent
	dst.DefaultLeverage = src.DefaultLeverage
	dst.DefaultBalance = src.DefaultBalance
	dst.Accounts = src.Accounts
	dst.SingleAccount = src.SingleAccount
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func setInt(dst *int, value string) error {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected integer: %w", err)
	}
	*dst = i
	return nil
}

func setFloat(dst *float64, value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("expected number: %w", err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, value string) error {
	switch value {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("expected boolean, got %q", value)
	}
	return nil
}
