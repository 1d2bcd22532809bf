// Allinonebot - Tide-window leveraged futures controller
//
// Trades a single futures pair inside timing windows around astronomical
// tide extremes:
// 1. Every 5-minute close, score H4/M30 momentum plus a moon-phase bonus
// 2. Gate the signal through the tide window, late band and entry quotas
// 3. Fan the entry out across the configured accounts with derived SL/TP
// 4. Close by stop, target, or the tp-by-time deadline
// 5. Two stop-losses in distinct windows lock the day
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/bot"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/config"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/data"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/engine"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/exchange"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/exec"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/gate"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/risk"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/score"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/tide"
)

const version = "2.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("pair", cfg.DefaultPair).
		Bool("dry_run", cfg.DryRun).
		Str("counter_scope", cfg.CounterScope).
		Msg("🌊 Allinonebot starting...")

	loc := time.Local

	// Persistence
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

	var counters store.CounterStore
	if cfg.CounterScope == "global" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		rc, err := store.NewRedisCounters(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect redis for global counters")
		}
		defer rc.Close()
		counters = rc
	} else {
		counters = store.NewGormCounters(st)
	}

	// Data and scoring
	klines := data.NewClient(cfg.KlineAPIURL)
	tides := tide.NewProvider(cfg.TideAPIURL, cfg.MoonAPIURL, cfg.TideAPIKey, cfg.Lat, cfg.Lon)
	scorer := score.NewScorer(klines, tides, cfg)

	// Accounts
	multi, single, anchor := buildAdapters(cfg)
	hub := exec.New(multi, single)

	mark := exchange.NewMarkPriceStream(cfg.DefaultPair)
	mark.Start()
	defer mark.Stop()

	// Control plane
	tideGate := gate.New(tides, counters, cfg, loc)
	sentinel := risk.New(st, cfg.AutoLockOn2SL)

	eng := engine.New(engine.Deps{
		Config:   cfg,
		Store:    st,
		Scorer:   scorer,
		Tides:    tides,
		Gate:     tideGate,
		Hub:      hub,
		Sentinel: sentinel,
		Anchor:   anchor,
		Mark:     mark,
		Location: loc,
	})

	tgBot, err := bot.New(cfg, st, eng, sentinel, scorer, loc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start Telegram bot")
	}
	eng.SetNotifier(tgBot)

	tgBot.Start()
	eng.Start()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	eng.Stop()
	tgBot.Stop()
}

// buildAdapters turns the configured accounts into exchange adapters.
// DRY_RUN swaps every account for a paper twin that still prices off the
// live ticker.
func buildAdapters(cfg *config.Config) (multi []exchange.Adapter, single, anchor exchange.Adapter) {
	priceSource := exchange.NewBinance("pricer", "", "", false)
	ticker := priceSource.FetchTicker

	wrap := func(name, key, secret string, testnet bool) exchange.Adapter {
		if cfg.DryRun {
			return exchange.NewPaper(name, cfg.DefaultBalance, ticker)
		}
		return exchange.NewBinance(name, key, secret, testnet)
	}

	for _, a := range cfg.Accounts {
		multi = append(multi, wrap(a.Name, a.APIKey, a.APISecret, a.Testnet))
	}
	if cfg.SingleAccount.APIKey != "" || cfg.DryRun {
		single = wrap("single", cfg.SingleAccount.APIKey, cfg.SingleAccount.APISecret, cfg.SingleAccount.Testnet)
	}

	switch {
	case len(multi) > 0:
		anchor = multi[0]
	case single != nil:
		anchor = single
	default:
		anchor = exchange.NewPaper("paper", cfg.DefaultBalance, ticker)
		single = anchor
		log.Warn().Msg("⚠️ No accounts configured, running a single paper account")
	}
	return multi, single, anchor
}
