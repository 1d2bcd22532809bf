// Package bot provides Telegram bot functionality
//
// telegram.go - command surface and broadcast channel for the tide
// trading controller.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/config"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/engine"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/risk"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/score"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/store"
)

// Bot handles Telegram interactions for the controller.
type Bot struct {
	api      *tgbotapi.BotAPI
	cfg      *config.Config
	store    *store.Store
	engine   *engine.Engine
	sentinel *risk.Sentinel
	scorer   *score.Scorer
	loc      *time.Location

	stopCh chan struct{}
}

// New connects the bot.
func New(cfg *config.Config, st *store.Store, eng *engine.Engine, sentinel *risk.Sentinel, scorer *score.Scorer, loc *time.Location) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot connected")

	if loc == nil {
		loc = time.Local
	}
	return &Bot{
		api:      api,
		cfg:      cfg,
		store:    st,
		engine:   eng,
		sentinel: sentinel,
		scorer:   scorer,
		loc:      loc,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins the command listener.
func (b *Bot) Start() {
	go b.listenForCommands()
}

// Stop stops the bot.
func (b *Bot) Stop() {
	close(b.stopCh)
}

// Notify implements engine.Notifier.
func (b *Bot) Notify(userID int64, text string) {
	b.send(userID, text)
}

func (b *Bot) listenForCommands() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				go b.handleMessage(update.Message)
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if !msg.IsCommand() {
		return
	}

	log.Debug().
		Int64("chat_id", chatID).
		Str("command", msg.Command()).
		Msg("Received command")

	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.cmdHelp(chatID)
	case "mode":
		b.cmdMode(chatID, args)
	case "set":
		b.cmdSet(chatID, args)
	case "order":
		b.cmdOrder(chatID, args)
	case "approve":
		b.cmdApprove(chatID, args)
	case "reject":
		b.cmdReject(chatID, args)
	case "close":
		b.cmdClose(chatID, args)
	case "preset":
		b.cmdPreset(chatID, args)
	case "env":
		b.cmdEnv(chatID, args)
	case "status":
		b.cmdStatus(chatID)
	case "report":
		b.cmdReport(chatID)
	case "unlock":
		b.cmdUnlock(chatID)
	default:
		b.send(chatID, "Unknown command. /help for the list.")
	}
}

func (b *Bot) cmdHelp(chatID int64) {
	b.send(chatID, `🌊 Tide trading controller

/mode auto|manual|off — decision routing
/set pair|risk|lev|window|maxday|maxtw <value>
/order SYMBOL long|short [risk%] [lev] — manual entry (gated)
/approve <pid> — execute a pending signal
/reject <pid> — drop a pending signal
/close [pct] [side] — close the open position
/preset P1..P4 — apply a moon-regime preset
/env KEY VALUE — runtime config override
/status — settings, quotas, sentinel, position
/report — evaluate now
/unlock — clear a stop-loss day lock`)
}

func (b *Bot) cmdMode(chatID int64, args []string) {
	if len(args) != 1 {
		b.send(chatID, "Usage: /mode auto|manual|off")
		return
	}
	mode := strings.ToLower(args[0])
	if mode != engine.ModeAuto && mode != engine.ModeManual && mode != engine.ModeOff {
		b.send(chatID, "Mode must be auto, manual or off")
		return
	}
	user, err := b.user(chatID)
	if err != nil {
		b.sendErr(chatID, err)
		return
	}
	user.Mode = mode
	if err := b.store.SaveUser(user); err != nil {
		b.sendErr(chatID, err)
		return
	}
	b.send(chatID, fmt.Sprintf("⚙️ Mode set to %s", mode))
}

func (b *Bot) cmdSet(chatID int64, args []string) {
	if len(args) != 2 {
		b.send(chatID, "Usage: /set pair|risk|lev|window|maxday|maxtw <value>")
		return
	}
	user, err := b.user(chatID)
	if err != nil {
		b.sendErr(chatID, err)
		return
	}

	key, val := strings.ToLower(args[0]), args[1]
	switch key {
	case "pair":
		user.Pair = strings.ToUpper(val)
	case "risk":
		d, err := decimal.NewFromString(val)
		if err != nil || d.IsNegative() {
			b.send(chatID, "risk must be a non-negative percent")
			return
		}
		user.RiskPercent = d
	case "lev":
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 || n > 125 {
			b.send(chatID, "lev must be 1..125")
			return
		}
		user.Leverage = n
	case "window":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || f <= 0 {
			b.send(chatID, "window must be positive hours")
			return
		}
		user.TideWindowHours = f
	case "maxday":
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			b.send(chatID, "maxday must be ≥ 1")
			return
		}
		user.MaxOrdersPerDay = n
	case "maxtw":
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			b.send(chatID, "maxtw must be ≥ 1")
			return
		}
		user.MaxOrdersPerTW = n
	default:
		b.send(chatID, "Unknown setting "+key)
		return
	}

	if err := b.store.SaveUser(user); err != nil {
		b.sendErr(chatID, err)
		return
	}
	b.send(chatID, fmt.Sprintf("⚙️ %s = %s", key, val))
}

func (b *Bot) cmdOrder(chatID int64, args []string) {
	if len(args) < 2 {
		b.send(chatID, "Usage: /order SYMBOL long|short [risk%] [lev]")
		return
	}
	symbol := strings.ToUpper(args[0])
	side := args[1]

	riskPct := decimal.Zero
	leverage := 0
	if len(args) >= 3 {
		d, err := decimal.NewFromString(args[2])
		if err != nil {
			b.send(chatID, "risk must be numeric")
			return
		}
		riskPct = d
	}
	if len(args) >= 4 {
		n, err := strconv.Atoi(args[3])
		if err != nil {
			b.send(chatID, "lev must be an integer")
			return
		}
		leverage = n
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	out, err := b.engine.ManualOrder(ctx, chatID, symbol, side, riskPct, leverage)
	if err != nil {
		b.sendErr(chatID, err)
		return
	}
	b.send(chatID, out)
}

func (b *Bot) cmdApprove(chatID int64, args []string) {
	if len(args) != 1 {
		b.send(chatID, "Usage: /approve <pid>")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	out, err := b.engine.Approve(ctx, chatID, args[0])
	if err != nil {
		b.sendErr(chatID, err)
		return
	}
	b.send(chatID, out)
}

func (b *Bot) cmdReject(chatID int64, args []string) {
	if len(args) != 1 {
		b.send(chatID, "Usage: /reject <pid>")
		return
	}
	if err := b.engine.Reject(chatID, args[0]); err != nil {
		b.sendErr(chatID, err)
		return
	}
	b.send(chatID, "🗑️ Rejected "+args[0])
}

func (b *Bot) cmdClose(chatID int64, args []string) {
	pct := 100.0
	sideFilter := ""
	if len(args) >= 1 {
		if f, err := strconv.ParseFloat(args[0], 64); err == nil {
			pct = f
		} else {
			sideFilter = args[0]
		}
	}
	if len(args) >= 2 {
		sideFilter = args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	out, err := b.engine.ManualClose(ctx, chatID, pct, sideFilter)
	if err != nil {
		b.sendErr(chatID, err)
		return
	}
	b.send(chatID, out)
}

// Presets map the moon regime to operational parameters: calm regimes
// widen the window and allow one more entry, bright/dark extremes keep it
// tight.
var presets = map[string]struct {
	windowHours float64
	maxTW       int
}{
	"P1": {2.0, 2},
	"P2": {2.5, 3},
	"P3": {2.5, 3},
	"P4": {2.0, 2},
}

func (b *Bot) cmdPreset(chatID int64, args []string) {
	if len(args) != 1 {
		b.send(chatID, "Usage: /preset P1|P2|P3|P4")
		return
	}
	p, ok := presets[strings.ToUpper(args[0])]
	if !ok {
		b.send(chatID, "Preset must be P1..P4")
		return
	}
	user, err := b.user(chatID)
	if err != nil {
		b.sendErr(chatID, err)
		return
	}
	user.TideWindowHours = p.windowHours
	user.MaxOrdersPerTW = p.maxTW
	if err := b.store.SaveUser(user); err != nil {
		b.sendErr(chatID, err)
		return
	}
	b.send(chatID, fmt.Sprintf("🌙 Preset %s: window ±%.1fh, max %d per window",
		strings.ToUpper(args[0]), p.windowHours, p.maxTW))
}

func (b *Bot) cmdEnv(chatID int64, args []string) {
	if len(args) != 2 {
		b.send(chatID, "Usage: /env KEY VALUE")
		return
	}
	if err := b.cfg.Set(strings.ToUpper(args[0]), args[1]); err != nil {
		b.sendErr(chatID, err)
		return
	}
	b.send(chatID, fmt.Sprintf("⚙️ %s = %s", strings.ToUpper(args[0]), args[1]))
}

func (b *Bot) cmdStatus(chatID int64) {
	user, err := b.user(chatID)
	if err != nil {
		b.sendErr(chatID, err)
		return
	}

	date := time.Now().In(b.loc).Format("2006-01-02")
	locked, _ := b.sentinel.IsLocked(chatID, date)
	streak, _ := b.sentinel.Streak(chatID, date)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Status %s\n", date)
	fmt.Fprintf(&sb, "Mode %s  Pair %s  Risk %s%%  Lev x%d\n", user.Mode, user.Pair, user.RiskPercent, user.Leverage)
	fmt.Fprintf(&sb, "Window ±%.1fh  Quota day %d/%d\n", user.TideWindowHours, user.TodayCount, user.MaxOrdersPerDay)
	fmt.Fprintf(&sb, "Sentinel: streak %d locked %v\n", streak, locked)

	pos, _ := b.store.GetPosition(chatID)
	if pos != nil {
		fmt.Fprintf(&sb, "Open: %s %s qty %s entry %s SL %s\n",
			pos.Pair, pos.Side, pos.Qty, pos.EntryPrice, pos.SLPrice)
		fmt.Fprintf(&sb, "TP deadline %s\n", pos.TPDeadline.In(b.loc).Format("15:04 02 Jan"))
	} else {
		sb.WriteString("Open: none\n")
	}

	pending, _ := b.store.OpenPendingFor(chatID)
	if pending != nil {
		fmt.Fprintf(&sb, "Pending: %s since %s\n", pending.PID, pending.CreatedAt.In(b.loc).Format("15:04"))
	}
	b.send(chatID, sb.String())
}

func (b *Bot) cmdReport(chatID int64) {
	user, err := b.user(chatID)
	if err != nil {
		b.sendErr(chatID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	res, err := b.scorer.Evaluate(ctx, user.Pair, time.Now())
	if err != nil {
		b.sendErr(chatID, err)
		return
	}
	if res.Text == "" {
		b.send(chatID, fmt.Sprintf("⏭️ %s: %s", res.Reason, res.Detail))
		return
	}
	b.send(chatID, "🗒️ "+res.Text)
}

func (b *Bot) cmdUnlock(chatID int64) {
	date := time.Now().In(b.loc).Format("2006-01-02")
	if err := b.sentinel.Unlock(chatID, date); err != nil {
		b.sendErr(chatID, err)
		return
	}
	b.send(chatID, "🔓 Day lock cleared for "+date)
}

func (b *Bot) user(chatID int64) (*store.User, error) {
	cfg := b.cfg.Snapshot()
	return b.store.GetUser(chatID, store.User{
		Pair:        cfg.DefaultPair,
		RiskPercent: cfg.DefaultRiskPercent,
		Leverage:    cfg.DefaultLeverage,
		Balance:     cfg.DefaultBalance,
		Mode:        engine.ModeAuto,
	})
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("❌ Telegram send failed")
	}
}

func (b *Bot) sendErr(chatID int64, err error) {
	b.send(chatID, "❌ "+err.Error())
}
