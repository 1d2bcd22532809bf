package exec

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/exchange"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTE HUB - Multi-account order fan-out
// ═══════════════════════════════════════════════════════════════════════════════
//
// MULTI accounts are attempted in declared order. If at least one opened,
// the SINGLE env account is skipped. Only when every MULTI attempt failed
// does the hub fall back to SINGLE. The aggregate carries per-account
// detail so the broadcast can show exactly what happened where.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Request is one entry to fan out.
type Request struct {
	Symbol      string
	Side        string // exchange.SideLong | exchange.SideShort
	RiskPercent decimal.Decimal
	Leverage    int
}

// AccountResult is the outcome on one account.
type AccountResult struct {
	Account string
	Opened  bool
	EntryID string
	Qty     decimal.Decimal
	SL      decimal.Decimal
	TP      decimal.Decimal
	Err     string
}

// Result is the aggregate over all attempted accounts.
type Result struct {
	OpenedReal    bool
	SingleIgnored bool // single_ignored_because_multi_opened
	EntryIDs      []string
	PerAccount    []AccountResult
	Entry         decimal.Decimal // reference price used for sizing
	SL            decimal.Decimal
	TP            decimal.Decimal
}

// Hub fans entries out across accounts.
type Hub struct {
	multi  []exchange.Adapter
	single exchange.Adapter // nil when no env account configured
}

// New builds a hub from the declared MULTI adapters and the optional
// SINGLE fallback.
func New(multi []exchange.Adapter, single exchange.Adapter) *Hub {
	return &Hub{multi: multi, single: single}
}

// Execute runs the fan-out. The returned error covers only the case where
// no reference price could be obtained; per-account failures land in the
// result.
func (h *Hub) Execute(ctx context.Context, req Request) (Result, error) {
	res := Result{}

	price, err := h.referencePrice(ctx, req.Symbol)
	if err != nil {
		return res, fmt.Errorf("reference price: %w", err)
	}
	res.Entry = price
	res.SL, res.TP = exchange.DeriveSLTP(price, req.Side, req.Leverage)

	for _, acct := range h.multi {
		ar := h.tryAccount(ctx, acct, req, price, res.SL, res.TP)
		res.PerAccount = append(res.PerAccount, ar)
		if ar.Opened {
			res.OpenedReal = true
			res.EntryIDs = append(res.EntryIDs, ar.EntryID)
		}
	}

	if res.OpenedReal {
		if h.single != nil {
			res.SingleIgnored = true
		}
		return res, nil
	}

	if h.single != nil {
		ar := h.tryAccount(ctx, h.single, req, price, res.SL, res.TP)
		res.PerAccount = append(res.PerAccount, ar)
		if ar.Opened {
			res.OpenedReal = true
			res.EntryIDs = append(res.EntryIDs, ar.EntryID)
		}
	}

	return res, nil
}

func (h *Hub) tryAccount(ctx context.Context, acct exchange.Adapter, req Request, price, sl, tp decimal.Decimal) AccountResult {
	ar := AccountResult{Account: acct.Name(), SL: sl, TP: tp}

	balance, err := acct.Balance(ctx)
	if err != nil {
		ar.Err = fmt.Sprintf("balance: %v", err)
		log.Error().Err(err).Str("account", acct.Name()).Msg("❌ Balance fetch failed")
		return ar
	}

	qty := Quantity(balance, req.RiskPercent, req.Leverage, price)
	if qty.IsZero() {
		ar.Err = "qty rounds to zero"
		return ar
	}
	ar.Qty = qty

	order, err := acct.OpenMarket(ctx, exchange.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Qty:      qty,
		SL:       sl,
		TP:       tp,
		Leverage: req.Leverage,
	})
	if err != nil {
		ar.Err = err.Error()
		log.Error().Err(err).Str("account", acct.Name()).Msg("❌ Entry failed")
		return ar
	}

	ar.Opened = order.Opened
	ar.EntryID = order.EntryID
	if !order.Entry.IsZero() {
		ar.Qty = order.Qty
	}
	if order.Err != "" {
		ar.Err = order.Err
	}
	return ar
}

// referencePrice asks each adapter in order until one answers.
func (h *Hub) referencePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	adapters := append([]exchange.Adapter{}, h.multi...)
	if h.single != nil {
		adapters = append(adapters, h.single)
	}
	var lastErr error
	for _, a := range adapters {
		price, err := a.FetchTicker(ctx, symbol)
		if err == nil && !price.IsZero() {
			return price, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no accounts configured")
	}
	return decimal.Zero, lastErr
}

// qtyStep is the quantity rounding step. BTC-sized contracts use 0.001.
var qtyStep = decimal.NewFromFloat(0.001)

// Quantity sizes the entry: balance · risk% · leverage / price, floored to
// the step.
func Quantity(balance, riskPercent decimal.Decimal, leverage int, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() || balance.IsZero() {
		return decimal.Zero
	}
	notional := balance.
		Mul(riskPercent).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(leverage)))
	qty := notional.Div(price)
	// Floor to the step so the order never exceeds the sized notional.
	return qty.Div(qtyStep).Floor().Mul(qtyStep)
}
