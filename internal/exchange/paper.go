package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Paper is a simulated adapter for dry-run and testnet-less accounts.
// Entries fill at the ticker price; positions live in memory.
type Paper struct {
	mu      sync.Mutex
	name    string
	balance decimal.Decimal
	ticker  func(ctx context.Context, symbol string) (decimal.Decimal, error)

	positions map[string]PositionInfo
}

// NewPaper builds a paper adapter with a starting balance and a price
// source, usually the live ticker.
func NewPaper(name string, balance decimal.Decimal, ticker func(ctx context.Context, symbol string) (decimal.Decimal, error)) *Paper {
	return &Paper{
		name:      name,
		balance:   balance,
		ticker:    ticker,
		positions: make(map[string]PositionInfo),
	}
}

func (p *Paper) Name() string { return p.name }

func (p *Paper) Balance(_ context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *Paper) OpenMarket(ctx context.Context, req OrderRequest) (OrderResult, error) {
	sym := Symbol(req.Symbol)
	price, err := p.ticker(ctx, sym)
	if err != nil {
		return OrderResult{Err: err.Error()}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[sym]; exists {
		err := fmt.Errorf("paper: position already open on %s", sym)
		return OrderResult{Err: err.Error()}, err
	}

	p.positions[sym] = PositionInfo{
		Symbol:     sym,
		Side:       req.Side,
		Qty:        req.Qty,
		EntryPrice: price,
	}

	res := OrderResult{
		Opened:  true,
		EntryID: "paper-" + uuid.NewString()[:8],
		Qty:     req.Qty,
		Entry:   price,
		SL:      req.SL,
		TP:      req.TP,
	}
	log.Info().
		Str("account", p.name).
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("entry", price.String()).
		Msg("📝 Paper entry filled")
	return res, nil
}

func (p *Paper) ClosePosition(_ context.Context, symbol string, pct float64, sideFilter string) error {
	symbol = Symbol(symbol)
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return nil
	}
	if sideFilter != "" && pos.Side != sideFilter {
		return nil
	}
	if pct > 0 && pct < 100 {
		pos.Qty = pos.Qty.Mul(decimal.NewFromFloat(1 - pct/100))
		p.positions[symbol] = pos
		return nil
	}
	delete(p.positions, symbol)
	log.Info().Str("account", p.name).Str("symbol", symbol).Msg("📝 Paper position closed")
	return nil
}

func (p *Paper) FetchPosition(_ context.Context, symbol string) (PositionInfo, error) {
	symbol = Symbol(symbol)
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		return pos, nil
	}
	return PositionInfo{Symbol: symbol}, nil
}

func (p *Paper) FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return p.ticker(ctx, Symbol(symbol))
}
