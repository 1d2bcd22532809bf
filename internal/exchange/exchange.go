package exchange

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Symbol converts a display pair like BTC/USDT into the exchange form
// BTCUSDT. Exchange-facing calls normalize at the boundary; the slashed
// form stays display-only.
func Symbol(pair string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", " ", "").Replace(pair))
}

// OrderRequest is one market entry with protective orders attached.
type OrderRequest struct {
	Symbol   string
	Side     string // LONG | SHORT
	Qty      decimal.Decimal
	SL       decimal.Decimal
	TP       decimal.Decimal
	Leverage int
}

// OrderResult is the per-account outcome of an entry attempt.
type OrderResult struct {
	Opened  bool
	EntryID string
	Qty     decimal.Decimal
	Entry   decimal.Decimal
	SL      decimal.Decimal
	TP      decimal.Decimal
	Err     string
}

// PositionInfo mirrors the live exchange position. Qty zero means flat.
type PositionInfo struct {
	Symbol     string
	Side       string
	Qty        decimal.Decimal
	EntryPrice decimal.Decimal
}

// Adapter is the minimal exchange surface the controller consumes.
type Adapter interface {
	Name() string
	Balance(ctx context.Context) (decimal.Decimal, error)
	OpenMarket(ctx context.Context, req OrderRequest) (OrderResult, error)
	// ClosePosition closes pct percent (100 = full) of the position,
	// optionally filtered to one side.
	ClosePosition(ctx context.Context, symbol string, pct float64, sideFilter string) error
	FetchPosition(ctx context.Context, symbol string) (PositionInfo, error)
	FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
}
