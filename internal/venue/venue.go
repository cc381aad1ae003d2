// Package venue defines the execution venue contract the trading loop
// drives: submitting entries/exits and reporting fills, independent of
// which exchange (or paper simulation) is behind it.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// OrderRequest is a market order the trading loop wants filled
// immediately.
type OrderRequest struct {
	Symbol     string
	Side       domain.OrderSide
	Size       decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	SignalID   string
}

// Fill is the venue's report of an executed order.
type Fill struct {
	OrderID    string
	Symbol     string
	Side       domain.OrderSide
	Price      decimal.Decimal
	Size       decimal.Decimal
	Commission decimal.Decimal
	Timestamp  time.Time
	SlippagePct float64
}

// Venue is the execution contract. Implementations must be safe for
// concurrent use.
type Venue interface {
	// SubmitOrder places a market order and blocks until filled or the
	// context is cancelled.
	SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error)
	// ClosePosition closes size of an open position at market.
	ClosePosition(ctx context.Context, symbol string, side domain.OrderSide, size decimal.Decimal) (Fill, error)
	// MarkPrice returns the current mark price for symbol.
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// Balance returns the account's available balance.
	Balance(ctx context.Context) (decimal.Decimal, error)
	// FetchBars returns the most recent bars for symbol at timeframe.
	FetchBars(ctx context.Context, symbol, timeframe string, limit int) (domain.BarSeries, error)
	// Name identifies the venue for logging.
	Name() string
}
