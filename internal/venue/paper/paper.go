// Package paper implements a deterministic in-memory venue.Venue used for
// dry-run trading and tests: orders fill instantly at the last pushed
// mark price with zero slippage, and bar history is whatever the caller
// seeds via SetBars.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/scalper-core/internal/ids"
	"github.com/atlas-desktop/scalper-core/internal/venue"
	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Venue is a deterministic paper-trading simulator.
type Venue struct {
	mu       sync.RWMutex
	balance  decimal.Decimal
	marks    map[string]decimal.Decimal
	bars     map[string]domain.BarSeries
	commission decimal.Decimal
}

// New constructs a paper Venue with the given starting balance.
func New(startingBalance decimal.Decimal) *Venue {
	return &Venue{
		balance:    startingBalance,
		marks:      make(map[string]decimal.Decimal),
		bars:       make(map[string]domain.BarSeries),
		commission: decimal.NewFromFloat(0.0004),
	}
}

// SetMark sets the current mark price for symbol, used by SubmitOrder,
// ClosePosition, and MarkPrice.
func (v *Venue) SetMark(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marks[symbol] = price
}

// SetBars seeds the bar history FetchBars returns for symbol.
func (v *Venue) SetBars(symbol string, series domain.BarSeries) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bars[symbol] = series
}

// Name identifies the venue for logging.
func (v *Venue) Name() string { return "paper" }

// SubmitOrder fills req immediately at the current mark price.
func (v *Venue) SubmitOrder(ctx context.Context, req venue.OrderRequest) (venue.Fill, error) {
	v.mu.RLock()
	mark, ok := v.marks[req.Symbol]
	v.mu.RUnlock()
	if !ok {
		return venue.Fill{}, fmt.Errorf("paper venue: no mark price set for %s", req.Symbol)
	}

	notional := req.Size.Mul(mark)
	commission := notional.Mul(v.commission)

	return venue.Fill{
		OrderID:     ids.New("ord"),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Price:       mark,
		Size:        req.Size,
		Commission:  commission,
		Timestamp:   time.Now(),
		SlippagePct: 0,
	}, nil
}

// ClosePosition fills the closing order immediately at the current mark
// price.
func (v *Venue) ClosePosition(ctx context.Context, symbol string, side domain.OrderSide, size decimal.Decimal) (venue.Fill, error) {
	return v.SubmitOrder(ctx, venue.OrderRequest{Symbol: symbol, Side: side, Size: size})
}

// MarkPrice returns the current seeded mark price for symbol.
func (v *Venue) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	mark, ok := v.marks[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper venue: no mark price set for %s", symbol)
	}
	return mark, nil
}

// Balance returns the simulated account balance.
func (v *Venue) Balance(ctx context.Context) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balance, nil
}

// FetchBars returns the seeded bar series for symbol, trimmed to the most
// recent limit bars.
func (v *Venue) FetchBars(ctx context.Context, symbol, timeframe string, limit int) (domain.BarSeries, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	series, ok := v.bars[symbol]
	if !ok {
		return domain.BarSeries{}, fmt.Errorf("paper venue: no bars seeded for %s", symbol)
	}
	if limit > 0 && len(series.Bars) > limit {
		series.Bars = series.Bars[len(series.Bars)-limit:]
	}
	return series, nil
}

// AdjustBalance credits or debits the simulated balance, e.g. after a
// closed trade's realized PnL.
func (v *Venue) AdjustBalance(delta decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance = v.balance.Add(delta)
}
