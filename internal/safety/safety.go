// Package safety implements the final account-level preflight check the
// trading loop runs after circuit breaker, advisor, risk sizing, and
// portfolio admission have all already cleared a candidate: the symbol
// allowlist, the venue leverage cap, and the daily-loss kill switch.
package safety

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config carries the account-level caps. Universe is the fixed symbol
// allowlist; an order for any other symbol is rejected outright.
type Config struct {
	Universe        map[string]bool
	MaxOpenPositions int
	MaxLeverage      float64
	MaxDailyLossPct  float64
}

// NewConfig builds a Config from a symbol list and the three numeric caps.
func NewConfig(symbols []string, maxOpenPositions int, maxLeverage, maxDailyLossPct float64) Config {
	universe := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		universe[s] = true
	}
	return Config{
		Universe:         universe,
		MaxOpenPositions: maxOpenPositions,
		MaxLeverage:      maxLeverage,
		MaxDailyLossPct:  maxDailyLossPct,
	}
}

// Checker runs the preflight checks. It is stateless beyond its Config;
// the day's realized PnL and open-position count are supplied by the
// caller each time since the trading loop is the sole owner of that state.
type Checker struct {
	logger *zap.Logger
	cfg    Config
}

// New constructs a Checker.
func New(logger *zap.Logger, cfg Config) *Checker {
	return &Checker{logger: logger.Named("safety"), cfg: cfg}
}

// Allow runs the preflight battery for one candidate entry. dailyPnL is the
// sum of today's closed-trade PnL (negative means loss); startingBalance is
// the balance the daily loss percentage is measured against. Returns
// ("", nil) when the candidate passes, or a rejection reason otherwise.
func (c *Checker) Allow(symbol string, leverage float64, openPositionCount int, dailyPnL, startingBalance decimal.Decimal) (string, error) {
	if !c.cfg.Universe[symbol] {
		return "symbol_not_in_universe", nil
	}
	if leverage > c.cfg.MaxLeverage {
		return "leverage_exceeds_cap", nil
	}
	if openPositionCount >= c.cfg.MaxOpenPositions {
		return "max_open_positions", nil
	}
	if startingBalance.IsPositive() {
		lossPct, _ := dailyPnL.Div(startingBalance).Float64()
		if lossPct <= -c.cfg.MaxDailyLossPct {
			c.logger.Warn("daily loss cap breached",
				zap.String("symbol", symbol),
				zap.Float64("loss_pct", lossPct),
				zap.Float64("cap", c.cfg.MaxDailyLossPct),
			)
			return "max_daily_loss", nil
		}
	}
	return "", nil
}

func (c *Checker) String() string {
	return fmt.Sprintf("safety(maxOpen=%d maxLeverage=%.0f maxDailyLoss=%.2f)",
		c.cfg.MaxOpenPositions, c.cfg.MaxLeverage, c.cfg.MaxDailyLossPct)
}
