// Package exit implements the dynamic exit manager: eight ordered checks
// evaluated per open position per cycle, the first matching check winning,
// except the breakeven advisory which never closes a position.
package exit

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Config carries the per-regime trailing-stop, time-limit, and
// regime-change thresholds.
type Config struct {
	TrailActivationPnLPct float64
	TrailPctByRegime      map[domain.RegimeLabel]float64
	BreakevenPnLPct       float64
	TimeLimitByRegime     map[domain.RegimeLabel]time.Duration
	TimeLimitPnLCeiling   float64
	TrendDegradePnLCeiling float64
	RangeDegradePnLCeiling float64
	RebalanceNetExposurePct float64
}

// DefaultConfig returns the thresholds fixed by the specification.
func DefaultConfig() Config {
	return Config{
		TrailActivationPnLPct: 0.015,
		TrailPctByRegime: map[domain.RegimeLabel]float64{
			domain.RegimeTrendUp:   0.020,
			domain.RegimeTrendDown: 0.020,
			domain.RegimeRange:     0.015,
			domain.RegimeChop:      0.010,
			domain.RegimeVolatile:  0.025,
			domain.RegimeUnknown:   0.015,
		},
		BreakevenPnLPct: 0.01,
		TimeLimitByRegime: map[domain.RegimeLabel]time.Duration{
			domain.RegimeTrendUp:   240 * time.Minute,
			domain.RegimeTrendDown: 240 * time.Minute,
			domain.RegimeRange:     120 * time.Minute,
			domain.RegimeChop:      60 * time.Minute,
			domain.RegimeVolatile:  30 * time.Minute,
			domain.RegimeUnknown:   180 * time.Minute,
		},
		TimeLimitPnLCeiling:     0.03,
		TrendDegradePnLCeiling:  0.05,
		RangeDegradePnLCeiling:  0.02,
		RebalanceNetExposurePct: 0.50,
	}
}

// Result is the outcome of evaluating one open position.
type Result struct {
	Exit              bool
	Reason            string
	BreakevenAdvisory bool
}

// Manager evaluates exit conditions for open positions.
type Manager struct {
	logger *zap.Logger
	cfg    Config
}

// New constructs a Manager.
func New(logger *zap.Logger, cfg Config) *Manager {
	return &Manager{logger: logger.Named("exit"), cfg: cfg}
}

func isTrend(label domain.RegimeLabel) bool {
	return label == domain.RegimeTrendUp || label == domain.RegimeTrendDown
}

// Evaluate runs the eight ordered checks against a live position. mark is
// the current mark price, currentRegime and currentInd are this cycle's
// regime/indicator reads for the position's symbol, and snapshot is the
// portfolio exposure view computed this cycle.
func (m *Manager) Evaluate(pos domain.OpenPosition, mark decimal.Decimal, currentRegime domain.Regime, currentInd domain.IndicatorSnapshot, snapshot domain.PortfolioSnapshot) Result {
	pnlPct := pos.PnLPct(mark)

	// 1. Hard stop.
	if m.crossed(pos, mark, pos.StopLoss, false) {
		return Result{Exit: true, Reason: "hard_stop"}
	}

	// 2. Hard take-profit.
	if m.crossed(pos, mark, pos.TakeProfit, true) {
		return Result{Exit: true, Reason: "hard_take_profit"}
	}

	// 3. Trailing stop.
	if pnlPct > m.cfg.TrailActivationPnLPct {
		trailPct := m.cfg.TrailPctByRegime[currentRegime.Label]
		if trailPct == 0 {
			trailPct = m.cfg.TrailPctByRegime[domain.RegimeUnknown]
		}
		if m.trailingStopHit(pos, mark, trailPct) {
			return Result{Exit: true, Reason: "trailing_stop"}
		}
	}

	// 4. Breakeven advisory (never closes).
	breakeven := pnlPct > m.cfg.BreakevenPnLPct

	// 5. Time limit (only while pnl below the ceiling).
	if pnlPct < m.cfg.TimeLimitPnLCeiling {
		limit := m.cfg.TimeLimitByRegime[currentRegime.Label]
		if limit == 0 {
			limit = m.cfg.TimeLimitByRegime[domain.RegimeUnknown]
		}
		if time.Since(pos.EntryTime) >= limit {
			return Result{Exit: true, Reason: "time_limit", BreakevenAdvisory: breakeven}
		}
	}

	// 6. Regime-change exit.
	if isTrend(pos.EntryRegime) && (currentRegime.Label == domain.RegimeChop || currentRegime.Label == domain.RegimeVolatile) && pnlPct < m.cfg.TrendDegradePnLCeiling {
		return Result{Exit: true, Reason: "regime_change", BreakevenAdvisory: breakeven}
	}
	if pos.EntryRegime == domain.RegimeRange && isTrend(currentRegime.Label) && pnlPct < m.cfg.RangeDegradePnLCeiling {
		return Result{Exit: true, Reason: "regime_change", BreakevenAdvisory: breakeven}
	}

	// 7. Portfolio rebalance.
	if m.rebalanceExit(pos, snapshot) {
		return Result{Exit: true, Reason: "portfolio_rebalance", BreakevenAdvisory: breakeven}
	}

	// 8. Thesis invalidation.
	if m.thesisInvalidated(pos, currentInd) {
		return Result{Exit: true, Reason: "thesis_invalidation", BreakevenAdvisory: breakeven}
	}

	return Result{Exit: false, BreakevenAdvisory: breakeven}
}

func (m *Manager) crossed(pos domain.OpenPosition, mark, level decimal.Decimal, isTakeProfit bool) bool {
	long := pos.Side == domain.SideBuy
	favorable := isTakeProfit
	if long {
		if favorable {
			return mark.GreaterThanOrEqual(level)
		}
		return mark.LessThanOrEqual(level)
	}
	if favorable {
		return mark.LessThanOrEqual(level)
	}
	return mark.GreaterThanOrEqual(level)
}

func (m *Manager) trailingStopHit(pos domain.OpenPosition, mark decimal.Decimal, trailPct float64) bool {
	trail := decimal.NewFromFloat(trailPct)
	if pos.Side == domain.SideBuy {
		trailLevel := pos.HighestPrice.Mul(decimal.NewFromFloat(1).Sub(trail))
		return mark.LessThanOrEqual(trailLevel)
	}
	trailLevel := pos.LowestPrice.Mul(decimal.NewFromFloat(1).Add(trail))
	return mark.GreaterThanOrEqual(trailLevel)
}

func (m *Manager) rebalanceExit(pos domain.OpenPosition, snapshot domain.PortfolioSnapshot) bool {
	long := snapshot.ByLongShort[domain.SideBuy]
	short := snapshot.ByLongShort[domain.SideSell]
	total := long.Add(short)
	if total.IsZero() {
		return false
	}
	longF, _ := long.Div(total).Float64()
	heavySide := domain.SideBuy
	heavyPct := longF
	if longF < 0.5 {
		heavySide = domain.SideSell
		heavyPct = 1 - longF
	}
	return heavyPct > m.cfg.RebalanceNetExposurePct && pos.Side == heavySide
}

func (m *Manager) thesisInvalidated(pos domain.OpenPosition, ind domain.IndicatorSnapshot) bool {
	reason := strings.ToLower(pos.EntryReason)
	switch {
	case strings.Contains(reason, "rsi") && strings.Contains(reason, "oversold") && pos.Side == domain.SideBuy:
		return ind.RSI > 70
	case strings.Contains(reason, "rsi") && strings.Contains(reason, "overbought") && pos.Side == domain.SideSell:
		return ind.RSI < 30
	case strings.Contains(reason, "macd") && strings.Contains(reason, "bullish") && pos.Side == domain.SideBuy:
		return ind.MACDHistogram < 0
	case strings.Contains(reason, "macd") && strings.Contains(reason, "bearish") && pos.Side == domain.SideSell:
		return ind.MACDHistogram > 0
	default:
		return false
	}
}
