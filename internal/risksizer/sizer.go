// Package risksizer implements the eight-step position-sizing algorithm:
// expectancy gate, Kelly or exploration-mode base sizing, regime and
// volatility adjustment, and a hard notional cap. It also derives
// regime-adjusted stop-loss/take-profit distances.
package risksizer

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Config tunes the sizer. DefaultConfig returns the specification's fixed
// defaults.
type Config struct {
	KellyFraction              float64
	ExplorationBaseRiskPct     float64
	ExplorationHighConfRiskPct float64
	ExplorationConfThreshold   float64
	MaxNotionalPct             float64
	StopATRMult                float64
}

// DefaultConfig returns the sizer configuration matching spec defaults.
func DefaultConfig() Config {
	return Config{
		KellyFraction:              0.25,
		ExplorationBaseRiskPct:     0.005,
		ExplorationHighConfRiskPct: 0.0075,
		ExplorationConfThreshold:   0.7,
		MaxNotionalPct:             0.10,
		StopATRMult:                1.5,
	}
}

// Request bundles the inputs the sizer needs for one candidate.
type Request struct {
	Balance      decimal.Decimal
	Entry        decimal.Decimal
	Stop         decimal.Decimal
	Leverage     float64
	Symbol       string
	Regime       domain.Regime
	V1Confidence float64
	Kelly        domain.KellyInputs
	KellyUsable  bool
}

// Result is the sizer's output, with the reason recorded whenever size is
// zero or capped, for audit logging.
type Result struct {
	Size           decimal.Decimal
	RiskAmount     decimal.Decimal
	LimitingFactor string
}

// Sizer computes position size from expectancy, Kelly/exploration inputs,
// regime, and volatility.
type Sizer struct {
	logger *zap.Logger
	cfg    Config
}

// New constructs a Sizer.
func New(logger *zap.Logger, cfg Config) *Sizer {
	return &Sizer{logger: logger.Named("risksizer"), cfg: cfg}
}

func volatilityPenalty(vol float64) float64 {
	switch {
	case vol < 0.3:
		return 1.0
	case vol < 0.5:
		return 0.85
	case vol < 0.7:
		return 0.65
	case vol < 0.9:
		return 0.45
	default:
		return 0.3
	}
}

// Size runs the eight-step sizing algorithm.
func (s *Sizer) Size(req Request) Result {
	zero := Result{Size: decimal.Zero, RiskAmount: decimal.Zero}

	if req.KellyUsable && req.Kelly.Expectancy <= 0 {
		zero.LimitingFactor = "negative_expectancy"
		return zero
	}

	denom := req.Entry.Sub(req.Stop).Abs()
	denomF, _ := denom.Float64()
	if math.Abs(denomF) < 1e-12 {
		zero.LimitingFactor = "zero_stop_distance"
		return zero
	}

	var riskAmount decimal.Decimal
	if req.KellyUsable {
		kellyAdj := req.Kelly.KellyFractionRaw * s.cfg.KellyFraction
		if kellyAdj <= 0 {
			zero.LimitingFactor = "kelly_non_positive"
			return zero
		}
		riskAmount = req.Balance.Mul(decimal.NewFromFloat(kellyAdj))
	} else {
		riskPct := s.cfg.ExplorationBaseRiskPct
		if req.V1Confidence > s.cfg.ExplorationConfThreshold {
			riskPct = s.cfg.ExplorationHighConfRiskPct
		}
		riskAmount = req.Balance.Mul(decimal.NewFromFloat(riskPct))
	}

	size := riskAmount.Div(denom).Mul(decimal.NewFromFloat(req.Leverage))

	size = size.Mul(decimal.NewFromFloat(req.Regime.RiskMultiplier))
	size = size.Mul(decimal.NewFromFloat(volatilityPenalty(req.Regime.Volatility)))

	limiting := ""
	if !req.Entry.IsZero() {
		maxSize := req.Balance.Mul(decimal.NewFromFloat(s.cfg.MaxNotionalPct)).Div(req.Entry)
		if size.GreaterThan(maxSize) {
			size = maxSize
			limiting = "notional_cap"
		}
	}

	if size.IsNegative() {
		size = decimal.Zero
		limiting = "floored_at_zero"
	}

	s.logger.Debug("position sized",
		zap.String("symbol", req.Symbol),
		zap.String("size", size.String()),
		zap.Bool("kelly_usable", req.KellyUsable),
		zap.String("limiting_factor", limiting),
	)

	return Result{Size: size, RiskAmount: riskAmount, LimitingFactor: limiting}
}

// stopRegimeFactor returns the stop-loss ATR multiplier factor for a regime.
func stopRegimeFactor(label domain.RegimeLabel) float64 {
	switch label {
	case domain.RegimeVolatile:
		return 1.5
	case domain.RegimeTrendUp, domain.RegimeTrendDown:
		return 1.2
	case domain.RegimeRange:
		return 0.9
	case domain.RegimeChop:
		return 0.8
	default:
		return 1.0
	}
}

// takeProfitRiskReward returns the risk/reward multiplier used to derive
// the take-profit distance from the stop-loss distance, for a regime.
func takeProfitRiskReward(label domain.RegimeLabel) float64 {
	switch label {
	case domain.RegimeTrendUp, domain.RegimeTrendDown:
		return 1.2
	case domain.RegimeRange:
		return 0.8
	case domain.RegimeChop:
		return 0.7
	default:
		return 1.0
	}
}

// AdjustStops recomputes stop-loss and take-profit distances (not
// absolute prices) from ATR for the given regime, per spec 4.4.2.
func (s *Sizer) AdjustStops(atr float64, label domain.RegimeLabel) (slDistance, tpDistance float64) {
	regimeFactor := stopRegimeFactor(label)
	sl := atr * s.cfg.StopATRMult * regimeFactor
	tp := sl * takeProfitRiskReward(label) * regimeFactor
	return sl, tp
}
