// Package regime classifies market state from a bar series and indicator
// snapshot via a fixed decision tree, and derives the risk multiplier and
// tradeability flag that gate the rest of the pipeline.
package regime

import (
	"math"

	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Config tunes the regime detector's thresholds.
type Config struct {
	VolatileGKThreshold   float64
	StrongTrendADX        float64
	TrendADX              float64
	LowADX                float64
	RangeStdevRatio       float64
	VolHighGK             float64
	StrongTrendBoostADX   float64
	ChopConfidenceCutoff  float64
	MinTradeableConfidence float64
	UntradeableGK         float64
}

// DefaultConfig returns the thresholds fixed by the specification.
func DefaultConfig() Config {
	return Config{
		VolatileGKThreshold:    0.8,
		StrongTrendADX:         35,
		TrendADX:               25,
		LowADX:                 20,
		RangeStdevRatio:        0.02,
		VolHighGK:              0.5,
		StrongTrendBoostADX:    40,
		ChopConfidenceCutoff:   0.6,
		MinTradeableConfidence: 0.3,
		UntradeableGK:          0.9,
	}
}

// Detector classifies regimes from bar series and indicator snapshots.
type Detector struct {
	logger *zap.Logger
	cfg    Config
}

// New constructs a Detector.
func New(logger *zap.Logger, cfg Config) *Detector {
	return &Detector{logger: logger.Named("regime"), cfg: cfg}
}

func stdevRatio(closes []float64) float64 {
	n := len(closes)
	if n == 0 {
		return 0
	}
	if n > 20 {
		closes = closes[n-20:]
		n = 20
	}
	mean := 0.0
	for _, c := range closes {
		mean += c
	}
	mean /= float64(n)
	if math.Abs(mean) < 1e-9 {
		return 0
	}
	variance := 0.0
	for _, c := range closes {
		d := c - mean
		variance += d * d
	}
	variance /= float64(n)
	return math.Sqrt(variance) / mean
}

func emaBullish(ind domain.IndicatorSnapshot) bool {
	return ind.EMA9 > ind.EMA20 && ind.EMA20 > ind.EMA50
}

func emaBearish(ind domain.IndicatorSnapshot) bool {
	return ind.EMA9 < ind.EMA20 && ind.EMA20 < ind.EMA50
}

// Classify runs the decision tree and returns a Regime with risk multiplier
// and tradeability already resolved.
func (d *Detector) Classify(series domain.BarSeries, ind domain.IndicatorSnapshot) domain.Regime {
	label, confidence := d.classifyLabel(series, ind)

	mult := d.riskMultiplier(label, ind)

	r := domain.Regime{
		Label:          label,
		Confidence:     confidence,
		RiskMultiplier: mult,
		Volatility:     ind.GKVolatility,
		ADX:            ind.ADX,
	}
	r.Tradeable = d.tradeable(r)

	d.logger.Debug("regime classified",
		zap.String("symbol", series.Symbol),
		zap.String("label", string(label)),
		zap.Float64("confidence", confidence),
		zap.Float64("risk_multiplier", mult),
		zap.Bool("tradeable", r.Tradeable),
	)

	return r
}

func (d *Detector) classifyLabel(series domain.BarSeries, ind domain.IndicatorSnapshot) (domain.RegimeLabel, float64) {
	switch {
	case ind.GKVolatility > d.cfg.VolatileGKThreshold:
		return domain.RegimeVolatile, 0.9

	case ind.ADX > d.cfg.StrongTrendADX:
		// A strong-trend-strength ADX reading still needs EMA alignment to
		// confirm direction; without it this falls straight to CHOP rather
		// than through the plain-trend branch below.
		if emaBullish(ind) && ind.CurrentPrice > ind.EMA50 {
			return domain.RegimeTrendUp, math.Min(ind.ADX/50, 1)
		}
		if emaBearish(ind) && ind.CurrentPrice < ind.EMA50 {
			return domain.RegimeTrendDown, math.Min(ind.ADX/50, 1)
		}
		return domain.RegimeChop, 0.5

	case ind.ADX > d.cfg.TrendADX:
		if ind.CurrentPrice > ind.EMA50 {
			return domain.RegimeTrendUp, ind.ADX / 40
		}
		return domain.RegimeTrendDown, ind.ADX / 40

	case ind.ADX < d.cfg.LowADX:
		if stdevRatio(series.CloseFloats()) < d.cfg.RangeStdevRatio {
			return domain.RegimeRange, 1 - ind.ADX/20
		}
		return domain.RegimeChop, 0.7

	default:
		return domain.RegimeChop, 0.5
	}
}

func (d *Detector) riskMultiplier(label domain.RegimeLabel, ind domain.IndicatorSnapshot) float64 {
	var base float64
	volHighPenalty := false
	strongTrendBoost := false

	switch label {
	case domain.RegimeTrendUp, domain.RegimeTrendDown:
		base = 1.3
		volHighPenalty = true
		strongTrendBoost = ind.ADX > d.cfg.StrongTrendBoostADX
	case domain.RegimeRange:
		base = 0.8
		volHighPenalty = true
	case domain.RegimeChop:
		base = 0.4
		volHighPenalty = true
	case domain.RegimeVolatile:
		base = 0.3
	default:
		base = 0.7
		volHighPenalty = true
	}

	mult := base
	if volHighPenalty && ind.GKVolatility > d.cfg.VolHighGK {
		mult *= 0.7
	}
	if strongTrendBoost {
		mult *= 1.1
	}

	if mult < 0.3 {
		mult = 0.3
	}
	if mult > 1.5 {
		mult = 1.5
	}
	return mult
}

func (d *Detector) tradeable(r domain.Regime) bool {
	if r.Label == domain.RegimeVolatile {
		return false
	}
	if r.Label == domain.RegimeChop && r.Confidence > d.cfg.ChopConfidenceCutoff {
		return false
	}
	if r.Confidence < d.cfg.MinTradeableConfidence {
		return false
	}
	if r.Volatility > d.cfg.UntradeableGK {
		return false
	}
	return true
}
