// Package v1 implements the probabilistic category scorer: six weighted,
// bounded category scores aggregated into a raw and volatility-adjusted
// score, then mapped to an entry/wait action with an ATR-derived stop-loss
// and take-profit.
package v1

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

const (
	weightMomentum      = 0.25
	weightTrend         = 0.20
	weightVolatility    = 0.15
	weightVolume        = 0.10
	weightMeanReversion = 0.20
	weightProbability   = 0.10

	actionThreshold = 0.2
)

// Config tunes the V1 scorer. Zero value is not usable; use DefaultConfig.
type Config struct {
	ActionThreshold  float64
	ATRStopMult      float64
	ATRTakeProfitMult float64
}

// DefaultConfig returns the scorer configuration matching spec defaults.
func DefaultConfig() Config {
	return Config{
		ActionThreshold:   actionThreshold,
		ATRStopMult:       1.5,
		ATRTakeProfitMult: 3.0,
	}
}

// Scorer computes CategoryScores and a Signal from an IndicatorSnapshot.
type Scorer struct {
	logger *zap.Logger
	cfg    Config
}

// New constructs a Scorer.
func New(logger *zap.Logger, cfg Config) *Scorer {
	return &Scorer{logger: logger.Named("signal.v1"), cfg: cfg}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mean(xs ...float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// bbPosition returns the normalized distance of price from the middle band,
// clamped to [-1,1]; 0 if the band width is degenerate.
func bbPosition(price, bbUpper, bbMiddle float64) float64 {
	denom := bbUpper - bbMiddle
	if math.Abs(denom) < 1e-9 {
		return 0
	}
	return clamp((price-bbMiddle)/denom, -1, 1)
}

func emaAlignment(ema9, ema20, ema50 float64) float64 {
	if ema9 > ema20 && ema20 > ema50 {
		return 0.8
	}
	if ema9 < ema20 && ema20 < ema50 {
		return -0.8
	}
	return 0
}

// Score computes the six bounded category scores for a snapshot.
func (s *Scorer) Score(ind domain.IndicatorSnapshot) domain.CategoryScores {
	momentum := clamp(mean(
		-math.Tanh(2*(ind.RSI-50)/50),
		-math.Tanh(2*(ind.StochK-50)/50),
		math.Tanh(ind.CCI/100),
	), -1, 1)

	trend := clamp(mean(
		math.Tanh(ind.MACDHistogram/10),
		emaAlignment(ind.EMA9, ind.EMA20, ind.EMA50)*math.Min(ind.ADX/50, 1),
	), -1, 1)

	bbPos := bbPosition(ind.CurrentPrice, ind.BBUpper, ind.BBMiddle)
	volatility := clamp(
		-0.7*bbPos+0.3*math.Tanh((ind.GKVolatility-0.3)/0.2),
		-1, 1,
	)

	volumeVWAPTerm := 0.0
	if math.Abs(ind.VWAP) > 1e-9 {
		volumeVWAPTerm = math.Tanh(100 * (ind.CurrentPrice - ind.VWAP) / ind.VWAP)
	}
	volume := clamp(mean(
		math.Tanh(1.5*(ind.MFI-50)/50),
		volumeVWAPTerm,
	), -1, 1)

	zRev := -math.Tanh(ind.ZScore / 2)
	if ind.ZScore < -2 {
		zRev = 0.8
	} else if ind.ZScore > 2 {
		zRev = -0.8
	}
	bbRev := 0.0
	if bbPos < -0.8 {
		bbRev = 0.6
	} else if bbPos > 0.8 {
		bbRev = -0.6
	}
	meanReversion := clamp(mean(zRev, bbRev), -1, 1)

	probability := clamp(2*(ind.MCProbability-0.5), -1, 1)

	return domain.CategoryScores{
		Momentum:      momentum,
		Trend:         trend,
		Volatility:    volatility,
		Volume:        volume,
		MeanReversion: meanReversion,
		Probability:   probability,
	}
}

// volatilityFactor dampens scores as Garman-Klass volatility rises,
// returning a value in [0.5, 1.0].
func volatilityFactor(gkVol float64) float64 {
	return 1 - 0.5*clamp((gkVol-0.2)/0.4, 0, 1)
}

// Evaluate runs the full V1 pipeline: category scores, raw/adjusted score,
// action mapping, and ATR-derived stop/target levels.
func (s *Scorer) Evaluate(symbol string, price decimal.Decimal, ind domain.IndicatorSnapshot) domain.Signal {
	scores := s.Score(ind)

	rawScore := weightMomentum*scores.Momentum +
		weightTrend*scores.Trend +
		weightVolatility*scores.Volatility +
		weightVolume*scores.Volume +
		weightMeanReversion*scores.MeanReversion +
		weightProbability*scores.Probability

	adjustedScore := rawScore * volatilityFactor(ind.GKVolatility)
	if ind.GKVolatility > 0.9 {
		adjustedScore *= 0.3
	}

	action := domain.ActionWait
	threshold := s.cfg.ActionThreshold
	if threshold == 0 {
		threshold = actionThreshold
	}
	switch {
	case adjustedScore > threshold:
		action = domain.ActionEnterLong
	case adjustedScore < -threshold:
		action = domain.ActionEnterShort
	}

	confidence := clamp(math.Abs(adjustedScore), 0, 1)

	atr := ind.ATR
	priceF, _ := price.Float64()
	if atr < 1e-9 {
		atr = priceF * 0.005
	}
	slMult := s.cfg.ATRStopMult
	if slMult == 0 {
		slMult = 1.5
	}
	tpMult := s.cfg.ATRTakeProfitMult
	if tpMult == 0 {
		tpMult = 3.0
	}
	slDist := decimal.NewFromFloat(atr * slMult)
	tpDist := decimal.NewFromFloat(atr * tpMult)

	var stopLoss, takeProfit decimal.Decimal
	var riskReward float64
	switch action {
	case domain.ActionEnterLong:
		stopLoss = price.Sub(slDist)
		takeProfit = price.Add(tpDist)
		riskReward = tpMult / slMult
	case domain.ActionEnterShort:
		stopLoss = price.Add(slDist)
		takeProfit = price.Sub(tpDist)
		riskReward = tpMult / slMult
	default:
		stopLoss = price
		takeProfit = price
	}

	s.logger.Debug("v1 evaluated",
		zap.String("symbol", symbol),
		zap.Float64("raw_score", rawScore),
		zap.Float64("adjusted_score", adjustedScore),
		zap.String("action", string(action)),
	)

	return domain.Signal{
		Symbol:            symbol,
		Action:            action,
		Confidence:        confidence,
		RawScore:          rawScore,
		AdjustedScore:     adjustedScore,
		Price:             price,
		StopLoss:          stopLoss,
		TakeProfit:        takeProfit,
		RiskReward:        riskReward,
		CategoryScores:    scores,
		IndicatorSnapshot: ind,
	}
}
