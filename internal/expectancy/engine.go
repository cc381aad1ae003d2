// Package expectancy computes rolling win-rate, payoff-ratio, and Kelly
// statistics from a closed-trade history, and detects degradation by
// comparing a recent window against a longer one.
package expectancy

import (
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// MinSampleSize is the sample-size gate for both Kelly usage and
// degradation detection, fixed at 30 per the specification's Design Notes
// (the original source used 20 in one place and 30 in another).
const MinSampleSize = 30

const degradationWindow = 100

// Engine computes expectancy statistics from ClosedTrade sets.
type Engine struct {
	logger *zap.Logger
}

// New constructs an Engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("expectancy")}
}

// rawStats are the unconditional statistics of a trade set, valid for any
// sample size (callers decide whether the size is large enough to act on).
type rawStats struct {
	winRate    float64
	avgWin     float64
	avgLoss    float64 // positive magnitude
	payoff     float64 // 0 if either side is empty
	expectancy float64
	sampleSize int
}

func computeRawStats(trades []domain.ClosedTrade) rawStats {
	var wins, losses int
	var sumWin, sumLoss float64

	for _, t := range trades {
		pnl, _ := t.PnL.Float64()
		if pnl > 0 {
			wins++
			sumWin += pnl
		} else if pnl < 0 {
			losses++
			sumLoss += -pnl
		}
	}

	total := len(trades)
	if total == 0 {
		return rawStats{}
	}

	winRate := float64(wins) / float64(total)
	lossRate := float64(losses) / float64(total)

	avgWin := 0.0
	if wins > 0 {
		avgWin = sumWin / float64(wins)
	}
	avgLoss := 0.0
	if losses > 0 {
		avgLoss = sumLoss / float64(losses)
	}

	payoff := 0.0
	if wins > 0 && losses > 0 && avgLoss > 0 {
		payoff = avgWin / avgLoss
	}

	expectancy := winRate*avgWin - lossRate*avgLoss

	return rawStats{
		winRate:    winRate,
		avgWin:     avgWin,
		avgLoss:    avgLoss,
		payoff:     payoff,
		expectancy: expectancy,
		sampleSize: total,
	}
}

func kellyFractionRaw(winRate, payoff float64) float64 {
	if payoff <= 0 {
		return 0
	}
	p := winRate
	b := payoff
	k := (p*b - (1 - p)) / b
	if k < 0 {
		return 0
	}
	return k
}

// Compute returns the KellyInputs for trades, and ok=false if the sample
// size is below MinSampleSize (in which case the returned struct's fields
// should not be relied upon for sizing decisions).
func (e *Engine) Compute(trades []domain.ClosedTrade) (domain.KellyInputs, bool) {
	stats := computeRawStats(trades)

	ki := domain.KellyInputs{
		WinRate:          stats.winRate,
		PayoffRatio:      stats.payoff,
		KellyFractionRaw: kellyFractionRaw(stats.winRate, stats.payoff),
		SampleSize:       stats.sampleSize,
		Expectancy:       stats.expectancy,
	}

	ok := stats.sampleSize >= MinSampleSize

	e.logger.Debug("expectancy computed",
		zap.Int("sample_size", ki.SampleSize),
		zap.Float64("win_rate", ki.WinRate),
		zap.Float64("expectancy", ki.Expectancy),
		zap.Bool("kelly_usable", ok),
	)

	return ki, ok
}

// lastN returns the most recent n trades (trades is assumed oldest-first),
// or all of them if there are fewer than n.
func lastN(trades []domain.ClosedTrade, n int) []domain.ClosedTrade {
	if len(trades) <= n {
		return trades
	}
	return trades[len(trades)-n:]
}

// DetectDegradation compares the most recent MinSampleSize trades (short
// window) against the most recent degradationWindow trades (long window).
// It reports degraded=true when the short window's win rate has dropped
// more than 20% relative to the long window's, or its expectancy has
// dropped more than 30%. Returns ok=false when there are fewer than
// MinSampleSize trades to compare.
func (e *Engine) DetectDegradation(trades []domain.ClosedTrade) (degraded bool, reason string, ok bool) {
	if len(trades) < MinSampleSize {
		return false, "", false
	}

	short := computeRawStats(lastN(trades, MinSampleSize))
	long := computeRawStats(lastN(trades, degradationWindow))

	if long.winRate > 0 {
		winRateDrop := (long.winRate - short.winRate) / long.winRate
		if winRateDrop > 0.20 {
			return true, "win_rate_drop", true
		}
	}

	if long.expectancy > 0 {
		expectancyDrop := (long.expectancy - short.expectancy) / long.expectancy
		if expectancyDrop > 0.30 {
			return true, "expectancy_drop", true
		}
	}

	return false, "", true
}
