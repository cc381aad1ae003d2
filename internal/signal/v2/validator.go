// Package v2 implements the rule-based validator: a fixed battery of
// indicator rules, each tagged with a direction, bucketed into supporting,
// conflicting, or neutral relative to the V1 scorer's proposed direction,
// producing a validation verdict and a confirmation score.
package v2

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

const (
	minConfidence     = 0.4
	minSupporting     = 3
	maxConflicting    = 2
	highConfirmation  = 50
	lowConfirmation   = 30
)

// Bucket is the classification of one rule's vote relative to V1's
// direction.
type Bucket string

const (
	BucketSupporting Bucket = "supporting"
	BucketConflicting Bucket = "conflicting"
	BucketNeutral     Bucket = "neutral"
)

// Vote is one rule's evaluation: which indicator fired, which bucket it
// landed in, and the direction it argues for.
type Vote struct {
	Name      string
	Bucket    Bucket
	Direction string // "long", "short", "both", "wait", or "" if it did not fire
}

// Result is the full V2 verdict for one snapshot against one V1 direction.
type Result struct {
	Votes            []Vote
	SupportingCount  int
	ConflictingCount int
	NeutralCount     int
	Confirmation     float64
	Valid            bool
}

// Validator evaluates the rule battery.
type Validator struct {
	logger *zap.Logger
}

// New constructs a Validator.
func New(logger *zap.Logger) *Validator {
	return &Validator{logger: logger.Named("signal.v2")}
}

// fired describes one rule's raw outcome before bucketing against V1
// direction.
type fired struct {
	name      string
	direction string // "", "long", "short", "both", "wait"
}

func rules(ind domain.IndicatorSnapshot) []fired {
	out := make([]fired, 0, 9)

	switch {
	case ind.RSI < 30:
		out = append(out, fired{"rsi", "long"})
	case ind.RSI > 70:
		out = append(out, fired{"rsi", "short"})
	default:
		out = append(out, fired{"rsi", ""})
	}

	switch {
	case ind.MACDHistogram > 5:
		out = append(out, fired{"macd_histogram", "long"})
	case ind.MACDHistogram < -5:
		out = append(out, fired{"macd_histogram", "short"})
	default:
		out = append(out, fired{"macd_histogram", ""})
	}

	switch {
	case ind.StochK < 20:
		out = append(out, fired{"stochastic", "long"})
	case ind.StochK > 80:
		out = append(out, fired{"stochastic", "short"})
	default:
		out = append(out, fired{"stochastic", ""})
	}

	lowerDist := math.Abs(ind.CurrentPrice-ind.BBLower) / math.Max(ind.CurrentPrice, 1e-9)
	upperDist := math.Abs(ind.CurrentPrice-ind.BBUpper) / math.Max(ind.CurrentPrice, 1e-9)
	switch {
	case lowerDist <= 0.005:
		out = append(out, fired{"bollinger_band", "long"})
	case upperDist <= 0.005:
		out = append(out, fired{"bollinger_band", "short"})
	default:
		out = append(out, fired{"bollinger_band", ""})
	}

	switch {
	case ind.EMA9 > ind.EMA20 && ind.EMA20 > ind.EMA50:
		out = append(out, fired{"ema_alignment", "long"})
	case ind.EMA9 < ind.EMA20 && ind.EMA20 < ind.EMA50:
		out = append(out, fired{"ema_alignment", "short"})
	default:
		out = append(out, fired{"ema_alignment", ""})
	}

	switch {
	case ind.ADX > 25:
		out = append(out, fired{"adx", "both"})
	case ind.ADX < 15:
		out = append(out, fired{"adx", "wait"})
	default:
		out = append(out, fired{"adx", ""})
	}

	switch {
	case ind.MCProbability > 0.65:
		out = append(out, fired{"mc_probability", "long"})
	case ind.MCProbability < 0.35:
		out = append(out, fired{"mc_probability", "short"})
	default:
		out = append(out, fired{"mc_probability", ""})
	}

	switch {
	case ind.ZScore < -2:
		out = append(out, fired{"z_score", "long"})
	case ind.ZScore > 2:
		out = append(out, fired{"z_score", "short"})
	default:
		out = append(out, fired{"z_score", ""})
	}

	switch {
	case ind.LRSlope > 0.002:
		out = append(out, fired{"lr_slope", "long"})
	case ind.LRSlope < -0.002:
		out = append(out, fired{"lr_slope", "short"})
	default:
		out = append(out, fired{"lr_slope", ""})
	}

	return out
}

// bucketOf classifies a fired rule relative to the V1 direction ("long" or
// "short").
func bucketOf(f fired, v1Direction string) Bucket {
	switch f.direction {
	case "":
		return BucketNeutral
	case "both":
		return BucketSupporting
	case "wait":
		return BucketConflicting
	case v1Direction:
		return BucketSupporting
	default:
		return BucketConflicting
	}
}

// Validate runs the rule battery against ind for the given V1 direction
// ("long" or "short") and V1 confidence.
func (v *Validator) Validate(ind domain.IndicatorSnapshot, v1Direction string, v1Confidence float64) Result {
	fs := rules(ind)

	var res Result
	res.Votes = make([]Vote, 0, len(fs))
	for _, f := range fs {
		b := bucketOf(f, v1Direction)
		res.Votes = append(res.Votes, Vote{Name: f.name, Bucket: b, Direction: f.direction})
		switch b {
		case BucketSupporting:
			res.SupportingCount++
		case BucketConflicting:
			res.ConflictingCount++
		case BucketNeutral:
			res.NeutralCount++
		}
	}

	total := res.SupportingCount + res.ConflictingCount + res.NeutralCount
	if total > 0 {
		res.Confirmation = float64(res.SupportingCount) / float64(total) * 100
	}

	res.Valid = v1Confidence >= minConfidence &&
		res.SupportingCount >= minSupporting &&
		res.ConflictingCount <= maxConflicting

	v.logger.Debug("v2 validated",
		zap.Int("supporting", res.SupportingCount),
		zap.Int("conflicting", res.ConflictingCount),
		zap.Float64("confirmation", res.Confirmation),
		zap.Bool("valid", res.Valid),
	)

	return res
}

// TopSupporting returns up to n names of the supporting votes, stably
// ordered, for use in human-readable reasoning strings.
func (r Result) TopSupporting(n int) []string {
	names := make([]string, 0, r.SupportingCount)
	for _, v := range r.Votes {
		if v.Bucket == BucketSupporting {
			names = append(names, v.Name)
		}
	}
	sort.Strings(names)
	if len(names) > n {
		names = names[:n]
	}
	return names
}

func (r Result) String() string {
	return fmt.Sprintf("supporting=%d conflicting=%d neutral=%d confirmation=%.1f valid=%v",
		r.SupportingCount, r.ConflictingCount, r.NeutralCount, r.Confirmation, r.Valid)
}
