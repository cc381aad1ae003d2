// Package arbiter combines the V1 probabilistic signal with the V2 rule
// validator's verdict into one final Signal, adjusting confidence per the
// agreement/disagreement table and composing a human-readable reasoning
// string from the top supporting indicators. The confidence*1.1 agreement
// boost is clamped to [0,1] after the multiply rather than before, which
// matters only in the rare case the pre-clamp product would exceed 1.
package arbiter

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/internal/signal/v2"
	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

const (
	highConfirmation = 50.0
	lowConfirmation  = 30.0
)

// Arbiter produces the final trading Signal from a V1 result and a V2
// Result.
type Arbiter struct {
	logger *zap.Logger
}

// New constructs an Arbiter.
func New(logger *zap.Logger) *Arbiter {
	return &Arbiter{logger: logger.Named("signal.arbiter")}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Decide applies the arbitration table to v1's output and v2's verdict,
// returning the final Signal (a shallow-adjusted copy of v1Signal).
func (a *Arbiter) Decide(v1Signal domain.Signal, v2Result v2.Result) domain.Signal {
	out := v1Signal

	if v1Signal.Action == domain.ActionWait {
		out.Reasoning = "v1 proposed WAIT"
		return out
	}

	switch {
	case v2Result.Valid && v2Result.Confirmation > highConfirmation:
		out.Confidence = clamp01(v1Signal.Confidence * 1.1)
	case v2Result.Valid && v2Result.Confirmation >= lowConfirmation:
		// unchanged
	case v2Result.Valid:
		out.Confidence = clamp01(v1Signal.Confidence * 0.7)
	case !v2Result.Valid && v1Signal.Confidence > 0.7:
		out.Confidence = clamp01(v1Signal.Confidence * 0.8)
	default:
		out.Action = domain.ActionWait
		out.Confidence = clamp01(v1Signal.Confidence * 0.5)
	}

	out.Reasoning = a.reasoning(v1Signal, v2Result)

	a.logger.Debug("arbiter decided",
		zap.String("symbol", v1Signal.Symbol),
		zap.String("v1_action", string(v1Signal.Action)),
		zap.String("final_action", string(out.Action)),
		zap.Float64("v1_confidence", v1Signal.Confidence),
		zap.Float64("final_confidence", out.Confidence),
		zap.Bool("v2_valid", v2Result.Valid),
		zap.Float64("v2_confirmation", v2Result.Confirmation),
	)

	return out
}

func (a *Arbiter) reasoning(v1Signal domain.Signal, v2Result v2.Result) string {
	top := v2Result.TopSupporting(3)
	if len(top) == 0 {
		return fmt.Sprintf("%s on %s: confirmation %.1f%%, no supporting indicators",
			v1Signal.Action, v1Signal.Symbol, v2Result.Confirmation)
	}
	return fmt.Sprintf("%s on %s: confirmation %.1f%%, supported by %s",
		v1Signal.Action, v1Signal.Symbol, v2Result.Confirmation, strings.Join(top, ", "))
}
