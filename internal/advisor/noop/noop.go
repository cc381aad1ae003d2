// Package noop implements an Advisor that approves every signal without
// consulting anything external. It is the default so the trading loop
// behaves identically whether or not an LLM advisor is configured.
package noop

import (
	"context"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
	"github.com/atlas-desktop/scalper-core/internal/advisor"
)

// Advisor always approves.
type Advisor struct{}

// New constructs a no-op Advisor.
func New() *Advisor { return &Advisor{} }

// Name identifies the advisor for logging.
func (Advisor) Name() string { return "noop" }

// Validate always approves at the signal's own confidence.
func (Advisor) Validate(ctx context.Context, signal domain.Signal, ind domain.IndicatorSnapshot) (advisor.Verdict, error) {
	return advisor.Verdict{Approved: true, Confidence: signal.Confidence, Reasoning: "advisor disabled"}, nil
}
