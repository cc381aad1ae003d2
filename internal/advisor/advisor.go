// Package advisor defines the optional second-opinion contract: before a
// signal is acted on, an Advisor may be consulted to validate or veto it.
// The trading loop always evaluates its own signal pipeline first and
// treats the advisor strictly as a post-hoc check, never a source of
// signals of its own.
package advisor

import (
	"context"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Verdict is the advisor's opinion on a candidate signal.
type Verdict struct {
	Approved   bool
	Confidence float64
	Reasoning  string
}

// Advisor validates a candidate signal before execution.
type Advisor interface {
	Validate(ctx context.Context, signal domain.Signal, ind domain.IndicatorSnapshot) (Verdict, error)
	Name() string
}
