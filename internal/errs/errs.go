// Package errs defines the core's error-tier taxonomy: a Tiered error
// carries a Tier so a caller can branch on severity with errors.As instead
// of string matching. The other packages of this module return plain
// errors and do not wrap them in Tiered.
package errs

import (
	"errors"
	"fmt"
)

// Tier classifies how seriously the loop must react to an error.
type Tier int

const (
	// TierTransient covers network errors, 5xx, rate limits: log and continue.
	TierTransient Tier = iota
	// TierRejection covers venue rejections (insufficient margin, invalid
	// symbol): the candidate is dropped, escalation happens if persistent.
	TierRejection
	// TierDataDeficiency covers empty OHLCV or NaN indicators: yields WAIT,
	// no escalation.
	TierDataDeficiency
	// TierPolicyRejection covers safety/portfolio/circuit-breaker/advisor
	// vetoes: silent skip, logged at info.
	TierPolicyRejection
	// TierCritical covers conditions that force SHUTDOWN.
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierTransient:
		return "transient"
	case TierRejection:
		return "rejection"
	case TierDataDeficiency:
		return "data_deficiency"
	case TierPolicyRejection:
		return "policy_rejection"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Tiered wraps an underlying error with its tier and a short reason.
type Tiered struct {
	Tier   Tier
	Reason string
	Err    error
}

func (e *Tiered) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tier, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tier, e.Reason)
}

func (e *Tiered) Unwrap() error { return e.Err }

// New constructs a Tiered error.
func New(tier Tier, reason string, cause error) *Tiered {
	return &Tiered{Tier: tier, Reason: reason, Err: cause}
}

// TierOf returns the tier of err if it is, or wraps, a *Tiered error, and
// TierTransient otherwise (the conservative default: retryable).
func TierOf(err error) (Tier, bool) {
	var t *Tiered
	if errors.As(err, &t) {
		return t.Tier, true
	}
	return TierTransient, false
}

// IsCritical reports whether err carries TierCritical.
func IsCritical(err error) bool {
	tier, ok := TierOf(err)
	return ok && tier == TierCritical
}
