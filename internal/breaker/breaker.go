// Package breaker implements the five-state graduated circuit breaker:
// CLOSED -> ALERT -> THROTTLE -> HALT -> SHUTDOWN, escalated by latency,
// consecutive-failure, slippage, unexpected-loss, and critical-error
// telemetry, and recovered one step at a time after a per-level cooldown
// plus a passing health check. State transitions are optionally persisted
// to an append-only log so a restart can resume at the level a prior
// process left off at.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

var levelRank = map[domain.CircuitLevel]int{
	domain.CircuitClosed:   0,
	domain.CircuitAlert:    1,
	domain.CircuitThrottle: 2,
	domain.CircuitHalt:     3,
	domain.CircuitShutdown: 4,
}

var rankLevel = []domain.CircuitLevel{
	domain.CircuitClosed,
	domain.CircuitAlert,
	domain.CircuitThrottle,
	domain.CircuitHalt,
	domain.CircuitShutdown,
}

// Config carries the escalation thresholds, the telemetry window size, and
// the per-level recovery cooldowns. DefaultConfig returns the
// specification's fixed values.
type Config struct {
	WindowSize int

	LatencyAlertMs    float64
	LatencyThrottleMs float64
	LatencyHaltMs     float64

	FailuresAlert    int
	FailuresThrottle int
	FailuresHalt     int
	FailuresShutdown int

	SlippageAlertPct    float64
	SlippageThrottlePct float64
	SlippageHaltPct     float64

	UnexpectedLossHaltPct float64

	CooldownAlert    time.Duration
	CooldownThrottle time.Duration
	CooldownHalt     time.Duration
}

// DefaultConfig returns the thresholds fixed by the specification.
func DefaultConfig() Config {
	return Config{
		WindowSize: 10,

		LatencyAlertMs:    500,
		LatencyThrottleMs: 1000,
		LatencyHaltMs:     3000,

		FailuresAlert:    2,
		FailuresThrottle: 3,
		FailuresHalt:     5,
		FailuresShutdown: 10,

		SlippageAlertPct:    0.1,
		SlippageThrottlePct: 0.3,
		SlippageHaltPct:     0.5,

		UnexpectedLossHaltPct: 5.0,

		CooldownAlert:    60 * time.Second,
		CooldownThrottle: 300 * time.Second,
		CooldownHalt:     900 * time.Second,
	}
}

// Notifier receives circuit-breaker state transitions; the events package
// implements it over the event bus. A nil Notifier is a no-op.
type Notifier interface {
	Publish(kind string, payload interface{})
}

type noopNotifier struct{}

func (noopNotifier) Publish(string, interface{}) {}

// Breaker is the graduated circuit breaker.
type Breaker struct {
	logger   *zap.Logger
	cfg      Config
	notifier Notifier

	mu          sync.Mutex
	state       domain.CircuitState
	latencies   []float64
	slippages   []float64
	persistPath string
}

// New constructs a Breaker in the CLOSED state.
func New(logger *zap.Logger, cfg Config, notifier Notifier) *Breaker {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Breaker{
		logger:   logger.Named("breaker"),
		cfg:      cfg,
		notifier: notifier,
		state: domain.CircuitState{
			Level:          domain.CircuitClosed,
			LastTransition: time.Now(),
		},
	}
}

func pushWindow(w []float64, v float64, max int) []float64 {
	w = append(w, v)
	if len(w) > max {
		w = w[len(w)-max:]
	}
	return w
}

func avg(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// ReportLatency records an API latency sample in milliseconds.
func (b *Breaker) ReportLatency(ms float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latencies = pushWindow(b.latencies, ms, b.cfg.WindowSize)
	b.state.RecentLatenciesMs = b.latencies
	b.escalate()
}

// ReportFailure records an order-submission failure, incrementing the
// consecutive-failure counter.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.ConsecutiveFailures++
	b.escalate()
}

// ReportSuccess resets the consecutive-failure counter.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.ConsecutiveFailures = 0
}

// ReportSlippage records an execution slippage percentage sample.
func (b *Breaker) ReportSlippage(pct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slippages = pushWindow(b.slippages, pct, b.cfg.WindowSize)
	b.state.RecentSlippagesPct = b.slippages
	b.escalate()
}

// ReportUnexpectedLoss records an unexpected-loss percentage for the
// current cycle.
func (b *Breaker) ReportUnexpectedLoss(pct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pct > b.cfg.UnexpectedLossHaltPct {
		b.transitionTo(domain.CircuitHalt, "unexpected_loss")
	}
}

// ReportCriticalError forces an immediate, unconditional SHUTDOWN.
func (b *Breaker) ReportCriticalError(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(domain.CircuitShutdown, "critical_error:"+tag)
}

// ReportDegradation escalates the breaker to ALERT, never further, when
// sustained performance degradation is detected. It never moves the
// breaker backward; reaching THROTTLE/HALT/SHUTDOWN still requires the
// telemetry thresholds above, or ReportUnexpectedLoss/ReportCriticalError.
func (b *Breaker) ReportDegradation(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if levelRank[domain.CircuitAlert] > levelRank[b.state.Level] {
		b.transitionTo(domain.CircuitAlert, "degradation:"+reason)
	}
}

// escalate recomputes the level implied by current telemetry and moves the
// state forward (never backward) if the implied level is more severe.
// Caller must hold b.mu.
func (b *Breaker) escalate() {
	implied := b.impliedLevel()
	if levelRank[implied] > levelRank[b.state.Level] {
		b.transitionTo(implied, "telemetry_escalation")
	}
}

func (b *Breaker) impliedLevel() domain.CircuitLevel {
	level := domain.CircuitClosed

	avgLatency := avg(b.latencies)
	switch {
	case avgLatency > b.cfg.LatencyHaltMs:
		level = maxLevel(level, domain.CircuitHalt)
	case avgLatency > b.cfg.LatencyThrottleMs:
		level = maxLevel(level, domain.CircuitThrottle)
	case avgLatency > b.cfg.LatencyAlertMs:
		level = maxLevel(level, domain.CircuitAlert)
	}

	switch {
	case b.state.ConsecutiveFailures >= b.cfg.FailuresShutdown:
		level = maxLevel(level, domain.CircuitShutdown)
	case b.state.ConsecutiveFailures >= b.cfg.FailuresHalt:
		level = maxLevel(level, domain.CircuitHalt)
	case b.state.ConsecutiveFailures >= b.cfg.FailuresThrottle:
		level = maxLevel(level, domain.CircuitThrottle)
	case b.state.ConsecutiveFailures >= b.cfg.FailuresAlert:
		level = maxLevel(level, domain.CircuitAlert)
	}

	avgSlippage := avg(b.slippages)
	switch {
	case avgSlippage > b.cfg.SlippageHaltPct:
		level = maxLevel(level, domain.CircuitHalt)
	case avgSlippage > b.cfg.SlippageThrottlePct:
		level = maxLevel(level, domain.CircuitThrottle)
	case avgSlippage > b.cfg.SlippageAlertPct:
		level = maxLevel(level, domain.CircuitAlert)
	}

	return level
}

func maxLevel(a, b domain.CircuitLevel) domain.CircuitLevel {
	if levelRank[b] > levelRank[a] {
		return b
	}
	return a
}

// transitionTo moves the breaker to level, regardless of direction. Caller
// must hold b.mu.
func (b *Breaker) transitionTo(level domain.CircuitLevel, reason string) {
	if level == b.state.Level {
		return
	}
	prev := b.state.Level
	b.state.Level = level
	b.state.LastTransition = time.Now()

	b.logger.Warn("circuit breaker transition",
		zap.String("from", string(prev)),
		zap.String("to", string(level)),
		zap.String("reason", reason),
	)
	b.notifier.Publish("circuit_transition", map[string]string{
		"from":   string(prev),
		"to":     string(level),
		"reason": reason,
	})
	b.appendPersisted(reason)
}

func (b *Breaker) cooldownFor(level domain.CircuitLevel) time.Duration {
	switch level {
	case domain.CircuitAlert:
		return b.cfg.CooldownAlert
	case domain.CircuitThrottle:
		return b.cfg.CooldownThrottle
	case domain.CircuitHalt:
		return b.cfg.CooldownHalt
	default:
		return 0
	}
}

func (b *Breaker) healthy() bool {
	return avg(b.latencies) < b.cfg.LatencyAlertMs &&
		b.state.ConsecutiveFailures == 0 &&
		avg(b.slippages) < b.cfg.SlippageAlertPct
}

// MaybeRecover steps the breaker down exactly one level if its current
// level's cooldown has elapsed and telemetry is healthy. SHUTDOWN never
// recovers here; it requires an explicit operator override via Reset.
// Returns true if a recovery transition occurred.
func (b *Breaker) MaybeRecover() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Level == domain.CircuitClosed || b.state.Level == domain.CircuitShutdown {
		return false
	}

	cooldown := b.cooldownFor(b.state.Level)
	if time.Since(b.state.LastTransition) < cooldown {
		return false
	}
	if !b.healthy() {
		return false
	}

	rank := levelRank[b.state.Level]
	next := rankLevel[rank-1]
	b.transitionTo(next, "recovery")
	return true
}

// Reset forces the breaker back to CLOSED; it is the explicit operator
// override required to leave SHUTDOWN.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.CircuitState{Level: domain.CircuitClosed, LastTransition: time.Now()}
	b.latencies = nil
	b.slippages = nil
	b.logger.Warn("circuit breaker manually reset")
	b.notifier.Publish("circuit_reset", nil)
	b.appendPersisted("manual_reset")
}

// SetManualOverride sets or clears the manual override flag, which blocks
// all trading independently of the graduated state.
func (b *Breaker) SetManualOverride(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.ManualOverride = on
}

// State returns a snapshot of the current circuit state.
func (b *Breaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allows reports whether action is permitted at the current state.
func (b *Breaker) Allows(action domain.Action) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.ManualOverride {
		return false
	}

	switch b.state.Level {
	case domain.CircuitShutdown:
		return false
	case domain.CircuitHalt:
		return action.IsExit()
	default:
		return true
	}
}

// StricterConfidenceFloor returns an additional confidence floor the
// trading loop should apply on top of MIN_CONFIDENCE while THROTTLE is in
// effect; zero at every other level.
func (b *Breaker) StricterConfidenceFloor() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Level == domain.CircuitThrottle {
		return 0.15
	}
	return 0
}
