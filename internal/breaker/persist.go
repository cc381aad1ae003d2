package breaker

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// persistedTransition is one newline-delimited JSON record appended to the
// breaker's state log on every transition.
type persistedTransition struct {
	Level          domain.CircuitLevel `json:"level"`
	LastTransition time.Time           `json:"last_transition"`
	Reason         string              `json:"reason"`
}

// EnablePersistence points the breaker at an append-only NDJSON log under
// path; every subsequent transition is appended to it. Call LoadBreakerState
// before EnablePersistence to restore the level a prior process left off
// at.
func (b *Breaker) EnablePersistence(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persistPath = path
}

func (b *Breaker) appendPersisted(reason string) {
	if b.persistPath == "" {
		return
	}
	f, err := os.OpenFile(b.persistPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		b.logger.Warn("failed to open circuit breaker state log", zap.Error(err))
		return
	}
	defer f.Close()

	rec := persistedTransition{Level: b.state.Level, LastTransition: b.state.LastTransition, Reason: reason}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		b.logger.Warn("failed to append circuit breaker state log", zap.Error(err))
	}
}

// RestoreLevel sets the breaker's level directly from a persisted state log
// read at startup, without running transitionTo's notification side
// effects (there is no prior level to log a transition from).
func (b *Breaker) RestoreLevel(level domain.CircuitLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Level = level
	b.state.LastTransition = time.Now()
}

// LoadBreakerState reads the last record from an NDJSON state log written
// via EnablePersistence and returns the level it recorded. Returns
// (domain.CircuitClosed, false) if the log does not exist or is empty, so
// callers can fall back to starting CLOSED.
func LoadBreakerState(path string) (domain.CircuitLevel, bool) {
	f, err := os.Open(path)
	if err != nil {
		return domain.CircuitClosed, false
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			last = line
		}
	}
	if last == "" {
		return domain.CircuitClosed, false
	}

	var rec persistedTransition
	if err := json.Unmarshal([]byte(last), &rec); err != nil {
		return domain.CircuitClosed, false
	}
	return rec.Level, true
}
