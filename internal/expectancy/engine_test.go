package expectancy

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

func tradesWithPnL(pnls ...float64) []domain.ClosedTrade {
	out := make([]domain.ClosedTrade, len(pnls))
	for i, p := range pnls {
		out[i] = domain.ClosedTrade{PnL: decimal.NewFromFloat(p)}
	}
	return out
}

func TestComputeRawStatsWinRateAndExpectancy(t *testing.T) {
	stats := computeRawStats(tradesWithPnL(10, 10, -5, -5))
	if stats.winRate != 0.5 {
		t.Errorf("win_rate = %v, want 0.5", stats.winRate)
	}
	if stats.avgWin != 10 {
		t.Errorf("avg_win = %v, want 10", stats.avgWin)
	}
	if stats.avgLoss != 5 {
		t.Errorf("avg_loss = %v, want 5", stats.avgLoss)
	}
	if stats.payoff != 2 {
		t.Errorf("payoff = %v, want 2", stats.payoff)
	}
	wantExpectancy := 0.5*10 - 0.5*5
	if stats.expectancy != wantExpectancy {
		t.Errorf("expectancy = %v, want %v", stats.expectancy, wantExpectancy)
	}
}

func TestKellyFractionRawZeroWhenPayoffNonPositive(t *testing.T) {
	if got := kellyFractionRaw(0.6, 0); got != 0 {
		t.Errorf("kelly = %v, want 0 when payoff is zero", got)
	}
}

func TestKellyFractionRawNegativeClampsToZero(t *testing.T) {
	got := kellyFractionRaw(0.2, 1.0)
	if got != 0 {
		t.Errorf("kelly = %v, want 0 when the raw formula goes negative", got)
	}
}

func TestKellyFractionRawPositiveCase(t *testing.T) {
	got := kellyFractionRaw(0.6, 2.0)
	want := (0.6*2.0 - 0.4) / 2.0
	if got != want {
		t.Errorf("kelly = %v, want %v", got, want)
	}
}

func TestComputeSampleSizeGate29Vs30(t *testing.T) {
	e := New(zap.NewNop())

	pnls29 := make([]float64, 29)
	for i := range pnls29 {
		pnls29[i] = 1
	}
	_, ok := e.Compute(tradesWithPnL(pnls29...))
	if ok {
		t.Errorf("sample_size=29 should not clear the Kelly-usable gate")
	}

	pnls30 := make([]float64, 30)
	for i := range pnls30 {
		pnls30[i] = 1
	}
	_, ok = e.Compute(tradesWithPnL(pnls30...))
	if !ok {
		t.Errorf("sample_size=30 should clear the Kelly-usable gate")
	}
}

func TestDetectDegradationRequiresMinSampleSize(t *testing.T) {
	e := New(zap.NewNop())
	short := make([]float64, MinSampleSize-1)
	_, _, ok := e.DetectDegradation(tradesWithPnL(short...))
	if ok {
		t.Errorf("fewer than MinSampleSize trades should report ok=false")
	}
}

func TestDetectDegradationWinRateDrop(t *testing.T) {
	e := New(zap.NewNop())

	long := make([]float64, 100)
	for i := range long {
		if i%2 == 0 {
			long[i] = 10
		} else {
			long[i] = -5
		}
	}
	// Overwrite the most recent 30 with a much worse win rate than the
	// older trades' 50%, which pulls the long window down to 38%.
	recent := make([]float64, MinSampleSize)
	for i := range recent {
		if i < 3 {
			recent[i] = 10
		} else {
			recent[i] = -5
		}
	}
	trades := append(long[:len(long)-MinSampleSize], recent...)

	degraded, reason, ok := e.DetectDegradation(tradesWithPnL(trades...))
	if !ok {
		t.Fatal("expected ok=true with 100 trades")
	}
	if !degraded {
		t.Errorf("sharp recent win-rate drop should be detected as degraded")
	}
	if reason != "win_rate_drop" {
		t.Errorf("reason = %q, want win_rate_drop", reason)
	}
}

func TestDetectDegradationNoDropWhenStable(t *testing.T) {
	e := New(zap.NewNop())
	trades := make([]float64, 100)
	for i := range trades {
		if i%2 == 0 {
			trades[i] = 10
		} else {
			trades[i] = -5
		}
	}
	degraded, _, ok := e.DetectDegradation(tradesWithPnL(trades...))
	if !ok {
		t.Fatal("expected ok=true with 100 trades")
	}
	if degraded {
		t.Errorf("a stable win rate/expectancy across both windows should not be flagged degraded")
	}
}
