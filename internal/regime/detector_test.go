package regime

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

func flatSeries(price float64, n int) domain.BarSeries {
	bars := make([]domain.Candle, n)
	for i := range bars {
		bars[i] = domain.Candle{
			Timestamp: time.Now().Add(-time.Duration(n-i) * time.Minute),
			Close:     decimal.NewFromFloat(price),
		}
	}
	return domain.BarSeries{Symbol: "BTCUSDT", Timeframe: "1m", Bars: bars}
}

func TestClassifyVolatileOverridesEverything(t *testing.T) {
	d := New(zap.NewNop(), DefaultConfig())
	ind := domain.IndicatorSnapshot{GKVolatility: 0.81, ADX: 45}
	r := d.Classify(flatSeries(100, 25), ind)
	if r.Label != domain.RegimeTrendUp && r.Label != domain.RegimeTrendDown && r.Label != domain.RegimeVolatile {
		t.Fatalf("unexpected label %v", r.Label)
	}
	if r.Label != domain.RegimeVolatile {
		t.Errorf("gk_vol=0.81 > 0.8 threshold should classify VOLATILE, got %v", r.Label)
	}
	if r.Tradeable {
		t.Errorf("VOLATILE regime must never be tradeable")
	}
}

func TestClassifyGKVolatilityBoundaryExactly08IsNotVolatile(t *testing.T) {
	d := New(zap.NewNop(), DefaultConfig())
	ind := domain.IndicatorSnapshot{GKVolatility: 0.8, ADX: 10, CurrentPrice: 100, EMA50: 100}
	r := d.Classify(flatSeries(100, 25), ind)
	if r.Label == domain.RegimeVolatile {
		t.Errorf("gk_vol exactly 0.8 should not trip the > 0.8 volatile threshold")
	}
}

func TestClassifyStrongTrendUp(t *testing.T) {
	d := New(zap.NewNop(), DefaultConfig())
	ind := domain.IndicatorSnapshot{
		ADX: 36, EMA9: 103, EMA20: 102, EMA50: 101, CurrentPrice: 105, GKVolatility: 0.2,
	}
	r := d.Classify(flatSeries(100, 25), ind)
	if r.Label != domain.RegimeTrendUp {
		t.Fatalf("label = %v, want TREND_UP", r.Label)
	}
}

func TestClassifyADXBoundaryExactly25And35(t *testing.T) {
	d := New(zap.NewNop(), DefaultConfig())

	// ADX exactly 35 fails the strong-trend ">35" test and falls to the
	// plain trend branch, whose confidence formula is ADX/40, not ADX/50.
	ind := domain.IndicatorSnapshot{ADX: 35, EMA9: 103, EMA20: 102, EMA50: 101, CurrentPrice: 105, GKVolatility: 0.2}
	r := d.Classify(flatSeries(100, 25), ind)
	if r.Label != domain.RegimeTrendUp {
		t.Fatalf("label = %v, want TREND_UP", r.Label)
	}
	if want := 35.0 / 40; r.Confidence < want-1e-9 || r.Confidence > want+1e-9 {
		t.Errorf("confidence = %v, want %v (plain-trend formula, not strong-trend)", r.Confidence, want)
	}

	// ADX exactly 25 fails the plain-trend ">25" test too and, being
	// neither above nor below the low-ADX cutoff, lands in the default
	// CHOP branch rather than any trend label.
	ind.ADX = 25
	r2 := d.Classify(flatSeries(100, 25), ind)
	if r2.Label != domain.RegimeChop {
		t.Errorf("ADX exactly 25 should fall through every trend/range branch to CHOP, got %v", r2.Label)
	}
}

func TestClassifyStrongADXWithMisalignedEMAFallsToChop(t *testing.T) {
	d := New(zap.NewNop(), DefaultConfig())

	// ADX=40 clears the strong-trend threshold (35) and the plain-trend
	// threshold (25), but price > EMA50 with EMA9 < EMA20 means EMA
	// alignment does not confirm an uptrend. This must land on CHOP, not
	// fall through into the plain-trend branch's TREND_UP.
	ind := domain.IndicatorSnapshot{
		ADX: 40, EMA9: 99, EMA20: 101, EMA50: 100, CurrentPrice: 105, GKVolatility: 0.2,
	}
	r := d.Classify(flatSeries(100, 25), ind)
	if r.Label != domain.RegimeChop {
		t.Fatalf("label = %v, want CHOP when strong ADX lacks EMA confirmation", r.Label)
	}
	if r.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", r.Confidence)
	}
}

func TestClassifyLowADXRangeVsChop(t *testing.T) {
	d := New(zap.NewNop(), DefaultConfig())

	rangeInd := domain.IndicatorSnapshot{ADX: 10, GKVolatility: 0.1}
	r := d.Classify(flatSeries(100, 25), rangeInd)
	if r.Label != domain.RegimeRange {
		t.Errorf("flat prices with low ADX should classify RANGE, got %v", r.Label)
	}

	choppy := make([]domain.Candle, 25)
	prices := []float64{100, 130, 90, 140, 80, 150, 70}
	for i := range choppy {
		p := prices[i%len(prices)]
		choppy[i] = domain.Candle{Close: decimal.NewFromFloat(p)}
	}
	series := domain.BarSeries{Symbol: "BTCUSDT", Bars: choppy}
	r2 := d.Classify(series, rangeInd)
	if r2.Label != domain.RegimeChop {
		t.Errorf("wide dispersion with low ADX should classify CHOP, got %v", r2.Label)
	}
}

func TestRiskMultiplierClampedToBounds(t *testing.T) {
	d := New(zap.NewNop(), DefaultConfig())
	mult := d.riskMultiplier(domain.RegimeVolatile, domain.IndicatorSnapshot{GKVolatility: 0.95})
	if mult < 0.3 {
		t.Errorf("risk multiplier should never fall below 0.3, got %v", mult)
	}

	mult = d.riskMultiplier(domain.RegimeTrendUp, domain.IndicatorSnapshot{ADX: 45, GKVolatility: 0.1})
	if mult > 1.5 {
		t.Errorf("risk multiplier should never exceed 1.5, got %v", mult)
	}
}

func TestTradeableRejectsLowConfidenceAndHighVolatility(t *testing.T) {
	d := New(zap.NewNop(), DefaultConfig())

	r := domain.Regime{Label: domain.RegimeChop, Confidence: 0.5}
	if !d.tradeable(r) {
		t.Errorf("chop at confidence 0.5 (below the 0.6 chop cutoff, above the 0.3 floor) should remain tradeable")
	}

	r = domain.Regime{Label: domain.RegimeChop, Confidence: 0.7}
	if d.tradeable(r) {
		t.Errorf("chop confidence above cutoff 0.6 should be untradeable")
	}

	r = domain.Regime{Label: domain.RegimeRange, Confidence: 0.1}
	if d.tradeable(r) {
		t.Errorf("confidence below MinTradeableConfidence 0.3 should be untradeable")
	}

	r = domain.Regime{Label: domain.RegimeRange, Confidence: 0.5, Volatility: 0.95}
	if d.tradeable(r) {
		t.Errorf("volatility above UntradeableGK 0.9 should be untradeable")
	}
}
