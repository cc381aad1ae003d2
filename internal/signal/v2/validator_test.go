package v2

import (
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

func bullishSnapshot() domain.IndicatorSnapshot {
	return domain.IndicatorSnapshot{
		RSI:           25,
		MACDHistogram: 6,
		StochK:        15,
		CurrentPrice:  100,
		BBLower:       100.2,
		BBUpper:       110,
		EMA9:          103,
		EMA20:         102,
		EMA50:         101,
		ADX:           30,
		MCProbability: 0.7,
		ZScore:        -2.5,
		LRSlope:       0.003,
	}
}

func TestRulesRSIBoundaryExactly30And70DoNotFire(t *testing.T) {
	ind := bullishSnapshot()
	ind.RSI = 30
	fs := rules(ind)
	if fs[0].direction != "" {
		t.Errorf("RSI exactly 30 should not fire long, got %q", fs[0].direction)
	}

	ind.RSI = 70
	fs = rules(ind)
	if fs[0].direction != "" {
		t.Errorf("RSI exactly 70 should not fire short, got %q", fs[0].direction)
	}
}

func TestRulesADXBoundaries(t *testing.T) {
	ind := bullishSnapshot()
	ind.ADX = 25
	fs := rules(ind)
	if fs[5].direction != "" {
		t.Errorf("ADX exactly 25 should not fire, got %q", fs[5].direction)
	}

	ind.ADX = 15
	fs = rules(ind)
	if fs[5].direction != "" {
		t.Errorf("ADX exactly 15 should not fire wait, got %q", fs[5].direction)
	}

	ind.ADX = 35
	fs = rules(ind)
	if fs[5].direction != "both" {
		t.Errorf("ADX 35 should fire both, got %q", fs[5].direction)
	}
}

func TestBucketOfClassification(t *testing.T) {
	cases := []struct {
		name string
		f    fired
		dir  string
		want Bucket
	}{
		{"neutral rule", fired{"x", ""}, "long", BucketNeutral},
		{"both always supports", fired{"adx", "both"}, "short", BucketSupporting},
		{"wait always conflicts", fired{"adx", "wait"}, "long", BucketConflicting},
		{"matching direction supports", fired{"rsi", "long"}, "long", BucketSupporting},
		{"opposing direction conflicts", fired{"rsi", "short"}, "long", BucketConflicting},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := bucketOf(c.f, c.dir); got != c.want {
				t.Errorf("bucketOf(%+v, %q) = %v, want %v", c.f, c.dir, got, c.want)
			}
		})
	}
}

func TestValidateBullishSnapshotIsValidForLong(t *testing.T) {
	v := New(zap.NewNop())
	res := v.Validate(bullishSnapshot(), "long", 0.6)

	if res.SupportingCount < minSupporting {
		t.Fatalf("supporting=%d, want >= %d", res.SupportingCount, minSupporting)
	}
	if res.ConflictingCount > maxConflicting {
		t.Fatalf("conflicting=%d, want <= %d", res.ConflictingCount, maxConflicting)
	}
	if !res.Valid {
		t.Errorf("expected Valid=true, got Result: %s", res.String())
	}
}

func TestValidateRejectsBelowMinConfidence(t *testing.T) {
	v := New(zap.NewNop())
	res := v.Validate(bullishSnapshot(), "long", minConfidence-0.01)
	if res.Valid {
		t.Errorf("confidence below the floor should invalidate regardless of votes")
	}
}

func TestValidateRejectsOppositeDirection(t *testing.T) {
	v := New(zap.NewNop())
	res := v.Validate(bullishSnapshot(), "short", 0.6)
	if res.Valid {
		t.Errorf("bullish snapshot validated against short direction should not pass, got %s", res.String())
	}
}

func TestTopSupportingTruncatesAndSorts(t *testing.T) {
	v := New(zap.NewNop())
	res := v.Validate(bullishSnapshot(), "long", 0.6)
	top := res.TopSupporting(2)
	if len(top) != 2 {
		t.Fatalf("len(top) = %d, want 2", len(top))
	}
	if top[0] > top[1] {
		t.Errorf("TopSupporting should return sorted names, got %v", top)
	}
}
