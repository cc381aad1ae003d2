package safety

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testConfig() Config {
	return NewConfig([]string{"BTCUSDT", "ETHUSDT"}, 3, 5.0, 0.03)
}

func TestAllowRejectsSymbolOutsideUniverse(t *testing.T) {
	c := New(zap.NewNop(), testConfig())
	reason, err := c.Allow("DOGEUSDT", 2, 0, decimal.Zero, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "symbol_not_in_universe" {
		t.Errorf("reason = %q, want symbol_not_in_universe", reason)
	}
}

func TestAllowRejectsLeverageAboveCap(t *testing.T) {
	c := New(zap.NewNop(), testConfig())
	reason, _ := c.Allow("BTCUSDT", 5.1, 0, decimal.Zero, decimal.NewFromInt(1000))
	if reason != "leverage_exceeds_cap" {
		t.Errorf("reason = %q, want leverage_exceeds_cap", reason)
	}
}

func TestAllowAllowsLeverageExactlyAtCap(t *testing.T) {
	c := New(zap.NewNop(), testConfig())
	reason, _ := c.Allow("BTCUSDT", 5.0, 0, decimal.Zero, decimal.NewFromInt(1000))
	if reason != "" {
		t.Errorf("reason = %q, want empty (leverage exactly at the cap should pass)", reason)
	}
}

func TestAllowRejectsAtMaxOpenPositions(t *testing.T) {
	c := New(zap.NewNop(), testConfig())
	reason, _ := c.Allow("BTCUSDT", 2, 3, decimal.Zero, decimal.NewFromInt(1000))
	if reason != "max_open_positions" {
		t.Errorf("reason = %q, want max_open_positions when already at the cap", reason)
	}
}

func TestAllowAllowsBelowMaxOpenPositions(t *testing.T) {
	c := New(zap.NewNop(), testConfig())
	reason, _ := c.Allow("BTCUSDT", 2, 2, decimal.Zero, decimal.NewFromInt(1000))
	if reason != "" {
		t.Errorf("reason = %q, want empty with one slot remaining", reason)
	}
}

func TestAllowRejectsDailyLossBreach(t *testing.T) {
	c := New(zap.NewNop(), testConfig())
	// -3.1% loss on a 1000 balance against a 3% cap.
	reason, _ := c.Allow("BTCUSDT", 2, 0, decimal.NewFromFloat(-31), decimal.NewFromInt(1000))
	if reason != "max_daily_loss" {
		t.Errorf("reason = %q, want max_daily_loss", reason)
	}
}

func TestAllowDailyLossExactlyAtCapTrips(t *testing.T) {
	c := New(zap.NewNop(), testConfig())
	// -3.0% loss exactly at the cap should trip (<=).
	reason, _ := c.Allow("BTCUSDT", 2, 0, decimal.NewFromFloat(-30), decimal.NewFromInt(1000))
	if reason != "max_daily_loss" {
		t.Errorf("reason = %q, want max_daily_loss at the exact boundary", reason)
	}
}

func TestAllowSkipsDailyLossCheckWhenStartingBalanceNotPositive(t *testing.T) {
	c := New(zap.NewNop(), testConfig())
	reason, _ := c.Allow("BTCUSDT", 2, 0, decimal.NewFromFloat(-9999), decimal.Zero)
	if reason != "" {
		t.Errorf("reason = %q, want empty when starting balance is zero (divide-by-zero guard)", reason)
	}
}

func TestAllowPassesThroughOnHealthyCandidate(t *testing.T) {
	c := New(zap.NewNop(), testConfig())
	reason, err := c.Allow("ETHUSDT", 3, 1, decimal.NewFromInt(10), decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "" {
		t.Errorf("reason = %q, want empty for a healthy candidate", reason)
	}
}
