package store

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

func sampleTrade(symbol string, pnl int64) domain.ClosedTrade {
	return domain.ClosedTrade{
		ID:         "t1",
		Symbol:     symbol,
		Side:       domain.SideBuy,
		Entry:      decimal.NewFromInt(100),
		Exit:       decimal.NewFromInt(101),
		Size:       decimal.NewFromInt(1),
		PnL:        decimal.NewFromInt(pnl),
		EntryTime:  time.Now().Add(-time.Hour),
		ExitTime:   time.Now(),
		ExitReason: "take_profit",
	}
}

func TestAppendPersistsAsNDJSONLines(t *testing.T) {
	dir := t.TempDir()
	s, err := New(zap.NewNop(), Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Append(sampleTrade("BTCUSDT", 10)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(sampleTrade("BTCUSDT", -5)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "trades_BTCUSDT.ndjson"))
	if err != nil {
		t.Fatalf("open ndjson file: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if scanner.Text() != "" {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("lines = %d, want 2 append-only records", lines)
	}
}

func TestNewReloadsPersistedTrades(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(zap.NewNop(), Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s1.Append(sampleTrade("ETHUSDT", 7)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s1.Append(sampleTrade("ETHUSDT", -3)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	s2, err := New(zap.NewNop(), Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	trades := s2.Trades("ETHUSDT")
	if len(trades) != 2 {
		t.Fatalf("reloaded trades = %d, want 2", len(trades))
	}
	if !trades[0].PnL.Equal(decimal.NewFromInt(7)) {
		t.Errorf("first trade PnL = %v, want 7", trades[0].PnL)
	}
}

func TestAllSymbolsReflectsSeparateFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(zap.NewNop(), Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Append(sampleTrade("BTCUSDT", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(sampleTrade("SOLUSDT", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	symbols := s.AllSymbols()
	if len(symbols) != 2 {
		t.Fatalf("symbols = %v, want 2", symbols)
	}
}

func TestTradesReturnsCopyNotSharedSlice(t *testing.T) {
	dir := t.TempDir()
	s, err := New(zap.NewNop(), Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Append(sampleTrade("BTCUSDT", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	out := s.Trades("BTCUSDT")
	out[0].ID = "mutated"

	again := s.Trades("BTCUSDT")
	if again[0].ID == "mutated" {
		t.Error("Trades must return a copy; caller mutation leaked into store state")
	}
}
