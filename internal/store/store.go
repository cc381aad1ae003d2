// Package store persists closed trades as an append-only, newline-delimited
// JSON log so the expectancy engine has empirical history across process
// restarts.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Config sets where closed trades are persisted.
type Config struct {
	DataDir string
}

// DefaultConfig writes to ./data.
func DefaultConfig() Config {
	return Config{DataDir: "./data"}
}

// Store is an append-only, mutex-guarded closed-trade log backed by one
// NDJSON file per symbol.
type Store struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	trades  map[string][]domain.ClosedTrade
}

// New constructs a Store, creating dataDir if necessary, and loads any
// trades already persisted there.
func New(logger *zap.Logger, cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &Store{
		logger:  logger.Named("store"),
		dataDir: cfg.DataDir,
		trades:  make(map[string][]domain.ClosedTrade),
	}
	if err := s.loadAll(); err != nil {
		s.logger.Warn("failed to load persisted trades", zap.Error(err))
	}
	return s, nil
}

func (s *Store) filename(symbol string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("trades_%s.ndjson", symbol))
}

func (s *Store) loadAll() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(s.dataDir, e.Name()))
		if err != nil {
			continue
		}
		var trades []domain.ClosedTrade
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			var trade domain.ClosedTrade
			if err := json.Unmarshal([]byte(line), &trade); err != nil {
				continue
			}
			trades = append(trades, trade)
		}
		f.Close()
		if len(trades) > 0 {
			s.trades[trades[0].Symbol] = trades
		}
	}
	return nil
}

// Append records a newly closed trade and appends it as one NDJSON line.
func (s *Store) Append(trade domain.ClosedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades[trade.Symbol] = append(s.trades[trade.Symbol], trade)

	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.filename(trade.Symbol), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trades file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append trades file: %w", err)
	}
	return nil
}

// Trades returns a copy of the closed-trade history for symbol, oldest
// first.
func (s *Store) Trades(symbol string) []domain.ClosedTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.trades[symbol]
	out := make([]domain.ClosedTrade, len(src))
	copy(out, src)
	return out
}

// AllSymbols returns the symbols with at least one recorded trade.
func (s *Store) AllSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.trades))
	for sym := range s.trades {
		out = append(out, sym)
	}
	return out
}
