// Package portfolio enforces concentration, correlated-group, and sector
// exposure caps before a new position is admitted, and derives a snapshot
// of current exposure including a correlation-adjusted heat figure.
package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Config carries the admission caps and the static correlation/sector
// tables. DefaultConfig fills in the default eight-symbol perpetual
// universe.
type Config struct {
	SingleAssetCapPct    float64
	CorrelatedGroupCapPct float64
	SectorCapPct         float64
	CorrelationThreshold float64
	Correlations         map[string]map[string]float64
	Sectors              map[string]string
}

// DefaultConfig returns the caps fixed by the specification and a
// correlation/sector table for the default BTC/ETH/SOL/ADA/XRP/LTC/DOGE/BNB
// universe.
func DefaultConfig() Config {
	return Config{
		SingleAssetCapPct:     0.40,
		CorrelatedGroupCapPct: 0.60,
		SectorCapPct:          0.50,
		CorrelationThreshold:  0.7,
		Correlations: map[string]map[string]float64{
			"BTCUSDT": {"ETHUSDT": 0.85, "BNBUSDT": 0.80},
			"ETHUSDT": {"BTCUSDT": 0.85, "BNBUSDT": 0.78},
			"BNBUSDT": {"BTCUSDT": 0.80, "ETHUSDT": 0.78},
			"SOLUSDT": {"ADAUSDT": 0.72},
			"ADAUSDT": {"SOLUSDT": 0.72},
		},
		Sectors: map[string]string{
			"BTCUSDT":  "large-cap",
			"ETHUSDT":  "large-cap",
			"SOLUSDT":  "alt-l1",
			"ADAUSDT":  "alt-l1",
			"BNBUSDT":  "alt-l1",
			"XRPUSDT":  "payment",
			"LTCUSDT":  "payment",
			"DOGEUSDT": "meme",
		},
	}
}

// Manager evaluates admission checks and exposure snapshots.
type Manager struct {
	logger *zap.Logger
	cfg    Config
}

// New constructs a Manager.
func New(logger *zap.Logger, cfg Config) *Manager {
	return &Manager{logger: logger.Named("portfolio"), cfg: cfg}
}

func (m *Manager) correlation(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if row, ok := m.cfg.Correlations[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	return 0
}

func exposureValue(p domain.OpenPosition) decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// Admit reports whether a new position of value `size*entry` on symbol can
// be accepted given the currently open positions and account balance. It
// returns false with a reason when any of the three caps would be
// breached.
func (m *Manager) Admit(symbol string, size, entry, balance decimal.Decimal, positions map[string]domain.OpenPosition) (bool, string) {
	if balance.IsZero() {
		return false, "zero_balance"
	}
	value := size.Mul(entry)

	existing := decimal.Zero
	if p, ok := positions[symbol]; ok {
		existing = exposureValue(p)
	}
	singleCap := balance.Mul(decimal.NewFromFloat(m.cfg.SingleAssetCapPct))
	if existing.Add(value).GreaterThan(singleCap) {
		return false, "single_asset_cap"
	}

	groupExposure := decimal.Zero
	for sym, p := range positions {
		if sym == symbol || m.correlation(symbol, sym) >= m.cfg.CorrelationThreshold {
			groupExposure = groupExposure.Add(exposureValue(p))
		}
	}
	groupCap := balance.Mul(decimal.NewFromFloat(m.cfg.CorrelatedGroupCapPct))
	if groupExposure.Add(value).GreaterThan(groupCap) {
		return false, "correlated_group_cap"
	}

	sector := m.cfg.Sectors[symbol]
	sectorExposure := decimal.Zero
	for sym, p := range positions {
		if m.cfg.Sectors[sym] == sector {
			sectorExposure = sectorExposure.Add(exposureValue(p))
		}
	}
	sectorCap := balance.Mul(decimal.NewFromFloat(m.cfg.SectorCapPct))
	if sectorExposure.Add(value).GreaterThan(sectorCap) {
		return false, "sector_cap"
	}

	return true, ""
}

// Snapshot derives the current exposure view, including the
// correlation-adjusted heat figure (simple exposure/balance ratio scaled
// by one plus the average pairwise correlation among held symbols).
func (m *Manager) Snapshot(positions map[string]domain.OpenPosition, balance decimal.Decimal) domain.PortfolioSnapshot {
	snap := domain.PortfolioSnapshot{
		BySymbol:    map[string]decimal.Decimal{},
		BySector:    map[string]decimal.Decimal{},
		ByLongShort: map[domain.OrderSide]decimal.Decimal{},
		Net:         decimal.Zero,
	}

	symbols := make([]string, 0, len(positions))
	for sym, p := range positions {
		symbols = append(symbols, sym)
		v := exposureValue(p)
		snap.BySymbol[sym] = v
		snap.BySector[m.cfg.Sectors[sym]] = snap.BySector[m.cfg.Sectors[sym]].Add(v)
		if p.Side == domain.SideBuy {
			snap.Net = snap.Net.Add(v)
		} else {
			snap.Net = snap.Net.Sub(v)
		}
		snap.ByLongShort[p.Side] = snap.ByLongShort[p.Side].Add(v)
	}

	totalExposure := decimal.Zero
	for _, v := range snap.BySymbol {
		totalExposure = totalExposure.Add(v)
	}

	simpleHeat := 0.0
	if !balance.IsZero() {
		simpleHeat, _ = totalExposure.Div(balance).Float64()
	}

	avgCorrelation := 0.0
	pairs := 0
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			avgCorrelation += m.correlation(symbols[i], symbols[j])
			pairs++
		}
	}
	if pairs > 0 {
		avgCorrelation /= float64(pairs)
	}

	snap.CorrelationAdjustedHeat = simpleHeat * (1 + avgCorrelation)

	m.logger.Debug("portfolio snapshot",
		zap.String("total_exposure", totalExposure.String()),
		zap.Float64("correlation_adjusted_heat", snap.CorrelationAdjustedHeat),
	)

	return snap
}

func (m *Manager) String() string {
	return fmt.Sprintf("portfolio(singleCap=%.2f groupCap=%.2f sectorCap=%.2f)",
		m.cfg.SingleAssetCapPct, m.cfg.CorrelatedGroupCapPct, m.cfg.SectorCapPct)
}
