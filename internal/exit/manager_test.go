package exit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

func longPosition() domain.OpenPosition {
	return domain.OpenPosition{
		Symbol:       "BTCUSDT",
		Side:         domain.SideBuy,
		EntryPrice:   decimal.NewFromInt(100),
		Size:         decimal.NewFromInt(1),
		StopLoss:     decimal.NewFromInt(95),
		TakeProfit:   decimal.NewFromInt(110),
		EntryTime:    time.Now(),
		EntryRegime:  domain.RegimeTrendUp,
		HighestPrice: decimal.NewFromInt(100),
		LowestPrice:  decimal.NewFromInt(100),
	}
}

func TestEvaluateHardStopWins(t *testing.T) {
	m := New(zap.NewNop(), DefaultConfig())
	pos := longPosition()
	res := m.Evaluate(pos, decimal.NewFromInt(94), domain.Regime{Label: domain.RegimeTrendUp}, domain.IndicatorSnapshot{}, domain.PortfolioSnapshot{})
	if !res.Exit || res.Reason != "hard_stop" {
		t.Fatalf("got %+v, want hard_stop exit", res)
	}
}

func TestEvaluateHardTakeProfitWins(t *testing.T) {
	m := New(zap.NewNop(), DefaultConfig())
	pos := longPosition()
	res := m.Evaluate(pos, decimal.NewFromInt(111), domain.Regime{Label: domain.RegimeTrendUp}, domain.IndicatorSnapshot{}, domain.PortfolioSnapshot{})
	if !res.Exit || res.Reason != "hard_take_profit" {
		t.Fatalf("got %+v, want hard_take_profit exit", res)
	}
}

func TestEvaluateTrailingStop(t *testing.T) {
	m := New(zap.NewNop(), DefaultConfig())
	pos := longPosition()
	pos.StopLoss = decimal.NewFromInt(50) // move hard stop out of the way
	pos.HighestPrice = decimal.NewFromInt(120)

	// pnl pct at mark=103 is 3% > 1.5% activation threshold; trend trail is 2%.
	// Trail level = 120 * (1-0.02) = 117.6, so mark 103 is well below it.
	res := m.Evaluate(pos, decimal.NewFromInt(103), domain.Regime{Label: domain.RegimeTrendUp}, domain.IndicatorSnapshot{}, domain.PortfolioSnapshot{})
	if !res.Exit || res.Reason != "trailing_stop" {
		t.Fatalf("got %+v, want trailing_stop exit", res)
	}
}

func TestEvaluateBreakevenAdvisoryNeverExits(t *testing.T) {
	m := New(zap.NewNop(), DefaultConfig())
	pos := longPosition()
	pos.StopLoss = decimal.NewFromInt(50)
	pos.TakeProfit = decimal.NewFromInt(500)
	pos.HighestPrice = decimal.NewFromInt(101.5)

	res := m.Evaluate(pos, decimal.NewFromFloat(101.5), domain.Regime{Label: domain.RegimeTrendUp}, domain.IndicatorSnapshot{}, domain.PortfolioSnapshot{})
	if res.Exit {
		t.Fatalf("breakeven advisory alone should never force an exit, got %+v", res)
	}
	if !res.BreakevenAdvisory {
		t.Errorf("expected BreakevenAdvisory=true above the 1%% pnl threshold")
	}
}

func TestEvaluateTimeLimit(t *testing.T) {
	m := New(zap.NewNop(), DefaultConfig())
	pos := longPosition()
	pos.StopLoss = decimal.NewFromInt(50)
	pos.TakeProfit = decimal.NewFromInt(500)
	pos.HighestPrice = decimal.NewFromInt(101)
	pos.EntryTime = time.Now().Add(-241 * time.Minute) // exceeds the 240m trend limit

	res := m.Evaluate(pos, decimal.NewFromInt(101), domain.Regime{Label: domain.RegimeTrendUp}, domain.IndicatorSnapshot{}, domain.PortfolioSnapshot{})
	if !res.Exit || res.Reason != "time_limit" {
		t.Fatalf("got %+v, want time_limit exit", res)
	}
}

func TestEvaluateRegimeChangeFromTrendToChop(t *testing.T) {
	m := New(zap.NewNop(), DefaultConfig())
	pos := longPosition()
	pos.StopLoss = decimal.NewFromInt(50)
	pos.TakeProfit = decimal.NewFromInt(500)
	pos.HighestPrice = decimal.NewFromInt(101)
	pos.EntryRegime = domain.RegimeTrendUp

	res := m.Evaluate(pos, decimal.NewFromInt(101), domain.Regime{Label: domain.RegimeChop}, domain.IndicatorSnapshot{}, domain.PortfolioSnapshot{})
	if !res.Exit || res.Reason != "regime_change" {
		t.Fatalf("got %+v, want regime_change exit when a trend position's regime degrades to chop", res)
	}
}

func TestEvaluateThesisInvalidation(t *testing.T) {
	m := New(zap.NewNop(), DefaultConfig())
	pos := longPosition()
	pos.StopLoss = decimal.NewFromInt(50)
	pos.TakeProfit = decimal.NewFromInt(500)
	pos.HighestPrice = decimal.NewFromInt(101)
	pos.EntryReason = "rsi oversold bounce"

	res := m.Evaluate(pos, decimal.NewFromInt(101), domain.Regime{Label: domain.RegimeTrendUp}, domain.IndicatorSnapshot{RSI: 75}, domain.PortfolioSnapshot{})
	if !res.Exit || res.Reason != "thesis_invalidation" {
		t.Fatalf("got %+v, want thesis_invalidation when RSI swings to overbought after an oversold-bounce entry", res)
	}
}

func TestEvaluatePortfolioRebalance(t *testing.T) {
	m := New(zap.NewNop(), DefaultConfig())
	pos := longPosition()
	pos.StopLoss = decimal.NewFromInt(50)
	pos.TakeProfit = decimal.NewFromInt(500)
	pos.HighestPrice = decimal.NewFromInt(101)

	snapshot := domain.PortfolioSnapshot{
		ByLongShort: map[domain.OrderSide]decimal.Decimal{
			domain.SideBuy:  decimal.NewFromInt(900),
			domain.SideSell: decimal.NewFromInt(100),
		},
	}
	res := m.Evaluate(pos, decimal.NewFromInt(101), domain.Regime{Label: domain.RegimeTrendUp}, domain.IndicatorSnapshot{}, snapshot)
	if !res.Exit || res.Reason != "portfolio_rebalance" {
		t.Fatalf("got %+v, want portfolio_rebalance when the book is 90%% long and this position is on the heavy side", res)
	}
}

func TestEvaluateNoExitOnNeutralPosition(t *testing.T) {
	m := New(zap.NewNop(), DefaultConfig())
	pos := longPosition()
	pos.StopLoss = decimal.NewFromInt(50)
	pos.TakeProfit = decimal.NewFromInt(500)
	pos.HighestPrice = decimal.NewFromInt(100)

	res := m.Evaluate(pos, decimal.NewFromInt(100), domain.Regime{Label: domain.RegimeTrendUp}, domain.IndicatorSnapshot{}, domain.PortfolioSnapshot{})
	if res.Exit {
		t.Fatalf("flat, fresh, neutral position should not exit, got %+v", res)
	}
}
