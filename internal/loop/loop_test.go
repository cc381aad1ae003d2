package loop

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/internal/advisor"
	"github.com/atlas-desktop/scalper-core/internal/breaker"
	"github.com/atlas-desktop/scalper-core/internal/config"
	"github.com/atlas-desktop/scalper-core/internal/events"
	"github.com/atlas-desktop/scalper-core/internal/exit"
	"github.com/atlas-desktop/scalper-core/internal/expectancy"
	"github.com/atlas-desktop/scalper-core/internal/portfolio"
	"github.com/atlas-desktop/scalper-core/internal/regime"
	"github.com/atlas-desktop/scalper-core/internal/risksizer"
	"github.com/atlas-desktop/scalper-core/internal/safety"
	"github.com/atlas-desktop/scalper-core/internal/signal/arbiter"
	v1 "github.com/atlas-desktop/scalper-core/internal/signal/v1"
	v2 "github.com/atlas-desktop/scalper-core/internal/signal/v2"
	"github.com/atlas-desktop/scalper-core/internal/store"
	"github.com/atlas-desktop/scalper-core/internal/venue"
	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// fakeVenue is a hand-rolled test double; the venue contract is small
// enough that a mocking library would add nothing a plain struct can't.
type fakeVenue struct {
	fillPrice    decimal.Decimal
	markPrice    decimal.Decimal
	series       domain.BarSeries
	submitErr    error
	markErr      error
	closeErr     error
	submitCalled bool
	closeCalled  bool
}

func (f *fakeVenue) SubmitOrder(_ context.Context, req venue.OrderRequest) (venue.Fill, error) {
	f.submitCalled = true
	if f.submitErr != nil {
		return venue.Fill{}, f.submitErr
	}
	return venue.Fill{Symbol: req.Symbol, Side: req.Side, Price: f.fillPrice, Size: req.Size, Timestamp: time.Now()}, nil
}

func (f *fakeVenue) ClosePosition(_ context.Context, symbol string, side domain.OrderSide, size decimal.Decimal) (venue.Fill, error) {
	f.closeCalled = true
	if f.closeErr != nil {
		return venue.Fill{}, f.closeErr
	}
	return venue.Fill{Symbol: symbol, Side: side, Price: f.fillPrice, Size: size, Timestamp: time.Now()}, nil
}

func (f *fakeVenue) MarkPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	if f.markErr != nil {
		return decimal.Zero, f.markErr
	}
	return f.markPrice, nil
}

func (f *fakeVenue) Balance(_ context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}

func (f *fakeVenue) FetchBars(_ context.Context, _, _ string, _ int) (domain.BarSeries, error) {
	return f.series, nil
}

func (f *fakeVenue) Name() string { return "fake" }

type fakeAdvisor struct {
	verdict advisor.Verdict
	err     error
}

func (f *fakeAdvisor) Validate(_ context.Context, _ domain.Signal, _ domain.IndicatorSnapshot) (advisor.Verdict, error) {
	return f.verdict, f.err
}

func (f *fakeAdvisor) Name() string { return "fake" }

func flatBars(price float64, n int) domain.BarSeries {
	bars := make([]domain.Candle, n)
	for i := range bars {
		bars[i] = domain.Candle{
			Timestamp: time.Now().Add(-time.Duration(n-i) * time.Minute),
			Open:      decimal.NewFromFloat(price),
			High:      decimal.NewFromFloat(price * 1.001),
			Low:       decimal.NewFromFloat(price * 0.999),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromFloat(1000),
		}
	}
	return domain.BarSeries{Symbol: "BTCUSDT", Timeframe: "1m", Bars: bars}
}

func testLoop(t *testing.T, v venue.Venue, a advisor.Advisor) *Loop {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.DefaultLoopConfig()

	dataStore, err := store.New(logger, store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	bus := events.New(logger, events.DefaultConfig())

	return New(logger, cfg, Deps{
		Venue:   v,
		Advisor: a,
		Store:   dataStore,
		Bus:     bus,
		V1:      v1.New(logger, v1.DefaultConfig()),
		V2:      v2.New(logger),
		Arbiter: arbiter.New(logger),
		Regime:  regime.New(logger, regime.DefaultConfig()),
		Expect:  expectancy.New(logger),
		Sizer:   risksizer.New(logger, risksizer.DefaultConfig()),
		Folio:   portfolio.New(logger, portfolio.DefaultConfig()),
		ExitMgr: exit.New(logger, exit.DefaultConfig()),
		Circuit: breaker.New(logger, breaker.DefaultConfig(), bus),
		Safety:  safety.New(logger, safety.NewConfig(cfg.Symbols, cfg.MaxOpenPositions, cfg.MaxLeverage, cfg.MaxDailyLossPct)),
		Balance: decimal.NewFromInt(10000),
	})
}

func longCandidate() candidate {
	return candidate{
		signal: domain.Signal{
			Symbol:     "BTCUSDT",
			Action:     domain.ActionEnterLong,
			Confidence: 0.9,
			Price:      decimal.NewFromInt(100),
			StopLoss:   decimal.NewFromInt(98),
			TakeProfit: decimal.NewFromInt(106),
			Reasoning:  "test entry",
		},
		regime: domain.Regime{Label: domain.RegimeTrendUp, RiskMultiplier: 1, Volatility: 0.1, Tradeable: true},
		ind:    domain.IndicatorSnapshot{CurrentPrice: 100},
	}
}

func TestActOnCandidateEntersPositionOnApprovedSignal(t *testing.T) {
	v := &fakeVenue{fillPrice: decimal.NewFromInt(100)}
	a := &fakeAdvisor{verdict: advisor.Verdict{Approved: true, Confidence: 0.8}}
	l := testLoop(t, v, a)

	l.actOnCandidate(context.Background(), longCandidate())

	if !v.submitCalled {
		t.Fatal("expected the venue to receive a submit order call")
	}
	l.mu.RLock()
	_, open := l.positions["BTCUSDT"]
	l.mu.RUnlock()
	if !open {
		t.Error("expected a tracked open position after a successful entry")
	}
}

func TestActOnCandidateRejectsOnAdvisorVeto(t *testing.T) {
	v := &fakeVenue{fillPrice: decimal.NewFromInt(100)}
	a := &fakeAdvisor{verdict: advisor.Verdict{Approved: false}}
	l := testLoop(t, v, a)

	l.actOnCandidate(context.Background(), longCandidate())

	if v.submitCalled {
		t.Error("advisor veto should prevent order submission")
	}
}

func TestActOnCandidateRejectsOnLowAdvisorConfidence(t *testing.T) {
	v := &fakeVenue{fillPrice: decimal.NewFromInt(100)}
	a := &fakeAdvisor{verdict: advisor.Verdict{Approved: true, Confidence: 0.1}}
	l := testLoop(t, v, a)

	l.actOnCandidate(context.Background(), longCandidate())

	if v.submitCalled {
		t.Error("advisor confidence below the floor should prevent order submission")
	}
}

func TestActOnCandidateSkipsWhenAlreadyOpen(t *testing.T) {
	v := &fakeVenue{fillPrice: decimal.NewFromInt(100)}
	a := &fakeAdvisor{verdict: advisor.Verdict{Approved: true, Confidence: 0.9}}
	l := testLoop(t, v, a)

	l.mu.Lock()
	l.positions["BTCUSDT"] = domain.OpenPosition{Symbol: "BTCUSDT"}
	l.mu.Unlock()

	l.actOnCandidate(context.Background(), longCandidate())

	if v.submitCalled {
		t.Error("an already-open symbol should never receive a second entry order")
	}
}

func TestActOnCandidateRejectsWhenCircuitHalted(t *testing.T) {
	v := &fakeVenue{fillPrice: decimal.NewFromInt(100)}
	a := &fakeAdvisor{verdict: advisor.Verdict{Approved: true, Confidence: 0.9}}
	l := testLoop(t, v, a)

	for i := 0; i < 5; i++ {
		l.circuit.ReportFailure()
	}

	l.actOnCandidate(context.Background(), longCandidate())

	if v.submitCalled {
		t.Error("a HALTed circuit breaker should block new entries")
	}
}

func TestManageOpenPositionsClosesOnHardStop(t *testing.T) {
	v := &fakeVenue{
		fillPrice: decimal.NewFromInt(94),
		markPrice: decimal.NewFromInt(94),
		series:    flatBars(94, 60),
	}
	a := &fakeAdvisor{}
	l := testLoop(t, v, a)

	l.mu.Lock()
	l.positions["BTCUSDT"] = domain.OpenPosition{
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
	l.mu.Unlock()

	l.manageOpenPositions(context.Background())

	if !v.closeCalled {
		t.Fatal("expected the venue to receive a close position call on hard stop breach")
	}
	l.mu.RLock()
	_, stillOpen := l.positions["BTCUSDT"]
	l.mu.RUnlock()
	if stillOpen {
		t.Error("position should be removed from tracking once closed")
	}
}

func TestManageOpenPositionsLeavesHealthyPositionOpen(t *testing.T) {
	v := &fakeVenue{
		fillPrice: decimal.NewFromInt(101),
		markPrice: decimal.NewFromInt(101),
		series:    flatBars(101, 60),
	}
	a := &fakeAdvisor{}
	l := testLoop(t, v, a)

	l.mu.Lock()
	l.positions["BTCUSDT"] = domain.OpenPosition{
		Symbol:       "BTCUSDT",
		Side:         domain.SideBuy,
		EntryPrice:   decimal.NewFromInt(100),
		Size:         decimal.NewFromInt(1),
		StopLoss:     decimal.NewFromInt(90),
		TakeProfit:   decimal.NewFromInt(200),
		EntryTime:    time.Now(),
		EntryRegime:  domain.RegimeTrendUp,
		HighestPrice: decimal.NewFromInt(101),
		LowestPrice:  decimal.NewFromInt(100),
	}
	l.mu.Unlock()

	l.manageOpenPositions(context.Background())

	if v.closeCalled {
		t.Error("a healthy position well within its stops should not be closed")
	}
}

func TestPortfolioSnapshotReflectsOpenPositions(t *testing.T) {
	v := &fakeVenue{}
	a := &fakeAdvisor{}
	l := testLoop(t, v, a)

	l.mu.Lock()
	l.positions["BTCUSDT"] = domain.OpenPosition{
		Symbol:     "BTCUSDT",
		Side:       domain.SideBuy,
		Size:       decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(100),
	}
	l.mu.Unlock()

	snap := l.PortfolioSnapshot()
	if !snap.BySymbol["BTCUSDT"].Equal(decimal.NewFromInt(100)) {
		t.Errorf("BySymbol[BTCUSDT] = %v, want 100", snap.BySymbol["BTCUSDT"])
	}
}

func TestOpenPositionCount(t *testing.T) {
	v := &fakeVenue{}
	a := &fakeAdvisor{}
	l := testLoop(t, v, a)

	if l.OpenPositionCount() != 0 {
		t.Fatalf("expected 0 open positions initially, got %d", l.OpenPositionCount())
	}

	l.mu.Lock()
	l.positions["BTCUSDT"] = domain.OpenPosition{Symbol: "BTCUSDT"}
	l.mu.Unlock()

	if l.OpenPositionCount() != 1 {
		t.Errorf("expected 1 open position, got %d", l.OpenPositionCount())
	}
}

func TestCircuitStateDelegatesToBreaker(t *testing.T) {
	v := &fakeVenue{}
	a := &fakeAdvisor{}
	l := testLoop(t, v, a)

	if l.CircuitState().Level != domain.CircuitClosed {
		t.Errorf("expected CLOSED at startup, got %v", l.CircuitState().Level)
	}
}

func TestRollDailyWindowResetsOnNewDay(t *testing.T) {
	v := &fakeVenue{}
	a := &fakeAdvisor{}
	l := testLoop(t, v, a)

	l.mu.Lock()
	l.dayOpen = decimal.NewFromInt(-50)
	l.dayStamp = "2000-01-01"
	l.mu.Unlock()

	l.rollDailyWindow()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.dayOpen.IsZero() {
		t.Errorf("dayOpen = %v, want 0 after rolling into a new day", l.dayOpen)
	}
}
