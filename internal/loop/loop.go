// Package loop is the trading loop composition root: it owns every
// subsystem handle and drives the per-cycle pipeline over the configured
// symbol universe until Stop is called.
package loop

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/internal/advisor"
	"github.com/atlas-desktop/scalper-core/internal/breaker"
	"github.com/atlas-desktop/scalper-core/internal/config"
	"github.com/atlas-desktop/scalper-core/internal/events"
	"github.com/atlas-desktop/scalper-core/internal/exit"
	"github.com/atlas-desktop/scalper-core/internal/expectancy"
	"github.com/atlas-desktop/scalper-core/internal/ids"
	"github.com/atlas-desktop/scalper-core/internal/indicators"
	"github.com/atlas-desktop/scalper-core/internal/portfolio"
	"github.com/atlas-desktop/scalper-core/internal/regime"
	"github.com/atlas-desktop/scalper-core/internal/risksizer"
	"github.com/atlas-desktop/scalper-core/internal/safety"
	"github.com/atlas-desktop/scalper-core/internal/signal/arbiter"
	v1 "github.com/atlas-desktop/scalper-core/internal/signal/v1"
	v2 "github.com/atlas-desktop/scalper-core/internal/signal/v2"
	"github.com/atlas-desktop/scalper-core/internal/store"
	"github.com/atlas-desktop/scalper-core/internal/venue"
	"github.com/atlas-desktop/scalper-core/internal/workers"
	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// candidate is the best-by-confidence signal tracked during step 2 of a
// cycle, paired with the regime and indicator snapshot it was derived
// from so later steps need not recompute them.
type candidate struct {
	signal domain.Signal
	regime domain.Regime
	ind    domain.IndicatorSnapshot
}

// Loop wires the six trading-decision subsystems together and drives the
// cycle. It implements api.StatusProvider.
type Loop struct {
	logger *zap.Logger
	cfg    config.LoopConfig

	venue   venue.Venue
	advisor advisor.Advisor
	store   *store.Store
	bus     *events.Bus

	v1       *v1.Scorer
	v2       *v2.Validator
	arbiter  *arbiter.Arbiter
	regime   *regime.Detector
	expect   *expectancy.Engine
	sizer    *risksizer.Sizer
	folio    *portfolio.Manager
	exitMgr  *exit.Manager
	circuit  *breaker.Breaker
	safety   *safety.Checker
	fetchers *workers.Pool

	mu        sync.RWMutex
	positions map[string]domain.OpenPosition
	balance   decimal.Decimal
	dayOpen   decimal.Decimal
	dayStamp  string

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Deps bundles every constructed subsystem handle the loop needs. main
// wires these up bottom-up before calling New.
type Deps struct {
	Venue    venue.Venue
	Advisor  advisor.Advisor
	Store    *store.Store
	Bus      *events.Bus
	V1       *v1.Scorer
	V2       *v2.Validator
	Arbiter  *arbiter.Arbiter
	Regime   *regime.Detector
	Expect   *expectancy.Engine
	Sizer    *risksizer.Sizer
	Folio    *portfolio.Manager
	ExitMgr  *exit.Manager
	Circuit  *breaker.Breaker
	Safety   *safety.Checker
	Balance  decimal.Decimal
}

// New constructs a Loop over cfg and deps. It starts with no open
// positions; the venue is the sole source of truth for positions that
// predate the process.
func New(logger *zap.Logger, cfg config.LoopConfig, deps Deps) *Loop {
	poolCfg := workers.DefaultPoolConfig("bar-fetch")
	poolCfg.NumWorkers = cfg.FetchConcurrency
	if poolCfg.NumWorkers <= 0 {
		poolCfg.NumWorkers = 4
	}
	poolCfg.QueueSize = len(cfg.Symbols) + 1

	return &Loop{
		logger:    logger.Named("loop"),
		cfg:       cfg,
		venue:     deps.Venue,
		advisor:   deps.Advisor,
		store:     deps.Store,
		bus:       deps.Bus,
		v1:        deps.V1,
		v2:        deps.V2,
		arbiter:   deps.Arbiter,
		regime:    deps.Regime,
		expect:    deps.Expect,
		sizer:     deps.Sizer,
		folio:     deps.Folio,
		exitMgr:   deps.ExitMgr,
		circuit:   deps.Circuit,
		safety:    deps.Safety,
		fetchers:  workers.NewPool(logger.Named("bar-fetch"), poolCfg),
		positions: make(map[string]domain.OpenPosition),
		balance:   deps.Balance,
	}
}

// Start runs the cycle loop until ctx is cancelled or Stop is called. It
// blocks; callers run it in a goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("loop already running")
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	l.fetchers.Start()
	l.refreshBalance(ctx)

	ticker := time.NewTicker(l.cfg.CycleInterval)
	defer ticker.Stop()

	l.logger.Info("trading loop started",
		zap.Strings("symbols", l.cfg.Symbols),
		zap.Duration("cycle_interval", l.cfg.CycleInterval),
	)

	defer close(l.doneCh)
	for {
		select {
		case <-ctx.Done():
			l.shutdown(context.Background())
			return ctx.Err()
		case <-l.stopCh:
			l.shutdown(context.Background())
			return nil
		case <-ticker.C:
			l.runCycle(ctx)
		}
	}
}

// Stop requests the loop to exit and waits for the current cycle to
// finish and every open position to be closed best-effort.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()
	<-l.doneCh
}

func (l *Loop) shutdown(ctx context.Context) {
	l.logger.Info("trading loop stopping, closing open positions")
	l.mu.Lock()
	open := make([]domain.OpenPosition, 0, len(l.positions))
	for _, p := range l.positions {
		open = append(open, p)
	}
	l.mu.Unlock()

	for _, p := range open {
		l.closePosition(ctx, p, "loop_shutdown")
	}
	l.fetchers.Stop()
}

// runCycle executes one full pass of the four-step trading cycle: roll the
// daily window (after the degradation check and breaker recovery), manage
// open positions, select a candidate, act on it.
func (l *Loop) runCycle(ctx context.Context) {
	cycleID := ids.Cycle()
	start := time.Now()
	defer func() {
		l.bus.Publish("cycle_complete", map[string]interface{}{
			"cycle_id":    cycleID,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}()

	// Step 0: periodic degradation check, escalating the circuit breaker
	// on a sustained drop in realized performance.
	l.checkDegradation()
	l.circuit.MaybeRecover()
	l.rollDailyWindow()

	// Step 4 runs before step 2/3 so a position that should exit on this
	// bar does so before any new capital is committed against the same
	// symbol's cap.
	l.manageOpenPositions(ctx)

	best, ok := l.selectCandidate(ctx)
	if !ok {
		return
	}
	l.actOnCandidate(ctx, best)
}

// selectCandidate runs step 2: concurrent per-symbol bar fetches (bounded
// by the fetcher pool), serial signal/regime derivation, and
// best-by-confidence tracking. It returns ok=false if no tradeable,
// above-floor candidate was found this cycle.
func (l *Loop) selectCandidate(ctx context.Context) (candidate, bool) {
	type fetched struct {
		symbol string
		series domain.BarSeries
		err    error
	}
	results := make(chan fetched, len(l.cfg.Symbols))
	var wg sync.WaitGroup

	for _, symbol := range l.cfg.Symbols {
		symbol := symbol
		wg.Add(1)
		if err := l.fetchers.Submit(workers.TaskFunc(func() error {
			defer wg.Done()
			series, err := l.venue.FetchBars(ctx, symbol, l.cfg.Timeframe, 260)
			results <- fetched{symbol: symbol, series: series, err: err}
			return err
		})); err != nil {
			wg.Done()
			results <- fetched{symbol: symbol, err: err}
		}
	}
	go func() { wg.Wait(); close(results) }()

	var best candidate
	haveBest := false
	floor := l.cfg.MinConfidence + l.circuit.StricterConfidenceFloor()

	for r := range results {
		if r.err != nil {
			l.circuit.ReportFailure()
			l.logger.Warn("bar fetch failed", zap.String("symbol", r.symbol), zap.Error(r.err))
			continue
		}
		if len(r.series.Bars) == 0 {
			continue
		}

		ind := indicators.Snapshot(r.series)
		sig := l.v1.Evaluate(r.symbol, r.series.Last().Close, ind)
		if sig.Action == domain.ActionWait {
			continue
		}

		v2Result := l.v2.Validate(ind, sig.Action.Direction(), sig.Confidence)
		final := l.arbiter.Decide(sig, v2Result)
		if final.Action == domain.ActionWait {
			continue
		}

		reg := l.regime.Classify(r.series, ind)
		if !reg.Tradeable {
			continue
		}

		if final.Confidence < floor {
			continue
		}

		if !haveBest || final.Confidence > best.signal.Confidence {
			best = candidate{signal: final, regime: reg, ind: ind}
			haveBest = true
		}
	}

	return best, haveBest
}

// actOnCandidate runs step 3: circuit breaker gate, advisor veto, risk
// sizing, portfolio admission, safety preflight, then order submission.
func (l *Loop) actOnCandidate(ctx context.Context, c candidate) {
	sig := c.signal

	if !l.circuit.Allows(sig.Action) {
		l.bus.Publish("order_rejected", map[string]interface{}{"symbol": sig.Symbol, "reason": "circuit_halted"})
		return
	}

	verdict, err := l.advisor.Validate(ctx, sig, c.ind)
	if err != nil || !verdict.Approved || verdict.Confidence < 0.4 {
		l.bus.Publish("order_rejected", map[string]interface{}{"symbol": sig.Symbol, "reason": "advisor_veto"})
		return
	}

	l.mu.RLock()
	balance := l.balance
	dayOpen := l.dayOpen
	openCount := len(l.positions)
	_, alreadyOpen := l.positions[sig.Symbol]
	positionsCopy := make(map[string]domain.OpenPosition, len(l.positions))
	for k, v := range l.positions {
		positionsCopy[k] = v
	}
	l.mu.RUnlock()

	if alreadyOpen {
		return
	}

	trades := l.store.Trades(sig.Symbol)
	kelly, kellyUsable := l.expect.Compute(trades)

	sizeResult := l.sizer.Size(risksizer.Request{
		Balance:      balance,
		Entry:        sig.Price,
		Stop:         sig.StopLoss,
		Leverage:     l.cfg.Leverage,
		Symbol:       sig.Symbol,
		Regime:       c.regime,
		V1Confidence: sig.Confidence,
		Kelly:        kelly,
		KellyUsable:  kellyUsable,
	})
	if sizeResult.Size.IsZero() {
		l.bus.Publish("order_rejected", map[string]interface{}{"symbol": sig.Symbol, "reason": sizeResult.LimitingFactor})
		return
	}

	admitted, reason := l.folio.Admit(sig.Symbol, sizeResult.Size, sig.Price, balance, positionsCopy)
	if !admitted {
		l.bus.Publish("order_rejected", map[string]interface{}{"symbol": sig.Symbol, "reason": reason})
		return
	}

	reason, err = l.safety.Allow(sig.Symbol, l.cfg.Leverage, openCount, dayOpen, balance)
	if err != nil || reason != "" {
		l.bus.Publish("order_rejected", map[string]interface{}{"symbol": sig.Symbol, "reason": reason})
		return
	}

	l.submitEntry(ctx, sig, c.regime, sizeResult.Size)
}

func (l *Loop) submitEntry(ctx context.Context, sig domain.Signal, reg domain.Regime, size decimal.Decimal) {
	side := domain.SideBuy
	if sig.Action == domain.ActionEnterShort {
		side = domain.SideSell
	}

	reqStart := time.Now()
	fill, err := l.venue.SubmitOrder(ctx, venue.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       side,
		Size:       size,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		SignalID:   ids.Signal(),
	})
	l.circuit.ReportLatency(float64(time.Since(reqStart).Milliseconds()))
	if err != nil {
		l.circuit.ReportFailure()
		l.bus.Publish("order_rejected", map[string]interface{}{"symbol": sig.Symbol, "reason": "venue_error"})
		return
	}
	l.circuit.ReportSuccess()

	slippage := 0.0
	if !sig.Price.IsZero() {
		delta := fill.Price.Sub(sig.Price).Div(sig.Price).Abs()
		slippage, _ = delta.Float64()
		l.circuit.ReportSlippage(slippage * 100)
	}

	pos := domain.OpenPosition{
		Symbol:       sig.Symbol,
		Side:         side,
		EntryPrice:   fill.Price,
		Size:         fill.Size,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		EntryTime:    fill.Timestamp,
		EntryRegime:  reg.Label,
		HighestPrice: fill.Price,
		LowestPrice:  fill.Price,
		EntryReason:  sig.Reasoning,
		AIConfidence: sig.Confidence,
	}

	l.mu.Lock()
	l.positions[sig.Symbol] = pos
	l.mu.Unlock()

	l.logger.Info("order submitted",
		zap.String("symbol", sig.Symbol),
		zap.String("side", string(side)),
		zap.String("size", size.String()),
		zap.String("entry", fill.Price.String()),
	)
	l.bus.Publish("order_submitted", map[string]interface{}{
		"symbol": sig.Symbol, "side": side, "size": size.String(), "entry": fill.Price.String(),
	})
}

// manageOpenPositions runs step 4: refresh mark prices, update high/low
// water marks, evaluate the exit manager, and close on trigger.
func (l *Loop) manageOpenPositions(ctx context.Context) {
	l.mu.RLock()
	positions := make([]domain.OpenPosition, 0, len(l.positions))
	for _, p := range l.positions {
		positions = append(positions, p)
	}
	balance := l.balance
	l.mu.RUnlock()

	snapshot := l.folio.Snapshot(l.snapshotPositions(), balance)

	for _, pos := range positions {
		mark, err := l.venue.MarkPrice(ctx, pos.Symbol)
		if err != nil {
			l.circuit.ReportFailure()
			continue
		}

		if mark.GreaterThan(pos.HighestPrice) {
			pos.HighestPrice = mark
		}
		if pos.LowestPrice.IsZero() || mark.LessThan(pos.LowestPrice) {
			pos.LowestPrice = mark
		}
		l.mu.Lock()
		l.positions[pos.Symbol] = pos
		l.mu.Unlock()

		series, err := l.venue.FetchBars(ctx, pos.Symbol, l.cfg.Timeframe, 260)
		if err != nil || len(series.Bars) == 0 {
			continue
		}
		ind := indicators.Snapshot(series)
		reg := l.regime.Classify(series, ind)

		result := l.exitMgr.Evaluate(pos, mark, reg, ind, snapshot)
		if result.Exit {
			l.closePosition(ctx, pos, result.Reason)
		}
	}
}

func (l *Loop) closePosition(ctx context.Context, pos domain.OpenPosition, reason string) {
	fill, err := l.venue.ClosePosition(ctx, pos.Symbol, pos.Side, pos.Size)
	if err != nil {
		l.circuit.ReportFailure()
		l.logger.Warn("close position failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		return
	}
	l.circuit.ReportSuccess()

	pnl := fill.Price.Sub(pos.EntryPrice).Mul(pos.Size)
	if pos.Side == domain.SideSell {
		pnl = pos.EntryPrice.Sub(fill.Price).Mul(pos.Size)
	}

	trade := domain.ClosedTrade{
		ID:         ids.Trade(),
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Entry:      pos.EntryPrice,
		Exit:       fill.Price,
		Size:       pos.Size,
		PnL:        pnl,
		EntryTime:  pos.EntryTime,
		ExitTime:   fill.Timestamp,
		ExitReason: reason,
	}
	if err := l.store.Append(trade); err != nil {
		l.logger.Error("failed to persist closed trade", zap.Error(err))
	}

	pnlF, _ := pnl.Float64()
	if pnlF < 0 {
		notional := pos.EntryPrice.Mul(pos.Size)
		if !notional.IsZero() {
			unexpected, _ := pnl.Div(notional).Abs().Float64()
			l.circuit.ReportUnexpectedLoss(unexpected * 100)
		}
	}

	l.mu.Lock()
	delete(l.positions, pos.Symbol)
	l.dayOpen = l.dayOpen.Add(pnl)
	l.mu.Unlock()

	l.logger.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.String("pnl", pnl.String()),
	)
	l.bus.Publish("trade_closed", map[string]interface{}{
		"symbol": pos.Symbol, "reason": reason, "pnl": pnl.String(),
	})
}

// checkDegradation escalates the circuit breaker when the expectancy
// engine detects sustained performance degradation across the union of
// every symbol's closed-trade history.
func (l *Loop) checkDegradation() {
	var all []domain.ClosedTrade
	for _, symbol := range l.cfg.Symbols {
		all = append(all, l.store.Trades(symbol)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExitTime.Before(all[j].ExitTime) })

	degraded, reason, ok := l.expect.DetectDegradation(all)
	if ok && degraded {
		l.circuit.ReportDegradation(reason)
	}
}

func (l *Loop) rollDailyWindow() {
	today := time.Now().Format("2006-01-02")
	l.mu.Lock()
	if l.dayStamp != today {
		l.dayStamp = today
		l.dayOpen = decimal.Zero
	}
	l.mu.Unlock()
}

func (l *Loop) refreshBalance(ctx context.Context) {
	bal, err := l.venue.Balance(ctx)
	if err != nil {
		l.logger.Warn("failed to refresh balance, keeping prior value", zap.Error(err))
		return
	}
	l.mu.Lock()
	l.balance = bal
	l.mu.Unlock()
}

func (l *Loop) snapshotPositions() map[string]domain.OpenPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]domain.OpenPosition, len(l.positions))
	for k, v := range l.positions {
		out[k] = v
	}
	return out
}

// PortfolioSnapshot implements api.StatusProvider.
func (l *Loop) PortfolioSnapshot() domain.PortfolioSnapshot {
	l.mu.RLock()
	balance := l.balance
	l.mu.RUnlock()
	return l.folio.Snapshot(l.snapshotPositions(), balance)
}

// CircuitState implements api.StatusProvider.
func (l *Loop) CircuitState() domain.CircuitState {
	return l.circuit.State()
}

// OpenPositionCount implements api.StatusProvider.
func (l *Loop) OpenPositionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
