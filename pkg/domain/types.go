// Package domain defines the shared data model of the trading decision core:
// candles, derived indicators, signals, regimes, and the position/trade
// lifecycle types that flow between the signal pipeline, the risk sizer, the
// portfolio manager, and the circuit breaker.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order or position.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Candle is a single immutable OHLCV bar.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// BarSeries is an ordered sequence of recent candles for one symbol, oldest
// first. It is fetched fresh every cycle and discarded once the cycle's
// indicators have been derived from it.
type BarSeries struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Bars      []Candle  `json:"bars"`
}

// Closes returns the close prices of the series, oldest first.
func (s BarSeries) Closes() []decimal.Decimal {
	out := make([]decimal.Decimal, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Last returns the most recent candle. Callers must ensure Bars is non-empty.
func (s BarSeries) Last() Candle {
	return s.Bars[len(s.Bars)-1]
}

// CloseFloats returns the close prices as float64, oldest first.
func (s BarSeries) CloseFloats() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		f, _ := b.Close.Float64()
		out[i] = f
	}
	return out
}

// IndicatorSnapshot is the fixed 27-field schema of derived values computed
// from a BarSeries. It is immutable once produced.
type IndicatorSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	RSI            float64 `json:"rsi"`
	MACD           float64 `json:"macd"`
	MACDSignal     float64 `json:"macd_signal"`
	MACDHistogram  float64 `json:"macd_histogram"`
	StochK         float64 `json:"stoch_k"`
	StochD         float64 `json:"stoch_d"`
	EMA9           float64 `json:"ema_9"`
	EMA20          float64 `json:"ema_20"`
	EMA50          float64 `json:"ema_50"`
	EMA200         float64 `json:"ema_200"`
	SMA20          float64 `json:"sma_20"`
	BBUpper        float64 `json:"bb_upper"`
	BBMiddle       float64 `json:"bb_middle"`
	BBLower        float64 `json:"bb_lower"`
	BBWidth        float64 `json:"bb_width"`
	ATR            float64 `json:"atr"`
	ADX            float64 `json:"adx"`
	CCI            float64 `json:"cci"`
	MFI            float64 `json:"mfi"`
	OBV            float64 `json:"obv"`
	VWAP           float64 `json:"vwap"`
	MCProbability  float64 `json:"mc_probability"`
	MCExpectedPrice float64 `json:"mc_expected_price"`
	GKVolatility   float64 `json:"gk_volatility"`
	ZScore         float64 `json:"z_score"`
	LRSlope        float64 `json:"lr_slope"`
	CurrentPrice   float64 `json:"current_price"`
}

// CategoryScores holds the six bounded [-1,1] scores produced by the V1
// probabilistic scorer.
type CategoryScores struct {
	Momentum      float64 `json:"momentum"`
	Trend         float64 `json:"trend"`
	Volatility    float64 `json:"volatility"`
	Volume        float64 `json:"volume"`
	MeanReversion float64 `json:"mean_reversion"`
	Probability   float64 `json:"probability"`
}

// Action is the decision a Signal carries.
type Action string

const (
	ActionEnterLong  Action = "ENTER_LONG"
	ActionEnterShort Action = "ENTER_SHORT"
	ActionExitLong   Action = "EXIT_LONG"
	ActionExitShort  Action = "EXIT_SHORT"
	ActionWait       Action = "WAIT"
)

// IsEntry reports whether the action opens a new position.
func (a Action) IsEntry() bool {
	return a == ActionEnterLong || a == ActionEnterShort
}

// IsExit reports whether the action closes a position.
func (a Action) IsExit() bool {
	return a == ActionExitLong || a == ActionExitShort
}

// Direction returns "long" or "short" for an entry action, or "" otherwise.
func (a Action) Direction() string {
	switch a {
	case ActionEnterLong:
		return "long"
	case ActionEnterShort:
		return "short"
	default:
		return ""
	}
}

// Signal is a candidate decision produced by the signal pipeline for one
// symbol in one cycle.
type Signal struct {
	Symbol            string             `json:"symbol"`
	Action            Action             `json:"action"`
	Confidence        float64            `json:"confidence"`
	RawScore          float64            `json:"raw_score"`
	AdjustedScore     float64            `json:"adjusted_score"`
	Price             decimal.Decimal    `json:"price"`
	StopLoss          decimal.Decimal    `json:"stop_loss"`
	TakeProfit        decimal.Decimal    `json:"take_profit"`
	RiskReward        float64            `json:"risk_reward"`
	CategoryScores    CategoryScores     `json:"category_scores"`
	IndicatorSnapshot IndicatorSnapshot  `json:"indicator_snapshot"`
	Reasoning         string             `json:"reasoning"`
	CreatedAt         time.Time          `json:"created_at"`
}

// RegimeLabel classifies the market state.
type RegimeLabel string

const (
	RegimeTrendUp  RegimeLabel = "TREND_UP"
	RegimeTrendDown RegimeLabel = "TREND_DOWN"
	RegimeRange    RegimeLabel = "RANGE"
	RegimeChop     RegimeLabel = "CHOP"
	RegimeVolatile RegimeLabel = "VOLATILE"
	RegimeUnknown  RegimeLabel = "UNKNOWN"
)

// Regime is the market-state classification derived once per cycle per
// symbol.
type Regime struct {
	Label         RegimeLabel `json:"label"`
	Confidence    float64     `json:"confidence"`
	RiskMultiplier float64    `json:"risk_multiplier"`
	Volatility    float64     `json:"volatility"`
	ADX           float64     `json:"adx"`
	Tradeable     bool        `json:"tradeable"`
}

// ClosedTrade is an immutable historical outcome, created when a position is
// closed.
type ClosedTrade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Entry      decimal.Decimal `json:"entry"`
	Exit       decimal.Decimal `json:"exit"`
	Size       decimal.Decimal `json:"size"`
	PnL        decimal.Decimal `json:"pnl"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	ExitReason string          `json:"exit_reason"`
}

// KellyInputs are rolling empirical statistics recomputed on demand from a
// ClosedTrade set. They are only meaningful once SampleSize >= 30.
type KellyInputs struct {
	WinRate          float64 `json:"win_rate"`
	PayoffRatio      float64 `json:"payoff_ratio"`
	KellyFractionRaw float64 `json:"kelly_fraction_raw"`
	SampleSize       int     `json:"sample_size"`
	Expectancy       float64 `json:"expectancy"`
}

// OpenPosition is the live state of a position currently held on a venue.
type OpenPosition struct {
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	Size         decimal.Decimal `json:"size"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	EntryTime    time.Time       `json:"entry_time"`
	EntryRegime  RegimeLabel     `json:"entry_regime"`
	HighestPrice decimal.Decimal `json:"highest_price"`
	LowestPrice  decimal.Decimal `json:"lowest_price"`
	EntryReason  string          `json:"entry_reason"`
	AIConfidence float64         `json:"ai_confidence"`
}

// PnLPct returns the unrealized percentage return of the position at the
// given mark price, positive when favorable.
func (p OpenPosition) PnLPct(mark decimal.Decimal) float64 {
	if p.EntryPrice.IsZero() {
		return 0
	}
	delta := mark.Sub(p.EntryPrice).Div(p.EntryPrice)
	f, _ := delta.Float64()
	if p.Side == SideSell {
		f = -f
	}
	return f
}

// CircuitLevel is one of the five graduated states of the circuit breaker.
type CircuitLevel string

const (
	CircuitClosed   CircuitLevel = "CLOSED"
	CircuitAlert    CircuitLevel = "ALERT"
	CircuitThrottle CircuitLevel = "THROTTLE"
	CircuitHalt     CircuitLevel = "HALT"
	CircuitShutdown CircuitLevel = "SHUTDOWN"
)

// CircuitState is the supervisor's process-lifetime state.
type CircuitState struct {
	Level               CircuitLevel    `json:"level"`
	LastTransition      time.Time       `json:"last_transition_ts"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	RecentLatenciesMs   []float64       `json:"recent_latencies"`
	RecentSlippagesPct  []float64       `json:"recent_slippages"`
	ManualOverride      bool            `json:"manual_override"`
}

// PortfolioSnapshot is the derived exposure view recomputed on each
// admission check.
type PortfolioSnapshot struct {
	BySymbol              map[string]decimal.Decimal `json:"by_symbol"`
	BySector              map[string]decimal.Decimal `json:"by_sector"`
	ByLongShort           map[OrderSide]decimal.Decimal `json:"by_side"`
	Net                   decimal.Decimal            `json:"net"`
	CorrelationAdjustedHeat float64                  `json:"correlation_adjusted_heat"`
}
