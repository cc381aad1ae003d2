// Package indicators derives the 26-field domain.IndicatorSnapshot from a
// domain.BarSeries. Every function operates on plain float64 slices, oldest
// value first, and reports its last computed value; callers that need the
// full series (e.g. for testing) can call the Series variants directly.
package indicators

import (
	"math"

	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

const epsilon = 1e-10

// Snapshot computes every field of domain.IndicatorSnapshot from series. It
// never returns NaN: when series has too few bars for a given indicator,
// that field falls back to a neutral default (RSI and MFI 50, Monte Carlo
// probability 0.5, moving averages and VWAP the last close, ATR/ADX/CCI 0),
// matching the WAIT-on-data-deficiency policy upstream callers apply.
func Snapshot(series domain.BarSeries) domain.IndicatorSnapshot {
	n := len(series.Bars)
	snap := domain.IndicatorSnapshot{Symbol: series.Symbol}
	if n == 0 {
		return snap
	}
	snap.Timestamp = series.Bars[n-1].Timestamp

	closes := closesOf(series)
	highs := highsOf(series)
	lows := lowsOf(series)
	opens := opensOf(series)
	volumes := volumesOf(series)

	snap.CurrentPrice = closes[n-1]

	snap.RSI = lastRSI(closes, 14)
	macd, signal, hist := lastMACD(closes, 12, 26, 9)
	snap.MACD, snap.MACDSignal, snap.MACDHistogram = macd, signal, hist

	rsiSeries := rsiSeries(closes, 14)
	snap.StochK, snap.StochD = lastStochRSI(rsiSeries, 14, 3, 3)

	snap.EMA9 = lastEMA(closes, 9)
	snap.EMA20 = lastEMA(closes, 20)
	snap.EMA50 = lastEMA(closes, 50)
	snap.EMA200 = lastEMA(closes, 200)
	snap.SMA20 = lastSMA(closes, 20)

	upper, middle, lower := lastBollinger(closes, 20, 2.0)
	snap.BBUpper, snap.BBMiddle, snap.BBLower = upper, middle, lower
	if middle > epsilon {
		snap.BBWidth = (upper - lower) / middle
	}

	snap.ATR = lastATR(highs, lows, closes, 14)
	snap.ADX = lastADX(highs, lows, closes, 14)
	snap.CCI = lastCCI(highs, lows, closes, 20)
	snap.MFI = lastMFI(highs, lows, closes, volumes, 14)
	snap.OBV = obv(closes, volumes)
	snap.VWAP = lastVWAP(highs, lows, closes, volumes)

	snap.MCProbability, snap.MCExpectedPrice = monteCarlo(closes, 14)
	snap.GKVolatility = garmanKlass(opens, highs, lows, closes)
	snap.ZScore = zScore(closes, 20)
	snap.LRSlope = linearRegressionSlope(closes, 20)

	return snap
}

func closesOf(s domain.BarSeries) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		f, _ := b.Close.Float64()
		out[i] = f
	}
	return out
}

func highsOf(s domain.BarSeries) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		f, _ := b.High.Float64()
		out[i] = f
	}
	return out
}

func lowsOf(s domain.BarSeries) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		f, _ := b.Low.Float64()
		out[i] = f
	}
	return out
}

func opensOf(s domain.BarSeries) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		f, _ := b.Open.Float64()
		out[i] = f
	}
	return out
}

func volumesOf(s domain.BarSeries) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		f, _ := b.Volume.Float64()
		out[i] = f
	}
	return out
}

// --- RSI ---

func rsiSeries(closes []float64, period int) []float64 {
	if len(closes) < period+1 {
		return nil
	}
	rsi := make([]float64, len(closes))
	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = math.Abs(change)
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	rsi[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		rsi[i+1] = rsiFromAverages(avgGain, avgLoss)
	}
	return rsi[period:]
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss < epsilon {
		return 100
	}
	rs := avgGain / avgLoss
	v := 100 - (100 / (1 + rs))
	return math.Max(0, math.Min(100, v))
}

func lastRSI(closes []float64, period int) float64 {
	s := rsiSeries(closes, period)
	if len(s) == 0 {
		return 50
	}
	return s[len(s)-1]
}

// --- EMA / SMA ---

func emaSeries(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	ema := make([]float64, len(closes))
	multiplier := 2.0 / float64(period+1)
	var sum float64
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	ema[period-1] = sum / float64(period)
	for i := period; i < len(closes); i++ {
		ema[i] = (closes[i]-ema[i-1])*multiplier + ema[i-1]
	}
	return ema[period-1:]
}

func lastEMA(closes []float64, period int) float64 {
	s := emaSeries(closes, period)
	if len(s) == 0 {
		if len(closes) == 0 {
			return 0
		}
		return closes[len(closes)-1]
	}
	return s[len(s)-1]
}

func lastSMA(closes []float64, period int) float64 {
	if len(closes) < period {
		if len(closes) == 0 {
			return 0
		}
		period = len(closes)
	}
	window := closes[len(closes)-period:]
	var sum float64
	for _, c := range window {
		sum += c
	}
	return sum / float64(period)
}

// --- MACD ---

func lastMACD(closes []float64, fast, slow, signalPeriod int) (macd, signal, histogram float64) {
	if len(closes) < slow+signalPeriod {
		return 0, 0, 0
	}
	fastEMA := fullEMA(closes, fast)
	slowEMA := fullEMA(closes, slow)

	macdLine := make([]float64, len(closes))
	for i := slow - 1; i < len(closes); i++ {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	tail := macdLine[slow-1:]
	signalLine := fullEMA(tail, signalPeriod)
	if len(signalLine) == 0 {
		return 0, 0, 0
	}

	macd = tail[len(tail)-1]
	signal = signalLine[len(signalLine)-1]
	histogram = macd - signal
	return macd, signal, histogram
}

// fullEMA mirrors emaSeries but keeps the leading zeros so indices line up
// with the input slice.
func fullEMA(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	ema := make([]float64, len(closes))
	multiplier := 2.0 / float64(period+1)
	var sum float64
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	ema[period-1] = sum / float64(period)
	for i := period; i < len(closes); i++ {
		ema[i] = (closes[i]-ema[i-1])*multiplier + ema[i-1]
	}
	return ema
}

// --- Bollinger Bands ---

func lastBollinger(closes []float64, period int, stdDevMul float64) (upper, middle, lower float64) {
	if len(closes) < period {
		if len(closes) == 0 {
			return 0, 0, 0
		}
		period = len(closes)
	}
	window := closes[len(closes)-period:]
	var sum float64
	for _, c := range window {
		sum += c
	}
	sma := sum / float64(period)

	var variance float64
	for _, c := range window {
		variance += math.Pow(c-sma, 2)
	}
	std := math.Sqrt(variance / float64(period))

	return sma + stdDevMul*std, sma, sma - stdDevMul*std
}

// --- ATR ---

func lastATR(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	tr := trueRanges(highs, lows, closes)
	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	for i := period + 1; i < len(closes); i++ {
		atr = ((atr * float64(period-1)) + tr[i]) / float64(period)
	}
	return atr
}

func trueRanges(highs, lows, closes []float64) []float64 {
	tr := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		tr1 := highs[i] - lows[i]
		tr2 := math.Abs(highs[i] - closes[i-1])
		tr3 := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(tr1, math.Max(tr2, tr3))
	}
	return tr
}

// --- ADX ---

func lastADX(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if n < period*2 {
		return 0
	}
	plusDM := make([]float64, n-1)
	minusDM := make([]float64, n-1)
	for i := 1; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}
	}
	tr := trueRanges(highs, lows, closes)[1:]

	smoothedPlusDM := wilderSmooth(plusDM, period)
	smoothedMinusDM := wilderSmooth(minusDM, period)
	smoothedTR := wilderSmooth(tr, period)

	m := len(smoothedTR)
	dx := make([]float64, m)
	for i := 0; i < m; i++ {
		if smoothedTR[i] < epsilon {
			continue
		}
		plusDI := (smoothedPlusDM[i] / smoothedTR[i]) * 100
		minusDI := (smoothedMinusDM[i] / smoothedTR[i]) * 100
		diSum := plusDI + minusDI
		if diSum > epsilon {
			dx[i] = (math.Abs(plusDI-minusDI) / diSum) * 100
		}
	}

	adx := wilderSmooth(dx, period)
	if len(adx) == 0 {
		return 0
	}
	return adx[len(adx)-1]
}

func wilderSmooth(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	out := make([]float64, len(values)-period+1)
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[0] = sum / float64(period)
	for i := 1; i < len(out); i++ {
		out[i] = (out[i-1]*float64(period-1) + values[i+period-1]) / float64(period)
	}
	return out
}

// --- CCI ---

func lastCCI(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if n < period {
		return 0
	}
	typical := make([]float64, n)
	for i := 0; i < n; i++ {
		typical[i] = (highs[i] + lows[i] + closes[i]) / 3
	}
	window := typical[n-period:]
	var sum float64
	for _, t := range window {
		sum += t
	}
	sma := sum / float64(period)

	var meanDev float64
	for _, t := range window {
		meanDev += math.Abs(t - sma)
	}
	meanDev /= float64(period)
	if meanDev < epsilon {
		return 0
	}
	return (typical[n-1] - sma) / (0.015 * meanDev)
}

// --- MFI ---

func lastMFI(highs, lows, closes, volumes []float64, period int) float64 {
	n := len(closes)
	if n < period+1 {
		return 50
	}
	typical := make([]float64, n)
	for i := 0; i < n; i++ {
		typical[i] = (highs[i] + lows[i] + closes[i]) / 3
	}

	var positiveFlow, negativeFlow float64
	for i := n - period; i < n; i++ {
		flow := typical[i] * volumes[i]
		if typical[i] > typical[i-1] {
			positiveFlow += flow
		} else if typical[i] < typical[i-1] {
			negativeFlow += flow
		}
	}
	if negativeFlow < epsilon {
		return 100
	}
	moneyRatio := positiveFlow / negativeFlow
	return 100 - (100 / (1 + moneyRatio))
}

// --- OBV ---

func obv(closes, volumes []float64) float64 {
	var total float64
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			total += volumes[i]
		case closes[i] < closes[i-1]:
			total -= volumes[i]
		}
	}
	return total
}

// --- VWAP ---

func lastVWAP(highs, lows, closes, volumes []float64) float64 {
	var cumulativeTPV, cumulativeVolume float64
	for i := range closes {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		cumulativeTPV += typical * volumes[i]
		cumulativeVolume += volumes[i]
	}
	if cumulativeVolume < epsilon {
		if len(closes) == 0 {
			return 0
		}
		return closes[len(closes)-1]
	}
	return cumulativeTPV / cumulativeVolume
}

// --- StochRSI ---

func lastStochRSI(rsiValues []float64, period, smoothK, smoothD int) (k, d float64) {
	if len(rsiValues) < period {
		return 0, 0
	}
	stoch := make([]float64, len(rsiValues))
	for i := period - 1; i < len(rsiValues); i++ {
		window := rsiValues[i-period+1 : i+1]
		minRSI, maxRSI := window[0], window[0]
		for _, v := range window {
			if v < minRSI {
				minRSI = v
			}
			if v > maxRSI {
				maxRSI = v
			}
		}
		if maxRSI-minRSI < epsilon {
			stoch[i] = 100
		} else {
			stoch[i] = ((rsiValues[i] - minRSI) / (maxRSI - minRSI)) * 100
		}
	}
	stoch = stoch[period-1:]

	kLine := smaSeries(stoch, smoothK)
	dLine := smaSeries(kLine, smoothD)
	if len(kLine) == 0 || len(dLine) == 0 {
		return 0, 0
	}
	return kLine[len(kLine)-1], dLine[len(dLine)-1]
}

func smaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	out := make([]float64, len(values)-period+1)
	for i := range out {
		var sum float64
		for _, v := range values[i : i+period] {
			sum += v
		}
		out[i] = sum / float64(period)
	}
	return out
}

// --- Monte Carlo projection ---

// monteCarlo estimates a directional probability and an expected next-bar
// price from the empirical distribution of the last period log-returns,
// using a closed-form normal approximation in place of sampled paths: the
// drift's sign and magnitude relative to its volatility gives the
// probability of an up-move, scaled into [0,1] with erf.
func monteCarlo(closes []float64, period int) (probability, expectedPrice float64) {
	n := len(closes)
	if n < period+1 {
		if n > 0 {
			return 0.5, closes[n-1]
		}
		return 0.5, 0
	}
	window := closes[n-period-1:]
	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		if window[i-1] > epsilon {
			returns = append(returns, math.Log(window[i]/window[i-1]))
		}
	}
	if len(returns) == 0 {
		return 0.5, closes[n-1]
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)

	price := closes[n-1]
	expectedPrice = price * math.Exp(mean)

	if stddev < epsilon {
		if mean > 0 {
			return 1.0, expectedPrice
		} else if mean < 0 {
			return 0.0, expectedPrice
		}
		return 0.5, expectedPrice
	}
	z := mean / stddev
	probability = 0.5 * (1 + math.Erf(z/math.Sqrt2))
	return probability, expectedPrice
}

// --- Garman-Klass volatility ---

// garmanKlass computes the Garman-Klass OHLC volatility estimator over
// the full series, scaled by 1440 bars per day (a daily figure for a
// 1-minute timeframe's worth of data); callers treat the return value as a
// bounded [0, +inf) volatility score, not a literal percentage.
func garmanKlass(opens, highs, lows, closes []float64) float64 {
	n := len(closes)
	if n == 0 {
		return 0
	}
	var sum float64
	count := 0
	for i := 0; i < n; i++ {
		if opens[i] < epsilon || lows[i] < epsilon {
			continue
		}
		logHL := math.Log(highs[i] / lows[i])
		logCO := math.Log(closes[i] / opens[i])
		sum += 0.5*logHL*logHL - (2*math.Log(2)-1)*logCO*logCO
		count++
	}
	if count == 0 {
		return 0
	}
	variance := sum / float64(count)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * 1440)
}

// --- Z-score ---

func zScore(closes []float64, period int) float64 {
	n := len(closes)
	if n < period {
		period = n
	}
	if period == 0 {
		return 0
	}
	window := closes[n-period:]
	var sum float64
	for _, c := range window {
		sum += c
	}
	mean := sum / float64(period)

	var variance float64
	for _, c := range window {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(period)
	std := math.Sqrt(variance)
	if std < epsilon {
		return 0
	}
	return (closes[n-1] - mean) / std
}

// --- Linear regression slope ---

func linearRegressionSlope(closes []float64, period int) float64 {
	n := len(closes)
	if n < period {
		period = n
	}
	if period < 2 {
		return 0
	}
	window := closes[n-period:]

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	count := float64(period)
	denom := count*sumXX - sumX*sumX
	if math.Abs(denom) < epsilon {
		return 0
	}
	slope := (count*sumXY - sumX*sumY) / denom

	mean := sumY / count
	if mean < epsilon {
		return 0
	}
	return slope / mean
}
