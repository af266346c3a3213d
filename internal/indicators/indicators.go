// Package indicators holds the pure, stateless numerical functions that
// derive trading signals from candle history: TPO profiles, classical
// oscillators, opening-range structure, and Black-Scholes pricing.
//
// Every function here is deterministic and side-effect free. Functions that
// can fail for lack of history return a boolean/ok flag (or a nil pointer)
// rather than an error — there is no such thing as an "indicator error",
// only "not enough data yet".
package indicators

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/aurora/pkg/types"
)

var (
	defaultTickSize          = decimal.NewFromFloat(0.25)
	defaultValueAreaFraction = decimal.NewFromFloat(0.70)
	neutralImpulseRatio      = decimal.NewFromFloat(0.1)
)

// BuildTPOProfile spreads each candle's volume uniformly across the ticks it
// spans and derives the point of control and value area. Returns false for
// an empty candle slice.
func BuildTPOProfile(candles []types.Candle, tickSize, valueAreaFraction decimal.Decimal) (*types.TPOProfile, bool) {
	if len(candles) == 0 {
		return nil, false
	}
	if tickSize.IsZero() {
		tickSize = defaultTickSize
	}
	if valueAreaFraction.IsZero() {
		valueAreaFraction = defaultValueAreaFraction
	}

	rangeLow := candles[0].Low
	rangeHigh := candles[0].High
	for _, c := range candles[1:] {
		if c.Low.LessThan(rangeLow) {
			rangeLow = c.Low
		}
		if c.High.GreaterThan(rangeHigh) {
			rangeHigh = c.High
		}
	}

	tickIndex := func(price decimal.Decimal) int64 {
		return price.Div(tickSize).Round(0).IntPart()
	}

	mass := make(map[int64]decimal.Decimal)
	for _, c := range candles {
		lo := tickIndex(c.Low)
		hi := tickIndex(c.High)
		if hi < lo {
			hi = lo
		}
		n := hi - lo + 1
		perTick := c.Volume.Div(decimal.NewFromInt(n))
		for t := lo; t <= hi; t++ {
			mass[t] = mass[t].Add(perTick)
		}
	}

	ticks := make([]int64, 0, len(mass))
	for t := range mass {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })

	totalMass := decimal.Zero
	for _, t := range ticks {
		totalMass = totalMass.Add(mass[t])
	}

	var pocTick int64
	pocMass := decimal.Zero
	for i, t := range ticks {
		if i == 0 || mass[t].GreaterThan(pocMass) {
			pocTick = t
			pocMass = mass[t]
		}
	}

	target := valueAreaFraction.Mul(totalMass)
	cum := pocMass
	vahTick, valTick := pocTick, pocTick
	for cum.LessThan(target) {
		upMass, upOk := mass[vahTick+1]
		downMass, downOk := mass[valTick-1]
		if !upOk && !downOk {
			break
		}
		if upOk && (!downOk || upMass.GreaterThan(downMass)) {
			vahTick++
			cum = cum.Add(upMass)
		} else {
			valTick--
			cum = cum.Add(downMass)
		}
	}

	histogram := make(map[string]decimal.Decimal, len(ticks))
	for _, t := range ticks {
		price := decimal.NewFromInt(t).Mul(tickSize)
		histogram[price.String()] = mass[t]
	}

	open := candles[0].Open
	closePrice := candles[len(candles)-1].Close
	sessionRange := rangeHigh.Sub(rangeLow)
	impulse := types.TPOImpulseNeutral
	if sessionRange.IsPositive() {
		ratio := closePrice.Sub(open).Abs().Div(sessionRange)
		if ratio.GreaterThanOrEqual(neutralImpulseRatio) {
			if closePrice.GreaterThan(open) {
				impulse = types.TPOImpulseBullish
			} else if closePrice.LessThan(open) {
				impulse = types.TPOImpulseBearish
			}
		}
	}

	return &types.TPOProfile{
		POC:       decimal.NewFromInt(pocTick).Mul(tickSize),
		VAH:       decimal.NewFromInt(vahTick).Mul(tickSize),
		VAL:       decimal.NewFromInt(valTick).Mul(tickSize),
		Impulse:   impulse,
		Histogram: histogram,
		TotalMass: totalMass,
		RangeHigh: rangeHigh,
		RangeLow:  rangeLow,
	}, true
}

// RSI computes Wilder-smoothed relative strength over closes, reseeded from
// scratch each call (a pure analog of the teacher's streaming
// RSIDivergenceStrategy smoothing). Returns false with fewer than period+1
// closes.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	gainSum, lossSum := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum += -change
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// SMA returns the simple moving average of the trailing period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	window := values[len(values)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(period), true
}

// EMA returns the exponential moving average over values, seeded from the
// simple average of the first period values.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	mult := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*mult + ema
	}
	return ema, true
}

// VWAP computes the cumulative volume-weighted average price over candles.
// Returns false when total volume is zero.
func VWAP(candles []types.Candle) (float64, bool) {
	cumPV, cumV := 0.0, 0.0
	for _, c := range candles {
		typical := c.High.Add(c.Low).Add(c.Close).Div(decimal.NewFromInt(3))
		tp, _ := typical.Float64()
		v, _ := c.Volume.Float64()
		cumPV += tp * v
		cumV += v
	}
	if cumV == 0 {
		return 0, false
	}
	return cumPV / cumV, true
}

// ATR computes the Wilder-smoothed average true range over period candles.
func ATR(candles []types.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high, _ := candles[i].High.Float64()
		low, _ := candles[i].Low.Float64()
		prevClose, _ := candles[i-1].Close.Float64()
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trs = append(trs, tr)
	}
	if len(trs) < period {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += trs[i]
	}
	atr := sum / float64(period)
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr, true
}

// Bollinger returns the upper and lower bands at numStdDev standard
// deviations from the period-SMA.
func Bollinger(closes []float64, period int, numStdDev float64) (upper, lower float64, ok bool) {
	mean, ok := SMA(closes, period)
	if !ok {
		return 0, 0, false
	}
	window := closes[len(closes)-period:]
	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(period)
	stddev := math.Sqrt(variance)
	return mean + numStdDev*stddev, mean - numStdDev*stddev, true
}

// nearExtremeThreshold is the fraction of IB width within which open/close
// is considered "at" an IB extreme.
const nearExtremeThreshold = 0.20

// InitialBalance derives the IB range and opening-type classification from
// the first durationMinutes one-minute candles.
func InitialBalance(candles []types.Candle, durationMinutes int) (*types.InitialBalance, bool) {
	if durationMinutes <= 0 || len(candles) < durationMinutes {
		return nil, false
	}
	window := candles[:durationMinutes]

	ibHigh := window[0].High
	ibLow := window[0].Low
	for _, c := range window[1:] {
		if c.High.GreaterThan(ibHigh) {
			ibHigh = c.High
		}
		if c.Low.LessThan(ibLow) {
			ibLow = c.Low
		}
	}

	width := ibHigh.Sub(ibLow)
	if width.IsZero() {
		return &types.InitialBalance{High: ibHigh, Low: ibLow, OpeningType: types.OpeningAuction}, true
	}

	open := window[0].Open
	closePrice := window[len(window)-1].Close
	threshold := decimal.NewFromFloat(nearExtremeThreshold)

	distOpenLow := open.Sub(ibLow).Abs().Div(width)
	distOpenHigh := ibHigh.Sub(open).Abs().Div(width)
	distCloseLow := closePrice.Sub(ibLow).Abs().Div(width)
	distCloseHigh := ibHigh.Sub(closePrice).Abs().Div(width)

	openNearLow := distOpenLow.LessThanOrEqual(threshold)
	openNearHigh := distOpenHigh.LessThanOrEqual(threshold)
	closeNearLow := distCloseLow.LessThanOrEqual(threshold)
	closeNearHigh := distCloseHigh.LessThanOrEqual(threshold)
	netChange := closePrice.Sub(open).Abs().Div(width)

	var opening types.OpeningType
	switch {
	case (openNearLow && closeNearHigh) || (openNearHigh && closeNearLow):
		opening = types.OpeningDrive
	case (openNearLow && closeNearLow) || (openNearHigh && closeNearHigh):
		opening = types.OpeningRejectionReverse
	case netChange.LessThanOrEqual(threshold):
		opening = types.OpeningTestDrive
	default:
		opening = types.OpeningAuction
	}

	return &types.InitialBalance{High: ibHigh, Low: ibLow, OpeningType: opening}, true
}

// CVD returns the per-candle signed-volume series, its cumulative total, and
// whether cumulative flow diverges from price direction over the window.
func CVD(candles []types.Candle) (series []float64, cumulative float64, divergent bool) {
	if len(candles) == 0 {
		return nil, 0, false
	}
	series = make([]float64, len(candles))
	cum := 0.0
	for i, c := range candles {
		high, _ := c.High.Float64()
		low, _ := c.Low.Float64()
		open, _ := c.Open.Float64()
		closeVal, _ := c.Close.Float64()
		vol, _ := c.Volume.Float64()

		rangeHL := high - low
		v := 0.0
		if rangeHL != 0 {
			sign := 0.0
			switch {
			case closeVal > open:
				sign = 1.0
			case closeVal < open:
				sign = -1.0
			}
			v = sign * vol * math.Abs(closeVal-open) / rangeHL
		}
		cum += v
		series[i] = cum
	}
	cumulative = cum

	priceChange := candles[len(candles)-1].Close.Sub(candles[0].Open)
	divergent = (priceChange.IsPositive() && cumulative < 0) || (priceChange.IsNegative() && cumulative > 0)
	return series, cumulative, divergent
}

// ORBLevels derives opening-range-breakout trade levels from the first
// durationMinutes one-minute candles.
func ORBLevels(candles []types.Candle, durationMinutes int) (*types.ORBLevels, bool) {
	if durationMinutes <= 0 || len(candles) < durationMinutes {
		return nil, false
	}
	window := candles[:durationMinutes]

	high := window[0].High
	low := window[0].Low
	for _, c := range window[1:] {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
	}

	rangeSize := high.Sub(low)
	mid := high.Add(low).Div(decimal.NewFromInt(2))

	return &types.ORBLevels{
		High:        high,
		Low:         low,
		Mid:         mid,
		RangeSize:   rangeSize,
		BullTarget1: high.Add(rangeSize),
		BullTarget2: high.Add(rangeSize.Mul(decimal.NewFromInt(2))),
		BearTarget1: low.Sub(rangeSize),
		BearTarget2: low.Sub(rangeSize.Mul(decimal.NewFromInt(2))),
		LongStop:    mid,
		ShortStop:   mid,
	}, true
}

// BSResult is the theoretical price and greeks of a European option under
// Black-Scholes.
type BSResult struct {
	Price float64
	Delta float64
	Gamma float64
	Theta float64 // per calendar day
	Vega  float64 // per 1% vol move
	Rho   float64 // per 1% rate move
}

// normCDF approximates the standard normal CDF via the Abramowitz & Stegun
// 26.2.17 polynomial, per the documented algorithm (deliberately not
// math.Erf).
func normCDF(x float64) float64 {
	const (
		a1 = 0.319381530
		a2 = -0.356563782
		a3 = 1.781477937
		a4 = -1.821255978
		a5 = 1.330274429
		p  = 0.2316419
		c  = 0.39894228040143267793994605993438 // 1/sqrt(2*pi)
	)
	if x < 0 {
		return 1 - normCDF(-x)
	}
	k := 1.0 / (1.0 + p*x)
	poly := k * (a1 + k*(a2+k*(a3+k*(a4+k*a5))))
	return 1.0 - c*math.Exp(-x*x/2.0)*poly
}

func normPDF(x float64) float64 {
	const c = 0.39894228040143267793994605993438
	return c * math.Exp(-x*x/2.0)
}

// BlackScholes prices a European option and its greeks. When T or sigma is
// non-positive the result degenerates to intrinsic value with zero greeks.
func BlackScholes(isCall bool, S, K, T, r, sigma float64) BSResult {
	if T <= 0 || sigma <= 0 || S <= 0 || K <= 0 {
		intrinsic := math.Max(0, S-K)
		if !isCall {
			intrinsic = math.Max(0, K-S)
		}
		return BSResult{Price: intrinsic}
	}

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+sigma*sigma/2)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	discK := K * math.Exp(-r*T)
	gamma := normPDF(d1) / (S * sigma * sqrtT)
	vega := S * normPDF(d1) * sqrtT / 100

	if isCall {
		price := S*normCDF(d1) - discK*normCDF(d2)
		delta := normCDF(d1)
		thetaAnnual := -(S*normPDF(d1)*sigma)/(2*sqrtT) - r*discK*normCDF(d2)
		rho := discK * T * normCDF(d2) / 100
		return BSResult{Price: price, Delta: delta, Gamma: gamma, Theta: thetaAnnual / 365, Vega: vega, Rho: rho}
	}

	price := discK*normCDF(-d2) - S*normCDF(-d1)
	delta := normCDF(d1) - 1
	thetaAnnual := -(S*normPDF(d1)*sigma)/(2*sqrtT) + r*discK*normCDF(-d2)
	rho := -discK * T * normCDF(-d2) / 100
	return BSResult{Price: price, Delta: delta, Gamma: gamma, Theta: thetaAnnual / 365, Vega: vega, Rho: rho}
}

// ImpliedVol solves for sigma by bisection over [0.01, 5.0], tolerance 1e-4,
// at most 100 iterations. Returns false when marketPrice falls outside the
// bracket's achievable price range.
func ImpliedVol(isCall bool, marketPrice, S, K, T, r float64) (float64, bool) {
	if T <= 0 || marketPrice <= 0 {
		return 0, false
	}
	const (
		lowBound  = 0.01
		highBound = 5.0
		tol       = 1e-4
		maxIter   = 100
	)

	f := func(sigma float64) float64 {
		return BlackScholes(isCall, S, K, T, r, sigma).Price - marketPrice
	}

	lo, hi := lowBound, highBound
	flo, fhi := f(lo), f(hi)
	if flo*fhi > 0 {
		return 0, false
	}

	mid := (lo + hi) / 2
	for i := 0; i < maxIter; i++ {
		mid = (lo + hi) / 2
		fmid := f(mid)
		if math.Abs(fmid) < tol {
			return mid, true
		}
		if flo*fmid < 0 {
			hi = mid
			fhi = fmid
		} else {
			lo = mid
			flo = fmid
		}
		_ = fhi
	}
	return mid, true
}

// ExpectedMove returns the one-standard-deviation price move over horizon T.
func ExpectedMove(S, sigma, T float64) float64 {
	return S * sigma * math.Sqrt(T)
}
