// Package fuser implements Parallax, the per-underlier signal fuser: it
// picks the engine appropriate for the current session, scores it, and
// emits at most one candidate Prediction with a stock-level trade plan.
//
// Grounded on the teacher's signals.Aggregator: a weighted multi-source
// fusion pattern, generalized here into three session-gated engines plus a
// TTL-cached, ticker-partitioned active-weights store.
package fuser

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/internal/indicators"
	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/pkg/calendar"
	"github.com/atlas-desktop/aurora/pkg/types"
)

// PreMarketBias is the externally-supplied directional read used to gate
// the Black-Scholes engine; it is not derived by the Fuser itself.
type PreMarketBias string

const (
	BiasBullish PreMarketBias = "BULLISH"
	BiasBearish PreMarketBias = "BEARISH"
	BiasNeutral PreMarketBias = "NEUTRAL"
)

const weightsCacheTTL = 60 * time.Second

type cachedWeights struct {
	weights     types.Weights
	refreshedAt time.Time
}

// Config tunes the Fuser's windows and TPO parameters.
type Config struct {
	TickSize          decimal.Decimal
	ValueAreaFraction decimal.Decimal
	IBDurationMinutes int
	ORBDurationMinutes int
}

// DefaultConfig returns the documented defaults from spec §6.
func DefaultConfig() Config {
	return Config{
		TickSize:           decimal.NewFromFloat(0.25),
		ValueAreaFraction:  decimal.NewFromFloat(0.70),
		IBDurationMinutes:  60,
		ORBDurationMinutes: 30,
	}
}

// Fuser is Parallax: the per-(ticker, session) scoring engine selector and
// weighted confidence fuser.
type Fuser struct {
	repo   store.Repository
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]cachedWeights
}

// NewFuser builds a Fuser reading active weights from repo.
func NewFuser(repo store.Repository, cfg Config, logger *zap.Logger) *Fuser {
	return &Fuser{
		repo:   repo,
		cfg:    cfg,
		logger: logger.Named("fuser"),
		cache:  make(map[string]cachedWeights),
	}
}

// Invalidate drops ticker's cached weights, forcing the next Evaluate call
// to read through to the Repository regardless of TTL. The Optimizer calls
// this after a write so tests (and operators) can force synchronous pickup.
func (f *Fuser) Invalidate(ticker string) {
	f.mu.Lock()
	delete(f.cache, ticker)
	f.mu.Unlock()
}

func (f *Fuser) weightsFor(ctx context.Context, ticker string) types.Weights {
	f.mu.RLock()
	cw, ok := f.cache[ticker]
	f.mu.RUnlock()
	if ok && time.Since(cw.refreshedAt) < weightsCacheTTL {
		return cw.weights
	}

	w, found, err := f.repo.GetActiveWeights(ctx, ticker)
	if err != nil || !found {
		w = types.DefaultWeights(ticker)
	}

	f.mu.Lock()
	f.cache[ticker] = cachedWeights{weights: w, refreshedAt: time.Now()}
	f.mu.Unlock()
	return w
}

// Evaluate dispatches to the session-appropriate engine and returns at most
// one candidate Prediction, already gated against the active minConfidence
// floor. The returned Prediction carries a stock-level trade plan; the
// Scheduler overlays the Risk Projector's contract-premium numbers
// afterward.
func (f *Fuser) Evaluate(ctx context.Context, ticker string, session calendar.SessionTag, candles []types.Candle, chain []types.OptionContract, bias PreMarketBias) (*types.Prediction, bool) {
	weights := f.weightsFor(ctx, ticker)

	var pred *types.Prediction
	var ok bool

	switch session {
	case calendar.SessionPreMarket:
		pred, ok = f.evaluateBlackScholes(ticker, candles, chain, bias, weights)
	case calendar.SessionOpeningRange:
		pred, ok = f.evaluateORB(ticker, candles, chain, weights)
	case calendar.SessionMorning, calendar.SessionAfternoon, calendar.SessionPowerHour:
		pred, ok = f.evaluateTPOMIT(ticker, candles, chain, weights)
		if !ok {
			pred, ok = f.evaluateORB(ticker, candles, chain, weights)
		}
	default:
		return nil, false
	}
	if !ok {
		return nil, false
	}

	if pred.Confidence.LessThan(weights.MinConfidence) {
		return nil, false
	}
	return pred, true
}

func roundToStep(price decimal.Decimal, step decimal.Decimal) decimal.Decimal {
	return price.Div(step).Round(0).Mul(step)
}

func roundToDollar(price decimal.Decimal) decimal.Decimal {
	return price.Round(0)
}

func tradePlan(entry, stop, target decimal.Decimal) types.TradePlan {
	rr := decimal.Zero
	denom := entry.Sub(stop).Abs()
	if denom.IsPositive() {
		rr = target.Sub(entry).Abs().Div(denom)
	}
	return types.TradePlan{Entry: entry, Stop: stop, Target: target, RiskReward: rr}
}

func selectContract(chain []types.OptionContract, optType types.OptionType, strike decimal.Decimal) (types.OptionContract, bool) {
	var best types.OptionContract
	bestDist := decimal.Decimal{}
	found := false
	for _, c := range chain {
		if c.Type != optType {
			continue
		}
		dist := c.Strike.Sub(strike).Abs()
		if !found || dist.LessThan(bestDist) {
			best = c
			bestDist = dist
			found = true
		}
	}
	return best, found
}

func (f *Fuser) buildPrediction(ticker string, direction types.Direction, strike decimal.Decimal, confidence float64, engine types.Engine, session string, reasoning types.Reasoning, plan types.TradePlan, entryStock decimal.Decimal, chain []types.OptionContract, now time.Time) *types.Prediction {
	optType := types.OptionTypeCall
	if direction == types.DirectionPut {
		optType = types.OptionTypePut
	}
	_, found := selectContract(chain, optType, strike)
	pricingMode := types.EntryPricingFallbackPct
	if found {
		pricingMode = types.EntryPricingChainMid
	}

	return &types.Prediction{
		Ticker:           ticker,
		Category:         "0DTE",
		Direction:        direction,
		Strike:           strike,
		EntryPricingMode: pricingMode,
		Confidence:       decimal.NewFromFloat(confidence),
		Session:          session,
		Engine:           engine,
		Reasoning:        reasoning,
		Status:           types.PredictionStatusActive,
		GeneratedAt:      now,
		TradePlan:        plan,
		EntryStock:       entryStock,
	}
}

// evaluateBlackScholes implements the pre-market engine of §4.E.
func (f *Fuser) evaluateBlackScholes(ticker string, candles []types.Candle, chain []types.OptionContract, bias PreMarketBias, weights types.Weights) (*types.Prediction, bool) {
	if bias == BiasNeutral || bias == "" {
		return nil, false
	}
	if len(candles) < 2 {
		return nil, false
	}

	closes := closesOf(candles)
	sigma, ok := historicalVol(closes)
	if !ok {
		return nil, false
	}

	S := candles[len(candles)-1].Close
	Sf, _ := S.Float64()

	direction := types.DirectionCall
	offset := decimal.NewFromFloat(1.005)
	if bias == BiasBearish {
		direction = types.DirectionPut
		offset = decimal.NewFromFloat(0.995)
	}
	strike := roundToStep(S.Mul(offset), decimal.NewFromFloat(0.5))
	strikeF, _ := strike.Float64()

	moneyness := (Sf - strikeF) / strikeF

	confidence := 50.0
	if moneyness > -0.02 && moneyness < 0 {
		confidence += 10
	}
	if sigma > 0.3 && sigma < 0.5 {
		confidence += 5
	}
	if biasConfirmed(candles, bias) {
		confidence += 5
	}

	const T = 1.0 / 252.0 // 0DTE: treat remaining session as one trading day
	expectedMove := indicators.ExpectedMove(Sf, sigma, T)
	move := decimal.NewFromFloat(expectedMove)

	var plan types.TradePlan
	if direction == types.DirectionCall {
		plan = tradePlan(S, S.Sub(move.Div(decimal.NewFromInt(2))), S.Add(move))
	} else {
		plan = tradePlan(S, S.Add(move.Div(decimal.NewFromInt(2))), S.Sub(move))
	}

	reasoning := types.Reasoning{
		Engine: types.EngineBlackScholes,
		BlackScholes: &types.BlackScholesReasoning{
			Bias:         direction,
			Moneyness:    moneyness,
			Sigma:        sigma,
			ExpectedMove: expectedMove,
		},
		ComponentScores: map[string]float64{"moneyness": moneyness, "sigma": sigma},
	}

	pred := f.buildPrediction(ticker, direction, strike, confidence, types.EngineBlackScholes, string(calendar.SessionPreMarket), reasoning, plan, S, chain, time.Now())
	return pred, true
}

// biasConfirmed checks whether the recent candle trend agrees with the
// supplied pre-market bias.
func biasConfirmed(candles []types.Candle, bias PreMarketBias) bool {
	if len(candles) < 2 {
		return false
	}
	trend := candles[len(candles)-1].Close.Sub(candles[0].Open)
	if bias == BiasBullish {
		return trend.IsPositive()
	}
	return trend.IsNegative()
}

// historicalVol estimates annualized volatility from intraday log returns.
func historicalVol(closes []float64) (float64, bool) {
	if len(closes) < 3 {
		return 0, false
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) < 2 {
		return 0, false
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	stddev := math.Sqrt(variance)
	// Annualize assuming one-minute bars across a 390-minute session, 252
	// trading days.
	return stddev * math.Sqrt(390*252), true
}

// evaluateORB implements the opening-range-breakout engine of §4.E.
func (f *Fuser) evaluateORB(ticker string, candles []types.Candle, chain []types.OptionContract, weights types.Weights) (*types.Prediction, bool) {
	levels, ok := indicators.ORBLevels(candles, f.cfg.ORBDurationMinutes)
	if !ok {
		return nil, false
	}
	current := candles[len(candles)-1].Close

	var direction types.Direction
	var strengthDist decimal.Decimal
	switch {
	case current.GreaterThan(levels.High):
		direction = types.DirectionCall
		strengthDist = current.Sub(levels.High)
	case current.LessThan(levels.Low):
		direction = types.DirectionPut
		strengthDist = levels.Low.Sub(current)
	default:
		return nil, false
	}

	if levels.RangeSize.IsZero() {
		return nil, false
	}
	strength, _ := strengthDist.Div(levels.RangeSize).Float64()
	confidence := 55 + math.Min(20, 40*strength)

	offset := decimal.NewFromFloat(1.005)
	if direction == types.DirectionPut {
		offset = decimal.NewFromFloat(0.995)
	}
	strike := roundToDollar(current.Mul(offset))

	var plan types.TradePlan
	if direction == types.DirectionCall {
		plan = tradePlan(current, levels.LongStop, levels.BullTarget1)
	} else {
		plan = tradePlan(current, levels.ShortStop, levels.BearTarget1)
	}

	reasoning := types.Reasoning{
		Engine: types.EngineORBMomentum,
		ORB: &types.ORBReasoning{
			BreakoutSide:     direction,
			BreakoutStrength: strength,
		},
		ComponentScores: map[string]float64{"breakoutStrength": strength},
	}

	pred := f.buildPrediction(ticker, direction, strike, confidence, types.EngineORBMomentum, string(calendar.SessionOpeningRange), reasoning, plan, current, chain, time.Now())
	return pred, true
}

// tpomitScore bundles the TPO+MIT engine's per-signal scores and biases, so
// the scoring math can be shared between the live Fuser (which also
// attaches a trade plan and reasoning) and internal/backtest (which only
// needs the direction/confidence pair).
type tpomitScore struct {
	direction    types.Direction
	confidence   float64
	tpoBias      types.Direction
	rsiBias      types.Direction
	ibBreakout   bool
	cvdDivergent bool
	nearVWAP     bool
	components   map[string]float64
}

// scoreTPOMIT computes the TPO+MIT engine's direction and confidence for an
// arbitrary candle window. Exported via ScoreTPOMIT for internal/backtest,
// which replays the same scoring against historical windows.
func scoreTPOMIT(candles []types.Candle, weights types.Weights, cfg Config) (tpomitScore, bool) {
	if len(candles) < 30 {
		return tpomitScore{}, false
	}

	profile, ok := indicators.BuildTPOProfile(candles, cfg.TickSize, cfg.ValueAreaFraction)
	if !ok {
		return tpomitScore{}, false
	}
	current := candles[len(candles)-1].Close

	tpoBias := types.DirectionNeutral
	tpoScore := 0.3
	switch {
	case current.GreaterThan(profile.VAH):
		tpoBias = types.DirectionPut
		tpoScore = 0.7
	case current.LessThan(profile.VAL):
		tpoBias = types.DirectionCall
		tpoScore = 0.7
	}

	closes := closesOf(candles)
	rsiBias := types.DirectionNeutral
	rsiScore := 0.5
	if rsi14, ok := indicators.RSI(closes, 14); ok {
		switch {
		case rsi14 < 30:
			rsiBias = types.DirectionCall
			rsiScore = 0.8
		case rsi14 > 70:
			rsiBias = types.DirectionPut
			rsiScore = 0.8
		}
	}

	ibScore := 0.4
	ibBreakout := false
	if ib, ok := indicators.InitialBalance(candles, cfg.IBDurationMinutes); ok {
		if current.GreaterThan(ib.High) || current.LessThan(ib.Low) {
			ibBreakout = true
			ibScore = 0.75
		}
	}

	_, _, cvdDivergent := indicators.CVD(candles)
	cvdScore := 0.5
	if cvdDivergent {
		cvdScore = 0.65
	}

	vwapScore := 0.4
	nearVWAP := false
	if vwap, ok := indicators.VWAP(candles); ok && vwap != 0 {
		currentF, _ := current.Float64()
		ratio := math.Abs(currentF-vwap) / vwap
		switch {
		case ratio < 0.01:
			vwapScore = 0.6
			nearVWAP = true
		case ratio < 0.02:
			vwapScore = 0.5
		}
	}

	type weighted struct {
		weight decimal.Decimal
		score  float64
	}
	pairs := []weighted{
		{weights.TPO, tpoScore},
		{weights.RSI, rsiScore},
		{weights.IB, ibScore},
		{weights.CVD, cvdScore},
		{weights.VWAP, vwapScore},
	}

	sumW, sumWS := 0.0, 0.0
	for _, p := range pairs {
		w, _ := p.weight.Float64()
		sumW += w
		sumWS += w * p.score
	}
	if sumW == 0 {
		return tpomitScore{}, false
	}
	confidence := 100 * sumWS / sumW

	direction := tpoBias
	if direction == types.DirectionNeutral {
		direction = rsiBias
	}
	if direction == types.DirectionNeutral {
		return tpomitScore{}, false
	}

	return tpomitScore{
		direction:    direction,
		confidence:   confidence,
		tpoBias:      tpoBias,
		rsiBias:      rsiBias,
		ibBreakout:   ibBreakout,
		cvdDivergent: cvdDivergent,
		nearVWAP:     nearVWAP,
		components:   map[string]float64{"tpo": tpoScore, "rsi": rsiScore, "ib": ibScore, "cvd": cvdScore, "vwap": vwapScore},
	}, true
}

// ScoreTPOMIT exposes the TPO+MIT engine's scoring for internal/backtest,
// which applies the identical math against historical sliding windows.
func ScoreTPOMIT(candles []types.Candle, weights types.Weights, cfg Config) (direction types.Direction, confidence float64, ok bool) {
	s, ok := scoreTPOMIT(candles, weights, cfg)
	if !ok {
		return types.DirectionNeutral, 0, false
	}
	return s.direction, s.confidence, true
}

// evaluateTPOMIT implements the TPO+MIT regular-hours engine of §4.E.
func (f *Fuser) evaluateTPOMIT(ticker string, candles []types.Candle, chain []types.OptionContract, weights types.Weights) (*types.Prediction, bool) {
	s, ok := scoreTPOMIT(candles, weights, f.cfg)
	if !ok {
		return nil, false
	}
	current := candles[len(candles)-1].Close

	offset := decimal.NewFromFloat(1.005)
	if s.direction == types.DirectionPut {
		offset = decimal.NewFromFloat(0.995)
	}
	strike := roundToDollar(current.Mul(offset))

	atr, atrOk := indicators.ATR(candles, 14)
	if !atrOk {
		priceF, _ := current.Float64()
		atr = priceF * 0.01
	}
	atrDec := decimal.NewFromFloat(atr)

	var plan types.TradePlan
	if s.direction == types.DirectionCall {
		plan = tradePlan(current, current.Sub(atrDec), current.Add(atrDec.Mul(decimal.NewFromInt(2))))
	} else {
		plan = tradePlan(current, current.Add(atrDec), current.Sub(atrDec.Mul(decimal.NewFromInt(2))))
	}

	reasoning := types.Reasoning{
		Engine: types.EngineTPOMIT,
		TPO: &types.TPOReasoning{
			TPOBias:      s.tpoBias,
			RSIBias:      s.rsiBias,
			IBBreakout:   s.ibBreakout,
			CVDDivergent: s.cvdDivergent,
			NearVWAP:     s.nearVWAP,
		},
		ComponentScores: s.components,
	}

	pred := f.buildPrediction(ticker, s.direction, strike, s.confidence, types.EngineTPOMIT, "REGULAR", reasoning, plan, current, chain, time.Now())
	return pred, true
}

func closesOf(candles []types.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i], _ = c.Close.Float64()
	}
	return closes
}
