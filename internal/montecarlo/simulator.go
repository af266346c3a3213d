// Package montecarlo provides a bootstrap-resampling robustness pass over a
// backtest's trade P&L sequence. Grounded on the teacher's Simulator: trade
// shuffling plus percentile/ruin statistics, trimmed to the three figures
// internal/backtest attaches to a BacktestResult (P5/P95 return, probability
// of ruin) instead of the teacher's full equity-curve distribution suite.
package montecarlo

import (
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/aurora/pkg/types"
)

// Config tunes the bootstrap pass.
type Config struct {
	Iterations int
	Seed       int64   // 0 selects a time-based seed
	RuinReturn float64 // cumulative-return threshold at or below which a run counts as ruin
}

// DefaultConfig returns the documented defaults: 1000 resamples, ruin
// defined as losing half the nominal stake or more.
func DefaultConfig() Config {
	return Config{Iterations: 1000, RuinReturn: -0.5}
}

// Simulate bootstrap-resamples pnls (with replacement) Iterations times and
// returns the P5/P95 cumulative-return percentiles and the fraction of runs
// that breached the ruin threshold.
func Simulate(pnls []decimal.Decimal, cfg Config) types.MonteCarloRobustness {
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultConfig().Iterations
	}
	if len(pnls) == 0 {
		return types.MonteCarloRobustness{Iterations: cfg.Iterations}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	stake := decimal.Zero
	for _, p := range pnls {
		stake = stake.Add(p.Abs())
	}
	if stake.IsZero() {
		stake = decimal.NewFromInt(1)
	}

	returns := make([]float64, cfg.Iterations)
	ruinCount := 0

	for i := 0; i < cfg.Iterations; i++ {
		total := decimal.Zero
		for j := 0; j < len(pnls); j++ {
			total = total.Add(pnls[rng.Intn(len(pnls))])
		}
		ret, _ := total.Div(stake).Float64()
		returns[i] = ret
		if ret <= cfg.RuinReturn {
			ruinCount++
		}
	}

	sort.Float64s(returns)
	p5 := percentile(returns, 0.05)
	p95 := percentile(returns, 0.95)

	return types.MonteCarloRobustness{
		Iterations:      cfg.Iterations,
		P5Return:        decimal.NewFromFloat(p5),
		P95Return:       decimal.NewFromFloat(p95),
		ProbabilityRuin: decimal.NewFromFloat(float64(ruinCount) / float64(cfg.Iterations)),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
