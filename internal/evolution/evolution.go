// Package evolution runs the genetic-algorithm Optimizer that evolves a
// ticker's Weights (its fuser gene set) when the Grader reports a degraded
// win rate. Grounded on the teacher's internal/optimization.Optimizer:
// tournament selection, uniform crossover, and clamp-and-renormalize
// mutation, generalized from a generic ParamSet map to the fixed
// types.Weights genome and a single backtest-driven fitness function.
package evolution

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/internal/backtest"
	"github.com/atlas-desktop/aurora/internal/fuser"
	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/pkg/types"
)

// Config tunes the genetic algorithm. Defaults are the documented §4.I
// parameters.
type Config struct {
	PopulationSize int
	EliteCount     int
	MutationRate   float64
	CrossoverRate  float64
	Generations    int
	WinRateFloor   float64 // MaybeEvolve only runs below this
	BacktestDays   int     // trailing window the fitness function replays
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PopulationSize: 50,
		EliteCount:     5,
		MutationRate:   0.15,
		CrossoverRate:  0.7,
		Generations:    1,
		WinRateFloor:   0.60,
		BacktestDays:   60,
	}
}

// bounds of each mutable gene, and the per-mutation noise half-range.
type bound struct{ min, max, noise float64 }

var (
	boundTPO           = bound{0.05, 0.5, 0.05}
	boundRSI           = bound{0.05, 0.4, 0.05}
	boundIB            = bound{0.05, 0.4, 0.05}
	boundCVD           = bound{0.05, 0.3, 0.05}
	boundVWAP          = bound{0.05, 0.4, 0.05}
	boundMinConfidence = bound{50, 80, 5}
	boundORBMult       = bound{0.3, 3.0, 0.2}
	boundStopLossMult  = bound{0.2, 0.8, 0.1}
	boundTargetMult    = bound{1.2, 4.0, 0.3}
)

// Optimizer evolves a ticker's Weights via a genetic algorithm whose
// fitness function replays each candidate gene set over the ticker's
// trailing history.
type Optimizer struct {
	repo     store.Repository
	replayer *backtest.Replayer
	fuser    *fuser.Fuser
	cfg      Config
	logger   *zap.Logger
	rng      *rand.Rand
}

// NewOptimizer builds an Optimizer. fuserInstance is invalidated after a
// successful evolution cycle so the next tick picks up the new genes
// immediately rather than waiting out the weights cache TTL.
func NewOptimizer(repo store.Repository, replayer *backtest.Replayer, fuserInstance *fuser.Fuser, cfg Config, logger *zap.Logger) *Optimizer {
	return &Optimizer{
		repo:     repo,
		replayer: replayer,
		fuser:    fuserInstance,
		cfg:      cfg,
		logger:   logger.Named("evolution"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// MaybeEvolve runs one genetic-algorithm cycle for ticker when
// currentWinRate is below the configured floor, persists the alpha
// genome as the ticker's active Weights, and invalidates the fuser's
// cache entry for immediate pickup.
func (o *Optimizer) MaybeEvolve(ctx context.Context, ticker string, currentWinRate float64) error {
	if currentWinRate >= o.cfg.WinRateFloor {
		return nil
	}

	alpha, err := o.evolve(ctx, ticker)
	if err != nil {
		return err
	}

	alpha.Ticker = ticker
	alpha.IsActive = true
	alpha.LastUpdated = time.Now()

	if err := o.repo.UpsertActiveWeights(ctx, alpha); err != nil {
		return err
	}
	if o.fuser != nil {
		o.fuser.Invalidate(ticker)
	}

	o.logger.Info("evolved weights",
		zap.String("ticker", ticker),
		zap.Float64("priorWinRate", currentWinRate),
	)
	return nil
}

// evolve runs the generational loop and returns the fittest genome.
func (o *Optimizer) evolve(ctx context.Context, ticker string) (types.Weights, error) {
	population := o.initializePopulation(ticker)
	scores := o.evaluate(ctx, ticker, population)

	for gen := 0; gen < o.cfg.Generations; gen++ {
		population = o.evolvePopulation(population, scores)
		scores = o.evaluate(ctx, ticker, population)
	}

	indices := o.rankByFitness(scores)
	return population[indices[0]], nil
}

// evaluate runs the fitness function (a trailing-history backtest replay)
// against every genome in the population.
func (o *Optimizer) evaluate(ctx context.Context, ticker string, population []types.Weights) []float64 {
	scores := make([]float64, len(population))
	for i, genome := range population {
		scores[i] = o.fitness(ctx, ticker, genome)
	}
	return scores
}

// fitness replays genome's genes over the ticker's trailing BacktestDays of
// candles and scores 0.7*winRate + 0.3 when the replay's average P&L per
// trade was positive. A ticker with no historical candles (e.g. newly
// onboarded) scores a neutral 0.5 rather than zero, so it isn't
// permanently excluded from ever being selected as the alpha.
func (o *Optimizer) fitness(ctx context.Context, ticker string, genome types.Weights) float64 {
	if o.replayer == nil {
		return 0.5
	}

	end := time.Now()
	start := end.AddDate(0, 0, -o.cfg.BacktestDays)
	result, err := o.replayer.Replay(ctx, ticker, start, end, genome)
	if err != nil {
		o.logger.Warn("fitness replay failed", zap.String("ticker", ticker), zap.Error(err))
		return 0.5
	}
	if result.TotalTrades == 0 {
		return 0.5
	}

	winRate, _ := result.WinRate.Float64()

	score := 0.7 * winRate
	if profitable(result) {
		score += 0.3
	}
	return score
}

// profitable reports whether the replay's average P&L per trade was
// positive, read off the win count and profit factor (>1 implies gross
// profit exceeded gross loss, i.e. a positive-expectancy run; the profit
// factor is capped at 100 when there are no losses, so a run with no winning
// trade is excluded explicitly).
func profitable(result *types.BacktestResult) bool {
	pf, _ := result.ProfitFactor.Float64()
	return result.Wins > 0 && pf > 1.0
}

// rankByFitness returns population indices sorted by descending score.
func (o *Optimizer) rankByFitness(scores []float64) []int {
	indices := make([]int, len(scores))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(i, j int) bool { return scores[indices[i]] > scores[indices[j]] })
	return indices
}

// initializePopulation builds a random population within each gene's
// documented bounds, renormalizing the five component weights to sum 1.
func (o *Optimizer) initializePopulation(ticker string) []types.Weights {
	population := make([]types.Weights, o.cfg.PopulationSize)
	for i := range population {
		w := types.Weights{
			Ticker:          ticker,
			TPO:             decimal.NewFromFloat(o.randomIn(boundTPO)),
			RSI:             decimal.NewFromFloat(o.randomIn(boundRSI)),
			IB:              decimal.NewFromFloat(o.randomIn(boundIB)),
			CVD:             decimal.NewFromFloat(o.randomIn(boundCVD)),
			VWAP:            decimal.NewFromFloat(o.randomIn(boundVWAP)),
			MinConfidence:   decimal.NewFromFloat(o.randomIn(boundMinConfidence)),
			ORBBreakoutMult: decimal.NewFromFloat(o.randomIn(boundORBMult)),
			StopLossMult:    decimal.NewFromFloat(o.randomIn(boundStopLossMult)),
			TargetMult:      decimal.NewFromFloat(o.randomIn(boundTargetMult)),
		}
		population[i] = renormalize(w)
	}
	return population
}

func (o *Optimizer) randomIn(b bound) float64 {
	return b.min + o.rng.Float64()*(b.max-b.min)
}

// evolvePopulation builds the next generation: elite copy, then fill via
// tournament-selected crossover or clone, each followed by mutation.
func (o *Optimizer) evolvePopulation(population []types.Weights, scores []float64) []types.Weights {
	ranked := o.rankByFitness(scores)
	next := make([]types.Weights, len(population))

	for i := 0; i < o.cfg.EliteCount && i < len(ranked); i++ {
		next[i] = population[ranked[i]]
	}

	for i := o.cfg.EliteCount; i < len(population); i++ {
		parent1 := o.tournamentSelect(population, scores)
		parent2 := o.tournamentSelect(population, scores)

		var child types.Weights
		if o.rng.Float64() < o.cfg.CrossoverRate {
			child = o.crossover(parent1, parent2)
		} else {
			child = parent1
		}
		next[i] = o.mutate(child)
	}

	return next
}

// tournamentSelect picks the fitter of 3 uniformly-sampled individuals.
func (o *Optimizer) tournamentSelect(population []types.Weights, scores []float64) types.Weights {
	best := o.rng.Intn(len(population))
	for i := 1; i < 3; i++ {
		idx := o.rng.Intn(len(population))
		if scores[idx] > scores[best] {
			best = idx
		}
	}
	return population[best]
}

// crossover performs per-field uniform crossover, then renormalizes the
// component weights.
func (o *Optimizer) crossover(a, b types.Weights) types.Weights {
	pick := func(x, y decimal.Decimal) decimal.Decimal {
		if o.rng.Float64() < 0.5 {
			return x
		}
		return y
	}
	child := types.Weights{
		Ticker:          a.Ticker,
		TPO:             pick(a.TPO, b.TPO),
		RSI:             pick(a.RSI, b.RSI),
		IB:              pick(a.IB, b.IB),
		CVD:             pick(a.CVD, b.CVD),
		VWAP:            pick(a.VWAP, b.VWAP),
		MinConfidence:   pick(a.MinConfidence, b.MinConfidence),
		ORBBreakoutMult: pick(a.ORBBreakoutMult, b.ORBBreakoutMult),
		StopLossMult:    pick(a.StopLossMult, b.StopLossMult),
		TargetMult:      pick(a.TargetMult, b.TargetMult),
	}
	return renormalize(child)
}

// mutate applies uniform noise within each gene's documented ± range,
// clamps to bounds, and renormalizes the component weights if any of
// them were touched.
func (o *Optimizer) mutate(w types.Weights) types.Weights {
	touched := false

	mutateField := func(v decimal.Decimal, b bound) decimal.Decimal {
		if o.rng.Float64() >= o.cfg.MutationRate {
			return v
		}
		touched = true
		f, _ := v.Float64()
		f += (o.rng.Float64()*2 - 1) * b.noise
		if f < b.min {
			f = b.min
		}
		if f > b.max {
			f = b.max
		}
		return decimal.NewFromFloat(f)
	}

	w.TPO = mutateField(w.TPO, boundTPO)
	w.RSI = mutateField(w.RSI, boundRSI)
	w.IB = mutateField(w.IB, boundIB)
	w.CVD = mutateField(w.CVD, boundCVD)
	w.VWAP = mutateField(w.VWAP, boundVWAP)
	w.MinConfidence = mutateField(w.MinConfidence, boundMinConfidence)
	w.ORBBreakoutMult = mutateField(w.ORBBreakoutMult, boundORBMult)
	w.StopLossMult = mutateField(w.StopLossMult, boundStopLossMult)
	w.TargetMult = mutateField(w.TargetMult, boundTargetMult)

	if touched {
		w = renormalize(w)
	}
	return w
}

// renormalize rescales the five component weights (tpo/rsi/ib/cvd/vwap) so
// they sum to 1, leaving every other gene untouched.
func renormalize(w types.Weights) types.Weights {
	sum := w.TPO.Add(w.RSI).Add(w.IB).Add(w.CVD).Add(w.VWAP)
	if sum.IsZero() {
		return w
	}
	w.TPO = w.TPO.Div(sum)
	w.RSI = w.RSI.Div(sum)
	w.IB = w.IB.Div(sum)
	w.CVD = w.CVD.Div(sum)
	w.VWAP = w.VWAP.Div(sum)
	return w
}
