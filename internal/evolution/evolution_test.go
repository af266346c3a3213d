package evolution

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/pkg/types"
)

func testOptimizer() *Optimizer {
	return NewOptimizer(nil, nil, nil, DefaultConfig(), zap.NewNop())
}

func TestInitializePopulationWithinBoundsAndNormalized(t *testing.T) {
	o := testOptimizer()
	population := o.initializePopulation("SPY")

	if len(population) != o.cfg.PopulationSize {
		t.Fatalf("population size = %d, want %d", len(population), o.cfg.PopulationSize)
	}

	for i, w := range population {
		sum := w.TPO.Add(w.RSI).Add(w.IB).Add(w.CVD).Add(w.VWAP)
		if !sum.Round(6).Equal(decimal.NewFromInt(1)) {
			t.Errorf("genome %d component weights sum to %v, want 1", i, sum)
		}
		assertWithinBound(t, "MinConfidence", w.MinConfidence, boundMinConfidence)
		assertWithinBound(t, "ORBBreakoutMult", w.ORBBreakoutMult, boundORBMult)
		assertWithinBound(t, "StopLossMult", w.StopLossMult, boundStopLossMult)
		assertWithinBound(t, "TargetMult", w.TargetMult, boundTargetMult)
	}
}

func assertWithinBound(t *testing.T, name string, v decimal.Decimal, b bound) {
	t.Helper()
	f, _ := v.Float64()
	if f < b.min || f > b.max {
		t.Errorf("%s = %v, want within [%v, %v]", name, f, b.min, b.max)
	}
}

func TestMutateClampsToBounds(t *testing.T) {
	o := testOptimizer()
	o.cfg.MutationRate = 1.0 // force every gene to mutate

	w := types.Weights{
		TPO:             decimal.NewFromFloat(boundTPO.max),
		RSI:             decimal.NewFromFloat(boundRSI.max),
		IB:              decimal.NewFromFloat(boundIB.max),
		CVD:             decimal.NewFromFloat(boundCVD.max),
		VWAP:            decimal.NewFromFloat(boundVWAP.max),
		MinConfidence:   decimal.NewFromFloat(boundMinConfidence.max),
		ORBBreakoutMult: decimal.NewFromFloat(boundORBMult.max),
		StopLossMult:    decimal.NewFromFloat(boundStopLossMult.max),
		TargetMult:      decimal.NewFromFloat(boundTargetMult.max),
	}

	for i := 0; i < 50; i++ {
		mutated := o.mutate(w)
		assertWithinBound(t, "TPO", mutated.TPO, boundTPO)
		assertWithinBound(t, "MinConfidence", mutated.MinConfidence, boundMinConfidence)
		assertWithinBound(t, "TargetMult", mutated.TargetMult, boundTargetMult)

		sum := mutated.TPO.Add(mutated.RSI).Add(mutated.IB).Add(mutated.CVD).Add(mutated.VWAP)
		if !sum.Round(6).Equal(decimal.NewFromInt(1)) {
			t.Errorf("mutated component weights sum to %v, want 1", sum)
		}
	}
}

func TestMutateZeroRateIsIdentity(t *testing.T) {
	o := testOptimizer()
	o.cfg.MutationRate = 0.0

	w := o.initializePopulation("SPY")[0]
	mutated := o.mutate(w)

	if !mutated.TPO.Equal(w.TPO) || !mutated.TargetMult.Equal(w.TargetMult) {
		t.Error("mutate with rate 0 should be the identity transform")
	}
}

func TestCrossoverProducesFieldFromEitherParent(t *testing.T) {
	o := testOptimizer()
	a := types.Weights{TargetMult: decimal.NewFromFloat(1.5)}
	b := types.Weights{TargetMult: decimal.NewFromFloat(3.0)}

	sawA, sawB := false, false
	for i := 0; i < 100; i++ {
		child := o.crossover(a, b)
		switch {
		case child.TargetMult.Equal(a.TargetMult):
			sawA = true
		case child.TargetMult.Equal(b.TargetMult):
			sawB = true
		}
	}
	if !sawA || !sawB {
		t.Error("expected crossover to draw TargetMult from both parents over repeated trials")
	}
}

func TestFitnessWithNilReplayerReturnsNeutral(t *testing.T) {
	o := testOptimizer()
	score := o.fitness(nil, "SPY", types.Weights{})
	if score != 0.5 {
		t.Errorf("fitness with nil replayer = %v, want 0.5", score)
	}
}

func TestRankByFitnessDescending(t *testing.T) {
	o := testOptimizer()
	ranked := o.rankByFitness([]float64{0.2, 0.9, 0.5})
	if ranked[0] != 1 || ranked[1] != 2 || ranked[2] != 0 {
		t.Errorf("rankByFitness = %v, want [1 2 0]", ranked)
	}
}

func TestMaybeEvolveSkipsAboveFloor(t *testing.T) {
	o := testOptimizer()
	if err := o.MaybeEvolve(nil, "SPY", o.cfg.WinRateFloor); err != nil {
		t.Errorf("MaybeEvolve at the floor should be a no-op, got error: %v", err)
	}
}
