package fuser

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/pkg/calendar"
	"github.com/atlas-desktop/aurora/pkg/types"
)

// fakeWeightsRepo is a minimal store.Repository stub exercising only the
// weights lookup the Fuser's cache reads through to.
type fakeWeightsRepo struct {
	store.Repository
	weights types.Weights
	found   bool
	calls   int
}

func (f *fakeWeightsRepo) GetActiveWeights(ctx context.Context, ticker string) (types.Weights, bool, error) {
	f.calls++
	return f.weights, f.found, nil
}

func TestWeightsForCachesWithinTTL(t *testing.T) {
	repo := &fakeWeightsRepo{weights: types.DefaultWeights("SPY"), found: true}
	f := NewFuser(repo, DefaultConfig(), zap.NewNop())

	f.weightsFor(context.Background(), "SPY")
	f.weightsFor(context.Background(), "SPY")

	if repo.calls != 1 {
		t.Errorf("GetActiveWeights called %d times, want 1 (second read should hit cache)", repo.calls)
	}
}

func TestInvalidateForcesRereadBypassingTTL(t *testing.T) {
	repo := &fakeWeightsRepo{weights: types.DefaultWeights("SPY"), found: true}
	f := NewFuser(repo, DefaultConfig(), zap.NewNop())

	f.weightsFor(context.Background(), "SPY")
	f.Invalidate("SPY")
	f.weightsFor(context.Background(), "SPY")

	if repo.calls != 2 {
		t.Errorf("GetActiveWeights called %d times, want 2 (Invalidate should force a reread)", repo.calls)
	}
}

func TestWeightsForFallsBackToDefaultsWhenNotFound(t *testing.T) {
	repo := &fakeWeightsRepo{found: false}
	f := NewFuser(repo, DefaultConfig(), zap.NewNop())

	w := f.weightsFor(context.Background(), "SPY")
	if w.Ticker != "SPY" {
		t.Errorf("expected default weights for SPY, got %+v", w)
	}
}

func TestEvaluateReturnsFalseOutsideKnownSessions(t *testing.T) {
	repo := &fakeWeightsRepo{weights: types.DefaultWeights("SPY"), found: true}
	f := NewFuser(repo, DefaultConfig(), zap.NewNop())

	_, ok := f.Evaluate(context.Background(), "SPY", calendar.SessionClosed, nil, nil, BiasNeutral)
	if ok {
		t.Error("expected no prediction when the market is CLOSED")
	}
}

func TestEvaluatePreMarketNeutralBiasAbstains(t *testing.T) {
	repo := &fakeWeightsRepo{weights: types.DefaultWeights("SPY"), found: true}
	f := NewFuser(repo, DefaultConfig(), zap.NewNop())

	candles := []types.Candle{
		{Timestamp: time.Now(), Open: decimal.NewFromFloat(100), High: decimal.NewFromFloat(101), Low: decimal.NewFromFloat(99), Close: decimal.NewFromFloat(100.5), Volume: decimal.NewFromFloat(1000)},
		{Timestamp: time.Now(), Open: decimal.NewFromFloat(100.5), High: decimal.NewFromFloat(101), Low: decimal.NewFromFloat(100), Close: decimal.NewFromFloat(100.2), Volume: decimal.NewFromFloat(1000)},
	}
	_, ok := f.Evaluate(context.Background(), "SPY", calendar.SessionPreMarket, candles, nil, BiasNeutral)
	if ok {
		t.Error("a NEUTRAL pre-market bias should never produce a prediction")
	}
}

func TestSelectContractPicksNearestStrike(t *testing.T) {
	chain := []types.OptionContract{
		{Type: types.OptionTypeCall, Strike: decimal.NewFromFloat(95)},
		{Type: types.OptionTypeCall, Strike: decimal.NewFromFloat(100)},
		{Type: types.OptionTypeCall, Strike: decimal.NewFromFloat(105)},
		{Type: types.OptionTypePut, Strike: decimal.NewFromFloat(100)},
	}
	got, found := selectContract(chain, types.OptionTypeCall, decimal.NewFromFloat(101))
	if !found {
		t.Fatal("expected a match")
	}
	if !got.Strike.Equal(decimal.NewFromFloat(100)) {
		t.Errorf("Strike = %v, want 100 (nearest to 101)", got.Strike)
	}
}

func TestTradePlanRiskReward(t *testing.T) {
	plan := tradePlan(decimal.NewFromFloat(10), decimal.NewFromFloat(8), decimal.NewFromFloat(16))
	want := decimal.NewFromFloat(3) // (16-10)/(10-8) = 3
	if !plan.RiskReward.Equal(want) {
		t.Errorf("RiskReward = %v, want %v", plan.RiskReward, want)
	}
}
