package grader

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/pkg/types"
)

// fakeRepo is a minimal in-memory store.Repository stub for grader tests;
// only the methods GradeOpen/WinRate/Degradation actually exercise are
// implemented with real behavior.
type fakeRepo struct {
	active   []types.Prediction
	candles  map[string][]types.Candle
	joined   []store.JoinedOutcome
	outcomes []types.Outcome
	statuses map[string]types.PredictionStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{candles: map[string][]types.Candle{}, statuses: map[string]types.PredictionStatus{}}
}

func (f *fakeRepo) SaveCandles(ctx context.Context, candles []types.Candle) error { return nil }
func (f *fakeRepo) GetCandles(ctx context.Context, ticker, interval string, start, end time.Time) ([]types.Candle, error) {
	return f.candles[ticker], nil
}
func (f *fakeRepo) SaveQuote(ctx context.Context, q types.Quote) error                    { return nil }
func (f *fakeRepo) SaveOptionChain(ctx context.Context, chain []types.OptionContract) error { return nil }
func (f *fakeRepo) LatestOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]types.OptionContract, error) {
	return nil, nil
}
func (f *fakeRepo) InsertPrediction(ctx context.Context, p types.Prediction) (string, error) {
	return p.ID, nil
}
func (f *fakeRepo) GetActivePredictions(ctx context.Context, ticker string) ([]types.Prediction, error) {
	if ticker == "" {
		return f.active, nil
	}
	var out []types.Prediction
	for _, p := range f.active {
		if p.Ticker == ticker {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakeRepo) GetRecentPredictions(ctx context.Context, ticker string, n int) ([]types.Prediction, error) {
	return nil, nil
}
func (f *fakeRepo) UpdatePredictionStatus(ctx context.Context, id string, status types.PredictionStatus) error {
	f.statuses[id] = status
	return nil
}
func (f *fakeRepo) ExpireStalePredictions(ctx context.Context, today time.Time) (int, error) {
	return 0, nil
}
func (f *fakeRepo) InsertOutcome(ctx context.Context, predictionID string, result types.OutcomeResult, pnl decimal.Decimal, closedAt time.Time) error {
	f.outcomes = append(f.outcomes, types.Outcome{PredictionID: predictionID, Result: result, RealizedPnl: pnl, ClosedAt: closedAt})
	return nil
}
func (f *fakeRepo) OutcomesJoined(ctx context.Context, ticker string, since time.Time) ([]store.JoinedOutcome, error) {
	var out []store.JoinedOutcome
	for _, j := range f.joined {
		if !j.Outcome.ClosedAt.Before(since) {
			out = append(out, j)
		}
	}
	return out, nil
}
func (f *fakeRepo) UpsertActiveWeights(ctx context.Context, w types.Weights) error { return nil }
func (f *fakeRepo) GetActiveWeights(ctx context.Context, ticker string) (types.Weights, bool, error) {
	return types.Weights{}, false, nil
}
func (f *fakeRepo) InsertBacktestResult(ctx context.Context, r types.BacktestResult) error { return nil }

func candleAt(closePrice float64) types.Candle {
	return types.Candle{Timestamp: time.Now(), Close: decimal.NewFromFloat(closePrice)}
}

func TestGradeOneHitsTarget(t *testing.T) {
	repo := newFakeRepo()
	g := NewGrader(repo, nil, "1m", zap.NewNop())

	p := types.Prediction{
		ID:         "p1",
		Direction:  types.DirectionCall,
		EntryStock: decimal.NewFromFloat(100),
		TradePlan: types.TradePlan{
			Entry:  decimal.NewFromFloat(1.0),
			Stop:   decimal.NewFromFloat(0.5),
			Target: decimal.NewFromFloat(2.0),
		},
	}
	// Stock moved up $2, delta 0.5 -> premium = 1.0 + 2*0.5 = 2.0 = target.
	outcome, graded := g.gradeOne(context.Background(), p, candleAt(102))
	if !graded {
		t.Fatal("expected graded = true")
	}
	if outcome.Result != types.OutcomeWin {
		t.Errorf("Result = %s, want WIN", outcome.Result)
	}
}

func TestGradeOneHitsStop(t *testing.T) {
	repo := newFakeRepo()
	g := NewGrader(repo, nil, "1m", zap.NewNop())

	p := types.Prediction{
		ID:         "p2",
		Direction:  types.DirectionCall,
		EntryStock: decimal.NewFromFloat(100),
		TradePlan: types.TradePlan{
			Entry:  decimal.NewFromFloat(1.0),
			Stop:   decimal.NewFromFloat(0.5),
			Target: decimal.NewFromFloat(2.0),
		},
	}
	// Stock down $1, delta 0.5 -> premium = 1.0 - 0.5 = 0.5 = stop.
	outcome, graded := g.gradeOne(context.Background(), p, candleAt(99))
	if !graded {
		t.Fatal("expected graded = true")
	}
	if outcome.Result != types.OutcomeLoss {
		t.Errorf("Result = %s, want LOSS", outcome.Result)
	}
}

func TestGradeOnePutDirectionInvertsSign(t *testing.T) {
	repo := newFakeRepo()
	g := NewGrader(repo, nil, "1m", zap.NewNop())

	p := types.Prediction{
		ID:         "p3",
		Direction:  types.DirectionPut,
		EntryStock: decimal.NewFromFloat(100),
		TradePlan: types.TradePlan{
			Entry:  decimal.NewFromFloat(1.0),
			Stop:   decimal.NewFromFloat(0.5),
			Target: decimal.NewFromFloat(2.0),
		},
	}
	// Stock down $2 is favorable for a PUT: premium = 1.0 + (-2)*(-1)*0.5 = 2.0.
	outcome, _ := g.gradeOne(context.Background(), p, candleAt(98))
	if outcome.Result != types.OutcomeWin {
		t.Errorf("Result = %s, want WIN for a favorable PUT move", outcome.Result)
	}
}

func TestGradeOnePremiumFloorsAtOnePenny(t *testing.T) {
	repo := newFakeRepo()
	g := NewGrader(repo, nil, "1m", zap.NewNop())

	p := types.Prediction{
		ID:         "p4",
		Direction:  types.DirectionCall,
		EntryStock: decimal.NewFromFloat(100),
		TradePlan: types.TradePlan{
			Entry:  decimal.NewFromFloat(1.0),
			Stop:   decimal.NewFromFloat(0.5),
			Target: decimal.NewFromFloat(2.0),
		},
	}
	// Huge adverse move should floor premium at 0.01, not go negative.
	_, graded := g.gradeOne(context.Background(), p, candleAt(0))
	if !graded {
		t.Fatal("expected graded = true")
	}
	if len(repo.outcomes) != 1 {
		t.Fatal("expected one outcome recorded")
	}
	wantPnl := decimal.NewFromFloat(0.01).Sub(p.TradePlan.Entry)
	if !repo.outcomes[0].RealizedPnl.Equal(wantPnl) {
		t.Errorf("RealizedPnl = %v, want %v (premium floored at 0.01)", repo.outcomes[0].RealizedPnl, wantPnl)
	}
}

func TestGradeOpenAggregatesWinRate(t *testing.T) {
	repo := newFakeRepo()
	repo.candles["SPY"] = []types.Candle{candleAt(102)}
	repo.active = []types.Prediction{
		{
			ID: "win1", Ticker: "SPY", Direction: types.DirectionCall, EntryStock: decimal.NewFromFloat(100),
			TradePlan: types.TradePlan{Entry: decimal.NewFromFloat(1.0), Stop: decimal.NewFromFloat(0.5), Target: decimal.NewFromFloat(2.0)},
		},
	}
	g := NewGrader(repo, nil, "1m", zap.NewNop())

	summary, err := g.GradeOpen(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Graded != 1 || summary.Wins != 1 {
		t.Errorf("summary = %+v, want 1 graded, 1 win", summary)
	}
	if summary.WinRate != 1.0 {
		t.Errorf("WinRate = %v, want 1.0", summary.WinRate)
	}
	if repo.statuses["win1"] != types.PredictionStatusClosed {
		t.Error("expected prediction to be marked CLOSED")
	}
}

func TestDegradationAlertsOnLargeDrop(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	// 10 prior wins, 10 days ago (inside [-2w,-1w], a 100% prior win rate).
	for i := 0; i < 10; i++ {
		repo.joined = append(repo.joined, store.JoinedOutcome{
			Outcome: types.Outcome{Result: types.OutcomeWin, ClosedAt: now.AddDate(0, 0, -10).Add(-time.Duration(i) * time.Hour)},
		})
	}
	// 10 recent losses, within the last week (a 0% recent win rate).
	for i := 0; i < 10; i++ {
		repo.joined = append(repo.joined, store.JoinedOutcome{
			Outcome: types.Outcome{Result: types.OutcomeLoss, ClosedAt: now.Add(-time.Duration(i) * time.Hour)},
		})
	}
	g := NewGrader(repo, nil, "1m", zap.NewNop())

	report, err := g.Degradation(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Alert {
		t.Errorf("expected alert for a 100%%-loss recent window, got %+v", report)
	}
}
