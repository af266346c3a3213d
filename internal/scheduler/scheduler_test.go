package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/pkg/calendar"
	"github.com/atlas-desktop/aurora/pkg/types"
)

func testCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	return calendar.NewCalendar(time.UTC, nil, nil)
}

// fakeActiveRepo is a minimal store.Repository stub exercising only the
// active-predictions lookup hasActivePrediction reads through to.
type fakeActiveRepo struct {
	store.Repository
	active []types.Prediction
}

func (f *fakeActiveRepo) GetActivePredictions(ctx context.Context, ticker string) ([]types.Prediction, error) {
	var out []types.Prediction
	for _, p := range f.active {
		if ticker == "" || p.Ticker == ticker {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestHasActivePredictionSameEngineSameDirectionSuppresses(t *testing.T) {
	repo := &fakeActiveRepo{active: []types.Prediction{
		{Ticker: "SPY", Direction: types.DirectionCall, Engine: types.EngineTPOMIT},
	}}
	s := &Scheduler{repo: repo}

	has, err := s.hasActivePrediction(context.Background(), "SPY", types.DirectionCall, types.EngineTPOMIT)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Error("expected duplicate suppression for same (ticker, direction, engine)")
	}
}

func TestHasActivePredictionDifferentEngineSameDirectionAllowed(t *testing.T) {
	repo := &fakeActiveRepo{active: []types.Prediction{
		{Ticker: "SPY", Direction: types.DirectionCall, Engine: types.EngineTPOMIT},
	}}
	s := &Scheduler{repo: repo}

	// A different engine holding the same side is not a duplicate — each
	// engine may independently hold one ACTIVE prediction per direction.
	has, err := s.hasActivePrediction(context.Background(), "SPY", types.DirectionCall, types.EngineORBMomentum)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Error("expected a different engine on the same side to NOT be suppressed")
	}
}

func TestHasActivePredictionOppositeDirectionAllowed(t *testing.T) {
	repo := &fakeActiveRepo{active: []types.Prediction{
		{Ticker: "SPY", Direction: types.DirectionCall, Engine: types.EngineTPOMIT},
	}}
	s := &Scheduler{repo: repo}

	has, err := s.hasActivePrediction(context.Background(), "SPY", types.DirectionPut, types.EngineTPOMIT)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Error("expected the opposite direction to not be suppressed")
	}
}

func TestResolve0DTEExpirationPrefersSameCalendarDate(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	today := time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC)
	tomorrow := time.Date(2026, 1, 6, 16, 0, 0, 0, time.UTC)

	got, ok := resolve0DTEExpiration([]time.Time{tomorrow, today}, now)
	if !ok {
		t.Fatal("expected a match")
	}
	if !got.Equal(today) {
		t.Errorf("resolve0DTEExpiration = %v, want today's expiration %v", got, today)
	}
}

func TestResolve0DTEExpirationFallsBackToEarliestFuture(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	past := time.Date(2026, 1, 4, 16, 0, 0, 0, time.UTC)
	future := time.Date(2026, 1, 9, 16, 0, 0, 0, time.UTC)

	got, ok := resolve0DTEExpiration([]time.Time{future, past}, now)
	if !ok {
		t.Fatal("expected a match")
	}
	if !got.Equal(future) {
		t.Errorf("resolve0DTEExpiration = %v, want earliest future expiration %v", got, future)
	}
}

func TestResolve0DTEExpirationEmptyReturnsFalse(t *testing.T) {
	if _, ok := resolve0DTEExpiration(nil, time.Now()); ok {
		t.Error("expected no match for an empty expiration list")
	}
}

func TestActiveTickersIncludesFridayOnlyOnFriday(t *testing.T) {
	s := &Scheduler{cfg: Config{Tickers: []string{"SPY"}, FridayOnlyTickers: []string{"QQQ"}}, cal: testCalendar(t)}
	friday := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	tickers := s.activeTickers(friday)
	if len(tickers) != 2 {
		t.Errorf("activeTickers on Friday = %v, want [SPY QQQ]", tickers)
	}
}

func TestActiveTickersExcludesFridayOnlyOnMonday(t *testing.T) {
	s := &Scheduler{cfg: Config{Tickers: []string{"SPY"}, FridayOnlyTickers: []string{"QQQ"}}, cal: testCalendar(t)}
	monday := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	tickers := s.activeTickers(monday)
	if len(tickers) != 1 || tickers[0] != "SPY" {
		t.Errorf("activeTickers on Monday = %v, want [SPY]", tickers)
	}
}
