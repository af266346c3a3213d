package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/internal/fuser"
	"github.com/atlas-desktop/aurora/internal/risk"
	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/pkg/types"
)

// fakeCandleRepo is a minimal store.Repository stub returning a canned
// candle slice regardless of the requested range.
type fakeCandleRepo struct {
	store.Repository
	candles []types.Candle
	saved   []types.BacktestResult
}

func (f *fakeCandleRepo) GetCandles(ctx context.Context, ticker, interval string, start, end time.Time) ([]types.Candle, error) {
	return f.candles, nil
}

func (f *fakeCandleRepo) InsertBacktestResult(ctx context.Context, r types.BacktestResult) error {
	f.saved = append(f.saved, r)
	return nil
}

// TestSynthesizeTradeRespectsRealStopAndTarget verifies the fix for the
// degenerate-levels bug: with a non-zero stockStop/stockTarget, a large
// favorable move produces a strictly positive P&L instead of collapsing to
// zero.
func TestSynthesizeTradeRespectsRealStopAndTarget(t *testing.T) {
	r := &Replayer{riskCfg: risk.DefaultRiskConfig(), logger: zap.NewNop()}

	entryStock := decimal.NewFromFloat(100)
	stockStop := decimal.NewFromFloat(99)   // 1-wide ATR stop
	stockTarget := decimal.NewFromFloat(102) // 2-wide ATR target

	// Huge favorable move: exit way above target.
	exitStock := decimal.NewFromFloat(150)
	trade := r.synthesizeTrade(types.DirectionCall, entryStock, exitStock, stockStop, stockTarget)

	// Projected target premium must be strictly greater than the nominal
	// entry premium (1.00) — degenerate zero-width levels would collapse
	// target onto entry and make pnl always ~0.
	if !trade.pnl.IsPositive() {
		t.Errorf("expected positive pnl on a large favorable move, got %v", trade.pnl)
	}
}

func TestSynthesizeTradeLossOnAdverseMove(t *testing.T) {
	r := &Replayer{riskCfg: risk.DefaultRiskConfig(), logger: zap.NewNop()}

	entryStock := decimal.NewFromFloat(100)
	stockStop := decimal.NewFromFloat(99)
	stockTarget := decimal.NewFromFloat(102)

	exitStock := decimal.NewFromFloat(50) // big adverse move
	trade := r.synthesizeTrade(types.DirectionCall, entryStock, exitStock, stockStop, stockTarget)

	if !trade.pnl.IsNegative() {
		t.Errorf("expected negative pnl on a large adverse move, got %v", trade.pnl)
	}
}

func TestReplayInsufficientCandlesReturnsZeroedResult(t *testing.T) {
	repo := &fakeCandleRepo{candles: make([]types.Candle, 10)} // below minCandles
	r := NewReplayer(repo, fuser.DefaultConfig(), risk.DefaultRiskConfig(), "1m", zap.NewNop())

	result, err := r.Replay(context.Background(), "SPY", time.Now().AddDate(0, 0, -60), time.Now(), types.DefaultWeights("SPY"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0 for insufficient history", result.TotalTrades)
	}
	if len(repo.saved) != 0 {
		t.Error("a zeroed result for insufficient history should not be persisted separately from the normal path")
	}
}

func buildTrendingCandles(n int, start, step float64) []types.Candle {
	candles := make([]types.Candle, n)
	price := start
	now := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		open := price
		price += step
		closePrice := price
		high := closePrice
		low := open
		if open > high {
			high = open
		}
		if closePrice < low {
			low = closePrice
		}
		candles[i] = types.Candle{
			Ticker:    "SPY",
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Interval:  "1m",
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high + 0.1),
			Low:       decimal.NewFromFloat(low - 0.1),
			Close:     decimal.NewFromFloat(closePrice),
			Volume:    decimal.NewFromFloat(1000),
			Complete:  true,
		}
	}
	return candles
}

func TestReplayAggregatesTradeCountAcrossWindows(t *testing.T) {
	repo := &fakeCandleRepo{candles: buildTrendingCandles(90, 100, 0.5)}
	r := NewReplayer(repo, fuser.DefaultConfig(), risk.DefaultRiskConfig(), "1m", zap.NewNop())

	weights := types.DefaultWeights("SPY")
	weights.MinConfidence = decimal.NewFromInt(0) // accept any confidence so the test is deterministic

	result, err := r.Replay(context.Background(), "SPY", time.Now().AddDate(0, 0, -1), time.Now(), weights)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalTrades != result.Wins+result.Losses {
		t.Errorf("TotalTrades (%d) should equal Wins+Losses (%d)", result.TotalTrades, result.Wins+result.Losses)
	}
	if len(repo.saved) != 1 {
		t.Errorf("expected exactly one persisted backtest result, got %d", len(repo.saved))
	}
}
