package feed

import (
	"context"
	"time"

	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/pkg/types"
)

// ReplayFeed implements MarketFeed against persisted candles. Nothing in
// Aurora constructs one: internal/backtest reads its candles directly from
// store.Repository.GetCandles.
type ReplayFeed struct {
	repo     store.Repository
	interval string
}

// NewReplayFeed builds a ReplayFeed reading candles at interval from repo.
func NewReplayFeed(repo store.Repository, interval string) *ReplayFeed {
	return &ReplayFeed{repo: repo, interval: interval}
}

// Quote is unsupported in replay; option-chain-free indicator replay never
// calls it, so it always reports absent.
func (f *ReplayFeed) Quote(ctx context.Context, ticker string) (types.Quote, bool) {
	return types.Quote{}, false
}

// Quotes always returns empty in replay mode.
func (f *ReplayFeed) Quotes(ctx context.Context, tickers []string) []types.Quote {
	return nil
}

// IntradayCandles returns the last 24h of persisted candles for ticker.
func (f *ReplayFeed) IntradayCandles(ctx context.Context, ticker, interval string) []types.Candle {
	now := time.Now()
	candles, _ := f.repo.GetCandles(ctx, ticker, interval, now.Add(-24*time.Hour), now)
	return candles
}

// HistoricalCandles returns persisted candles for ticker/interval in [start, end].
func (f *ReplayFeed) HistoricalCandles(ctx context.Context, ticker, interval string, start, end time.Time) []types.Candle {
	candles, _ := f.repo.GetCandles(ctx, ticker, interval, start, end)
	return candles
}

// OptionExpirations always returns empty in replay mode — backtests price
// trades via the Risk Projector's delta-less fallback, not a live chain.
func (f *ReplayFeed) OptionExpirations(ctx context.Context, ticker string) []time.Time {
	return nil
}

// OptionChain always returns empty in replay mode.
func (f *ReplayFeed) OptionChain(ctx context.Context, ticker string, expiration time.Time) []types.OptionContract {
	return nil
}

var _ MarketFeed = (*ReplayFeed)(nil)
