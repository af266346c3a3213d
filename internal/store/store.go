// Package store provides Aurora's persistence contract and a JSON-file-
// backed implementation, grounded on the teacher's cache-plus-file Store.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/aurora/pkg/types"
)

// Repository is the only shared-state collaborator in Aurora; every
// cross-component invariant rides on it.
type Repository interface {
	// Candles / quotes / chain snapshots.
	SaveCandles(ctx context.Context, candles []types.Candle) error
	GetCandles(ctx context.Context, ticker, interval string, start, end time.Time) ([]types.Candle, error)
	SaveQuote(ctx context.Context, q types.Quote) error
	SaveOptionChain(ctx context.Context, chain []types.OptionContract) error
	LatestOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]types.OptionContract, error)

	// Predictions.
	InsertPrediction(ctx context.Context, p types.Prediction) (string, error)
	GetActivePredictions(ctx context.Context, ticker string) ([]types.Prediction, error)
	GetRecentPredictions(ctx context.Context, ticker string, n int) ([]types.Prediction, error)
	UpdatePredictionStatus(ctx context.Context, id string, status types.PredictionStatus) error
	ExpireStalePredictions(ctx context.Context, today time.Time) (int, error)

	// Outcomes.
	InsertOutcome(ctx context.Context, predictionID string, result types.OutcomeResult, pnl decimal.Decimal, closedAt time.Time) error
	OutcomesJoined(ctx context.Context, ticker string, since time.Time) ([]JoinedOutcome, error)

	// Weights.
	UpsertActiveWeights(ctx context.Context, w types.Weights) error
	GetActiveWeights(ctx context.Context, ticker string) (types.Weights, bool, error)

	// Backtests.
	InsertBacktestResult(ctx context.Context, r types.BacktestResult) error
}

// JoinedOutcome is a Prediction joined to its terminal Outcome, the shape
// the Grader and Optimizer read for win-rate and fitness computation.
type JoinedOutcome struct {
	Prediction types.Prediction
	Outcome    types.Outcome
}
