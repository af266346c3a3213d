// Package grader reconciles ACTIVE predictions against the latest candle,
// closing them out with a WIN/LOSS Outcome and feeding the batch win rate
// into the Optimizer. Grounded on the teacher's learning.FeedbackEngine
// rolling-stats bookkeeping, generalized from an in-memory pattern map to
// repository-backed queries.
package grader

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/internal/evolution"
	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/pkg/types"
	"github.com/atlas-desktop/aurora/pkg/utils"
)

// defaultDelta is the documented near-ATM delta used to estimate current
// premium post-hoc, when the option's original greeks are unavailable.
const defaultDelta = 0.5

// Summary is the outcome of a single GradeOpen batch.
type Summary struct {
	Graded  int
	Wins    int
	Losses  int
	WinRate float64
}

// WinRateReport is the rolling-window win-rate read for a ticker.
type WinRateReport struct {
	Graded int
	Wins   int
	Losses int
	Rate   float64
}

// DegradationReport compares two trailing windows' win rates.
type DegradationReport struct {
	PriorRate   float64
	RecentRate  float64
	Degradation float64
	Alert       bool
}

// Grader grades ACTIVE predictions against the latest candle.
type Grader struct {
	repo      store.Repository
	optimizer *evolution.Optimizer
	interval  string
	logger    *zap.Logger

	mu sync.Mutex // serializes GradeOpen against itself
}

// NewGrader builds a Grader reading interval-spaced candles (default "1m").
func NewGrader(repo store.Repository, optimizer *evolution.Optimizer, interval string, logger *zap.Logger) *Grader {
	if interval == "" {
		interval = "1m"
	}
	return &Grader{repo: repo, optimizer: optimizer, interval: interval, logger: logger.Named("grader")}
}

// GradeOpen implements the §4.H 6-step reconciliation algorithm. It is
// serialized against itself so it is never concurrently re-entered; it may
// freely overlap a Scheduler tick.
func (g *Grader) GradeOpen(ctx context.Context) (Summary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	active, err := g.repo.GetActivePredictions(ctx, "")
	if err != nil {
		return Summary{}, err
	}

	byTicker := make(map[string][]types.Prediction)
	for _, p := range active {
		byTicker[p.Ticker] = append(byTicker[p.Ticker], p)
	}

	var summary Summary
	for ticker, predictions := range byTicker {
		candles, err := g.repo.GetCandles(ctx, ticker, g.interval, time.Now().Add(-24*time.Hour), time.Now())
		if err != nil || len(candles) == 0 {
			continue
		}
		latest := candles[len(candles)-1]

		var tickerGraded, tickerWins int
		for _, p := range predictions {
			outcome, graded := g.gradeOne(ctx, p, latest)
			if !graded {
				continue
			}
			summary.Graded++
			tickerGraded++
			if outcome.Result == types.OutcomeWin {
				summary.Wins++
				tickerWins++
			} else {
				summary.Losses++
			}
		}

		if g.optimizer != nil && tickerGraded > 0 {
			rate := float64(tickerWins) / float64(tickerGraded)
			if evoErr := g.optimizer.MaybeEvolve(ctx, ticker, rate); evoErr != nil {
				g.logger.Warn("optimizer cycle failed", zap.String("ticker", ticker), zap.Error(evoErr))
			}
		}
	}

	if summary.Graded > 0 {
		summary.WinRate = float64(summary.Wins) / float64(summary.Graded)
	}
	return summary, nil
}

func (g *Grader) gradeOne(ctx context.Context, p types.Prediction, latest types.Candle) (types.Outcome, bool) {
	sign := decimal.NewFromInt(1)
	if p.Direction == types.DirectionPut {
		sign = decimal.NewFromInt(-1)
	}

	entryPremium := p.TradePlan.Entry
	currentStock := latest.Close
	delta := decimal.NewFromFloat(defaultDelta)

	currentPremium := decimal.Max(
		decimal.NewFromFloat(0.01),
		entryPremium.Add(currentStock.Sub(p.EntryStock).Mul(sign).Mul(delta)),
	)

	var result types.OutcomeResult
	switch {
	case currentPremium.GreaterThanOrEqual(p.TradePlan.Target):
		result = types.OutcomeWin
	case currentPremium.LessThanOrEqual(p.TradePlan.Stop):
		result = types.OutcomeLoss
	case currentPremium.GreaterThan(entryPremium):
		result = types.OutcomeWin
	default:
		result = types.OutcomeLoss
	}

	pnl := currentPremium.Sub(entryPremium)
	closedAt := time.Now()

	g.logger.Debug("graded prediction",
		zap.String("predictionId", p.ID), zap.String("result", string(result)),
		zap.String("pnl", utils.FormatMoney(pnl, "USD")))

	if err := g.repo.InsertOutcome(ctx, p.ID, result, pnl, closedAt); err != nil {
		g.logger.Warn("insert outcome failed", zap.String("predictionId", p.ID), zap.Error(err))
		return types.Outcome{}, false
	}
	if err := g.repo.UpdatePredictionStatus(ctx, p.ID, types.PredictionStatusClosed); err != nil {
		g.logger.Warn("update prediction status failed", zap.String("predictionId", p.ID), zap.Error(err))
	}

	return types.Outcome{ID: p.ID, PredictionID: p.ID, Result: result, RealizedPnl: pnl, ClosedAt: closedAt}, true
}

// ExpireStale marks ACTIVE predictions generated before today as EXPIRED,
// writing no Outcome row — a separate sweep from GradeOpen's WIN/LOSS path.
func (g *Grader) ExpireStale(ctx context.Context, today time.Time) (int, error) {
	return g.repo.ExpireStalePredictions(ctx, today)
}

// WinRate joins predictions to outcomes over the trailing windowDays for
// ticker (empty ticker = all tickers).
func (g *Grader) WinRate(ctx context.Context, ticker string, windowDays int) (WinRateReport, error) {
	since := time.Now().AddDate(0, 0, -windowDays)
	joined, err := g.repo.OutcomesJoined(ctx, ticker, since)
	if err != nil {
		return WinRateReport{}, err
	}

	var report WinRateReport
	for _, j := range joined {
		report.Graded++
		if j.Outcome.Result == types.OutcomeWin {
			report.Wins++
		} else {
			report.Losses++
		}
	}
	if report.Graded > 0 {
		report.Rate = float64(report.Wins) / float64(report.Graded)
	}
	return report, nil
}

// Degradation compares the [-2w, -1w] window against [-1w, now] and flags
// an alert when the win rate has dropped by more than 0.10 with at least 10
// graded predictions in the recent window.
func (g *Grader) Degradation(ctx context.Context, ticker string) (DegradationReport, error) {
	now := time.Now()
	oneWeekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)

	prior, err := g.repo.OutcomesJoined(ctx, ticker, twoWeeksAgo)
	if err != nil {
		return DegradationReport{}, err
	}
	recent, err := g.repo.OutcomesJoined(ctx, ticker, oneWeekAgo)
	if err != nil {
		return DegradationReport{}, err
	}

	priorWindow := make([]store.JoinedOutcome, 0, len(prior))
	for _, j := range prior {
		if j.Outcome.ClosedAt.Before(oneWeekAgo) {
			priorWindow = append(priorWindow, j)
		}
	}

	priorRate := rateOf(priorWindow)
	recentRate := rateOf(recent)
	degradation := priorRate - recentRate

	return DegradationReport{
		PriorRate:   priorRate,
		RecentRate:  recentRate,
		Degradation: degradation,
		Alert:       degradation > 0.10 && len(recent) >= 10,
	}, nil
}

func rateOf(joined []store.JoinedOutcome) float64 {
	if len(joined) == 0 {
		return 0
	}
	wins := 0
	for _, j := range joined {
		if j.Outcome.Result == types.OutcomeWin {
			wins++
		}
	}
	return float64(wins) / float64(len(joined))
}
