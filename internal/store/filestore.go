package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/pkg/types"
	"github.com/atlas-desktop/aurora/pkg/utils"
)

// FileStore is a JSON-file-per-table Repository, one file per entity kind
// under dataDir, with an in-memory indexed cache and an explicit flush on
// every write. Grounded on the teacher's data.Store cache-then-file
// pattern, extended with mutex-guarded multi-row transactions so an
// Outcome+status update or a ParameterDelta+active-weights update commits
// atomically from the caller's perspective.
type FileStore struct {
	dataDir string
	logger  *zap.Logger

	mu sync.Mutex

	candles     map[string][]types.Candle // key: ticker|interval
	quotes      []types.Quote
	chains      map[string][]types.OptionContract // key: ticker|expiration
	predictions map[string]types.Prediction
	outcomes    map[string]types.Outcome // key: predictionID
	weights     map[string]types.Weights // key: ticker, active row only
	deltas      []types.ParameterDelta
	backtests   []types.BacktestResult
}

// NewFileStore creates dataDir if absent and returns an empty FileStore.
func NewFileStore(dataDir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	fs := &FileStore{
		dataDir:     dataDir,
		logger:      logger.Named("store"),
		candles:     make(map[string][]types.Candle),
		chains:      make(map[string][]types.OptionContract),
		predictions: make(map[string]types.Prediction),
		outcomes:    make(map[string]types.Outcome),
		weights:     make(map[string]types.Weights),
	}
	fs.load()
	return fs, nil
}

func candleKey(ticker, interval string) string { return ticker + "|" + interval }
func chainKey(ticker string, expiration time.Time) string {
	return ticker + "|" + expiration.Format("2006-01-02")
}

func (s *FileStore) path(table string) string {
	return filepath.Join(s.dataDir, table+".json")
}

func (s *FileStore) load() {
	s.loadInto(s.path("candles"), &s.candles)
	s.loadInto(s.path("quotes"), &s.quotes)
	s.loadInto(s.path("chains"), &s.chains)
	s.loadInto(s.path("predictions"), &s.predictions)
	s.loadInto(s.path("outcomes"), &s.outcomes)
	s.loadInto(s.path("weights"), &s.weights)
	s.loadInto(s.path("deltas"), &s.deltas)
	s.loadInto(s.path("backtests"), &s.backtests)
}

func (s *FileStore) loadInto(path string, v any) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // absent on first run; zero value stands
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("corrupt store file, starting empty", zap.String("path", path), zap.Error(err))
	}
}

func (s *FileStore) flush(table string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Warn("marshal table failed", zap.String("table", table), zap.Error(err))
		return
	}
	if err := os.WriteFile(s.path(table), data, 0o644); err != nil {
		s.logger.Warn("flush table failed", zap.String("table", table), zap.Error(err))
	}
}

// SaveCandles appends/overwrites candles by (ticker, interval, ts).
func (s *FileStore) SaveCandles(ctx context.Context, candles []types.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := make(map[string][]types.Candle)
	for _, c := range candles {
		k := candleKey(c.Ticker, c.Interval)
		byKey[k] = append(byKey[k], c)
	}
	for k, incoming := range byKey {
		existing := s.candles[k]
		byTs := make(map[time.Time]types.Candle, len(existing)+len(incoming))
		for _, c := range existing {
			byTs[c.Timestamp] = c
		}
		for _, c := range incoming {
			byTs[c.Timestamp] = c
		}
		merged := make([]types.Candle, 0, len(byTs))
		for _, c := range byTs {
			merged = append(merged, c)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
		s.candles[k] = merged
	}
	s.flush("candles", s.candles)
	return nil
}

// GetCandles returns candles for ticker/interval within [start, end].
func (s *FileStore) GetCandles(ctx context.Context, ticker, interval string, start, end time.Time) ([]types.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.candles[candleKey(ticker, interval)]
	out := make([]types.Candle, 0, len(all))
	for _, c := range all {
		if !c.Timestamp.Before(start) && !c.Timestamp.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

// SaveQuote appends a quote snapshot.
func (s *FileStore) SaveQuote(ctx context.Context, q types.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, q)
	s.flush("quotes", s.quotes)
	return nil
}

// SaveOptionChain appends a chain snapshot, indexed by (ticker, expiration).
func (s *FileStore) SaveOptionChain(ctx context.Context, chain []types.OptionContract) error {
	if len(chain) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := chainKey(chain[0].Ticker, chain[0].Expiration)
	s.chains[k] = chain
	s.flush("chains", s.chains)
	return nil
}

// LatestOptionChain returns the most recently saved chain snapshot for
// (ticker, expiration).
func (s *FileStore) LatestOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]types.OptionContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chains[chainKey(ticker, expiration)], nil
}

// InsertPrediction persists a new prediction, generating an ID if absent.
func (s *FileStore) InsertPrediction(ctx context.Context, p types.Prediction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = utils.GeneratePredictionID()
	}
	s.predictions[p.ID] = p
	s.flush("predictions", s.predictions)
	return p.ID, nil
}

// GetActivePredictions returns ACTIVE predictions, optionally filtered to
// one ticker (empty string means all tickers).
func (s *FileStore) GetActivePredictions(ctx context.Context, ticker string) ([]types.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Prediction
	for _, p := range s.predictions {
		if p.Status != types.PredictionStatusActive {
			continue
		}
		if ticker != "" && p.Ticker != ticker {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.Before(out[j].GeneratedAt) })
	return out, nil
}

// GetRecentPredictions returns the n most recent predictions of any status,
// optionally filtered to one ticker.
func (s *FileStore) GetRecentPredictions(ctx context.Context, ticker string, n int) ([]types.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []types.Prediction
	for _, p := range s.predictions {
		if ticker != "" && p.Ticker != ticker {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].GeneratedAt.After(all[j].GeneratedAt) })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// UpdatePredictionStatus transitions a prediction's status in place.
func (s *FileStore) UpdatePredictionStatus(ctx context.Context, id string, status types.PredictionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return fmt.Errorf("prediction %s not found", id)
	}
	p.Status = status
	s.predictions[id] = p
	s.flush("predictions", s.predictions)
	return nil
}

// ExpireStalePredictions marks ACTIVE predictions generated before today's
// date as EXPIRED. Returns the count expired.
func (s *FileStore) ExpireStalePredictions(ctx context.Context, today time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	todayKey := today.Format("2006-01-02")
	count := 0
	for id, p := range s.predictions {
		if p.Status != types.PredictionStatusActive {
			continue
		}
		if p.GeneratedAt.Format("2006-01-02") < todayKey {
			p.Status = types.PredictionStatusExpired
			s.predictions[id] = p
			count++
		}
	}
	if count > 0 {
		s.flush("predictions", s.predictions)
	}
	return count, nil
}

// InsertOutcome writes the Outcome row and transitions the Prediction to
// CLOSED as a single mutex-guarded transaction.
func (s *FileStore) InsertOutcome(ctx context.Context, predictionID string, result types.OutcomeResult, pnl decimal.Decimal, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[predictionID]
	if !ok {
		return fmt.Errorf("prediction %s not found", predictionID)
	}
	p.Status = types.PredictionStatusClosed
	s.predictions[predictionID] = p

	s.outcomes[predictionID] = types.Outcome{
		ID:           utils.GenerateOutcomeID(),
		PredictionID: predictionID,
		Result:       result,
		RealizedPnl:  pnl,
		ClosedAt:     closedAt,
	}

	s.flush("predictions", s.predictions)
	s.flush("outcomes", s.outcomes)
	return nil
}

// OutcomesJoined returns Prediction+Outcome pairs for CLOSED predictions,
// optionally filtered by ticker and/or a since cutoff on ClosedAt.
func (s *FileStore) OutcomesJoined(ctx context.Context, ticker string, since time.Time) ([]JoinedOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JoinedOutcome
	for id, o := range s.outcomes {
		if !since.IsZero() && o.ClosedAt.Before(since) {
			continue
		}
		p, ok := s.predictions[id]
		if !ok {
			continue
		}
		if ticker != "" && p.Ticker != ticker {
			continue
		}
		out = append(out, JoinedOutcome{Prediction: p, Outcome: o})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Outcome.ClosedAt.Before(out[j].Outcome.ClosedAt) })
	return out, nil
}

// UpsertActiveWeights replaces the active Weights row for w.Ticker. If a
// previous active row existed, a ParameterDelta audit row is written in the
// same transaction, diffing old against new genes.
func (s *FileStore) UpsertActiveWeights(ctx context.Context, w types.Weights) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = utils.GenerateID("wt")
	}
	w.IsActive = true

	if old, existed := s.weights[w.Ticker]; existed {
		s.deltas = append(s.deltas, types.ParameterDelta{
			ID:        utils.GenerateDeltaID(),
			WeightsID: w.ID,
			Ticker:    w.Ticker,
			OldGenes:  old,
			NewGenes:  w,
			Reason:    "optimizer-evolve",
			At:        w.LastUpdated,
		})
		s.flush("deltas", s.deltas)
	}

	s.weights[w.Ticker] = w
	s.flush("weights", s.weights)
	return nil
}

// GetActiveWeights returns the current active Weights row for ticker.
func (s *FileStore) GetActiveWeights(ctx context.Context, ticker string) (types.Weights, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.weights[ticker]
	return w, ok, nil
}

// InsertBacktestResult appends an append-only backtest run record.
func (s *FileStore) InsertBacktestResult(ctx context.Context, r types.BacktestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = utils.GenerateID("bt")
	}
	s.backtests = append(s.backtests, r)
	s.flush("backtests", s.backtests)
	return nil
}

var _ Repository = (*FileStore)(nil)
