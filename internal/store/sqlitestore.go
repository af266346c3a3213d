package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/atlas-desktop/aurora/pkg/types"
	"github.com/atlas-desktop/aurora/pkg/utils"
)

// SQLiteStore is a Repository backed by an embedded modernc.org/sqlite
// database, for callers who want real transactional storage instead of
// FileStore's JSON files. FileStore remains Aurora's default since it
// mirrors the teacher's own Store most directly and needs no external
// dependency to run.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a sqlite database at path and
// applies the table schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			ticker TEXT, interval TEXT, ts INTEGER,
			open TEXT, high TEXT, low TEXT, close TEXT, volume TEXT, complete INTEGER,
			PRIMARY KEY (ticker, interval, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS quotes (
			ticker TEXT, ts INTEGER, bid TEXT, ask TEXT, last TEXT, size TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS option_chain (
			ticker TEXT, snapshot_ts INTEGER, expiration INTEGER, strike TEXT, type TEXT,
			bid TEXT, ask TEXT, payload TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY, ticker TEXT, status TEXT, generated_at INTEGER, payload TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id TEXT PRIMARY KEY, prediction_id TEXT UNIQUE, result TEXT, pnl TEXT, closed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS weights (
			ticker TEXT PRIMARY KEY, payload TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS weights_deltas (
			id TEXT PRIMARY KEY, ticker TEXT, payload TEXT, at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_results (
			id TEXT PRIMARY KEY, ticker TEXT, payload TEXT, run_at INTEGER
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveCandles upserts candles by (ticker, interval, ts).
func (s *SQLiteStore) SaveCandles(ctx context.Context, candles []types.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt := `INSERT INTO candles (ticker, interval, ts, open, high, low, close, volume, complete)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(ticker, interval, ts) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume, complete=excluded.complete`
	for _, c := range candles {
		complete := 0
		if c.Complete {
			complete = 1
		}
		if _, err := tx.ExecContext(ctx, stmt, c.Ticker, c.Interval, c.Timestamp.Unix(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(), complete); err != nil {
			return fmt.Errorf("save candle: %w", err)
		}
	}
	return tx.Commit()
}

// GetCandles returns candles for ticker/interval within [start, end].
func (s *SQLiteStore) GetCandles(ctx context.Context, ticker, interval string, start, end time.Time) ([]types.Candle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, open, high, low, close, volume, complete FROM candles
		 WHERE ticker=? AND interval=? AND ts>=? AND ts<=? ORDER BY ts`,
		ticker, interval, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	defer rows.Close()

	var out []types.Candle
	for rows.Next() {
		var ts int64
		var open, high, low, close, volume string
		var complete int
		if err := rows.Scan(&ts, &open, &high, &low, &close, &volume, &complete); err != nil {
			return nil, err
		}
		out = append(out, types.Candle{
			Ticker:    ticker,
			Interval:  interval,
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      decimal.RequireFromString(open),
			High:      decimal.RequireFromString(high),
			Low:       decimal.RequireFromString(low),
			Close:     decimal.RequireFromString(close),
			Volume:    decimal.RequireFromString(volume),
			Complete:  complete == 1,
		})
	}
	return out, rows.Err()
}

// SaveQuote inserts an append-only quote row.
func (s *SQLiteStore) SaveQuote(ctx context.Context, q types.Quote) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quotes (ticker, ts, bid, ask, last, size) VALUES (?,?,?,?,?,?)`,
		q.Ticker, q.Timestamp.Unix(), q.Bid.String(), q.Ask.String(), q.Last.String(), q.Size.String())
	return err
}

// SaveOptionChain inserts a chain snapshot.
func (s *SQLiteStore) SaveOptionChain(ctx context.Context, chain []types.OptionContract) error {
	if len(chain) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range chain {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal contract: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO option_chain (ticker, snapshot_ts, expiration, strike, type, bid, ask, payload)
			 VALUES (?,?,?,?,?,?,?,?)`,
			c.Ticker, c.SnapshotTs.Unix(), c.Expiration.Unix(), c.Strike.String(), string(c.Type),
			c.Bid.String(), c.Ask.String(), string(payload)); err != nil {
			return fmt.Errorf("save contract: %w", err)
		}
	}
	return tx.Commit()
}

// LatestOptionChain returns the most recent chain snapshot for (ticker, expiration).
func (s *SQLiteStore) LatestOptionChain(ctx context.Context, ticker string, expiration time.Time) ([]types.OptionContract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM option_chain WHERE ticker=? AND expiration=?
		 AND snapshot_ts = (SELECT MAX(snapshot_ts) FROM option_chain WHERE ticker=? AND expiration=?)`,
		ticker, expiration.Unix(), ticker, expiration.Unix())
	if err != nil {
		return nil, fmt.Errorf("latest chain: %w", err)
	}
	defer rows.Close()

	var out []types.OptionContract
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c types.OptionContract
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertPrediction persists a prediction, generating an ID if absent.
func (s *SQLiteStore) InsertPrediction(ctx context.Context, p types.Prediction) (string, error) {
	if p.ID == "" {
		p.ID = utils.GeneratePredictionID()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal prediction: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, ticker, status, generated_at, payload) VALUES (?,?,?,?,?)`,
		p.ID, p.Ticker, string(p.Status), p.GeneratedAt.Unix(), string(payload))
	if err != nil {
		return "", fmt.Errorf("insert prediction: %w", err)
	}
	return p.ID, nil
}

func (s *SQLiteStore) scanPredictions(rows *sql.Rows) ([]types.Prediction, error) {
	defer rows.Close()
	var out []types.Prediction
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p types.Prediction
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetActivePredictions returns ACTIVE predictions, optionally filtered by ticker.
func (s *SQLiteStore) GetActivePredictions(ctx context.Context, ticker string) ([]types.Prediction, error) {
	var rows *sql.Rows
	var err error
	if ticker == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT payload FROM predictions WHERE status=? ORDER BY generated_at`, string(types.PredictionStatusActive))
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT payload FROM predictions WHERE status=? AND ticker=? ORDER BY generated_at`, string(types.PredictionStatusActive), ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("get active predictions: %w", err)
	}
	return s.scanPredictions(rows)
}

// GetRecentPredictions returns the n most recent predictions, optionally filtered by ticker.
func (s *SQLiteStore) GetRecentPredictions(ctx context.Context, ticker string, n int) ([]types.Prediction, error) {
	var rows *sql.Rows
	var err error
	if ticker == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT payload FROM predictions ORDER BY generated_at DESC LIMIT ?`, n)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT payload FROM predictions WHERE ticker=? ORDER BY generated_at DESC LIMIT ?`, ticker, n)
	}
	if err != nil {
		return nil, fmt.Errorf("get recent predictions: %w", err)
	}
	return s.scanPredictions(rows)
}

// UpdatePredictionStatus transitions a prediction's status.
func (s *SQLiteStore) UpdatePredictionStatus(ctx context.Context, id string, status types.PredictionStatus) error {
	var payload string
	if err := s.db.QueryRowContext(ctx, `SELECT payload FROM predictions WHERE id=?`, id).Scan(&payload); err != nil {
		return fmt.Errorf("prediction %s not found: %w", id, err)
	}
	var p types.Prediction
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return err
	}
	p.Status = status
	updated, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE predictions SET status=?, payload=? WHERE id=?`, string(status), string(updated), id)
	return err
}

// ExpireStalePredictions marks ACTIVE predictions generated before today as EXPIRED.
func (s *SQLiteStore) ExpireStalePredictions(ctx context.Context, today time.Time) (int, error) {
	active, err := s.GetActivePredictions(ctx, "")
	if err != nil {
		return 0, err
	}
	todayKey := today.Format("2006-01-02")
	count := 0
	for _, p := range active {
		if p.GeneratedAt.Format("2006-01-02") < todayKey {
			if err := s.UpdatePredictionStatus(ctx, p.ID, types.PredictionStatusExpired); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// InsertOutcome writes the Outcome row and transitions the Prediction to
// CLOSED within a single database transaction.
func (s *SQLiteStore) InsertOutcome(ctx context.Context, predictionID string, result types.OutcomeResult, pnl decimal.Decimal, closedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var payload string
	if err := tx.QueryRowContext(ctx, `SELECT payload FROM predictions WHERE id=?`, predictionID).Scan(&payload); err != nil {
		return fmt.Errorf("prediction %s not found: %w", predictionID, err)
	}
	var p types.Prediction
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return err
	}
	p.Status = types.PredictionStatusClosed
	updated, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE predictions SET status=?, payload=? WHERE id=?`,
		string(types.PredictionStatusClosed), string(updated), predictionID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outcomes (id, prediction_id, result, pnl, closed_at) VALUES (?,?,?,?,?)`,
		utils.GenerateOutcomeID(), predictionID, string(result), pnl.String(), closedAt.Unix()); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}

	return tx.Commit()
}

// OutcomesJoined returns Prediction+Outcome pairs for CLOSED predictions.
func (s *SQLiteStore) OutcomesJoined(ctx context.Context, ticker string, since time.Time) ([]JoinedOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.payload, o.id, o.prediction_id, o.result, o.pnl, o.closed_at
		 FROM outcomes o JOIN predictions p ON p.id = o.prediction_id
		 WHERE o.closed_at >= ? ORDER BY o.closed_at`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("outcomes joined: %w", err)
	}
	defer rows.Close()

	var out []JoinedOutcome
	for rows.Next() {
		var payload, outID, predID, result, pnl string
		var closedAt int64
		if err := rows.Scan(&payload, &outID, &predID, &result, &pnl, &closedAt); err != nil {
			return nil, err
		}
		var p types.Prediction
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, err
		}
		if ticker != "" && p.Ticker != ticker {
			continue
		}
		out = append(out, JoinedOutcome{
			Prediction: p,
			Outcome: types.Outcome{
				ID:           outID,
				PredictionID: predID,
				Result:       types.OutcomeResult(result),
				RealizedPnl:  decimal.RequireFromString(pnl),
				ClosedAt:     time.Unix(closedAt, 0).UTC(),
			},
		})
	}
	return out, rows.Err()
}

// UpsertActiveWeights replaces the active Weights row for w.Ticker, writing
// a ParameterDelta audit row in the same transaction when a previous row
// existed.
func (s *SQLiteStore) UpsertActiveWeights(ctx context.Context, w types.Weights) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if w.ID == "" {
		w.ID = utils.GenerateID("wt")
	}
	w.IsActive = true

	var oldPayload string
	existed := tx.QueryRowContext(ctx, `SELECT payload FROM weights WHERE ticker=?`, w.Ticker).Scan(&oldPayload) == nil

	newPayload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO weights (ticker, payload) VALUES (?,?)
		 ON CONFLICT(ticker) DO UPDATE SET payload=excluded.payload`,
		w.Ticker, string(newPayload)); err != nil {
		return fmt.Errorf("upsert weights: %w", err)
	}

	if existed {
		var old types.Weights
		if err := json.Unmarshal([]byte(oldPayload), &old); err != nil {
			return err
		}
		delta := types.ParameterDelta{
			ID:        utils.GenerateDeltaID(),
			WeightsID: w.ID,
			Ticker:    w.Ticker,
			OldGenes:  old,
			NewGenes:  w,
			Reason:    "optimizer-evolve",
			At:        w.LastUpdated,
		}
		payload, err := json.Marshal(delta)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO weights_deltas (id, ticker, payload, at) VALUES (?,?,?,?)`,
			delta.ID, delta.Ticker, string(payload), delta.At.Unix()); err != nil {
			return fmt.Errorf("insert delta: %w", err)
		}
	}

	return tx.Commit()
}

// GetActiveWeights returns the current active Weights row for ticker.
func (s *SQLiteStore) GetActiveWeights(ctx context.Context, ticker string) (types.Weights, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM weights WHERE ticker=?`, ticker).Scan(&payload)
	if err == sql.ErrNoRows {
		return types.Weights{}, false, nil
	}
	if err != nil {
		return types.Weights{}, false, fmt.Errorf("get active weights: %w", err)
	}
	var w types.Weights
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return types.Weights{}, false, err
	}
	return w, true, nil
}

// InsertBacktestResult appends an append-only backtest run record.
func (s *SQLiteStore) InsertBacktestResult(ctx context.Context, r types.BacktestResult) error {
	if r.ID == "" {
		r.ID = utils.GenerateID("bt")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal backtest result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backtest_results (id, ticker, payload, run_at) VALUES (?,?,?,?)`,
		r.ID, r.Ticker, string(payload), r.RunAt.Unix())
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Repository = (*SQLiteStore)(nil)
