// Package scheduler runs Aurora's single process-wide daemon loop: the 30s
// tick that drives the Feed, the Fuser, and (once a minute) the Grader.
// Grounded on the teacher's internal/orchestrator.TradingOrchestrator for
// the idempotent Start/Stop lifecycle, and internal/workers.Pool for the
// per-tick ticker fan-out.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/internal/events"
	"github.com/atlas-desktop/aurora/internal/feed"
	"github.com/atlas-desktop/aurora/internal/fuser"
	"github.com/atlas-desktop/aurora/internal/grader"
	"github.com/atlas-desktop/aurora/internal/risk"
	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/internal/workers"
	"github.com/atlas-desktop/aurora/pkg/calendar"
	"github.com/atlas-desktop/aurora/pkg/types"
)

// Config tunes the Scheduler's ticker universe and cadence.
type Config struct {
	// Tickers is the Phase-1 default universe, active every trading day.
	Tickers []string
	// FridayOnlyTickers trade only on Fridays (weekly 0DTE names), gated by
	// calendar.IsFriday.
	FridayOnlyTickers []string

	TickInterval  time.Duration // default 30s
	GradeEveryN   int           // grade on every Nth tick; default 2 (30s*2=1min)
	IntradayInterval string     // candle interval fetched on each tick; default "1m"
}

// DefaultConfig returns the documented cadence: 30s ticks, grading once a
// minute via a tick counter rather than a second timer.
func DefaultConfig() Config {
	return Config{
		TickInterval:     30 * time.Second,
		GradeEveryN:      2,
		IntradayInterval: "1m",
	}
}

// Scheduler is Aurora's single daemon loop.
type Scheduler struct {
	cfg      Config
	cal      *calendar.Calendar
	feed     feed.MarketFeed
	fuser    *fuser.Fuser
	riskCfg  risk.Config
	repo     store.Repository
	grader   *grader.Grader
	pool     *workers.Pool
	batcher  *workers.BatchProcessor
	eventBus *events.EventBus
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	tickCount int

	lastSession map[string]calendar.SessionTag
}

// New builds a Scheduler. pool is started and stopped alongside the
// Scheduler's own lifecycle.
func New(cfg Config, cal *calendar.Calendar, f feed.MarketFeed, fs *fuser.Fuser, riskCfg risk.Config, repo store.Repository, g *grader.Grader, pool *workers.Pool, eventBus *events.EventBus, logger *zap.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.GradeEveryN <= 0 {
		cfg.GradeEveryN = DefaultConfig().GradeEveryN
	}
	if cfg.IntradayInterval == "" {
		cfg.IntradayInterval = DefaultConfig().IntradayInterval
	}
	return &Scheduler{
		cfg:         cfg,
		cal:         cal,
		feed:        f,
		fuser:       fs,
		riskCfg:     riskCfg,
		repo:        repo,
		grader:      g,
		pool:        pool,
		batcher:     workers.NewBatchProcessor(pool, tickerBatchSize),
		eventBus:    eventBus,
		logger:      logger.Named("scheduler"),
		lastSession: make(map[string]calendar.SessionTag),
	}
}

// tickerBatchSize caps how many tickers the pool fans out at once per tick;
// the Phase-1 universe (§4.G) is small enough that one batch covers it.
const tickerBatchSize = 16

// Start is idempotent: a second call while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	today := time.Now()
	if expired, err := s.repo.ExpireStalePredictions(ctx, today); err != nil {
		s.logger.Warn("expire stale predictions failed", zap.Error(err))
	} else if expired > 0 {
		s.logger.Info("expired stale predictions", zap.Int("count", expired))
	}

	s.pool.Start()

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("scheduler started", zap.Duration("tickInterval", s.cfg.TickInterval))
	return nil
}

// Stop is idempotent and blocks until the tick loop and worker pool drain.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	if err := s.pool.Stop(); err != nil {
		return fmt.Errorf("stop worker pool: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickCount++
			if err := s.tick(ctx); err != nil {
				s.logger.Warn("tick failed", zap.Error(err))
			}
			if s.tickCount%s.cfg.GradeEveryN == 0 {
				if summary, err := s.grader.GradeOpen(ctx); err != nil {
					s.logger.Warn("grade open failed", zap.Error(err))
				} else if summary.Graded > 0 {
					s.logger.Info("graded predictions",
						zap.Int("graded", summary.Graded),
						zap.Int("wins", summary.Wins),
						zap.Int("losses", summary.Losses),
					)
				}
			}
		}
	}
}

// activeTickers resolves the Phase-1 universe per §4.G step 2: the default
// set every trading day, plus the Friday-only set gated on calendar.IsFriday.
func (s *Scheduler) activeTickers(now time.Time) []string {
	tickers := append([]string{}, s.cfg.Tickers...)
	if s.cal.IsFriday(now) {
		tickers = append(tickers, s.cfg.FridayOnlyTickers...)
	}
	return tickers
}

// tick implements the §4.G 5-step algorithm (grading is step 5, driven
// separately by the tick counter in run).
func (s *Scheduler) tick(ctx context.Context) error {
	now := time.Now()

	globalSession := s.cal.Session(now)
	if globalSession == calendar.SessionClosed {
		s.logger.Debug("market closed, skipping tick")
		return nil
	}

	tickers := s.activeTickers(now)
	if len(tickers) == 0 {
		return nil
	}

	quotes := s.feed.Quotes(ctx, tickers)
	quoteByTicker := make(map[string]types.Quote, len(quotes))
	for _, q := range quotes {
		quoteByTicker[q.Ticker] = q
	}

	items := make([]interface{}, len(tickers))
	for i, t := range tickers {
		items[i] = t
	}

	err := s.batcher.ProcessBatch(items, func(item interface{}) error {
		ticker := item.(string)
		quote, hasQuote := quoteByTicker[ticker]
		s.processTicker(ctx, ticker, globalSession, quote, hasQuote)
		return nil
	})
	if err != nil {
		s.logger.Warn("ticker batch had errors", zap.Error(err))
	}

	return nil
}

// processTicker runs one ticker's fetch -> persist -> fuse -> overlay ->
// persist chain sequentially, per §4.G steps 3-4.
func (s *Scheduler) processTicker(ctx context.Context, ticker string, session calendar.SessionTag, quote types.Quote, hasQuote bool) {
	if !hasQuote || !quote.Last.IsPositive() {
		return
	}
	if err := s.repo.SaveQuote(ctx, quote); err != nil {
		s.logger.Warn("save quote failed", zap.String("ticker", ticker), zap.Error(err))
	}

	s.announceSessionChange(ticker, session)

	if !session.IsRegularHours() && session != calendar.SessionPreMarket {
		return
	}

	candles := s.feed.IntradayCandles(ctx, ticker, s.cfg.IntradayInterval)
	if len(candles) > 0 {
		if err := s.repo.SaveCandles(ctx, candles); err != nil {
			s.logger.Warn("save candles failed", zap.String("ticker", ticker), zap.Error(err))
		}
	}
	if len(candles) == 0 {
		return
	}

	expirations := s.feed.OptionExpirations(ctx, ticker)
	expiration, ok := resolve0DTEExpiration(expirations, time.Now())
	if !ok {
		return
	}
	chain := s.feed.OptionChain(ctx, ticker, expiration)
	if len(chain) > 0 {
		if err := s.repo.SaveOptionChain(ctx, chain); err != nil {
			s.logger.Warn("save option chain failed", zap.String("ticker", ticker), zap.Error(err))
		}
	}

	bias := s.preMarketBias(candles)
	pred, ok := s.fuser.Evaluate(ctx, ticker, session, candles, chain, bias)
	if !ok {
		return
	}

	dup, err := s.hasActivePrediction(ctx, ticker, pred.Direction, pred.Engine)
	if err != nil {
		s.logger.Warn("duplicate check failed", zap.String("ticker", ticker), zap.Error(err))
		return
	}
	if dup {
		return
	}

	s.overlayContractPlan(pred, chain, expiration)

	id, err := s.repo.InsertPrediction(ctx, *pred)
	if err != nil {
		s.logger.Warn("insert prediction failed", zap.String("ticker", ticker), zap.Error(err))
		return
	}
	pred.ID = id

	if s.eventBus != nil {
		s.eventBus.Publish(events.NewPredictionCreatedEvent(*pred))
	}
	s.logger.Info("prediction generated",
		zap.String("ticker", ticker),
		zap.String("direction", string(pred.Direction)),
		zap.String("engine", string(pred.Engine)),
	)
}

// hasActivePrediction enforces the §4.G duplicate-suppression rule: keyed
// by (ticker, direction, engine), not by ticker alone.
func (s *Scheduler) hasActivePrediction(ctx context.Context, ticker string, direction types.Direction, engine types.Engine) (bool, error) {
	active, err := s.repo.GetActivePredictions(ctx, ticker)
	if err != nil {
		return false, err
	}
	for _, p := range active {
		if p.Direction == direction && p.Engine == engine {
			return true, nil
		}
	}
	return false, nil
}

// overlayContractPlan resolves the nearest strike in chain and replaces
// pred's stock-level TradePlan with the Risk Projector's contract-premium
// plan, per §4.D. If no contract is found the stock-level plan (already
// tagged fallback_pct by the Fuser) is left as-is.
func (s *Scheduler) overlayContractPlan(pred *types.Prediction, chain []types.OptionContract, expiration time.Time) {
	optType := types.OptionTypeCall
	if pred.Direction == types.DirectionPut {
		optType = types.OptionTypePut
	}

	var best types.OptionContract
	bestDist := decimal.Decimal{}
	found := false
	for _, c := range chain {
		if c.Type != optType {
			continue
		}
		dist := c.Strike.Sub(pred.Strike).Abs()
		if !found || dist.LessThan(bestDist) {
			best = c
			bestDist = dist
			found = true
		}
	}
	if !found {
		return
	}

	stockLevels := risk.StockLevels{Entry: pred.TradePlan.Entry, Stop: pred.TradePlan.Stop, Target: pred.TradePlan.Target}
	var greeks *risk.Greeks
	if best.Delta != nil {
		g := risk.Greeks{Delta: *best.Delta}
		if best.Gamma != nil {
			g.Gamma = *best.Gamma
		}
		greeks = &g
	}

	pred.TradePlan = risk.Project(stockLevels, greeks, best.Mid(), s.riskCfg)
	exp := expiration
	pred.ExpiresAt = &exp
}

// resolve0DTEExpiration picks today's expiration if the vendor lists one,
// otherwise the earliest future expiration. Reports false when no
// expiration on or after now exists.
func resolve0DTEExpiration(expirations []time.Time, now time.Time) (time.Time, bool) {
	if len(expirations) == 0 {
		return time.Time{}, false
	}
	sorted := append([]time.Time{}, expirations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	today := now.Format("2006-01-02")
	for _, e := range sorted {
		if e.Format("2006-01-02") == today {
			return e, true
		}
	}
	for _, e := range sorted {
		if !e.Before(now) {
			return e, true
		}
	}
	return time.Time{}, false
}

// preMarketBias reads a simple close-over-close trend off the supplied
// candles as the externally-supplied directional read the Black-Scholes
// engine gates on. Aurora has no separate pre-market sentiment feed; the
// candle trend is the only signal available at that hour.
func (s *Scheduler) preMarketBias(candles []types.Candle) fuser.PreMarketBias {
	if len(candles) < 2 {
		return fuser.BiasNeutral
	}
	first := candles[0].Close
	last := candles[len(candles)-1].Close
	switch {
	case last.GreaterThan(first):
		return fuser.BiasBullish
	case last.LessThan(first):
		return fuser.BiasBearish
	default:
		return fuser.BiasNeutral
	}
}

// announceSessionChange publishes a SessionChangedEvent the first time a
// ticker is observed transitioning into a new session tag.
func (s *Scheduler) announceSessionChange(ticker string, session calendar.SessionTag) {
	s.mu.Lock()
	prev, seen := s.lastSession[ticker]
	s.lastSession[ticker] = session
	s.mu.Unlock()

	if seen && prev == session {
		return
	}
	if s.eventBus != nil {
		s.eventBus.Publish(events.NewSessionChangedEvent(ticker, prev, session))
	}
}

