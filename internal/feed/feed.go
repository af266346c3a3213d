// Package feed adapts an external options-data vendor (or, for replay, the
// local store) to Aurora's internal candle/quote/chain shapes. Grounded on
// the teacher's MarketDataService's REST side: every call is a direct,
// retried REST round trip (there is no price cache or background loop),
// degrading to an empty result rather than propagating an error through the
// scheduler boundary.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/pkg/calendar"
	"github.com/atlas-desktop/aurora/pkg/types"
	"github.com/atlas-desktop/aurora/pkg/utils"
)

// MarketFeed is the read-only contract the rest of Aurora depends on.
// Implementations must never propagate transient errors to callers: every
// method degrades to an empty/false result and logs instead.
type MarketFeed interface {
	Quote(ctx context.Context, ticker string) (types.Quote, bool)
	Quotes(ctx context.Context, tickers []string) []types.Quote
	IntradayCandles(ctx context.Context, ticker, interval string) []types.Candle
	HistoricalCandles(ctx context.Context, ticker, interval string, start, end time.Time) []types.Candle
	OptionExpirations(ctx context.Context, ticker string) []time.Time
	OptionChain(ctx context.Context, ticker string, expiration time.Time) []types.OptionContract
}

// Config configures a VendorFeed.
type Config struct {
	BaseURL    string
	Token      string
	CallTimeout time.Duration
}

// DefaultConfig returns the documented 10s per-call timeout default.
func DefaultConfig() Config {
	return Config{CallTimeout: 10 * time.Second}
}

// VendorFeed implements MarketFeed against a generic REST options-data
// vendor. Every round trip is wrapped in a bounded context timeout; any
// failure (network, non-2xx, malformed payload, deadline) logs at Warn and
// degrades to empty rather than returning an error.
type VendorFeed struct {
	cfg    Config
	client *http.Client
	cal    *calendar.Calendar
	logger *zap.Logger
}

// NewVendorFeed builds a VendorFeed. cal is used to session-filter intraday
// candles to regular-hours ticks.
func NewVendorFeed(cfg Config, cal *calendar.Calendar, logger *zap.Logger) *VendorFeed {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	return &VendorFeed{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.CallTimeout},
		cal:    cal,
		logger: logger.Named("feed"),
	}
}

func (f *VendorFeed) timeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.cfg.CallTimeout)
}

// get issues a GET and decodes the JSON body into out, retrying with
// backoff (DefaultRetryConfig) before degrading to false.
func (f *VendorFeed) get(ctx context.Context, path string, out any) bool {
	_, err := utils.Retry(utils.DefaultRetryConfig(), func() (struct{}, error) {
		return struct{}{}, f.getOnce(ctx, path, out)
	})
	return err == nil
}

func (f *VendorFeed) getOnce(ctx context.Context, path string, out any) error {
	ctx, cancel := f.timeoutCtx(ctx)
	defer cancel()

	url := fmt.Sprintf("%s%s", f.cfg.BaseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.logger.Warn("build request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	if f.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.Token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("vendor call failed", zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("vendor call non-2xx", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("vendor call %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		f.logger.Warn("vendor payload malformed", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

// Quote fetches a single current quote for ticker.
func (f *VendorFeed) Quote(ctx context.Context, ticker string) (types.Quote, bool) {
	ticker = utils.FormatTicker(ticker)
	var q types.Quote
	if !f.get(ctx, "/v1/quote/"+ticker, &q) {
		return types.Quote{}, false
	}
	return q, true
}

// Quotes batch-fetches quotes, degrading per-ticker rather than failing the
// whole batch.
func (f *VendorFeed) Quotes(ctx context.Context, tickers []string) []types.Quote {
	quotes := make([]types.Quote, 0, len(tickers))
	for _, t := range tickers {
		if q, ok := f.Quote(ctx, t); ok {
			quotes = append(quotes, q)
		}
	}
	return quotes
}

// IntradayCandles fetches today's candles at interval, filtered to trading
// hours via the injected Calendar.
func (f *VendorFeed) IntradayCandles(ctx context.Context, ticker, interval string) []types.Candle {
	var candles []types.Candle
	path := fmt.Sprintf("/v1/candles/%s?interval=%s&range=intraday", ticker, interval)
	if !f.get(ctx, path, &candles) {
		return nil
	}
	return f.filterRegularHours(candles)
}

func (f *VendorFeed) filterRegularHours(candles []types.Candle) []types.Candle {
	if f.cal == nil {
		return candles
	}
	filtered := make([]types.Candle, 0, len(candles))
	for _, c := range candles {
		if f.cal.Session(c.Timestamp).IsRegularHours() {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// HistoricalCandles fetches candles for [start, end] at interval.
func (f *VendorFeed) HistoricalCandles(ctx context.Context, ticker, interval string, start, end time.Time) []types.Candle {
	var candles []types.Candle
	path := fmt.Sprintf("/v1/candles/%s?interval=%s&start=%s&end=%s",
		ticker, interval, start.Format(time.RFC3339), end.Format(time.RFC3339))
	if !f.get(ctx, path, &candles) {
		return nil
	}
	return candles
}

// OptionExpirations lists available expirations for ticker.
func (f *VendorFeed) OptionExpirations(ctx context.Context, ticker string) []time.Time {
	var dates []time.Time
	if !f.get(ctx, "/v1/options/"+ticker+"/expirations", &dates) {
		return nil
	}
	return dates
}

// OptionChain fetches the option chain for ticker at expiration.
func (f *VendorFeed) OptionChain(ctx context.Context, ticker string, expiration time.Time) []types.OptionContract {
	var chain []types.OptionContract
	path := fmt.Sprintf("/v1/options/%s/chain?expiration=%s", ticker, expiration.Format("2006-01-02"))
	if !f.get(ctx, path, &chain) {
		return nil
	}
	return chain
}
