// Package types provides shared domain type definitions for Aurora.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the directional bias of a recommendation or indicator.
type Direction string

const (
	DirectionCall    Direction = "CALL"
	DirectionPut     Direction = "PUT"
	DirectionNeutral Direction = "NEUTRAL"
)

// OptionType distinguishes calls from puts on a contract snapshot.
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// PredictionStatus is the lifecycle state of a Prediction.
type PredictionStatus string

const (
	PredictionStatusActive  PredictionStatus = "ACTIVE"
	PredictionStatusClosed  PredictionStatus = "CLOSED"
	PredictionStatusExpired PredictionStatus = "EXPIRED"
)

// OutcomeResult is the terminal grading result of a closed Prediction.
type OutcomeResult string

const (
	OutcomeWin  OutcomeResult = "WIN"
	OutcomeLoss OutcomeResult = "LOSS"
)

// Engine identifies which scoring engine produced a Prediction.
type Engine string

const (
	EngineTPOMIT       Engine = "TPO_MIT"
	EngineBlackScholes Engine = "BLACK_SCHOLES"
	EngineORBMomentum  Engine = "ORB_MOMENTUM"
)

// EntryPricingMode records how the contract entry premium was sourced.
type EntryPricingMode string

const (
	EntryPricingChainMid    EntryPricingMode = "chain_mid"
	EntryPricingFallbackPct EntryPricingMode = "fallback_pct"
)

// Candle is an immutable OHLCV bar for (ticker, timestamp, interval).
type Candle struct {
	Ticker    string          `json:"ticker"`
	Timestamp time.Time       `json:"timestamp"`
	Interval  string          `json:"interval"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Complete  bool            `json:"isComplete"`
}

// Valid reports whether the candle satisfies the OHLC/volume invariants.
func (c Candle) Valid() bool {
	if c.Volume.IsNegative() {
		return false
	}
	minOC := decimal.Min(c.Open, c.Close)
	maxOC := decimal.Max(c.Open, c.Close)
	return c.Low.LessThanOrEqual(minOC) && maxOC.LessThanOrEqual(c.High)
}

// Quote is a point-in-time bid/ask/last snapshot for a ticker.
type Quote struct {
	Ticker    string          `json:"ticker"`
	Timestamp time.Time       `json:"timestamp"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Size      decimal.Decimal `json:"size"`
}

// Valid reports whether bid <= ask when both are positive.
func (q Quote) Valid() bool {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.LessThanOrEqual(q.Ask)
	}
	return true
}

// OptionContract is an append-only snapshot of a single option contract.
type OptionContract struct {
	Ticker       string          `json:"ticker"`
	SnapshotTs   time.Time       `json:"snapshotTs"`
	Expiration   time.Time       `json:"expiration"`
	Strike       decimal.Decimal `json:"strike"`
	Type         OptionType      `json:"type"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	IV           *float64        `json:"iv,omitempty"`
	Delta        *float64        `json:"delta,omitempty"`
	Gamma        *float64        `json:"gamma,omitempty"`
	OpenInterest int64           `json:"openInterest,omitempty"`
	Volume       int64           `json:"volume,omitempty"`
}

// Mid returns the midpoint of bid/ask.
func (o OptionContract) Mid() decimal.Decimal {
	return o.Bid.Add(o.Ask).Div(decimal.NewFromInt(2))
}

// TPOImpulse is the directional read of a TPO profile's open/close skew.
type TPOImpulse string

const (
	TPOImpulseBullish TPOImpulse = "BULLISH"
	TPOImpulseBearish TPOImpulse = "BEARISH"
	TPOImpulseNeutral TPOImpulse = "NEUTRAL"
)

// TPOProfile is the derived Time-Price-Opportunity distribution for a window.
type TPOProfile struct {
	POC       decimal.Decimal            `json:"poc"`
	VAH       decimal.Decimal            `json:"vah"`
	VAL       decimal.Decimal            `json:"val"`
	Impulse   TPOImpulse                 `json:"impulse"`
	Histogram map[string]decimal.Decimal `json:"histogram"`
	TotalMass decimal.Decimal            `json:"totalMass"`
	RangeHigh decimal.Decimal            `json:"rangeHigh"`
	RangeLow  decimal.Decimal            `json:"rangeLow"`
}

// OpeningType classifies the first-N-minute auction behavior.
type OpeningType string

const (
	OpeningDrive            OpeningType = "DRIVE"
	OpeningTestDrive        OpeningType = "TEST_DRIVE"
	OpeningRejectionReverse OpeningType = "REJECTION_REVERSE"
	OpeningAuction          OpeningType = "AUCTION"
)

// InitialBalance is the price range set by the opening N minutes.
type InitialBalance struct {
	High        decimal.Decimal `json:"ibHigh"`
	Low         decimal.Decimal `json:"ibLow"`
	OpeningType OpeningType     `json:"openingType"`
}

// ORBLevels are the derived opening-range-breakout trade levels.
type ORBLevels struct {
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Mid         decimal.Decimal `json:"mid"`
	RangeSize   decimal.Decimal `json:"rangeSize"`
	BullTarget1 decimal.Decimal `json:"bullTarget1"`
	BullTarget2 decimal.Decimal `json:"bullTarget2"`
	BearTarget1 decimal.Decimal `json:"bearTarget1"`
	BearTarget2 decimal.Decimal `json:"bearTarget2"`
	LongStop    decimal.Decimal `json:"longStop"`
	ShortStop   decimal.Decimal `json:"shortStop"`
}

// TechnicalSnapshot bundles nullable-numeric technical readings.
// A nil pointer signals insufficient history for that field.
type TechnicalSnapshot struct {
	RSI14     *float64 `json:"rsi14,omitempty"`
	RSI5      *float64 `json:"rsi5,omitempty"`
	SMA9      *float64 `json:"sma9,omitempty"`
	SMA20     *float64 `json:"sma20,omitempty"`
	VWAP      *float64 `json:"vwap,omitempty"`
	BollUpper *float64 `json:"bollUpper,omitempty"`
	BollLower *float64 `json:"bollLower,omitempty"`
	ATR       *float64 `json:"atr,omitempty"`
}

// Weights (a.k.a. Genes) are the fuser's per-ticker confidence parameters.
type Weights struct {
	ID              string          `json:"id,omitempty"`
	Ticker          string          `json:"ticker"`
	TPO             decimal.Decimal `json:"tpo"`
	RSI             decimal.Decimal `json:"rsi"`
	IB              decimal.Decimal `json:"ib"`
	CVD             decimal.Decimal `json:"cvd"`
	VWAP            decimal.Decimal `json:"vwap"`
	MinConfidence   decimal.Decimal `json:"minConfidence"`
	ORBBreakoutMult decimal.Decimal `json:"orbBreakoutMult"`
	StopLossMult    decimal.Decimal `json:"stopLossMult"`
	TargetMult      decimal.Decimal `json:"targetMult"`
	WinRate         decimal.Decimal `json:"winRate"`
	IsActive        bool            `json:"isActive"`
	LastUpdated     time.Time       `json:"lastUpdated"`
}

// DefaultWeights returns the documented default gene set for a ticker.
func DefaultWeights(ticker string) Weights {
	return Weights{
		Ticker:          ticker,
		TPO:             decimal.NewFromFloat(0.30),
		RSI:             decimal.NewFromFloat(0.25),
		IB:              decimal.NewFromFloat(0.20),
		CVD:             decimal.NewFromFloat(0.15),
		VWAP:            decimal.NewFromFloat(0.10),
		MinConfidence:   decimal.NewFromInt(60),
		ORBBreakoutMult: decimal.NewFromFloat(1.0),
		StopLossMult:    decimal.NewFromFloat(0.5),
		TargetMult:      decimal.NewFromFloat(2.0),
		IsActive:        true,
		LastUpdated:     time.Time{},
	}
}

// TradePlan is an entry/stop/target triple with its risk/reward ratio.
// Stock-level plans hold underlier prices; once overlaid by the Risk
// Projector the same struct holds option-contract premiums.
type TradePlan struct {
	Entry      decimal.Decimal `json:"entry"`
	Stop       decimal.Decimal `json:"stop"`
	Target     decimal.Decimal `json:"target"`
	RiskReward decimal.Decimal `json:"riskRewardRatio"`
}

// Reasoning is a tagged variant describing why a Prediction fired, with an
// explicit schema per engine plus a free-form component-score map.
type Reasoning struct {
	Engine          Engine                 `json:"engine"`
	TPO             *TPOReasoning          `json:"tpo,omitempty"`
	BlackScholes    *BlackScholesReasoning `json:"blackScholes,omitempty"`
	ORB             *ORBReasoning          `json:"orb,omitempty"`
	ComponentScores map[string]float64     `json:"componentScores"`
}

// TPOReasoning captures the TPO+MIT engine's decisive readings.
type TPOReasoning struct {
	TPOBias      Direction `json:"tpoBias"`
	RSIBias      Direction `json:"rsiBias"`
	IBBreakout   bool      `json:"ibBreakout"`
	CVDDivergent bool      `json:"cvdDivergent"`
	NearVWAP     bool      `json:"nearVwap"`
}

// BlackScholesReasoning captures the pre-market engine's decisive readings.
type BlackScholesReasoning struct {
	Bias         Direction `json:"bias"`
	Moneyness    float64   `json:"moneyness"`
	Sigma        float64   `json:"sigma"`
	ExpectedMove float64   `json:"expectedMove"`
}

// ORBReasoning captures the opening-range engine's decisive readings.
type ORBReasoning struct {
	BreakoutSide     Direction `json:"breakoutSide"`
	BreakoutStrength float64   `json:"breakoutStrength"`
}

// Prediction is a single directional options recommendation with a trade plan.
type Prediction struct {
	ID               string           `json:"id"`
	Ticker           string           `json:"ticker"`
	Category         string           `json:"category"`
	Direction        Direction        `json:"direction"`
	Strike           decimal.Decimal  `json:"strike"`
	EntryPricingMode EntryPricingMode `json:"entryPricingMode"`
	Confidence       decimal.Decimal  `json:"confidence"`
	Session          string           `json:"session"`
	Engine           Engine           `json:"engine"`
	Reasoning        Reasoning        `json:"reasoning"`
	Status           PredictionStatus `json:"status"`
	GeneratedAt      time.Time        `json:"generatedAt"`
	ExpiresAt        *time.Time       `json:"expiresAt,omitempty"`
	TradePlan        TradePlan        `json:"tradePlan"`

	// EntryStock is the underlier price at generation time; the Grader
	// needs it to re-derive current premium without live greeks.
	EntryStock decimal.Decimal `json:"entryStock"`
}

// Outcome is the one-to-one terminal result of a CLOSED prediction.
type Outcome struct {
	ID           string          `json:"id"`
	PredictionID string          `json:"predictionId"`
	Result       OutcomeResult   `json:"result"`
	RealizedPnl  decimal.Decimal `json:"realizedPnl"`
	ClosedAt     time.Time       `json:"closedAt"`
}

// ParameterDelta is an append-only audit row for a Weights change.
type ParameterDelta struct {
	ID        string    `json:"id"`
	WeightsID string    `json:"weightsId"`
	Ticker    string    `json:"ticker"`
	OldGenes  Weights   `json:"oldGenes"`
	NewGenes  Weights   `json:"newGenes"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// MonteCarloRobustness is an optional bootstrap-resampling robustness read
// attached to a BacktestResult.
type MonteCarloRobustness struct {
	Iterations      int             `json:"iterations"`
	P5Return        decimal.Decimal `json:"p5Return"`
	P95Return       decimal.Decimal `json:"p95Return"`
	ProbabilityRuin decimal.Decimal `json:"probabilityRuin"`
}

// BacktestResult is an append-only record of a single replay run.
type BacktestResult struct {
	ID            string                `json:"id"`
	Ticker        string                `json:"ticker"`
	StrategyName  string                `json:"strategyName"`
	TimeRangeFrom time.Time             `json:"timeRangeFrom"`
	TimeRangeTo   time.Time             `json:"timeRangeTo"`
	TotalTrades   int                   `json:"totalTrades"`
	Wins          int                   `json:"wins"`
	Losses        int                   `json:"losses"`
	WinRate       decimal.Decimal       `json:"winRate"`
	ProfitFactor  decimal.Decimal       `json:"profitFactor"`
	MaxDrawdown   decimal.Decimal       `json:"maxDrawdown"`
	SharpeRatio   decimal.Decimal       `json:"sharpeRatio"`
	RunAt         time.Time             `json:"runAt"`
	Robustness    *MonteCarloRobustness `json:"robustness,omitempty"`
}
