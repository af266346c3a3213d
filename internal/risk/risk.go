// Package risk converts stock-price trade levels and greeks into an
// option-contract trade plan. It is the only place in Aurora allowed to
// perform that conversion; every other component treats trade-plan numbers
// as option-premium prices already.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/aurora/pkg/types"
)

// Config holds the Risk Projector's fallback parameters, used when greeks
// are unavailable for a contract.
type Config struct {
	DefaultStopPct    decimal.Decimal
	DefaultTargetMult decimal.Decimal
	ATRFallback       decimal.Decimal
}

// DefaultRiskConfig returns the documented default risk parameters.
func DefaultRiskConfig() Config {
	return Config{
		DefaultStopPct:    decimal.NewFromFloat(0.5),
		DefaultTargetMult: decimal.NewFromFloat(2.0),
		ATRFallback:       decimal.NewFromFloat(2.0),
	}
}

// StockLevels are the underlier-price entry/stop/target derived by an
// engine in internal/indicators or internal/fuser.
type StockLevels struct {
	Entry decimal.Decimal
	Stop  decimal.Decimal
	Target decimal.Decimal
}

// Greeks is the subset of option greeks the projector needs.
type Greeks struct {
	Delta float64
	Gamma float64
}

var minPremium = decimal.NewFromFloat(0.05)

// Project converts stock-price levels into an option-contract TradePlan.
// When greeks is nil it falls back to the percentage rule; otherwise it
// uses delta projection floored at 0.05.
func Project(levels StockLevels, greeks *Greeks, midNow decimal.Decimal, cfg Config) types.TradePlan {
	var stop, target decimal.Decimal

	if greeks == nil {
		stop = midNow.Mul(decimal.NewFromInt(1).Sub(cfg.DefaultStopPct))
		target = midNow.Mul(cfg.DefaultTargetMult)
	} else {
		absDelta := decimal.NewFromFloat(greeks.Delta).Abs()
		stopDist := levels.Entry.Sub(levels.Stop).Abs()
		targetDist := levels.Target.Sub(levels.Entry).Abs()

		stop = decimal.Max(minPremium, midNow.Sub(stopDist.Mul(absDelta)))
		target = decimal.Max(minPremium, midNow.Add(targetDist.Mul(absDelta)))
	}

	riskReward := decimal.Zero
	denom := midNow.Sub(stop)
	if denom.IsPositive() {
		riskReward = target.Sub(midNow).Div(denom)
	}

	return types.TradePlan{
		Entry:      midNow,
		Stop:       stop,
		Target:     target,
		RiskReward: riskReward,
	}
}
