package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/aurora/pkg/types"
)

func candle(o, h, l, c, v float64) types.Candle {
	return types.Candle{
		Timestamp: time.Now(),
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(v),
		Complete:  true,
	}
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	got, ok := RSI(closes, 14)
	if !ok {
		t.Fatal("expected ok")
	}
	if got != 100 {
		t.Errorf("RSI(all gains) = %v, want 100", got)
	}
}

func TestRSIInsufficientHistory(t *testing.T) {
	if _, ok := RSI([]float64{1, 2, 3}, 14); ok {
		t.Error("expected RSI to report not-ok with fewer than period+1 closes")
	}
}

func TestATRInsufficientHistory(t *testing.T) {
	candles := []types.Candle{candle(1, 2, 1, 1.5, 100)}
	if _, ok := ATR(candles, 14); ok {
		t.Error("expected ATR to report not-ok with fewer than period+1 candles")
	}
}

func TestATRConstantRangeMatchesTrueRange(t *testing.T) {
	candles := make([]types.Candle, 0, 15)
	for i := 0; i < 15; i++ {
		candles = append(candles, candle(10, 11, 9, 10, 1000))
	}
	atr, ok := ATR(candles, 14)
	if !ok {
		t.Fatal("expected ok")
	}
	if atr != 2 {
		t.Errorf("ATR(constant 2-wide range) = %v, want 2", atr)
	}
}

func TestORBLevelsSymmetry(t *testing.T) {
	candles := []types.Candle{
		candle(100, 102, 99, 101, 1000),
		candle(101, 103, 100, 102, 1000),
	}
	levels, ok := ORBLevels(candles, 2)
	if !ok {
		t.Fatal("expected ok")
	}
	if !levels.High.Equal(decimal.NewFromFloat(103)) {
		t.Errorf("High = %v, want 103", levels.High)
	}
	if !levels.Low.Equal(decimal.NewFromFloat(99)) {
		t.Errorf("Low = %v, want 99", levels.Low)
	}
	wantMid := decimal.NewFromFloat(101)
	if !levels.Mid.Equal(wantMid) {
		t.Errorf("Mid = %v, want %v", levels.Mid, wantMid)
	}
	if !levels.BullTarget1.Equal(levels.High.Add(levels.RangeSize)) {
		t.Error("BullTarget1 should be High + RangeSize")
	}
}

func TestORBLevelsInsufficientHistory(t *testing.T) {
	if _, ok := ORBLevels([]types.Candle{candle(1, 2, 1, 1.5, 100)}, 5); ok {
		t.Error("expected not-ok with fewer candles than the duration")
	}
}

func TestCVDDivergenceFlagsOppositeSign(t *testing.T) {
	// Price rises every candle, but every candle closes at its low (all
	// selling volume) — cumulative flow should be negative while price
	// climbs, which is the documented divergent case.
	candles := []types.Candle{
		candle(10, 11, 9, 9, 100),
		candle(11, 12, 10, 10, 100),
		candle(12, 13, 11, 11, 100),
	}
	_, cumulative, divergent := CVD(candles)
	if cumulative >= 0 {
		t.Errorf("expected negative cumulative flow, got %v", cumulative)
	}
	if !divergent {
		t.Error("expected divergence: price up, flow down")
	}
}

func TestBuildTPOProfileEmptyCandles(t *testing.T) {
	if _, ok := BuildTPOProfile(nil, decimal.Zero, decimal.Zero); ok {
		t.Error("expected not-ok for empty candle slice")
	}
}

func TestBuildTPOProfilePOCWithinRange(t *testing.T) {
	candles := []types.Candle{
		candle(100, 101, 99, 100, 500),
		candle(100, 102, 100, 101, 500),
		candle(101, 103, 101, 102, 500),
	}
	profile, ok := BuildTPOProfile(candles, decimal.NewFromFloat(1), decimal.NewFromFloat(0.7))
	if !ok {
		t.Fatal("expected ok")
	}
	if profile.POC.LessThan(profile.RangeLow) || profile.POC.GreaterThan(profile.RangeHigh) {
		t.Errorf("POC %v outside range [%v, %v]", profile.POC, profile.RangeLow, profile.RangeHigh)
	}
	if profile.VAH.LessThan(profile.VAL) {
		t.Error("VAH should never be below VAL")
	}
}

func TestBlackScholesCallPriceIncreasesWithVol(t *testing.T) {
	low := BlackScholes(true, 100, 100, 0.1, 0.01, 0.1)
	high := BlackScholes(true, 100, 100, 0.1, 0.01, 0.5)
	if high.Price <= low.Price {
		t.Errorf("expected higher implied vol to raise ATM call price: low=%v high=%v", low.Price, high.Price)
	}
}

func TestExpectedMoveScalesWithVolAndTime(t *testing.T) {
	shortMove := ExpectedMove(100, 0.2, 1.0/365)
	longMove := ExpectedMove(100, 0.2, 30.0/365)
	if longMove <= shortMove {
		t.Errorf("expected longer-dated move to be larger: short=%v long=%v", shortMove, longMove)
	}
}
