package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeCapsNotionalAtEquityLimit(t *testing.T) {
	// 风险额 200,止损距离 1% → 理论名义 20000,
	// 但 5% * 20x = 10000 封顶,数量 10000/50000 = 0.2。
	got := Size(SizeParams{
		Equity:   10000,
		Entry:    50000,
		StopLoss: 49500,
		RiskPct:  2,
		MaxPct:   5,
		Leverage: 20,
	})
	assert.InDelta(t, 0.2, got.Qty, 1e-9)
	assert.InDelta(t, 10000, got.Notional, 1e-9)
	assert.InDelta(t, 500, got.Margin, 1e-9)
	assert.True(t, got.Capped)
}

func TestSizeUncapped(t *testing.T) {
	// 止损距离 5%,风险额 200 → 名义 4000,低于上限 10000。
	got := Size(SizeParams{
		Equity:   10000,
		Entry:    100,
		StopLoss: 95,
		RiskPct:  2,
		MaxPct:   5,
		Leverage: 20,
	})
	assert.InDelta(t, 40, got.Qty, 1e-9)
	assert.InDelta(t, 4000, got.Notional, 1e-9)
	assert.InDelta(t, 200, got.Margin, 1e-9)
	assert.False(t, got.Capped)
}

func TestSizeShortUsesAbsoluteDistance(t *testing.T) {
	long := Size(SizeParams{Equity: 10000, Entry: 100, StopLoss: 95, RiskPct: 2, MaxPct: 5, Leverage: 20})
	short := Size(SizeParams{Equity: 10000, Entry: 100, StopLoss: 105, RiskPct: 2, MaxPct: 5, Leverage: 20})
	assert.Equal(t, long.Qty, short.Qty)
}

func TestSizeRejectsDegenerateStop(t *testing.T) {
	got := Size(SizeParams{
		Equity:   10000,
		Entry:    100,
		StopLoss: 100,
		RiskPct:  2,
		MaxPct:   5,
		Leverage: 20,
	})
	assert.Zero(t, got.Qty)
	assert.Zero(t, got.Notional)
}

func TestSizeRejectsInvalidInputs(t *testing.T) {
	assert.Zero(t, Size(SizeParams{Equity: 0, Entry: 100, StopLoss: 95, RiskPct: 2, MaxPct: 5, Leverage: 20}).Qty)
	assert.Zero(t, Size(SizeParams{Equity: 10000, Entry: 0, StopLoss: 95, RiskPct: 2, MaxPct: 5, Leverage: 20}).Qty)
	assert.Zero(t, Size(SizeParams{Equity: 10000, Entry: 100, StopLoss: 95, RiskPct: 2, MaxPct: 5, Leverage: 0}).Qty)
}
