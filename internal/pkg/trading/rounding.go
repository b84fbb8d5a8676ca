// Package trading provides order quantity/price calculation utilities.
package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// RoundQtyToStep 把数量按交易所的最小步长向下取整。
// 浮点除法直接取整会因 0.1+0.2 类误差丢掉一档，这里走 decimal。
func RoundQtyToStep(qty, step float64) float64 {
	if qty <= 0 {
		return 0
	}
	if step <= 0 {
		return qty
	}
	q := decFromFloat(qty)
	s := decFromFloat(step)
	steps := q.Div(s).Floor()
	return decToFloat(steps.Mul(s))
}

// RoundPriceToTick 把价格对齐到最近的 tick。
func RoundPriceToTick(price, tick float64) float64 {
	if price <= 0 {
		return 0
	}
	if tick <= 0 {
		return price
	}
	p := decFromFloat(price)
	t := decFromFloat(tick)
	ticks := p.Div(t).Round(0)
	return decToFloat(ticks.Mul(t))
}

// Notional 返回订单名义价值。
func Notional(qty, price float64) float64 {
	return decToFloat(decFromFloat(qty).Mul(decFromFloat(price)))
}

// FormatQty 返回按步长取整后、精度与步长一致的字符串,直接可提交下单接口。
func FormatQty(qty, step float64) string {
	rounded := RoundQtyToStep(qty, step)
	return decimal.NewFromFloat(rounded).StringFixed(stepPrecision(step))
}

// FormatPrice 返回对齐 tick 后的价格字符串。
func FormatPrice(price, tick float64) string {
	rounded := RoundPriceToTick(price, tick)
	return decimal.NewFromFloat(rounded).StringFixed(stepPrecision(tick))
}

func stepPrecision(step float64) int32 {
	if step <= 0 {
		return 8
	}
	prec := -decFromFloat(step).Exponent()
	if prec < 0 {
		prec = 0
	}
	return prec
}

// SplitQty 把数量按一半拆成两腿，两腿之和等于步长取整后的原数量。
func SplitQty(qty, step float64) (float64, float64) {
	total := RoundQtyToStep(qty, step)
	first := RoundQtyToStep(total/2, step)
	second := decToFloat(decFromFloat(total).Sub(decFromFloat(first)))
	return first, second
}
