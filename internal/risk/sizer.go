// Package risk 负责仓位规模与信号评分。
package risk

// SizeParams 是一次仓位计算的全部输入。
type SizeParams struct {
	Equity   float64
	Entry    float64
	StopLoss float64
	RiskPct  float64 // 单笔风险占权益百分比
	MaxPct   float64 // 名义价值上限占权益百分比(乘杠杆前)
	Leverage int
}

// Sizing 是仓位计算结果。Qty 为 0 表示这笔不能下。
type Sizing struct {
	Qty      float64
	Notional float64
	Margin   float64
	RiskUSD  float64
	StopDist float64 // 止损距离,入场价的比例
	Capped   bool    // 名义价值被上限压住
}

// Size 用固定风险法计算仓位:先按“打到止损亏 RiskPct”的
// 风险额推名义价值,再用权益上限*杠杆封顶。
// 止损距离为 0 时直接拒绝,否则数量会发散。
func Size(p SizeParams) Sizing {
	if p.Equity <= 0 || p.Entry <= 0 || p.Leverage <= 0 {
		return Sizing{}
	}
	dist := p.Entry - p.StopLoss
	if dist < 0 {
		dist = -dist
	}
	stopDist := dist / p.Entry
	if stopDist == 0 {
		return Sizing{StopDist: 0}
	}

	riskUSD := p.Equity * p.RiskPct / 100
	notional := riskUSD / stopDist
	maxNotional := p.Equity * p.MaxPct / 100 * float64(p.Leverage)
	capped := false
	if notional > maxNotional {
		notional = maxNotional
		capped = true
	}
	return Sizing{
		Qty:      notional / p.Entry,
		Notional: notional,
		Margin:   notional / float64(p.Leverage),
		RiskUSD:  riskUSD,
		StopDist: stopDist,
		Capped:   capped,
	}
}
