package risk

import "math"

// 缺省指标值:信号没带指标时按中性值计分。
const (
	neutralRSI      = 50.0
	neutralVolRatio = 1.0
	neutralATRPct   = 2.0
)

// ScoreInput 是评分器的输入。指标用指针表达“信号里没带”,
// 缺失时按中性缺省值参与计分。
type ScoreInput struct {
	Side     string // LONG | SHORT
	RSI      *float64
	VolRatio *float64
	ATRPct   *float64

	// 历史战绩,来自胜率缓存。
	Winrate float64
	Trades  int
}

// Score 是评分结果,Breakdown 里保留各分项方便推送和排查。
type Score struct {
	Total      float64
	Confidence float64
	Breakdown  map[string]float64
}

// ScoreSignal 给信号打分。各分项:
//
//	rsi     超卖/超买的梯度分,多头越超卖分越高,空头镜像
//	volume  放量加分,缩量减分
//	atr     波动率落在 2%-4% 的甜区加分,过高过低减分
//	winrate (胜率-0.5)*6*置信度,置信度 = min(样本数/10, 1)
//	bonus   样本数 >= 10 且胜率 >= 0.6 再加 1
//
// 分数没有固定区间,只用于相对排序和日志展示,不做硬性门槛。
func ScoreSignal(in ScoreInput) Score {
	rsi := neutralRSI
	if in.RSI != nil {
		rsi = *in.RSI
	}
	volRatio := neutralVolRatio
	if in.VolRatio != nil {
		volRatio = *in.VolRatio
	}
	atrPct := neutralATRPct
	if in.ATRPct != nil {
		atrPct = *in.ATRPct
	}

	confidence := math.Min(float64(in.Trades)/10, 1)
	breakdown := map[string]float64{
		"rsi":     rsiScore(in.Side, rsi),
		"volume":  volumeScore(volRatio),
		"atr":     atrScore(atrPct),
		"winrate": (in.Winrate - 0.5) * 6 * confidence,
	}
	if in.Trades >= 10 && in.Winrate >= 0.6 {
		breakdown["bonus"] = 1
	}

	total := 0.0
	for _, v := range breakdown {
		total += v
	}
	return Score{Total: total, Confidence: confidence, Breakdown: breakdown}
}

func rsiScore(side string, rsi float64) float64 {
	if side == "SHORT" {
		// 空头镜像:RSI 越高越超买,做空分越高。
		rsi = 100 - rsi
	}
	switch {
	case rsi < 20:
		return 4
	case rsi < 30:
		return 3
	case rsi < 40:
		return 2
	case rsi < 50:
		return 1
	case rsi > 70:
		return -2
	default:
		return 0
	}
}

func volumeScore(ratio float64) float64 {
	switch {
	case ratio > 2.5:
		return 3
	case ratio > 1.5:
		return 2
	case ratio > 1.0:
		return 1
	case ratio < 0.5:
		return -1
	default:
		return 0
	}
}

func atrScore(atrPct float64) float64 {
	switch {
	case atrPct >= 2 && atrPct <= 4:
		return 2
	case (atrPct >= 1 && atrPct < 2) || (atrPct > 4 && atrPct <= 6):
		return 1
	case atrPct > 8:
		return -1
	case atrPct < 0.5:
		return -1
	default:
		return 0
	}
}
