package notifier

import (
	"fmt"
	"time"
)

// 交易事件的统一消息模板,engine/trailing/shadow 都从这里取文案。

// SignalReadyMessage 收到 READY 信号(武装,未入场)。
func SignalReadyMessage(symbol, side string, entry, sl, tp, score float64) string {
	return StructuredMessage{
		Icon:  "🎯",
		Title: fmt.Sprintf("信号就绪 %s %s", symbol, side),
		Lines: []string{
			fmt.Sprintf("入场: %.6g", entry),
			fmt.Sprintf("止损: %.6g", sl),
			fmt.Sprintf("止盈: %.6g", tp),
			fmt.Sprintf("评分: %.1f", score),
		},
		Timestamp: time.Now(),
	}.RenderMarkdown()
}

// PositionOpenedMessage 实仓开仓成功。
func PositionOpenedMessage(symbol, side string, qty, avgPrice, sl, tp, margin float64, leverage int) string {
	return StructuredMessage{
		Icon:  "🚀",
		Title: fmt.Sprintf("开仓 %s %s", symbol, side),
		Lines: []string{
			fmt.Sprintf("数量: %.6g @ %.6g", qty, avgPrice),
			fmt.Sprintf("止损: %.6g / 止盈: %.6g", sl, tp),
			fmt.Sprintf("杠杆: %dx / 保证金: %.2f USDT", leverage, margin),
		},
		Timestamp: time.Now(),
	}.RenderMarkdown()
}

// ShadowOpenedMessage 信号走了影子通道(容量满/重复仓位/评分不足)。
func ShadowOpenedMessage(symbol, side, reason string, entry, score float64) string {
	return StructuredMessage{
		Icon:  "👻",
		Title: fmt.Sprintf("影子单 %s %s", symbol, side),
		Lines: []string{
			fmt.Sprintf("入场: %.6g", entry),
			fmt.Sprintf("评分: %.1f", score),
			"原因: " + reason,
		},
		Timestamp: time.Now(),
	}.RenderMarkdown()
}

// PositionClosedMessage 平仓结果。
func PositionClosedMessage(symbol, side, reason string, exitPrice, pnlPct, pnlUSD float64) string {
	icon := "🟢"
	if pnlUSD < 0 {
		icon = "🔴"
	}
	return StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("平仓 %s %s", symbol, side),
		Lines: []string{
			fmt.Sprintf("出场: %.6g", exitPrice),
			fmt.Sprintf("盈亏: %.2f%% (%.2f USDT)", pnlPct, pnlUSD),
			"原因: " + reason,
		},
		Timestamp: time.Now(),
	}.RenderMarkdown()
}

// SignalCancelledMessage 信号在触发前被撤销。
func SignalCancelledMessage(symbol, side, reason string) string {
	return StructuredMessage{
		Icon:      "🚫",
		Title:     fmt.Sprintf("信号取消 %s %s", symbol, side),
		Footer:    reason,
		Timestamp: time.Now(),
	}.RenderMarkdown()
}

// TrailingMovedMessage 追踪止损上移/下移成功。
func TrailingMovedMessage(symbol, side string, price, oldSL, newSL float64) string {
	return StructuredMessage{
		Icon:  "🔒",
		Title: fmt.Sprintf("止损已移动 %s %s", symbol, side),
		Lines: []string{
			fmt.Sprintf("触发价: %.6g", price),
			fmt.Sprintf("止损: %.6g → %.6g", oldSL, newSL),
		},
		Timestamp: time.Now(),
	}.RenderMarkdown()
}

// TradeSummaryMessage 周期性战绩汇总。
func TradeSummaryMessage(period string, open, closed, wins, losses int, totalPnL float64, shadowWins, shadowLosses int) string {
	icon := "📈"
	if totalPnL < 0 {
		icon = "📉"
	}
	return StructuredMessage{
		Icon:  icon,
		Title: period + "汇总",
		Lines: []string{
			fmt.Sprintf("持仓中: %d / 已平仓: %d", open, closed),
			fmt.Sprintf("胜负: %dW / %dL", wins, losses),
			fmt.Sprintf("累计盈亏: %.2f USDT", totalPnL),
			fmt.Sprintf("影子单战绩: %dW / %dL", shadowWins, shadowLosses),
		},
		Timestamp: time.Now(),
	}.RenderMarkdown()
}

// ServiceStartedMessage 服务启动广播。
func ServiceStartedMessage(name, addr string) string {
	return StructuredMessage{
		Icon:      "✅",
		Title:     name + " 已启动",
		Footer:    "监听 " + addr,
		Timestamp: time.Now(),
	}.RenderMarkdown()
}

// ErrorMessage 执行链路上的失败。
func ErrorMessage(stage, symbol string, err error) string {
	return StructuredMessage{
		Icon:      "⚠️",
		Title:     "执行失败 " + stage,
		Footer:    fmt.Sprintf("%s: %v", symbol, err),
		Timestamp: time.Now(),
	}.RenderMarkdown()
}
