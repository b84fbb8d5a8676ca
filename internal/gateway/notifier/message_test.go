package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdownLayout(t *testing.T) {
	msg := StructuredMessage{
		Icon:      "🚀",
		Title:     "开仓 BTCUSDT LONG",
		Lines:     []string{"数量: 0.2 @ 50000", "", "  止损: 49500  "},
		Footer:    "order-1",
		Timestamp: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}
	out := msg.RenderMarkdown()

	assert.True(t, strings.HasPrefix(out, "🚀 开仓 BTCUSDT LONG"))
	// 空行被丢弃,非空行去掉首尾空白后进等宽块。
	assert.Contains(t, out, "```\n数量: 0.2 @ 50000\n止损: 49500\n```")
	assert.Contains(t, out, "order-1")
	assert.Contains(t, out, "时间：2026-08-26 12:00:00 UTC")
}

func TestRenderMarkdownEscapesFence(t *testing.T) {
	out := StructuredMessage{
		Title: "执行失败",
		Lines: []string{"err: ```boom```"},
	}.RenderMarkdown()
	assert.NotContains(t, out, "```boom```")
	assert.Contains(t, out, "'''boom'''")
}

func TestRenderMarkdownClampsLongBody(t *testing.T) {
	out := StructuredMessage{
		Title: "汇总",
		Lines: []string{strings.Repeat("x", maxRenderLen*2)},
	}.RenderMarkdown()
	assert.LessOrEqual(t, len(out), maxRenderLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestPositionClosedMessagePicksIconBySign(t *testing.T) {
	win := PositionClosedMessage("BTCUSDT", "LONG", "tp", 51000, 20, 100)
	loss := PositionClosedMessage("BTCUSDT", "LONG", "sl", 49500, -20, -100)
	assert.True(t, strings.HasPrefix(win, "🟢"))
	assert.True(t, strings.HasPrefix(loss, "🔴"))
}
