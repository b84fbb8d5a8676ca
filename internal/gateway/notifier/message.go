package notifier

import (
	"strings"
	"time"
)

// Telegram 单条消息上限 4096 字符,留出 Markdown 包装的余量。
const maxRenderLen = 3800

// StructuredMessage 是交易通知的统一载体:标题行 + 等宽明细块 + 脚注。
// 明细行由 engine/trailing/shadow 各自拼好,渲染只管排版和截断。
type StructuredMessage struct {
	Icon      string
	Title     string
	Lines     []string
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 渲染成 Telegram Markdown 文本。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	if lines := nonEmptyLines(m.Lines); len(lines) > 0 {
		b.WriteString("```\n")
		for _, line := range lines {
			b.WriteString(escapeFence(line))
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escapeFence(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	return clampMessage(strings.TrimSpace(b.String()))
}

func nonEmptyLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// escapeFence 防止行内容提前闭合代码块。
func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

func clampMessage(s string) string {
	if len(s) <= maxRenderLen {
		return s
	}
	return s[:maxRenderLen] + "..."
}
