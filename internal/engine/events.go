package engine

import (
	"strings"

	"github.com/tidwall/gjson"

	symbolpkg "sotrader/internal/pkg/symbol"
)

// 事件类型,与信号源的 type 字段一一对应。
const (
	EventReady     = "READY"
	EventUpdate    = "UPDATE"
	EventTriggered = "TRIGGERED"
	EventExit      = "EXIT"
	EventCancelled = "CANCELLED"
)

// Event 是归一化后的入站信号。
type Event struct {
	Type      string
	Symbol    string // 已补全计价后缀,如 BTC → BTCUSDT
	Direction string // LONG | SHORT

	Entry      float64
	TakeProfit float64
	StopLoss   float64

	ATR       *float64
	ZoneWidth *float64
	BarsReady *int

	// 评分特征,信号可以不带。
	RSI      *float64
	VolRatio *float64
	ATRPct   *float64

	// EXIT 专用。
	Outcome   string // WIN | LOSS
	ExitPrice float64

	Raw string // 原始 JSON,审计用
}

// ParseEvent 把 webhook 原始 JSON 解析成 Event。
// 老格式 {"action":"entry",...} 自动翻译成 TRIGGERED。
func ParseEvent(body []byte, quote string) (Event, error) {
	if !gjson.ValidBytes(body) {
		return Event{}, &ValidationError{Reason: "请求体不是合法 JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Event{}, &ValidationError{Reason: "请求体必须是 JSON 对象"}
	}

	evtType := strings.ToUpper(strings.TrimSpace(root.Get("type").String()))
	if evtType == "" && strings.EqualFold(root.Get("action").String(), "entry") {
		return parseLegacyEntry(root, quote, body)
	}

	switch evtType {
	case EventReady, EventUpdate, EventTriggered, EventExit, EventCancelled:
	default:
		return Event{}, &ValidationError{Reason: "未知事件类型: " + evtType}
	}

	evt := Event{
		Type:       evtType,
		Symbol:     symbolpkg.EnsureQuote(root.Get("coin").String(), quote),
		Direction:  strings.ToUpper(strings.TrimSpace(root.Get("direction").String())),
		Entry:      root.Get("entry").Float(),
		TakeProfit: root.Get("tp").Float(),
		StopLoss:   root.Get("sl").Float(),
		Outcome:    strings.ToUpper(strings.TrimSpace(root.Get("outcome").String())),
		ExitPrice:  root.Get("exitPrice").Float(),
		Raw:        string(body),
	}
	evt.ATR = optionalFloat(root, "atr")
	evt.ZoneWidth = optionalFloat(root, "zoneWidth")
	evt.BarsReady = optionalInt(root, "barsReady")
	evt.RSI = optionalFloat(root, "rsi")
	evt.VolRatio = optionalFloat(root, "volumeRatio")
	evt.ATRPct = optionalFloat(root, "atrPercent")
	return evt, nil
}

// parseLegacyEntry 翻译老格式:symbol 字段代替 coin,tp1 优先于 tp。
func parseLegacyEntry(root gjson.Result, quote string, body []byte) (Event, error) {
	tp := root.Get("tp1").Float()
	if tp == 0 {
		tp = root.Get("tp").Float()
	}
	evt := Event{
		Type:       EventTriggered,
		Symbol:     symbolpkg.EnsureQuote(root.Get("symbol").String(), quote),
		Direction:  strings.ToUpper(strings.TrimSpace(root.Get("direction").String())),
		Entry:      root.Get("entry").Float(),
		TakeProfit: tp,
		StopLoss:   root.Get("sl").Float(),
		Raw:        string(body),
	}
	evt.RSI = optionalFloat(root, "rsi")
	evt.VolRatio = optionalFloat(root, "volumeRatio")
	evt.ATRPct = optionalFloat(root, "atrPercent")
	return evt, nil
}

func optionalInt(root gjson.Result, key string) *int {
	field := root.Get(key)
	if !field.Exists() || field.Type == gjson.Null {
		return nil
	}
	v := int(field.Int())
	return &v
}

func optionalFloat(root gjson.Result, key string) *float64 {
	field := root.Get(key)
	if !field.Exists() || field.Type == gjson.Null {
		return nil
	}
	v := field.Float()
	return &v
}
