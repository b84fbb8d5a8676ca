package market

import "time"

// TickEvent 是行情源推送的单笔成交价。
type TickEvent struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// SubscribeOptions 控制订阅通道的行为。
type SubscribeOptions struct {
	// Buffer 是推送通道的缓冲大小,0 用默认值。
	Buffer int
	// OnConnect 每次(重)连成功后回调,携带当前订阅的 symbol 集合。
	OnConnect func(symbols []string)
	// OnDisconnect 连接断开时回调。
	OnDisconnect func(err error)
}

// TickSource 是追踪止损监控依赖的行情抽象。
// 实现需保证:通道写满时丢弃而不是阻塞,订阅集合变化后
// 下一次重连自动带上新集合。
type TickSource interface {
	// SubscribeTicks 启动推送并返回事件通道,通道在源关闭时关闭。
	SubscribeTicks(opts SubscribeOptions) (<-chan TickEvent, error)
	// Track 把 symbol 加入订阅集合。
	Track(symbol string)
	// Untrack 把 symbol 移出订阅集合。
	Untrack(symbol string)
	// Close 停止推送。
	Close()
}

// SourceStats 暴露给 /status 的行情源运行指标。
type SourceStats struct {
	Connected    bool      `json:"connected"`
	Symbols      []string  `json:"symbols"`
	Reconnects   int64     `json:"reconnects"`
	Dropped      int64     `json:"dropped"`
	LastTickTime time.Time `json:"last_tick_time"`
}
