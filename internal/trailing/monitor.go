// Package trailing 实现追踪止损:价格走到 TP 距离的某个比例时,
// 一次性把止损移到入场价盈利侧锁定利润。
//
// 例(默认参数):Entry=100, TP=110,距离 10,
// 阈值 85% → 108.5,触发后止损移到 entry + 10*30% = 103.0。
package trailing

import (
	"context"
	"sync"
	"time"

	"sotrader/internal/gateway/exchange"
	"sotrader/internal/gateway/notifier"
	"sotrader/internal/logger"
	"sotrader/internal/market"
)

// Tracked 是被监控仓位的快照,供 /status 展示。
type Tracked struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Entry      float64 `json:"entry"`
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
	OriginalSL float64 `json:"original_sl"`
	Activated  bool    `json:"activated"`
}

type position struct {
	side       exchange.Side
	entry      float64
	tp         float64
	sl         float64
	originalSL float64
	activated  bool
}

// Monitor 消费行情 tick,对每个被跟踪仓位最多触发一次止损上移。
// activated 标志在锁内翻转,两个并发 tick 不可能都通过检查;
// 交易所调用放在锁外,失败则回滚标志让后续 tick 重试。
type Monitor struct {
	exch   exchange.Client
	source market.TickSource
	notify notifier.TextNotifier

	mu            sync.Mutex
	enabled       bool
	thresholdFrac float64
	moveFrac      float64
	tracked       map[string]*position

	callTimeout time.Duration
}

func NewMonitor(exch exchange.Client, source market.TickSource, notify notifier.TextNotifier, enabled bool, thresholdPct, movePct float64) *Monitor {
	if notify == nil {
		notify = notifier.Noop{}
	}
	m := &Monitor{
		exch:        exch,
		source:      source,
		notify:      notify,
		tracked:     make(map[string]*position),
		callTimeout: 10 * time.Second,
	}
	m.SetParams(enabled, thresholdPct, movePct)
	return m
}

// SetParams 热更新追踪参数,对已在跟踪中的仓位即时生效。
func (m *Monitor) SetParams(enabled bool, thresholdPct, movePct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	m.thresholdFrac = thresholdPct / 100
	m.moveFrac = movePct / 100
}

// Track 开始跟踪一个仓位。同 symbol 重复 Track 直接覆盖。
func (m *Monitor) Track(symbol string, side exchange.Side, entry, tp, sl float64) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.tracked[symbol] = &position{
		side:       side,
		entry:      entry,
		tp:         tp,
		sl:         sl,
		originalSL: sl,
	}
	m.mu.Unlock()

	logger.Infof("[追踪止损] 跟踪 %s %s entry=%v tp=%v sl=%v", side, symbol, entry, tp, sl)
	m.source.Track(symbol)
}

// Untrack 停止跟踪。
func (m *Monitor) Untrack(symbol string) {
	m.mu.Lock()
	_, existed := m.tracked[symbol]
	delete(m.tracked, symbol)
	m.mu.Unlock()
	if existed {
		logger.Infof("[追踪止损] 停止跟踪 %s", symbol)
		m.source.Untrack(symbol)
	}
}

// Snapshot 返回当前跟踪状态。
func (m *Monitor) Snapshot() []Tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Tracked, 0, len(m.tracked))
	for sym, pos := range m.tracked {
		out = append(out, Tracked{
			Symbol:     sym,
			Side:       string(pos.side),
			Entry:      pos.entry,
			TakeProfit: pos.tp,
			StopLoss:   pos.sl,
			OriginalSL: pos.originalSL,
			Activated:  pos.activated,
		})
	}
	return out
}

// Run 消费 tick 流直到 ctx 结束。行情源自己负责断线重连,
// 重连后带上当前订阅集合。
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	enabled := m.enabled
	m.mu.Unlock()
	if !enabled {
		logger.Infof("[追踪止损] 已禁用,不启动")
		<-ctx.Done()
		return nil
	}

	ticks, err := m.source.SubscribeTicks(market.SubscribeOptions{
		OnConnect: func(symbols []string) {
			logger.Infof("[追踪止损] 行情已连接,监控 %d 个 symbol", len(symbols))
		},
		OnDisconnect: func(err error) {
			if err != nil {
				logger.Warnf("[追踪止损] 行情断开: %v", err)
			}
		},
	})
	if err != nil {
		return err
	}
	defer m.source.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			m.onTick(ctx, tick.Symbol, tick.Price)
		}
	}
}

// onTick 检查单个 tick 是否触发止损移动。
func (m *Monitor) onTick(ctx context.Context, symbol string, price float64) {
	if price <= 0 {
		return
	}

	m.mu.Lock()
	pos, ok := m.tracked[symbol]
	if !ok || pos.activated {
		m.mu.Unlock()
		return
	}

	var tpDistance, thresholdPrice, newSL float64
	var crossed bool
	if pos.side == exchange.SideLong {
		tpDistance = pos.tp - pos.entry
		thresholdPrice = pos.entry + tpDistance*m.thresholdFrac
		crossed = price >= thresholdPrice
		newSL = pos.entry + tpDistance*m.moveFrac
	} else {
		tpDistance = pos.entry - pos.tp
		thresholdPrice = pos.entry - tpDistance*m.thresholdFrac
		crossed = price <= thresholdPrice
		newSL = pos.entry - tpDistance*m.moveFrac
	}
	if tpDistance <= 0 || !crossed {
		m.mu.Unlock()
		return
	}

	oldSL := pos.sl
	side := pos.side
	pos.activated = true
	pos.sl = newSL
	m.mu.Unlock()

	logger.Infof("[追踪止损] %s 触发阈值 price=%v threshold=%v,止损 %v -> %v", symbol, price, thresholdPrice, oldSL, newSL)

	// 交易所调用在锁外,避免网络 IO 阻塞 tick 处理。
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	err := m.exch.UpdateStopLoss(callCtx, symbol, side, newSL)
	cancel()
	if err != nil {
		logger.Errorf("[追踪止损] 移动止损失败 %s,回滚等待重试: %v", symbol, err)
		// 回滚标志,后续 tick 还有机会重试。
		m.mu.Lock()
		if cur, ok := m.tracked[symbol]; ok {
			cur.activated = false
			cur.sl = oldSL
		}
		m.mu.Unlock()
		return
	}

	if err := m.notify.SendText(notifier.TrailingMovedMessage(symbol, string(side), price, oldSL, newSL)); err != nil {
		logger.Warnf("[追踪止损] 通知发送失败: %v", err)
	}
}
