// Package shadow 跟踪“没有实际下单”的信号:容量满或已有同币种仓位时,
// 信号降级为影子单,定期对照现价判 WIN/LOSS,用于离线评估信号质量。
package shadow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sotrader/internal/gateway/exchange"
	"sotrader/internal/logger"
	"sotrader/internal/scheduler"
	"sotrader/internal/store"
)

// Tracker 维护活跃影子单并周期性轮询价格分类。
// 影子单判定为 WIN/LOSS 后即为终态,不再改动。
type Tracker struct {
	exch   exchange.Client
	trades store.TradeStore

	interval time.Duration

	mu     sync.Mutex
	active map[string]store.ShadowTrade
}

func NewTracker(exch exchange.Client, trades store.TradeStore, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Tracker{
		exch:     exch,
		trades:   trades,
		interval: interval,
		active:   make(map[string]store.ShadowTrade),
	}
}

// Add 创建一笔影子单并落盘,返回影子单 ID。
func (t *Tracker) Add(ctx context.Context, rec store.ShadowTrade) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = time.Now().UTC()
	}
	if err := t.trades.LogShadow(ctx, rec); err != nil {
		return "", err
	}
	t.mu.Lock()
	t.active[rec.ID] = rec
	t.mu.Unlock()
	logger.Infof("[影子单] 创建 %s %s %s entry=%v 原因=%s", rec.Side, rec.Symbol, rec.ID, rec.EntryPrice, rec.Reason)
	return rec.ID, nil
}

// Restore 从存储恢复未终结的影子单,进程重启后继续跟踪。
func (t *Tracker) Restore(ctx context.Context) error {
	open, err := t.trades.OpenShadows(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	for _, rec := range open {
		t.active[rec.ID] = rec
	}
	count := len(t.active)
	t.mu.Unlock()
	if count > 0 {
		logger.Infof("[影子单] 恢复 %d 笔活跃影子单", count)
	}
	return nil
}

// Active 返回仍在跟踪的影子单快照。
func (t *Tracker) Active() []store.ShadowTrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]store.ShadowTrade, 0, len(t.active))
	for _, rec := range t.active {
		out = append(out, rec)
	}
	return out
}

// Run 启动轮询循环,阻塞到 ctx 结束。
func (t *Tracker) Run(ctx context.Context) error {
	sched := scheduler.NewIntervalScheduler(ctx, t.interval)
	sched.Start(func() { t.poll(ctx) })
	return nil
}

// poll 对每个有活跃影子单的 symbol 拉一次现价并分类。
func (t *Tracker) poll(ctx context.Context) {
	t.mu.Lock()
	symbols := make(map[string][]store.ShadowTrade)
	for _, rec := range t.active {
		symbols[rec.Symbol] = append(symbols[rec.Symbol], rec)
	}
	t.mu.Unlock()
	if len(symbols) == 0 {
		return
	}

	for symbol, recs := range symbols {
		price, err := t.exch.LatestPrice(ctx, symbol)
		if err != nil {
			logger.Warnf("[影子单] 拉取价格失败 %s: %v", symbol, err)
			continue
		}
		for _, rec := range recs {
			outcome := classify(rec, price)
			if outcome == "" {
				continue
			}
			if err := t.trades.CloseShadow(ctx, rec.ID, price, outcome); err != nil {
				logger.Warnf("[影子单] 终结失败 %s: %v", rec.ID, err)
				continue
			}
			t.mu.Lock()
			delete(t.active, rec.ID)
			t.mu.Unlock()
			logger.Infof("[影子单] %s -> %s (price=%v)", rec.ID, outcome, price)
		}
	}
}

// classify 判断影子单是否已打到 TP/LOSS,没到返回空串。
func classify(rec store.ShadowTrade, price float64) string {
	if rec.Side == "LONG" {
		switch {
		case price >= rec.TakeProfit && rec.TakeProfit > 0:
			return "WIN"
		case price <= rec.StopLoss && rec.StopLoss > 0:
			return "LOSS"
		}
		return ""
	}
	switch {
	case price <= rec.TakeProfit && rec.TakeProfit > 0:
		return "WIN"
	case price >= rec.StopLoss && rec.StopLoss > 0:
		return "LOSS"
	}
	return ""
}
