package risk

import (
	"context"
	"sync"
	"time"

	"sotrader/internal/logger"
	"sotrader/internal/store"
)

// WinrateCache 缓存各 symbol 的历史胜率,避免每个信号都打数据库。
// 条目过期后下一次读取时重新拉取。
type WinrateCache struct {
	trades store.TradeStore
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]winrateEntry
}

type winrateEntry struct {
	winrate   float64
	trades    int
	fetchedAt time.Time
}

func NewWinrateCache(trades store.TradeStore, ttl time.Duration) *WinrateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &WinrateCache{
		trades:  trades,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]winrateEntry),
	}
}

// Get 返回胜率与已平仓样本数。没有历史时胜率为 0.5(中性先验)。
// 数据库失败时降级为中性值,评分不至于因存储抖动而中断。
func (c *WinrateCache) Get(ctx context.Context, symbol string) (float64, int) {
	c.mu.Lock()
	entry, ok := c.entries[symbol]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.winrate, entry.trades
	}

	stats, err := c.trades.SymbolStats(ctx, symbol)
	if err != nil {
		logger.Warnf("胜率查询失败 %s: %v", symbol, err)
		if ok {
			return entry.winrate, entry.trades
		}
		return 0.5, 0
	}

	winrate := 0.5
	if stats.Total > 0 {
		winrate = float64(stats.Wins) / float64(stats.Total)
	}
	c.mu.Lock()
	c.entries[symbol] = winrateEntry{winrate: winrate, trades: stats.Total, fetchedAt: c.now()}
	c.mu.Unlock()
	return winrate, stats.Total
}

// Invalidate 让指定 symbol 的缓存立即失效,平仓后调用保证下个信号拿到新战绩。
func (c *WinrateCache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
}
