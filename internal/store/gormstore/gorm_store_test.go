package gormstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sotrader/internal/store"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTradeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.LogEntry(ctx, store.TradeRecord{
		Symbol:     "BTCUSDT",
		Side:       "LONG",
		EntryPrice: 50000,
		StopLoss:   49500,
		TakeProfit: 51000,
		Qty:        0.2,
		Leverage:   20,
		Margin:     500,
		Score:      3.5,
		Confidence: 0.8,
		Indicators: map[string]float64{"rsi": 28.4},
	})
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	open, err := s.FindOpenTrade(ctx, "BTCUSDT", "LONG")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, id, open.ID)
	assert.True(t, open.Open)
	assert.Equal(t, 28.4, open.Indicators["rsi"])

	// 反方向查不到。
	other, err := s.FindOpenTrade(ctx, "BTCUSDT", "SHORT")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, s.LogExit(ctx, id, 51000, 40, 200, "tp"))

	open, err = s.FindOpenTrade(ctx, "BTCUSDT", "LONG")
	require.NoError(t, err)
	assert.Nil(t, open)

	recent, err := s.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "tp", recent[0].ExitReason)
	assert.Equal(t, 200.0, recent[0].PnLUSD)
	assert.False(t, recent[0].Open)
}

func TestLogExitIsIdempotencyGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.LogEntry(ctx, store.TradeRecord{Symbol: "ETHUSDT", Side: "SHORT", EntryPrice: 3000})
	require.NoError(t, err)
	require.NoError(t, s.LogExit(ctx, id, 2900, 10, 30, "tp"))
	// 第二次平同一笔要报错,防止重复结算。
	assert.Error(t, s.LogExit(ctx, id, 2900, 10, 30, "tp"))
	assert.Error(t, s.LogExit(ctx, 9999, 2900, 10, 30, "tp"))
}

func TestSymbolStatsCountsClosedOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, pnl := range []float64{50, -20, 30} {
		id, err := s.LogEntry(ctx, store.TradeRecord{Symbol: "SOLUSDT", Side: "LONG", EntryPrice: 100})
		require.NoError(t, err)
		require.NoError(t, s.LogExit(ctx, id, 110, 10, pnl, "tp"))
	}
	// 未平仓的不计入。
	_, err := s.LogEntry(ctx, store.TradeRecord{Symbol: "SOLUSDT", Side: "LONG", EntryPrice: 100})
	require.NoError(t, err)
	// 其他 symbol 不计入。
	id, err := s.LogEntry(ctx, store.TradeRecord{Symbol: "BTCUSDT", Side: "LONG", EntryPrice: 100})
	require.NoError(t, err)
	require.NoError(t, s.LogExit(ctx, id, 110, 10, 100, "tp"))

	stats, err := s.SymbolStats(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 3, stats.Total)
}

func TestShadowLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogShadow(ctx, store.ShadowTrade{
		ID:         "shadow-1",
		Symbol:     "BNBUSDT",
		Side:       "SHORT",
		EntryPrice: 600,
		StopLoss:   615,
		TakeProfit: 580,
		Reason:     "duplicate_position",
	}))

	open, err := s.OpenShadows(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "shadow-1", open[0].ID)
	assert.Empty(t, open[0].Outcome)

	require.NoError(t, s.CloseShadow(ctx, "shadow-1", 580, "WIN"))

	open, err = s.OpenShadows(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	// 终结后再关要报错。
	assert.Error(t, s.CloseShadow(ctx, "shadow-1", 580, "WIN"))
}

func TestSummarize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.LogEntry(ctx, store.TradeRecord{Symbol: "BTCUSDT", Side: "LONG", EntryPrice: 50000})
	require.NoError(t, err)
	require.NoError(t, s.LogExit(ctx, id, 51000, 40, 200, "tp"))
	id, err = s.LogEntry(ctx, store.TradeRecord{Symbol: "ETHUSDT", Side: "SHORT", EntryPrice: 3000})
	require.NoError(t, err)
	require.NoError(t, s.LogExit(ctx, id, 3100, -20, -60, "sl"))
	_, err = s.LogEntry(ctx, store.TradeRecord{Symbol: "SOLUSDT", Side: "LONG", EntryPrice: 180})
	require.NoError(t, err)

	require.NoError(t, s.LogShadow(ctx, store.ShadowTrade{ID: "sh-1", Symbol: "BNBUSDT", Side: "LONG"}))
	require.NoError(t, s.LogShadow(ctx, store.ShadowTrade{ID: "sh-2", Symbol: "DOGEUSDT", Side: "LONG"}))
	require.NoError(t, s.CloseShadow(ctx, "sh-2", 1, "LOSS"))

	sum, err := s.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OpenTrades)
	assert.Equal(t, 2, sum.ClosedTrades)
	assert.Equal(t, 1, sum.WinCount)
	assert.Equal(t, 1, sum.LossCount)
	assert.InDelta(t, 140.0, sum.TotalPnLUSD, 1e-9)
	assert.Equal(t, 1, sum.OpenShadows)
	assert.Equal(t, 0, sum.ShadowWins)
	assert.Equal(t, 1, sum.ShadowLosses)
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
