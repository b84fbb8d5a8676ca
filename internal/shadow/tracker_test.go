package shadow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sotrader/internal/gateway/exchange"
	"sotrader/internal/store"
)

type fakePricer struct {
	exchange.Client
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (f *fakePricer) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.prices[symbol], nil
}

type memShadowStore struct {
	store.TradeStore
	mu      sync.Mutex
	shadows map[string]store.ShadowTrade
}

func newMemShadowStore() *memShadowStore {
	return &memShadowStore{shadows: make(map[string]store.ShadowTrade)}
}

func (m *memShadowStore) LogShadow(ctx context.Context, rec store.ShadowTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadows[rec.ID] = rec
	return nil
}

func (m *memShadowStore) OpenShadows(ctx context.Context) ([]store.ShadowTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ShadowTrade
	for _, rec := range m.shadows {
		if rec.Outcome == "" {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memShadowStore) CloseShadow(ctx context.Context, id string, exitPrice float64, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.shadows[id]
	if !ok || rec.Outcome != "" {
		return errors.New("not open")
	}
	rec.Outcome = outcome
	rec.ExitPrice = exitPrice
	rec.ClosedAt = time.Now()
	m.shadows[id] = rec
	return nil
}

func TestShadowClassification(t *testing.T) {
	long := store.ShadowTrade{Side: "LONG", EntryPrice: 100, TakeProfit: 110, StopLoss: 95}
	assert.Equal(t, "", classify(long, 105))
	assert.Equal(t, "WIN", classify(long, 110))
	assert.Equal(t, "LOSS", classify(long, 95))

	short := store.ShadowTrade{Side: "SHORT", EntryPrice: 100, TakeProfit: 90, StopLoss: 105}
	assert.Equal(t, "", classify(short, 95))
	assert.Equal(t, "WIN", classify(short, 90))
	assert.Equal(t, "LOSS", classify(short, 105))
}

func TestShadowPollTerminatesOnTP(t *testing.T) {
	st := newMemShadowStore()
	px := &fakePricer{prices: map[string]float64{"BTCUSDT": 100}}
	tracker := NewTracker(px, st, time.Second)

	id, err := tracker.Add(context.Background(), store.ShadowTrade{
		Symbol: "BTCUSDT", Side: "LONG", EntryPrice: 100, TakeProfit: 110, StopLoss: 95,
		Reason: "max_longs_reached",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// 未到 TP/SL,保持活跃。
	tracker.poll(context.Background())
	assert.Len(t, tracker.Active(), 1)

	// 价格到 TP → WIN 并移出活跃集。
	px.prices["BTCUSDT"] = 111
	tracker.poll(context.Background())
	assert.Empty(t, tracker.Active())

	st.mu.Lock()
	rec := st.shadows[id]
	st.mu.Unlock()
	assert.Equal(t, "WIN", rec.Outcome)
	assert.InDelta(t, 111.0, rec.ExitPrice, 1e-9)
}

func TestShadowPollSurvivesPriceError(t *testing.T) {
	st := newMemShadowStore()
	px := &fakePricer{prices: map[string]float64{}, err: errors.New("rest down")}
	tracker := NewTracker(px, st, time.Second)

	_, err := tracker.Add(context.Background(), store.ShadowTrade{
		Symbol: "ETHUSDT", Side: "SHORT", EntryPrice: 100, TakeProfit: 90, StopLoss: 105,
		Reason: "duplicate_position",
	})
	require.NoError(t, err)

	tracker.poll(context.Background())
	assert.Len(t, tracker.Active(), 1)

	// 恢复后正常终结。
	px.mu.Lock()
	px.err = nil
	px.prices["ETHUSDT"] = 106
	px.mu.Unlock()
	tracker.poll(context.Background())
	assert.Empty(t, tracker.Active())
}

func TestShadowRestore(t *testing.T) {
	st := newMemShadowStore()
	st.shadows["a"] = store.ShadowTrade{ID: "a", Symbol: "BTCUSDT", Side: "LONG", EntryPrice: 1, TakeProfit: 2, StopLoss: 0.5}
	st.shadows["b"] = store.ShadowTrade{ID: "b", Symbol: "BTCUSDT", Side: "LONG", Outcome: "WIN"}

	tracker := NewTracker(&fakePricer{}, st, time.Second)
	require.NoError(t, tracker.Restore(context.Background()))
	assert.Len(t, tracker.Active(), 1)
}
