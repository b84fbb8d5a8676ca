package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sotrader/internal/gateway/exchange"
	"sotrader/internal/shadow"
	"sotrader/internal/store"
)

type fakeExchange struct {
	mu        sync.Mutex
	equity    float64
	equityErr error
	positions []exchange.Position
	rules     exchange.SymbolRules
	placeErr  error
	placed    []exchange.OrderRequest
	leverages map[string]int
	closeAvg  float64
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		equity:    10000,
		rules:     exchange.SymbolRules{QtyStep: 0.001, PriceTick: 0.1},
		leverages: make(map[string]int),
	}
}

func (f *fakeExchange) Equity(ctx context.Context) (float64, error) {
	return f.equity, f.equityErr
}

func (f *fakeExchange) Positions(ctx context.Context) ([]exchange.Position, error) {
	return f.positions, nil
}

func (f *fakeExchange) SymbolRules(ctx context.Context, symbol string) (exchange.SymbolRules, error) {
	return f.rules, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverages[symbol] = leverage
	return nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return exchange.OrderResult{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return exchange.OrderResult{
		OrderID:  "order-1",
		Symbol:   req.Symbol,
		Side:     req.Side,
		Qty:      req.Qty,
		AvgPrice: 50000,
	}, nil
}

func (f *fakeExchange) UpdateStopLoss(ctx context.Context, symbol string, side exchange.Side, newSL float64) error {
	return nil
}

func (f *fakeExchange) CancelOpenOrders(ctx context.Context, symbol string) error { return nil }

func (f *fakeExchange) ClosePosition(ctx context.Context, symbol string, side exchange.Side) (float64, error) {
	return f.closeAvg, nil
}

func (f *fakeExchange) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, errors.New("no price")
}

// memTradeStore 是内存版 TradeStore,只实现引擎用到的行为。
type memTradeStore struct {
	mu      sync.Mutex
	nextID  int64
	trades  map[int64]*store.TradeRecord
	shadows map[string]*store.ShadowTrade
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{
		nextID:  1,
		trades:  make(map[int64]*store.TradeRecord),
		shadows: make(map[string]*store.ShadowTrade),
	}
}

func (m *memTradeStore) LogEntry(ctx context.Context, rec store.TradeRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	rec.Open = true
	rec.OpenedAt = time.Now().UTC()
	m.trades[rec.ID] = &rec
	m.nextID++
	return rec.ID, nil
}

func (m *memTradeStore) LogExit(ctx context.Context, id int64, exitPrice, pnlPct, pnlUSD float64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return errors.New("trade not found")
	}
	t.Open = false
	t.ExitPrice = exitPrice
	t.PnLPct = pnlPct
	t.PnLUSD = pnlUSD
	t.ExitReason = reason
	t.ClosedAt = time.Now().UTC()
	return nil
}

func (m *memTradeStore) FindOpenTrade(ctx context.Context, symbol, side string) (*store.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.Open && t.Symbol == symbol && t.Side == side {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTradeStore) OpenTrades(ctx context.Context) ([]store.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TradeRecord
	for _, t := range m.trades {
		if t.Open {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTradeStore) RecentTrades(ctx context.Context, limit int) ([]store.TradeRecord, error) {
	return nil, nil
}

func (m *memTradeStore) SymbolStats(ctx context.Context, symbol string) (store.SymbolStats, error) {
	return store.SymbolStats{}, nil
}

func (m *memTradeStore) LogShadow(ctx context.Context, rec store.ShadowTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadows[rec.ID] = &rec
	return nil
}

func (m *memTradeStore) OpenShadows(ctx context.Context) ([]store.ShadowTrade, error) {
	return nil, nil
}

func (m *memTradeStore) CloseShadow(ctx context.Context, id string, exitPrice float64, outcome string) error {
	return nil
}

func (m *memTradeStore) Summarize(ctx context.Context) (store.Summary, error) {
	return store.Summary{}, nil
}

func (m *memTradeStore) Close() error { return nil }

func defaultConfig() Config {
	return Config{
		RiskPct:   2.0,
		MaxPct:    5.0,
		Leverage:  20,
		TPMode:    "single",
		MaxLongs:  4,
		MaxShorts: 4,
	}
}

func newTestRouter(exch *fakeExchange, trades *memTradeStore, cfg Config) *Router {
	return NewRouter(Deps{
		Exchange: exch,
		Trades:   trades,
		Shadows:  shadow.NewTracker(exch, trades, time.Minute),
	}, cfg)
}

func triggeredEvent() Event {
	return Event{
		Type:       EventTriggered,
		Symbol:     "BTCUSDT",
		Direction:  "LONG",
		Entry:      50000,
		StopLoss:   49500,
		TakeProfit: 51000,
	}
}

func TestTriggeredOpensCappedPosition(t *testing.T) {
	exch := newFakeExchange()
	trades := newMemTradeStore()
	r := newTestRouter(exch, trades, defaultConfig())

	res, err := r.HandleEvent(context.Background(), triggeredEvent())
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)

	// 风险额 200,距离 1% → 名义 20000,被 5%*20 倍杠杆的 10000 封顶 → 0.2。
	require.Len(t, exch.placed, 1)
	assert.InDelta(t, 0.2, exch.placed[0].Qty, 1e-9)
	assert.Equal(t, exchange.SideLong, exch.placed[0].Side)
	assert.Equal(t, 49500.0, exch.placed[0].StopLoss)
	require.Len(t, exch.placed[0].TakeProfits, 1)
	// 单一止盈腿 Qty 为 0,整仓在 TP 平。
	assert.Equal(t, 0.0, exch.placed[0].TakeProfits[0].Qty)
	assert.Equal(t, 20, exch.leverages["BTCUSDT"])

	open, err := trades.FindOpenTrade(context.Background(), "BTCUSDT", "LONG")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.InDelta(t, 500.0, open.Margin, 1e-6) // 10000 名义 / 20x
	assert.Equal(t, 1, r.PendingCount())
}

func TestSplitModeBuildsTwoLegs(t *testing.T) {
	exch := newFakeExchange()
	trades := newMemTradeStore()
	cfg := defaultConfig()
	cfg.TPMode = "split"
	r := newTestRouter(exch, trades, cfg)

	_, err := r.HandleEvent(context.Background(), triggeredEvent())
	require.NoError(t, err)

	require.Len(t, exch.placed, 1)
	legs := exch.placed[0].TakeProfits
	require.Len(t, legs, 2)
	assert.Equal(t, 51000.0, legs[0].Price)
	// 第二目标在两倍距离:50000 + 2*1000。
	assert.Equal(t, 52000.0, legs[1].Price)
	assert.InDelta(t, 0.1, legs[0].Qty, 1e-9)
	assert.InDelta(t, 0.1, legs[1].Qty, 1e-9)
}

func TestDuplicatePositionGoesShadow(t *testing.T) {
	exch := newFakeExchange()
	exch.positions = []exchange.Position{{Symbol: "BTCUSDT", Side: exchange.SideShort, Qty: 1}}
	trades := newMemTradeStore()
	r := newTestRouter(exch, trades, defaultConfig())

	res, err := r.HandleEvent(context.Background(), triggeredEvent())
	require.NoError(t, err)
	assert.Equal(t, "shadow", res.Status)
	assert.Equal(t, "duplicate_position", res.Reason)
	assert.Empty(t, exch.placed)
	assert.Len(t, trades.shadows, 1)
}

func TestCapacityLimitsGoShadow(t *testing.T) {
	exch := newFakeExchange()
	for _, s := range []string{"ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"} {
		exch.positions = append(exch.positions, exchange.Position{Symbol: s, Side: exchange.SideLong, Qty: 1})
	}
	trades := newMemTradeStore()
	r := newTestRouter(exch, trades, defaultConfig())

	res, err := r.HandleEvent(context.Background(), triggeredEvent())
	require.NoError(t, err)
	assert.Equal(t, "shadow", res.Status)
	assert.Equal(t, "max_longs_reached", res.Reason)

	// 空头方向不受多头容量影响。
	short := triggeredEvent()
	short.Direction = "SHORT"
	short.StopLoss = 50500
	short.TakeProfit = 49000
	res, err = r.HandleEvent(context.Background(), short)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
}

func TestNonPositiveEquityRejected(t *testing.T) {
	exch := newFakeExchange()
	exch.equity = 0
	r := newTestRouter(exch, newMemTradeStore(), defaultConfig())

	_, err := r.HandleEvent(context.Background(), triggeredEvent())
	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
}

func TestTriggeredValidation(t *testing.T) {
	r := newTestRouter(newFakeExchange(), newMemTradeStore(), defaultConfig())

	var vErr *ValidationError
	evt := triggeredEvent()
	evt.Direction = "SIDEWAYS"
	_, err := r.HandleEvent(context.Background(), evt)
	require.ErrorAs(t, err, &vErr)

	evt = triggeredEvent()
	evt.Entry = 0
	_, err = r.HandleEvent(context.Background(), evt)
	require.ErrorAs(t, err, &vErr)
}

func TestBelowMinNotionalRejected(t *testing.T) {
	exch := newFakeExchange()
	exch.equity = 20
	exch.rules = exchange.SymbolRules{QtyStep: 0.001, MinNotional: 5}
	r := newTestRouter(exch, newMemTradeStore(), defaultConfig())

	// 20 权益 * 2% 风险 / 10% 止损距离 → 名义 4,低于 5 的下限。
	evt := triggeredEvent()
	evt.Symbol = "DOGEUSDT"
	evt.Entry = 0.5
	evt.StopLoss = 0.45
	evt.TakeProfit = 0.6

	_, err := r.HandleEvent(context.Background(), evt)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, exch.placed)
}

func TestOrderFailureSurfacesTypedError(t *testing.T) {
	exch := newFakeExchange()
	exch.placeErr = errors.New("margin insufficient")
	r := newTestRouter(exch, newMemTradeStore(), defaultConfig())

	_, err := r.HandleEvent(context.Background(), triggeredEvent())
	var placement *OrderPlacementError
	require.ErrorAs(t, err, &placement)
	assert.Equal(t, "BTCUSDT", placement.Symbol)
}

func TestReadyThenTriggeredConsumesContext(t *testing.T) {
	exch := newFakeExchange()
	trades := newMemTradeStore()
	r := newTestRouter(exch, trades, defaultConfig())

	ready := triggeredEvent()
	ready.Type = EventReady
	atr := 120.5
	ready.ATR = &atr
	_, err := r.HandleEvent(context.Background(), ready)
	require.NoError(t, err)
	require.Len(t, r.ReadyStates(), 1)

	_, err = r.HandleEvent(context.Background(), triggeredEvent())
	require.NoError(t, err)
	assert.Empty(t, r.ReadyStates())

	open, _ := trades.FindOpenTrade(context.Background(), "BTCUSDT", "LONG")
	require.NotNil(t, open)
	assert.Equal(t, 120.5, open.Indicators["atr"])
}

func TestUpdateWithoutReadyIsNoop(t *testing.T) {
	r := newTestRouter(newFakeExchange(), newMemTradeStore(), defaultConfig())

	evt := triggeredEvent()
	evt.Type = EventUpdate
	res, err := r.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.Empty(t, r.ReadyStates())
}

func TestUpdateBarsReadyFollowsPresence(t *testing.T) {
	r := newTestRouter(newFakeExchange(), newMemTradeStore(), defaultConfig())

	ready := triggeredEvent()
	ready.Type = EventReady
	_, err := r.HandleEvent(context.Background(), ready)
	require.NoError(t, err)

	three := 3
	update := triggeredEvent()
	update.Type = EventUpdate
	update.BarsReady = &three
	_, err = r.HandleEvent(context.Background(), update)
	require.NoError(t, err)
	require.Len(t, r.ReadyStates(), 1)
	assert.Equal(t, 3, r.ReadyStates()[0].BarsReady)

	// 没带 barsReady 的 UPDATE 不动旧值。
	keep := triggeredEvent()
	keep.Type = EventUpdate
	_, err = r.HandleEvent(context.Background(), keep)
	require.NoError(t, err)
	assert.Equal(t, 3, r.ReadyStates()[0].BarsReady)

	// 带 0 是有效重置,不是缺省。
	zero := 0
	reset := triggeredEvent()
	reset.Type = EventUpdate
	reset.BarsReady = &zero
	_, err = r.HandleEvent(context.Background(), reset)
	require.NoError(t, err)
	assert.Equal(t, 0, r.ReadyStates()[0].BarsReady)
}

func TestCancelledDropsReadyState(t *testing.T) {
	r := newTestRouter(newFakeExchange(), newMemTradeStore(), defaultConfig())

	ready := triggeredEvent()
	ready.Type = EventReady
	_, err := r.HandleEvent(context.Background(), ready)
	require.NoError(t, err)

	cancel := triggeredEvent()
	cancel.Type = EventCancelled
	_, err = r.HandleEvent(context.Background(), cancel)
	require.NoError(t, err)
	assert.Empty(t, r.ReadyStates())
}

func TestExitComputesLeveragedPnL(t *testing.T) {
	exch := newFakeExchange()
	trades := newMemTradeStore()
	r := newTestRouter(exch, trades, defaultConfig())

	id, err := trades.LogEntry(context.Background(), store.TradeRecord{
		Symbol:     "ETHUSDT",
		Side:       "LONG",
		EntryPrice: 100,
		Leverage:   10,
		Margin:     50,
	})
	require.NoError(t, err)

	res, err := r.HandleEvent(context.Background(), Event{
		Type:      EventExit,
		Symbol:    "ETHUSDT",
		Direction: "LONG",
		Outcome:   "WIN",
		ExitPrice: 102,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)

	closed := trades.trades[id]
	assert.False(t, closed.Open)
	// 2% 价格变动 * 10 倍杠杆 = 20%,保证金 50 → 10 USDT。
	assert.InDelta(t, 20.0, closed.PnLPct, 1e-9)
	assert.InDelta(t, 10.0, closed.PnLUSD, 1e-9)
	assert.Equal(t, "tp", closed.ExitReason)
}

func TestShortExitPnLIsMirrored(t *testing.T) {
	trades := newMemTradeStore()
	r := newTestRouter(newFakeExchange(), trades, defaultConfig())

	id, _ := trades.LogEntry(context.Background(), store.TradeRecord{
		Symbol:     "ETHUSDT",
		Side:       "SHORT",
		EntryPrice: 100,
		Leverage:   5,
		Margin:     100,
	})

	_, err := r.HandleEvent(context.Background(), Event{
		Type:      EventExit,
		Symbol:    "ETHUSDT",
		Direction: "SHORT",
		Outcome:   "LOSS",
		ExitPrice: 104,
	})
	require.NoError(t, err)

	closed := trades.trades[id]
	assert.InDelta(t, -20.0, closed.PnLPct, 1e-9)
	assert.InDelta(t, -20.0, closed.PnLUSD, 1e-9)
	assert.Equal(t, "sl", closed.ExitReason)
}

func TestExitWithoutOpenTradeWarns(t *testing.T) {
	r := newTestRouter(newFakeExchange(), newMemTradeStore(), defaultConfig())

	res, err := r.HandleEvent(context.Background(), Event{
		Type:      EventExit,
		Symbol:    "DOGEUSDT",
		Direction: "LONG",
		Outcome:   "WIN",
		ExitPrice: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.NotEmpty(t, res.Warning)
}

func TestManualCloseSettlesAtFillPrice(t *testing.T) {
	exch := newFakeExchange()
	exch.closeAvg = 105
	trades := newMemTradeStore()
	r := newTestRouter(exch, trades, defaultConfig())

	id, _ := trades.LogEntry(context.Background(), store.TradeRecord{
		Symbol:     "ETHUSDT",
		Side:       "LONG",
		EntryPrice: 100,
		Leverage:   4,
		Margin:     25,
	})

	res, err := r.CloseManual(context.Background(), "ETHUSDT", "LONG")
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)

	closed := trades.trades[id]
	assert.Equal(t, "manual", closed.ExitReason)
	assert.InDelta(t, 20.0, closed.PnLPct, 1e-9) // 5% * 4x
	assert.InDelta(t, 5.0, closed.PnLUSD, 1e-9)
}

func TestSetConfigAffectsNextEvent(t *testing.T) {
	exch := newFakeExchange()
	exch.positions = []exchange.Position{{Symbol: "ETHUSDT", Side: exchange.SideLong, Qty: 1}}
	r := newTestRouter(exch, newMemTradeStore(), defaultConfig())

	cfg := defaultConfig()
	cfg.MaxLongs = 1
	r.SetConfig(cfg)

	res, err := r.HandleEvent(context.Background(), triggeredEvent())
	require.NoError(t, err)
	assert.Equal(t, "shadow", res.Status)
	assert.Equal(t, "max_longs_reached", res.Reason)
}
