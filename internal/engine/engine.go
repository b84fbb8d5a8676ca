// Package engine 实现信号状态机:入站事件 → 就绪态簿记、下单或影子单。
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sotrader/internal/gateway/exchange"
	"sotrader/internal/gateway/notifier"
	"sotrader/internal/logger"
	"sotrader/internal/pkg/trading"
	"sotrader/internal/risk"
	"sotrader/internal/shadow"
	"sotrader/internal/store"
	"sotrader/internal/store/eventlog"
	"sotrader/internal/trailing"
)

// Config 是路由器的风险参数,支持热更新。
type Config struct {
	RiskPct   float64
	MaxPct    float64
	Leverage  int
	TPMode    string // single | split
	MaxLongs  int
	MaxShorts int
}

// Result 是一次事件处理的出参,transport 层直接序列化返回。
type Result struct {
	Status    string  `json:"status"` // ok | success | shadow
	Type      string  `json:"type,omitempty"`
	Symbol    string  `json:"symbol,omitempty"`
	Direction string  `json:"direction,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Warning   string  `json:"warning,omitempty"`
	ShadowID  string  `json:"shadow_id,omitempty"`
	OrderID   string  `json:"order_id,omitempty"`
	Qty       float64 `json:"qty,omitempty"`
	Entry     float64 `json:"entry,omitempty"`
	TP        float64 `json:"tp,omitempty"`
	SL        float64 `json:"sl,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Outcome   string  `json:"outcome,omitempty"`
	PnL       float64 `json:"pnl,omitempty"`
}

type readyState struct {
	entry     float64
	tp        float64
	sl        float64
	atr       *float64
	zoneWidth *float64
	barsReady int
	createdAt time.Time
}

type pendingOrder struct {
	symbol    string
	direction string
	tradeID   int64
	entry     float64
	tp        float64
	sl        float64
	createdAt time.Time
}

// ReadySnapshot 供 /status 展示。
type ReadySnapshot struct {
	Key       string    `json:"key"`
	Entry     float64   `json:"entry"`
	TP        float64   `json:"tp"`
	SL        float64   `json:"sl"`
	BarsReady int       `json:"bars_ready"`
	CreatedAt time.Time `json:"created_at"`
}

// Router 独占就绪态与挂单簿记。事件处理可并发,map 改动都在互斥区内,
// 互斥区从不跨越交易所/存储调用。
type Router struct {
	exch     exchange.Client
	trades   store.TradeStore
	audit    *eventlog.Store
	notify   notifier.TextNotifier
	winrates *risk.WinrateCache
	trailing *trailing.Monitor
	shadows  *shadow.Tracker

	cfgMu sync.RWMutex
	cfg   Config

	mu      sync.Mutex
	ready   map[string]*readyState
	pending map[string]*pendingOrder
}

// Deps 是 Router 的全部协作者。audit 和 notify 可以为空。
type Deps struct {
	Exchange exchange.Client
	Trades   store.TradeStore
	Audit    *eventlog.Store
	Notify   notifier.TextNotifier
	Winrates *risk.WinrateCache
	Trailing *trailing.Monitor
	Shadows  *shadow.Tracker
}

func NewRouter(deps Deps, cfg Config) *Router {
	notify := deps.Notify
	if notify == nil {
		notify = notifier.Noop{}
	}
	return &Router{
		exch:     deps.Exchange,
		trades:   deps.Trades,
		audit:    deps.Audit,
		notify:   notify,
		winrates: deps.Winrates,
		trailing: deps.Trailing,
		shadows:  deps.Shadows,
		cfg:      cfg,
		ready:    make(map[string]*readyState),
		pending:  make(map[string]*pendingOrder),
	}
}

// SetConfig 热更新风险参数,下一个事件即用新值。
func (r *Router) SetConfig(cfg Config) {
	r.cfgMu.Lock()
	r.cfg = cfg
	r.cfgMu.Unlock()
	logger.Infof("[引擎] 风险参数已更新: risk=%.2f%% lev=%dx maxLongs=%d maxShorts=%d tp_mode=%s",
		cfg.RiskPct, cfg.Leverage, cfg.MaxLongs, cfg.MaxShorts, cfg.TPMode)
}

func (r *Router) config() Config {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg
}

// HandleEvent 分发一个入站事件。
func (r *Router) HandleEvent(ctx context.Context, evt Event) (Result, error) {
	var res Result
	var err error
	switch evt.Type {
	case EventReady:
		res, err = r.onReady(ctx, evt)
	case EventUpdate:
		res, err = r.onUpdate(ctx, evt)
	case EventTriggered:
		res, err = r.onTriggered(ctx, evt)
	case EventExit:
		res, err = r.onExit(ctx, evt)
	case EventCancelled:
		res, err = r.onCancelled(ctx, evt)
	default:
		err = &ValidationError{Reason: "未知事件类型: " + evt.Type}
	}
	r.auditEvent(ctx, evt, res, err)
	return res, err
}

func (r *Router) auditEvent(ctx context.Context, evt Event, res Result, err error) {
	if r.audit == nil {
		return
	}
	outcome := res.Status
	detail := res.Reason
	if err != nil {
		outcome = "rejected"
		detail = err.Error()
	}
	rec := eventlog.Record{
		Type:    evt.Type,
		Symbol:  evt.Symbol,
		Side:    evt.Direction,
		Outcome: outcome,
		Detail:  detail,
		Payload: evt.Raw,
	}
	if appendErr := r.audit.Append(ctx, rec); appendErr != nil {
		logger.Warnf("[引擎] 审计写入失败: %v", appendErr)
	}
}

func stateKey(direction, symbol string) string {
	return direction + "_" + symbol
}

func sideOf(direction string) exchange.Side {
	if direction == "SHORT" {
		return exchange.SideShort
	}
	return exchange.SideLong
}

// onReady 记录就绪态并推送通知,同 key 重复 READY 直接覆盖。
func (r *Router) onReady(ctx context.Context, evt Event) (Result, error) {
	if err := validateKey(evt); err != nil {
		return Result{}, err
	}
	key := stateKey(evt.Direction, evt.Symbol)
	r.mu.Lock()
	r.ready[key] = &readyState{
		entry:     evt.Entry,
		tp:        evt.TakeProfit,
		sl:        evt.StopLoss,
		atr:       evt.ATR,
		zoneWidth: evt.ZoneWidth,
		createdAt: time.Now().UTC(),
	}
	r.mu.Unlock()

	logger.Infof("[READY] %s %s entry=%v tp=%v sl=%v", evt.Direction, evt.Symbol, evt.Entry, evt.TakeProfit, evt.StopLoss)

	score := r.scoreEvent(ctx, evt)
	if err := r.notify.SendText(notifier.SignalReadyMessage(evt.Symbol, evt.Direction, evt.Entry, evt.StopLoss, evt.TakeProfit, score.Total)); err != nil {
		logger.Warnf("[引擎] READY 通知失败: %v", err)
	}
	return Result{Status: "ok", Type: "ready", Symbol: evt.Symbol, Direction: evt.Direction}, nil
}

// onUpdate 刷新已存在的就绪态,没有先行 READY 时是明确的 no-op。
func (r *Router) onUpdate(ctx context.Context, evt Event) (Result, error) {
	key := stateKey(evt.Direction, evt.Symbol)
	r.mu.Lock()
	if state, ok := r.ready[key]; ok {
		if evt.Entry > 0 {
			state.entry = evt.Entry
		}
		if evt.TakeProfit > 0 {
			state.tp = evt.TakeProfit
		}
		if evt.StopLoss > 0 {
			state.sl = evt.StopLoss
		}
		// barsReady 按“事件里有没有带”判断,0 也是有效重置。
		if evt.BarsReady != nil {
			state.barsReady = *evt.BarsReady
		}
	}
	r.mu.Unlock()
	return Result{Status: "ok", Type: "update"}, nil
}

// onCancelled 丢弃就绪态。
func (r *Router) onCancelled(ctx context.Context, evt Event) (Result, error) {
	key := stateKey(evt.Direction, evt.Symbol)
	r.mu.Lock()
	delete(r.ready, key)
	r.mu.Unlock()

	logger.Infof("[CANCELLED] %s %s", evt.Direction, evt.Symbol)
	if err := r.notify.SendText(notifier.SignalCancelledMessage(evt.Symbol, evt.Direction, "就绪窗口过期")); err != nil {
		logger.Warnf("[引擎] CANCELLED 通知失败: %v", err)
	}
	return Result{Status: "ok", Type: "cancelled"}, nil
}

// onTriggered 是主执行路径:容量/重复检查 → 仓位计算 → 下单 → 簿记。
func (r *Router) onTriggered(ctx context.Context, evt Event) (Result, error) {
	if err := validateTriggered(evt); err != nil {
		return Result{}, err
	}
	cfg := r.config()
	key := stateKey(evt.Direction, evt.Symbol)

	// 消费就绪态上下文(可能没有,直接 TRIGGERED 也合法)。
	r.mu.Lock()
	readyCtx := r.ready[key]
	delete(r.ready, key)
	r.mu.Unlock()

	positions, err := r.exch.Positions(ctx)
	if err != nil {
		return Result{}, &ExternalServiceError{Service: "exchange positions", Err: err}
	}
	longCount, shortCount := 0, 0
	var duplicate *exchange.Position
	for i, p := range positions {
		if p.Side == exchange.SideLong {
			longCount++
		} else {
			shortCount++
		}
		if p.Symbol == evt.Symbol {
			duplicate = &positions[i]
		}
	}

	score := r.scoreEvent(ctx, evt)
	logger.Infof("[TRIGGERED] %s %s entry=%v sl=%v tp=%v score=%.1f",
		evt.Direction, evt.Symbol, evt.Entry, evt.StopLoss, evt.TakeProfit, score.Total)

	// 容量/重复检查:不执行,降级影子单。
	if evt.Direction == "LONG" && longCount >= cfg.MaxLongs {
		return r.toShadow(ctx, evt, score, "max_longs_reached")
	}
	if evt.Direction == "SHORT" && shortCount >= cfg.MaxShorts {
		return r.toShadow(ctx, evt, score, "max_shorts_reached")
	}
	if duplicate != nil {
		return r.toShadow(ctx, evt, score, "duplicate_position")
	}

	equity, err := r.exch.Equity(ctx)
	if err != nil {
		return Result{}, &ExternalServiceError{Service: "exchange equity", Err: err}
	}
	if equity <= 0 {
		return Result{}, &InsufficientDataError{Reason: "账户权益非正,无法下单"}
	}

	rules, err := r.exch.SymbolRules(ctx, evt.Symbol)
	if err != nil {
		return Result{}, &ExternalServiceError{Service: "exchange rules", Err: err}
	}
	if err := r.exch.SetLeverage(ctx, evt.Symbol, cfg.Leverage); err != nil {
		return Result{}, &ExternalServiceError{Service: "exchange leverage", Err: err}
	}

	sizing := risk.Size(risk.SizeParams{
		Equity:   equity,
		Entry:    evt.Entry,
		StopLoss: evt.StopLoss,
		RiskPct:  cfg.RiskPct,
		MaxPct:   cfg.MaxPct,
		Leverage: cfg.Leverage,
	})
	if sizing.Qty <= 0 {
		return Result{}, &ValidationError{Reason: "止损距离为 0,无法计算仓位"}
	}
	qty := trading.RoundQtyToStep(sizing.Qty, rules.QtyStep)
	if qty <= 0 || (rules.MinQty > 0 && qty < rules.MinQty) {
		return Result{}, &ValidationError{Reason: fmt.Sprintf("数量 %v 低于交易所下限", qty)}
	}
	if notional := trading.Notional(qty, evt.Entry); rules.MinNotional > 0 && notional < rules.MinNotional {
		return Result{}, &ValidationError{Reason: fmt.Sprintf("名义价值 %v 低于交易所下限 %v", notional, rules.MinNotional)}
	}

	side := sideOf(evt.Direction)
	order := exchange.OrderRequest{
		Symbol:      evt.Symbol,
		Side:        side,
		Qty:         qty,
		StopLoss:    evt.StopLoss,
		TakeProfits: buildTakeProfits(evt, cfg.TPMode, qty, rules.QtyStep),
	}
	placed, err := r.exch.PlaceOrder(ctx, order)
	if err != nil {
		if notifyErr := r.notify.SendText(notifier.ErrorMessage("下单", evt.Symbol, err)); notifyErr != nil {
			logger.Warnf("[引擎] 错误通知失败: %v", notifyErr)
		}
		return Result{}, &OrderPlacementError{Symbol: evt.Symbol, Err: err}
	}

	rec := store.TradeRecord{
		Symbol:      evt.Symbol,
		Side:        evt.Direction,
		EntryPrice:  evt.Entry,
		StopLoss:    evt.StopLoss,
		TakeProfit:  evt.TakeProfit,
		Qty:         qty,
		Leverage:    cfg.Leverage,
		Margin:      sizing.Margin,
		Score:       score.Total,
		Confidence:  score.Confidence,
		Indicators:  indicatorSnapshot(evt, readyCtx),
		TakeProfit2: secondTakeProfit(evt, cfg.TPMode),
	}
	tradeID, err := r.trades.LogEntry(ctx, rec)
	if err != nil {
		// 仓位已开,记录失败只告警不回滚。
		logger.Errorf("[引擎] 交易落盘失败 %s: %v", evt.Symbol, err)
	}

	r.mu.Lock()
	r.pending[placed.OrderID] = &pendingOrder{
		symbol:    evt.Symbol,
		direction: evt.Direction,
		tradeID:   tradeID,
		entry:     evt.Entry,
		tp:        evt.TakeProfit,
		sl:        evt.StopLoss,
		createdAt: time.Now().UTC(),
	}
	r.mu.Unlock()

	if r.trailing != nil {
		r.trailing.Track(evt.Symbol, side, evt.Entry, evt.TakeProfit, evt.StopLoss)
	}
	if err := r.notify.SendText(notifier.PositionOpenedMessage(
		evt.Symbol, evt.Direction, qty, placed.AvgPrice, evt.StopLoss, evt.TakeProfit, sizing.Margin, cfg.Leverage)); err != nil {
		logger.Warnf("[引擎] 开仓通知失败: %v", err)
	}

	return Result{
		Status:    "success",
		Symbol:    evt.Symbol,
		Direction: evt.Direction,
		OrderID:   placed.OrderID,
		Qty:       qty,
		Entry:     evt.Entry,
		TP:        evt.TakeProfit,
		SL:        evt.StopLoss,
		Score:     score.Total,
	}, nil
}

// onExit 平仓簿记。找不到未平仓交易只警告——影子单或手工平仓后
// 收到 EXIT 属于正常情况。
func (r *Router) onExit(ctx context.Context, evt Event) (Result, error) {
	open, err := r.trades.FindOpenTrade(ctx, evt.Symbol, evt.Direction)
	if err != nil {
		return Result{}, &ExternalServiceError{Service: "trade store", Err: err}
	}
	if open == nil {
		logger.Warnf("[EXIT] 未找到未平仓交易 %s %s", evt.Direction, evt.Symbol)
		return Result{Status: "ok", Type: "exit", Warning: "no open trade found"}, nil
	}

	pnlPct := exitPnLPct(evt.Direction, open.EntryPrice, evt.ExitPrice, open.Leverage)
	pnlUSD := open.Margin * pnlPct / 100

	reason := "sl"
	if evt.Outcome == "WIN" {
		reason = "tp"
	}
	if err := r.trades.LogExit(ctx, open.ID, evt.ExitPrice, pnlPct, pnlUSD, reason); err != nil {
		return Result{}, &ExternalServiceError{Service: "trade store", Err: err}
	}
	if r.winrates != nil {
		r.winrates.Invalidate(evt.Symbol)
	}
	if r.trailing != nil {
		r.trailing.Untrack(evt.Symbol)
	}
	r.removePendingBySymbol(evt.Symbol)

	logger.Infof("[EXIT] %s %s -> %s @ %v pnl=%.2f%%", evt.Direction, evt.Symbol, evt.Outcome, evt.ExitPrice, pnlPct)
	if err := r.notify.SendText(notifier.PositionClosedMessage(
		evt.Symbol, evt.Direction, reason, evt.ExitPrice, pnlPct, pnlUSD)); err != nil {
		logger.Warnf("[引擎] 平仓通知失败: %v", err)
	}

	return Result{
		Status:  "success",
		Type:    "exit",
		Symbol:  evt.Symbol,
		Outcome: evt.Outcome,
		PnL:     pnlUSD,
	}, nil
}

// CloseManual 手工平仓(/close 端点):市价平仓并按成交价结算簿记。
func (r *Router) CloseManual(ctx context.Context, symbol, direction string) (Result, error) {
	open, err := r.trades.FindOpenTrade(ctx, symbol, direction)
	if err != nil {
		return Result{}, &ExternalServiceError{Service: "trade store", Err: err}
	}
	if open == nil {
		return Result{}, &ValidationError{Reason: fmt.Sprintf("没有 %s %s 的未平仓交易", direction, symbol)}
	}

	exitPrice, err := r.exch.ClosePosition(ctx, symbol, sideOf(direction))
	if err != nil {
		return Result{}, &ExternalServiceError{Service: "exchange close", Err: err}
	}

	pnlPct := exitPnLPct(direction, open.EntryPrice, exitPrice, open.Leverage)
	pnlUSD := open.Margin * pnlPct / 100
	if err := r.trades.LogExit(ctx, open.ID, exitPrice, pnlPct, pnlUSD, "manual"); err != nil {
		logger.Errorf("[引擎] 手工平仓落盘失败 %s: %v", symbol, err)
	}
	if r.winrates != nil {
		r.winrates.Invalidate(symbol)
	}
	if r.trailing != nil {
		r.trailing.Untrack(symbol)
	}
	r.removePendingBySymbol(symbol)

	if err := r.notify.SendText(notifier.PositionClosedMessage(symbol, direction, "manual", exitPrice, pnlPct, pnlUSD)); err != nil {
		logger.Warnf("[引擎] 平仓通知失败: %v", err)
	}
	return Result{Status: "success", Type: "close", Symbol: symbol, PnL: pnlUSD}, nil
}

// toShadow 把未执行的信号降级为影子单。
func (r *Router) toShadow(ctx context.Context, evt Event, score risk.Score, reason string) (Result, error) {
	logger.Infof("[SHADOW] %s %s 原因=%s", evt.Direction, evt.Symbol, reason)
	var shadowID string
	if r.shadows != nil {
		id, err := r.shadows.Add(ctx, store.ShadowTrade{
			Symbol:     evt.Symbol,
			Side:       evt.Direction,
			EntryPrice: evt.Entry,
			StopLoss:   evt.StopLoss,
			TakeProfit: evt.TakeProfit,
			Score:      score.Total,
			Reason:     reason,
		})
		if err != nil {
			logger.Warnf("[引擎] 影子单落盘失败 %s: %v", evt.Symbol, err)
		}
		shadowID = id
	}
	if err := r.notify.SendText(notifier.ShadowOpenedMessage(evt.Symbol, evt.Direction, reason, evt.Entry, score.Total)); err != nil {
		logger.Warnf("[引擎] 影子单通知失败: %v", err)
	}
	return Result{
		Status:    "shadow",
		Symbol:    evt.Symbol,
		Direction: evt.Direction,
		Reason:    reason,
		ShadowID:  shadowID,
		Score:     score.Total,
	}, nil
}

func (r *Router) removePendingBySymbol(symbol string) {
	r.mu.Lock()
	for id, p := range r.pending {
		if p.symbol == symbol {
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()
}

func (r *Router) scoreEvent(ctx context.Context, evt Event) risk.Score {
	var winrate float64 = 0.5
	var trades int
	if r.winrates != nil {
		winrate, trades = r.winrates.Get(ctx, evt.Symbol)
	}
	return risk.ScoreSignal(risk.ScoreInput{
		Side:     evt.Direction,
		RSI:      evt.RSI,
		VolRatio: evt.VolRatio,
		ATRPct:   evt.ATRPct,
		Winrate:  winrate,
		Trades:   trades,
	})
}

// ReadyStates 返回就绪态快照。
func (r *Router) ReadyStates() []ReadySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReadySnapshot, 0, len(r.ready))
	for key, st := range r.ready {
		out = append(out, ReadySnapshot{
			Key:       key,
			Entry:     st.entry,
			TP:        st.tp,
			SL:        st.sl,
			BarsReady: st.barsReady,
			CreatedAt: st.createdAt,
		})
	}
	return out
}

// PendingCount 返回挂单簿记数量。
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// PendingSnapshot 供 /orders 展示。
type PendingSnapshot struct {
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Entry      float64 `json:"entry"`
	TP         float64 `json:"tp"`
	SL         float64 `json:"sl"`
	AgeMinutes float64 `json:"age_minutes"`
}

// PendingOrders 返回挂单簿记快照。
func (r *Router) PendingOrders() []PendingSnapshot {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingSnapshot, 0, len(r.pending))
	for id, p := range r.pending {
		out = append(out, PendingSnapshot{
			OrderID:    id,
			Symbol:     p.symbol,
			Direction:  p.direction,
			Entry:      p.entry,
			TP:         p.tp,
			SL:         p.sl,
			AgeMinutes: now.Sub(p.createdAt).Minutes(),
		})
	}
	return out
}

func validateKey(evt Event) error {
	if evt.Symbol == "" {
		return &ValidationError{Reason: "缺少 coin 字段"}
	}
	if evt.Direction != "LONG" && evt.Direction != "SHORT" {
		return &ValidationError{Reason: "direction 必须是 LONG/SHORT"}
	}
	return nil
}

func validateTriggered(evt Event) error {
	if err := validateKey(evt); err != nil {
		return err
	}
	if evt.Entry <= 0 || evt.StopLoss <= 0 {
		return &ValidationError{Reason: "缺少必填字段 (entry, sl)"}
	}
	return nil
}

// exitPnLPct 计算带杠杆的收益百分比。
func exitPnLPct(direction string, entry, exit float64, leverage int) float64 {
	if entry <= 0 {
		return 0
	}
	change := (exit - entry) / entry * 100
	if direction == "SHORT" {
		change = -change
	}
	if leverage <= 0 {
		leverage = 1
	}
	return change * float64(leverage)
}

// buildTakeProfits 按 TP 模式生成止盈腿:
// single 模式整仓在 TP 平;split 模式一半在 TP,一半在两倍距离的 TP2。
func buildTakeProfits(evt Event, mode string, qty, step float64) []exchange.TakeProfit {
	if evt.TakeProfit <= 0 {
		return nil
	}
	if mode != "split" {
		// Qty 0 → closePosition,全仓止盈。
		return []exchange.TakeProfit{{Price: evt.TakeProfit}}
	}
	tp2 := secondTakeProfit(evt, mode)
	first, second := trading.SplitQty(qty, step)
	if second <= 0 {
		return []exchange.TakeProfit{{Price: evt.TakeProfit}}
	}
	return []exchange.TakeProfit{
		{Price: evt.TakeProfit, Qty: first},
		{Price: tp2, Qty: second},
	}
}

// secondTakeProfit 返回 split 模式下的第二目标价:入场价加两倍 TP 距离。
func secondTakeProfit(evt Event, mode string) float64 {
	if mode != "split" || evt.TakeProfit <= 0 {
		return 0
	}
	dist := evt.TakeProfit - evt.Entry
	return evt.Entry + 2*dist
}

// indicatorSnapshot 把评分特征与就绪态上下文打包进交易记录。
func indicatorSnapshot(evt Event, ready *readyState) map[string]float64 {
	out := make(map[string]float64)
	if evt.RSI != nil {
		out["rsi"] = *evt.RSI
	}
	if evt.VolRatio != nil {
		out["volume_ratio"] = *evt.VolRatio
	}
	if evt.ATRPct != nil {
		out["atr_percent"] = *evt.ATRPct
	}
	if ready != nil {
		if ready.atr != nil {
			out["atr"] = *ready.atr
		}
		if ready.zoneWidth != nil {
			out["zone_width"] = *ready.zoneWidth
		}
		out["bars_in_ready"] = float64(ready.barsReady)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
