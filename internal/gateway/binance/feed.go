package binance

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"sotrader/internal/logger"
	"sotrader/internal/market"
)

const defaultTickBuffer = 256

var errAlreadySubscribed = errors.New("binance: tick feed already subscribed")

// Feed 通过币安合约 aggTrade 组合流推送成交价,实现 market.TickSource。
// 订阅集合可以在运行中增减:Track/Untrack 会触发一次重连,
// 新连接带上最新的 symbol 集合。
type Feed struct {
	minDelay time.Duration
	maxDelay time.Duration

	mu      sync.Mutex
	symbols map[string]struct{}
	started bool
	cancel  context.CancelFunc

	// resub 缓冲 1,多次变更合并成一次重连。
	resub chan struct{}

	statsMu sync.Mutex
	stats   market.SourceStats
}

var _ market.TickSource = (*Feed)(nil)

func NewFeed(minDelay, maxDelay time.Duration) *Feed {
	if minDelay <= 0 {
		minDelay = time.Second
	}
	if maxDelay < minDelay {
		maxDelay = 30 * time.Second
	}
	return &Feed{
		minDelay: minDelay,
		maxDelay: maxDelay,
		symbols:  make(map[string]struct{}),
		resub:    make(chan struct{}, 1),
	}
}

func (f *Feed) SubscribeTicks(opts market.SubscribeOptions) (<-chan market.TickEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil, errAlreadySubscribed
	}
	f.started = true

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultTickBuffer
	}
	out := make(chan market.TickEvent, buffer)
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.run(ctx, out, opts)
	return out, nil
}

func (f *Feed) Track(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}
	f.mu.Lock()
	_, exists := f.symbols[symbol]
	f.symbols[symbol] = struct{}{}
	f.mu.Unlock()
	if !exists {
		f.requestResubscribe()
	}
}

func (f *Feed) Untrack(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	f.mu.Lock()
	_, exists := f.symbols[symbol]
	delete(f.symbols, symbol)
	f.mu.Unlock()
	if exists {
		f.requestResubscribe()
	}
}

func (f *Feed) Close() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (f *Feed) Stats() market.SourceStats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	out := f.stats
	out.Symbols = f.snapshotSymbols()
	return out
}

func (f *Feed) requestResubscribe() {
	select {
	case f.resub <- struct{}{}:
	default:
	}
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.symbols))
	for sym := range f.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (f *Feed) run(ctx context.Context, out chan<- market.TickEvent, opts market.SubscribeOptions) {
	defer close(out)
	delay := f.minDelay
	for {
		if ctx.Err() != nil {
			return
		}
		symbols := f.snapshotSymbols()
		if len(symbols) == 0 {
			// 没有订阅目标时保持空闲,等下一个 Track。
			select {
			case <-ctx.Done():
				return
			case <-f.resub:
			}
			continue
		}

		var errMu sync.Mutex
		var lastErr error
		handler := func(event *futures.WsAggTradeEvent) {
			te, ok := convertAggTrade(event)
			if !ok {
				return
			}
			f.recordTick(te.Time)
			select {
			case <-ctx.Done():
			case out <- te:
			default:
				f.recordDrop()
				logger.Warnf("[binance] tick 通道已满,丢弃 %s", te.Symbol)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}

		doneC, stopC, err := futures.WsCombinedAggTradeServe(symbols, handler, errHandler)
		if err != nil {
			f.setConnected(false)
			logger.Warnf("[binance] aggTrade 订阅失败,%s 后重试: %v", delay, err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = f.nextDelay(delay)
			continue
		}
		delay = f.minDelay
		f.setConnected(true)
		logger.Infof("[binance] aggTrade 已连接: %s", strings.Join(symbols, ","))
		if opts.OnConnect != nil {
			opts.OnConnect(symbols)
		}

		reconnect := false
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-f.resub:
			// 订阅集合变了,主动断开重连。
			reconnect = true
			close(stopC)
			<-doneC
		case <-doneC:
			close(stopC)
		}

		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		f.recordReconnect()
		if opts.OnDisconnect != nil && !reconnect {
			opts.OnDisconnect(errCopy)
		}
		if reconnect {
			continue
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = f.nextDelay(delay)
	}
}

func (f *Feed) nextDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > f.maxDelay {
		next = f.maxDelay
	}
	if next < f.minDelay {
		next = f.minDelay
	}
	return next
}

func (f *Feed) setConnected(connected bool) {
	f.statsMu.Lock()
	f.stats.Connected = connected
	f.statsMu.Unlock()
}

func (f *Feed) recordTick(at time.Time) {
	f.statsMu.Lock()
	f.stats.LastTickTime = at
	f.statsMu.Unlock()
}

func (f *Feed) recordDrop() {
	f.statsMu.Lock()
	f.stats.Dropped++
	f.statsMu.Unlock()
}

func (f *Feed) recordReconnect() {
	f.statsMu.Lock()
	f.stats.Connected = false
	f.stats.Reconnects++
	f.statsMu.Unlock()
}

func convertAggTrade(ev *futures.WsAggTradeEvent) (market.TickEvent, bool) {
	if ev == nil {
		return market.TickEvent{}, false
	}
	price, _ := strconv.ParseFloat(strings.TrimSpace(ev.Price), 64)
	if price <= 0 {
		return market.TickEvent{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	if symbol == "" {
		return market.TickEvent{}, false
	}
	return market.TickEvent{
		Symbol: symbol,
		Price:  price,
		Time:   time.UnixMilli(ev.Time),
	}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
