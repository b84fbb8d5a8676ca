// Package app 负责应用级编排:加载配置 → 初始化依赖 → 启动各服务。
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"sotrader/internal/config"
	"sotrader/internal/engine"
	"sotrader/internal/gateway/binance"
	"sotrader/internal/gateway/notifier"
	"sotrader/internal/logger"
	"sotrader/internal/risk"
	"sotrader/internal/scheduler"
	"sotrader/internal/shadow"
	"sotrader/internal/store"
	"sotrader/internal/store/eventlog"
	"sotrader/internal/store/gormstore"
	"sotrader/internal/trailing"
	webhookhttp "sotrader/internal/transport/http/webhook"
)

// App 持有全部运行时组件。
type App struct {
	cfg     *config.Config
	cfgPath string

	exch     *binance.Client
	feed     *binance.Feed
	trades   store.TradeStore
	audit    *eventlog.Store
	notify   notifier.TextNotifier
	winrates *risk.WinrateCache
	trailing *trailing.Monitor
	shadows  *shadow.Tracker
	engine   *engine.Router
	http     *webhookhttp.Server
}

// NewApp 根据配置构建应用对象(不启动)。
func NewApp(cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	exch := binance.NewClient(binance.Config{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Testnet:   cfg.Exchange.Testnet,
		BaseURL:   cfg.Exchange.RESTBaseURL,
		Timeout:   time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
	})

	trades, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化交易库: %w", err)
	}
	audit, err := eventlog.New(cfg.Store.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("初始化审计库: %w", err)
	}

	var notify notifier.TextNotifier = notifier.Noop{}
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	feed := binance.NewFeed(
		time.Duration(cfg.Trailing.ReconnectMinDelay)*time.Second,
		time.Duration(cfg.Trailing.ReconnectMaxDelay)*time.Second,
	)
	trailMon := trailing.NewMonitor(exch, feed, notify,
		cfg.Trailing.Enabled, cfg.Trailing.TPThresholdPct, cfg.Trailing.SLMovePct)

	shadows := shadow.NewTracker(exch, trades,
		time.Duration(cfg.Shadow.PollIntervalSeconds)*time.Second)

	winrates := risk.NewWinrateCache(trades,
		time.Duration(cfg.Winrate.TTLSeconds)*time.Second)

	router := engine.NewRouter(engine.Deps{
		Exchange: exch,
		Trades:   trades,
		Audit:    audit,
		Notify:   notify,
		Winrates: winrates,
		Trailing: trailMon,
		Shadows:  shadows,
	}, engineConfig(cfg))

	httpSrv, err := webhookhttp.NewServer(webhookhttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Secret:    cfg.Webhook.Secret,
		SigHeader: cfg.Webhook.SignatureHeader,
		Quote:     cfg.Exchange.QuoteSuffix,
		Engine:    router,
		Exchange:  exch,
		Trades:    trades,
		Audit:     audit,
		Shadows:   shadows,
		Trailing:  trailMon,
		Feed:      feed,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务: %w", err)
	}

	return &App{
		cfg:      cfg,
		cfgPath:  cfgPath,
		exch:     exch,
		feed:     feed,
		trades:   trades,
		audit:    audit,
		notify:   notify,
		winrates: winrates,
		trailing: trailMon,
		shadows:  shadows,
		engine:   router,
		http:     httpSrv,
	}, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		RiskPct:   cfg.Risk.RiskPerTradePct,
		MaxPct:    cfg.Risk.MaxPositionSizePct,
		Leverage:  cfg.Risk.DefaultLeverage,
		TPMode:    cfg.Risk.TPMode,
		MaxLongs:  cfg.Risk.MaxLongs,
		MaxShorts: cfg.Risk.MaxShorts,
	}
}

// Run 启动 HTTP 服务、追踪止损监控、影子单轮询和配置热更新,
// 任一组件出错整组退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	// 重启后把库里的影子单捡回来继续盯。
	if err := a.shadows.Restore(ctx); err != nil {
		logger.Warnf("[启动] 影子单恢复失败: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.trailing.Run(ctx)
	})
	group.Go(func() error {
		return a.shadows.Run(ctx)
	})
	group.Go(func() error {
		scheduler.NewIntervalScheduler(ctx, 24*time.Hour).Start(func() {
			a.sendSummary(ctx, "每日")
		})
		return nil
	})
	group.Go(func() error {
		scheduler.NewIntervalScheduler(ctx, 7*24*time.Hour).Start(func() {
			a.sendSummary(ctx, "每周")
		})
		return nil
	})
	if a.cfgPath != "" {
		if err := config.Watch(ctx, a.cfgPath, a.applyReload); err != nil {
			logger.Warnf("[启动] 配置热加载未启用: %v", err)
		}
	}

	logger.Infof("✓ 服务已启动,监听 %s (testnet=%v)", a.http.Addr(), a.cfg.Exchange.Testnet)
	if err := a.notify.SendText(notifier.ServiceStartedMessage("sotrader", a.http.Addr())); err != nil {
		logger.Warnf("[启动] 启动通知失败: %v", err)
	}

	err := group.Wait()
	a.close()
	return err
}

// sendSummary 把累计战绩推送到通知渠道。
func (a *App) sendSummary(ctx context.Context, period string) {
	sum, err := a.trades.Summarize(ctx)
	if err != nil {
		logger.Warnf("[汇总] 统计查询失败: %v", err)
		return
	}
	msg := notifier.TradeSummaryMessage(period, sum.OpenTrades, sum.ClosedTrades,
		sum.WinCount, sum.LossCount, sum.TotalPnLUSD, sum.ShadowWins, sum.ShadowLosses)
	if err := a.notify.SendText(msg); err != nil {
		logger.Warnf("[汇总] 推送失败: %v", err)
	}
}

// applyReload 把热更新后的配置推给运行中的组件。
// 只接受运行期可变的参数,交易所凭据等改动需要重启。
func (a *App) applyReload(cfg *config.Config) {
	a.engine.SetConfig(engineConfig(cfg))
	a.trailing.SetParams(cfg.Trailing.Enabled, cfg.Trailing.TPThresholdPct, cfg.Trailing.SLMovePct)
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("[配置] 热更新已生效")
}

func (a *App) close() {
	a.feed.Close()
	if err := a.trades.Close(); err != nil {
		logger.Warnf("[退出] 交易库关闭失败: %v", err)
	}
	if err := a.audit.Close(); err != nil {
		logger.Warnf("[退出] 审计库关闭失败: %v", err)
	}
}
