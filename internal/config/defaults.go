package config

const (
	defaultHTTPAddr = ":8080"
	defaultLogLevel = "info"

	defaultRiskPerTradePct    = 2.0
	defaultLeverage           = 20
	defaultMaxPositionSizePct = 5.0
	defaultTPMode             = "single"
	defaultMaxLongs           = 4
	defaultMaxShorts          = 4

	defaultTPThresholdPct    = 85.0
	defaultSLMovePct         = 30.0
	defaultReconnectMinDelay = 1
	defaultReconnectMaxDelay = 30

	defaultShadowPollSeconds = 30
	defaultWinrateTTLSeconds = 300

	defaultSignatureHeader = "X-Signature"
	defaultStorePath       = "data/sotrader.db"
	defaultEventLogPath    = "data/events.db"
	defaultQuoteSuffix     = "USDT"
	defaultTimeoutSeconds  = 10
)

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, value string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == "" },
		apply: func() { *target = value },
	}
}

func boolFieldDefault(key string, target *bool, value bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = value },
	}
}

// applyDefaults 只在配置文件没有显式设置时填充默认值,
// 已写明的 0 值不会被覆盖。
func applyDefaults(cfg *Config, keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &cfg.App.Env, "prod"),
		stringFieldDefault("app.log_level", &cfg.App.LogLevel, defaultLogLevel),
		stringFieldDefault("app.http_addr", &cfg.App.HTTPAddr, defaultHTTPAddr),

		stringFieldDefault("exchange.name", &cfg.Exchange.Name, "binance"),
		stringFieldDefault("exchange.quote_suffix", &cfg.Exchange.QuoteSuffix, defaultQuoteSuffix),
		fieldDefault{
			key:   "exchange.timeout_seconds",
			need:  func() bool { return cfg.Exchange.TimeoutSeconds <= 0 },
			apply: func() { cfg.Exchange.TimeoutSeconds = defaultTimeoutSeconds },
		},

		fieldDefault{
			key:   "risk.risk_per_trade_pct",
			need:  func() bool { return cfg.Risk.RiskPerTradePct <= 0 },
			apply: func() { cfg.Risk.RiskPerTradePct = defaultRiskPerTradePct },
		},
		fieldDefault{
			key:   "risk.default_leverage",
			need:  func() bool { return cfg.Risk.DefaultLeverage <= 0 },
			apply: func() { cfg.Risk.DefaultLeverage = defaultLeverage },
		},
		fieldDefault{
			key:   "risk.max_position_size_pct",
			need:  func() bool { return cfg.Risk.MaxPositionSizePct <= 0 },
			apply: func() { cfg.Risk.MaxPositionSizePct = defaultMaxPositionSizePct },
		},
		stringFieldDefault("risk.tp_mode", &cfg.Risk.TPMode, defaultTPMode),
		fieldDefault{
			key:   "risk.max_longs",
			need:  func() bool { return cfg.Risk.MaxLongs <= 0 },
			apply: func() { cfg.Risk.MaxLongs = defaultMaxLongs },
		},
		fieldDefault{
			key:   "risk.max_shorts",
			need:  func() bool { return cfg.Risk.MaxShorts <= 0 },
			apply: func() { cfg.Risk.MaxShorts = defaultMaxShorts },
		},

		boolFieldDefault("trailing.enabled", &cfg.Trailing.Enabled, true),
		fieldDefault{
			key:   "trailing.tp_threshold_pct",
			need:  func() bool { return cfg.Trailing.TPThresholdPct <= 0 },
			apply: func() { cfg.Trailing.TPThresholdPct = defaultTPThresholdPct },
		},
		fieldDefault{
			key:   "trailing.sl_move_pct",
			need:  func() bool { return cfg.Trailing.SLMovePct <= 0 },
			apply: func() { cfg.Trailing.SLMovePct = defaultSLMovePct },
		},
		fieldDefault{
			key:   "trailing.reconnect_min_delay_seconds",
			need:  func() bool { return cfg.Trailing.ReconnectMinDelay <= 0 },
			apply: func() { cfg.Trailing.ReconnectMinDelay = defaultReconnectMinDelay },
		},
		fieldDefault{
			key:   "trailing.reconnect_max_delay_seconds",
			need:  func() bool { return cfg.Trailing.ReconnectMaxDelay <= 0 },
			apply: func() { cfg.Trailing.ReconnectMaxDelay = defaultReconnectMaxDelay },
		},

		fieldDefault{
			key:   "shadow.poll_interval_seconds",
			need:  func() bool { return cfg.Shadow.PollIntervalSeconds <= 0 },
			apply: func() { cfg.Shadow.PollIntervalSeconds = defaultShadowPollSeconds },
		},
		fieldDefault{
			key:   "winrate.ttl_seconds",
			need:  func() bool { return cfg.Winrate.TTLSeconds <= 0 },
			apply: func() { cfg.Winrate.TTLSeconds = defaultWinrateTTLSeconds },
		},

		stringFieldDefault("webhook.signature_header", &cfg.Webhook.SignatureHeader, defaultSignatureHeader),
		stringFieldDefault("store.path", &cfg.Store.Path, defaultStorePath),
		stringFieldDefault("store.event_log_path", &cfg.Store.EventLogPath, defaultEventLogPath),
		stringFieldDefault("notify.telegram.bot_name", &cfg.Notify.Telegram.BotName, "sotrader"),
	)
}
