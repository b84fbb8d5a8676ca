package config

import "strings"

// Config 是 sotrader 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Risk     RiskConfig     `toml:"risk"`
	Trailing TrailingConfig `toml:"trailing"`
	Shadow   ShadowConfig   `toml:"shadow"`
	Winrate  WinrateConfig  `toml:"winrate"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Store    StoreConfig    `toml:"store"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ExchangeConfig 描述交易所网关的访问方式。
type ExchangeConfig struct {
	Name           string `toml:"name"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	Testnet        bool   `toml:"testnet"`
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	QuoteSuffix    string `toml:"quote_suffix"`
}

// RiskConfig 控制单笔风险、杠杆与方向容量。
type RiskConfig struct {
	RiskPerTradePct    float64 `toml:"risk_per_trade_pct"`
	DefaultLeverage    int     `toml:"default_leverage"`
	MaxPositionSizePct float64 `toml:"max_position_size_pct"`
	TPMode             string  `toml:"tp_mode"` // "single" | "split"
	MaxLongs           int     `toml:"max_longs"`
	MaxShorts          int     `toml:"max_shorts"`
}

// TrailingConfig 控制追踪止损：价格走到 TP 距离的 threshold% 时，
// 把 SL 挪到入场价上方/下方 move% 的位置。
type TrailingConfig struct {
	Enabled           bool    `toml:"enabled"`
	TPThresholdPct    float64 `toml:"tp_threshold_pct"`
	SLMovePct         float64 `toml:"sl_move_pct"`
	ReconnectMinDelay int     `toml:"reconnect_min_delay_seconds"`
	ReconnectMaxDelay int     `toml:"reconnect_max_delay_seconds"`
}

type ShadowConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

type WinrateConfig struct {
	TTLSeconds int `toml:"ttl_seconds"`
}

type WebhookConfig struct {
	Secret          string `toml:"secret"`
	SignatureHeader string `toml:"signature_header"`
}

type StoreConfig struct {
	Path         string `toml:"path"`
	EventLogPath string `toml:"event_log_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	BotName  string `toml:"bot_name"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}
