package config

import (
	"fmt"
	"strings"
)

// Validate 检查配置的内部一致性,启动前调用。
func (c *Config) Validate() error {
	var problems []string

	if c.App.HTTPAddr == "" {
		problems = append(problems, "app.http_addr 不能为空")
	}
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("app.log_level 非法: %q", c.App.LogLevel))
	}

	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 100 {
		problems = append(problems, fmt.Sprintf("risk.risk_per_trade_pct 需在 (0,100]: %v", c.Risk.RiskPerTradePct))
	}
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 100 {
		problems = append(problems, fmt.Sprintf("risk.max_position_size_pct 需在 (0,100]: %v", c.Risk.MaxPositionSizePct))
	}
	if c.Risk.DefaultLeverage < 1 || c.Risk.DefaultLeverage > 125 {
		problems = append(problems, fmt.Sprintf("risk.default_leverage 需在 [1,125]: %d", c.Risk.DefaultLeverage))
	}
	switch c.Risk.TPMode {
	case "single", "split":
	default:
		problems = append(problems, fmt.Sprintf("risk.tp_mode 只支持 single/split: %q", c.Risk.TPMode))
	}

	if c.Trailing.TPThresholdPct <= 0 || c.Trailing.TPThresholdPct >= 100 {
		problems = append(problems, fmt.Sprintf("trailing.tp_threshold_pct 需在 (0,100): %v", c.Trailing.TPThresholdPct))
	}
	if c.Trailing.SLMovePct < 0 || c.Trailing.SLMovePct >= c.Trailing.TPThresholdPct {
		problems = append(problems, "trailing.sl_move_pct 必须小于 tp_threshold_pct 且不为负")
	}
	if c.Trailing.ReconnectMinDelay > c.Trailing.ReconnectMaxDelay {
		problems = append(problems, "trailing 重连最小间隔不能大于最大间隔")
	}

	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			problems = append(problems, "telegram 已启用但缺少 bot_token 或 chat_id")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
