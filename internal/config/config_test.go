package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
[webhook]
secret = "s3cret"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 2.0, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 20, cfg.Risk.DefaultLeverage)
	assert.Equal(t, 5.0, cfg.Risk.MaxPositionSizePct)
	assert.Equal(t, "single", cfg.Risk.TPMode)
	assert.Equal(t, 4, cfg.Risk.MaxLongs)
	assert.Equal(t, 4, cfg.Risk.MaxShorts)
	assert.True(t, cfg.Trailing.Enabled)
	assert.Equal(t, 85.0, cfg.Trailing.TPThresholdPct)
	assert.Equal(t, 30.0, cfg.Trailing.SLMovePct)
	assert.Equal(t, 30, cfg.Shadow.PollIntervalSeconds)
	assert.Equal(t, 300, cfg.Winrate.TTLSeconds)
	assert.Equal(t, "X-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, "USDT", cfg.Exchange.QuoteSuffix)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[app]
http_addr = ":9000"
log_level = "debug"

[risk]
risk_per_trade_pct = 1.5
default_leverage = 10
tp_mode = "split"
max_longs = 2

[trailing]
enabled = false
tp_threshold_pct = 70.0
sl_move_pct = 20.0

[webhook]
secret = "s3cret"
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.App.HTTPAddr)
	assert.Equal(t, 1.5, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 10, cfg.Risk.DefaultLeverage)
	assert.Equal(t, "split", cfg.Risk.TPMode)
	assert.Equal(t, 2, cfg.Risk.MaxLongs)
	// 显式关掉的开关不会被默认值翻回去。
	assert.False(t, cfg.Trailing.Enabled)
	assert.Equal(t, 70.0, cfg.Trailing.TPThresholdPct)
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("EXCHANGE_API_KEY", "env-key")
	t.Setenv("WEBHOOK_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, `
[exchange]
api_key = "file-key"
[webhook]
secret = "file-secret"
`))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "env-secret", cfg.Webhook.Secret)
}

func TestLoadAllowsEmptySecret(t *testing.T) {
	// 空 secret 合法,HTTP 层会关闭签名校验。
	cfg, err := Load(writeConfig(t, `
[app]
log_level = "info"
`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Webhook.Secret)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, `
[risk]
tp_mode = "triple"
[webhook]
secret = "s3cret"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tp_mode")

	_, err = Load(writeConfig(t, `
[trailing]
tp_threshold_pct = 50.0
sl_move_pct = 60.0
[webhook]
secret = "s3cret"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sl_move_pct")

	_, err = Load(writeConfig(t, `
[notify.telegram]
enabled = true
[webhook]
secret = "s3cret"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
