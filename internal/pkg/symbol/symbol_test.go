package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureQuote(t *testing.T) {
	assert.Equal(t, "BTCUSDT", EnsureQuote("BTC", "USDT"))
	assert.Equal(t, "BTCUSDT", EnsureQuote("btc", "usdt"))
	assert.Equal(t, "BTCUSDT", EnsureQuote("BTC/USDT", "USDT"))
	assert.Equal(t, "ETHUSDT", EnsureQuote("ETHUSDT", "USDT"))
	// 裸的计价币名自己也要补后缀。
	assert.Equal(t, "BNBUSDT", EnsureQuote("BNB", "USDT"))
	assert.Equal(t, "BTCUSDT", EnsureQuote(" btc ", ""))
	assert.Equal(t, "", EnsureQuote("", "USDT"))
}

func TestHasQuote(t *testing.T) {
	assert.True(t, HasQuote("BTCUSDT"))
	assert.True(t, HasQuote("SOLBNB"))
	assert.False(t, HasQuote("XYZ"))
	// 裸计价币名不算带后缀。
	assert.False(t, HasQuote("USDT"))
}
