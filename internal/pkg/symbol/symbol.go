package symbol

import "strings"

// 常见的计价币后缀，用于判断告警里的 coin 是否已带后缀。
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// EnsureQuote 把策略引擎发来的 coin 规整成交易所合约符号：
// 去掉斜杠、转大写，缺少计价后缀时补上（默认 USDT）。
func EnsureQuote(coin, quote string) string {
	s := strings.ToUpper(strings.TrimSpace(coin))
	s = strings.ReplaceAll(s, "/", "")
	if s == "" {
		return ""
	}
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = "USDT"
	}
	if HasQuote(s) {
		return s
	}
	return s + quote
}

// HasQuote 判断符号是否已带已知计价币后缀。
func HasQuote(s string) bool {
	for _, q := range quoteCurrencies {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return true
		}
	}
	return false
}
