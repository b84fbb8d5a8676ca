package utils

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AsFloat 宽松地把外部输入的数值转成 float64。
// TradingView 等来源有时会把数字编码成字符串。
func AsFloat(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// AsInt 宽松整数转换。
func AsInt(val interface{}) (int, bool) {
	if f, ok := AsFloat(val); ok {
		return int(f), true
	}
	return 0, false
}
