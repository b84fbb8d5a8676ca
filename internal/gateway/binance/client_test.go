package binance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLeverageUnchanged(t *testing.T) {
	assert.True(t, isLeverageUnchanged(errors.New("<APIError> code=-4046, msg=No need to change leverage.")))
	assert.False(t, isLeverageUnchanged(errors.New("<APIError> code=-2019, msg=Margin is insufficient.")))
	assert.False(t, isLeverageUnchanged(nil))
}

func TestParseFilterFloat(t *testing.T) {
	f := map[string]interface{}{"filterType": "LOT_SIZE", "stepSize": "0.001", "minQty": "0.001"}
	assert.Equal(t, 0.001, parseFilterFloat(f, "stepSize"))
	// 缺字段或非字符串都归零,不让一个脏 filter 毁掉整张规则表。
	assert.Equal(t, 0.0, parseFilterFloat(f, "tickSize"))
	assert.Equal(t, 0.0, parseFilterFloat(map[string]interface{}{"stepSize": 1}, "stepSize"))
}
