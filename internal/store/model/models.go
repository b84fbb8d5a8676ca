package model

import "gorm.io/datatypes"

type TradeStatus int

const (
	TradeStatusUnknown TradeStatus = 0
	TradeStatusOpen    TradeStatus = 1
	TradeStatusClosed  TradeStatus = 2
)

type ShadowStatus int

const (
	ShadowStatusOpen ShadowStatus = 0
	ShadowStatusWin  ShadowStatus = 1
	ShadowStatusLoss ShadowStatus = 2
)

// TradeModel 是实仓交易的持久化行,入场时写入,平仓时补全出场字段。
type TradeModel struct {
	ID          int64   `gorm:"column:id;primaryKey"`
	Symbol      string  `gorm:"column:symbol;index:idx_trades_symbol_side,priority:1"`
	Side        string  `gorm:"column:side;index:idx_trades_symbol_side,priority:2"`
	EntryPrice  float64 `gorm:"column:entry_price"`
	StopLoss    float64 `gorm:"column:stop_loss"`
	TakeProfit  float64 `gorm:"column:take_profit"`
	TakeProfit2 float64 `gorm:"column:take_profit2"`
	Qty         float64 `gorm:"column:qty"`
	Leverage    int     `gorm:"column:leverage"`
	Margin      float64 `gorm:"column:margin"`
	Score       float64 `gorm:"column:score"`
	Confidence  float64 `gorm:"column:confidence"`

	ExitPrice  float64     `gorm:"column:exit_price"`
	ExitReason string      `gorm:"column:exit_reason"`
	PnLPct     float64     `gorm:"column:pnl_pct"`
	PnLUSD     float64     `gorm:"column:pnl_usd"`
	Status     TradeStatus `gorm:"column:status;index"`

	// 入场时刻的时段画像,用于复盘不同交易时段的表现。
	EntryHour     int  `gorm:"column:entry_hour"`
	EntryWeekday  int  `gorm:"column:entry_weekday"`
	AsianSession  bool `gorm:"column:asian_session"`
	LondonSession bool `gorm:"column:london_session"`
	NYSession     bool `gorm:"column:ny_session"`

	IndicatorsJSON datatypes.JSON `gorm:"column:indicators_json;type:TEXT"`

	OpenedAtUnix int64 `gorm:"column:opened_at"`
	ClosedAtUnix int64 `gorm:"column:closed_at"`
}

func (TradeModel) TableName() string { return "trades" }

// ShadowTradeModel 是影子单:没有真实下单,只跟踪价格验证信号质量。
type ShadowTradeModel struct {
	ID         string       `gorm:"column:id;primaryKey"`
	Symbol     string       `gorm:"column:symbol;index"`
	Side       string       `gorm:"column:side"`
	EntryPrice float64      `gorm:"column:entry_price"`
	StopLoss   float64      `gorm:"column:stop_loss"`
	TakeProfit float64      `gorm:"column:take_profit"`
	Score      float64      `gorm:"column:score"`
	Reason     string       `gorm:"column:reason"`
	Status     ShadowStatus `gorm:"column:status;index"`
	ExitPrice  float64      `gorm:"column:exit_price"`

	OpenedAtUnix int64 `gorm:"column:opened_at"`
	ClosedAtUnix int64 `gorm:"column:closed_at"`
}

func (ShadowTradeModel) TableName() string { return "shadow_trades" }
