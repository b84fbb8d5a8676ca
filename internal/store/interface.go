// Package store 定义交易与影子单的持久化抽象。
package store

import (
	"context"
	"time"
)

// TradeRecord 是一笔实仓交易的领域视图。
type TradeRecord struct {
	ID          int64
	Symbol      string
	Side        string
	EntryPrice  float64
	StopLoss    float64
	TakeProfit  float64
	TakeProfit2 float64
	Qty         float64
	Leverage    int
	Margin      float64
	Score       float64
	Confidence  float64

	ExitPrice  float64
	ExitReason string
	PnLPct     float64
	PnLUSD     float64
	Open       bool

	Indicators map[string]float64

	OpenedAt time.Time
	ClosedAt time.Time
}

// ShadowTrade 是未实际下单、仅用于验证信号质量的影子记录。
type ShadowTrade struct {
	ID         string
	Symbol     string
	Side       string
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Score      float64
	Reason     string
	Outcome    string // "" | "WIN" | "LOSS"
	ExitPrice  float64
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// SymbolStats 是某个 symbol 的已平仓历史战绩。
type SymbolStats struct {
	Wins  int
	Total int
}

// Summary 聚合给 /status 用的总览数据。
type Summary struct {
	OpenTrades    int     `json:"open_trades"`
	ClosedTrades  int     `json:"closed_trades"`
	TotalPnLUSD   float64 `json:"total_pnl_usd"`
	WinCount      int     `json:"win_count"`
	LossCount     int     `json:"loss_count"`
	OpenShadows   int     `json:"open_shadows"`
	ShadowWins    int     `json:"shadow_wins"`
	ShadowLosses  int     `json:"shadow_losses"`
}

// TradeStore 是 engine/trailing/shadow 共用的持久层接口。
type TradeStore interface {
	// LogEntry 记录开仓,返回自增 ID。
	LogEntry(ctx context.Context, rec TradeRecord) (int64, error)
	// LogExit 把出场信息补写到已有交易并标记关闭。
	LogExit(ctx context.Context, id int64, exitPrice, pnlPct, pnlUSD float64, reason string) error
	// FindOpenTrade 按 symbol+side 查找未平仓交易,找不到返回 nil。
	FindOpenTrade(ctx context.Context, symbol, side string) (*TradeRecord, error)
	// OpenTrades 列出全部未平仓交易。
	OpenTrades(ctx context.Context) ([]TradeRecord, error)
	// RecentTrades 按开仓时间倒序返回最近 limit 笔交易。
	RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error)
	// SymbolStats 返回 symbol 的已平仓胜负统计。
	SymbolStats(ctx context.Context, symbol string) (SymbolStats, error)

	// LogShadow 记录一笔影子单。
	LogShadow(ctx context.Context, rec ShadowTrade) error
	// OpenShadows 列出仍在跟踪的影子单。
	OpenShadows(ctx context.Context) ([]ShadowTrade, error)
	// CloseShadow 以 WIN/LOSS 终结影子单。
	CloseShadow(ctx context.Context, id string, exitPrice float64, outcome string) error

	// Summarize 返回总览统计。
	Summarize(ctx context.Context) (Summary, error)

	Close() error
}
