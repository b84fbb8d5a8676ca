package exchange

import "context"

// Side 是仓位方向。
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position 是交易所返回的一个持仓。
type Position struct {
	Symbol     string
	Side       Side
	Qty        float64
	EntryPrice float64
	Leverage   int
	MarkPrice  float64
	UnrealPnL  float64
}

// SymbolRules 是下单精度约束。
type SymbolRules struct {
	Symbol      string
	QtyStep     float64
	PriceTick   float64
	MinQty      float64
	MinNotional float64
}

// OrderRequest 描述一次市价入场,附带保护单。
type OrderRequest struct {
	Symbol   string
	Side     Side
	Qty      float64
	StopLoss float64
	// TakeProfits 每个元素是一条 reduce-only 限价止盈,
	// Qty 为 0 表示 closePosition。
	TakeProfits []TakeProfit
}

type TakeProfit struct {
	Price float64
	Qty   float64
}

// OrderResult 是入场结果。
type OrderResult struct {
	OrderID    string
	Symbol     string
	Side       Side
	Qty        float64
	AvgPrice   float64
	SLOrderID  string
	TPOrderIDs []string
}

// Client 是交易所网关抽象,市价下单、保护单维护和账户查询都走这里。
type Client interface {
	// Equity 返回 USDT 本位账户权益。
	Equity(ctx context.Context) (float64, error)
	// Positions 返回全部非零持仓。
	Positions(ctx context.Context) ([]Position, error)
	// SymbolRules 返回下单精度规则。
	SymbolRules(ctx context.Context, symbol string) (SymbolRules, error)
	// SetLeverage 设置逐仓/全仓杠杆,"已是该杠杆"视为成功。
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// PlaceOrder 市价入场并挂上 SL/TP 保护单。
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// UpdateStopLoss 撤旧挂新,把止损移动到 newSL。
	UpdateStopLoss(ctx context.Context, symbol string, side Side, newSL float64) error
	// CancelOpenOrders 撤掉 symbol 上的全部挂单。
	CancelOpenOrders(ctx context.Context, symbol string) error
	// ClosePosition 市价平掉指定方向的持仓,返回成交均价。
	ClosePosition(ctx context.Context, symbol string, side Side) (float64, error)
	// LatestPrice 返回最近成交价。
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}
