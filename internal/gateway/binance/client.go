package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"sotrader/internal/gateway/exchange"
	"sotrader/internal/logger"
	"sotrader/internal/pkg/circuit"
	"sotrader/internal/pkg/trading"
)

// Config 是币安合约客户端的初始化参数。
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string
	Timeout   time.Duration
}

// Client 封装币安 USDT 本位合约接口,实现 exchange.Client。
type Client struct {
	api     *futures.Client
	breaker *circuit.Breaker
	timeout time.Duration

	rulesMu sync.RWMutex
	rules   map[string]exchange.SymbolRules
}

var _ exchange.Client = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	api := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		api:     api,
		breaker: circuit.NewBreaker("binance-rest", 5, 30*time.Second),
		timeout: timeout,
		rules:   make(map[string]exchange.SymbolRules),
	}
}

// call 统一走熔断器,避免交易所故障时雪崩。
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("binance %s: circuit open", op)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("binance %s: %w", op, err)
	}
	c.breaker.RecordSuccess()
	return nil
}

// Equity 返回 USDT 账户权益(钱包余额 + 未实现盈亏)。
func (c *Client) Equity(ctx context.Context) (float64, error) {
	var equity float64
	err := c.call(ctx, "account", func(ctx context.Context) error {
		res, err := c.api.NewGetAccountService().Do(ctx)
		if err != nil {
			return err
		}
		for _, a := range res.Assets {
			if a.Asset != "USDT" {
				continue
			}
			wallet, _ := strconv.ParseFloat(a.WalletBalance, 64)
			upnl, _ := strconv.ParseFloat(a.UnrealizedProfit, 64)
			equity = wallet + upnl
			return nil
		}
		return fmt.Errorf("USDT asset not found in account")
	})
	return equity, err
}

func (c *Client) Positions(ctx context.Context) ([]exchange.Position, error) {
	var out []exchange.Position
	err := c.call(ctx, "positions", func(ctx context.Context) error {
		res, err := c.api.NewGetPositionRiskService().Do(ctx)
		if err != nil {
			return err
		}
		for _, p := range res {
			amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
			if amt == 0 {
				continue
			}
			side := exchange.SideLong
			if amt < 0 {
				side = exchange.SideShort
			}
			entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
			mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
			upnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
			lev, _ := strconv.Atoi(p.Leverage)
			out = append(out, exchange.Position{
				Symbol:     p.Symbol,
				Side:       side,
				Qty:        math.Abs(amt),
				EntryPrice: entry,
				Leverage:   lev,
				MarkPrice:  mark,
				UnrealPnL:  upnl,
			})
		}
		return nil
	})
	return out, err
}

// SymbolRules 带本地缓存,exchangeInfo 很重,只在未命中时拉取。
func (c *Client) SymbolRules(ctx context.Context, symbol string) (exchange.SymbolRules, error) {
	c.rulesMu.RLock()
	if r, ok := c.rules[symbol]; ok {
		c.rulesMu.RUnlock()
		return r, nil
	}
	c.rulesMu.RUnlock()

	err := c.call(ctx, "exchangeInfo", func(ctx context.Context) error {
		res, err := c.api.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return err
		}
		c.rulesMu.Lock()
		defer c.rulesMu.Unlock()
		for _, s := range res.Symbols {
			rule := exchange.SymbolRules{Symbol: s.Symbol}
			for _, f := range s.Filters {
				switch f["filterType"] {
				case "PRICE_FILTER":
					rule.PriceTick = parseFilterFloat(f, "tickSize")
				case "LOT_SIZE":
					rule.QtyStep = parseFilterFloat(f, "stepSize")
					rule.MinQty = parseFilterFloat(f, "minQty")
				case "MIN_NOTIONAL":
					rule.MinNotional = parseFilterFloat(f, "notional")
				}
			}
			c.rules[s.Symbol] = rule
		}
		return nil
	})
	if err != nil {
		return exchange.SymbolRules{}, err
	}

	c.rulesMu.RLock()
	defer c.rulesMu.RUnlock()
	r, ok := c.rules[symbol]
	if !ok {
		return exchange.SymbolRules{}, fmt.Errorf("binance: symbol %s not listed", symbol)
	}
	return r, nil
}

func parseFilterFloat(f map[string]interface{}, key string) float64 {
	s, _ := f[key].(string)
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// SetLeverage 把 "No need to change leverage"(-4046)当作成功。
// 判定放在闭包里,免得重复的 no-op 调用把熔断器计成失败。
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.call(ctx, "leverage", func(ctx context.Context) error {
		_, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		if isLeverageUnchanged(err) {
			return nil
		}
		return err
	})
}

func isLeverageUnchanged(err error) bool {
	return err != nil && strings.Contains(err.Error(), "-4046")
}

// PlaceOrder 市价入场,成交后挂 STOP_MARKET 止损和 reduce-only 止盈。
// 保护单任一失败会立刻市价平仓回滚,不留裸仓位。
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	rules, err := c.SymbolRules(ctx, req.Symbol)
	if err != nil {
		return exchange.OrderResult{}, err
	}

	entrySide := futures.SideTypeBuy
	if req.Side == exchange.SideShort {
		entrySide = futures.SideTypeSell
	}
	qtyStr := trading.FormatQty(req.Qty, rules.QtyStep)

	var result exchange.OrderResult
	err = c.call(ctx, "order", func(ctx context.Context) error {
		res, err := c.api.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(entrySide).
			Type(futures.OrderTypeMarket).
			Quantity(qtyStr).
			NewOrderResponseType(futures.NewOrderRespTypeRESULT).
			Do(ctx)
		if err != nil {
			return err
		}
		avg, _ := strconv.ParseFloat(res.AvgPrice, 64)
		filled, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
		result = exchange.OrderResult{
			OrderID:  strconv.FormatInt(res.OrderID, 10),
			Symbol:   req.Symbol,
			Side:     req.Side,
			Qty:      filled,
			AvgPrice: avg,
		}
		return nil
	})
	if err != nil {
		return exchange.OrderResult{}, err
	}

	if err := c.placeProtection(ctx, req, rules, &result); err != nil {
		logger.Errorf("保护单失败,回滚 %s 仓位: %v", req.Symbol, err)
		if _, closeErr := c.ClosePosition(ctx, req.Symbol, req.Side); closeErr != nil {
			logger.Errorf("回滚平仓也失败了,需要人工介入 %s: %v", req.Symbol, closeErr)
		}
		return exchange.OrderResult{}, err
	}
	return result, nil
}

func (c *Client) placeProtection(ctx context.Context, req exchange.OrderRequest, rules exchange.SymbolRules, result *exchange.OrderResult) error {
	closeSide := futures.SideTypeSell
	if req.Side == exchange.SideShort {
		closeSide = futures.SideTypeBuy
	}

	if req.StopLoss > 0 {
		slPrice := trading.FormatPrice(req.StopLoss, rules.PriceTick)
		err := c.call(ctx, "stop-loss", func(ctx context.Context) error {
			res, err := c.api.NewCreateOrderService().
				Symbol(req.Symbol).
				Side(closeSide).
				Type(futures.OrderTypeStopMarket).
				StopPrice(slPrice).
				ClosePosition(true).
				WorkingType(futures.WorkingTypeMarkPrice).
				Do(ctx)
			if err != nil {
				return err
			}
			result.SLOrderID = strconv.FormatInt(res.OrderID, 10)
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, tp := range req.TakeProfits {
		tp := tp
		tpPrice := trading.FormatPrice(tp.Price, rules.PriceTick)
		err := c.call(ctx, "take-profit", func(ctx context.Context) error {
			svc := c.api.NewCreateOrderService().
				Symbol(req.Symbol).
				Side(closeSide).
				Type(futures.OrderTypeTakeProfitMarket).
				StopPrice(tpPrice).
				WorkingType(futures.WorkingTypeMarkPrice)
			if tp.Qty > 0 {
				svc = svc.Quantity(trading.FormatQty(tp.Qty, rules.QtyStep)).ReduceOnly(true)
			} else {
				svc = svc.ClosePosition(true)
			}
			res, err := svc.Do(ctx)
			if err != nil {
				return err
			}
			result.TPOrderIDs = append(result.TPOrderIDs, strconv.FormatInt(res.OrderID, 10))
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateStopLoss 先挂新止损再撤旧单,避免中间出现无保护窗口。
func (c *Client) UpdateStopLoss(ctx context.Context, symbol string, side exchange.Side, newSL float64) error {
	rules, err := c.SymbolRules(ctx, symbol)
	if err != nil {
		return err
	}
	closeSide := futures.SideTypeSell
	if side == exchange.SideShort {
		closeSide = futures.SideTypeBuy
	}

	var oldStops []int64
	err = c.call(ctx, "open-orders", func(ctx context.Context) error {
		orders, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.Type == futures.OrderTypeStopMarket && o.Side == closeSide {
				oldStops = append(oldStops, o.OrderID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slPrice := trading.FormatPrice(newSL, rules.PriceTick)
	err = c.call(ctx, "stop-loss", func(ctx context.Context) error {
		_, err := c.api.NewCreateOrderService().
			Symbol(symbol).
			Side(closeSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(slPrice).
			ClosePosition(true).
			WorkingType(futures.WorkingTypeMarkPrice).
			Do(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, id := range oldStops {
		id := id
		cancelErr := c.call(ctx, "cancel-order", func(ctx context.Context) error {
			_, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
			return err
		})
		if cancelErr != nil {
			// 旧单撤不掉只会多一层保护,记日志继续。
			logger.Warnf("撤旧止损单失败 %s #%d: %v", symbol, id, cancelErr)
		}
	}
	return nil
}

func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	return c.call(ctx, "cancel-all", func(ctx context.Context) error {
		return c.api.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	})
}

// ClosePosition 市价平掉指定方向的仓位并撤掉残留挂单。
func (c *Client) ClosePosition(ctx context.Context, symbol string, side exchange.Side) (float64, error) {
	positions, err := c.Positions(ctx)
	if err != nil {
		return 0, err
	}
	var qty float64
	for _, p := range positions {
		if p.Symbol == symbol && p.Side == side {
			qty = p.Qty
			break
		}
	}
	if qty == 0 {
		return 0, fmt.Errorf("binance: no open %s position on %s", side, symbol)
	}

	rules, err := c.SymbolRules(ctx, symbol)
	if err != nil {
		return 0, err
	}
	closeSide := futures.SideTypeSell
	if side == exchange.SideShort {
		closeSide = futures.SideTypeBuy
	}

	var avg float64
	err = c.call(ctx, "close", func(ctx context.Context) error {
		res, err := c.api.NewCreateOrderService().
			Symbol(symbol).
			Side(closeSide).
			Type(futures.OrderTypeMarket).
			Quantity(trading.FormatQty(qty, rules.QtyStep)).
			ReduceOnly(true).
			NewOrderResponseType(futures.NewOrderRespTypeRESULT).
			Do(ctx)
		if err != nil {
			return err
		}
		avg, _ = strconv.ParseFloat(res.AvgPrice, 64)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := c.CancelOpenOrders(ctx, symbol); err != nil {
		logger.Warnf("平仓后撤单失败 %s: %v", symbol, err)
	}
	return avg, nil
}

func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := c.call(ctx, "price", func(ctx context.Context) error {
		res, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(res) == 0 {
			return fmt.Errorf("empty price response for %s", symbol)
		}
		price, err = strconv.ParseFloat(res[0].Price, 64)
		return err
	})
	return price, err
}
