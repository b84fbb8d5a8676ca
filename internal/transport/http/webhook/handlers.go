package webhookhttp

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"sotrader/internal/engine"
	"sotrader/internal/logger"
	"sotrader/internal/pkg/utils"
)

type handlers struct {
	cfg ServerConfig
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

/// webhook 是信号入口:签名已在中间件校验过,这里解析、分发、
// 把引擎的类型化错误映射成 HTTP 状态码。
func (h *handlers) webhook(c *gin.Context) {
	var body []byte
	if raw, ok := c.Get(rawBodyKey); ok {
		body = raw.([]byte)
	} else {
		// 签名校验关闭时中间件不在链上,直接读 body。
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		body = b
	}

	evt, err := engine.ParseEvent(body, h.cfg.Quote)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.cfg.Engine.HandleEvent(c.Request.Context(), evt)
	if err != nil {
		status, msg := classifyError(err)
		logger.Warnf("[HTTP] 事件处理失败 %s %s: %v", evt.Type, evt.Symbol, err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, res)
}

func classifyError(err error) (int, string) {
	var vErr *engine.ValidationError
	var dErr *engine.InsufficientDataError
	var pErr *engine.OrderPlacementError
	var xErr *engine.ExternalServiceError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Error()
	case errors.As(err, &dErr):
		return http.StatusBadGateway, dErr.Error()
	case errors.As(err, &pErr):
		return http.StatusBadGateway, pErr.Error()
	case errors.As(err, &xErr):
		return http.StatusBadGateway, xErr.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// status 聚合服务运行状态。
func (h *handlers) status(c *gin.Context) {
	out := gin.H{
		"ready_signals":  h.cfg.Engine.ReadyStates(),
		"pending_orders": h.cfg.Engine.PendingCount(),
	}
	if h.cfg.Exchange != nil {
		if equity, err := h.cfg.Exchange.Equity(c.Request.Context()); err == nil {
			out["equity"] = equity
		} else {
			logger.Warnf("[HTTP] 权益查询失败: %v", err)
		}
		if positions, err := h.cfg.Exchange.Positions(c.Request.Context()); err == nil {
			out["positions"] = positions
		} else {
			logger.Warnf("[HTTP] 持仓查询失败: %v", err)
		}
	}
	if h.cfg.Trades != nil {
		if summary, err := h.cfg.Trades.Summarize(c.Request.Context()); err == nil {
			out["trades"] = summary
		} else {
			logger.Warnf("[HTTP] 统计查询失败: %v", err)
		}
	}
	if h.cfg.Trailing != nil {
		out["trailing"] = h.cfg.Trailing.Snapshot()
	}
	if h.cfg.Feed != nil {
		out["market_feed"] = h.cfg.Feed.Stats()
	}
	if h.cfg.Shadows != nil {
		out["active_shadows"] = len(h.cfg.Shadows.Active())
	}
	c.JSON(http.StatusOK, out)
}

// orders 返回挂单簿记和最近的交易记录,?limit= 控制条数。
func (h *handlers) orders(c *gin.Context) {
	out := gin.H{"pending": h.cfg.Engine.PendingOrders()}
	if h.cfg.Trades != nil {
		limit := queryInt(c, "limit", 50)
		recent, err := h.cfg.Trades.RecentTrades(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		open, err := h.cfg.Trades.OpenTrades(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		out["open"] = open
		out["recent"] = recent
	}
	c.JSON(http.StatusOK, out)
}

// shadows 返回在跟踪的影子单和影子战绩。
func (h *handlers) shadows(c *gin.Context) {
	out := gin.H{}
	if h.cfg.Shadows != nil {
		out["shadows"] = h.cfg.Shadows.Active()
	}
	if h.cfg.Trades != nil {
		if summary, err := h.cfg.Trades.Summarize(c.Request.Context()); err == nil {
			out["stats"] = gin.H{
				"active": summary.OpenShadows,
				"wins":   summary.ShadowWins,
				"losses": summary.ShadowLosses,
			}
		}
	}
	c.JSON(http.StatusOK, out)
}

// events 返回最近的信号审计记录。
func (h *handlers) events(c *gin.Context) {
	if h.cfg.Audit == nil {
		c.JSON(http.StatusOK, gin.H{"events": []any{}})
		return
	}
	limit := queryInt(c, "limit", 100)
	records, err := h.cfg.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}

type closeRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	Direction string `json:"direction" binding:"required"`
}

// close 手工平仓。
func (h *handlers) close(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and direction are required"})
		return
	}
	res, err := h.cfg.Engine.CloseManual(c.Request.Context(), req.Symbol, req.Direction)
	if err != nil {
		status, msg := classifyError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, res)
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, ok := utils.AsInt(raw)
	if !ok || v <= 0 {
		return def
	}
	return v
}
