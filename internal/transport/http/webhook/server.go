// Package webhookhttp 提供信号入口与运维查询的 HTTP 服务。
package webhookhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sotrader/internal/engine"
	"sotrader/internal/gateway/exchange"
	"sotrader/internal/logger"
	"sotrader/internal/market"
	"sotrader/internal/shadow"
	"sotrader/internal/store"
	"sotrader/internal/store/eventlog"
	"sotrader/internal/trailing"
)

// FeedStats 是行情源运行指标的只读入口,/status 用。
type FeedStats interface {
	Stats() market.SourceStats
}

// Server 包了一层 gin,Start 负责优雅退出。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 webhook HTTP 服务的依赖。
type ServerConfig struct {
	Addr      string
	Secret    string
	SigHeader string // 默认 X-Signature
	Quote     string // 符号补全用的计价币

	Engine   *engine.Router
	Exchange exchange.Client
	Trades   store.TradeStore
	Audit    *eventlog.Store
	Shadows  *shadow.Tracker
	Trailing *trailing.Monitor
	Feed     FeedStats
}

// NewServer 构建 HTTP 服务并注册全部路由。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("webhook http server requires an engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.SigHeader == "" {
		cfg.SigHeader = "X-Signature"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	h := &handlers{cfg: cfg}

	router.GET("/healthz", h.health)
	// 空 secret 表示关闭签名校验,仅限本地联调。
	webhookChain := []gin.HandlerFunc{h.webhook}
	if cfg.Secret != "" {
		webhookChain = append([]gin.HandlerFunc{requireSignature(cfg.Secret, cfg.SigHeader)}, webhookChain...)
	} else {
		logger.Warnf("[HTTP] webhook 签名校验已关闭(未配置 secret)")
	}
	router.POST("/webhook", webhookChain...)
	router.GET("/status", h.status)
	router.GET("/orders", h.orders)
	router.GET("/shadows", h.shadows)
	router.GET("/events", h.events)
	router.POST("/close", h.close)

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler 暴露内部路由,测试用。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务,直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// requestLogger 记录每个请求,排查信号源问题时用。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), client, time.Since(start))
	}
}
