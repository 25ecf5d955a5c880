// Package http HTTP 接口层
package http

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
	ws "github.com/thinkinglens/backend/internal/infrastructure/websocket"
	"github.com/thinkinglens/backend/internal/interfaces/http/handler"
	"github.com/thinkinglens/backend/internal/interfaces/http/middleware"
	"github.com/thinkinglens/backend/internal/interfaces/mcp"
)

// upgrader WebSocket 升级器；服务面向本地前端，放开同源限制
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HTTPServer HTTP 服务器
type HTTPServer struct {
	router   *gin.Engine
	httpPort string
	server   *http.Server
	hub      *ws.Hub
	logger   *slog.Logger
}

// NewServer 创建 HTTP 服务器
func NewServer(
	sessionHandler *handler.SessionHandler,
	versionHandler *handler.VersionHandler,
	uploadHandler *handler.UploadHandler,
	hub *ws.Hub,
	mcpServer *mcp.MCPServer,
	cfg *config.Config,
) *HTTPServer {
	router := gin.Default()
	router.Use(middleware.ProcessTime())

	logger := log.NewModuleLogger("http", "server")

	s := &HTTPServer{
		router:   router,
		httpPort: cfg.Server.HTTPPort,
		hub:      hub,
		logger:   logger,
	}

	// 注册路由
	api := router.Group("/api/v1")
	{
		// 会话与回合
		api.POST("/sessions", sessionHandler.Start)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.POST("/sessions/:id/message", sessionHandler.Message)
		api.GET("/sessions/:id/prd", sessionHandler.Draft)
		api.POST("/sessions/:id/refine", sessionHandler.Refine)
		api.POST("/sessions/:id/ask", sessionHandler.Ask)
		api.POST("/sessions/:id/diagram", sessionHandler.Diagram)

		// 版本与导出
		api.GET("/sessions/:id/versions", versionHandler.List)
		api.GET("/sessions/:id/versions/diff", versionHandler.Diff)
		api.GET("/sessions/:id/versions/:versionId", versionHandler.Get)
		api.POST("/sessions/:id/versions/:versionId/rollback", versionHandler.Rollback)
		api.POST("/sessions/:id/export", versionHandler.Export)

		// 参考文档上传
		api.POST("/sessions/:id/upload", uploadHandler.Upload)
	}

	// 会话进度推送
	router.GET("/ws/sessions/:id", s.serveWS)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// MCP SSE 端点
	if mcpServer != nil {
		router.Any("/mcp/sse", gin.WrapH(mcpServer.GetHandler()))
	}

	return s
}

// serveWS 升级连接并挂进 Hub 的会话分组
func (s *HTTPServer) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := &ws.Connection{
		SessionID: c.Param("id"),
		Send:      make(chan []byte, 16),
	}
	s.hub.Register(wsConn)

	// 写协程：Send 被 Hub 关闭时结束
	go func() {
		defer conn.Close()
		for data := range wsConn.Send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()

	// 读协程仅用于感知断开
	go func() {
		defer s.hub.Unregister(wsConn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Start 启动服务器
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Addr:    s.httpPort,
		Handler: s.router,
	}

	s.logger.Info("HTTP server starting",
		"port", s.httpPort,
	)

	return s.server.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Stop 停止服务器
func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
