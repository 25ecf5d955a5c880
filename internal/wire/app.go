package wire

import (
	"context"
	"database/sql"
	"time"

	"log/slog"

	apprag "github.com/thinkinglens/backend/internal/application/rag"
	"github.com/thinkinglens/backend/internal/domain/events"
	applog "github.com/thinkinglens/backend/internal/infrastructure/log"
	"github.com/thinkinglens/backend/internal/infrastructure/watcher"
	"github.com/thinkinglens/backend/internal/infrastructure/websocket"
	"github.com/thinkinglens/backend/internal/interfaces"
)

// App 应用主结构，组合所有服务
type App struct {
	HTTPServer *interfaces.HTTPServer
	MCPServer  *interfaces.MCPServer
	wsHub      *websocket.Hub
	ragService *apprag.Service
	db         *sql.DB
	logger     *slog.Logger

	// 上传监听相关
	eventBus      events.EventBus
	uploadWatcher *watcher.UploadWatcher
}

// NewApp 创建应用实例
func NewApp(
	httpServer *interfaces.HTTPServer,
	mcpServer *interfaces.MCPServer,
	wsHub *websocket.Hub,
	ragService *apprag.Service,
	eventBus events.EventBus,
	uploadWatcher *watcher.UploadWatcher,
	db *sql.DB,
) *App {
	return &App{
		HTTPServer:    httpServer,
		MCPServer:     mcpServer,
		wsHub:         wsHub,
		ragService:    ragService,
		db:            db,
		logger:        applog.NewModuleLogger("app", "main"),
		eventBus:      eventBus,
		uploadWatcher: uploadWatcher,
	}
}

// Start 启动所有服务
func (a *App) Start() error {
	a.logger.Info("Starting ThinkingLens backend application")

	// 注册事件订阅者并启动上传监听
	a.setupEventSubscribers()
	if a.uploadWatcher != nil {
		if err := a.uploadWatcher.Start(); err != nil {
			a.logger.Error("Failed to start upload watcher",
				"error", err,
			)
		} else {
			a.logger.Info("Upload watcher started successfully")
		}
	}

	// 启动 WebSocket Hub 并接上工作流事件
	a.wsHub.Start(a.eventBus)

	// 启动 HTTP 服务器（goroutine）
	go func() {
		if err := a.HTTPServer.Start(); err != nil {
			a.logger.Error("Failed to start HTTP server",
				"error", err,
			)
		}
	}()

	a.logger.Info("ThinkingLens backend application started successfully")

	// MCP 服务器通过 HTTP Handler 提供服务，不需要单独启动
	// 已在 HTTP 服务器中注册 /mcp/sse 端点

	return nil
}

// setupEventSubscribers 注册事件订阅者
func (a *App) setupEventSubscribers() {
	if a.eventBus == nil {
		return
	}

	// 上传文件自动摄取进会话的检索库
	if a.ragService != nil && a.ragService.Enabled() {
		a.eventBus.Subscribe(
			events.UploadDetected,
			events.HandlerFunc(func(event events.Event) error {
				upload, ok := event.(*events.UploadEvent)
				if !ok {
					return nil
				}
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				_, err := a.ragService.IngestFile(ctx, upload.SessionID, upload.FilePath)
				return err
			}),
		)
		a.logger.Info("RAG ingestion subscribed to upload events")
	}
}

// Stop 停止所有服务
func (a *App) Stop() error {
	a.logger.Info("Stopping ThinkingLens backend application")

	// 停止上传监听器
	if a.uploadWatcher != nil {
		a.uploadWatcher.Stop()
		a.logger.Info("Upload watcher stopped")
	}

	// 关闭事件总线
	if a.eventBus != nil {
		a.eventBus.Close()
		a.logger.Info("Event bus closed")
	}

	if err := a.HTTPServer.Stop(); err != nil {
		a.logger.Error("Failed to stop HTTP server",
			"error", err,
		)
		return err
	}
	if err := a.MCPServer.Stop(); err != nil {
		a.logger.Error("Failed to stop MCP server",
			"error", err,
		)
		return err
	}

	// 关闭数据库连接
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database connection",
				"error", err,
			)
			return err
		}
	}

	a.logger.Info("ThinkingLens backend application stopped successfully")

	return nil
}
