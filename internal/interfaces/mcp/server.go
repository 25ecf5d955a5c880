// Package mcp MCP 接口层
// 把 PRD 工作流暴露为 MCP 工具，供编辑器内的 Agent 直接驱动会话
package mcp

import (
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	appversion "github.com/thinkinglens/backend/internal/application/version"
	"github.com/thinkinglens/backend/internal/application/workflow"
)

// MCPServer MCP 服务器
type MCPServer struct {
	server   *mcp.Server
	handler  http.Handler
	engine   *workflow.Engine
	versions *appversion.Service
}

// NewServer 创建 MCP 服务器
func NewServer(engine *workflow.Engine, versions *appversion.Service) *MCPServer {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "thinkinglens",
			Version: "0.1.0",
		},
		nil, // 使用默认能力
	)

	mcpServer := &MCPServer{
		server:   server,
		engine:   engine,
		versions: versions,
	}

	// 注册工具：prd_start_session
	mcp.AddTool(server, &mcp.Tool{
		Name: "prd_start_session",
		Description: `Start a new PRD-building session from a raw product idea.
Parameters:
- idea (string, required): The product idea in one or a few sentences
- user_id (string, optional): Caller identity, defaults to "mcp"

Returns: session ID, the assistant's first reply (clarifying questions or a section plan), and the current workflow stage.`,
	}, mcpServer.startSessionTool)

	// 注册工具：prd_send_message
	mcp.AddTool(server, &mcp.Tool{
		Name: "prd_send_message",
		Description: `Send one message to an active PRD session. The engine classifies the message (section content, revision, question, ...) and routes it.
Parameters:
- session_id (string, required): Session ID returned by prd_start_session
- message (string, required): The user's message
- idempotency_key (string, optional): Key for safe retries; replaying a committed key returns the original result without side effects

Returns: assistant reply, stage, current section, progress, and degraded capabilities if any.`,
	}, mcpServer.sendMessageTool)

	// 注册工具：prd_get_draft
	mcp.AddTool(server, &mcp.Tool{
		Name: "prd_get_draft",
		Description: `Get the current assembled PRD draft for a session (read-only, no model calls).
Parameters:
- session_id (string, required): Session ID

Returns: markdown draft, open consistency issues, and progress.`,
	}, mcpServer.getDraftTool)

	// 注册工具：prd_export
	mcp.AddTool(server, &mcp.Tool{
		Name: "prd_export",
		Description: `List the version history of a session, including export links already attached to each version.
Parameters:
- session_id (string, required): Session ID

Returns: versions with id, reason, creation time and export links. Use the HTTP export endpoint to render new artifacts.`,
	}, mcpServer.listVersionsTool)

	// 创建 SSE Handler
	handler := mcp.NewSSEHandler(
		func(r *http.Request) *mcp.Server {
			// 每个请求返回同一个服务器实例
			return server
		},
		nil, // SSEOptions，使用默认值
	)

	mcpServer.handler = handler
	return mcpServer
}

// GetHandler 获取 HTTP Handler（用于集成到 HTTP 服务器）
func (s *MCPServer) GetHandler() http.Handler {
	return s.handler
}

// Start 启动服务器（HTTP/SSE 模式）
func (s *MCPServer) Start() error {
	fmt.Println("MCP server ready (HTTP/SSE mode)")
	return nil
}

// Stop 停止服务器
func (s *MCPServer) Stop() error {
	// HTTP/SSE 模式下，由 HTTP 服务器统一管理生命周期
	return nil
}
