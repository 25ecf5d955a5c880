package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StartSessionInput 创建会话工具输入
type StartSessionInput struct {
	Idea   string `json:"idea" jsonschema:"The product idea in one or a few sentences"`
	UserID string `json:"user_id,omitempty" jsonschema:"Caller identity (optional)"`
}

// StartSessionOutput 创建会话工具输出
type StartSessionOutput struct {
	SessionID string `json:"session_id" jsonschema:"Session ID for subsequent calls"`
	Reply     string `json:"reply" jsonschema:"Assistant's first reply"`
	Stage     string `json:"stage" jsonschema:"Current workflow stage"`
}

// startSessionTool 创建 PRD 会话工具
func (s *MCPServer) startSessionTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input StartSessionInput,
) (*mcp.CallToolResult, StartSessionOutput, error) {
	userID := input.UserID
	if userID == "" {
		userID = "mcp"
	}

	result, err := s.engine.StartSession(ctx, userID, input.Idea)
	if err != nil {
		return nil, StartSessionOutput{}, err
	}
	return nil, StartSessionOutput{
		SessionID: result.SessionID,
		Reply:     result.Reply,
		Stage:     result.Stage,
	}, nil
}

// SendMessageInput 回合消息工具输入
type SendMessageInput struct {
	SessionID      string `json:"session_id" jsonschema:"Session ID"`
	Message        string `json:"message" jsonschema:"The user's message"`
	IdempotencyKey string `json:"idempotency_key,omitempty" jsonschema:"Key for safe retries (optional)"`
}

// SendMessageOutput 回合消息工具输出
type SendMessageOutput struct {
	Reply          string   `json:"reply" jsonschema:"Assistant reply"`
	Stage          string   `json:"stage" jsonschema:"Current workflow stage"`
	CurrentSection string   `json:"current_section,omitempty" jsonschema:"Key of the focus section"`
	Progress       string   `json:"progress,omitempty" jsonschema:"Progress, e.g. 3/6 sections completed"`
	Draft          string   `json:"draft,omitempty" jsonschema:"Full draft when a checkpoint returns one"`
	Degraded       []string `json:"degraded,omitempty" jsonschema:"Capabilities that degraded this turn"`
	VersionID      int64    `json:"version_id,omitempty" jsonschema:"Version created this turn, if any"`
}

// sendMessageTool 提交回合消息工具
func (s *MCPServer) sendMessageTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SendMessageInput,
) (*mcp.CallToolResult, SendMessageOutput, error) {
	result, err := s.engine.SubmitTurn(ctx, input.SessionID, input.Message, input.IdempotencyKey)
	if err != nil {
		return nil, SendMessageOutput{}, err
	}
	return nil, SendMessageOutput{
		Reply:          result.Reply,
		Stage:          result.Stage,
		CurrentSection: result.CurrentSection,
		Progress:       result.Progress,
		Draft:          result.Draft,
		Degraded:       result.Degraded,
		VersionID:      result.VersionID,
	}, nil
}

// GetDraftInput 读取草稿工具输入
type GetDraftInput struct {
	SessionID string `json:"session_id" jsonschema:"Session ID"`
}

// GetDraftOutput 读取草稿工具输出
type GetDraftOutput struct {
	Draft    string   `json:"draft" jsonschema:"Assembled markdown draft"`
	Issues   []string `json:"issues,omitempty" jsonschema:"Open consistency issues"`
	Progress string   `json:"progress" jsonschema:"Progress"`
	Stage    string   `json:"stage" jsonschema:"Current workflow stage"`
}

// getDraftTool 读取当前草稿工具
func (s *MCPServer) getDraftTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetDraftInput,
) (*mcp.CallToolResult, GetDraftOutput, error) {
	res, sess, err := s.engine.CurrentDraft(ctx, input.SessionID)
	if err != nil {
		return nil, GetDraftOutput{}, err
	}

	issues := make([]string, 0, len(res.Issues))
	for _, issue := range res.Issues {
		if !issue.Resolved {
			issues = append(issues, issue.Description)
		}
	}
	return nil, GetDraftOutput{
		Draft:    res.Draft,
		Issues:   issues,
		Progress: sess.Registry.Progress(),
		Stage:    string(sess.Stage),
	}, nil
}

// ListVersionsInput 版本历史工具输入
type ListVersionsInput struct {
	SessionID string `json:"session_id" jsonschema:"Session ID"`
}

// VersionInfo 单个版本的摘要
type VersionInfo struct {
	VersionID   int64    `json:"version_id" jsonschema:"Monotonic version number"`
	Reason      string   `json:"reason" jsonschema:"checkpoint / export / rollback"`
	CreatedAt   string   `json:"created_at" jsonschema:"Creation time, RFC3339"`
	ExportLinks []string `json:"export_links,omitempty" jsonschema:"Rendered artifact paths"`
}

// ListVersionsOutput 版本历史工具输出
type ListVersionsOutput struct {
	Versions []VersionInfo `json:"versions" jsonschema:"Versions in ascending order"`
}

// listVersionsTool 版本历史工具
func (s *MCPServer) listVersionsTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListVersionsInput,
) (*mcp.CallToolResult, ListVersionsOutput, error) {
	versions, err := s.versions.List(ctx, input.SessionID)
	if err != nil {
		return nil, ListVersionsOutput{}, err
	}

	out := ListVersionsOutput{Versions: make([]VersionInfo, 0, len(versions))}
	for _, v := range versions {
		out.Versions = append(out.Versions, VersionInfo{
			VersionID:   v.VersionID,
			Reason:      v.Reason,
			CreatedAt:   v.CreatedAt.Format(time.RFC3339),
			ExportLinks: v.ExportLinks,
		})
	}
	return nil, out, nil
}
