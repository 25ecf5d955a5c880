package session

import (
	"errors"
	"time"

	"github.com/thinkinglens/backend/internal/domain/prd"
)

// Status 会话生命周期状态
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// 领域错误定义
var (
	// ErrNotFound 会话不存在
	ErrNotFound = errors.New("session not found")
	// ErrTurnInFlight 同一会话的上一回合尚未提交
	ErrTurnInFlight = errors.New("previous turn for this session has not committed")
	// ErrArchived 会话已归档，不再接受回合
	ErrArchived = errors.New("session is archived")
)

// Session 会话聚合根
// 由工作流引擎独占持有，仅在回合处理中整体读出、整体提交
type Session struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	Status           Status        `json:"status"`
	Stage            prd.Stage     `json:"stage"`
	NormalizedIdea   string        `json:"normalizedIdea"`
	Registry         *prd.Registry `json:"registry,omitempty"`
	Conversation     *Conversation `json:"conversation"`
	Snapshot         string        `json:"snapshot"` // 装配引擎维护的受限 PRD 快照
	Issues           []prd.Issue   `json:"issues,omitempty"`
	TurnCounter      int           `json:"turnCounter"`
	ClarifyCount     int           `json:"clarifyCount"` // init 阶段已发出的澄清问题数
	AwaitingInput    bool          `json:"awaitingInput"`
	CheckpointReason string        `json:"checkpointReason,omitempty"`
	PendingAssembly  bool          `json:"pendingAssembly"` // 轻装配被延迟到下一个检查点
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// New 创建新的会话聚合
func New(id, userID string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		UserID:       userID,
		Status:       StatusActive,
		Stage:        prd.StageInit,
		Conversation: NewConversation(DefaultWindowSize),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CurrentSectionKey 当前焦点章节 key，plan 之前为空
func (s *Session) CurrentSectionKey() string {
	if s.Registry == nil {
		return ""
	}
	return s.Registry.CurrentKey()
}

// Touch 推进回合计数并刷新修改时间
func (s *Session) Touch() {
	s.TurnCounter++
	s.UpdatedAt = time.Now()
}

// Archive 归档会话；注册表随会话保留，不删除
func (s *Session) Archive() {
	s.Status = StatusArchived
	s.UpdatedAt = time.Now()
}

// TurnResult 一次回合处理的对外结果
type TurnResult struct {
	SessionID      string   `json:"sessionId"`
	Reply          string   `json:"reply"`
	Stage          string   `json:"stage"`
	CurrentSection string   `json:"currentSection,omitempty"`
	SectionSnippet string   `json:"sectionSnippet,omitempty"` // 焦点章节的最新内容片段
	Progress       string   `json:"progress"`
	Draft          string   `json:"draft,omitempty"` // 仅在显式请求或检查点返回完整草稿
	NeedsInput     bool     `json:"needsInput"`
	Degraded       []string `json:"degraded,omitempty"` // 本回合降级运行的可选能力（rag/export 等）
	VersionID      int64    `json:"versionId,omitempty"`
}
