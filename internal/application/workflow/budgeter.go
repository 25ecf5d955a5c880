package workflow

import (
	"log/slog"
	"strings"

	"github.com/thinkinglens/backend/internal/domain/oracle"
	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// TokenCounter Token 计数与截断能力
type TokenCounter interface {
	CountTokens(text string) int
	TruncateTokens(text string, budget int) string
}

// Budgeter 上下文预算器
// 为每次外部调用构建受限上下文：滚动摘要 + PRD 快照 + 焦点章节内容
// 输出总量不超过配置的 token 上限；完整历史只在显式检查点通过 BuildFull 暴露
type Budgeter struct {
	counter TokenCounter
	cfg     config.WorkflowConfig
	logger  *slog.Logger
}

// NewBudgeter 创建上下文预算器
func NewBudgeter(counter TokenCounter, cfg *config.Config) *Budgeter {
	return &Budgeter{
		counter: counter,
		cfg:     cfg.Workflow,
		logger:  log.NewModuleLogger("workflow", "budgeter"),
	}
}

// Build 构建一次调用的受限上下文
// 各组成部分先按各自预算截断，再整体核对总上限
func (b *Budgeter) Build(sess *session.Session, retrieved string) oracle.BoundedContext {
	summary := b.counter.TruncateTokens(sess.Conversation.RollingSummary, b.cfg.SummaryBudgetTokens)
	snapshot := b.counter.TruncateTokens(sess.Snapshot, b.cfg.SnapshotBudgetTokens)

	remaining := b.cfg.ContextBudgetTokens -
		b.counter.CountTokens(summary) -
		b.counter.CountTokens(snapshot)
	if remaining < 0 {
		remaining = 0
	}

	var sectionContent string
	if reg := sess.Registry; reg != nil {
		if sec := reg.Current(); sec != nil {
			// 焦点章节与检索片段平分剩余预算
			sectionBudget := remaining
			if retrieved != "" {
				sectionBudget = remaining / 2
			}
			sectionContent = b.counter.TruncateTokens(sec.Content, sectionBudget)
			remaining -= b.counter.CountTokens(sectionContent)
		}
	}

	if retrieved != "" {
		retrieved = b.counter.TruncateTokens(retrieved, remaining)
	}

	bc := oracle.BoundedContext{
		RollingSummary: summary,
		Snapshot:       snapshot,
		SectionContent: sectionContent,
		Retrieved:      retrieved,
	}

	b.logger.Debug("Built bounded context",
		"session_id", sess.ID,
		"tokens", b.Size(bc),
		"budget", b.cfg.ContextBudgetTokens,
	)
	return bc
}

// BuildFull 检查点专用：携带完整草稿的上下文
// 仅在章节完成事件或用户显式请求完整草稿时调用
func (b *Budgeter) BuildFull(sess *session.Session, draft string) oracle.BoundedContext {
	return oracle.BoundedContext{
		RollingSummary: sess.Conversation.RollingSummary,
		Snapshot:       draft,
	}
}

// Size 统计受限上下文的总 token 数
func (b *Budgeter) Size(bc oracle.BoundedContext) int {
	return b.counter.CountTokens(bc.RollingSummary) +
		b.counter.CountTokens(bc.Snapshot) +
		b.counter.CountTokens(bc.SectionContent) +
		b.counter.CountTokens(bc.Retrieved)
}

// FallbackSummary 摘要后端不可用时的本地折叠
// 把驱逐记录直接拼接进旧摘要并截断到摘要预算，保证窗口上界不被破坏
func (b *Budgeter) FallbackSummary(existing string, lines []string) string {
	joined := existing
	if joined != "" && len(lines) > 0 {
		joined += "\n"
	}
	joined += strings.Join(lines, "\n")
	return b.counter.TruncateTokens(joined, b.cfg.SummaryBudgetTokens)
}

// FoldEvicted 把被驱逐的对话记录整理成摘要输入
func FoldEvicted(evicted []session.Turn) []string {
	lines := make([]string, 0, len(evicted))
	for _, turn := range evicted {
		lines = append(lines, turn.Role+": "+strings.TrimSpace(turn.Text))
	}
	return lines
}
