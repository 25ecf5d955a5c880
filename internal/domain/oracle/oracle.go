// Package oracle 定义生成式能力边界
// 核心只依赖这里的接口，任何大模型后端都可在不改变工作流行为的前提下替换
package oracle

import (
	"context"
	"errors"
)

// 边界错误定义
var (
	// ErrMalformedOutput 后端返回无法解析为约定结构的内容
	ErrMalformedOutput = errors.New("oracle returned malformed output")
	// ErrUnavailable 后端暂时不可用（超时、限流等，可重试）
	ErrUnavailable = errors.New("oracle unavailable")
)

// BoundedContext 一次调用允许携带的受限上下文
// 由上下文预算器构建，总体大小受固定 token 上限约束
type BoundedContext struct {
	RollingSummary string `json:"rollingSummary"`
	Snapshot       string `json:"snapshot"` // 受限 PRD 快照（大纲 + 每章一句话 + 未解决问题）
	SectionContent string `json:"sectionContent"`
	Retrieved      string `json:"retrieved,omitempty"` // RAG 检索片段（可选）
}

// NormalizeResult 想法规范化结果
type NormalizeResult struct {
	NeedsClarification bool   `json:"needsClarification"`
	Questions          string `json:"questions,omitempty"`
	NormalizedIdea     string `json:"normalizedIdea,omitempty"`
}

// Classification 固定词表意图分类结果
type Classification struct {
	Intent        string  `json:"intent"`
	TargetSection string  `json:"targetSection,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// SectionProfile 提问与更新时需要的章节描述
type SectionProfile struct {
	Key       string   `json:"key"`
	Title     string   `json:"title"`
	Checklist []string `json:"checklist"`
	Content   string   `json:"content"`
}

// UpdateResult 章节内容合并结果
type UpdateResult struct {
	UpdatedContent string  `json:"updatedContent"`
	Score          float64 `json:"score"` // 定性完整度评分 0-1
	NextQuestions  string  `json:"nextQuestions,omitempty"`
}

// Oracle 生成式能力接口
// 所有方法均为单次外部调用；失败语义由调用方的重试策略处理
type Oracle interface {
	// NormalizeIdea 检测歧义并规范化产品想法
	NormalizeIdea(ctx context.Context, rawIdea string) (*NormalizeResult, error)

	// GenerateQuestions 为焦点章节生成至多两个针对性问题
	GenerateQuestions(ctx context.Context, section SectionProfile, bc BoundedContext) (string, error)

	// ClassifyIntent 用最小上下文做固定词表分类
	ClassifyIntent(ctx context.Context, userMessage, currentSection, progress string) (*Classification, error)

	// UpdateSection 把用户输入合并进章节内容并给出定性评分
	UpdateSection(ctx context.Context, section SectionProfile, userInput string, bc BoundedContext) (*UpdateResult, error)

	// Summarize 把被驱逐的对话记录折叠进滚动摘要，输出长度受预算约束
	Summarize(ctx context.Context, existingSummary string, evicted []string, budgetTokens int) (string, error)

	// Refine 对完整草稿做编辑级润色（仅全量装配使用）
	Refine(ctx context.Context, draft string) (string, error)

	// DescribeDiagram 基于草稿生成图表描述（mermaid 文本）
	DescribeDiagram(ctx context.Context, draft, kind string) (string, error)

	// Answer 基于受限上下文回答关于 PRD 的问题
	Answer(ctx context.Context, question string, bc BoundedContext) (string, error)
}
