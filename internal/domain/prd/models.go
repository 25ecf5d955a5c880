package prd

import (
	"errors"
	"time"
)

// SectionStatus 章节状态
type SectionStatus string

const (
	// StatusPending 尚未开始收集内容
	StatusPending SectionStatus = "pending"
	// StatusInProgress 正在收集内容
	StatusInProgress SectionStatus = "in_progress"
	// StatusCompleted 内容已满足完成门槛
	StatusCompleted SectionStatus = "completed"
	// StatusStale 依赖章节被修订后需要重新确认
	StatusStale SectionStatus = "stale"
)

// Stage 会话所处的工作流阶段
type Stage string

const (
	StageInit     Stage = "init"
	StagePlan     Stage = "plan"
	StageBuild    Stage = "build"
	StageAssemble Stage = "assemble"
	StageReview   Stage = "review"
	StageExport   Stage = "export"
)

// Intent 用户回复的意图分类（固定词表）
type Intent string

const (
	IntentSectionUpdate   Intent = "section_update"
	IntentOffTargetUpdate Intent = "off_target_update"
	IntentRevision        Intent = "revision"
	IntentMetaQuery       Intent = "meta_query"
	IntentOffTopic        Intent = "off_topic"
)

// ValidIntent 判断分类结果是否在固定词表中
func ValidIntent(s string) bool {
	switch Intent(s) {
	case IntentSectionUpdate, IntentOffTargetUpdate, IntentRevision, IntentMetaQuery, IntentOffTopic:
		return true
	}
	return false
}

// 领域错误定义
var (
	// ErrUnknownSection 目标章节不存在
	ErrUnknownSection = errors.New("unknown section key")
	// ErrCyclicDependency 章节模板的依赖关系存在环
	ErrCyclicDependency = errors.New("section template contains cyclic dependency")
	// ErrDependencyNotReady 直接依赖未完成（pending/stale），禁止完成当前章节
	ErrDependencyNotReady = errors.New("section dependency is pending or stale")
)

// Section PRD 章节实体
type Section struct {
	Key           string        // 稳定标识，如 "goals"
	Title         string        // 展示标题
	Content       string        // 正文内容
	Status        SectionStatus // 当前状态
	Score         float64       // 完整度评分 0-1
	Dependencies  []string      // 直接依赖的章节 key（模板保证无环）
	Checklist     []string      // 完成该章节需要覆盖的检查项
	LastEditor    string        // 最后一次修改来源（user/agent）
	LastUpdatedAt time.Time     // 最后一次修改时间
}

// CanComplete 判断章节在给定评分和依赖状态下能否进入 completed
// 完成门槛：评分达到阈值，且所有直接依赖既非 pending 也非 stale
func (s *Section) CanComplete(threshold float64, depStatus func(key string) (SectionStatus, bool)) error {
	if s.Score < threshold {
		return nil // 未达阈值不是错误，只是不完成
	}
	for _, dep := range s.Dependencies {
		st, ok := depStatus(dep)
		if !ok {
			return ErrUnknownSection
		}
		if st == StatusPending || st == StatusStale {
			return ErrDependencyNotReady
		}
	}
	return nil
}

// SectionTemplate 单个章节的模板定义
type SectionTemplate struct {
	Key          string   `yaml:"key"`
	Title        string   `yaml:"title"`
	Mandatory    bool     `yaml:"mandatory"`
	Dependencies []string `yaml:"dependencies"`
	Checklist    []string `yaml:"checklist"`
	// TriggerKeywords 非必选章节的触发关键词
	// 规范化后的产品想法命中任意关键词时，该章节加入本次会话的计划
	TriggerKeywords []string `yaml:"trigger_keywords"`
}

// Template 章节模板集合，plan 阶段据此构建 Registry
type Template struct {
	Sections []SectionTemplate `yaml:"sections"`
}

// Find 按 key 查找模板定义
func (t *Template) Find(key string) (*SectionTemplate, bool) {
	for i := range t.Sections {
		if t.Sections[i].Key == key {
			return &t.Sections[i], true
		}
	}
	return nil, false
}

// Issue 装配一致性检查发现的问题
type Issue struct {
	Kind             IssueKind `json:"kind"`
	SectionsInvolved []string  `json:"sectionsInvolved"`
	Description      string    `json:"description"`
	Resolved         bool      `json:"resolved"`
}

// IssueKind 问题类型
type IssueKind string

const (
	IssueTerminologyDrift IssueKind = "terminology-drift"
	IssueEntityMismatch   IssueKind = "entity-mismatch"
	IssueGoalMetricGap    IssueKind = "goal-metric-gap"
	IssuePersonaFlowGap   IssueKind = "persona-flow-gap"
)
