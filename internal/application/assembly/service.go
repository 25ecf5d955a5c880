package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/thinkinglens/backend/internal/domain/oracle"
	"github.com/thinkinglens/backend/internal/domain/prd"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// TokenCounter Token 计数与截断能力（快照裁剪使用）
type TokenCounter interface {
	CountTokens(text string) int
	TruncateTokens(text string, budget int) string
}

// Result 一次装配的产出
type Result struct {
	Draft    string      // 按拓扑顺序合并的完整草稿
	Snapshot string      // 受限 PRD 快照：大纲 + 每章一句话 + 未解决问题
	Issues   []prd.Issue // 一致性检查发现的问题
}

// Service 装配与一致性检查引擎
// 对传入的注册表快照按值操作，不持有跨回合状态
// 轻量通道只做合并 + 两项廉价检查；全量通道跑全部四项并做编辑级润色
type Service struct {
	oracle  oracle.Oracle
	counter TokenCounter
	cfg     config.WorkflowConfig
	logger  *slog.Logger
}

// NewService 创建装配引擎
func NewService(orc oracle.Oracle, counter TokenCounter, cfg *config.Config) *Service {
	return &Service{
		oracle:  orc,
		counter: counter,
		cfg:     cfg.Workflow,
		logger:  log.NewModuleLogger("assembly", "service"),
	}
}

// LightPass 轻量装配：结构合并 + 实体命名 + 目标-指标两项检查
// 用于回合内检查点，延迟可控，不做任何外部调用
func (s *Service) LightPass(reg *prd.Registry, idea string) *Result {
	draft := s.merge(reg, idea)

	var issues []prd.Issue
	issues = append(issues, checkEntityNaming(reg)...)
	issues = append(issues, checkGoalMetricLinkage(reg)...)

	return &Result{
		Draft:    draft,
		Snapshot: s.buildSnapshot(reg, idea, issues),
		Issues:   issues,
	}
}

// FullPass 全量装配：四项检查 + 编辑级润色
// 在章节完成检查点与 build → assemble 迁移时运行
func (s *Service) FullPass(ctx context.Context, reg *prd.Registry, idea string) (*Result, error) {
	draft := s.merge(reg, idea)

	var issues []prd.Issue
	issues = append(issues, checkEntityNaming(reg)...)
	issues = append(issues, checkGoalMetricLinkage(reg)...)
	issues = append(issues, checkTerminologyDrift(reg)...)
	issues = append(issues, checkPersonaFlowCoherence(reg)...)

	refined, err := s.oracle.Refine(ctx, draft)
	if err != nil {
		// 润色是增强步骤，失败时保留机械合并的草稿
		s.logger.Warn("Editorial refinement failed, keeping merged draft", "error", err)
		refined = draft
	}

	s.logger.Info("Full assembly pass finished",
		"sections", len(reg.Order),
		"issues", len(issues),
	)

	return &Result{
		Draft:    refined,
		Snapshot: s.buildSnapshot(reg, idea, issues),
		Issues:   issues,
	}, nil
}

// merge 按拓扑顺序合并章节，做轻量文本规整
func (s *Service) merge(reg *prd.Registry, idea string) string {
	var sb strings.Builder
	sb.WriteString("# PRD: ")
	sb.WriteString(strings.TrimSpace(idea))
	sb.WriteString("\n")

	for _, key := range reg.Order {
		sec := reg.Sections[key]
		if strings.TrimSpace(sec.Content) == "" {
			continue
		}
		sb.WriteString("\n## ")
		sb.WriteString(sec.Title)
		sb.WriteString("\n\n")
		sb.WriteString(normalizeText(sec.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildSnapshot 构建受限 PRD 快照
// 大纲 + 每章一句话 + 未解决问题，整体截断到快照预算
func (s *Service) buildSnapshot(reg *prd.Registry, idea string, issues []prd.Issue) string {
	var sb strings.Builder
	sb.WriteString("Idea: ")
	sb.WriteString(strings.TrimSpace(idea))
	sb.WriteString("\n")

	for _, key := range reg.Order {
		sec := reg.Sections[key]
		sb.WriteString(fmt.Sprintf("- %s [%s] %s\n", sec.Title, sec.Status, firstSentence(sec.Content)))
	}

	unresolved := 0
	for _, issue := range issues {
		if !issue.Resolved {
			unresolved++
			if unresolved <= 5 {
				sb.WriteString("! ")
				sb.WriteString(issue.Description)
				sb.WriteString("\n")
			}
		}
	}

	return s.counter.TruncateTokens(sb.String(), s.cfg.SnapshotBudgetTokens)
}

// normalizeText 轻量文本规整：去掉多余空行与行尾空白
func normalizeText(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

// firstSentence 取内容的第一句话作为一行概括
func firstSentence(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "(empty)"
	}
	for _, sep := range []string{". ", "\n"} {
		if idx := strings.Index(trimmed, sep); idx > 0 {
			trimmed = trimmed[:idx+1]
			break
		}
	}
	trimmed = truncateRunes(trimmed, 140)
	return strings.TrimSpace(trimmed)
}

// truncateRunes 在 rune 边界截断，避免把多字节字符切出无效 UTF-8
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
