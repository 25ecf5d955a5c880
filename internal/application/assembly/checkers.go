package assembly

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/thinkinglens/backend/internal/domain/prd"
)

// entityPattern 命名实体：连续的首字母大写词组
var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]+(?:\s+[A-Z][a-zA-Z0-9]+)*\b`)

// entityStopwords 句首常见词与模板词，不视为实体
var entityStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true,
	"it": true, "we": true, "i": true, "in": true, "on": true, "for": true,
	"user": true, "users": true, "as": true, "when": true, "if": true,
	"prd": true, "mvp": true, "step": true, "phase": true, "goal": true, "goals": true,
}

// entitySections 参与实体命名检查的章节及其被引用方
var entitySections = map[string][]string{
	"user_flows":             {"core_features"},
	"technical_architecture": {"core_features"},
}

// extractEntities 从文本提取命名实体（去重、剔除停用词）
func extractEntities(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range entityPattern.FindAllString(text, -1) {
		if entityStopwords[strings.ToLower(m)] {
			continue
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// checkEntityNaming 实体命名一致性
// 流程/架构章节引用的实体必须在其依赖的功能章节中出现
func checkEntityNaming(reg *prd.Registry) []prd.Issue {
	var issues []prd.Issue
	for key, refs := range entitySections {
		sec, ok := reg.Get(key)
		if !ok || strings.TrimSpace(sec.Content) == "" {
			continue
		}
		for _, refKey := range refs {
			ref, ok := reg.Get(refKey)
			if !ok || strings.TrimSpace(ref.Content) == "" {
				continue
			}
			refLower := strings.ToLower(ref.Content)
			for _, entity := range extractEntities(sec.Content) {
				if !strings.Contains(refLower, strings.ToLower(entity)) {
					issues = append(issues, prd.Issue{
						Kind:             prd.IssueEntityMismatch,
						SectionsInvolved: []string{key, refKey},
						Description:      fmt.Sprintf("%q is referenced in %s but never defined in %s", entity, key, refKey),
					})
				}
			}
		}
	}
	return issues
}

// splitEntries 把章节内容拆成条目：优先识别列表行，否则按非空行
func splitEntries(content string) []string {
	var entries []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		trimmed = strings.TrimLeft(trimmed, "-*•")
		trimmed = regexp.MustCompile(`^\d+[.)]\s*`).ReplaceAllString(strings.TrimSpace(trimmed), "")
		if trimmed != "" {
			entries = append(entries, trimmed)
		}
	}
	return entries
}

// significantWords 长度 >=4 的小写词集合，用于条目间的词汇重叠判定
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range regexp.MustCompile(`[a-zA-Z]+`).FindAllString(text, -1) {
		if len(w) >= 4 {
			words[strings.ToLower(w)] = true
		}
	}
	return words
}

// overlaps 判断两个条目是否共享显著词汇
func overlaps(a, b map[string]bool) bool {
	for w := range a {
		if b[w] {
			return true
		}
	}
	return false
}

// checkGoalMetricLinkage 目标-指标联动
// 每个目标条目必须对应至少一条带时间范围的成功指标
func checkGoalMetricLinkage(reg *prd.Registry) []prd.Issue {
	goals, ok := reg.Get("goals")
	if !ok || strings.TrimSpace(goals.Content) == "" {
		return nil
	}
	metrics, _ := reg.Get("success_metrics")

	var metricEntries []string
	if metrics != nil {
		metricEntries = splitEntries(metrics.Content)
	}

	var issues []prd.Issue
	for _, goal := range splitEntries(goals.Content) {
		goalWords := significantWords(goal)
		if len(goalWords) == 0 {
			continue
		}
		linked := false
		for _, metric := range metricEntries {
			if overlaps(goalWords, significantWords(metric)) && prd.HasTimeframe(metric) {
				linked = true
				break
			}
		}
		if !linked {
			issues = append(issues, prd.Issue{
				Kind:             prd.IssueGoalMetricGap,
				SectionsInvolved: []string{"goals", "success_metrics"},
				Description:      fmt.Sprintf("goal %q has no success metric with a timeframe", truncateEntry(goal)),
			})
		}
	}
	return issues
}

// checkPersonaFlowCoherence 画像-流程连贯性
// 每个用户流程条目必须引用已定义的画像
func checkPersonaFlowCoherence(reg *prd.Registry) []prd.Issue {
	flows, ok := reg.Get("user_flows")
	if !ok || strings.TrimSpace(flows.Content) == "" {
		return nil
	}
	personasSec, _ := reg.Get("user_personas")

	var personas []string
	if personasSec != nil {
		personas = extractEntities(personasSec.Content)
	}

	var issues []prd.Issue
	for _, flow := range splitEntries(flows.Content) {
		flowLower := strings.ToLower(flow)
		referenced := false
		for _, persona := range personas {
			if strings.Contains(flowLower, strings.ToLower(persona)) {
				referenced = true
				break
			}
		}
		if !referenced {
			issues = append(issues, prd.Issue{
				Kind:             prd.IssuePersonaFlowGap,
				SectionsInvolved: []string{"user_flows", "user_personas"},
				Description:      fmt.Sprintf("flow %q does not reference a defined persona", truncateEntry(flow)),
			})
		}
	}
	return issues
}

// truncateEntry 截断条目文本用于问题描述
func truncateEntry(entry string) string {
	return truncateRunes(entry, 60)
}
