package prd

import (
	"regexp"
	"strings"
)

// RubricField 章节必备要素
// Patterns 中任一模式命中即视为该要素在文本中出现
type RubricField struct {
	Name     string
	Patterns []*regexp.Regexp
}

// RubricResult 确定性评分结果
type RubricResult struct {
	Passed        bool     // 所有必备要素均出现
	MissingFields []string // 缺失的要素名
}

// timeframePattern 时间范围表述：日期、季度、期限词
var timeframePattern = regexp.MustCompile(`(?i)\b(q[1-4]|20\d{2}|by\s+\w+|within\s+\d+|\d+\s*(day|week|month|quarter|year)s?|deadline|timeline|timeframe)\b`)

// HasTimeframe 判断文本是否包含时间范围表述
// 装配引擎的目标-指标检查复用该判定
func HasTimeframe(text string) bool {
	return timeframePattern.MatchString(text)
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// sectionRubrics 按章节 key 定义的必备要素表
// 缺少任一要素时章节不得 completed，与定性评分无关
var sectionRubrics = map[string][]RubricField{
	"goals": {
		{Name: "timeframe", Patterns: []*regexp.Regexp{timeframePattern}},
	},
	"success_metrics": {
		{Name: "baseline", Patterns: patterns(`baseline|current(ly)?\s|today|starting point|from\s+\d`)},
		{Name: "target", Patterns: patterns(`target|goal of|reach|increase to|to\s+\d+%?|grow to`)},
		{Name: "timeframe", Patterns: []*regexp.Regexp{timeframePattern}},
		{Name: "owner", Patterns: patterns(`owner|owned by|responsible|accountable|team will|pm\b|manager`)},
		{Name: "source", Patterns: patterns(`source|measured (by|via|with|using)|analytics|dashboard|tracking|instrument`)},
	},
	"user_personas": {
		{Name: "primary persona", Patterns: patterns(`persona|primary user|target user|audience`)},
	},
	"user_flows": {
		{Name: "persona reference", Patterns: patterns(`persona|as a\b|the user|users?\s+(can|will|start|open|tap|click)`)},
		{Name: "steps", Patterns: patterns(`step|then|first|->|\d\.\s`)},
	},
	"risks": {
		{Name: "mitigation", Patterns: patterns(`mitigat|fallback|contingency|reduce the risk|plan b`)},
	},
	"timeline": {
		{Name: "milestones", Patterns: patterns(`milestone|phase|sprint|release|launch`)},
		{Name: "timeframe", Patterns: []*regexp.Regexp{timeframePattern}},
	},
}

// EvaluateRubric 对章节内容做确定性要素检查
// 未登记专项要素的章节只要求非空内容
func EvaluateRubric(key, content string) RubricResult {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return RubricResult{Passed: false, MissingFields: []string{"content"}}
	}

	fields, ok := sectionRubrics[key]
	if !ok {
		return RubricResult{Passed: true}
	}

	var missing []string
	for _, field := range fields {
		found := false
		for _, p := range field.Patterns {
			if p.MatchString(trimmed) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, field.Name)
		}
	}
	return RubricResult{Passed: len(missing) == 0, MissingFields: missing}
}

// CombineScores 合成最终完整度评分
// 确定性要素未通过时封顶在阈值之下，章节无法仅凭定性评分完成
func CombineScores(rubric RubricResult, qualitative float64, threshold float64) float64 {
	if qualitative < 0 {
		qualitative = 0
	}
	if qualitative > 1 {
		qualitative = 1
	}
	if !rubric.Passed {
		ceiling := threshold - 0.1
		if ceiling < 0 {
			ceiling = 0
		}
		if qualitative > ceiling {
			return ceiling
		}
	}
	return qualitative
}
