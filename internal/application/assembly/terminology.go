package assembly

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/thinkinglens/backend/internal/domain/prd"
)

// 术语漂移判定参数
// 启发式：长度 >=5 的词条间编辑距离 <=2（含单复数折叠）视为疑似同义漂移
const (
	termMinLength   = 5
	termMaxDistance = 2
	termTopN        = 40 // 参与比较的高频词条上限
)

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z\-]+`)

// termUsage 词条在哪些章节出现
type termUsage struct {
	term     string
	count    int
	sections map[string]bool
}

// checkTerminologyDrift 术语对齐
// 跨章节构建频率排序的词条集合，对高频词条做近重复检测
func checkTerminologyDrift(reg *prd.Registry) []prd.Issue {
	usages := collectTerms(reg)
	if len(usages) < 2 {
		return nil
	}

	var issues []prd.Issue
	reported := make(map[string]bool)
	for i := 0; i < len(usages); i++ {
		for j := i + 1; j < len(usages); j++ {
			a, b := usages[i], usages[j]
			if !nearDuplicate(a.term, b.term) {
				continue
			}
			pair := a.term + "/" + b.term
			if reported[pair] {
				continue
			}
			reported[pair] = true

			sections := unionSections(a.sections, b.sections)
			// 同一章节内的变体不算跨章节漂移
			if len(sections) < 2 {
				continue
			}
			issues = append(issues, prd.Issue{
				Kind:             prd.IssueTerminologyDrift,
				SectionsInvolved: sections,
				Description:      fmt.Sprintf("terms %q and %q appear to refer to the same concept", a.term, b.term),
			})
		}
	}
	return issues
}

// collectTerms 统计全部章节的词条频率，返回频率降序的前 N 个
func collectTerms(reg *prd.Registry) []termUsage {
	byTerm := make(map[string]*termUsage)
	for _, key := range reg.Order {
		sec := reg.Sections[key]
		for _, w := range wordPattern.FindAllString(sec.Content, -1) {
			lower := strings.ToLower(w)
			if len(lower) < termMinLength {
				continue
			}
			u, ok := byTerm[lower]
			if !ok {
				u = &termUsage{term: lower, sections: make(map[string]bool)}
				byTerm[lower] = u
			}
			u.count++
			u.sections[key] = true
		}
	}

	usages := make([]termUsage, 0, len(byTerm))
	for _, u := range byTerm {
		usages = append(usages, *u)
	}
	sort.Slice(usages, func(i, j int) bool {
		if usages[i].count != usages[j].count {
			return usages[i].count > usages[j].count
		}
		return usages[i].term < usages[j].term
	})
	if len(usages) > termTopN {
		usages = usages[:termTopN]
	}
	return usages
}

// nearDuplicate 近重复词条判定：单复数折叠后编辑距离 <=2
func nearDuplicate(a, b string) bool {
	if a == b {
		return false
	}
	fa, fb := foldPlural(a), foldPlural(b)
	if fa == fb {
		return true
	}
	// 前缀完全不同的短词不比较，减少误报
	if fa[0] != fb[0] {
		return false
	}
	return levenshtein(fa, fb) <= termMaxDistance
}

// foldPlural 简单单复数折叠
func foldPlural(term string) string {
	switch {
	case strings.HasSuffix(term, "ies"):
		return term[:len(term)-3] + "y"
	case strings.HasSuffix(term, "es") && len(term) > 4:
		return term[:len(term)-2]
	case strings.HasSuffix(term, "s") && len(term) > 3:
		return term[:len(term)-1]
	}
	return term
}

// levenshtein 编辑距离（单行滚动数组）
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// unionSections 两个词条涉及章节的并集（排序保证确定性）
func unionSections(a, b map[string]bool) []string {
	set := make(map[string]bool, len(a)+len(b))
	for s := range a {
		set[s] = true
	}
	for s := range b {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
