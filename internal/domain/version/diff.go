package version

import (
	"sort"
	"strings"
)

// Compare 计算两个版本的逐章节差异
// 结果确定：章节按 key 排序，行差异由 LCS 对齐得出
func Compare(a, b *Version) *Diff {
	keys := make(map[string]bool)
	for key := range a.Contents {
		keys[key] = true
	}
	for key := range b.Contents {
		keys[key] = true
	}

	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	diff := &Diff{From: a.VersionID, To: b.VersionID}
	for _, key := range sorted {
		added, removed := diffLines(a.Contents[key], b.Contents[key])
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		diff.Sections = append(diff.Sections, SectionDiff{Key: key, Added: added, Removed: removed})
	}
	return diff
}

// diffLines 基于行级 LCS 的差异：返回仅在 b 中的行与仅在 a 中的行
func diffLines(a, b string) (added, removed []string) {
	if a == b {
		return nil, nil
	}
	linesA := splitLines(a)
	linesB := splitLines(b)

	// LCS 长度表
	m, n := len(linesA), len(linesB)
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if linesA[i] == linesB[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	// 回溯收集差异行
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case linesA[i] == linesB[j]:
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			removed = append(removed, linesA[i])
			i++
		default:
			added = append(added, linesB[j])
			j++
		}
	}
	for ; i < m; i++ {
		removed = append(removed, linesA[i])
	}
	for ; j < n; j++ {
		added = append(added, linesB[j])
	}
	return added, removed
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
