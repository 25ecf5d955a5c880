package rag

import "strings"

// 切块参数
// 按段落聚合到目标词数，相邻切块保留一段重叠以保住跨段语境
const (
	chunkTargetWords  = 200
	chunkOverlapParas = 1
)

// chunkText 把文档文本切成检索切块
// 空白段落被丢弃；单个超长段落独立成块，不做段内切分
func chunkText(text string) []string {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	words := 0

	flush := func(nextStart int) {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, "\n\n"))
		// 重叠窗口：保留末尾若干段作为下一块的开头
		overlapFrom := len(current) - chunkOverlapParas
		if overlapFrom < 0 || nextStart < 0 {
			overlapFrom = len(current)
		}
		current = append([]string(nil), current[overlapFrom:]...)
		words = 0
		for _, p := range current {
			words += len(strings.Fields(p))
		}
	}

	for i, para := range paras {
		paraWords := len(strings.Fields(para))
		if words > 0 && words+paraWords > chunkTargetWords {
			flush(i)
		}
		current = append(current, para)
		words += paraWords
	}
	flush(-1)
	return chunks
}

// splitParagraphs 按空行切段
func splitParagraphs(text string) []string {
	var paras []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			paras = append(paras, trimmed)
		}
	}
	return paras
}
