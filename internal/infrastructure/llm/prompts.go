package llm

import (
	"fmt"
	"strings"

	"github.com/thinkinglens/backend/internal/domain/oracle"
)

// 系统提示词定义
// 结构化输出一律要求纯 JSON；解析端容忍代码围栏
const (
	normalizeSystemPrompt = `You are a senior product manager helping turn a raw product idea into a PRD.
Decide whether the idea is clear enough to plan a document around.
If it is ambiguous (unclear audience, unclear problem, or could mean several very different products), ask at most 3 short clarifying questions.
If it is clear enough, rewrite it as one precise sentence.

Return pure JSON, no other text:
{"needs_clarification": bool, "questions": "clarifying questions or empty", "normalized_idea": "one-sentence normalized idea or empty"}`

	questionsSystemPrompt = `You are a product manager interviewing a founder to fill in one section of a PRD.
Ask at most 2 short, targeted questions that would surface the missing information for the current section.
Return only the questions as plain text, no preamble.`

	classifySystemPrompt = `Classify the user's reply in a PRD-building conversation into exactly one intent:
- section_update: provides content for the CURRENT section
- off_target_update: provides content that belongs to a DIFFERENT section
- revision: asks to change something already written in an earlier section
- meta_query: asks about progress, process, or what has been captured
- off_topic: unrelated to the PRD

Return pure JSON, no other text:
{"intent": "...", "target_section": "section key or empty", "confidence": 0.0-1.0}`

	updateSystemPrompt = `You are a product manager maintaining one section of a PRD.
Merge the user's new input into the existing section content: keep what is still true, integrate the new details, remove contradictions.
Score how complete the section now is against its checklist, from 0.0 to 1.0.
If information is still missing, include at most 2 short follow-up questions.

Return pure JSON, no other text:
{"updated_content": "full new section text in markdown", "score": 0.0-1.0, "next_questions": "questions or empty"}`

	summarizeSystemPrompt = `You maintain a rolling summary of a PRD-building conversation.
Fold the newly evicted exchanges into the existing summary.
Keep decisions, constraints, names, and numbers; drop pleasantries.
Return only the updated summary as plain text.`

	refineSystemPrompt = `You are an editor polishing an assembled PRD draft.
Smooth transitions between sections, unify terminology and tone, fix formatting.
Do not add new facts and do not drop any section.
Return the full polished document as markdown, nothing else.`

	diagramSystemPrompt = `You turn PRD content into a mermaid diagram.
Return only the mermaid source text, no prose and no code fences.`

	answerSystemPrompt = `You answer questions about a PRD that is being written, using only the provided context.
If the context does not contain the answer, say so briefly.
Return plain text.`
)

// buildContextBlock 受限上下文的统一文本块
func buildContextBlock(bc oracle.BoundedContext) string {
	var sb strings.Builder
	if bc.RollingSummary != "" {
		sb.WriteString("Conversation summary:\n")
		sb.WriteString(bc.RollingSummary)
		sb.WriteString("\n\n")
	}
	if bc.Snapshot != "" {
		sb.WriteString("PRD snapshot:\n")
		sb.WriteString(bc.Snapshot)
		sb.WriteString("\n\n")
	}
	if bc.Retrieved != "" {
		sb.WriteString("Relevant uploaded material:\n")
		sb.WriteString(bc.Retrieved)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// buildQuestionsPrompt 提问请求
func buildQuestionsPrompt(section oracle.SectionProfile, bc oracle.BoundedContext) string {
	var sb strings.Builder
	sb.WriteString(buildContextBlock(bc))
	sb.WriteString(fmt.Sprintf("Current section: %s\n", section.Title))
	if len(section.Checklist) > 0 {
		sb.WriteString("Checklist for this section:\n")
		for _, item := range section.Checklist {
			sb.WriteString("- ")
			sb.WriteString(item)
			sb.WriteString("\n")
		}
	}
	if section.Content != "" {
		sb.WriteString("\nContent so far:\n")
		sb.WriteString(section.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildClassifyPrompt 分类请求：刻意使用最小上下文
func buildClassifyPrompt(userMessage, currentSection, progress string) string {
	return fmt.Sprintf("Current section: %s\nProgress: %s\n\nUser message:\n%s",
		currentSection, progress, userMessage)
}

// buildUpdatePrompt 章节更新请求
func buildUpdatePrompt(section oracle.SectionProfile, userInput string, bc oracle.BoundedContext) string {
	var sb strings.Builder
	sb.WriteString(buildContextBlock(bc))
	sb.WriteString(fmt.Sprintf("Section: %s (%s)\n", section.Title, section.Key))
	if len(section.Checklist) > 0 {
		sb.WriteString("Checklist:\n")
		for _, item := range section.Checklist {
			sb.WriteString("- ")
			sb.WriteString(item)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nExisting content:\n")
	if section.Content == "" {
		sb.WriteString("(empty)\n")
	} else {
		sb.WriteString(section.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nUser input to merge:\n")
	sb.WriteString(userInput)
	return sb.String()
}

// buildSummarizePrompt 滚动摘要请求
func buildSummarizePrompt(existingSummary string, evicted []string, budgetTokens int) string {
	var sb strings.Builder
	sb.WriteString("Existing summary:\n")
	if existingSummary == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(existingSummary)
		sb.WriteString("\n")
	}
	sb.WriteString("\nNewly evicted exchanges:\n")
	for _, line := range evicted {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\nKeep the updated summary under roughly %d tokens.", budgetTokens))
	return sb.String()
}

// buildDiagramPrompt 图表请求
func buildDiagramPrompt(draft, kind string) string {
	if kind == "" {
		kind = "flowchart"
	}
	return fmt.Sprintf("Diagram kind: %s\n\nPRD draft:\n%s", kind, draft)
}

// buildAnswerPrompt 问答请求
func buildAnswerPrompt(question string, bc oracle.BoundedContext) string {
	var sb strings.Builder
	sb.WriteString(buildContextBlock(bc))
	if bc.SectionContent != "" {
		sb.WriteString("Current section content:\n")
		sb.WriteString(bc.SectionContent)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	return sb.String()
}
