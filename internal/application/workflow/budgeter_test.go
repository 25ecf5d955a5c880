package workflow

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/thinkinglens/backend/internal/domain/prd"
	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
)

// wordCounter 以空白分词近似 token 计数
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func (wordCounter) TruncateTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) <= budget {
		return text
	}
	return strings.Join(fields[:budget], " ")
}

func budgetConfig() *config.Config {
	return &config.Config{Workflow: config.WorkflowConfig{
		ContextBudgetTokens:  100,
		SummaryBudgetTokens:  30,
		SnapshotBudgetTokens: 20,
	}}
}

func sessionWithFocus(content string) *session.Session {
	sess := session.New("s1", "u1")
	sess.Snapshot = strings.Repeat("snap ", 50)
	sess.Conversation.RollingSummary = strings.Repeat("sum ", 100)
	sess.Registry = &prd.Registry{
		Sections: map[string]*prd.Section{
			"goals": {Key: "goals", Title: "Goals", Content: content, Status: prd.StatusInProgress},
		},
		Order:        []string{"goals"},
		CurrentIndex: 0,
	}
	return sess
}

func TestBuild_RespectsTotalBudget(t *testing.T) {
	b := NewBudgeter(wordCounter{}, budgetConfig())
	sess := sessionWithFocus(strings.Repeat("content ", 500))

	bc := b.Build(sess, "")
	assert.LessOrEqual(t, b.Size(bc), 100)
	assert.LessOrEqual(t, wordCounter{}.CountTokens(bc.RollingSummary), 30)
	assert.LessOrEqual(t, wordCounter{}.CountTokens(bc.Snapshot), 20)
}

func TestBuild_SplitsRemainingWithRetrieved(t *testing.T) {
	b := NewBudgeter(wordCounter{}, budgetConfig())
	sess := sessionWithFocus(strings.Repeat("content ", 500))

	bc := b.Build(sess, strings.Repeat("chunk ", 200))
	assert.LessOrEqual(t, b.Size(bc), 100)
	assert.NotEmpty(t, bc.Retrieved)
	assert.NotEmpty(t, bc.SectionContent)
}

func TestBuild_ShortInputsPassThrough(t *testing.T) {
	b := NewBudgeter(wordCounter{}, budgetConfig())
	sess := session.New("s1", "u1")
	sess.Snapshot = "tiny snapshot"
	sess.Conversation.RollingSummary = "tiny summary"

	bc := b.Build(sess, "")
	assert.Equal(t, "tiny summary", bc.RollingSummary)
	assert.Equal(t, "tiny snapshot", bc.Snapshot)
	assert.Empty(t, bc.SectionContent)
}

func TestFallbackSummary_Bounded(t *testing.T) {
	b := NewBudgeter(wordCounter{}, budgetConfig())
	lines := []string{strings.Repeat("line ", 100)}

	out := b.FallbackSummary(strings.Repeat("old ", 100), lines)
	assert.LessOrEqual(t, wordCounter{}.CountTokens(out), 30)
}

func TestFoldEvicted(t *testing.T) {
	evicted := []session.Turn{
		{Role: "user", Text: " hello ", Timestamp: time.Now()},
		{Role: "assistant", Text: "hi", Timestamp: time.Now()},
	}
	lines := FoldEvicted(evicted)
	assert.Equal(t, []string{"user: hello", "assistant: hi"}, lines)
}
