package assembly

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkinglens/backend/internal/domain/oracle"
	"github.com/thinkinglens/backend/internal/domain/prd"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
)

// fakeCounter 以空白分词近似 token 计数
type fakeCounter struct{}

func (fakeCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func (fakeCounter) TruncateTokens(text string, budget int) string {
	fields := strings.Fields(text)
	if len(fields) <= budget {
		return text
	}
	return strings.Join(fields[:budget], " ") + " …"
}

// refineOracle 只实现润色的桩
type refineOracle struct {
	oracle.Oracle
	refined string
	err     error
}

func (o *refineOracle) Refine(_ context.Context, draft string) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	if o.refined != "" {
		return o.refined, nil
	}
	return draft, nil
}

func buildRegistry(t *testing.T, contents map[string]string) *prd.Registry {
	t.Helper()
	tpl := &prd.Template{
		Sections: []prd.SectionTemplate{
			{Key: "problem_statement", Title: "Problem Statement", Mandatory: true},
			{Key: "goals", Title: "Goals & Objectives", Mandatory: true, Dependencies: []string{"problem_statement"}},
			{Key: "success_metrics", Title: "Success Metrics", Mandatory: true, Dependencies: []string{"goals"}},
			{Key: "user_personas", Title: "User Personas", Mandatory: true},
			{Key: "core_features", Title: "Core Features", Mandatory: true},
			{Key: "user_flows", Title: "User Flows", Mandatory: true, Dependencies: []string{"core_features", "user_personas"}},
		},
	}
	reg, err := prd.NewRegistry(tpl, "test idea")
	require.NoError(t, err)
	for key, content := range contents {
		sec, ok := reg.Get(key)
		require.True(t, ok)
		sec.Content = content
		sec.Status = prd.StatusInProgress
	}
	return reg
}

func newService() *Service {
	cfg := &config.Config{Workflow: config.WorkflowConfig{SnapshotBudgetTokens: 400}}
	return NewService(&refineOracle{}, fakeCounter{}, cfg)
}

func TestLightPass_MergesInTopologicalOrder(t *testing.T) {
	reg := buildRegistry(t, map[string]string{
		"problem_statement": "People cannot find open coffee shops.",
		"goals":             "Reduce search time by half within 6 months.",
	})

	result := newService().LightPass(reg, "coffee shop finder")
	assert.Contains(t, result.Draft, "# PRD: coffee shop finder")

	// 依赖顺序：problem_statement 在 goals 之前
	problemIdx := strings.Index(result.Draft, "Problem Statement")
	goalsIdx := strings.Index(result.Draft, "Goals & Objectives")
	assert.Greater(t, goalsIdx, problemIdx)

	// 空章节不出现在草稿中
	assert.NotContains(t, result.Draft, "User Flows")
}

func TestLightPass_GoalMetricGap(t *testing.T) {
	reg := buildRegistry(t, map[string]string{
		"goals":           "- Increase retention among students",
		"success_metrics": "- Retention: baseline 20%, target 35% by Q3",
	})

	result := newService().LightPass(reg, "idea")
	for _, issue := range result.Issues {
		assert.NotEqual(t, prd.IssueGoalMetricGap, issue.Kind, "有时间范围且词汇重叠的指标不应被标记")
	}

	// 去掉时间范围后应被标记
	metrics, _ := reg.Get("success_metrics")
	metrics.Content = "- Retention: baseline 20%, target 35%"
	result = newService().LightPass(reg, "idea")

	found := false
	for _, issue := range result.Issues {
		if issue.Kind == prd.IssueGoalMetricGap {
			found = true
		}
	}
	assert.True(t, found, "缺少时间范围的目标应产生 goal-metric-gap")
}

func TestLightPass_EntityMismatch(t *testing.T) {
	reg := buildRegistry(t, map[string]string{
		"core_features": "Availability Map shows open shops in real time.",
		"user_flows":    "1. Open the Availability Map\n2. Tap Favorites List to save a shop",
	})

	result := newService().LightPass(reg, "idea")

	var mismatched []string
	for _, issue := range result.Issues {
		if issue.Kind == prd.IssueEntityMismatch {
			mismatched = append(mismatched, issue.Description)
		}
	}
	require.Len(t, mismatched, 1)
	assert.Contains(t, mismatched[0], "Favorites List")
}

func TestFullPass_PersonaFlowGap(t *testing.T) {
	reg := buildRegistry(t, map[string]string{
		"user_personas": "Maya, a busy graduate student who commutes daily.",
		"user_flows":    "- Maya opens the app and finds a shop\n- Someone exports their favorites",
	})

	result, err := newService().FullPass(context.Background(), reg, "idea")
	require.NoError(t, err)

	found := false
	for _, issue := range result.Issues {
		if issue.Kind == prd.IssuePersonaFlowGap {
			found = true
			assert.Contains(t, issue.Description, "exports")
		}
	}
	assert.True(t, found, "未引用画像的流程应产生 persona-flow-gap")
}

func TestFullPass_TerminologyDrift(t *testing.T) {
	reg := buildRegistry(t, map[string]string{
		"goals":         "Help customers discover shops. Focus on customer value, customers first, customers always.",
		"core_features": "Costumers can filter by distance. Costumers see live seat counts. Costumers get alerts.",
	})

	result, err := newService().FullPass(context.Background(), reg, "idea")
	require.NoError(t, err)

	found := false
	for _, issue := range result.Issues {
		if issue.Kind == prd.IssueTerminologyDrift {
			found = true
			assert.Len(t, issue.SectionsInvolved, 2)
		}
	}
	assert.True(t, found, "customer/costumer 应被识别为术语漂移")
}

func TestFullPass_RefineFailureKeepsDraft(t *testing.T) {
	reg := buildRegistry(t, map[string]string{
		"problem_statement": "Problem content here.",
	})
	cfg := &config.Config{Workflow: config.WorkflowConfig{SnapshotBudgetTokens: 400}}
	svc := NewService(&refineOracle{err: oracle.ErrUnavailable}, fakeCounter{}, cfg)

	result, err := svc.FullPass(context.Background(), reg, "idea")
	require.NoError(t, err, "润色失败不应让装配失败")
	assert.Contains(t, result.Draft, "Problem content here.")
}

func TestSnapshot_Bounded(t *testing.T) {
	long := strings.Repeat("word ", 2000)
	reg := buildRegistry(t, map[string]string{
		"problem_statement": long,
		"goals":             long,
	})

	cfg := &config.Config{Workflow: config.WorkflowConfig{SnapshotBudgetTokens: 50}}
	svc := NewService(&refineOracle{}, fakeCounter{}, cfg)

	result := svc.LightPass(reg, "idea")
	assert.LessOrEqual(t, len(strings.Fields(result.Snapshot)), 52, "快照必须被截断到预算附近")
}

func TestTruncateRunes_KeepsValidUTF8(t *testing.T) {
	long := "目标" + strings.Repeat("指标联动检查", 40)
	out := truncateRunes(long, 60)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), 60+len("…"))

	short := "fits entirely"
	assert.Equal(t, short, truncateRunes(short, 60))
}
