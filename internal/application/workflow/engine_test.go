package workflow

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkinglens/backend/internal/application/assembly"
	"github.com/thinkinglens/backend/internal/domain/oracle"
	"github.com/thinkinglens/backend/internal/domain/prd"
	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/domain/version"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
)

// scriptOracle 可编排的生成式后端桩
type scriptOracle struct {
	normalize     func(raw string) (*oracle.NormalizeResult, error)
	classify      func(msg string) (*oracle.Classification, error)
	update        func(sec oracle.SectionProfile, input string) (*oracle.UpdateResult, error)
	summarize     func(existing string, lines []string) (string, error)
	classifyCalls int
	updateCalls   int
}

func (o *scriptOracle) NormalizeIdea(_ context.Context, raw string) (*oracle.NormalizeResult, error) {
	if o.normalize != nil {
		return o.normalize(raw)
	}
	return &oracle.NormalizeResult{NormalizedIdea: raw}, nil
}

func (o *scriptOracle) GenerateQuestions(_ context.Context, sec oracle.SectionProfile, _ oracle.BoundedContext) (string, error) {
	return fmt.Sprintf("What should go into %s?", sec.Title), nil
}

func (o *scriptOracle) ClassifyIntent(_ context.Context, msg, _, _ string) (*oracle.Classification, error) {
	o.classifyCalls++
	if o.classify != nil {
		return o.classify(msg)
	}
	return &oracle.Classification{Intent: "section_update", Confidence: 0.9}, nil
}

func (o *scriptOracle) UpdateSection(_ context.Context, sec oracle.SectionProfile, input string, _ oracle.BoundedContext) (*oracle.UpdateResult, error) {
	o.updateCalls++
	if o.update != nil {
		return o.update(sec, input)
	}
	return &oracle.UpdateResult{UpdatedContent: input, Score: 0.5}, nil
}

func (o *scriptOracle) Summarize(_ context.Context, existing string, lines []string, _ int) (string, error) {
	if o.summarize != nil {
		return o.summarize(existing, lines)
	}
	return existing + " / folded", nil
}

func (o *scriptOracle) Refine(_ context.Context, draft string) (string, error) {
	return draft, nil
}

func (o *scriptOracle) DescribeDiagram(_ context.Context, _, _ string) (string, error) {
	return "flowchart TD", nil
}

func (o *scriptOracle) Answer(_ context.Context, _ string, _ oracle.BoundedContext) (string, error) {
	return "here is what we have so far", nil
}

// memRepo 内存会话仓储
type memRepo struct {
	sessions   map[string]*session.Session
	results    map[string]*session.TurnResult
	commits    int
	failCommit bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions: make(map[string]*session.Session),
		results:  make(map[string]*session.TurnResult),
	}
}

func (r *memRepo) Load(_ context.Context, id string) (*session.Session, error) {
	sess, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func (r *memRepo) Commit(_ context.Context, sess *session.Session, idemKey string, result *session.TurnResult) error {
	if r.failCommit {
		return fmt.Errorf("storage unavailable")
	}
	r.commits++
	r.sessions[sess.ID] = sess
	if idemKey != "" {
		r.results[sess.ID+"/"+idemKey] = result
	}
	return nil
}

func (r *memRepo) FindTurnResult(_ context.Context, sessionID, idemKey string) (*session.TurnResult, error) {
	return r.results[sessionID+"/"+idemKey], nil
}

// memVersions 内存版本仓储
type memVersions struct {
	next      int64
	snapshots []*version.Version
}

func (v *memVersions) Snapshot(_ context.Context, sess *session.Session, draft, reason string) (*version.Version, error) {
	v.next++
	contents := make(map[string]string)
	if sess.Registry != nil {
		for key, sec := range sess.Registry.Sections {
			contents[key] = sec.Content
		}
	}
	snap := &version.Version{SessionID: sess.ID, VersionID: v.next, Reason: reason, Contents: contents, CreatedAt: time.Now()}
	v.snapshots = append(v.snapshots, snap)
	return snap, nil
}

func (v *memVersions) Restore(_ context.Context, sess *session.Session, versionID int64) error {
	for _, snap := range v.snapshots {
		if snap.VersionID == versionID {
			for key, content := range snap.Contents {
				if sec, ok := sess.Registry.Sections[key]; ok {
					sec.Content = content
				}
			}
			return nil
		}
	}
	return version.ErrNotFound
}

func testTemplate() *prd.Template {
	return &prd.Template{
		Sections: []prd.SectionTemplate{
			{Key: "problem_statement", Title: "Problem Statement", Mandatory: true, Checklist: []string{"who is affected", "current pain"}},
			{Key: "user_personas", Title: "User Personas", Mandatory: true},
			{Key: "goals", Title: "Goals & Objectives", Mandatory: true, Dependencies: []string{"problem_statement"}},
			{Key: "user_flows", Title: "User Flows", Mandatory: true, Dependencies: []string{"user_personas", "goals"}},
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Oracle: config.OracleConfig{MaxRetries: 0},
		Workflow: config.WorkflowConfig{
			CompletionThreshold:  0.8,
			ConfidenceThreshold:  0.6,
			WindowSize:           5,
			ContextBudgetTokens:  2000,
			SummaryBudgetTokens:  600,
			SnapshotBudgetTokens: 400,
			ClarifyCap:           3,
			TurnBudget:           5 * time.Second,
		},
	}
}

func newTestEngine(orc *scriptOracle, cfg *config.Config) (*Engine, *memRepo, *memVersions) {
	repo := newMemRepo()
	versions := &memVersions{}
	budgeter := NewBudgeter(wordCounter{}, cfg)
	assembler := assembly.NewService(orc, wordCounter{}, cfg)
	engine := NewEngine(repo, orc, budgeter, assembler, versions, nil, nil, testTemplate(), cfg)
	return engine, repo, versions
}

// enterBuild 走完 init 与 plan，返回处于 build 阶段的会话 ID
func enterBuild(t *testing.T, e *Engine) string {
	t.Helper()
	start, err := e.StartSession(context.Background(), "u1", "An app that helps commuters find open coffee shops")
	require.NoError(t, err)
	require.Equal(t, string(prd.StagePlan), start.Stage)

	confirmed, err := e.SubmitTurn(context.Background(), start.SessionID, "looks good", "")
	require.NoError(t, err)
	require.Equal(t, string(prd.StageBuild), confirmed.Stage)
	require.Equal(t, "problem_statement", confirmed.CurrentSection)
	return start.SessionID
}

// completeSection 以达标内容驱动一次章节更新
func completeSection(t *testing.T, e *Engine, orc *scriptOracle, sessID, content string) *session.TurnResult {
	t.Helper()
	orc.classify = nil // 默认 section_update
	orc.update = func(_ oracle.SectionProfile, _ string) (*oracle.UpdateResult, error) {
		return &oracle.UpdateResult{UpdatedContent: content, Score: 0.9}, nil
	}
	result, err := e.SubmitTurn(context.Background(), sessID, "here you go", "")
	require.NoError(t, err)
	return result
}

// 各章节能通过确定性要素检查的内容
const (
	problemContent  = "Commuters cannot find open coffee shops near their route."
	personasContent = "The primary user is Maya, a commuting graduate student."
	goalsContent    = "Reduce time spent searching for a shop by half within 6 months."
	flowsContent    = "1. As a commuter, the user can first open the map, then pick an open shop."
)

func TestStartSession_ClarificationsCapped(t *testing.T) {
	orc := &scriptOracle{
		normalize: func(raw string) (*oracle.NormalizeResult, error) {
			return &oracle.NormalizeResult{NeedsClarification: true, Questions: "Who is this for?", NormalizedIdea: raw}, nil
		},
	}
	e, repo, _ := newTestEngine(orc, testConfig())

	start, err := e.StartSession(context.Background(), "u1", "an app")
	require.NoError(t, err)
	assert.Equal(t, string(prd.StageInit), start.Stage)
	assert.Equal(t, "Who is this for?", start.Reply)

	// 第二、三次澄清仍停留在 init
	for i := 0; i < 2; i++ {
		result, err := e.SubmitTurn(context.Background(), start.SessionID, "still vague", "")
		require.NoError(t, err)
		assert.Equal(t, string(prd.StageInit), result.Stage)
	}

	// 澄清额度用尽后带着当前理解进入 plan
	result, err := e.SubmitTurn(context.Background(), start.SessionID, "just build something", "")
	require.NoError(t, err)
	assert.Equal(t, string(prd.StagePlan), result.Stage)
	assert.Equal(t, 3, repo.sessions[start.SessionID].ClarifyCount)
}

func TestPlanConfirmation_EntersBuildWithFirstQuestion(t *testing.T) {
	orc := &scriptOracle{}
	e, _, _ := newTestEngine(orc, testConfig())

	sessID := enterBuild(t, e)
	assert.NotEmpty(t, sessID)
}

func TestUpdate_MissingTimeframeStaysInProgress(t *testing.T) {
	orc := &scriptOracle{}
	e, repo, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	completeSection(t, e, orc, sessID, problemContent)
	completeSection(t, e, orc, sessID, personasContent)

	// 目标章节：定性评分达标但缺少时间范围，要素检查封顶评分
	orc.update = func(_ oracle.SectionProfile, _ string) (*oracle.UpdateResult, error) {
		return &oracle.UpdateResult{UpdatedContent: "Reduce search time by half.", Score: 0.95}, nil
	}
	result, err := e.SubmitTurn(context.Background(), sessID, "goals without dates", "")
	require.NoError(t, err)

	sec, _ := repo.sessions[sessID].Registry.Get("goals")
	assert.Equal(t, prd.StatusInProgress, sec.Status)
	assert.Contains(t, result.Reply, "timeframe")
	assert.Equal(t, "goals", result.CurrentSection, "焦点不前进")
}

func TestUnknownTarget_DisambiguatesWithoutStateChange(t *testing.T) {
	orc := &scriptOracle{}
	e, repo, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)
	completeSection(t, e, orc, sessID, problemContent)

	before := repo.sessions[sessID].Registry.Clone()
	orc.classify = func(string) (*oracle.Classification, error) {
		return &oracle.Classification{Intent: "off_target_update", TargetSection: "budget", Confidence: 0.9}, nil
	}
	result, err := e.SubmitTurn(context.Background(), sessID, "put this in the budget section", "")
	require.NoError(t, err)

	assert.Contains(t, result.Reply, "Which one")
	after := repo.sessions[sessID].Registry
	for key, sec := range before.Sections {
		assert.Equal(t, sec.Status, after.Sections[key].Status)
		assert.Equal(t, sec.Content, after.Sections[key].Content)
	}
	assert.Equal(t, before.CurrentIndex, after.CurrentIndex)
}

func TestLowConfidence_Disambiguates(t *testing.T) {
	orc := &scriptOracle{}
	e, _, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	orc.classify = func(string) (*oracle.Classification, error) {
		return &oracle.Classification{Intent: "section_update", Confidence: 0.3}, nil
	}
	result, err := e.SubmitTurn(context.Background(), sessID, "mumble", "")
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "Which one")
}

func TestOffTarget_UpdatesWithoutMovingFocus(t *testing.T) {
	orc := &scriptOracle{}
	e, repo, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	orc.classify = func(string) (*oracle.Classification, error) {
		return &oracle.Classification{Intent: "off_target_update", TargetSection: "goals", Confidence: 0.9}, nil
	}
	orc.update = func(_ oracle.SectionProfile, input string) (*oracle.UpdateResult, error) {
		return &oracle.UpdateResult{UpdatedContent: input, Score: 0.4}, nil
	}
	result, err := e.SubmitTurn(context.Background(), sessID, "by the way, a goal is faster search", "")
	require.NoError(t, err)

	reg := repo.sessions[sessID].Registry
	goals, _ := reg.Get("goals")
	assert.Equal(t, prd.StatusInProgress, goals.Status)
	assert.Equal(t, "problem_statement", result.CurrentSection, "焦点回到原章节")
	assert.Contains(t, result.Reply, "Back to")
}

func TestCompletion_TransitionsToReviewWithExactlyOneVersion(t *testing.T) {
	orc := &scriptOracle{}
	e, repo, versions := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	completeSection(t, e, orc, sessID, problemContent)
	completeSection(t, e, orc, sessID, personasContent)
	completeSection(t, e, orc, sessID, goalsContent)
	final := completeSection(t, e, orc, sessID, flowsContent)

	assert.Equal(t, string(prd.StageReview), final.Stage)
	assert.NotEmpty(t, final.Draft)
	assert.Equal(t, int64(1), final.VersionID)
	assert.Len(t, versions.snapshots, 1, "一次迁移恰好产生一个版本")
	assert.Equal(t, "4/4 sections completed", final.Progress)
	assert.True(t, repo.sessions[sessID].Registry.AllMandatoryCompleted())
}

func TestReview_RevisionStalesDependentsAndReentersBuild(t *testing.T) {
	orc := &scriptOracle{}
	e, repo, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)
	completeSection(t, e, orc, sessID, problemContent)
	completeSection(t, e, orc, sessID, personasContent)
	completeSection(t, e, orc, sessID, goalsContent)
	completeSection(t, e, orc, sessID, flowsContent)

	orc.classify = func(string) (*oracle.Classification, error) {
		return &oracle.Classification{Intent: "revision", TargetSection: "user_personas", Confidence: 0.9}, nil
	}
	orc.update = func(_ oracle.SectionProfile, _ string) (*oracle.UpdateResult, error) {
		return &oracle.UpdateResult{UpdatedContent: "The primary user is actually a barista.", Score: 0}, nil
	}
	result, err := e.SubmitTurn(context.Background(), sessID, "actually the persona is wrong", "")
	require.NoError(t, err)

	reg := repo.sessions[sessID].Registry
	personas, _ := reg.Get("user_personas")
	flows, _ := reg.Get("user_flows")
	goals, _ := reg.Get("goals")
	assert.Equal(t, prd.StatusInProgress, personas.Status)
	assert.Equal(t, prd.StatusStale, flows.Status, "依赖画像的流程被打回")
	assert.Equal(t, prd.StatusCompleted, goals.Status, "无关章节不受影响")
	assert.Equal(t, string(prd.StageBuild), result.Stage)
	assert.Contains(t, result.Reply, "User Flows")
}

func TestReview_ExportKeywordFinalizes(t *testing.T) {
	orc := &scriptOracle{}
	e, repo, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)
	completeSection(t, e, orc, sessID, problemContent)
	completeSection(t, e, orc, sessID, personasContent)
	completeSection(t, e, orc, sessID, goalsContent)
	completeSection(t, e, orc, sessID, flowsContent)

	result, err := e.SubmitTurn(context.Background(), sessID, "export it please", "")
	require.NoError(t, err)
	assert.Equal(t, string(prd.StageExport), result.Stage)
	assert.False(t, result.NeedsInput)
	assert.Equal(t, session.StatusCompleted, repo.sessions[sessID].Status)
}

func TestMetaQuery_ReadOnlyProgressReply(t *testing.T) {
	orc := &scriptOracle{}
	e, _, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)
	completeSection(t, e, orc, sessID, problemContent)

	orc.classify = func(string) (*oracle.Classification, error) {
		return &oracle.Classification{Intent: "meta_query", Confidence: 0.9}, nil
	}
	updatesBefore := orc.updateCalls
	result, err := e.SubmitTurn(context.Background(), sessID, "show me the progress", "")
	require.NoError(t, err)

	assert.Contains(t, result.Reply, "1/4 sections completed")
	assert.Equal(t, updatesBefore, orc.updateCalls, "元查询不触发章节更新")
}

func TestIdempotency_ReplaysCommittedResult(t *testing.T) {
	orc := &scriptOracle{}
	e, _, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	orc.update = func(_ oracle.SectionProfile, input string) (*oracle.UpdateResult, error) {
		return &oracle.UpdateResult{UpdatedContent: input, Score: 0.4}, nil
	}
	first, err := e.SubmitTurn(context.Background(), sessID, "some detail", "turn-7")
	require.NoError(t, err)

	callsBefore := orc.classifyCalls
	replay, err := e.SubmitTurn(context.Background(), sessID, "some detail", "turn-7")
	require.NoError(t, err)

	assert.Equal(t, first.Reply, replay.Reply)
	assert.Equal(t, callsBefore, orc.classifyCalls, "回放不触发任何外部调用")
}

func TestSubmitTurn_RejectsConcurrentTurn(t *testing.T) {
	orc := &scriptOracle{}
	e, _, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	e.lockFor(sessID).Lock()
	defer e.lockFor(sessID).Unlock()

	_, err := e.SubmitTurn(context.Background(), sessID, "hello", "")
	assert.ErrorIs(t, err, session.ErrTurnInFlight)
}

func TestSummarizeFailure_WindowBoundStillHolds(t *testing.T) {
	cfg := testConfig()
	cfg.Workflow.WindowSize = 2
	orc := &scriptOracle{
		summarize: func(string, []string) (string, error) {
			return "", oracle.ErrUnavailable
		},
		classify: func(string) (*oracle.Classification, error) {
			return &oracle.Classification{Intent: "meta_query", Confidence: 0.9}, nil
		},
	}
	e, repo, _ := newTestEngine(orc, cfg)
	sessID := enterBuild(t, e)

	for i := 0; i < 3; i++ {
		_, err := e.SubmitTurn(context.Background(), sessID, "status update please", "")
		require.NoError(t, err)
	}

	conv := repo.sessions[sessID].Conversation
	assert.LessOrEqual(t, len(conv.Turns), 2, "摘要失败时窗口上界依然保持")
	assert.NotEmpty(t, conv.RollingSummary, "本地折叠兜底生效")
}

func TestSubmitTurn_UnknownSession(t *testing.T) {
	orc := &scriptOracle{}
	e, _, _ := newTestEngine(orc, testConfig())

	_, err := e.SubmitTurn(context.Background(), "missing", "hi", "")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestOracleExhaustion_ApologizesWithoutCommit(t *testing.T) {
	orc := &scriptOracle{}
	e, repo, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	commits := repo.commits
	orc.classify = func(string) (*oracle.Classification, error) {
		return nil, oracle.ErrUnavailable
	}
	result, err := e.SubmitTurn(context.Background(), sessID, "add our goals", "")
	require.NoError(t, err)

	assert.Contains(t, result.Reply, "Nothing has been changed")
	assert.True(t, result.NeedsInput)
	assert.Contains(t, result.Degraded, "oracle")
	assert.Equal(t, string(prd.StageBuild), result.Stage)
	assert.Equal(t, commits, repo.commits, "道歉回合不提交任何状态")
}

func TestCompletionCommitFailure_NoOrphanVersion(t *testing.T) {
	orc := &scriptOracle{}
	e, repo, versions := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	completeSection(t, e, orc, sessID, problemContent)
	completeSection(t, e, orc, sessID, personasContent)
	completeSection(t, e, orc, sessID, goalsContent)

	// 最后一个完成回合的状态提交失败：版本历史必须保持为空
	orc.update = func(_ oracle.SectionProfile, _ string) (*oracle.UpdateResult, error) {
		return &oracle.UpdateResult{UpdatedContent: flowsContent, Score: 0.9}, nil
	}
	repo.failCommit = true
	_, err := e.SubmitTurn(context.Background(), sessID, "here are the flows", "")
	require.Error(t, err)
	assert.Empty(t, versions.snapshots, "状态未提交时不得追加版本")
}

func TestRollback_CommitsStateBeforeAppendingVersion(t *testing.T) {
	orc := &scriptOracle{}
	e, repo, versions := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	completeSection(t, e, orc, sessID, problemContent)
	completeSection(t, e, orc, sessID, personasContent)
	completeSection(t, e, orc, sessID, goalsContent)
	completeSection(t, e, orc, sessID, flowsContent)
	require.Len(t, versions.snapshots, 1)

	restored, err := e.Rollback(context.Background(), sessID, 1)
	require.NoError(t, err)
	assert.Equal(t, "rollback", restored.Reason)
	assert.Len(t, versions.snapshots, 2, "回滚以追加新版本完成")

	// 状态提交失败时回滚中止，不追加版本
	repo.failCommit = true
	_, err = e.Rollback(context.Background(), sessID, 1)
	require.Error(t, err)
	assert.Len(t, versions.snapshots, 2, "提交失败后不得出现孤儿版本")
}

func TestRollback_RejectsConcurrentTurn(t *testing.T) {
	orc := &scriptOracle{}
	e, _, _ := newTestEngine(orc, testConfig())
	sessID := enterBuild(t, e)

	mu := e.lockFor(sessID)
	mu.Lock()
	defer mu.Unlock()

	_, err := e.Rollback(context.Background(), sessID, 1)
	assert.ErrorIs(t, err, session.ErrTurnInFlight)
}

func TestSnippet_TruncatesOnRuneBoundary(t *testing.T) {
	long := "x" + strings.Repeat("界", 120)
	out := snippet(long)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), 200+len("…"))
}
