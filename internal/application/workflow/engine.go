package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/thinkinglens/backend/internal/application/assembly"
	"github.com/thinkinglens/backend/internal/domain/events"
	"github.com/thinkinglens/backend/internal/domain/oracle"
	"github.com/thinkinglens/backend/internal/domain/prd"
	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/domain/version"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// SessionRepository 会话聚合的持久化边界
// Commit 必须原子地写入会话状态、幂等记录与回合结果
type SessionRepository interface {
	// Load 读取会话聚合，不存在时返回 session.ErrNotFound
	Load(ctx context.Context, id string) (*session.Session, error)
	// Commit 整体提交一个回合：会话状态 + 幂等键 + 回合结果同事务落盘
	Commit(ctx context.Context, sess *session.Session, idemKey string, result *session.TurnResult) error
	// FindTurnResult 按幂等键查找已提交的回合结果，未命中返回 (nil, nil)
	FindTurnResult(ctx context.Context, sessionID, idemKey string) (*session.TurnResult, error)
}

// VersionStore 版本管理边界，快照追加写，失败不回滚会话
type VersionStore interface {
	Snapshot(ctx context.Context, sess *session.Session, draft, reason string) (*version.Version, error)
	// Restore 把聚合的章节内容恢复到指定版本，只改内存状态，不追加版本
	Restore(ctx context.Context, sess *session.Session, versionID int64) error
}

// errOracleExhausted 生成式后端重试耗尽
// 回合不提交，向用户回一个道歉回合；持久化状态与回合开始前一致
var errOracleExhausted = errors.New("oracle retries exhausted")

// Retriever RAG 检索边界（可选能力，未配置时为 nil）
type Retriever interface {
	Retrieve(ctx context.Context, sessionID, query string) (string, error)
}

// turnTrace 一个回合内累积的事件素材，提交成功后统一发布
// snapshotReason 非空表示回合要求一个版本快照，在状态提交成功后追加
type turnTrace struct {
	stageFrom         prd.Stage
	completedSections []string
	versionID         int64
	degraded          []string
	snapshotDraft     string
	snapshotReason    string
}

// Engine 工作流引擎
// 会话状态的唯一修改者：每个回合整体读出、计算、整体提交
// 同一会话的回合串行化，提交失败时内存状态直接丢弃
type Engine struct {
	repo      SessionRepository
	orc       oracle.Oracle
	budgeter  *Budgeter
	assembler *assembly.Service
	versions  VersionStore
	retriever Retriever
	bus       events.EventBus
	template  *prd.Template
	cfg       *config.Config
	logger    *slog.Logger

	locks sync.Map // sessionID -> *sync.Mutex
}

// NewEngine 创建工作流引擎
func NewEngine(
	repo SessionRepository,
	orc oracle.Oracle,
	budgeter *Budgeter,
	assembler *assembly.Service,
	versions VersionStore,
	retriever Retriever,
	bus events.EventBus,
	template *prd.Template,
	cfg *config.Config,
) *Engine {
	return &Engine{
		repo:      repo,
		orc:       orc,
		budgeter:  budgeter,
		assembler: assembler,
		versions:  versions,
		retriever: retriever,
		bus:       bus,
		template:  template,
		cfg:       cfg,
		logger:    log.NewModuleLogger("workflow", "engine"),
	}
}

// StartSession 创建会话并处理首条消息（产品想法）
func (e *Engine) StartSession(ctx context.Context, userID, rawIdea string) (*session.TurnResult, error) {
	sess := session.New(uuid.NewString(), userID)
	sess.Conversation.WindowSize = e.cfg.Workflow.WindowSize

	trace := &turnTrace{stageFrom: sess.Stage}
	e.absorb(ctx, sess, sess.Conversation.Append("user", rawIdea))

	result, err := e.handleInit(ctx, sess, rawIdea, trace)
	if err != nil {
		if errors.Is(err, errOracleExhausted) {
			// 新会话还没有任何 PRD 状态，带着道歉回合照常建立，用户重发消息即可继续
			e.logger.Warn("Oracle unavailable on first turn", "session_id", sess.ID, "error", err)
			return e.commit(ctx, sess, "", e.apologyTurn(sess, trace), trace)
		}
		return nil, err
	}
	return e.commit(ctx, sess, "", result, trace)
}

// SubmitTurn 处理一条用户消息
// idemKey 非空时做幂等回放：命中已提交结果直接返回，不触发任何外部调用
func (e *Engine) SubmitTurn(ctx context.Context, sessionID, message, idemKey string) (*session.TurnResult, error) {
	if idemKey != "" {
		if replay, err := e.repo.FindTurnResult(ctx, sessionID, idemKey); err != nil {
			return nil, fmt.Errorf("looking up idempotency key: %w", err)
		} else if replay != nil {
			e.logger.Info("Replayed committed turn", "session_id", sessionID, "idem_key", idemKey)
			return replay, nil
		}
	}

	mu := e.lockFor(sessionID)
	if !mu.TryLock() {
		return nil, session.ErrTurnInFlight
	}
	defer mu.Unlock()

	sess, err := e.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusArchived {
		return nil, session.ErrArchived
	}

	start := time.Now()
	trace := &turnTrace{stageFrom: sess.Stage}
	e.absorb(ctx, sess, sess.Conversation.Append("user", message))

	var result *session.TurnResult
	switch sess.Stage {
	case prd.StageInit:
		result, err = e.handleInit(ctx, sess, message, trace)
	case prd.StagePlan:
		result, err = e.handlePlan(ctx, sess, trace)
	case prd.StageBuild:
		result, err = e.handleBuild(ctx, sess, message, start, trace)
	case prd.StageReview:
		result, err = e.handleReview(ctx, sess, message, start, trace)
	case prd.StageExport:
		result, err = e.handleExport(ctx, sess, message, start, trace)
	default:
		err = fmt.Errorf("session %s in unknown stage %q", sess.ID, sess.Stage)
	}
	if err != nil {
		if errors.Is(err, errOracleExhausted) {
			// 重试耗尽以道歉回合收场：不提交，持久化状态与回合开始前一致
			e.logger.Warn("Turn degraded to apology, nothing committed", "session_id", sess.ID, "error", err)
			return e.apologyTurn(sess, trace), nil
		}
		// 未提交，会话的持久化状态与本回合开始前一致
		return nil, err
	}

	return e.commit(ctx, sess, idemKey, result, trace)
}

// apologyTurn 生成式后端不可用时的回复；回合未提交，阶段按回合开始前报告
func (e *Engine) apologyTurn(sess *session.Session, trace *turnTrace) *session.TurnResult {
	trace.degraded = append(trace.degraded, "oracle")
	result := &session.TurnResult{
		SessionID:  sess.ID,
		Stage:      string(trace.stageFrom),
		Reply:      "Sorry, I couldn't reach the language service just now. Nothing has been changed, please send that again in a moment.",
		NeedsInput: true,
		Degraded:   trace.degraded,
	}
	if sess.Registry != nil {
		result.Progress = sess.Registry.Progress()
	}
	return result
}

// CurrentDraft 只读装配当前草稿：轻量通道，不触发外部调用，不提交任何状态
func (e *Engine) CurrentDraft(ctx context.Context, sessionID string) (*assembly.Result, *session.Session, error) {
	sess, err := e.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Registry == nil {
		return nil, nil, fmt.Errorf("session %s has no sections yet", sessionID)
	}
	res := e.assembler.LightPass(sess.Registry.Clone(), sess.NormalizedIdea)
	return res, sess, nil
}

// RefineDraft 显式请求的全量装配（含编辑级润色），只读
func (e *Engine) RefineDraft(ctx context.Context, sessionID string) (*assembly.Result, error) {
	sess, err := e.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Registry == nil {
		return nil, fmt.Errorf("session %s has no sections yet", sessionID)
	}
	return e.assembler.FullPass(ctx, sess.Registry.Clone(), sess.NormalizedIdea)
}

// Ask 受限上下文问答，不改动会话状态
func (e *Engine) Ask(ctx context.Context, sessionID, question string) (string, error) {
	sess, err := e.repo.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	bc := e.budgeter.Build(sess, e.retrieve(ctx, sess, question, &turnTrace{}))

	var answer string
	err = e.withRetry(ctx, func() error {
		a, err := e.orc.Answer(ctx, question, bc)
		answer = a
		return err
	})
	if err != nil {
		return "", fmt.Errorf("answering question: %w", err)
	}
	return answer, nil
}

// Diagram 基于当前草稿生成 mermaid 图
func (e *Engine) Diagram(ctx context.Context, sessionID, kind string) (string, error) {
	res, _, err := e.CurrentDraft(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var diagram string
	err = e.withRetry(ctx, func() error {
		d, err := e.orc.DescribeDiagram(ctx, res.Draft, kind)
		diagram = d
		return err
	})
	if err != nil {
		return "", fmt.Errorf("describing diagram: %w", err)
	}
	return diagram, nil
}

// Rollback 把会话恢复到指定版本
// 与回合共用会话锁；先提交恢复后的状态，再以 rollback 为由追加新版本
func (e *Engine) Rollback(ctx context.Context, sessionID string, versionID int64) (*version.Version, error) {
	if e.versions == nil {
		return nil, fmt.Errorf("versioning is not configured")
	}

	mu := e.lockFor(sessionID)
	if !mu.TryLock() {
		return nil, session.ErrTurnInFlight
	}
	defer mu.Unlock()

	sess, err := e.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusArchived {
		return nil, session.ErrArchived
	}

	if err := e.versions.Restore(ctx, sess, versionID); err != nil {
		return nil, err
	}
	sess.Touch()
	if err := e.repo.Commit(ctx, sess, "", nil); err != nil {
		return nil, fmt.Errorf("committing restored state: %w", err)
	}

	restored, err := e.versions.Snapshot(ctx, sess, "", "rollback")
	if err != nil {
		return nil, fmt.Errorf("appending rollback version: %w", err)
	}

	if e.bus != nil {
		progress := ""
		if sess.Registry != nil {
			progress = sess.Registry.Progress()
		}
		e.bus.Publish(&events.WorkflowEvent{
			EventType: events.VersionCreated,
			SessionID: sess.ID,
			Stage:     string(sess.Stage),
			VersionID: restored.VersionID,
			Progress:  progress,
			EventTime: time.Now(),
		})
	}
	return restored, nil
}

// commit 整体提交回合并发布事件
func (e *Engine) commit(ctx context.Context, sess *session.Session, idemKey string, result *session.TurnResult, trace *turnTrace) (*session.TurnResult, error) {
	e.absorb(ctx, sess, sess.Conversation.Append("assistant", result.Reply))
	sess.Touch()

	result.SessionID = sess.ID
	result.Stage = string(sess.Stage)
	result.Degraded = trace.degraded
	if reg := sess.Registry; reg != nil {
		result.Progress = reg.Progress()
		if sec := reg.Current(); sec != nil {
			result.CurrentSection = sec.Key
			result.SectionSnippet = snippet(sec.Content)
		}
	}

	if err := e.repo.Commit(ctx, sess, idemKey, result); err != nil {
		return nil, fmt.Errorf("committing turn: %w", err)
	}

	// 版本只在状态提交成功之后追加，写序固定为 章节 → 快照 → 版本
	// 追加失败不回滚已提交的回合，降级记录
	if trace.snapshotReason != "" && e.versions != nil {
		v, err := e.versions.Snapshot(ctx, sess, trace.snapshotDraft, trace.snapshotReason)
		if err != nil {
			e.logger.Warn("Version snapshot failed", "session_id", sess.ID, "error", err)
			result.Degraded = append(result.Degraded, "versioning")
		} else {
			trace.versionID = v.VersionID
			result.VersionID = v.VersionID
		}
	}

	e.publish(sess, trace)
	return result, nil
}

// publish 提交成功后发布本回合积累的事件
func (e *Engine) publish(sess *session.Session, trace *turnTrace) {
	if e.bus == nil {
		return
	}
	now := time.Now()
	progress := ""
	if sess.Registry != nil {
		progress = sess.Registry.Progress()
	}
	e.bus.Publish(&events.WorkflowEvent{
		EventType: events.TurnCommitted,
		SessionID: sess.ID,
		Stage:     string(sess.Stage),
		Progress:  progress,
		EventTime: now,
	})
	for _, key := range trace.completedSections {
		e.bus.Publish(&events.WorkflowEvent{
			EventType:  events.SectionCompleted,
			SessionID:  sess.ID,
			Stage:      string(sess.Stage),
			SectionKey: key,
			Progress:   progress,
			EventTime:  now,
		})
	}
	if trace.stageFrom != sess.Stage {
		e.bus.Publish(&events.WorkflowEvent{
			EventType: events.StageChanged,
			SessionID: sess.ID,
			Stage:     string(sess.Stage),
			Progress:  progress,
			EventTime: now,
		})
	}
	if trace.versionID > 0 {
		e.bus.Publish(&events.WorkflowEvent{
			EventType: events.VersionCreated,
			SessionID: sess.ID,
			Stage:     string(sess.Stage),
			VersionID: trace.versionID,
			Progress:  progress,
			EventTime: now,
		})
	}
}

// handleInit 想法规范化：歧义时发澄清问题（受上限约束），否则进入 plan
func (e *Engine) handleInit(ctx context.Context, sess *session.Session, message string, trace *turnTrace) (*session.TurnResult, error) {
	var norm *oracle.NormalizeResult
	err := e.withRetry(ctx, func() error {
		r, err := e.orc.NormalizeIdea(ctx, message)
		norm = r
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("normalizing idea: %w", err)
	}

	if norm.NeedsClarification && sess.ClarifyCount < e.cfg.Workflow.ClarifyCap {
		sess.ClarifyCount++
		sess.AwaitingInput = true
		return &session.TurnResult{Reply: norm.Questions, NeedsInput: true}, nil
	}

	// 澄清额度用尽时带着当前最优理解继续
	idea := strings.TrimSpace(norm.NormalizedIdea)
	if idea == "" {
		idea = strings.TrimSpace(message)
	}
	sess.NormalizedIdea = idea

	reg, err := prd.NewRegistry(e.template, idea)
	if err != nil {
		return nil, fmt.Errorf("building section plan: %w", err)
	}
	sess.Registry = reg
	sess.Stage = prd.StagePlan
	sess.AwaitingInput = true

	var sb strings.Builder
	sb.WriteString("Here is the plan for your PRD:\n")
	for _, key := range reg.Order {
		sb.WriteString("- ")
		sb.WriteString(reg.Sections[key].Title)
		sb.WriteString("\n")
	}
	sb.WriteString("Reply to confirm and we will start with the first section.")
	return &session.TurnResult{Reply: sb.String(), NeedsInput: true}, nil
}

// handlePlan 计划确认：进入 build 并为首个焦点章节发问
func (e *Engine) handlePlan(ctx context.Context, sess *session.Session, trace *turnTrace) (*session.TurnResult, error) {
	sess.Stage = prd.StageBuild
	sess.AwaitingInput = true

	sec := sess.Registry.Current()
	if sec == nil {
		return nil, fmt.Errorf("session %s entered build with no focus section", sess.ID)
	}
	questions := e.questionsFor(ctx, sess, sec)
	reply := fmt.Sprintf("Let's start with %s.\n%s", sec.Title, questions)
	return &session.TurnResult{Reply: reply, NeedsInput: true}, nil
}

// handleBuild 构建阶段：分类 → 路由 → 执行 → 检查点
func (e *Engine) handleBuild(ctx context.Context, sess *session.Session, message string, start time.Time, trace *turnTrace) (*session.TurnResult, error) {
	reg := sess.Registry

	var cls *oracle.Classification
	err := e.withRetry(ctx, func() error {
		c, err := e.orc.ClassifyIntent(ctx, message, reg.CurrentKey(), reg.Progress())
		cls = c
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("classifying intent: %w", err)
	}

	// 词表外或低置信度的分类一律转消歧，从不静默套用
	if !prd.ValidIntent(cls.Intent) || cls.Confidence < e.cfg.Workflow.ConfidenceThreshold {
		return e.disambiguate(sess), nil
	}

	known := func(key string) bool {
		_, ok := reg.Get(key)
		return ok
	}

	switch Route(prd.Intent(cls.Intent), cls.TargetSection, known) {
	case StepUpdateCurrent:
		if reg.CurrentKey() == "" {
			// 全部章节已完成，没有可更新的焦点
			return &session.TurnResult{
				Reply:      "All sections are already complete. Say \"refine\" to polish the draft or \"export\" to finish.",
				NeedsInput: true,
			}, nil
		}
		return e.updateSection(ctx, sess, reg.CurrentKey(), message, start, trace)
	case StepUpdateTarget:
		return e.updateSection(ctx, sess, cls.TargetSection, message, start, trace)
	case StepRevise:
		return e.reviseSection(ctx, sess, cls.TargetSection, message, start, trace)
	case StepMetaReply:
		return e.metaReply(ctx, sess, message), nil
	case StepOffTopicReply:
		return e.offTopicReply(sess), nil
	default:
		return e.disambiguate(sess), nil
	}
}

// updateSection 把用户输入合并进目标章节并按完成门槛推进状态
func (e *Engine) updateSection(ctx context.Context, sess *session.Session, target, message string, start time.Time, trace *turnTrace) (*session.TurnResult, error) {
	reg := sess.Registry
	sec, ok := reg.Get(target)
	if !ok {
		return e.disambiguate(sess), nil
	}
	focusKey := reg.CurrentKey()

	bc := e.budgeter.Build(sess, e.retrieve(ctx, sess, message, trace))

	var upd *oracle.UpdateResult
	err := e.withRetry(ctx, func() error {
		u, err := e.orc.UpdateSection(ctx, profile(sec), message, bc)
		upd = u
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("updating section %q: %w", target, err)
	}

	rubric := prd.EvaluateRubric(target, upd.UpdatedContent)
	score := prd.CombineScores(rubric, upd.Score, e.cfg.Workflow.CompletionThreshold)
	status, err := reg.Apply(target, upd.UpdatedContent, score, e.cfg.Workflow.CompletionThreshold, "user")
	if err != nil {
		return nil, err
	}

	completed := status == prd.StatusCompleted
	if completed {
		trace.completedSections = append(trace.completedSections, target)
		if target == focusKey {
			reg.AdvancePointer()
		}
	}

	if reg.AllMandatoryCompleted() {
		return e.transitionToReview(ctx, sess, trace)
	}
	e.checkpoint(ctx, sess, start, completed)

	reply := e.buildReply(ctx, sess, sec, target, focusKey, upd, rubric, completed)
	sess.AwaitingInput = true
	return &session.TurnResult{Reply: reply, NeedsInput: true}, nil
}

// buildReply 章节更新后的回复：完成公告 + 下一章节问题，或针对缺口的追问
func (e *Engine) buildReply(ctx context.Context, sess *session.Session, sec *prd.Section, target, focusKey string, upd *oracle.UpdateResult, rubric prd.RubricResult, completed bool) string {
	reg := sess.Registry
	if completed {
		reply := fmt.Sprintf("%s is complete (%s).", sec.Title, reg.Progress())
		if next := reg.Current(); next != nil {
			reply += fmt.Sprintf("\nNext up: %s.\n%s", next.Title, e.questionsFor(ctx, sess, next))
		}
		return reply
	}

	reply := fmt.Sprintf("Updated %s.", sec.Title)
	if target != focusKey {
		if focus, ok := reg.Get(focusKey); ok {
			reply = fmt.Sprintf("Noted that under %s. Back to %s.", sec.Title, focus.Title)
		}
	}
	if len(rubric.MissingFields) > 0 {
		reply += fmt.Sprintf("\nStill missing: %s.", strings.Join(rubric.MissingFields, ", "))
	}
	if q := strings.TrimSpace(upd.NextQuestions); q != "" {
		reply += "\n" + q
	}
	return reply
}

// reviseSection 覆盖目标章节并传播失效；焦点移动到第一个未完成章节
func (e *Engine) reviseSection(ctx context.Context, sess *session.Session, target, message string, start time.Time, trace *turnTrace) (*session.TurnResult, error) {
	reg := sess.Registry
	sec, ok := reg.Get(target)
	if !ok {
		return e.disambiguate(sess), nil
	}

	bc := e.budgeter.Build(sess, "")
	var upd *oracle.UpdateResult
	err := e.withRetry(ctx, func() error {
		u, err := e.orc.UpdateSection(ctx, profile(sec), message, bc)
		upd = u
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("revising section %q: %w", target, err)
	}

	stale, err := reg.Revise(target, upd.UpdatedContent, "user")
	if err != nil {
		return nil, err
	}
	if reg.Current() == nil || reg.Current().Status == prd.StatusCompleted {
		reg.AdvancePointer()
	}
	e.checkpoint(ctx, sess, start, false)

	reply := fmt.Sprintf("Revised %s.", sec.Title)
	if len(stale) > 0 {
		titles := make([]string, 0, len(stale))
		for _, key := range stale {
			titles = append(titles, reg.Sections[key].Title)
		}
		reply += fmt.Sprintf(" These sections depend on it and need re-confirmation: %s.", strings.Join(titles, ", "))
	}
	if q := strings.TrimSpace(upd.NextQuestions); q != "" {
		reply += "\n" + q
	}
	sess.AwaitingInput = true
	return &session.TurnResult{Reply: reply, NeedsInput: true}, nil
}

// metaReply 只读的进度/状态回复；问题形态的消息走受限上下文问答
func (e *Engine) metaReply(ctx context.Context, sess *session.Session, message string) *session.TurnResult {
	reg := sess.Registry
	reply := reg.Progress()
	if sec := reg.Current(); sec != nil {
		reply = fmt.Sprintf("%s. Currently working on %s.", reg.Progress(), sec.Title)
	}

	if strings.Contains(message, "?") {
		bc := e.budgeter.Build(sess, "")
		var answer string
		err := e.withRetry(ctx, func() error {
			a, err := e.orc.Answer(ctx, message, bc)
			answer = a
			return err
		})
		if err == nil && strings.TrimSpace(answer) != "" {
			reply = answer + "\n" + reply
		}
	}
	return &session.TurnResult{Reply: reply, NeedsInput: true}
}

// offTopicReply 简短回应并拉回当前章节，不改动任何 PRD 状态
func (e *Engine) offTopicReply(sess *session.Session) *session.TurnResult {
	reply := "Let's keep the focus on your PRD."
	if sec := sess.Registry.Current(); sec != nil {
		reply = fmt.Sprintf("Let's keep the focus on your PRD. We were working on %s.", sec.Title)
	}
	return &session.TurnResult{Reply: reply, NeedsInput: true}
}

// disambiguate 目标无法解析或置信度不足时的消歧提问
func (e *Engine) disambiguate(sess *session.Session) *session.TurnResult {
	reg := sess.Registry
	titles := make([]string, 0, len(reg.Order))
	for _, key := range reg.Order {
		titles = append(titles, reg.Sections[key].Title)
	}
	reply := fmt.Sprintf("I'm not sure which section you mean. Which one should this go into? %s", strings.Join(titles, " / "))
	return &session.TurnResult{Reply: reply, NeedsInput: true}
}

// transitionToReview build → assemble → review：全量装配 + 恰好一个版本快照
func (e *Engine) transitionToReview(ctx context.Context, sess *session.Session, trace *turnTrace) (*session.TurnResult, error) {
	sess.Stage = prd.StageAssemble

	res, err := e.assembler.FullPass(ctx, sess.Registry.Clone(), sess.NormalizedIdea)
	if err != nil {
		return nil, fmt.Errorf("assembling draft: %w", err)
	}
	sess.Snapshot = res.Snapshot
	sess.Issues = res.Issues
	sess.PendingAssembly = false
	sess.Stage = prd.StageReview
	sess.AwaitingInput = true

	// 快照在状态提交成功后由 commit 追加
	trace.snapshotDraft = res.Draft
	trace.snapshotReason = "checkpoint"

	reply := "All sections are complete. Here is the assembled draft.\n"
	if n := len(res.Issues); n > 0 {
		reply += fmt.Sprintf("Consistency review found %d open issue(s) worth a look.\n", n)
	}
	reply += "Say \"refine\" to polish the draft again, or \"export\" when you are happy with it."

	return &session.TurnResult{
		Reply:      reply,
		Draft:      res.Draft,
		NeedsInput: true,
	}, nil
}

// handleReview 评审阶段：导出/润色关键词，修订意图回到 build
func (e *Engine) handleReview(ctx context.Context, sess *session.Session, message string, start time.Time, trace *turnTrace) (*session.TurnResult, error) {
	lower := strings.ToLower(message)

	if strings.Contains(lower, "export") || strings.Contains(lower, "finish") {
		sess.Stage = prd.StageExport
		sess.Status = session.StatusCompleted
		return &session.TurnResult{
			Reply:      "The PRD is ready. Use the export endpoint to download it as markdown or HTML.",
			NeedsInput: false,
		}, nil
	}

	if strings.Contains(lower, "refine") || strings.Contains(lower, "polish") {
		res, err := e.assembler.FullPass(ctx, sess.Registry.Clone(), sess.NormalizedIdea)
		if err != nil {
			return nil, fmt.Errorf("refining draft: %w", err)
		}
		sess.Snapshot = res.Snapshot
		sess.Issues = res.Issues
		sess.AwaitingInput = true
		return &session.TurnResult{
			Reply:      "Here is the refined draft. Say \"export\" when you are happy with it.",
			Draft:      res.Draft,
			NeedsInput: true,
		}, nil
	}

	// 其余消息按构建语义处理：修订会把相关章节打回并重新进入 build
	result, err := e.handleBuild(ctx, sess, message, start, trace)
	if err != nil {
		return nil, err
	}
	if sess.Registry.Current() != nil && !sess.Registry.AllMandatoryCompleted() {
		sess.Stage = prd.StageBuild
	}
	return result, nil
}

// handleExport 导出阶段：修订请求重新打开会话回到 build
func (e *Engine) handleExport(ctx context.Context, sess *session.Session, message string, start time.Time, trace *turnTrace) (*session.TurnResult, error) {
	var cls *oracle.Classification
	err := e.withRetry(ctx, func() error {
		c, err := e.orc.ClassifyIntent(ctx, message, sess.Registry.CurrentKey(), sess.Registry.Progress())
		cls = c
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("classifying intent: %w", err)
	}

	if prd.Intent(cls.Intent) == prd.IntentRevision && cls.Confidence >= e.cfg.Workflow.ConfidenceThreshold {
		if _, ok := sess.Registry.Get(cls.TargetSection); ok {
			sess.Stage = prd.StageBuild
			sess.Status = session.StatusActive
			return e.reviseSection(ctx, sess, cls.TargetSection, message, start, trace)
		}
		return e.disambiguate(sess), nil
	}

	return &session.TurnResult{
		Reply:      "This PRD has been finalized. Mention the section you want to change to reopen it, or use the export endpoint.",
		NeedsInput: false,
	}, nil
}

// checkpoint 回合内装配检查点
// 章节完成走全量通道；普通变更走轻量通道，超出回合延迟预算时延迟到下一检查点
func (e *Engine) checkpoint(ctx context.Context, sess *session.Session, start time.Time, full bool) {
	if !full && !sess.PendingAssembly && time.Since(start) > e.cfg.Workflow.TurnBudget {
		sess.PendingAssembly = true
		e.logger.Debug("Deferred light assembly past turn budget", "session_id", sess.ID)
		return
	}

	var res *assembly.Result
	if full {
		var err error
		res, err = e.assembler.FullPass(ctx, sess.Registry.Clone(), sess.NormalizedIdea)
		if err != nil {
			res = e.assembler.LightPass(sess.Registry.Clone(), sess.NormalizedIdea)
		}
	} else {
		res = e.assembler.LightPass(sess.Registry.Clone(), sess.NormalizedIdea)
	}
	sess.Snapshot = res.Snapshot
	sess.Issues = res.Issues
	sess.PendingAssembly = false
}

// questionsFor 为焦点章节生成针对性问题，失败时退回检查项提示
func (e *Engine) questionsFor(ctx context.Context, sess *session.Session, sec *prd.Section) string {
	bc := e.budgeter.Build(sess, "")
	var questions string
	err := e.withRetry(ctx, func() error {
		q, err := e.orc.GenerateQuestions(ctx, profile(sec), bc)
		questions = q
		return err
	})
	if err == nil && strings.TrimSpace(questions) != "" {
		return questions
	}
	if len(sec.Checklist) > 0 {
		return fmt.Sprintf("Tell me about: %s.", strings.Join(sec.Checklist, "; "))
	}
	return fmt.Sprintf("What should go into %s?", sec.Title)
}

// retrieve RAG 检索（可选能力），失败时静默降级并记录
func (e *Engine) retrieve(ctx context.Context, sess *session.Session, query string, trace *turnTrace) string {
	if e.retriever == nil {
		return ""
	}
	retrieved, err := e.retriever.Retrieve(ctx, sess.ID, query)
	if err != nil {
		e.logger.Warn("Retrieval degraded", "session_id", sess.ID, "error", err)
		trace.degraded = append(trace.degraded, "rag")
		return ""
	}
	return retrieved
}

// absorb 把被驱逐的对话记录折叠进滚动摘要
// 摘要后端失败时本地拼接截断，窗口上界在任何失败路径下都保持
func (e *Engine) absorb(ctx context.Context, sess *session.Session, evicted []session.Turn) {
	if len(evicted) == 0 {
		return
	}
	lines := FoldEvicted(evicted)
	conv := sess.Conversation

	var summary string
	err := e.withRetry(ctx, func() error {
		s, err := e.orc.Summarize(ctx, conv.RollingSummary, lines, e.cfg.Workflow.SummaryBudgetTokens)
		summary = s
		return err
	})
	if err != nil || strings.TrimSpace(summary) == "" {
		summary = e.budgeter.FallbackSummary(conv.RollingSummary, lines)
	}
	conv.AbsorbSummary(summary)
}

// withRetry 外部调用重试：仅对可重试错误做指数退避
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.cfg.Oracle.MaxRetries)),
		ctx,
	)
	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, oracle.ErrMalformedOutput) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("%w: %w", errOracleExhausted, err)
	}
	return nil
}

// lockFor 取会话级互斥锁，保证同一会话的回合串行化
func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// profile 章节实体转外部调用的描述结构
func profile(sec *prd.Section) oracle.SectionProfile {
	return oracle.SectionProfile{
		Key:       sec.Key,
		Title:     sec.Title,
		Checklist: sec.Checklist,
		Content:   sec.Content,
	}
}

// snippet 焦点章节内容的展示片段，在 rune 边界截断
func snippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) <= 200 {
		return trimmed
	}
	cut := 200
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "…"
}
