package prd

import (
	"fmt"
	"strings"
	"time"
)

// Registry 章节注册表
// 持有一次会话内全部章节、依赖 DAG 的拓扑顺序和当前焦点位置
// 仅由该会话当前回合的工作流引擎修改
type Registry struct {
	Sections     map[string]*Section `json:"sections"`
	Order        []string            `json:"order"`        // 与依赖 DAG 一致的拓扑顺序
	CurrentIndex int                 `json:"currentIndex"` // 当前焦点章节在 Order 中的下标，-1 表示全部完成
}

// NewRegistry 从模板构建注册表
// 非必选章节按触发关键词决定是否纳入；依赖环在此处拒绝（构建期不变量）
func NewRegistry(tpl *Template, normalizedIdea string) (*Registry, error) {
	sections := make(map[string]*Section)
	for _, st := range tpl.Sections {
		if !st.Mandatory && !keywordTriggered(st.TriggerKeywords, normalizedIdea) {
			continue
		}
		sections[st.Key] = &Section{
			Key:          st.Key,
			Title:        st.Title,
			Status:       StatusPending,
			Dependencies: append([]string(nil), st.Dependencies...),
			Checklist:    append([]string(nil), st.Checklist...),
		}
	}

	// 纳入的章节可能依赖未纳入的非必选章节，剔除这类悬空依赖
	for _, sec := range sections {
		deps := sec.Dependencies[:0]
		for _, d := range sec.Dependencies {
			if _, ok := sections[d]; ok {
				deps = append(deps, d)
			}
		}
		sec.Dependencies = deps
	}

	order, err := topologicalOrder(sections, tpl)
	if err != nil {
		return nil, err
	}

	return &Registry{
		Sections:     sections,
		Order:        order,
		CurrentIndex: 0,
	}, nil
}

// keywordTriggered 判断想法文本是否命中任一触发关键词
func keywordTriggered(keywords []string, idea string) bool {
	lower := strings.ToLower(idea)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// topologicalOrder 按模板声明顺序做稳定拓扑排序，发现环则拒绝
func topologicalOrder(sections map[string]*Section, tpl *Template) ([]string, error) {
	indegree := make(map[string]int, len(sections))
	for key := range sections {
		indegree[key] = 0
	}
	for _, sec := range sections {
		for range sec.Dependencies {
			indegree[sec.Key]++
		}
	}

	// 以模板声明顺序作为同层章节的稳定次序
	declared := make([]string, 0, len(sections))
	for _, st := range tpl.Sections {
		if _, ok := sections[st.Key]; ok {
			declared = append(declared, st.Key)
		}
	}

	order := make([]string, 0, len(sections))
	ready := make(map[string]bool)
	for len(order) < len(sections) {
		progressed := false
		for _, key := range declared {
			if ready[key] {
				continue
			}
			allDone := true
			for _, dep := range sections[key].Dependencies {
				if !ready[dep] {
					allDone = false
					break
				}
			}
			if allDone {
				ready[key] = true
				order = append(order, key)
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("resolving section order: %w", ErrCyclicDependency)
		}
	}
	return order, nil
}

// Get 按 key 取章节
func (r *Registry) Get(key string) (*Section, bool) {
	sec, ok := r.Sections[key]
	return sec, ok
}

// Current 返回当前焦点章节，全部完成时返回 nil
func (r *Registry) Current() *Section {
	if r.CurrentIndex < 0 || r.CurrentIndex >= len(r.Order) {
		return nil
	}
	return r.Sections[r.Order[r.CurrentIndex]]
}

// CurrentKey 当前焦点章节 key，全部完成时返回空串
func (r *Registry) CurrentKey() string {
	if sec := r.Current(); sec != nil {
		return sec.Key
	}
	return ""
}

// Apply 写入章节内容与评分，按完成门槛决定状态
// 返回写入后的状态；评分达标但依赖未就绪时停留在 in_progress
func (r *Registry) Apply(key, content string, score float64, threshold float64, editor string) (SectionStatus, error) {
	sec, ok := r.Sections[key]
	if !ok {
		return "", fmt.Errorf("apply %q: %w", key, ErrUnknownSection)
	}

	sec.Content = content
	sec.Score = score
	sec.LastEditor = editor
	sec.LastUpdatedAt = time.Now()

	if sec.Status == StatusPending {
		sec.Status = StatusInProgress
	}

	if score >= threshold {
		err := sec.CanComplete(threshold, func(dep string) (SectionStatus, bool) {
			d, ok := r.Sections[dep]
			if !ok {
				return "", false
			}
			return d.Status, true
		})
		switch err {
		case nil:
			sec.Status = StatusCompleted
		case ErrDependencyNotReady:
			// 依赖未就绪时不报错，保持 in_progress 等待依赖
			sec.Status = StatusInProgress
		default:
			return "", err
		}
	}
	return sec.Status, nil
}

// MarkStale 将指定章节集合降级为 stale（仅对已完成章节降级）
func (r *Registry) MarkStale(keys []string) {
	for _, key := range keys {
		if sec, ok := r.Sections[key]; ok && sec.Status == StatusCompleted {
			sec.Status = StatusStale
			sec.LastUpdatedAt = time.Now()
		}
	}
}

// Dependents 返回 key 的全部传递依赖方（依赖 key 的章节及其下游）
// 每次修订只做一次 DAG 遍历
func (r *Registry) Dependents(key string) []string {
	// 反向邻接表：dep -> 依赖它的章节
	reverse := make(map[string][]string, len(r.Sections))
	for _, sec := range r.Sections {
		for _, dep := range sec.Dependencies {
			reverse[dep] = append(reverse[dep], sec.Key)
		}
	}

	visited := make(map[string]bool)
	var result []string
	queue := append([]string(nil), reverse[key]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		result = append(result, next)
		queue = append(queue, reverse[next]...)
	}
	// 按拓扑顺序输出，便于确定性断言与展示
	ordered := make([]string, 0, len(result))
	for _, k := range r.Order {
		if visited[k] {
			ordered = append(ordered, k)
		}
	}
	return ordered
}

// Revise 覆盖章节内容并传播失效
// 被修订章节回到 in_progress，其全部传递依赖方降级为 stale；焦点位置不变
func (r *Registry) Revise(key, content, editor string) ([]string, error) {
	sec, ok := r.Sections[key]
	if !ok {
		return nil, fmt.Errorf("revise %q: %w", key, ErrUnknownSection)
	}

	sec.Content = content
	sec.Status = StatusInProgress
	sec.Score = 0
	sec.LastEditor = editor
	sec.LastUpdatedAt = time.Now()

	stale := r.Dependents(key)
	r.MarkStale(stale)
	return stale, nil
}

// AdvancePointer 将焦点移动到下一个未完成章节
// 已完成的章节会被跳过；全部完成时 CurrentIndex 置为 -1
func (r *Registry) AdvancePointer() {
	for i := 0; i < len(r.Order); i++ {
		idx := (r.CurrentIndex + i) % len(r.Order)
		if idx < 0 {
			idx += len(r.Order)
		}
		st := r.Sections[r.Order[idx]].Status
		if st != StatusCompleted {
			r.CurrentIndex = idx
			return
		}
	}
	r.CurrentIndex = -1
}

// AllMandatoryCompleted 判断是否所有章节均已完成
// stale 与 pending 均视为未完成
func (r *Registry) AllMandatoryCompleted() bool {
	for _, key := range r.Order {
		if r.Sections[key].Status != StatusCompleted {
			return false
		}
	}
	return len(r.Order) > 0
}

// CompletedCount 已完成章节数
func (r *Registry) CompletedCount() int {
	n := 0
	for _, sec := range r.Sections {
		if sec.Status == StatusCompleted {
			n++
		}
	}
	return n
}

// Progress 进度描述，如 "3/9 sections completed"
func (r *Registry) Progress() string {
	return fmt.Sprintf("%d/%d sections completed", r.CompletedCount(), len(r.Sections))
}

// Clone 深拷贝注册表，供装配引擎与版本管理按值操作
func (r *Registry) Clone() *Registry {
	sections := make(map[string]*Section, len(r.Sections))
	for key, sec := range r.Sections {
		copied := *sec
		copied.Dependencies = append([]string(nil), sec.Dependencies...)
		copied.Checklist = append([]string(nil), sec.Checklist...)
		sections[key] = &copied
	}
	return &Registry{
		Sections:     sections,
		Order:        append([]string(nil), r.Order...),
		CurrentIndex: r.CurrentIndex,
	}
}
