package workflow

import (
	"github.com/thinkinglens/backend/internal/domain/prd"
)

// NextStep 意图路由结果
type NextStep int

const (
	// StepUpdateCurrent 更新当前焦点章节
	StepUpdateCurrent NextStep = iota
	// StepUpdateTarget 更新指定的非焦点章节，随后恢复焦点
	StepUpdateTarget
	// StepRevise 覆盖目标章节并传播失效
	StepRevise
	// StepMetaReply 只读的进度/状态回复
	StepMetaReply
	// StepOffTopicReply 简短回应并拉回当前章节
	StepOffTopicReply
	// StepDisambiguate 目标章节无法解析，发出消歧提问
	StepDisambiguate
)

// Route 纯函数的意图分发表
// off_target_update / revision 缺少可解析目标时回退为消歧，歧义从不被静默消化
func Route(intent prd.Intent, targetSection string, known func(key string) bool) NextStep {
	switch intent {
	case prd.IntentSectionUpdate:
		return StepUpdateCurrent
	case prd.IntentOffTargetUpdate:
		if targetSection == "" || !known(targetSection) {
			return StepDisambiguate
		}
		return StepUpdateTarget
	case prd.IntentRevision:
		if targetSection == "" || !known(targetSection) {
			return StepDisambiguate
		}
		return StepRevise
	case prd.IntentMetaQuery:
		return StepMetaReply
	case prd.IntentOffTopic:
		return StepOffTopicReply
	default:
		return StepDisambiguate
	}
}
