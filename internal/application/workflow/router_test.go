package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thinkinglens/backend/internal/domain/prd"
)

func TestRoute(t *testing.T) {
	known := func(key string) bool { return key == "goals" || key == "user_flows" }

	tests := []struct {
		name   string
		intent prd.Intent
		target string
		want   NextStep
	}{
		{"当前章节更新", prd.IntentSectionUpdate, "", StepUpdateCurrent},
		{"跨章节更新", prd.IntentOffTargetUpdate, "goals", StepUpdateTarget},
		{"跨章节更新目标未知", prd.IntentOffTargetUpdate, "budget", StepDisambiguate},
		{"跨章节更新缺目标", prd.IntentOffTargetUpdate, "", StepDisambiguate},
		{"修订", prd.IntentRevision, "user_flows", StepRevise},
		{"修订目标未知", prd.IntentRevision, "nonexistent", StepDisambiguate},
		{"元查询", prd.IntentMetaQuery, "", StepMetaReply},
		{"跑题", prd.IntentOffTopic, "", StepOffTopicReply},
		{"词表外意图", prd.Intent("greeting"), "", StepDisambiguate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Route(tt.intent, tt.target, known))
		})
	}
}
