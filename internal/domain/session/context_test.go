package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversation_WindowBound(t *testing.T) {
	conv := NewConversation(3)

	var evictedTotal []Turn
	for i := 0; i < 10; i++ {
		evicted := conv.Append("user", fmt.Sprintf("turn-%d", i))
		evictedTotal = append(evictedTotal, evicted...)
		assert.LessOrEqual(t, len(conv.Turns), 3, "原始窗口长度任何时刻不超过 K")
	}

	// 驱逐的记录恰好是最早的 7 条
	assert.Len(t, evictedTotal, 7)
	assert.Equal(t, "turn-0", evictedTotal[0].Text)
	assert.Equal(t, "turn-6", evictedTotal[6].Text)

	// 窗口内是最近 3 条
	recent := conv.Recent()
	assert.Equal(t, "turn-7", recent[0].Text)
	assert.Equal(t, "turn-9", recent[2].Text)
}

func TestConversation_NoEvictionUnderCapacity(t *testing.T) {
	conv := NewConversation(5)
	assert.Nil(t, conv.Append("user", "hello"))
	assert.Nil(t, conv.Append("assistant", "hi"))
	assert.Len(t, conv.Turns, 2)
}

func TestConversation_Glossary(t *testing.T) {
	conv := NewConversation(0)
	assert.Equal(t, DefaultWindowSize, conv.WindowSize)

	conv.Define("MAU", "monthly active users")
	assert.Equal(t, "monthly active users", conv.Glossary["MAU"])
}
