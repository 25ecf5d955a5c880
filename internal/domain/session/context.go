package session

import "time"

// DefaultWindowSize 原始对话窗口的默认容量（K）
const DefaultWindowSize = 5

// Turn 一条原始对话记录
type Turn struct {
	Role      string    `json:"role"` // user / assistant
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation 会话内的对话上下文
// 原始窗口最多保留 K 条记录，溢出的记录折叠进滚动摘要后不可恢复
// 词汇表随会话存续，不做进程级共享
type Conversation struct {
	Turns          []Turn            `json:"turns"`
	RollingSummary string            `json:"rollingSummary"`
	Glossary       map[string]string `json:"glossary,omitempty"`
	WindowSize     int               `json:"windowSize"`
}

// NewConversation 创建对话上下文
func NewConversation(windowSize int) *Conversation {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Conversation{
		WindowSize: windowSize,
		Glossary:   make(map[string]string),
	}
}

// Append 追加一条记录并返回因窗口溢出被驱逐的记录
// 驱逐是对话历史唯一的收缩点，调用方负责把驱逐记录折叠进滚动摘要
func (c *Conversation) Append(role, text string) []Turn {
	c.Turns = append(c.Turns, Turn{Role: role, Text: text, Timestamp: time.Now()})

	if len(c.Turns) <= c.WindowSize {
		return nil
	}
	overflow := len(c.Turns) - c.WindowSize
	evicted := make([]Turn, overflow)
	copy(evicted, c.Turns[:overflow])
	c.Turns = append(c.Turns[:0], c.Turns[overflow:]...)
	return evicted
}

// AbsorbSummary 用新的滚动摘要替换旧摘要
func (c *Conversation) AbsorbSummary(summary string) {
	c.RollingSummary = summary
}

// Define 登记词汇表条目
func (c *Conversation) Define(term, meaning string) {
	if c.Glossary == nil {
		c.Glossary = make(map[string]string)
	}
	c.Glossary[term] = meaning
}

// Recent 返回窗口内的记录（只读副本）
func (c *Conversation) Recent() []Turn {
	out := make([]Turn, len(c.Turns))
	copy(out, c.Turns)
	return out
}
