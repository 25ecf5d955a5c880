// Package rag 定义文档检索的领域模型
// 检索是可选增强能力：未配置或故障时核心工作流照常运行
package rag

import "errors"

// 边界错误定义
var (
	// ErrNotConfigured 检索能力未配置（缺少向量化后端或向量库地址）
	ErrNotConfigured = errors.New("retrieval is not configured")
)

// Chunk 参考文档切块
// 会话上传的文档被切块、向量化后写入向量库，检索按会话隔离
type Chunk struct {
	ID        string `json:"id"` // <sessionID>:<source>:<index>
	SessionID string `json:"sessionId"`
	Source    string `json:"source"` // 上传文件名
	Index     int    `json:"index"`  // 在源文档中的切块序号
	Text      string `json:"text"`
}

// ScoredChunk 检索命中的切块
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}
