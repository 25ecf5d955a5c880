package events

import "time"

// WorkflowEvent 工作流进度事件
// 会话级事件，由工作流引擎在回合提交后发布
type WorkflowEvent struct {
	// EventType 事件类型
	EventType EventType
	// SessionID 会话 ID
	SessionID string
	// Stage 事件发生时的工作流阶段
	Stage string
	// SectionKey 相关章节 key（章节完成事件携带）
	SectionKey string
	// VersionID 相关版本号（版本创建事件携带）
	VersionID int64
	// Progress 进度描述，如 "3/9 sections completed"
	Progress string
	// EventTime 事件发生时间
	EventTime time.Time
}

// Type 实现 Event 接口
func (e *WorkflowEvent) Type() EventType {
	return e.EventType
}

// Timestamp 实现 Event 接口
func (e *WorkflowEvent) Timestamp() time.Time {
	return e.EventTime
}

// UploadEvent 上传文件事件
// 文件监听器在会话上传目录发现新文件时触发
type UploadEvent struct {
	// SessionID 上传目录所属会话
	SessionID string
	// FilePath 文件完整路径
	FilePath string
	// EventTime 事件发生时间
	EventTime time.Time
}

// Type 实现 Event 接口
func (e *UploadEvent) Type() EventType {
	return UploadDetected
}

// Timestamp 实现 Event 接口
func (e *UploadEvent) Timestamp() time.Time {
	return e.EventTime
}
