// Package events 定义领域事件类型和接口
// 用于系统内部的事件驱动通信
package events

import "time"

// EventType 事件类型标识
type EventType string

// 工作流相关事件类型
const (
	// TurnCommitted 一个回合的状态已整体提交
	TurnCommitted EventType = "workflow.turn.committed"
	// SectionCompleted 某个章节达到完成门槛
	SectionCompleted EventType = "workflow.section.completed"
	// StageChanged 会话工作流阶段发生迁移
	StageChanged EventType = "workflow.stage.changed"
	// VersionCreated 版本管理器写入了新版本
	VersionCreated EventType = "workflow.version.created"
)

// 上传文件相关事件类型
const (
	// UploadDetected 会话上传目录出现新文件
	UploadDetected EventType = "upload.file.detected"
)

// Event 领域事件接口
// 所有事件类型都必须实现此接口
type Event interface {
	// Type 返回事件类型
	Type() EventType
	// Timestamp 返回事件发生时间
	Timestamp() time.Time
}
