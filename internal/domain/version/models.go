package version

import (
	"errors"
	"time"
)

// 领域错误定义
var (
	// ErrNotFound 版本不存在
	ErrNotFound = errors.New("version not found")
)

// Version 不可变的版本快照
// VersionID 按会话单调递增；记录创建后永不修改，修正通过追加新版本完成
type Version struct {
	SessionID   string             `json:"sessionId"`
	VersionID   int64              `json:"versionId"`
	Reason      string             `json:"reason"` // checkpoint / export / rollback
	Contents    map[string]string  `json:"contents"` // 章节 key -> 当时的全文
	RubricScores map[string]float64 `json:"rubricScores,omitempty"`
	ExportLinks []string           `json:"exportLinks,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// SectionDiff 单个章节的文本差异
type SectionDiff struct {
	Key     string   `json:"key"`
	Added   []string `json:"added,omitempty"`   // 仅出现在 B 中的行
	Removed []string `json:"removed,omitempty"` // 仅出现在 A 中的行
}

// Diff 两个版本间的逐章节差异
type Diff struct {
	From     int64         `json:"from"`
	To       int64         `json:"to"`
	Sections []SectionDiff `json:"sections"`
}
