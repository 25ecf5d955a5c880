// Package version 版本管理应用服务
// 完成检查点、导出、回滚时产生不可变快照；修正永远通过追加新版本完成
package version

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thinkinglens/backend/internal/domain/prd"
	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/domain/version"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// Repository 版本仓储边界
// Append 负责分配会话内单调递增的版本号；已写入的记录不再修改
type Repository interface {
	// Append 追加版本并回填分配的 VersionID
	Append(ctx context.Context, v *version.Version) error
	// Get 按会话与版本号读取，不存在时返回 version.ErrNotFound
	Get(ctx context.Context, sessionID string, versionID int64) (*version.Version, error)
	// List 按版本号升序列出会话的全部版本
	List(ctx context.Context, sessionID string) ([]*version.Version, error)
	// AttachExportLink 给已有版本补记导出产物链接（唯一允许的追记字段）
	AttachExportLink(ctx context.Context, sessionID string, versionID int64, link string) error
}

// Service 版本管理服务
type Service struct {
	repo   Repository
	cfg    config.WorkflowConfig
	logger *slog.Logger
}

// NewService 创建版本管理服务
func NewService(repo Repository, cfg *config.Config) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg.Workflow,
		logger: log.NewModuleLogger("version", "service"),
	}
}

// Snapshot 为会话当前的章节内容追加一个版本快照
func (s *Service) Snapshot(ctx context.Context, sess *session.Session, draft, reason string) (*version.Version, error) {
	if sess.Registry == nil {
		return nil, fmt.Errorf("session %s has no sections to snapshot", sess.ID)
	}

	contents := make(map[string]string, len(sess.Registry.Sections))
	scores := make(map[string]float64, len(sess.Registry.Sections))
	for key, sec := range sess.Registry.Sections {
		contents[key] = sec.Content
		scores[key] = sec.Score
	}

	v := &version.Version{
		SessionID:    sess.ID,
		Reason:       reason,
		Contents:     contents,
		RubricScores: scores,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.Append(ctx, v); err != nil {
		return nil, fmt.Errorf("appending version: %w", err)
	}

	s.logger.Info("Version snapshot created",
		"session_id", sess.ID,
		"version_id", v.VersionID,
		"reason", reason,
	)
	return v, nil
}

// List 列出会话的版本历史
func (s *Service) List(ctx context.Context, sessionID string) ([]*version.Version, error) {
	return s.repo.List(ctx, sessionID)
}

// Get 读取单个版本
func (s *Service) Get(ctx context.Context, sessionID string, versionID int64) (*version.Version, error) {
	return s.repo.Get(ctx, sessionID, versionID)
}

// Diff 计算两个版本间的逐章节差异
func (s *Service) Diff(ctx context.Context, sessionID string, from, to int64) (*version.Diff, error) {
	a, err := s.repo.Get(ctx, sessionID, from)
	if err != nil {
		return nil, err
	}
	b, err := s.repo.Get(ctx, sessionID, to)
	if err != nil {
		return nil, err
	}
	return version.Compare(a, b), nil
}

// Restore 把会话的章节内容恢复到指定版本，只改聚合的内存状态
// 历史不被改写：调用方先提交恢复后的状态，再以 rollback 为由 Snapshot 追加新版本
func (s *Service) Restore(ctx context.Context, sess *session.Session, versionID int64) error {
	target, err := s.repo.Get(ctx, sess.ID, versionID)
	if err != nil {
		return err
	}
	if sess.Registry == nil {
		return fmt.Errorf("session %s has no sections to restore", sess.ID)
	}

	for key, sec := range sess.Registry.Sections {
		content, ok := target.Contents[key]
		if !ok {
			continue
		}
		sec.Content = content
		sec.Score = target.RubricScores[key]
		sec.LastEditor = "rollback"
		sec.LastUpdatedAt = time.Now()
		switch {
		case content == "":
			sec.Status = prd.StatusPending
		case sec.Score >= s.cfg.CompletionThreshold:
			sec.Status = prd.StatusCompleted
		default:
			sec.Status = prd.StatusInProgress
		}
	}
	sess.Registry.AdvancePointer()

	s.logger.Info("Restored session state to version",
		"session_id", sess.ID,
		"version_id", versionID,
	)
	return nil
}

// AttachExportLink 给版本补记一个导出产物链接
func (s *Service) AttachExportLink(ctx context.Context, sessionID string, versionID int64, link string) error {
	return s.repo.AttachExportLink(ctx, sessionID, versionID, link)
}
