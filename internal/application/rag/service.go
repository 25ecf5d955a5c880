// Package rag 参考文档的摄取与检索
// 为章节更新提供相关上传内容的片段；能力未配置或故障时调用方静默降级
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/thinkinglens/backend/internal/domain/rag"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// 检索参数
const (
	retrieveTopK = 5
	// maxIngestBytes 单文件摄取上限
	maxIngestBytes = 4 << 20
)

// ingestableExts 支持摄取的纯文本扩展名
var ingestableExts = map[string]bool{
	".md": true, ".txt": true, ".markdown": true,
}

// Embedder 向量化边界
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore 向量库边界
type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) error
	Search(ctx context.Context, sessionID string, vector []float32, limit uint64) ([]rag.ScoredChunk, error)
}

// Service 文档摄取与检索服务
// embedder/store 允许为 nil（能力未配置），此时所有操作返回 rag.ErrNotConfigured
type Service struct {
	embedder Embedder
	store    VectorStore
	logger   *slog.Logger
}

// NewService 创建检索服务
func NewService(embedder Embedder, store VectorStore, cfg *config.Config) *Service {
	svc := &Service{
		embedder: embedder,
		store:    store,
		logger:   log.NewModuleLogger("rag", "service"),
	}
	if !cfg.RAGConfigured() {
		svc.embedder = nil
		svc.store = nil
	}
	return svc
}

// Enabled 检索能力是否可用
func (s *Service) Enabled() bool {
	return s.embedder != nil && s.store != nil
}

// IngestFile 摄取一个上传文件：切块、向量化、写入向量库
// 返回写入的切块数；不支持的文件类型直接跳过（返回 0）
func (s *Service) IngestFile(ctx context.Context, sessionID, path string) (int, error) {
	if !s.Enabled() {
		return 0, rag.ErrNotConfigured
	}
	if !ingestableExts[strings.ToLower(filepath.Ext(path))] {
		s.logger.Debug("Skipping unsupported upload", "path", path)
		return 0, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat upload: %w", err)
	}
	if info.Size() > maxIngestBytes {
		return 0, fmt.Errorf("upload %s exceeds ingest limit (%d bytes)", filepath.Base(path), maxIngestBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading upload: %w", err)
	}
	return s.IngestText(ctx, sessionID, filepath.Base(path), string(data))
}

// IngestText 摄取一段文本
func (s *Service) IngestText(ctx context.Context, sessionID, source, text string) (int, error) {
	if !s.Enabled() {
		return 0, rag.ErrNotConfigured
	}

	pieces := chunkText(text)
	if len(pieces) == 0 {
		return 0, nil
	}

	if err := s.store.EnsureCollection(ctx); err != nil {
		return 0, err
	}
	vectors, err := s.embedder.EmbedTexts(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}

	chunks := make([]rag.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = rag.Chunk{
			ID:        fmt.Sprintf("%s:%s:%d", sessionID, source, i),
			SessionID: sessionID,
			Source:    source,
			Index:     i,
			Text:      piece,
		}
	}
	if err := s.store.Upsert(ctx, chunks, vectors); err != nil {
		return 0, err
	}

	s.logger.Info("Ingested document",
		"session_id", sessionID,
		"source", source,
		"chunks", len(chunks),
	)
	return len(chunks), nil
}

// Retrieve 按会话检索与查询相关的切块，拼成提示用的片段文本
// 实现工作流引擎的检索边界；无命中时返回空串
func (s *Service) Retrieve(ctx context.Context, sessionID, query string) (string, error) {
	if !s.Enabled() {
		return "", rag.ErrNotConfigured
	}
	if strings.TrimSpace(query) == "" {
		return "", nil
	}

	vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return "", fmt.Errorf("empty query embedding")
	}

	hits, err := s.store.Search(ctx, sessionID, vectors[0], retrieveTopK)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(fmt.Sprintf("[%s] %s", hit.Source, hit.Text))
	}
	return sb.String(), nil
}
