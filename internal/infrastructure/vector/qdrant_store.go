// Package vector Qdrant 向量库访问层
// 连接外部 Qdrant 服务（gRPC），不托管其进程
package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
	"github.com/thinkinglens/backend/internal/domain/rag"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// Store Qdrant 集合上的切块存取
type Store struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
	logger     *slog.Logger
}

// NewStore 创建向量库访问层并确保集合存在
func NewStore(cfg *config.Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Qdrant.Host,
		Port: cfg.Qdrant.GRPCPort,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	s := &Store{
		client:     client,
		collection: cfg.Qdrant.Collection,
		vectorSize: cfg.Embedding.VectorSize,
		logger:     log.NewModuleLogger("vector", "store"),
	}
	return s, nil
}

// EnsureCollection 确保集合存在（幂等）
func (s *Store) EnsureCollection(ctx context.Context) error {
	existing, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range existing {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
	}
	s.logger.Info("Created qdrant collection", "collection", s.collection, "vector_size", s.vectorSize)
	return nil
}

// Upsert 写入切块向量
func (s *Store) Upsert(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk count %d does not match vector count %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		vectorArgs := make([]float32, len(vectors[i]))
		copy(vectorArgs, vectors[i])

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(chunk.ID),
			Vectors: qdrant.NewVectors(vectorArgs...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"chunk_id":    chunk.ID,
				"session_id":  chunk.SessionID,
				"source":      chunk.Source,
				"chunk_index": int64(chunk.Index),
				"text":        chunk.Text,
			}),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	s.logger.Debug("Upserted chunks", "count", len(points))
	return nil
}

// Search 按会话过滤的近邻检索
func (s *Store) Search(ctx context.Context, sessionID string, vector []float32, limit uint64) ([]rag.ScoredChunk, error) {
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("session_id", sessionID),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	results := make([]rag.ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		chunk := hitToChunk(hit)
		if chunk == nil {
			continue
		}
		results = append(results, rag.ScoredChunk{Chunk: *chunk, Score: hit.GetScore()})
	}
	return results, nil
}

// DeleteSession 删除某个会话的全部切块
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("session_id", sessionID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete session chunks: %w", err)
	}
	return nil
}

// Close 关闭 gRPC 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// hitToChunk 从命中 payload 还原切块
func hitToChunk(hit *qdrant.ScoredPoint) *rag.Chunk {
	payload := hit.GetPayload()
	if payload == nil {
		return nil
	}

	chunk := &rag.Chunk{}
	if val, ok := payload["chunk_id"]; ok {
		chunk.ID = val.GetStringValue()
	}
	if val, ok := payload["session_id"]; ok {
		chunk.SessionID = val.GetStringValue()
	}
	if val, ok := payload["source"]; ok {
		chunk.Source = val.GetStringValue()
	}
	if val, ok := payload["chunk_index"]; ok {
		chunk.Index = int(val.GetIntegerValue())
	}
	if val, ok := payload["text"]; ok {
		chunk.Text = val.GetStringValue()
	}
	if chunk.Text == "" {
		return nil
	}
	return chunk
}
