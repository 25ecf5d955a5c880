package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkinglens/backend/internal/domain/rag"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
)

// fakeEmbedder 返回固定维度向量
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// fakeStore 记录写入并返回预置命中
type fakeStore struct {
	upserted []rag.Chunk
	hits     []rag.ScoredChunk
}

func (f *fakeStore) EnsureCollection(context.Context) error { return nil }

func (f *fakeStore) Upsert(_ context.Context, chunks []rag.Chunk, vectors [][]float32) error {
	f.upserted = append(f.upserted, chunks...)
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ string, _ []float32, _ uint64) ([]rag.ScoredChunk, error) {
	return f.hits, nil
}

func enabledConfig() *config.Config {
	return &config.Config{
		Embedding: config.EmbeddingConfig{BaseURL: "http://localhost:1234"},
		Qdrant:    config.QdrantConfig{Host: "localhost"},
	}
}

func TestChunkText_PacksParagraphs(t *testing.T) {
	long := strings.Repeat("word ", 150)
	text := long + "\n\n" + long + "\n\n" + long
	chunks := chunkText(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	// 相邻切块共享重叠段落
	assert.Contains(t, chunks[1], strings.TrimSpace(long))
}

func TestChunkText_EmptyInput(t *testing.T) {
	assert.Nil(t, chunkText("   \n\n  "))
}

func TestIngestText_WritesSessionScopedChunks(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(&fakeEmbedder{}, store, enabledConfig())

	n, err := svc.IngestText(context.Background(), "s1", "notes.md", "Some product research.\n\nMore findings.")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "s1", store.upserted[0].SessionID)
	assert.Equal(t, "s1:notes.md:0", store.upserted[0].ID)
}

func TestIngestFile_SkipsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89}, 0o644))

	svc := NewService(&fakeEmbedder{}, &fakeStore{}, enabledConfig())
	n, err := svc.IngestFile(context.Background(), "s1", path)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestFile_ReadsMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "research.md")
	require.NoError(t, os.WriteFile(path, []byte("# Findings\n\nCommuters want speed."), 0o644))

	store := &fakeStore{}
	svc := NewService(&fakeEmbedder{}, store, enabledConfig())
	n, err := svc.IngestFile(context.Background(), "s1", path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "research.md", store.upserted[0].Source)
}

func TestRetrieve_FormatsHits(t *testing.T) {
	store := &fakeStore{hits: []rag.ScoredChunk{
		{Chunk: rag.Chunk{Source: "notes.md", Text: "speed matters"}, Score: 0.9},
		{Chunk: rag.Chunk{Source: "survey.txt", Text: "users commute daily"}, Score: 0.7},
	}}
	svc := NewService(&fakeEmbedder{}, store, enabledConfig())

	out, err := svc.Retrieve(context.Background(), "s1", "what do users want")
	require.NoError(t, err)
	assert.Contains(t, out, "[notes.md] speed matters")
	assert.Contains(t, out, "[survey.txt] users commute daily")
	assert.Contains(t, out, "---")
}

func TestRetrieve_NoHitsReturnsEmpty(t *testing.T) {
	svc := NewService(&fakeEmbedder{}, &fakeStore{}, enabledConfig())
	out, err := svc.Retrieve(context.Background(), "s1", "anything")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestService_NotConfigured(t *testing.T) {
	svc := NewService(&fakeEmbedder{}, &fakeStore{}, &config.Config{})
	assert.False(t, svc.Enabled())

	_, err := svc.Retrieve(context.Background(), "s1", "query")
	assert.ErrorIs(t, err, rag.ErrNotConfigured)
	_, err = svc.IngestText(context.Background(), "s1", "a.md", "text")
	assert.ErrorIs(t, err, rag.ErrNotConfigured)
}
