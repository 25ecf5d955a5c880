package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkinglens/backend/internal/domain/version"
)

func newTestVersion(sessionID string) *version.Version {
	return &version.Version{
		SessionID: sessionID,
		Reason:    "checkpoint",
		Contents: map[string]string{
			"problem_statement": "Busy parents waste an hour a week on groceries.",
			"goals":             "Cut ordering time to under 5 minutes.",
		},
		RubricScores: map[string]float64{
			"problem_statement": 0.9,
			"goals":             0.85,
		},
		CreatedAt: time.Now(),
	}
}

func TestVersionRepository_AppendAssignsMonotonicIDs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewVersionRepository(db)
	ctx := context.Background()

	v1 := newTestVersion("sess-1")
	v2 := newTestVersion("sess-1")
	other := newTestVersion("sess-2")
	require.NoError(t, repo.Append(ctx, v1))
	require.NoError(t, repo.Append(ctx, v2))
	require.NoError(t, repo.Append(ctx, other))

	assert.Equal(t, int64(1), v1.VersionID)
	assert.Equal(t, int64(2), v2.VersionID)
	assert.Equal(t, int64(1), other.VersionID, "版本号按会话独立计数")
}

func TestVersionRepository_GetRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewVersionRepository(db)
	ctx := context.Background()

	v := newTestVersion("sess-1")
	require.NoError(t, repo.Append(ctx, v))

	got, err := repo.Get(ctx, "sess-1", v.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "checkpoint", got.Reason)
	assert.Equal(t, v.Contents, got.Contents)
	assert.InDelta(t, 0.9, got.RubricScores["problem_statement"], 1e-9)
	assert.Empty(t, got.ExportLinks)
}

func TestVersionRepository_GetNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewVersionRepository(db)

	_, err := repo.Get(context.Background(), "sess-1", 42)
	assert.ErrorIs(t, err, version.ErrNotFound)
}

func TestVersionRepository_ListAscending(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewVersionRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Append(ctx, newTestVersion("sess-1")))
	}

	versions, err := repo.List(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v.VersionID)
	}
}

func TestVersionRepository_AttachExportLink(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewVersionRepository(db)
	ctx := context.Background()

	v := newTestVersion("sess-1")
	require.NoError(t, repo.Append(ctx, v))

	require.NoError(t, repo.AttachExportLink(ctx, "sess-1", v.VersionID, "exports/sess-1/v1.md"))
	require.NoError(t, repo.AttachExportLink(ctx, "sess-1", v.VersionID, "exports/sess-1/v1.html"))

	got, err := repo.Get(ctx, "sess-1", v.VersionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/sess-1/v1.md", "exports/sess-1/v1.html"}, got.ExportLinks)
	// 内容与评分不受补记影响
	assert.Equal(t, v.Contents, got.Contents)

	err = repo.AttachExportLink(ctx, "sess-1", 99, "exports/nope.md")
	assert.ErrorIs(t, err, version.ErrNotFound)
}
