package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkinglens/backend/internal/domain/prd"
	"github.com/thinkinglens/backend/internal/domain/session"
)

// setupTestDB 创建测试用临时数据库
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenDB(dbPath)
	require.NoError(t, err)
	return db, func() { db.Close() }
}

func newTestSession(id string) *session.Session {
	sess := session.New(id, "user-1")
	sess.Stage = prd.StageBuild
	sess.NormalizedIdea = "A grocery delivery app for busy parents"
	sess.Conversation.Append("user", "hello")
	return sess
}

func TestSessionRepository_CommitAndLoad(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	ctx := context.Background()

	sess := newTestSession("sess-1")
	require.NoError(t, repo.Commit(ctx, sess, "", nil))

	loaded, err := repo.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", loaded.UserID)
	assert.Equal(t, prd.StageBuild, loaded.Stage)
	assert.Equal(t, sess.NormalizedIdea, loaded.NormalizedIdea)
	require.NotNil(t, loaded.Conversation)
	assert.Len(t, loaded.Conversation.Turns, 1)
}

func TestSessionRepository_LoadNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	_, err := repo.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionRepository_CommitReplacesState(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	ctx := context.Background()

	sess := newTestSession("sess-1")
	require.NoError(t, repo.Commit(ctx, sess, "", nil))

	sess.Stage = prd.StageReview
	sess.Touch()
	require.NoError(t, repo.Commit(ctx, sess, "", nil))

	loaded, err := repo.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, prd.StageReview, loaded.Stage)
	assert.Equal(t, 1, loaded.TurnCounter)
}

func TestSessionRepository_TurnResultIdempotency(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	ctx := context.Background()

	sess := newTestSession("sess-1")
	result := &session.TurnResult{
		SessionID: "sess-1",
		Reply:     "Noted. What problem does it solve?",
		Stage:     string(prd.StageBuild),
		Progress:  "1/6",
	}
	require.NoError(t, repo.Commit(ctx, sess, "turn-key-1", result))

	found, err := repo.FindTurnResult(ctx, "sess-1", "turn-key-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, result.Reply, found.Reply)
	assert.Equal(t, "1/6", found.Progress)

	// 未知幂等键不报错，返回 nil
	missing, err := repo.FindTurnResult(ctx, "sess-1", "other-key")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionRepository_ListByUser(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	ctx := context.Background()

	a := newTestSession("sess-a")
	b := newTestSession("sess-b")
	other := session.New("sess-c", "user-2")
	require.NoError(t, repo.Commit(ctx, a, "", nil))
	require.NoError(t, repo.Commit(ctx, b, "", nil))
	require.NoError(t, repo.Commit(ctx, other, "", nil))

	sessions, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, "user-1", s.UserID)
	}
}

func TestSessionRepository_Archive(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	ctx := context.Background()

	sess := newTestSession("sess-1")
	require.NoError(t, repo.Commit(ctx, sess, "", nil))
	require.NoError(t, repo.Archive(ctx, "sess-1"))

	loaded, err := repo.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusArchived, loaded.Status)
}
