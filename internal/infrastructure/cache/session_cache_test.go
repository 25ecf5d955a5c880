package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkinglens/backend/internal/domain/prd"
	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
)

// countingRepo 记录回源次数的仓储桩
type countingRepo struct {
	sessions  map[string]*session.Session
	loads     int
	commits   int
	commitErr error
}

func newCountingRepo() *countingRepo {
	return &countingRepo{sessions: make(map[string]*session.Session)}
}

func (r *countingRepo) Load(_ context.Context, id string) (*session.Session, error) {
	r.loads++
	sess, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func (r *countingRepo) Commit(_ context.Context, sess *session.Session, _ string, _ *session.TurnResult) error {
	r.commits++
	if r.commitErr != nil {
		return r.commitErr
	}
	r.sessions[sess.ID] = sess
	return nil
}

func (r *countingRepo) FindTurnResult(_ context.Context, _, _ string) (*session.TurnResult, error) {
	return nil, nil
}

func cacheConfig(ttl time.Duration, disabled bool) *config.Config {
	return &config.Config{Cache: config.CacheConfig{TTL: ttl, Disabled: disabled}}
}

func TestSessionCache_LoadHitSkipsStore(t *testing.T) {
	repo := newCountingRepo()
	repo.sessions["s1"] = session.New("s1", "u1")
	cached := NewSessionCache(repo, cacheConfig(time.Minute, false))
	ctx := context.Background()

	_, err := cached.Load(ctx, "s1")
	require.NoError(t, err)
	_, err = cached.Load(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 1, repo.loads, "第二次读取应命中缓存")
}

func TestSessionCache_ExpiredEntryReloads(t *testing.T) {
	repo := newCountingRepo()
	repo.sessions["s1"] = session.New("s1", "u1")
	cached := NewSessionCache(repo, cacheConfig(time.Nanosecond, false))
	ctx := context.Background()

	_, err := cached.Load(ctx, "s1")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = cached.Load(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 2, repo.loads)
}

func TestSessionCache_CommitRefreshes(t *testing.T) {
	repo := newCountingRepo()
	cached := NewSessionCache(repo, cacheConfig(time.Minute, false))
	ctx := context.Background()

	sess := session.New("s1", "u1")
	require.NoError(t, cached.Commit(ctx, sess, "", nil))

	loaded, err := cached.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, sess.UserID, loaded.UserID)
	assert.Equal(t, 0, repo.loads, "提交后读取应命中缓存")
}

func TestSessionCache_LoadReturnsIsolatedCopy(t *testing.T) {
	repo := newCountingRepo()
	repo.sessions["s1"] = session.New("s1", "u1")
	cached := NewSessionCache(repo, cacheConfig(time.Minute, false))
	ctx := context.Background()

	first, err := cached.Load(ctx, "s1")
	require.NoError(t, err)

	// 读出的聚合被改动但从未提交：后续读取不得看到这些改动
	first.Stage = prd.StageBuild
	first.ClarifyCount = 99

	second, err := cached.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.ClarifyCount)
	assert.Equal(t, prd.StageInit, second.Stage)
	assert.Equal(t, 1, repo.loads, "隔离由缓存副本保证，不靠回源")
}

func TestSessionCache_MutationAfterCommitNotVisible(t *testing.T) {
	repo := newCountingRepo()
	cached := NewSessionCache(repo, cacheConfig(time.Minute, false))
	ctx := context.Background()

	sess := session.New("s1", "u1")
	require.NoError(t, cached.Commit(ctx, sess, "", nil))

	// 提交后继续改同一个指针（相当于下一回合中途失败）
	sess.ClarifyCount = 99

	loaded, err := cached.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.ClarifyCount, "缓存持有提交时刻的快照")
}

func TestSessionCache_CommitFailureDropsEntry(t *testing.T) {
	repo := newCountingRepo()
	repo.sessions["s1"] = session.New("s1", "u1")
	cached := NewSessionCache(repo, cacheConfig(time.Minute, false))
	ctx := context.Background()

	_, err := cached.Load(ctx, "s1")
	require.NoError(t, err)

	repo.commitErr = assert.AnError
	err = cached.Commit(ctx, session.New("s1", "u1"), "", nil)
	require.Error(t, err)

	_, err = cached.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.loads, "提交失败后必须回源")
}

func TestSessionCache_DisabledPassthrough(t *testing.T) {
	repo := newCountingRepo()
	cached := NewSessionCache(repo, cacheConfig(time.Minute, true))

	assert.Same(t, any(repo), any(cached))
}

func TestSessionCache_MissPropagatesNotFound(t *testing.T) {
	repo := newCountingRepo()
	cached := NewSessionCache(repo, cacheConfig(time.Minute, false))

	_, err := cached.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
