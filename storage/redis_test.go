package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpulse/types"
)

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Len(t, encodeVector(v), 12)
}

func TestStoredArticleKeepsTrustFlag(t *testing.T) {
	a := &types.Article{ID: "a1", URLKey: "x.com/a", PublishedTrusted: true, CollectedAt: time.Unix(100, 0).UTC()}
	b, err := json.Marshal(storedArticle{Article: a, PublishedTrusted: a.PublishedTrusted})
	require.NoError(t, err)

	got, err := decodeArticle(b)
	require.NoError(t, err)
	assert.True(t, got.PublishedTrusted)
	assert.Equal(t, "x.com/a", got.URLKey)
	assert.True(t, got.CollectedAt.Equal(a.CollectedAt))
}

func TestRedisKeyLayout(t *testing.T) {
	r := newRedisStore(nil, RedisConfig{})
	assert.Equal(t, "finpulse:article:a1", r.articleKey("a1"))
	assert.Equal(t, "finpulse:url:x.com/a", r.urlKey("x.com/a"))
	assert.Equal(t, 48*time.Hour, r.window)
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newRedisStore(client, RedisConfig{Window: 48 * time.Hour}), mr
}

func TestRedisStoreCreateAndFind(t *testing.T) {
	r, mr := newTestRedisStore(t)
	ctx := context.Background()
	a := newArticle("a1", "x.com/a", "h1", t0, nil)
	a.PublishedTrusted = true
	a.Embedding = []float32{1, 0}
	require.NoError(t, r.Create(ctx, a))

	got, err := r.FindByURLKey(ctx, "x.com/a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a1", got.ID)
	assert.True(t, got.PublishedTrusted)

	got, err = r.FindRecentByContentHash(ctx, "h1", t0.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	got, err = r.FindRecentByContentHash(ctx, "h1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)

	matches, err := r.FindRecentSimilar(ctx, []float32{1, 0}, t0.Add(-time.Hour), 0.85)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)

	assert.True(t, errors.Is(r.Create(ctx, newArticle("a2", "x.com/a", "h2", t0, nil)), ErrDuplicateURLKey))
	assert.True(t, mr.Exists("finpulse:hash:h1"))

	miss, err := r.FindByURLKey(ctx, "x.com/none")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestRedisStoreUpdateRefreshesCollectedAt(t *testing.T) {
	r, mr := newTestRedisStore(t)
	ctx := context.Background()
	a := newArticle("a1", "x.com/a", "h1", t0, nil)
	a.Embedding = []float32{1, 0}
	require.NoError(t, r.Create(ctx, a))

	refreshed := t0.Add(72 * time.Hour)
	body, hash := "new body", "h2"
	got, err := r.Update(ctx, "a1", types.ArticleUpdate{CollectedAt: &refreshed, Body: &body, ContentHash: &hash})
	require.NoError(t, err)
	assert.True(t, got.CollectedAt.Equal(refreshed))

	matches, err := r.FindRecentSimilar(ctx, []float32{1, 0}, refreshed.Add(-48*time.Hour), 0.85)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	byHash, err := r.FindRecentByContentHash(ctx, "h2", refreshed.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, byHash)
	stale, err := r.FindRecentByContentHash(ctx, "h1", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, stale)
	assert.Greater(t, mr.TTL("finpulse:vec:a1"), time.Duration(0))

	n, err := r.DeleteOlderThan(ctx, refreshed.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = r.Get(ctx, "a1")
	require.NoError(t, err)
}

func TestRedisStoreUpdateMissing(t *testing.T) {
	r, _ := newTestRedisStore(t)
	body := "x"
	_, err := r.Update(context.Background(), "nope", types.ArticleUpdate{Body: &body})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisStoreDeleteOlderThanSkipsStarred(t *testing.T) {
	r, _ := newTestRedisStore(t)
	ctx := context.Background()
	old := newArticle("old", "x.com/old", "h1", t0.Add(-30*24*time.Hour), nil)
	starred := newArticle("star", "x.com/star", "h2", t0.Add(-30*24*time.Hour), nil)
	starred.IsStarred = true
	fresh := newArticle("fresh", "x.com/fresh", "h3", t0, nil)
	for _, a := range []*types.Article{old, starred, fresh} {
		require.NoError(t, r.Create(ctx, a))
	}

	n, err := r.DeleteOlderThan(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.Get(ctx, "old")
	assert.True(t, errors.Is(err, ErrNotFound))
	gone, err := r.FindByURLKey(ctx, "x.com/old")
	require.NoError(t, err)
	assert.Nil(t, gone)
	// the url key is free again
	require.NoError(t, r.Create(ctx, newArticle("old2", "x.com/old", "h4", t0, nil)))

	_, err = r.Get(ctx, "star")
	assert.NoError(t, err)
}
