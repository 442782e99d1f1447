package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpulse/types"
)

func newArticle(id, urlKey, hash string, collected time.Time, vec []float32) *types.Article {
	return &types.Article{
		ID:          id,
		SourceID:    "src",
		URLKey:      urlKey,
		ContentHash: hash,
		Title:       id,
		PublishedAt: collected,
		CollectedAt: collected,
		Embedding:   vec,
	}
}

func TestMemoryStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()

	require.NoError(t, s.Create(ctx, newArticle("a1", "x.com/a", "h1", now, nil)))
	assert.ErrorIs(t, s.Create(ctx, newArticle("a2", "x.com/a", "h2", now, nil)), ErrDuplicateURLKey)

	got, err := s.FindByURLKey(ctx, "x.com/a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a1", got.ID)

	missing, err := s.FindByURLKey(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStoreContentHashWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newArticle("old", "x.com/old", "h", now.Add(-72*time.Hour), nil)))

	got, err := s.FindRecentByContentHash(ctx, "h", now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Create(ctx, newArticle("new", "x.com/new", "h", now, nil)))
	got, err = s.FindRecentByContentHash(ctx, "h", now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.ID)
}

func TestMemoryStoreFindRecentSimilar(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newArticle("close", "x.com/1", "h1", now, []float32{1, 0.1})))
	require.NoError(t, s.Create(ctx, newArticle("exact", "x.com/2", "h2", now, []float32{1, 0})))
	require.NoError(t, s.Create(ctx, newArticle("far", "x.com/3", "h3", now, []float32{0, 1})))
	require.NoError(t, s.Create(ctx, newArticle("stale", "x.com/4", "h4", now.Add(-100*time.Hour), []float32{1, 0})))

	matches, err := s.FindRecentSimilar(ctx, []float32{1, 0}, now.Add(-time.Hour), 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Article.ID)
	assert.Equal(t, "close", matches[1].Article.ID)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newArticle("a1", "x.com/a", "h1", now, nil)))

	newHash := "h2"
	body := "richer body"
	got, err := s.Update(ctx, "a1", types.ArticleUpdate{Body: &body, ContentHash: &newHash, AddAlsoSeenOn: []string{"other"}})
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, []string{"other"}, got.AlsoSeenOn)

	byOld, _ := s.FindRecentByContentHash(ctx, "h1", time.Time{})
	assert.Nil(t, byOld)
	byNew, _ := s.FindRecentByContentHash(ctx, "h2", time.Time{})
	require.NotNil(t, byNew)
	assert.Equal(t, "richer body", byNew.Body)

	_, err = s.Update(ctx, "missing", types.ArticleUpdate{Body: &body})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newArticle("a1", "x.com/a", "h1", time.Now(), nil)))

	got, _ := s.Get(ctx, "a1")
	got.Title = "mutated"
	again, _ := s.Get(ctx, "a1")
	assert.Equal(t, "a1", again.Title)
}

func TestMemoryStoreDeleteOlderThanSkipsStarred(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newArticle("old", "x.com/old", "h1", now.Add(-40*24*time.Hour), nil)))
	require.NoError(t, s.Create(ctx, newArticle("starred", "x.com/s", "h2", now.Add(-40*24*time.Hour), nil)))
	require.NoError(t, s.Create(ctx, newArticle("fresh", "x.com/f", "h3", now, nil)))
	require.NoError(t, s.SetStarred("starred", true))

	n, err := s.DeleteOlderThan(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, s.All(), 2)

	gone, _ := s.FindByURLKey(ctx, "x.com/old")
	assert.Nil(t, gone)
}
