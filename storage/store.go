// Package storage holds the persistence collaborators of the ingestion core:
// the article index consulted by dedup and the object archive.
package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"finpulse/fingerprint"
	"finpulse/types"
)

var (
	// ErrNotFound is returned by Update and Get for unknown ids.
	ErrNotFound = errors.New("article not found")
	// ErrDuplicateURLKey is returned by Create when another Article already
	// owns the url key.
	ErrDuplicateURLKey = errors.New("url key already exists")
)

// Match is a semantic candidate returned by FindRecentSimilar.
type Match struct {
	Article    *types.Article
	Similarity float64
}

// Store is the persistence collaborator. Implementations guarantee
// read-your-writes and a unique url key per Article. Lookup methods return
// (nil, nil) when nothing matches.
type Store interface {
	FindByURLKey(ctx context.Context, key string) (*types.Article, error)
	FindRecentByContentHash(ctx context.Context, hash string, since time.Time) (*types.Article, error)
	FindRecentSimilar(ctx context.Context, vec []float32, since time.Time, threshold float64) ([]Match, error)
	Create(ctx context.Context, a *types.Article) error
	Update(ctx context.Context, id string, u types.ArticleUpdate) (*types.Article, error)
	Get(ctx context.Context, id string) (*types.Article, error)
	// DeleteOlderThan removes unstarred articles collected before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// rankMatches scores candidates against vec, keeps those at or above
// threshold and orders them by similarity, then earliest ordering time.
func rankMatches(vec []float32, candidates []*types.Article, threshold float64) []Match {
	var out []Match
	for _, a := range candidates {
		if len(a.Embedding) == 0 {
			continue
		}
		sim := fingerprint.Cosine(vec, a.Embedding)
		if sim >= threshold {
			out = append(out, Match{Article: a, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Article.PublishedAt.Before(out[j].Article.PublishedAt)
	})
	return out
}
