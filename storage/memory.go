package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finpulse/types"
)

// MemoryStore is an in-process Store. It backs tests and single-node runs
// without Redis or MongoDB.
type MemoryStore struct {
	mu       sync.RWMutex
	articles map[string]*types.Article
	byURL    map[string]string
	byHash   map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles: make(map[string]*types.Article),
		byURL:    make(map[string]string),
		byHash:   make(map[string][]string),
	}
}

func (m *MemoryStore) FindByURLKey(_ context.Context, key string) (*types.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byURL[key]
	if !ok {
		return nil, nil
	}
	return m.articles[id].Clone(), nil
}

func (m *MemoryStore) FindRecentByContentHash(_ context.Context, hash string, since time.Time) (*types.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *types.Article
	for _, id := range m.byHash[hash] {
		a := m.articles[id]
		if a == nil || a.CollectedAt.Before(since) {
			continue
		}
		if best == nil || a.PublishedAt.Before(best.PublishedAt) {
			best = a
		}
	}
	return best.Clone(), nil
}

func (m *MemoryStore) FindRecentSimilar(_ context.Context, vec []float32, since time.Time, threshold float64) ([]Match, error) {
	m.mu.RLock()
	candidates := make([]*types.Article, 0, len(m.articles))
	for _, a := range m.articles {
		if !a.CollectedAt.Before(since) && len(a.Embedding) > 0 {
			candidates = append(candidates, a.Clone())
		}
	}
	m.mu.RUnlock()
	return rankMatches(vec, candidates, threshold), nil
}

func (m *MemoryStore) Create(_ context.Context, a *types.Article) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("failed to create article: missing id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byURL[a.URLKey]; ok {
		return ErrDuplicateURLKey
	}
	if _, ok := m.articles[a.ID]; ok {
		return fmt.Errorf("failed to create article %s: id exists", a.ID)
	}
	c := a.Clone()
	m.articles[c.ID] = c
	m.byURL[c.URLKey] = c.ID
	m.byHash[c.ContentHash] = append(m.byHash[c.ContentHash], c.ID)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, u types.ArticleUpdate) (*types.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, ErrNotFound
	}
	prevHash := a.ContentHash
	u.Apply(a)
	if a.ContentHash != prevHash {
		m.byHash[prevHash] = removeID(m.byHash[prevHash], id)
		m.byHash[a.ContentHash] = append(m.byHash[a.ContentHash], id)
	}
	return a.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*types.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// SetStarred toggles user state; the ingestion core never calls it.
func (m *MemoryStore) SetStarred(id string, starred bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return ErrNotFound
	}
	a.IsStarred = starred
	return nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.articles {
		if a.IsStarred || !a.CollectedAt.Before(cutoff) {
			continue
		}
		delete(m.articles, id)
		delete(m.byURL, a.URLKey)
		m.byHash[a.ContentHash] = removeID(m.byHash[a.ContentHash], id)
		if len(m.byHash[a.ContentHash]) == 0 {
			delete(m.byHash, a.ContentHash)
		}
		n++
	}
	return n, nil
}

// All returns a snapshot of every stored article.
func (m *MemoryStore) All() []*types.Article {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Article, 0, len(m.articles))
	for _, a := range m.articles {
		out = append(out, a.Clone())
	}
	return out
}

func (m *MemoryStore) Close() error { return nil }

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
