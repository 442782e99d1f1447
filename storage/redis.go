package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"finpulse/types"
)

// RedisConfig configures the Redis-backed article index.
type RedisConfig struct {
	Addr     string // e.g. localhost:6379
	Password string
	DB       int
	// Prefix namespaces every key, default "finpulse:".
	Prefix string
	// Window is the TTL of content-hash and vector index keys. Articles
	// older than the window stay readable by id and url key but stop being
	// dedup candidates.
	Window time.Duration
}

// RedisStore keeps articles as JSON blobs next to index keys:
//
//	<prefix>article:<id>   article JSON
//	<prefix>url:<urlKey>   id
//	<prefix>hash:<hash>    id, TTL window
//	<prefix>vec:<id>       little-endian float32 vector, TTL window
//	<prefix>collected      ZSET id -> collectedAt unix seconds
type RedisStore struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisStore connects and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return newRedisStore(client, cfg), nil
}

func newRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "finpulse:"
	}
	if cfg.Window <= 0 {
		cfg.Window = 48 * time.Hour
	}
	return &RedisStore{client: client, prefix: cfg.Prefix, window: cfg.Window}
}

func (r *RedisStore) articleKey(id string) string { return r.prefix + "article:" + id }
func (r *RedisStore) urlKey(key string) string { return r.prefix + "url:" + key }
func (r *RedisStore) hashKey(hash string) string { return r.prefix + "hash:" + hash }
func (r *RedisStore) vecKey(id string) string { return r.prefix + "vec:" + id }
func (r *RedisStore) collectedKey() string { return r.prefix + "collected" }

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Get(ctx context.Context, id string) (*types.Article, error) {
	b, err := r.client.Get(ctx, r.articleKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load article %s: %w", id, err)
	}
	return decodeArticle(b)
}

func (r *RedisStore) lookup(ctx context.Context, indexKey string) (*types.Article, error) {
	id, err := r.client.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// dangling index entry left by a partial delete
		return nil, nil
	}
	return a, err
}

func (r *RedisStore) FindByURLKey(ctx context.Context, key string) (*types.Article, error) {
	return r.lookup(ctx, r.urlKey(key))
}

func (r *RedisStore) FindRecentByContentHash(ctx context.Context, hash string, since time.Time) (*types.Article, error) {
	a, err := r.lookup(ctx, r.hashKey(hash))
	if err != nil || a == nil {
		return nil, err
	}
	// the key may still point at an article whose content was replaced
	if a.ContentHash != hash || a.CollectedAt.Before(since) {
		return nil, nil
	}
	return a, nil
}

func (r *RedisStore) FindRecentSimilar(ctx context.Context, vec []float32, since time.Time, threshold float64) ([]Match, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.collectedKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent articles: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	vecKeys := make([]string, len(ids))
	for i, id := range ids {
		vecKeys[i] = r.vecKey(id)
	}
	raw, err := r.client.MGet(ctx, vecKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	var candidates []*types.Article
	for i, v := range raw {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		a, err := r.Get(ctx, ids[i])
		if err != nil {
			continue
		}
		a.Embedding = decodeVector([]byte(s))
		candidates = append(candidates, a)
	}
	return rankMatches(vec, candidates, threshold), nil
}

func (r *RedisStore) Create(ctx context.Context, a *types.Article) error {
	ok, err := r.client.SetNX(ctx, r.urlKey(a.URLKey), a.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve url key: %w", err)
	}
	if !ok {
		return ErrDuplicateURLKey
	}
	b, err := json.Marshal(storedArticle{Article: a, PublishedTrusted: a.PublishedTrusted})
	if err != nil {
		return fmt.Errorf("failed to encode article: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.articleKey(a.ID), b, 0)
		pipe.Set(ctx, r.hashKey(a.ContentHash), a.ID, r.window)
		pipe.ZAdd(ctx, r.collectedKey(), redis.Z{Score: float64(a.CollectedAt.Unix()), Member: a.ID})
		if len(a.Embedding) > 0 {
			pipe.Set(ctx, r.vecKey(a.ID), encodeVector(a.Embedding), r.window)
		}
		return nil
	})
	if err != nil {
		_ = r.client.Del(ctx, r.urlKey(a.URLKey)).Err()
		return fmt.Errorf("failed to write article %s: %w", a.ID, err)
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, id string, u types.ArticleUpdate) (*types.Article, error) {
	key := r.articleKey(id)
	var updated *types.Article
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		a, err := decodeArticle(b)
		if err != nil {
			return err
		}
		prevHash := a.ContentHash
		u.Apply(a)
		out, err := json.Marshal(storedArticle{Article: a, PublishedTrusted: a.PublishedTrusted})
		if err != nil {
			return err
		}
		refreshed := u.CollectedAt != nil
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			if a.ContentHash != prevHash || refreshed {
				pipe.Set(ctx, r.hashKey(a.ContentHash), id, r.window)
			}
			if u.Embedding != nil {
				pipe.Set(ctx, r.vecKey(id), encodeVector(u.Embedding), r.window)
			} else if refreshed {
				pipe.Expire(ctx, r.vecKey(id), r.window)
			}
			if refreshed {
				pipe.ZAdd(ctx, r.collectedKey(), redis.Z{Score: float64(a.CollectedAt.Unix()), Member: id})
			}
			return nil
		})
		updated = a
		return err
	}, key)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update article %s: %w", id, err)
	}
	return updated, nil
}

func (r *RedisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.collectedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired articles: %w", err)
	}
	var n int64
	for _, id := range ids {
		a, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = r.client.ZRem(ctx, r.collectedKey(), id).Err()
			continue
		}
		if err != nil {
			return n, err
		}
		if a.IsStarred {
			continue
		}
		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.articleKey(id), r.urlKey(a.URLKey), r.vecKey(id))
			pipe.ZRem(ctx, r.collectedKey(), id)
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("failed to delete article %s: %w", id, err)
		}
		n++
	}
	return n, nil
}

// storedArticle persists the fields hidden from API JSON.
type storedArticle struct {
	*types.Article
	PublishedTrusted bool `json:"published_trusted"`
}

func decodeArticle(b []byte) (*types.Article, error) {
	a := &types.Article{}
	s := storedArticle{Article: a}
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode article: %w", err)
	}
	a.PublishedTrusted = s.PublishedTrusted
	return a, nil
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
