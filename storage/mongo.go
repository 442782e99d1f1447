package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"finpulse/types"
)

// MongoConfig configures the durable MongoDB article collection.
type MongoConfig struct {
	URI        string // mongodb://host:27017
	Database   string
	Collection string
	Username   string
	Password   string
	AuthSource string
}

// MongoStore persists articles in one collection with a unique url_key index.
// Embeddings are stored on the document and compared client-side.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Database == "" {
		cfg.Database = "finpulse"
	}
	if cfg.Collection == "" {
		cfg.Collection = "articles"
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cli, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := cli.Ping(connectCtx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := newMongoStore(cli, cli.Database(cfg.Database).Collection(cfg.Collection))
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func newMongoStore(client *mongo.Client, coll *mongo.Collection) *MongoStore {
	return &MongoStore{client: client, coll: coll}
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "url_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "content_hash", Value: 1}, {Key: "collected_at", Value: -1}}},
		{Keys: bson.D{{Key: "collected_at", Value: -1}}},
		{Keys: bson.D{{Key: "source", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create article indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*types.Article, error) {
	var a types.Article
	err := s.coll.FindOne(ctx, filter, opts...).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *MongoStore) FindByURLKey(ctx context.Context, key string) (*types.Article, error) {
	return s.findOne(ctx, bson.M{"url_key": key})
}

func (s *MongoStore) FindRecentByContentHash(ctx context.Context, hash string, since time.Time) (*types.Article, error) {
	return s.findOne(ctx,
		bson.M{"content_hash": hash, "collected_at": bson.M{"$gte": since}},
		options.FindOne().SetSort(bson.D{{Key: "published_at", Value: 1}}),
	)
}

func (s *MongoStore) FindRecentSimilar(ctx context.Context, vec []float32, since time.Time, threshold float64) ([]Match, error) {
	cur, err := s.coll.Find(ctx, bson.M{
		"collected_at": bson.M{"$gte": since},
		"embedding":    bson.M{"$exists": true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query recent articles: %w", err)
	}
	var candidates []*types.Article
	if err := cur.All(ctx, &candidates); err != nil {
		return nil, fmt.Errorf("failed to decode recent articles: %w", err)
	}
	return rankMatches(vec, candidates, threshold), nil
}

func (s *MongoStore) Create(ctx context.Context, a *types.Article) error {
	_, err := s.coll.InsertOne(ctx, a)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateURLKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert article %s: %w", a.ID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*types.Article, error) {
	a, err := s.findOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// Update reads, applies and replaces the document. Concurrent updates of the
// same id are serialized by the dedup guard upstream.
func (s *MongoStore) Update(ctx context.Context, id string, u types.ArticleUpdate) (*types.Article, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(a)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id}, a); err != nil {
		return nil, fmt.Errorf("failed to update article %s: %w", id, err)
	}
	return a, nil
}

func (s *MongoStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{
		"collected_at": bson.M{"$lt": cutoff},
		"is_starred":   bson.M{"$ne": true},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old articles: %w", err)
	}
	return res.DeletedCount, nil
}
