package deduplication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finpulse/storage"
	"finpulse/types"
)

const (
	DefaultSimilarityThreshold = 0.85
	DefaultWindow              = 48 * time.Hour
	DefaultBuckets             = 24
	// DefaultFutureSkew tolerates small clock drift between sources and us.
	DefaultFutureSkew = 5 * time.Minute
)

// Config holds the tunables of the dedup decision.
type Config struct {
	SimilarityThreshold float64
	Window              time.Duration
	Buckets             int
	FutureSkew          time.Duration
	// Priorities ranks sources; higher wins ties and may promote content.
	Priorities map[string]int
	Now        func() time.Time
	NewID      func() string
	Logger     *zap.Logger
}

// Engine decides whether a draft is new or merges into an existing Article.
type Engine struct {
	store     storage.Store
	guard     *Guard
	threshold float64
	window    time.Duration
	skew      time.Duration
	priority  map[string]int
	now       func() time.Time
	newID     func() string
	logger    *zap.Logger
}

func NewEngine(store storage.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	cfg = applyConfigDefaults(cfg)
	return &Engine{
		store:     store,
		guard:     NewGuard(cfg.Window, cfg.Buckets),
		threshold: cfg.SimilarityThreshold,
		window:    cfg.Window,
		skew:      cfg.FutureSkew,
		priority:  cfg.Priorities,
		now:       cfg.Now,
		newID:     cfg.NewID,
		logger:    cfg.Logger,
	}, nil
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = DefaultBuckets
	}
	if cfg.FutureSkew <= 0 {
		cfg.FutureSkew = DefaultFutureSkew
	}
	if cfg.Priorities == nil {
		cfg.Priorities = map[string]int{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// Threshold returns the configured semantic similarity threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Trusted reports whether publishedAt may take part in canonical ordering.
func (e *Engine) Trusted(publishedAt, now time.Time) bool {
	return !publishedAt.IsZero() && !publishedAt.After(now.Add(e.skew))
}

// Decide runs the state machine for one draft: exact URL, then content hash
// within the window, then semantic similarity, else accept. The whole
// read-decide-write sequence runs under the recency guard.
//
// Index lookup failures degrade the failing stage to "no match". The
// returned error is non-nil only when the final write fails.
func (e *Engine) Decide(ctx context.Context, d types.Draft, fp types.Fingerprint) (types.Decision, error) {
	now := e.now()
	unlock := e.guard.Lock(now)
	defer unlock()

	var degraded bool
	since := now.Add(-e.window)

	existing, err := e.store.FindByURLKey(ctx, fp.URLKey)
	if err != nil {
		e.indexWarn(&types.DedupIndexError{Op: "find_by_url_key", Err: err}, d)
		degraded = true
	} else if existing != nil {
		return e.mergeURL(ctx, existing, d, fp, now)
	}

	byHash, err := e.store.FindRecentByContentHash(ctx, fp.ContentHash, since)
	if err != nil {
		e.indexWarn(&types.DedupIndexError{Op: "find_by_content_hash", Err: err}, d)
		degraded = true
	} else if byHash != nil {
		return e.mergeContent(ctx, byHash, d, now)
	}

	if fp.HasEmbedding() {
		matches, err := e.store.FindRecentSimilar(ctx, fp.Embedding, since, e.threshold)
		if err != nil {
			e.indexWarn(&types.DedupIndexError{Op: "find_similar", Err: err}, d)
			degraded = true
		} else if len(matches) > 0 {
			return e.mergeSemantic(ctx, matches[0], d, fp, now)
		}
	}

	art := types.NewArticle(e.newID(), d, fp, now, e.Trusted(d.PublishedAt, now))
	if err := e.store.Create(ctx, art); err != nil {
		if errors.Is(err, storage.ErrDuplicateURLKey) {
			// another writer won the url key outside this process
			if existing, ferr := e.store.FindByURLKey(ctx, fp.URLKey); ferr == nil && existing != nil {
				return e.mergeURL(ctx, existing, d, fp, now)
			}
		}
		return types.Decision{}, fmt.Errorf("failed to create article: %w", err)
	}
	return types.Decision{
		Outcome:   types.OutcomeAccepted,
		ArticleID: art.ID,
		Article:   art,
		Degraded:  degraded,
	}, nil
}

func (e *Engine) indexWarn(err *types.DedupIndexError, d types.Draft) {
	e.logger.Warn("dedup index lookup failed, treating draft as novel at this stage",
		zap.String("op", err.Op),
		zap.String("source", d.SourceID),
		zap.String("url", d.URL),
		zap.Error(err.Err))
}

// mergeURL folds a republished URL into its Article. Content is refreshed
// only when the draft carries different text with a later valid timestamp.
func (e *Engine) mergeURL(ctx context.Context, existing *types.Article, d types.Draft, fp types.Fingerprint, now time.Time) (types.Decision, error) {
	dec := types.Decision{Outcome: types.OutcomeMergedURL, ArticleID: existing.ID}
	trusted := e.Trusted(d.PublishedAt, now)

	var u types.ArticleUpdate
	if fp.ContentHash != existing.ContentHash && trusted && d.PublishedAt.After(existing.PublishedAt) {
		u.Body = &d.Body
		u.Summary = &d.Summary
		u.ContentHash = &fp.ContentHash
		u.CollectedAt = &now
		u.ResetEnrichment = true
		if fp.HasEmbedding() {
			u.Embedding = fp.Embedding
		}
		dec.ContentChanged = true
	} else if trusted && !existing.PublishedTrusted {
		u.PublishedAt = &d.PublishedAt
		u.PublishedTrusted = &trusted
	}
	addSeen(&u, existing, d.SourceID)
	return e.applyMerge(ctx, dec, existing, u)
}

// mergeContent handles a cross-source republish of identical text and keeps
// the earliest valid publishedAt.
func (e *Engine) mergeContent(ctx context.Context, existing *types.Article, d types.Draft, now time.Time) (types.Decision, error) {
	dec := types.Decision{Outcome: types.OutcomeMergedContent, ArticleID: existing.ID}
	var u types.ArticleUpdate
	if e.precedes(d, now, existing) {
		trusted := true
		u.PublishedAt = &d.PublishedAt
		u.PublishedTrusted = &trusted
	}
	addSeen(&u, existing, d.SourceID)
	return e.applyMerge(ctx, dec, existing, u)
}

// mergeSemantic folds a near-duplicate into the best match. A draft from a
// higher-priority source with a longer body replaces body and summary; with
// equal body length the higher priority alone decides.
func (e *Engine) mergeSemantic(ctx context.Context, m storage.Match, d types.Draft, fp types.Fingerprint, now time.Time) (types.Decision, error) {
	existing := m.Article
	dec := types.Decision{Outcome: types.OutcomeMergedSemantic, ArticleID: existing.ID, Similarity: m.Similarity}

	var u types.ArticleUpdate
	if e.precedes(d, now, existing) {
		trusted := true
		u.PublishedAt = &d.PublishedAt
		u.PublishedTrusted = &trusted
	}
	if e.shouldPromote(d, existing) {
		u.Body = &d.Body
		u.Summary = &d.Summary
		u.ContentHash = &fp.ContentHash
		u.ResetEnrichment = true
		if fp.HasEmbedding() {
			u.Embedding = fp.Embedding
		}
		dec.ContentChanged = true
	}
	addSeen(&u, existing, d.SourceID)
	return e.applyMerge(ctx, dec, existing, u)
}

func (e *Engine) applyMerge(ctx context.Context, dec types.Decision, existing *types.Article, u types.ArticleUpdate) (types.Decision, error) {
	if u.Empty() {
		return dec, nil
	}
	updated, err := e.store.Update(ctx, existing.ID, u)
	if err != nil {
		return types.Decision{}, fmt.Errorf("failed to merge into article %s: %w", existing.ID, err)
	}
	if dec.ContentChanged {
		dec.Article = updated
	}
	return dec, nil
}

func addSeen(u *types.ArticleUpdate, a *types.Article, source string) {
	if a.SourceID == source {
		return
	}
	for _, s := range a.AlsoSeenOn {
		if s == source {
			return
		}
	}
	u.AddAlsoSeenOn = append(u.AddAlsoSeenOn, source)
}

// precedes reports whether the draft should become the canonical timestamp
// holder over existing: earliest valid publishedAt, then source priority,
// then ingestion order (existing wins). Untrusted drafts never precede.
func (e *Engine) precedes(d types.Draft, now time.Time, existing *types.Article) bool {
	if !e.Trusted(d.PublishedAt, now) {
		return false
	}
	if !existing.PublishedTrusted {
		return true
	}
	if d.PublishedAt.Before(existing.PublishedAt) {
		return true
	}
	if d.PublishedAt.Equal(existing.PublishedAt) {
		return e.priority[d.SourceID] > e.priority[existing.SourceID]
	}
	return false
}

func (e *Engine) shouldPromote(d types.Draft, existing *types.Article) bool {
	if e.priority[d.SourceID] <= e.priority[existing.SourceID] {
		return false
	}
	dl, el := len([]rune(d.Body)), len([]rune(existing.Body))
	if dl > el {
		return true
	}
	return dl == el && dl > 0 && d.Body != existing.Body
}
