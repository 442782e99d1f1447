package enrichment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"finpulse/types"
)

// Enricher applies a Scorer to accepted articles. A nil scorer means the
// capability is absent and every call reports ErrEnrichmentUnavailable.
type Enricher struct {
	scorer    Scorer
	threshold float64
	timeout   time.Duration
	backoff   time.Duration
	logger    *zap.Logger
}

type Config struct {
	// QualityThreshold marks articles scoring below it as filtered.
	QualityThreshold float64
	// Timeout bounds each scorer call.
	Timeout time.Duration
	// RetryBackoff is the pause before the single retry.
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

func NewEnricher(scorer Scorer, cfg Config) *Enricher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Enricher{
		scorer:    scorer,
		threshold: cfg.QualityThreshold,
		timeout:   cfg.Timeout,
		backoff:   cfg.RetryBackoff,
		logger:    cfg.Logger,
	}
}

// Enabled reports whether a scorer is configured.
func (e *Enricher) Enabled() bool {
	return e != nil && e.scorer != nil
}

// Enrich scores a. Transient failures are retried once; rejections are not.
// Any failure is reported as ErrEnrichmentUnavailable wrapping the cause.
func (e *Enricher) Enrich(ctx context.Context, a *types.Article) (types.Enrichment, error) {
	if !e.Enabled() {
		return types.Enrichment{}, types.ErrEnrichmentUnavailable
	}

	s, err := e.call(ctx, a)
	if err != nil && types.IsTransient(err) {
		e.logger.Debug("enrichment transient failure, retrying once",
			zap.String("article_id", a.ID), zap.Error(err))
		if e.backoff > 0 {
			select {
			case <-ctx.Done():
				return types.Enrichment{}, fmt.Errorf("%w: %v", types.ErrEnrichmentUnavailable, ctx.Err())
			case <-time.After(e.backoff):
			}
		}
		s, err = e.call(ctx, a)
	}
	if err != nil {
		if errors.Is(err, types.ErrEnrichmentUnavailable) {
			return types.Enrichment{}, err
		}
		return types.Enrichment{}, fmt.Errorf("%w: %w", types.ErrEnrichmentUnavailable, err)
	}
	return e.verdict(s), nil
}

func (e *Enricher) call(ctx context.Context, a *types.Article) (Score, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	s, err := e.scorer.Score(ctx, a)
	if err != nil && ctx.Err() == context.DeadlineExceeded && !types.IsTransient(err) {
		err = &types.EnrichmentTransientError{Err: err}
	}
	return s, err
}

func (e *Enricher) verdict(s Score) types.Enrichment {
	score := s.QualityScore
	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(1, score))
	return types.Enrichment{
		Score:    score,
		Category: normalizeCategory(s.Category),
		Keywords: cleanKeywords(s.Keywords),
		IsSpam:   s.IsSpam,
		Filtered: s.IsSpam || score < e.threshold,
	}
}

func normalizeCategory(c string) string {
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryOther
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
		if len(out) == 10 {
			break
		}
	}
	return out
}
