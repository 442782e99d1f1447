package enrichment

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"finpulse/types"
)

// Result is delivered once per submitted article.
type Result struct {
	Article    *types.Article
	Enrichment types.Enrichment
	Err        error
}

// Pool runs enrichments with a global concurrency cap. Submissions beyond the
// cap wait for a slot; nothing is dropped.
type Pool struct {
	enricher *Enricher
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

func NewPool(e *Enricher, maxConcurrency int) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Pool{enricher: e, sem: semaphore.NewWeighted(int64(maxConcurrency))}
}

// Submit schedules a. The caller's cancellation is not propagated: an article
// past the dedup decision always finishes enrichment.
func (p *Pool) Submit(ctx context.Context, a *types.Article) <-chan Result {
	out := make(chan Result, 1)
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- Result{Article: a, Err: err}
			return
		}
		defer p.sem.Release(1)
		enr, err := p.enricher.Enrich(ctx, a)
		out <- Result{Article: a, Enrichment: enr, Err: err}
	}()
	return out
}

// Wait blocks until every submitted article has a result.
func (p *Pool) Wait() {
	p.wg.Wait()
}
