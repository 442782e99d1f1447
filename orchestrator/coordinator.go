// Package orchestrator runs collection cycles: it fans out over the source
// adapters and drives every draft through fingerprinting, the dedup decision,
// enrichment, persistence and publication.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finpulse/collectors"
	"finpulse/deduplication"
	"finpulse/enrichment"
	"finpulse/events"
	"finpulse/fingerprint"
	"finpulse/storage"
	"finpulse/types"
)

const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"

	DefaultInterval         = time.Hour
	DefaultCollectorTimeout = 30 * time.Second
	DefaultRetentionDays    = 30
	DefaultCleanupSchedule  = "0 3 * * *"
)

// Config holds coordinator tunables.
type Config struct {
	Interval         time.Duration
	CollectorTimeout time.Duration
	RetentionDays    int
	// CleanupSchedule is a cron expression for the retention job.
	CleanupSchedule string
	RunOnStart      bool
	MaxReports      int
	Now             func() time.Time
	Logger          *zap.Logger
}

// Deps are the pipeline collaborators. Pool and Publisher may be nil.
type Deps struct {
	Adapters    []collectors.Adapter
	Fingerprint *fingerprint.Engine
	Dedup       *deduplication.Engine
	Store       storage.Store
	Pool        *enrichment.Pool
	Publisher   *events.Publisher
}

// Coordinator schedules and executes collection runs.
type Coordinator struct {
	adapters map[string]collectors.Adapter
	order    []string

	fp     *fingerprint.Engine
	dedup  *deduplication.Engine
	store  storage.Store
	pool   *enrichment.Pool
	pub    *events.Publisher
	state  *Manager
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

func New(deps Deps, cfg Config) (*Coordinator, error) {
	if deps.Fingerprint == nil || deps.Dedup == nil || deps.Store == nil {
		return nil, errors.New("fingerprint engine, dedup engine and store are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CollectorTimeout <= 0 {
		cfg.CollectorTimeout = DefaultCollectorTimeout
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = DefaultCleanupSchedule
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Coordinator{
		adapters: make(map[string]collectors.Adapter, len(deps.Adapters)),
		fp:       deps.Fingerprint,
		dedup:    deps.Dedup,
		store:    deps.Store,
		pool:     deps.Pool,
		pub:      deps.Publisher,
		state:    NewManager(cfg.MaxReports),
		cfg:      cfg,
		logger:   cfg.Logger,
	}
	for _, a := range deps.Adapters {
		if _, dup := c.adapters[a.ID()]; dup {
			return nil, fmt.Errorf("duplicate adapter id %q", a.ID())
		}
		c.adapters[a.ID()] = a
		c.order = append(c.order, a.ID())
	}
	return c, nil
}

// Sources lists the adapter ids in registration order.
func (c *Coordinator) Sources() []string {
	return append([]string(nil), c.order...)
}

// Reports returns the kept run reports, newest first.
func (c *Coordinator) Reports() []types.RunReport { return c.state.Reports() }

// Status returns the current coordinator state.
func (c *Coordinator) Status() Status { return c.state.Status() }

// RunCollection runs one on-demand cycle over every source, or only sourceID
// when non-empty. It always returns a report.
func (c *Coordinator) RunCollection(ctx context.Context, sourceID string) types.RunReport {
	return c.run(ctx, sourceID, TriggerManual)
}

func (c *Coordinator) run(ctx context.Context, sourceID, trigger string) types.RunReport {
	report := types.RunReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: c.cfg.Now(),
		Sources:   []types.SourceStats{},
		Errors:    []string{},
	}

	targets := c.order
	if sourceID != "" {
		if _, ok := c.adapters[sourceID]; !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("unknown source %q", sourceID))
			report.FinishedAt = c.cfg.Now()
			c.state.AddReport(report)
			return report
		}
		targets = []string{sourceID}
	}

	report.Sources = make([]types.SourceStats, len(targets))
	errs := make([][]string, len(targets))

	var g errgroup.Group
	for i, id := range targets {
		report.Sources[i] = types.SourceStats{SourceID: id, State: types.SourcePending}
		if !c.state.TryBegin(id) {
			report.Sources[i].State = types.SourceSkipped
			c.logger.Info("source run still in flight, trigger coalesced", zap.String("source", id))
			continue
		}
		g.Go(func() error {
			start := time.Now()
			errs[i] = c.runSource(ctx, c.adapters[id], &report.Sources[i])
			report.Sources[i].Duration = time.Since(start).Round(time.Millisecond).String()
			c.state.End(id, report.Sources[i].State)
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range errs {
		report.Errors = append(report.Errors, e...)
	}
	report.FinishedAt = c.cfg.Now()
	c.state.AddReport(report)

	t := report.Totals()
	c.logger.Info("collection run complete",
		zap.String("run_id", report.ID),
		zap.String("trigger", trigger),
		zap.Int("sources", len(report.Sources)),
		zap.Int("fetched", t.Fetched),
		zap.Int("accepted", t.Accepted),
		zap.Int("duplicates", t.Duplicates),
		zap.Int("errors", t.Errors))
	return report
}

// pendingEnrichment tracks an article waiting on the AI pool.
type pendingEnrichment struct {
	result  <-chan enrichment.Result
	article *types.Article
	publish bool
}

// runSource executes one source; it owns stats for the duration of the call
// and returns the error messages for the report.
func (c *Coordinator) runSource(ctx context.Context, a collectors.Adapter, stats *types.SourceStats) []string {
	id := a.ID()
	log := c.logger.With(zap.String("source", id))

	c.state.SetSourceState(id, types.SourceFetching)
	stats.State = types.SourceFetching
	fctx, cancel := context.WithTimeout(ctx, c.cfg.CollectorTimeout)
	items, err := a.Fetch(fctx)
	cancel()
	if err != nil {
		stats.State = types.SourceFailed
		stats.Errors++
		log.Error("source fetch failed", zap.Error(err))
		return []string{fmt.Sprintf("%s: %v", id, err)}
	}

	c.state.SetSourceState(id, types.SourceNormalizing)
	stats.State = types.SourceNormalizing
	stats.Fetched = len(items)

	var msgs []string
	var pending []pendingEnrichment
	checkpoint := c.state.Checkpoint(id)
	newest := checkpoint
	// failed is the earliest publishedAt of a draft that must be retried;
	// the checkpoint stays below it.
	var failed time.Time
	cancelled := false

	for _, item := range items {
		if ctx.Err() != nil {
			msgs = append(msgs, fmt.Sprintf("%s: run cancelled", id))
			cancelled = true
			break
		}
		d, err := a.Normalize(item)
		if err != nil {
			stats.Errors++
			log.Warn("item dropped", zap.Error(err))
			continue
		}
		if !checkpoint.IsZero() && !d.PublishedAt.IsZero() && !d.PublishedAt.After(checkpoint) {
			stats.Unchanged++
			continue
		}

		fp := c.fp.Compute(ctx, d)
		dec, err := c.dedup.Decide(ctx, d, fp)
		if err != nil {
			stats.Errors++
			if !d.PublishedAt.IsZero() && (failed.IsZero() || d.PublishedAt.Before(failed)) {
				failed = d.PublishedAt
			}
			log.Warn("dedup decision failed", zap.String("url", d.URL), zap.Error(err))
			continue
		}
		if now := c.cfg.Now(); c.dedup.Trusted(d.PublishedAt, now) && d.PublishedAt.After(newest) {
			newest = d.PublishedAt
		}

		switch {
		case dec.Outcome == types.OutcomeAccepted:
			stats.Accepted++
			pending = append(pending, c.submit(ctx, dec.Article, true))
		case dec.ContentChanged && dec.Article != nil:
			stats.Duplicates++
			pending = append(pending, c.submit(ctx, dec.Article, false))
		default:
			stats.Duplicates++
			log.Debug("draft merged",
				zap.String("outcome", string(dec.Outcome)),
				zap.String("article_id", dec.ArticleID),
				zap.Float64("similarity", dec.Similarity))
		}
	}

	// enrichment is allowed to finish even when ctx is done
	for _, p := range pending {
		c.finish(context.WithoutCancel(ctx), p, log)
	}

	if !failed.IsZero() && !newest.Before(failed) {
		newest = failed.Add(-time.Nanosecond)
	}
	if !cancelled {
		c.state.Advance(id, newest)
	}
	stats.State = types.SourceDone
	return msgs
}

// submit hands a to the AI pool when one is configured.
func (c *Coordinator) submit(ctx context.Context, a *types.Article, publish bool) pendingEnrichment {
	p := pendingEnrichment{article: a, publish: publish}
	if c.pool != nil {
		p.result = c.pool.Submit(ctx, a)
	}
	return p
}

// finish applies the enrichment outcome, then publishes accepted articles
// whether or not enrichment succeeded.
func (c *Coordinator) finish(ctx context.Context, p pendingEnrichment, log *zap.Logger) {
	art := p.article
	if p.result != nil {
		res := <-p.result
		if res.Err != nil {
			log.Warn("enrichment unavailable, article proceeds unscored",
				zap.String("article_id", art.ID), zap.Error(res.Err))
		} else {
			enr := res.Enrichment
			updated, err := c.store.Update(ctx, art.ID, types.ArticleUpdate{Enrichment: &enr})
			if err != nil {
				log.Warn("failed to persist enrichment", zap.String("article_id", art.ID), zap.Error(err))
			} else {
				art = updated
			}
		}
	}
	if p.publish && c.pub != nil {
		c.pub.Publish(art)
	}
}

// RunCollectionAsync starts RunCollection in the background. The run is
// detached from ctx's cancellation but tracked, so Stop waits for it.
func (c *Coordinator) RunCollectionAsync(ctx context.Context, sourceID string) {
	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		c.run(context.WithoutCancel(ctx), sourceID, TriggerManual)
	}()
}

// Cleanup deletes articles past the retention window, starred ones excepted.
func (c *Coordinator) Cleanup(ctx context.Context) (int64, error) {
	cutoff := c.cfg.Now().AddDate(0, 0, -c.cfg.RetentionDays)
	n, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old articles: %w", err)
	}
	c.logger.Info("retention cleanup complete", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// Start schedules timer runs every Interval and the daily cleanup.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return errors.New("coordinator already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	sched := cron.New()
	if _, err := sched.AddFunc("@every "+c.cfg.Interval.String(), func() {
		c.runs.Add(1)
		defer c.runs.Done()
		c.background(ctx)
	}); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule collection: %w", err)
	}
	if _, err := sched.AddFunc(c.cfg.CleanupSchedule, func() {
		if _, err := c.Cleanup(ctx); err != nil {
			c.logger.Error("retention cleanup failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	c.cron = sched
	c.cancel = cancel
	sched.Start()
	c.logger.Info("scheduler started",
		zap.Duration("interval", c.cfg.Interval),
		zap.String("cleanup", c.cfg.CleanupSchedule),
		zap.Strings("sources", c.order))

	if c.cfg.RunOnStart {
		c.runs.Add(1)
		go func() {
			defer c.runs.Done()
			c.background(ctx)
		}()
	}
	return nil
}

func (c *Coordinator) background(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.run(ctx, "", TriggerTimer)
}

// Stop halts the scheduler, cancels in-flight fetches and waits for running
// cycles to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	sched, cancel := c.cron, c.cancel
	c.cron, c.cancel = nil, nil
	c.mu.Unlock()
	if sched == nil {
		c.runs.Wait()
		return
	}
	cancel()
	<-sched.Stop().Done()
	c.runs.Wait()
	if c.pool != nil {
		c.pool.Wait()
	}
	c.logger.Info("scheduler stopped")
}
