package collectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"finpulse/fingerprint"
	"finpulse/types"
)

const (
	// DefaultMaxItems caps items taken from one feed per run.
	DefaultMaxItems = 50
	maxSummaryRunes = 1000
	feedUserAgent   = "Mozilla/5.0 (compatible; finpulse/1.0; +https://github.com/finpulse)"
)

// feedItem is the raw payload of feed-based adapters.
type feedItem struct {
	item      *gofeed.Item
	category  string
	extracted string
}

// RSSAdapter reads one RSS or Atom feed.
type RSSAdapter struct {
	cfg       SourceConfig
	parser    *gofeed.Parser
	extractor *Extractor
	now       func() time.Time
	logger    *zap.Logger
}

// NewRSSAdapter is the factory for KindRSS.
func NewRSSAdapter(cfg SourceConfig, env Env) (Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rss source %s has no url", cfg.ID)
	}
	env = env.withDefaults()
	client := env.client(cfg)
	a := &RSSAdapter{
		cfg:    cfg,
		parser: newFeedParser(client),
		now:    env.Now,
		logger: env.Logger.With(zap.String("source", cfg.ID)),
	}
	if cfg.ExtractContent {
		a.extractor = NewExtractor(client, DefaultExtractWorkers, a.logger)
	}
	return a, nil
}

func newFeedParser(client *http.Client) *gofeed.Parser {
	p := gofeed.NewParser()
	p.UserAgent = feedUserAgent
	p.Client = client
	return p
}

func (a *RSSAdapter) ID() string { return a.cfg.ID }

// Fetch retrieves the feed and returns up to MaxItems entries.
func (a *RSSAdapter) Fetch(ctx context.Context) ([]types.RawItem, error) {
	feed, err := a.parser.ParseURLWithContext(a.cfg.URL, ctx)
	if err != nil {
		return nil, &types.FetchError{Source: a.cfg.ID, Err: err}
	}
	items := takeItems(feed.Items, a.cfg.MaxItems)
	payloads := make([]*feedItem, len(items))
	for i, it := range items {
		payloads[i] = &feedItem{item: it, category: a.cfg.Category}
	}
	if a.extractor != nil {
		a.extractor.FillBodies(ctx, payloads)
	}
	out := make([]types.RawItem, len(payloads))
	for i, p := range payloads {
		out[i] = types.RawItem{SourceID: a.cfg.ID, Payload: p}
	}
	a.logger.Debug("feed fetched", zap.Int("items", len(out)), zap.Int("available", len(feed.Items)))
	return out, nil
}

func (a *RSSAdapter) Normalize(raw types.RawItem) (types.Draft, error) {
	return normalizeFeedItem(a.cfg.ID, raw, a.now())
}

func takeItems(items []*gofeed.Item, max int) []*gofeed.Item {
	if max <= 0 {
		max = DefaultMaxItems
	}
	if len(items) > max {
		return items[:max]
	}
	return items
}

func normalizeFeedItem(source string, raw types.RawItem, now time.Time) (types.Draft, error) {
	p, ok := raw.Payload.(*feedItem)
	if !ok || p == nil || p.item == nil {
		return types.Draft{}, normError(source, "unexpected payload %T", raw.Payload)
	}
	item := p.item

	title := cleanText(item.Title)
	if title == "" {
		return types.Draft{}, normError(source, "empty title")
	}
	link := itemLink(item)
	if link == "" {
		return types.Draft{}, normError(source, "item %q has no link", title)
	}

	body := cleanText(item.Content)
	if body == "" {
		body = strings.TrimSpace(p.extracted)
	}
	summary := cleanText(item.Description)
	if summary == "" {
		summary = body
	}
	summary = truncate(summary, maxSummaryRunes)

	var published time.Time
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.UTC()
	}

	category := p.category
	if len(item.Categories) > 0 && strings.TrimSpace(item.Categories[0]) != "" {
		category = strings.TrimSpace(item.Categories[0])
	}

	return types.Draft{
		SourceID:       source,
		URL:            link,
		Title:          title,
		Body:           body,
		Summary:        summary,
		PublishedAt:    FixTimestamp(published, now),
		SourceCategory: category,
	}, nil
}

func itemLink(item *gofeed.Item) string {
	if l := strings.TrimSpace(item.Link); l != "" {
		return l
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	if strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://") {
		return item.GUID
	}
	return ""
}

// cleanText strips markup and collapses whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(fingerprint.StripMarkup(s)), " ")
}

// truncate caps s at n runes, appending "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
