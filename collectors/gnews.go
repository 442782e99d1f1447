package collectors

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"finpulse/types"
)

const googleNewsBase = "https://news.google.com"

// gnewsQuery is one Google News feed pulled per run.
type gnewsQuery struct {
	path     string
	params   url.Values
	category string
	limit    int
}

func topicQuery(topic, hl, gl, ceid, category string, limit int) gnewsQuery {
	return gnewsQuery{
		path:     "/rss/headlines/section/topic/" + topic,
		params:   url.Values{"hl": {hl}, "gl": {gl}, "ceid": {ceid}},
		category: category,
		limit:    limit,
	}
}

func searchQuery(keyword, hl, gl, ceid string, limit int) gnewsQuery {
	return gnewsQuery{
		path:     "/rss/search",
		params:   url.Values{"q": {keyword + " when:1d"}, "hl": {hl}, "gl": {gl}, "ceid": {ceid}},
		category: "搜索-" + keyword,
		limit:    limit,
	}
}

func defaultGNewsQueries() []gnewsQuery {
	q := []gnewsQuery{
		topicQuery("BUSINESS", "zh-CN", "CN", "CN:zh-Hans", "财经-BUSINESS", 15),
		topicQuery("BUSINESS", "en-US", "US", "US:en", "国际财经-BUSINESS", 10),
	}
	for _, kw := range []string{"金融", "财经", "股票", "基金"} {
		q = append(q, searchQuery(kw, "zh-CN", "CN", "CN:zh-Hans", 10))
	}
	return q
}

// GNewsAdapter aggregates several Google News feeds. It only works through
// a proxy in the deployments it targets.
type GNewsAdapter struct {
	cfg     SourceConfig
	base    string
	queries []gnewsQuery
	parser  *gofeed.Parser
	now     func() time.Time
	logger  *zap.Logger
}

// NewGNewsAdapter is the factory for KindGNews. cfg.URL overrides the
// Google News base URL.
func NewGNewsAdapter(cfg SourceConfig, env Env) (Adapter, error) {
	env = env.withDefaults()
	client := env.client(cfg)
	if client == nil {
		return nil, errors.New("no http client for gnews")
	}
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		base = googleNewsBase
	}
	return &GNewsAdapter{
		cfg:     cfg,
		base:    base,
		queries: defaultGNewsQueries(),
		parser:  newFeedParser(client),
		now:     env.Now,
		logger:  env.Logger.With(zap.String("source", cfg.ID)),
	}, nil
}

func (a *GNewsAdapter) ID() string { return a.cfg.ID }

// Fetch pulls every query. One failing feed is logged; all failing is an error.
func (a *GNewsAdapter) Fetch(ctx context.Context) ([]types.RawItem, error) {
	var out []types.RawItem
	var errs []error
	for _, q := range a.queries {
		feedURL := a.base + q.path + "?" + q.params.Encode()
		feed, err := a.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			a.logger.Warn("google news feed failed", zap.Stringer("query", q), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		for _, it := range takeItems(feed.Items, q.limit) {
			out = append(out, types.RawItem{SourceID: a.cfg.ID, Payload: &feedItem{item: it, category: q.category}})
		}
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == len(a.queries) && len(errs) > 0 {
		return nil, &types.FetchError{Source: a.cfg.ID, Err: errors.Join(errs...)}
	}
	if a.cfg.MaxItems > 0 && len(out) > a.cfg.MaxItems {
		out = out[:a.cfg.MaxItems]
	}
	return out, nil
}

func (a *GNewsAdapter) Normalize(raw types.RawItem) (types.Draft, error) {
	d, err := normalizeFeedItem(a.cfg.ID, raw, a.now())
	if err != nil {
		return d, err
	}
	d.URL = DecodeGoogleNewsURL(d.URL)
	d.Title = stripPublisherSuffix(d.Title)
	if d.Title == "" {
		return types.Draft{}, normError(a.cfg.ID, "empty title")
	}
	return d, nil
}

var embeddedURL = regexp.MustCompile(`https?://[\x21-\x7e]+`)

// DecodeGoogleNewsURL recovers the publisher URL embedded in a
// news.google.com article link. Links that cannot be decoded are returned
// unchanged.
func DecodeGoogleNewsURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !strings.HasSuffix(u.Hostname(), "news.google.com") {
		return raw
	}
	const marker = "/articles/"
	i := strings.Index(u.Path, marker)
	if i < 0 {
		return raw
	}
	encoded := u.Path[i+len(marker):]
	if j := strings.IndexByte(encoded, '/'); j >= 0 {
		encoded = encoded[:j]
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return raw
	}
	if m := embeddedURL.Find(decoded); m != nil {
		return string(m)
	}
	return raw
}

// stripPublisherSuffix drops the " - Publisher" tail Google appends to titles.
func stripPublisherSuffix(title string) string {
	if i := strings.LastIndex(title, " - "); i > 0 {
		return strings.TrimSpace(title[:i])
	}
	return title
}

func (q gnewsQuery) String() string {
	return fmt.Sprintf("%s?%s", q.path, q.params.Encode())
}
