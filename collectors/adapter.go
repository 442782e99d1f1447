// Package collectors implements the source adapters. Each adapter fetches
// raw items from one upstream and normalizes them into drafts; adapters never
// touch storage.
package collectors

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"finpulse/types"
)

// Adapter is one news source.
type Adapter interface {
	ID() string
	Fetch(ctx context.Context) ([]types.RawItem, error)
	Normalize(item types.RawItem) (types.Draft, error)
}

// Source kinds understood by the default registry.
const (
	KindRSS        = "rss"
	KindJin10      = "jin10"
	KindWallstreet = "wallstreet"
	KindGNews      = "gnews"
)

// SourceConfig describes one configured source.
type SourceConfig struct {
	ID            string `yaml:"id"`
	Kind          string `yaml:"kind"`
	URL           string `yaml:"url"`
	Enabled       bool   `yaml:"enabled"`
	Priority      int    `yaml:"priority"`
	MaxItems      int    `yaml:"max_items"`
	RequiresProxy bool   `yaml:"requires_proxy"`
	Category      string `yaml:"category"`
	// ExtractContent fetches article pages for items without a body.
	ExtractContent bool `yaml:"extract_content"`
}

// Env carries the shared resources adapters are built with.
type Env struct {
	// HTTPClient is used for direct egress.
	HTTPClient *http.Client
	// ProxyClient is nil when no proxy is configured.
	ProxyClient *http.Client
	Now         func() time.Time
	Logger      *zap.Logger
}

func (e Env) withDefaults() Env {
	if e.HTTPClient == nil {
		e.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	return e
}

// client returns the HTTP client a source must use.
func (e Env) client(cfg SourceConfig) *http.Client {
	if cfg.RequiresProxy {
		return e.ProxyClient
	}
	return e.HTTPClient
}

// Factory builds an adapter for a source of one kind.
type Factory func(cfg SourceConfig, env Env) (Adapter, error)

// Skipped is a source left out at startup, with the reason.
type Skipped struct {
	SourceID string
	Reason   string
}

// Registry maps source kinds to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(KindRSS, NewRSSAdapter)
	r.Register(KindJin10, NewJin10Adapter)
	r.Register(KindWallstreet, NewWallstreetAdapter)
	r.Register(KindGNews, NewGNewsAdapter)
	return r
}

func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Kinds lists registered kinds, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build instantiates every enabled source. A source needing a proxy when
// none is configured, or one with an unknown kind, is skipped, not fatal.
func (r *Registry) Build(sources []SourceConfig, env Env) ([]Adapter, []Skipped) {
	env = env.withDefaults()
	var adapters []Adapter
	var skipped []Skipped
	seen := make(map[string]bool)
	for _, src := range sources {
		switch {
		case !src.Enabled:
			skipped = append(skipped, Skipped{src.ID, "disabled"})
			continue
		case seen[src.ID]:
			skipped = append(skipped, Skipped{src.ID, "duplicate source id"})
			continue
		case src.RequiresProxy && env.ProxyClient == nil:
			skipped = append(skipped, Skipped{src.ID, "requires proxy but none is configured"})
			continue
		}
		f, ok := r.factories[src.Kind]
		if !ok {
			skipped = append(skipped, Skipped{src.ID, fmt.Sprintf("unknown kind %q", src.Kind)})
			continue
		}
		a, err := f(src, env)
		if err != nil {
			skipped = append(skipped, Skipped{src.ID, err.Error()})
			continue
		}
		seen[src.ID] = true
		adapters = append(adapters, a)
	}
	for _, s := range skipped {
		env.Logger.Warn("source disabled at startup", zap.String("source", s.SourceID), zap.String("reason", s.Reason))
	}
	return adapters, skipped
}

// DefaultSources is the built-in source table.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{ID: "jin10", Kind: KindJin10, Enabled: true, Priority: 80, Category: "快讯"},
		{ID: "wallstreet", Kind: KindWallstreet, Enabled: true, Priority: 75, Category: "快讯"},
		{ID: "36kr", Kind: KindRSS, URL: "https://36kr.com/feed", Enabled: true, Priority: 50, MaxItems: 50},
		{ID: "wsj_business", Kind: KindRSS, URL: "https://feeds.content.dowjones.io/public/rss/WSJcomUSBusiness", Enabled: true, Priority: 70, MaxItems: 50},
		{ID: "wsj_markets", Kind: KindRSS, URL: "https://feeds.content.dowjones.io/public/rss/RSSMarketsMain", Enabled: true, Priority: 70, MaxItems: 50},
		{ID: "wsj_social", Kind: KindRSS, URL: "https://feeds.content.dowjones.io/public/rss/socialeconomyfeed", Enabled: true, Priority: 60, MaxItems: 50},
		{ID: "marketwatch", Kind: KindRSS, URL: "https://www.marketwatch.com/rss/topstories", Enabled: true, Priority: 65, MaxItems: 50},
		{ID: "zerohedge", Kind: KindRSS, URL: "https://feeds.feedburner.com/zerohedge/feed", Enabled: true, Priority: 30, MaxItems: 50},
		{ID: "etf_trends", Kind: KindRSS, URL: "https://www.etftrends.com/feed/", Enabled: true, Priority: 30, MaxItems: 50},
		{ID: "bbc_business", Kind: KindRSS, URL: "http://feeds.bbci.co.uk/news/business/rss.xml", Enabled: true, Priority: 60, MaxItems: 50},
		{ID: "gnews", Kind: KindGNews, Enabled: true, Priority: 40, MaxItems: 30, RequiresProxy: true},
	}
}

// Priorities extracts the per-source priority ranking.
func Priorities(sources []SourceConfig) map[string]int {
	out := make(map[string]int, len(sources))
	for _, s := range sources {
		out[s.ID] = s.Priority
	}
	return out
}

func normError(source, format string, args ...any) error {
	return &types.NormalizationError{Source: source, Reason: fmt.Sprintf(format, args...)}
}
