package collectors

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpulse/types"
)

var testNow = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func testEnv() Env {
	return Env{HTTPClient: &http.Client{Timeout: 5 * time.Second}, Now: func() time.Time { return testNow }}
}

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Markets</title>
  <item>
    <title>Fed holds rates</title>
    <link>https://example.com/fed?utm_source=rss</link>
    <description>&lt;p&gt;The &lt;b&gt;Fed&lt;/b&gt; held rates.&lt;/p&gt;</description>
    <pubDate>Wed, 01 Jan 2025 12:00:00 +0000</pubDate>
    <category>Policy</category>
  </item>
  <item>
    <title></title>
    <link>https://example.com/untitled</link>
  </item>
  <item>
    <title>Stocks rally</title>
    <link>https://example.com/rally</link>
    <description>Stocks rallied.</description>
  </item>
</channel>
</rss>`

func TestRSSAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, sampleFeed)
	}))
	defer srv.Close()

	a, err := NewRSSAdapter(SourceConfig{ID: "markets", Kind: KindRSS, URL: srv.URL, Enabled: true, Category: "市场"}, testEnv())
	require.NoError(t, err)
	assert.Equal(t, "markets", a.ID())

	raw, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, raw, 3)

	d, err := a.Normalize(raw[0])
	require.NoError(t, err)
	assert.Equal(t, "markets", d.SourceID)
	assert.Equal(t, "Fed holds rates", d.Title)
	assert.Equal(t, "https://example.com/fed?utm_source=rss", d.URL)
	assert.Equal(t, "The Fed held rates.", d.Summary)
	assert.Equal(t, "Policy", d.SourceCategory)
	assert.True(t, d.PublishedAt.Equal(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)))

	_, err = a.Normalize(raw[1])
	var nerr *types.NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "markets", nerr.Source)

	d, err = a.Normalize(raw[2])
	require.NoError(t, err)
	assert.True(t, d.PublishedAt.IsZero())
	assert.Equal(t, "市场", d.SourceCategory)
}

func TestRSSAdapterMaxItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleFeed)
	}))
	defer srv.Close()

	a, err := NewRSSAdapter(SourceConfig{ID: "m", URL: srv.URL, MaxItems: 1}, testEnv())
	require.NoError(t, err)
	raw, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, raw, 1)
}

func TestRSSAdapterFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a, err := NewRSSAdapter(SourceConfig{ID: "down", URL: srv.URL}, testEnv())
	require.NoError(t, err)
	_, err = a.Fetch(context.Background())
	var ferr *types.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "down", ferr.Source)
}

func TestRSSAdapterRequiresURL(t *testing.T) {
	_, err := NewRSSAdapter(SourceConfig{ID: "nourl"}, testEnv())
	assert.Error(t, err)
}

func TestJin10Adapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bVBF4FyRTn5NJF5n", r.Header.Get("x-app-id"))
		fmt.Fprint(w, `{"status":200,"data":[
			{"id":"20250102080000001","time":"2025-01-02 08:00:00","data":{"content":"<b>央行</b>宣布降准<br/>0.5个百分点"}},
			{"id":"20250102080000002","time":"2025-01-02 08:01:00","data":{"content":""}}
		]}`)
	}))
	defer srv.Close()

	a, err := NewJin10Adapter(SourceConfig{ID: "jin10", URL: srv.URL}, testEnv())
	require.NoError(t, err)
	raw, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, raw, 2)

	d, err := a.Normalize(raw[0])
	require.NoError(t, err)
	assert.Equal(t, "央行宣布降准 0.5个百分点", d.Title)
	assert.Equal(t, d.Title, d.Body)
	assert.Equal(t, "https://flash.jin10.com/detail/20250102080000001", d.URL)
	assert.Equal(t, "快讯", d.SourceCategory)
	assert.True(t, d.PublishedAt.Equal(testNow), "got %s", d.PublishedAt)

	_, err = a.Normalize(raw[1])
	assert.Error(t, err)
}

func TestJin10LongContentTruncated(t *testing.T) {
	a, err := NewJin10Adapter(SourceConfig{ID: "jin10"}, testEnv())
	require.NoError(t, err)
	long := make([]rune, 300)
	for i := range long {
		long[i] = '涨'
	}
	it := jin10Item{ID: "1", Time: "2025-01-02 08:00:00"}
	it.Data.Content = string(long)
	d, err := a.Normalize(types.RawItem{SourceID: "jin10", Payload: it})
	require.NoError(t, err)
	assert.Equal(t, maxFlashTitle+3, len([]rune(d.Title)))
	assert.Equal(t, string(long), d.Body)
}

func TestWallstreetAdapter(t *testing.T) {
	ts := testNow.Add(-time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":20000,"data":{"items":[
			{"id":101,"content_text":"美股三大指数收涨","display_time":%d,"uri":"livenews/101"},
			{"id":102,"title":"原油走低","display_time":%d},
			{"id":103,"content_text":"","title":""}
		]}}`, ts, ts)
	}))
	defer srv.Close()

	a, err := NewWallstreetAdapter(SourceConfig{ID: "wallstreet", URL: srv.URL}, testEnv())
	require.NoError(t, err)
	raw, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, raw, 3)

	d, err := a.Normalize(raw[0])
	require.NoError(t, err)
	assert.Equal(t, "美股三大指数收涨", d.Title)
	assert.Equal(t, "https://wallstreetcn.com/livenews/101", d.URL)
	assert.True(t, d.PublishedAt.Equal(time.Unix(ts, 0)))

	d, err = a.Normalize(raw[1])
	require.NoError(t, err)
	assert.Equal(t, "原油走低", d.Title)
	assert.Equal(t, "https://wallstreetcn.com/livenews/102", d.URL)

	_, err = a.Normalize(raw[2])
	assert.Error(t, err)
}

func TestFixTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"zero stays zero", time.Time{}, time.Time{}},
		{"past kept", testNow.Add(-48 * time.Hour), testNow.Add(-48 * time.Hour)},
		{"near future kept", testNow.Add(3 * time.Hour), testNow.Add(3 * time.Hour)},
		{"year typo corrected", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"far future dropped", testNow.AddDate(3, 0, 0), time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FixTimestamp(tt.in, testNow)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestProxyResolve(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProxyConfig
		want string
	}{
		{"none", ProxyConfig{}, ""},
		{"https preferred", ProxyConfig{HTTPSProxy: "http://a:1", HTTPProxy: "http://b:2"}, "http://a:1"},
		{"http fallback", ProxyConfig{HTTPProxy: "b:2"}, "http://b:2"},
		{"localhost rewritten", ProxyConfig{HTTPProxy: "http://127.0.0.1:7890", RewriteLocalhost: true}, "http://host.docker.internal:7890"},
		{"localhost kept", ProxyConfig{HTTPProxy: "http://localhost:7890"}, "http://localhost:7890"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.cfg.Resolve()
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, u)
				return
			}
			require.NotNil(t, u)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestRegistryBuild(t *testing.T) {
	sources := []SourceConfig{
		{ID: "jin10", Kind: KindJin10, Enabled: true},
		{ID: "jin10", Kind: KindJin10, Enabled: true},
		{ID: "off", Kind: KindRSS, URL: "http://x", Enabled: false},
		{ID: "gnews", Kind: KindGNews, Enabled: true, RequiresProxy: true},
		{ID: "mystery", Kind: "carrier-pigeon", Enabled: true},
		{ID: "broken", Kind: KindRSS, Enabled: true},
	}
	adapters, skipped := NewRegistry().Build(sources, testEnv())
	require.Len(t, adapters, 1)
	assert.Equal(t, "jin10", adapters[0].ID())

	reasons := map[string]string{}
	for _, s := range skipped {
		reasons[s.SourceID] = s.Reason
	}
	assert.Len(t, skipped, 5)
	assert.Contains(t, reasons["gnews"], "proxy")
	assert.Contains(t, reasons["mystery"], "unknown kind")
	assert.Equal(t, "disabled", reasons["off"])
	assert.Contains(t, reasons["broken"], "no url")
}

func TestRegistryBuildWithProxy(t *testing.T) {
	env := testEnv()
	env.ProxyClient = &http.Client{}
	adapters, skipped := NewRegistry().Build([]SourceConfig{{ID: "gnews", Kind: KindGNews, Enabled: true, RequiresProxy: true}}, env)
	assert.Empty(t, skipped)
	require.Len(t, adapters, 1)
}

func TestRegistryCustomKind(t *testing.T) {
	r := NewRegistry()
	r.Register("static", func(cfg SourceConfig, env Env) (Adapter, error) {
		return nil, errors.New("not today")
	})
	assert.Contains(t, r.Kinds(), "static")
	adapters, skipped := r.Build([]SourceConfig{{ID: "s", Kind: "static", Enabled: true}}, testEnv())
	assert.Empty(t, adapters)
	require.Len(t, skipped, 1)
	assert.Equal(t, "not today", skipped[0].Reason)
}

func TestDefaultSourcesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range DefaultSources() {
		assert.False(t, seen[s.ID], "duplicate %s", s.ID)
		seen[s.ID] = true
	}
	p := Priorities(DefaultSources())
	assert.Greater(t, p["jin10"], p["zerohedge"])
}

func TestDecodeGoogleNewsURL(t *testing.T) {
	payload := append([]byte{0x08, 0x13, 0x22, 0x19}, []byte("https://example.com/story/1")...)
	payload = append(payload, 0xd2, 0x01, 0x00)
	link := "https://news.google.com/rss/articles/" + base64.RawURLEncoding.EncodeToString(payload) + "?oc=5"

	assert.Equal(t, "https://example.com/story/1", DecodeGoogleNewsURL(link))
	assert.Equal(t, "https://example.com/x", DecodeGoogleNewsURL("https://example.com/x"))
	assert.Equal(t, "https://news.google.com/rss/articles/!!!", DecodeGoogleNewsURL("https://news.google.com/rss/articles/!!!"))
}

func TestGNewsAdapter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `<rss version="2.0"><channel><item><title>Headline %d - Reuters</title><link>https://example.com/%d</link></item></channel></rss>`, n, n)
	}))
	defer srv.Close()

	env := testEnv()
	env.ProxyClient = srv.Client()
	a, err := NewGNewsAdapter(SourceConfig{ID: "gnews", URL: srv.URL, RequiresProxy: true}, env)
	require.NoError(t, err)

	raw, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, raw, len(defaultGNewsQueries())-1)

	d, err := a.Normalize(raw[0])
	require.NoError(t, err)
	assert.Equal(t, "Headline 1", d.Title)
	assert.Equal(t, "财经-BUSINESS", d.SourceCategory)
}

func TestGNewsAllFeedsFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	env := testEnv()
	env.ProxyClient = srv.Client()
	a, err := NewGNewsAdapter(SourceConfig{ID: "gnews", URL: srv.URL, RequiresProxy: true}, env)
	require.NoError(t, err)
	_, err = a.Fetch(context.Background())
	var ferr *types.FetchError
	assert.ErrorAs(t, err, &ferr)
}

func TestExtractorFillsMissingBodies(t *testing.T) {
	var calls atomic.Int32
	e := NewExtractor(nil, 2, nil)
	e.extract = func(_ context.Context, pageURL string) (string, error) {
		calls.Add(1)
		if pageURL == "https://example.com/fail" {
			return "", errors.New("boom")
		}
		return "  full text of " + pageURL + "  ", nil
	}

	items := []*feedItem{
		{item: &gofeed.Item{Title: "a", Link: "https://example.com/a"}},
		{item: &gofeed.Item{Title: "b", Link: "https://example.com/b", Content: "already here"}},
		{item: &gofeed.Item{Title: "c", Link: "https://example.com/fail"}},
	}
	e.FillBodies(context.Background(), items)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "full text of https://example.com/a", items[0].extracted)
	assert.Empty(t, items[1].extracted)
	assert.Empty(t, items[2].extracted)

	d, err := normalizeFeedItem("s", types.RawItem{Payload: items[0]}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "full text of https://example.com/a", d.Body)
	assert.Equal(t, d.Body, d.Summary)
}

// countingTransport records requests before handing them to the default
// transport, standing in for a proxy-configured client.
type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestExtractorUsesSourceClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><title>Fed</title></head><body><article>
			<h1>Fed holds rates</h1>
			<p>The Federal Reserve held interest rates steady on Wednesday, citing persistent inflation and a resilient labor market.</p>
			<p>Officials signalled that cuts remain possible later in the year if price pressures continue to ease.</p>
			<p>Markets had largely priced in the decision, and Treasury yields moved little after the statement was released, while equities extended modest gains into the close of trading.</p>
			<p>Analysts expect the committee to revisit its outlook at the next meeting, when updated projections for growth, unemployment and inflation are due to be published.</p>
		</article></body></html>`)
	}))
	defer srv.Close()

	tr := &countingTransport{}
	e := NewExtractor(&http.Client{Transport: tr}, 1, nil)
	items := []*feedItem{
		{item: &gofeed.Item{Title: "a", Link: srv.URL + "/fed"}},
		{item: &gofeed.Item{Title: "b", Link: srv.URL + "/missing"}},
	}
	e.FillBodies(context.Background(), items)

	assert.Equal(t, int32(2), tr.calls.Load())
	assert.Contains(t, items[0].extracted, "Federal Reserve held interest rates")
	assert.Empty(t, items[1].extracted)
}

func TestExtractorHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := NewExtractor(srv.Client(), 1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.extract(ctx, srv.URL+"/slow")
	assert.Error(t, err)
}
