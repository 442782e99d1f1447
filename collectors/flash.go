package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"finpulse/types"
)

const (
	jin10Endpoint      = "https://flash-api.jin10.com/get_flash_list?channel=-8200&vip=1"
	wallstreetEndpoint = "https://api-one.wallstcn.com/apiv1/content/lives?channel=global-channel&limit=50"
	jin10DetailURL     = "https://flash.jin10.com/detail/"
	browserUA          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	flashCategory      = "快讯"
	maxFlashTitle      = 200
	maxWallstreetTitle = 500
)

var flashMarkup = strings.NewReplacer("<b>", "", "</b>", "", "<br/>", " ", "<br />", " ", "<br>", " ")

// getJSON performs a GET and decodes a JSON body into out.
func getJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type jin10Item struct {
	ID   string `json:"id"`
	Time string `json:"time"`
	Data struct {
		Content string `json:"content"`
	} `json:"data"`
}

type jin10Response struct {
	Data []jin10Item `json:"data"`
}

// Jin10Adapter reads the jin10.com flash feed.
type Jin10Adapter struct {
	cfg      SourceConfig
	client   *http.Client
	endpoint string
	now      func() time.Time
	logger   *zap.Logger
}

// NewJin10Adapter is the factory for KindJin10. cfg.URL overrides the endpoint.
func NewJin10Adapter(cfg SourceConfig, env Env) (Adapter, error) {
	env = env.withDefaults()
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = jin10Endpoint
	}
	return &Jin10Adapter{
		cfg:      cfg,
		client:   env.client(cfg),
		endpoint: endpoint,
		now:      env.Now,
		logger:   env.Logger.With(zap.String("source", cfg.ID)),
	}, nil
}

func (a *Jin10Adapter) ID() string { return a.cfg.ID }

func (a *Jin10Adapter) Fetch(ctx context.Context) ([]types.RawItem, error) {
	headers := map[string]string{
		"x-app-id":  "bVBF4FyRTn5NJF5n",
		"x-version": "1.0.0",
		"Origin":    "https://www.jin10.com",
		"Referer":   "https://www.jin10.com/",
	}
	var resp jin10Response
	if err := getJSON(ctx, a.client, a.endpoint, headers, &resp); err != nil {
		return nil, &types.FetchError{Source: a.cfg.ID, Err: err}
	}
	items := resp.Data
	if a.cfg.MaxItems > 0 && len(items) > a.cfg.MaxItems {
		items = items[:a.cfg.MaxItems]
	}
	out := make([]types.RawItem, len(items))
	for i := range items {
		out[i] = types.RawItem{SourceID: a.cfg.ID, Payload: items[i]}
	}
	a.logger.Debug("flash list fetched", zap.Int("items", len(out)))
	return out, nil
}

func (a *Jin10Adapter) Normalize(raw types.RawItem) (types.Draft, error) {
	it, ok := raw.Payload.(jin10Item)
	if !ok {
		return types.Draft{}, normError(a.cfg.ID, "unexpected payload %T", raw.Payload)
	}
	content := strings.TrimSpace(flashMarkup.Replace(it.Data.Content))
	if content == "" {
		return types.Draft{}, normError(a.cfg.ID, "empty title")
	}
	if it.ID == "" {
		return types.Draft{}, normError(a.cfg.ID, "flash item has no id")
	}
	var published time.Time
	if t, ok := parseBeijing(it.Time); ok {
		published = FixTimestamp(t, a.now())
	}
	return types.Draft{
		SourceID:       a.cfg.ID,
		URL:            jin10DetailURL + it.ID,
		Title:          truncate(content, maxFlashTitle),
		Body:           content,
		Summary:        truncate(content, maxSummaryRunes),
		PublishedAt:    published,
		SourceCategory: categoryOr(a.cfg.Category, flashCategory),
	}, nil
}

type wallstreetItem struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	ContentText string      `json:"content_text"`
	DisplayTime int64       `json:"display_time"`
	URI         string      `json:"uri"`
}

type wallstreetResponse struct {
	Data struct {
		Items []wallstreetItem `json:"items"`
	} `json:"data"`
}

// WallstreetAdapter reads the wallstreetcn.com live feed.
type WallstreetAdapter struct {
	cfg      SourceConfig
	client   *http.Client
	endpoint string
	now      func() time.Time
}

// NewWallstreetAdapter is the factory for KindWallstreet.
func NewWallstreetAdapter(cfg SourceConfig, env Env) (Adapter, error) {
	env = env.withDefaults()
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = wallstreetEndpoint
	}
	return &WallstreetAdapter{cfg: cfg, client: env.client(cfg), endpoint: endpoint, now: env.Now}, nil
}

func (a *WallstreetAdapter) ID() string { return a.cfg.ID }

func (a *WallstreetAdapter) Fetch(ctx context.Context) ([]types.RawItem, error) {
	var resp wallstreetResponse
	if err := getJSON(ctx, a.client, a.endpoint, map[string]string{"Referer": "https://wallstreetcn.com/"}, &resp); err != nil {
		return nil, &types.FetchError{Source: a.cfg.ID, Err: err}
	}
	items := resp.Data.Items
	if a.cfg.MaxItems > 0 && len(items) > a.cfg.MaxItems {
		items = items[:a.cfg.MaxItems]
	}
	out := make([]types.RawItem, len(items))
	for i := range items {
		out[i] = types.RawItem{SourceID: a.cfg.ID, Payload: items[i]}
	}
	return out, nil
}

func (a *WallstreetAdapter) Normalize(raw types.RawItem) (types.Draft, error) {
	it, ok := raw.Payload.(wallstreetItem)
	if !ok {
		return types.Draft{}, normError(a.cfg.ID, "unexpected payload %T", raw.Payload)
	}
	text := strings.TrimSpace(it.ContentText)
	if text == "" {
		text = strings.TrimSpace(it.Title)
	}
	if text == "" {
		return types.Draft{}, normError(a.cfg.ID, "empty title")
	}
	id := it.ID.String()
	link := strings.TrimSpace(it.URI)
	switch {
	case strings.HasPrefix(link, "http://"), strings.HasPrefix(link, "https://"):
	case link != "":
		link = "https://wallstreetcn.com/" + strings.TrimPrefix(link, "/")
	case id != "":
		link = "https://wallstreetcn.com/livenews/" + id
	default:
		return types.Draft{}, normError(a.cfg.ID, "live item has no id or uri")
	}
	var published time.Time
	if it.DisplayTime > 0 {
		published = FixTimestamp(time.Unix(it.DisplayTime, 0).UTC(), a.now())
	}
	return types.Draft{
		SourceID:       a.cfg.ID,
		URL:            link,
		Title:          truncate(text, maxWallstreetTitle),
		Body:           text,
		Summary:        truncate(text, maxSummaryRunes),
		PublishedAt:    published,
		SourceCategory: categoryOr(a.cfg.Category, flashCategory),
	}, nil
}

func categoryOr(c, def string) string {
	if c != "" {
		return c
	}
	return def
}
