package collectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
)

const (
	DefaultExtractWorkers = 5
	extractorTimeout      = 30 * time.Second
)

// extractFunc fetches a page and returns its readable text.
type extractFunc func(ctx context.Context, pageURL string) (string, error)

// Extractor fills missing bodies from the article page using a worker pool.
// Pages are fetched with the source's client so proxy settings apply.
type Extractor struct {
	client  *http.Client
	workers int
	timeout time.Duration
	extract extractFunc
	logger  *zap.Logger
}

func NewExtractor(client *http.Client, workers int, logger *zap.Logger) *Extractor {
	if client == nil {
		client = http.DefaultClient
	}
	if workers <= 0 {
		workers = DefaultExtractWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		client:  client,
		workers: workers,
		timeout: extractorTimeout,
		logger:  logger,
	}
	e.extract = e.readabilityText
	return e
}

func (e *Extractor) readabilityText(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUA)
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("failed to fetch page: status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("readability extraction failed: %w", err)
	}
	return article.TextContent, nil
}

// FillBodies extracts text for items that carry no content. Failures are
// logged and leave the item unchanged.
func (e *Extractor) FillBodies(ctx context.Context, items []*feedItem) {
	var wg sync.WaitGroup
	queue := make(chan *feedItem)

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for it := range queue {
				link := itemLink(it.item)
				text, err := e.extract(ctx, link)
				if err != nil {
					e.logger.Debug("extraction failed",
						zap.Int("worker", workerID), zap.String("url", link), zap.Error(err))
					continue
				}
				it.extracted = strings.TrimSpace(text)
			}
		}(i)
	}

	for _, it := range items {
		if strings.TrimSpace(it.item.Content) != "" || itemLink(it.item) == "" {
			continue
		}
		select {
		case queue <- it:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(queue)
	wg.Wait()
}
