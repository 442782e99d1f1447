package fingerprint

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// EmbeddingsProvider abstracts a text->embedding generator.
// Implementations return one vector per input text.
type EmbeddingsProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// EmbeddingsConfig selects and configures a provider.
type EmbeddingsConfig struct {
	CohereAPIKey string
	OpenAIAPIKey string
	OpenAIOrgID  string
	// OpenAIBaseURL allows OpenAI-compatible endpoints.
	OpenAIBaseURL string
	Model         string
	Timeout       time.Duration
}

// NewEmbeddingsProvider returns the configured provider, preferring Cohere,
// or nil when no key is set.
func NewEmbeddingsProvider(cfg EmbeddingsConfig) EmbeddingsProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.CohereAPIKey != "" {
		model := cfg.Model
		if model == "" || !strings.HasPrefix(model, "embed-") {
			// multilingual: the feeds mix Chinese and English
			model = "embed-multilingual-v3.0"
		}
		// Force HTTP/1.1; the embed endpoint drops HTTP/2 streams under load.
		httpClient := &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
				ForceAttemptHTTP2: false,
			},
		}
		client := cohereclient.NewClient(
			cohereclient.WithToken(cfg.CohereAPIKey),
			cohereclient.WithHTTPClient(httpClient),
		)
		return &CohereEmbeddings{client: client, model: model}
	}
	if cfg.OpenAIAPIKey != "" {
		model := cfg.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		endpoint := ""
		if cfg.OpenAIBaseURL != "" {
			endpoint = strings.TrimRight(cfg.OpenAIBaseURL, "/") + "/embeddings"
		}
		return &OpenAIEmbeddings{
			apiKey:   cfg.OpenAIAPIKey,
			orgID:    cfg.OpenAIOrgID,
			model:    model,
			endpoint: endpoint,
			client:   &http.Client{Timeout: timeout},
		}
	}
	return nil
}

// CohereEmbeddings implements EmbeddingsProvider using the Cohere Embed API (v2).
type CohereEmbeddings struct {
	client *cohereclient.Client
	model  string
}

func (c *CohereEmbeddings) ModelName() string { return c.model }

func (c *CohereEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := c.client.V2.Embed(
		ctx,
		&cohere.V2EmbedRequest{
			Texts:          texts,
			Model:          c.model,
			InputType:      cohere.EmbedInputTypeSearchDocument,
			EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("cohere embed error: %w", err)
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, errors.New("cohere embed returned no float embeddings")
	}

	floats := resp.Embeddings.Float
	if len(floats) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}
	out := make([][]float32, len(floats))
	for i, vec := range floats {
		out[i] = toFloat32(vec)
	}
	return out, nil
}

// OpenAIEmbeddings implements EmbeddingsProvider using the OpenAI Embeddings API
// or any endpoint speaking the same protocol.
// Request: {"input": ["text1", ...], "model": "text-embedding-3-small"}
// Response: {"data": [{"embedding": [...], "index": 0}, ...]}
type OpenAIEmbeddings struct {
	apiKey   string
	orgID    string
	model    string
	endpoint string
	client   *http.Client
}

func (o *OpenAIEmbeddings) ModelName() string { return o.model }

func (o *OpenAIEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	endpoint := o.endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/embeddings"
	}

	b, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": o.model,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.apiKey))
	if o.orgID != "" {
		req.Header.Set("OpenAI-Organization", o.orgID)
	}

	client := o.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("openai embeddings error: status %d: %v", resp.StatusCode, body)
	}

	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}

	out := make([][]float32, len(texts))
	for i, d := range parsed.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = toFloat32(d.Embedding)
	}
	return out, nil
}

func toFloat32(vec []float64) []float32 {
	fv := make([]float32, len(vec))
	for j, v := range vec {
		fv[j] = float32(v)
	}
	return fv
}
