package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"finpulse/types"
)

// Categories are the labels the scorer may assign; anything else maps to
// CategoryOther.
var Categories = []string{"宏观经济", "公司财报", "市场动态", "政策法规", "行业分析", CategoryOther}

const CategoryOther = "其他"

// maxPromptBody bounds the article text sent to the scorer.
const maxPromptBody = 500

// Score is the raw scorer verdict before thresholding.
type Score struct {
	QualityScore float64  `json:"quality_score"`
	IsSpam       bool     `json:"is_spam"`
	Category     string   `json:"category"`
	Keywords     []string `json:"keywords"`
}

// Scorer is the external AI scoring capability.
type Scorer interface {
	Score(ctx context.Context, a *types.Article) (Score, error)
}

// ChatScorerConfig configures a scorer speaking the OpenAI chat completions
// protocol (GLM, OpenAI, DeepSeek and similar).
type ChatScorerConfig struct {
	APIKey  string
	BaseURL string // default https://open.bigmodel.cn/api/paas/v4
	Model   string // default glm-4
	Timeout time.Duration
}

// ChatScorer asks a chat model for a JSON verdict.
// Endpoint: POST <base>/chat/completions
type ChatScorer struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

func NewChatScorer(cfg ChatScorerConfig) *ChatScorer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://open.bigmodel.cn/api/paas/v4"
	}
	if cfg.Model == "" {
		cfg.Model = "glm-4"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ChatScorer{
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func buildPrompt(a *types.Article) string {
	content := a.Body
	if strings.TrimSpace(content) == "" {
		content = a.Summary
	}
	if r := []rune(content); len(r) > maxPromptBody {
		content = string(r[:maxPromptBody])
	}
	if strings.TrimSpace(content) == "" {
		content = "无"
	}
	return fmt.Sprintf(`分析以下财经新闻，返回 JSON 格式结果：

标题：%s
内容：%s

请返回：
{
  "quality_score": 0.0-1.0 (新闻质量/重要性评分),
  "is_spam": true/false (是否为广告/软文/无意义内容),
  "category": "%s",
  "keywords": ["关键词1", "关键词2", ...]
}`, a.Title, content, strings.Join(Categories, "/"))
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (s *ChatScorer) Score(ctx context.Context, a *types.Article) (Score, error) {
	b, err := json.Marshal(chatRequest{
		Model:          s.model,
		Messages:       []chatMessage{{Role: "user", Content: buildPrompt(a)}},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return Score{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewBuffer(b))
	if err != nil {
		return Score{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))

	resp, err := s.client.Do(req)
	if err != nil {
		return Score{}, classifyTransport(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Score{}, &types.EnrichmentTransientError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body))}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Score{}, fmt.Errorf("%w: status %d", types.ErrEnrichmentUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Score{}, &types.EnrichmentRejectedError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Score{}, &types.EnrichmentTransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return Score{}, &types.EnrichmentTransientError{Err: errors.New("empty choices")}
	}
	choice := parsed.Choices[0]
	if choice.FinishReason == "sensitive" || choice.FinishReason == "content_filter" {
		return Score{}, &types.EnrichmentRejectedError{Reason: choice.FinishReason}
	}
	return parseVerdict(choice.Message.Content)
}

// parseVerdict decodes the model's JSON, tolerating a fenced code block.
func parseVerdict(content string) (Score, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw struct {
		QualityScore *float64 `json:"quality_score"`
		IsSpam       bool     `json:"is_spam"`
		Category     string   `json:"category"`
		Keywords     []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return Score{}, &types.EnrichmentRejectedError{Reason: fmt.Sprintf("malformed verdict: %v", err)}
	}
	if raw.QualityScore == nil {
		return Score{}, &types.EnrichmentRejectedError{Reason: "verdict missing quality_score"}
	}
	return Score{
		QualityScore: *raw.QualityScore,
		IsSpam:       raw.IsSpam,
		Category:     raw.Category,
		Keywords:     raw.Keywords,
	}, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", types.ErrEnrichmentUnavailable, err)
	}
	// timeouts, resets and DNS failures get the single retry
	return &types.EnrichmentTransientError{Err: err}
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
