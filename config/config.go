// Package config loads process settings from the environment, an optional
// .env file and an optional YAML sources file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"finpulse/collectors"
	"finpulse/deduplication"
	"finpulse/enrichment"
	"finpulse/fingerprint"
	"finpulse/storage"
)

// Config is the full process configuration.
type Config struct {
	LogLevel       string
	LogDevelopment bool
	HTTPAddr       string
	// APISecretKey protects the run trigger endpoint when set.
	APISecretKey string

	SimilarityThreshold float64
	DedupWindow         time.Duration
	DedupBuckets        int

	AIQualityThreshold float64
	AIMaxConcurrency   int
	AI                 enrichment.ChatScorerConfig
	Embeddings         fingerprint.EmbeddingsConfig

	CollectionInterval time.Duration
	CollectorTimeout   time.Duration
	FetchTimeout       time.Duration
	SubscriberBuffer   int
	RetentionDays      int
	RunOnStart         bool

	Proxy collectors.ProxyConfig

	KafkaBrokers      []string
	KafkaArticleTopic string
	KafkaTriggerTopic string
	KafkaGroupID      string

	S3    storage.S3Config
	Redis storage.RedisConfig
	Mongo storage.MongoConfig

	SourcesFile string
	Sources     []collectors.SourceConfig
}

// Capabilities are the optional collaborators resolved once at startup.
type Capabilities struct {
	Embedding bool `json:"embedding"`
	AIScoring bool `json:"ai_scoring"`
	Proxy     bool `json:"proxy"`
	Kafka     bool `json:"kafka"`
	S3        bool `json:"s3"`
	Redis     bool `json:"redis"`
	Mongo     bool `json:"mongo"`
}

// Capabilities reports which optional collaborators are configured.
func (c Config) Capabilities() Capabilities {
	proxy, _ := c.Proxy.Resolve()
	return Capabilities{
		Embedding: c.Embeddings.CohereAPIKey != "" || c.Embeddings.OpenAIAPIKey != "",
		AIScoring: c.AI.APIKey != "",
		Proxy:     proxy != nil,
		Kafka:     len(c.KafkaBrokers) > 0,
		S3:        c.S3.Bucket != "",
		Redis:     c.Redis.Addr != "",
		Mongo:     c.Mongo.URI != "",
	}
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.Getenv)
}

// LoadFrom builds a Config from getenv. Malformed values are errors;
// missing ones take defaults.
func LoadFrom(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	cfg := Config{
		LogLevel:       e.str("LOG_LEVEL", "info"),
		LogDevelopment: e.boolean("LOG_DEVELOPMENT", false),
		HTTPAddr:       e.str("HTTP_ADDR", ":"+e.str("PORT", "8080")),
		APISecretKey:   e.str("API_SECRET_KEY", ""),

		SimilarityThreshold: e.float("DEDUP_SIMILARITY_THRESHOLD", deduplication.DefaultSimilarityThreshold),
		DedupWindow:         e.duration("DEDUP_WINDOW", deduplication.DefaultWindow),
		DedupBuckets:        e.integer("DEDUP_BUCKETS", deduplication.DefaultBuckets),

		AIQualityThreshold: e.float("AI_QUALITY_THRESHOLD", 0.3),
		AIMaxConcurrency:   e.integer("AI_MAX_CONCURRENCY", 4),
		AI: enrichment.ChatScorerConfig{
			APIKey:  e.str("GLM_API_KEY", e.str("AI_API_KEY", "")),
			BaseURL: e.str("AI_BASE_URL", ""),
			Model:   e.str("AI_MODEL", ""),
			Timeout: e.duration("AI_TIMEOUT", 30*time.Second),
		},
		Embeddings: fingerprint.EmbeddingsConfig{
			CohereAPIKey:  e.str("COHERE_API_KEY", ""),
			OpenAIAPIKey:  e.str("OPENAI_API_KEY", ""),
			OpenAIOrgID:   e.str("OPENAI_ORG_ID", ""),
			OpenAIBaseURL: e.str("OPENAI_BASE_URL", ""),
			Model:         e.str("EMBEDDING_MODEL", ""),
			Timeout:       e.duration("EMBED_TIMEOUT", 15*time.Second),
		},

		CollectionInterval: e.duration("COLLECTION_INTERVAL", time.Hour),
		CollectorTimeout:   e.duration("COLLECTOR_TIMEOUT", 30*time.Second),
		FetchTimeout:       e.duration("FETCH_TIMEOUT", 10*time.Second),
		SubscriberBuffer:   e.integer("SUBSCRIBER_BUFFER", 64),
		RetentionDays:      e.integer("NEWS_RETENTION_DAYS", 30),
		RunOnStart:         e.boolean("RUN_ON_START", true),

		Proxy: collectors.ProxyConfig{
			HTTPSProxy:       e.str("HTTPS_PROXY", e.str("https_proxy", "")),
			HTTPProxy:        e.str("HTTP_PROXY", e.str("http_proxy", "")),
			RewriteLocalhost: e.boolean("PROXY_REWRITE_LOCALHOST", false),
		},

		KafkaBrokers:      e.list("KAFKA_BROKERS"),
		KafkaArticleTopic: e.str("KAFKA_ARTICLE_TOPIC", "finpulse.articles"),
		KafkaTriggerTopic: e.str("KAFKA_TRIGGER_TOPIC", "finpulse.collection-triggers"),
		KafkaGroupID:      e.str("KAFKA_GROUP_ID", "finpulse-ingestd"),

		S3: storage.S3Config{
			Region:       e.str("S3_REGION", ""),
			Profile:      e.str("S3_PROFILE", ""),
			Endpoint:     e.str("S3_ENDPOINT", ""),
			UsePathStyle: e.boolean("S3_USE_PATH_STYLE", false),
			Bucket:       e.str("S3_BUCKET", ""),
			Prefix:       e.str("S3_PREFIX", ""),
		},
		Redis: storage.RedisConfig{
			Addr:     e.str("REDIS_ADDR", ""),
			Password: e.str("REDIS_PASSWORD", ""),
			DB:       e.integer("REDIS_DB", 0),
			Prefix:   e.str("REDIS_PREFIX", ""),
		},
		Mongo: storage.MongoConfig{
			URI:        e.str("MONGO_URI", ""),
			Database:   e.str("MONGO_DATABASE", ""),
			Collection: e.str("MONGO_COLLECTION", ""),
			Username:   e.str("MONGO_USERNAME", ""),
			Password:   e.str("MONGO_PASSWORD", ""),
			AuthSource: e.str("MONGO_AUTH_SOURCE", ""),
		},

		SourcesFile: e.str("SOURCES_FILE", ""),
		Sources:     collectors.DefaultSources(),
	}
	cfg.Redis.Window = cfg.DedupWindow

	if len(e.errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(e.errs, "; "))
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.SourcesFile != "" {
		raw, err := os.ReadFile(cfg.SourcesFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read sources file: %w", err)
		}
		sources, err := MergeSources(cfg.Sources, raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Sources = sources
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1:
		return fmt.Errorf("DEDUP_SIMILARITY_THRESHOLD must be in (0,1], got %v", c.SimilarityThreshold)
	case c.AIQualityThreshold < 0 || c.AIQualityThreshold > 1:
		return fmt.Errorf("AI_QUALITY_THRESHOLD must be in [0,1], got %v", c.AIQualityThreshold)
	case c.DedupWindow <= 0:
		return fmt.Errorf("DEDUP_WINDOW must be positive")
	case c.CollectionInterval < time.Second:
		return fmt.Errorf("COLLECTION_INTERVAL must be at least 1s")
	}
	return nil
}

// sourceOverride is one entry of the sources file. Unset fields keep the
// built-in value.
type sourceOverride struct {
	ID             string `yaml:"id"`
	Kind           string `yaml:"kind"`
	URL            string `yaml:"url"`
	Enabled        *bool  `yaml:"enabled"`
	Priority       *int   `yaml:"priority"`
	MaxItems       *int   `yaml:"max_items"`
	RequiresProxy  *bool  `yaml:"requires_proxy"`
	Category       string `yaml:"category"`
	ExtractContent *bool  `yaml:"extract_content"`
}

type sourcesFile struct {
	Sources []sourceOverride `yaml:"sources"`
}

// MergeSources applies a YAML sources document to base. Entries with an
// unknown id add a new source (kind defaults to rss).
func MergeSources(base []collectors.SourceConfig, raw []byte) ([]collectors.SourceConfig, error) {
	var doc sourcesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	out := append([]collectors.SourceConfig(nil), base...)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.ID] = i
	}

	for _, o := range doc.Sources {
		o.ID = strings.TrimSpace(o.ID)
		if o.ID == "" {
			return nil, fmt.Errorf("sources file: entry without id")
		}
		i, ok := index[o.ID]
		if !ok {
			out = append(out, collectors.SourceConfig{ID: o.ID, Kind: collectors.KindRSS, Enabled: true})
			i = len(out) - 1
			index[o.ID] = i
		}
		s := &out[i]
		if o.Kind != "" {
			s.Kind = o.Kind
		}
		if o.URL != "" {
			s.URL = o.URL
		}
		if o.Category != "" {
			s.Category = o.Category
		}
		if o.Enabled != nil {
			s.Enabled = *o.Enabled
		}
		if o.Priority != nil {
			s.Priority = *o.Priority
		}
		if o.MaxItems != nil {
			s.MaxItems = *o.MaxItems
		}
		if o.RequiresProxy != nil {
			s.RequiresProxy = *o.RequiresProxy
		}
		if o.ExtractContent != nil {
			s.ExtractContent = *o.ExtractContent
		}
	}
	return out, nil
}

// env reads typed values and collects parse errors.
type env struct {
	get  func(string) string
	errs []string
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

func (e *env) boolean(key string, def bool) bool {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// duration accepts Go durations ("90s", "1h") or plain seconds.
func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	var out []string
	for _, p := range strings.Split(e.get(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
