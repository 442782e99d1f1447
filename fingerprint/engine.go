package fingerprint

import (
	"context"
	"time"

	"go.uber.org/zap"

	"finpulse/types"
)

const defaultMaxEmbeddingRunes = 512

// Engine derives the dedup fingerprint of a draft.
type Engine struct {
	provider EmbeddingsProvider
	timeout  time.Duration
	maxRunes int
	logger   *zap.Logger
}

// EngineConfig configures an Engine. A nil Provider disables the semantic
// signal and dedup degrades to URL and content hash only.
type EngineConfig struct {
	Provider          EmbeddingsProvider
	EmbedTimeout      time.Duration
	MaxEmbeddingRunes int
	Logger            *zap.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 15 * time.Second
	}
	if cfg.MaxEmbeddingRunes <= 0 {
		cfg.MaxEmbeddingRunes = defaultMaxEmbeddingRunes
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		provider: cfg.Provider,
		timeout:  cfg.EmbedTimeout,
		maxRunes: cfg.MaxEmbeddingRunes,
		logger:   cfg.Logger,
	}
}

// SemanticEnabled reports whether an embedding provider is configured.
func (e *Engine) SemanticEnabled() bool {
	return e.provider != nil
}

// Compute returns the fingerprint for d. An embedding failure leaves the
// vector empty rather than failing the draft.
func (e *Engine) Compute(ctx context.Context, d types.Draft) types.Fingerprint {
	fp := types.Fingerprint{
		URLKey:      URLKey(d.URL),
		ContentHash: ContentHash(d),
	}
	if e.provider == nil {
		return fp
	}
	input := EmbeddingInput(d, e.maxRunes)
	if input == "" {
		return fp
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	vecs, err := e.provider.EmbedTexts(ctx, []string{input})
	if err != nil {
		e.logger.Warn("embedding failed, semantic dedup skipped for draft",
			zap.String("source", d.SourceID),
			zap.String("url", d.URL),
			zap.String("model", e.provider.ModelName()),
			zap.Error(err))
		return fp
	}
	if len(vecs) == 1 {
		fp.Embedding = vecs[0]
	}
	return fp
}
