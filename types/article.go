package types

import (
	"time"
)

// RawItem is a source-specific payload as fetched. Only the adapter that
// produced it knows how to read Payload.
type RawItem struct {
	SourceID string
	Payload  any
}

// Draft is a normalized, not-yet-deduplicated candidate article.
type Draft struct {
	SourceID       string    `json:"source_id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Body           string    `json:"body,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	PublishedAt    time.Time `json:"published_at,omitempty"`
	SourceCategory string    `json:"source_category,omitempty"`
}

// Fingerprint holds the three dedup signals derived from a Draft.
type Fingerprint struct {
	URLKey      string    `json:"url_key"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"-"`
}

// HasEmbedding reports whether a semantic vector is available.
func (f Fingerprint) HasEmbedding() bool {
	return len(f.Embedding) > 0
}

// Article is the durable, deduplicated record.
type Article struct {
	ID             string    `json:"id" bson:"_id"`
	SourceID       string    `json:"source" bson:"source"`
	URL            string    `json:"url" bson:"url"`
	URLKey         string    `json:"url_key" bson:"url_key"`
	ContentHash    string    `json:"content_hash" bson:"content_hash"`
	Title          string    `json:"title" bson:"title"`
	Body           string    `json:"body,omitempty" bson:"body,omitempty"`
	Summary        string    `json:"summary,omitempty" bson:"summary,omitempty"`
	PublishedAt    time.Time `json:"published_at" bson:"published_at"`
	SourceCategory string    `json:"source_category,omitempty" bson:"source_category,omitempty"`
	CollectedAt    time.Time `json:"collected_at" bson:"collected_at"`

	// PublishedTrusted is false when the source gave no usable publishedAt
	// or claimed a future one. Untrusted articles never win canonical ordering.
	PublishedTrusted bool `json:"-" bson:"published_trusted"`

	// AlsoSeenOn lists other sources that reported the same story.
	AlsoSeenOn []string `json:"also_seen_on,omitempty" bson:"also_seen_on,omitempty"`

	AIQualityScore *float64 `json:"ai_quality_score,omitempty" bson:"ai_quality_score,omitempty"`
	AICategory     string   `json:"ai_category,omitempty" bson:"ai_category,omitempty"`
	AIKeywords     []string `json:"ai_keywords,omitempty" bson:"ai_keywords,omitempty"`
	AIProcessed    bool     `json:"ai_processed" bson:"ai_processed"`

	IsRead     bool `json:"is_read" bson:"is_read"`
	IsStarred  bool `json:"is_starred" bson:"is_starred"`
	IsFiltered bool `json:"is_filtered" bson:"is_filtered"`

	// Embedding is index data for semantic lookup, never sent to API consumers.
	Embedding []float32 `json:"-" bson:"embedding,omitempty"`
}

// NewArticle promotes an accepted draft. Missing publishedAt falls back to
// collectedAt; such articles are created untrusted.
func NewArticle(id string, d Draft, fp Fingerprint, collectedAt time.Time, trusted bool) *Article {
	published := d.PublishedAt
	if published.IsZero() {
		published = collectedAt
		trusted = false
	}
	return &Article{
		ID:               id,
		SourceID:         d.SourceID,
		URL:              d.URL,
		URLKey:           fp.URLKey,
		ContentHash:      fp.ContentHash,
		Title:            d.Title,
		Body:             d.Body,
		Summary:          d.Summary,
		PublishedAt:      published,
		SourceCategory:   d.SourceCategory,
		CollectedAt:      collectedAt,
		PublishedTrusted: trusted,
		Embedding:        fp.Embedding,
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (a *Article) Clone() *Article {
	if a == nil {
		return nil
	}
	c := *a
	if a.AlsoSeenOn != nil {
		c.AlsoSeenOn = append([]string(nil), a.AlsoSeenOn...)
	}
	if a.AIKeywords != nil {
		c.AIKeywords = append([]string(nil), a.AIKeywords...)
	}
	if a.Embedding != nil {
		c.Embedding = append([]float32(nil), a.Embedding...)
	}
	if a.AIQualityScore != nil {
		s := *a.AIQualityScore
		c.AIQualityScore = &s
	}
	return &c
}

// ArticleUpdate carries the fields the ingestion core may change on an
// existing Article. Nil fields leave the stored value untouched.
type ArticleUpdate struct {
	Body             *string
	Summary          *string
	ContentHash      *string
	PublishedAt      *time.Time
	PublishedTrusted *bool
	CollectedAt      *time.Time
	AddAlsoSeenOn    []string
	Embedding        []float32

	Enrichment *Enrichment
	// ResetEnrichment clears AI fields so the article is enriched again.
	ResetEnrichment bool
}

// Empty reports whether the update changes nothing.
func (u ArticleUpdate) Empty() bool {
	return u.Body == nil && u.Summary == nil &&
		u.ContentHash == nil && u.PublishedAt == nil && u.PublishedTrusted == nil && u.CollectedAt == nil &&
		len(u.AddAlsoSeenOn) == 0 && u.Embedding == nil && u.Enrichment == nil && !u.ResetEnrichment
}

// Apply mutates a in place.
func (u ArticleUpdate) Apply(a *Article) {
	if u.Body != nil {
		a.Body = *u.Body
	}
	if u.Summary != nil {
		a.Summary = *u.Summary
	}
	if u.ContentHash != nil {
		a.ContentHash = *u.ContentHash
	}
	if u.PublishedAt != nil {
		a.PublishedAt = *u.PublishedAt
	}
	if u.PublishedTrusted != nil {
		a.PublishedTrusted = *u.PublishedTrusted
	}
	if u.CollectedAt != nil {
		a.CollectedAt = *u.CollectedAt
	}
	for _, s := range u.AddAlsoSeenOn {
		a.AlsoSeenOn = appendUnique(a.AlsoSeenOn, s, a.SourceID)
	}
	if u.Embedding != nil {
		a.Embedding = u.Embedding
	}
	if u.ResetEnrichment {
		a.AIQualityScore = nil
		a.AICategory = ""
		a.AIKeywords = nil
		a.AIProcessed = false
		a.IsFiltered = false
	}
	// AI fields are write-once until content changes and resets them.
	if u.Enrichment != nil && !a.AIProcessed {
		score := u.Enrichment.Score
		a.AIQualityScore = &score
		a.AICategory = u.Enrichment.Category
		a.AIKeywords = append([]string(nil), u.Enrichment.Keywords...)
		a.AIProcessed = true
		a.IsFiltered = u.Enrichment.Filtered
	}
}

func appendUnique(list []string, s, owner string) []string {
	if s == "" || s == owner {
		return list
	}
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// Enrichment is the AI stage output attached to an Article.
type Enrichment struct {
	Score    float64  `json:"quality_score"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
	IsSpam   bool     `json:"is_spam"`
	// Filtered is set when Score is below the quality threshold or the item
	// was judged spam.
	Filtered bool `json:"is_filtered"`
}
