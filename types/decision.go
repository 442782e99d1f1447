package types

// Outcome is the terminal state of a dedup decision.
type Outcome string

const (
	OutcomeAccepted       Outcome = "ACCEPTED"
	OutcomeMergedURL      Outcome = "MERGED_URL"
	OutcomeMergedContent  Outcome = "MERGED_CONTENT"
	OutcomeMergedSemantic Outcome = "MERGED_SEMANTIC"
)

// Merged reports whether the draft collapsed into an existing Article.
func (o Outcome) Merged() bool {
	return o != OutcomeAccepted
}

// Decision is the result of running one Draft through the dedup engine.
type Decision struct {
	Outcome Outcome
	// ArticleID is the id of the created or merged-into Article.
	ArticleID string
	// Article is the created Article for OutcomeAccepted, or the updated
	// canonical Article when a merge changed its content.
	Article *Article
	// Similarity is set for semantic merges.
	Similarity float64
	// ContentChanged is set when a merge rewrote body or summary, which
	// makes the canonical Article eligible for re-enrichment.
	ContentChanged bool
	// Degraded is set when an index lookup failed and the draft was treated
	// as novel at that stage.
	Degraded bool
}
