package types

import (
	"errors"
	"fmt"
)

// FetchError is an adapter-level failure. It fails one source, never the run.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizationError drops a single item.
type NormalizationError struct {
	Source string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Source, e.Reason)
}

// DedupIndexError is a failed index lookup or write. The draft is treated as
// novel at the failing stage.
type DedupIndexError struct {
	Op  string
	Err error
}

func (e *DedupIndexError) Error() string {
	return fmt.Sprintf("dedup index %s: %v", e.Op, e.Err)
}

func (e *DedupIndexError) Unwrap() error { return e.Err }

// ErrEnrichmentUnavailable means the scorer is not configured or gave up.
var ErrEnrichmentUnavailable = errors.New("enrichment unavailable")

// EnrichmentTransientError is a timeout or 5xx-equivalent failure that may
// succeed on retry.
type EnrichmentTransientError struct {
	Err error
}

func (e *EnrichmentTransientError) Error() string {
	return fmt.Sprintf("enrichment transient failure: %v", e.Err)
}

func (e *EnrichmentTransientError) Unwrap() error { return e.Err }

// EnrichmentRejectedError is a content-validation rejection from the scorer.
// It is never retried.
type EnrichmentRejectedError struct {
	Reason string
}

func (e *EnrichmentRejectedError) Error() string {
	return fmt.Sprintf("enrichment rejected: %s", e.Reason)
}

// IsTransient reports whether err should be retried once.
func IsTransient(err error) bool {
	var t *EnrichmentTransientError
	return errors.As(err, &t)
}
