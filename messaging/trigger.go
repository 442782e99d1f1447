package messaging

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// RunTrigger requests an on-demand collection. An empty SourceID means all
// enabled sources.
type RunTrigger struct {
	SourceID    string `json:"source_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// RunFunc starts a collection run. It must not block for the run's duration
// longer than the caller tolerates; the trigger consumer waits for it.
type RunFunc func(ctx context.Context, sourceID string)

// NewTriggerHandler adapts a RunFunc to the consumer loop. Triggers are
// always marked: a failed or coalesced run is not redelivered.
func NewTriggerHandler(run RunFunc, logger *zap.Logger) *TypedMessageHandler[RunTrigger] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypedMessageHandler[RunTrigger]{
		Validate: func(msg *RunTrigger) bool {
			msg.SourceID = strings.TrimSpace(msg.SourceID)
			return !strings.ContainsAny(msg.SourceID, " \t\n")
		},
		Process: func(ctx context.Context, msg *RunTrigger) error {
			logger.Info("run trigger received",
				zap.String("source", msg.SourceID),
				zap.String("requested_by", msg.RequestedBy))
			run(ctx, msg.SourceID)
			return nil
		},
		AlwaysMark: true,
	}
}
