package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"finpulse/types"
)

// Sink delivers articles to an external system.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a *types.Article) error
}

// SinkRunner drains a subscription into a sink on its own goroutine, so a
// slow sink only ever loses its own oldest pending articles.
type SinkRunner struct {
	pub     *Publisher
	sub     *Subscription
	sink    Sink
	timeout time.Duration
	logger  *zap.Logger
	done    chan struct{}
	once    sync.Once
}

// Attach subscribes sink to pub and starts delivering until Stop.
func Attach(pub *Publisher, sink Sink, timeout time.Duration, logger *zap.Logger) *SinkRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &SinkRunner{
		pub:     pub,
		sub:     pub.Subscribe(nil),
		sink:    sink,
		timeout: timeout,
		logger:  logger.With(zap.String("sink", sink.Name())),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *SinkRunner) loop() {
	defer close(r.done)
	for a := range r.sub.C {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Deliver(ctx, a); err != nil {
			r.logger.Warn("sink delivery failed", zap.String("article_id", a.ID), zap.Error(err))
		}
		cancel()
	}
}

// Stop unsubscribes and waits for the pending delivery to finish.
func (r *SinkRunner) Stop() {
	r.once.Do(func() { r.pub.Unsubscribe(r.sub.ID) })
	<-r.done
}

// KafkaSender is the producer side a KafkaSink needs.
type KafkaSender interface {
	Send(ctx context.Context, key string, value []byte) error
}

// KafkaSink produces accepted articles as JSON keyed by article id.
type KafkaSink struct {
	sender KafkaSender
}

func NewKafkaSink(sender KafkaSender) *KafkaSink { return &KafkaSink{sender: sender} }

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Deliver(ctx context.Context, a *types.Article) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode article %s: %w", a.ID, err)
	}
	return k.sender.Send(ctx, a.ID, b)
}

// ObjectArchiver stores an article document.
type ObjectArchiver interface {
	Put(ctx context.Context, a *types.Article) error
}

// ArchiveSink copies accepted articles to object storage.
type ArchiveSink struct {
	archive ObjectArchiver
}

func NewArchiveSink(archive ObjectArchiver) *ArchiveSink { return &ArchiveSink{archive: archive} }

func (s *ArchiveSink) Name() string { return "s3" }

func (s *ArchiveSink) Deliver(ctx context.Context, a *types.Article) error {
	return s.archive.Put(ctx, a)
}
