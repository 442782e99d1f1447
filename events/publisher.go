// Package events fans newly accepted articles out to live listeners and
// delivery sinks.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finpulse/types"
)

const DefaultBuffer = 64

// Filter selects which articles a subscription receives.
type Filter func(*types.Article) bool

// Visible skips articles the AI stage marked as filtered.
func Visible(a *types.Article) bool { return !a.IsFiltered }

// Subscription is one listener. Articles arrive on C; when the buffer is
// full the oldest pending article is dropped.
type Subscription struct {
	ID string
	C  <-chan *types.Article

	ch      chan *types.Article
	filter  Filter
	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// Dropped reports how many articles were discarded for this listener.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) deliver(a *types.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- a:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Publisher is an at-most-once broker without replay. Publish never blocks
// on a listener.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	logger *zap.Logger
}

func NewPublisher(buffer int, logger *zap.Logger) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{subs: make(map[string]*Subscription), buffer: buffer, logger: logger}
}

// Subscribe registers a listener. A nil filter receives everything.
func (p *Publisher) Subscribe(filter Filter) *Subscription {
	ch := make(chan *types.Article, p.buffer)
	s := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, filter: filter}
	p.mu.Lock()
	p.subs[s.ID] = s
	p.mu.Unlock()
	p.logger.Debug("listener subscribed", zap.String("subscription", s.ID))
	return s
}

// Unsubscribe removes the listener and closes its channel. Unknown or
// already removed ids are ignored.
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	s, ok := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()
	if ok {
		s.close()
		p.logger.Debug("listener unsubscribed", zap.String("subscription", id), zap.Int64("dropped", s.Dropped()))
	}
}

// Publish hands a copy of a to every current listener whose filter accepts it.
func (p *Publisher) Publish(a *types.Article) {
	if a == nil {
		return
	}
	p.mu.RLock()
	subs := make([]*Subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(a) {
			continue
		}
		s.deliver(a.Clone())
	}
}

// Count returns the number of live listeners.
func (p *Publisher) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Close unsubscribes everyone.
func (p *Publisher) Close() {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[string]*Subscription)
	p.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
