// Package events fans pipeline observations out to subscribers. The channel
// is advisory: sends never block and slow subscribers drop events. The run
// manifest, not this feed, is the source of truth.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/model"
)

// defaultBuffer is the per-subscriber channel depth before drops begin.
const defaultBuffer = 256

// Publisher is a lossy fan-out of pipeline events.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[int]chan model.Event
	nextID int
	closed bool

	dropped atomic.Int64
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[int]chan model.Event)}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. The channel is closed on cancel or when the publisher closes.
func (p *Publisher) Subscribe() (<-chan model.Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan model.Event, defaultBuffer)
	if p.closed {
		close(ch)
		return ch, func() {}
	}

	id := p.nextID
	p.nextID++
	p.subs[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
}

// Publish delivers ev to every subscriber without blocking. Events that do
// not fit a subscriber's buffer are dropped.
func (p *Publisher) Publish(ev model.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.dropped.Add(1)
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	if n := p.dropped.Load(); n > 0 {
		zap.L().Debug("events: dropped for slow subscribers", zap.Int64("count", n))
	}
}
