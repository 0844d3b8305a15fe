package tasks

import (
	"sync"
	"sync/atomic"

	"github.com/desertthunder/songroom/internal/models"
)

// Publisher exposes the latest [models.PlaybackView] to viewers.
type Publisher struct {
	latest atomic.Pointer[models.PlaybackView]
	mu     sync.Mutex
	subs   map[<-chan struct{}]chan struct{}
}

// NewPublisher creates a publisher holding an empty view.
func NewPublisher() *Publisher {
	p := &Publisher{subs: make(map[<-chan struct{}]chan struct{})}
	p.latest.Store(models.EmptyView())
	return p
}

// Latest returns the most recently published view. It never blocks on writers.
func (p *Publisher) Latest() *models.PlaybackView {
	return p.latest.Load()
}

// Publish replaces the latest view unless v is not newer than it.
func (p *Publisher) Publish(v *models.PlaybackView) bool {
	for {
		cur := p.latest.Load()
		if v.Sequence <= cur.Sequence {
			return false
		}
		if p.latest.CompareAndSwap(cur, v) {
			break
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return true
}

// Subscribe returns a channel signalled after each publish. Signals coalesce: a slow
// reader sees one pending signal and should read [Publisher.Latest].
func (p *Publisher) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[ch] = ch
	return ch
}

// Unsubscribe stops signals to ch.
func (p *Publisher) Unsubscribe(ch <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, ch)
}

// Subscribers returns the number of active subscriptions.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
