package location

import (
	"context"
	"errors"
	"sync"
)

// ErrSourceClosed is returned by Push after Close.
var ErrSourceClosed = errors.New("location source closed")

// PushSource is a Source fed by callers, such as fixes posted to the API.
// Every subscriber receives every fix in push order.
type PushSource struct {
	buffer int

	mu     sync.Mutex
	last   *Fix
	subs   map[int]*subscription
	nextID int
	closed bool
}

type subscription struct {
	ch   chan Fix
	done <-chan struct{}
}

// NewPushSource creates a PushSource whose subscriber channels hold buffer fixes.
func NewPushSource(buffer int) *PushSource {
	if buffer <= 0 {
		buffer = 8
	}
	return &PushSource{buffer: buffer, subs: make(map[int]*subscription)}
}

// Push validates a fix and hands it to every subscriber, waiting while a
// subscriber's buffer is full. It returns ctx.Err() if ctx ends first; the
// fix may then have reached only some subscribers. Concurrent pushes are
// serialized.
func (p *PushSource) Push(ctx context.Context, f Fix) error {
	if err := f.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrSourceClosed
	}
	p.last = &f
	for _, sub := range p.subs {
		select {
		case sub.ch <- f:
		case <-sub.done:
			// The subscriber is going away; its channel is closed once we unlock.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Current returns the last pushed fix.
func (p *PushSource) Current(context.Context) (Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Fix{}, ErrLocationUnavailable
	}
	return *p.last, nil
}

// Subscribe returns a channel of fixes pushed from now on.
func (p *PushSource) Subscribe(ctx context.Context) (<-chan Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrSourceClosed
	}

	id := p.nextID
	p.nextID++
	ch := make(chan Fix, p.buffer)
	p.subs[id] = &subscription{ch: ch, done: ctx.Done()}

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub.ch)
		}
	}()
	return ch, nil
}

// Close closes every subscription. Further pushes fail.
func (p *PushSource) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, sub := range p.subs {
		delete(p.subs, id)
		close(sub.ch)
	}
}
