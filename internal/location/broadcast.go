package location

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Broadcaster copies every fix of one subscription to each consumer.
// Each consumer has its own buffer; when it is full the fix is dropped for
// that consumer only.
type Broadcaster struct {
	logger zerolog.Logger

	mu        sync.Mutex
	consumers []*consumer
	running   bool
}

type consumer struct {
	name    string
	ch      chan Fix
	dropped atomic.Int64
}

// NewBroadcaster creates a Broadcaster with no consumers.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{logger: logger}
}

// Add registers a consumer. It must be called before Forward.
func (b *Broadcaster) Add(name string, buffer int) <-chan Fix {
	if buffer <= 0 {
		buffer = 1
	}
	c := &consumer{name: name, ch: make(chan Fix, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		panic("location: Broadcaster.Add called after Forward")
	}
	b.consumers = append(b.consumers, c)
	return c.ch
}

// Forward copies fixes from a subscription the caller already holds, so no
// fix pushed after Subscribe returns is missed. It returns when the
// subscription ends or ctx is done, closing every consumer channel.
func (b *Broadcaster) Forward(ctx context.Context, fixes <-chan Fix) error {
	consumers := b.start()
	defer b.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-fixes:
			if !ok {
				return nil
			}
			for _, c := range consumers {
				select {
				case c.ch <- f:
				default:
					if c.dropped.Add(1) == 1 {
						b.logger.Warn().Str("consumer", c.name).Msg("consumer is falling behind, dropping fixes")
					}
				}
			}
		}
	}
}

func (b *Broadcaster) start() []*consumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	return b.consumers
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.consumers {
		close(c.ch)
	}
}

// Dropped returns how many fixes were dropped for the named consumer.
func (b *Broadcaster) Dropped(name string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.consumers {
		if c.name == name {
			return c.dropped.Load()
		}
	}
	return 0
}
