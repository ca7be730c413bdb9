package call

import "sync"

// inbox is an unbounded queue of local events. Pushing never blocks, so
// peer callbacks can post from any goroutine while the loop is busy.
type inbox struct {
	mu    sync.Mutex
	items []event
	ready chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (b *inbox) push(e event) {
	b.mu.Lock()
	b.items = append(b.items, e)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// drain returns queued events in arrival order.
func (b *inbox) drain() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}
