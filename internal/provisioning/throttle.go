package provisioning

import (
	"context"
	"sync"
)

// Throttle bounds concurrent backend calls per key (the link's backend
// URL). Acquire blocks until a slot frees up or ctx is done; there is no
// queue-jumping and no rejection.
type Throttle struct {
	mu       sync.Mutex
	capacity int
	slots    map[string]chan struct{}
}

func NewThrottle(capacity int) *Throttle {
	if capacity <= 0 {
		capacity = 2
	}
	return &Throttle{
		capacity: capacity,
		slots:    map[string]chan struct{}{},
	}
}

func (t *Throttle) slot(key string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[key]
	if !ok {
		slot = make(chan struct{}, t.capacity)
		t.slots[key] = slot
	}
	return slot
}

// Acquire takes a slot for key. The returned release function must be
// called exactly once.
func (t *Throttle) Acquire(ctx context.Context, key string) (func(), error) {
	slot := t.slot(key)
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
